package service

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/thanhtunguet/xenforo-media-crawler/internal/config"
	"github.com/thanhtunguet/xenforo-media-crawler/internal/domain"
)

// DownloadOptions configures a single download run.
type DownloadOptions struct {
	// Type filters the media set; zero means all types. Link rows are never
	// downloaded regardless of the filter.
	Type domain.MediaType
	// Cookies, when non-empty, is sent as the Cookie header instead of the
	// session cookies.
	Cookies  string
	Progress domain.ProgressFunc
}

// DownloadService streams pending media to disk. URLs are deduplicated
// across the whole filtered set, so rows in different posts that share a URL
// are fetched once and updated together. Failures are per-URL and counted,
// never fatal; only a missing thread aborts the run.
type DownloadService struct {
	fetcher   MediaFetcher
	threads   ThreadStore
	media     MediaStore
	publisher Publisher
	logger    *slog.Logger
	cfg       config.DownloadConfig
}

func NewDownloadService(
	fetcher MediaFetcher,
	threads ThreadStore,
	media MediaStore,
	publisher Publisher,
	logger *slog.Logger,
	cfg config.DownloadConfig,
) *DownloadService {
	return &DownloadService{
		fetcher:   fetcher,
		threads:   threads,
		media:     media,
		publisher: publisher,
		logger:    logger.With("component", "download"),
		cfg:       cfg,
	}
}

// DownloadThreadMedia downloads every pending media URL of a thread.
func (s *DownloadService) DownloadThreadMedia(ctx context.Context, threadID domain.LocalID, opts DownloadOptions) (*domain.DownloadStats, error) {
	start := time.Now()

	thread, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		return nil, err
	}

	rows, err := s.media.ListByThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("list thread media: %w", err)
	}

	order, groups := groupByURL(filterMedia(rows, opts.Type))

	threadDir := filepath.Join(s.cfg.Dir, "thread-"+string(thread.OriginalID))
	if err := os.MkdirAll(threadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}

	stats := &domain.DownloadStats{Total: len(order)}
	taken := make(map[string]bool, len(order))

	for i, mediaURL := range order {
		group := groups[mediaURL]
		filename := uniqueFilename(taken, mediaURL, group)

		switch s.downloadOne(ctx, threadID, threadDir, mediaURL, filename, group, opts.Cookies) {
		case outcomeDownloaded:
			stats.Downloaded++
			if err := sleep(ctx, s.successDelay()); err != nil {
				return stats, err
			}
		case outcomeSkipped:
			stats.Skipped++
		case outcomeFailed:
			stats.Failed++
		}

		report(opts.Progress, domain.Progress{Processed: i + 1, Total: len(order), Step: "download"})
	}

	stats.Duration = time.Since(start)
	s.logger.Info("download completed",
		"thread_id", threadID,
		"total", stats.Total,
		"downloaded", stats.Downloaded,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"duration", stats.Duration,
	)

	if s.publisher != nil {
		event := &domain.SyncEvent{Operation: "download_media", ThreadID: &threadID, Download: stats}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("publish download event failed", "error", err)
		}
	}

	return stats, nil
}

type outcome int

const (
	outcomeDownloaded outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (s *DownloadService) downloadOne(ctx context.Context, threadID domain.LocalID, threadDir, mediaURL, filename string, group []domain.Media, cookies string) outcome {
	// Already downloaded and still on disk: skip. Downloaded but missing:
	// reset the rows and re-download in this same run.
	if localPath, downloaded := downloadedPath(group); downloaded {
		if _, err := os.Stat(localPath); err == nil {
			return outcomeSkipped
		}
		s.logger.Warn("downloaded file missing on disk, re-downloading", "url", mediaURL, "path", localPath)
		if err := s.media.UpdateDownloadStatus(ctx, threadID, mediaURL, false, nil, nil); err != nil {
			s.logger.Warn("reset download status failed", "url", mediaURL, "error", err)
			return outcomeFailed
		}
	}

	resp, err := s.fetcher.StreamMedia(ctx, mediaURL, cookies)
	if err != nil {
		s.logger.Warn("media fetch failed", "url", mediaURL, "error", err)
		s.markFailed(ctx, threadID, mediaURL)
		return outcomeFailed
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		s.markFailed(ctx, threadID, mediaURL)
		wait := s.retryAfter(resp)
		s.logger.Warn("rate limited, pausing", "url", mediaURL, "wait", wait)
		_ = sleep(ctx, wait)
		return outcomeFailed
	}

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("media fetch returned non-200", "url", mediaURL, "status", resp.StatusCode)
		s.markFailed(ctx, threadID, mediaURL)
		return outcomeFailed
	}

	mimeType := responseMime(resp)
	if !validMediaMime(mimeType) {
		s.logger.Warn("rejected media content type", "url", mediaURL, "content_type", mimeType)
		s.markFailed(ctx, threadID, mediaURL)
		return outcomeFailed
	}

	localPath := filepath.Join(threadDir, filename)

	written, err := writeFile(localPath, resp.Body)
	if err != nil {
		s.logger.Warn("write media file failed", "url", mediaURL, "error", err)
		s.markFailed(ctx, threadID, mediaURL)
		return outcomeFailed
	}
	if written == 0 {
		_ = os.Remove(localPath)
		s.logger.Warn("downloaded file is empty", "url", mediaURL)
		s.markFailed(ctx, threadID, mediaURL)
		return outcomeFailed
	}

	s.downloadThumbnail(ctx, threadDir, mediaURL, group, cookies)

	if err := s.media.UpdateDownloadStatus(ctx, threadID, mediaURL, true, &localPath, &mimeType); err != nil {
		s.logger.Warn("update download status failed", "url", mediaURL, "error", err)
		return outcomeFailed
	}

	return outcomeDownloaded
}

// downloadThumbnail is best-effort: any failure is logged and never affects
// the main download's outcome.
func (s *DownloadService) downloadThumbnail(ctx context.Context, threadDir, mediaURL string, group []domain.Media, cookies string) {
	var thumbURL string
	for _, m := range group {
		if m.ThumbnailURL != nil && *m.ThumbnailURL != "" && *m.ThumbnailURL != mediaURL {
			thumbURL = *m.ThumbnailURL
			break
		}
	}
	if thumbURL == "" {
		return
	}

	resp, err := s.fetcher.StreamMedia(ctx, thumbURL, cookies)
	if err != nil {
		s.logger.Debug("thumbnail fetch failed", "url", thumbURL, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Debug("thumbnail fetch returned non-200", "url", thumbURL, "status", resp.StatusCode)
		return
	}

	thumbDir := filepath.Join(threadDir, "thumbnails", "source")
	if err := os.MkdirAll(thumbDir, 0o755); err != nil {
		s.logger.Debug("create thumbnail directory failed", "error", err)
		return
	}

	thumbPath := filepath.Join(thumbDir, urlFilename(thumbURL))
	if _, err := writeFile(thumbPath, resp.Body); err != nil {
		s.logger.Debug("write thumbnail failed", "url", thumbURL, "error", err)
	}
}

func (s *DownloadService) markFailed(ctx context.Context, threadID domain.LocalID, mediaURL string) {
	if err := s.media.UpdateDownloadStatus(ctx, threadID, mediaURL, false, nil, nil); err != nil {
		s.logger.Warn("mark media failed errored", "url", mediaURL, "error", err)
	}
}

func (s *DownloadService) retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return s.cfg.RateLimitWait
}

func (s *DownloadService) successDelay() time.Duration {
	if s.cfg.MaxDelay <= s.cfg.MinDelay {
		return s.cfg.MinDelay
	}
	return s.cfg.MinDelay + time.Duration(rand.Int63n(int64(s.cfg.MaxDelay-s.cfg.MinDelay)))
}

// filterMedia applies the type filter and always drops link rows, which
// reference external non-media targets.
func filterMedia(rows []domain.Media, typeFilter domain.MediaType) []domain.Media {
	var filtered []domain.Media
	for _, m := range rows {
		if m.Type == domain.MediaTypeLink {
			continue
		}
		if typeFilter != 0 && m.Type != typeFilter {
			continue
		}
		filtered = append(filtered, m)
	}
	return filtered
}

// groupByURL deduplicates rows by URL across the whole set, preserving
// first-seen order.
func groupByURL(rows []domain.Media) ([]string, map[string][]domain.Media) {
	var order []string
	groups := make(map[string][]domain.Media)
	for _, m := range rows {
		if _, seen := groups[m.URL]; !seen {
			order = append(order, m.URL)
		}
		groups[m.URL] = append(groups[m.URL], m)
	}
	return order, groups
}

func downloadedPath(group []domain.Media) (string, bool) {
	for _, m := range group {
		if m.IsDownloaded && m.LocalPath != nil && *m.LocalPath != "" {
			return *m.LocalPath, true
		}
	}
	return "", false
}

// uniqueFilename resolves the on-disk name for a URL group. Distinct URLs
// in the same run that share a base name would overwrite each other, so
// later claimants get a URL-hash prefix.
func uniqueFilename(taken map[string]bool, mediaURL string, group []domain.Media) string {
	name := mediaFilename(mediaURL, group)
	if taken[name] {
		name = fmt.Sprintf("%08x-%s", crc32.ChecksumIEEE([]byte(mediaURL)), name)
	}
	taken[name] = true
	return name
}

func mediaFilename(mediaURL string, group []domain.Media) string {
	for _, m := range group {
		if m.Filename != nil && *m.Filename != "" {
			return sanitizeFilename(*m.Filename)
		}
	}
	return urlFilename(mediaURL)
}

func urlFilename(rawURL string) string {
	name := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		name = path.Base(u.Path)
	}
	if name == "" || name == "." || name == "/" {
		name = "media"
	}
	return sanitizeFilename(name)
}

func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}

func responseMime(resp *http.Response) string {
	ct := resp.Header.Get("Content-Type")
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

func validMediaMime(mime string) bool {
	return strings.HasPrefix(mime, "image/") ||
		strings.HasPrefix(mime, "video/") ||
		strings.HasPrefix(mime, "audio/")
}

func writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(f, r)
	closeErr := f.Close()
	if err != nil {
		return written, err
	}
	return written, closeErr
}
