package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/thanhtunguet/xenforo-media-crawler/internal/domain"
	"github.com/thanhtunguet/xenforo-media-crawler/internal/xenforo"
)

// SyncService crawls listing pages and reconciles the extracted records
// against the store. Reconciliation is per record: each one is looked up by
// its natural key and either updated in place or inserted, so surrogate ids
// survive re-scrapes. Page loops are strictly sequential with a small delay
// between fetches.
type SyncService struct {
	crawler   Crawler
	sites     SiteStore
	forums    ForumStore
	threads   ThreadStore
	posts     PostStore
	media     MediaStore
	txManager TransactionManager
	publisher Publisher
	logger    *slog.Logger
	pageDelay time.Duration
}

func NewSyncService(
	crawler Crawler,
	sites SiteStore,
	forums ForumStore,
	threads ThreadStore,
	posts PostStore,
	media MediaStore,
	txManager TransactionManager,
	publisher Publisher,
	logger *slog.Logger,
	pageDelay time.Duration,
) *SyncService {
	return &SyncService{
		crawler:   crawler,
		sites:     sites,
		forums:    forums,
		threads:   threads,
		posts:     posts,
		media:     media,
		txManager: txManager,
		publisher: publisher,
		logger:    logger.With("component", "sync"),
		pageDelay: pageDelay,
	}
}

// SyncForums crawls every page of the site's forum index and reconciles
// each extracted forum on (site_id, original_id).
func (s *SyncService) SyncForums(ctx context.Context, siteID domain.LocalID, progress domain.ProgressFunc) (*domain.SyncStats, error) {
	start := time.Now()

	site, err := s.sites.GetByID(ctx, siteID)
	if err != nil {
		return nil, err
	}

	stats := &domain.SyncStats{SiteID: siteID}
	lastPage := 1

	for page := 1; page <= lastPage; page++ {
		extracted, pages, err := s.crawler.FetchForums(ctx, page)
		if err != nil {
			return stats, fmt.Errorf("fetch forum index page %d: %w", page, err)
		}
		if page == 1 && pages > 0 {
			lastPage = pages
		}
		stats.Pages++

		for _, f := range extracted {
			forum := &domain.Forum{
				SiteID:      siteID,
				OriginalID:  f.OriginalID,
				Name:        f.Name,
				OriginalURL: absolutize(site.URL, f.URL),
			}

			isNew, err := s.upsertForum(ctx, forum)
			if err != nil {
				return stats, fmt.Errorf("reconcile forum %s: %w", f.OriginalID, err)
			}

			stats.Forums++
			if isNew {
				stats.New++
			} else {
				stats.Updated++
			}
		}

		report(progress, domain.Progress{Processed: page, Total: lastPage, Step: "forums"})

		if page < lastPage {
			if err := sleep(ctx, s.pageDelay); err != nil {
				return stats, err
			}
		}
	}

	stats.Duration = time.Since(start)
	s.logger.Info("forum sync completed",
		"site_id", siteID,
		"pages", stats.Pages,
		"forums", stats.Forums,
		"new", stats.New,
		"updated", stats.Updated,
		"duration", stats.Duration,
	)

	s.publish(ctx, &domain.SyncEvent{Operation: "sync_forums", SiteID: siteID, Sync: stats})
	return stats, nil
}

// SyncThreads crawls every page of a forum's thread listing and reconciles
// each thread on (forum_id, original_id). The forum's remote id drives the
// URLs; its local id is what child rows foreign-key to.
func (s *SyncService) SyncThreads(ctx context.Context, forumID domain.LocalID, progress domain.ProgressFunc) (*domain.SyncStats, error) {
	start := time.Now()

	forum, err := s.forums.GetByID(ctx, forumID)
	if err != nil {
		return nil, err
	}

	stats := &domain.SyncStats{SiteID: forum.SiteID}
	lastPage := 1

	for page := 1; page <= lastPage; page++ {
		extracted, pages, err := s.crawler.FetchThreads(ctx, forum.OriginalID, page)
		if err != nil {
			return stats, fmt.Errorf("fetch forum %s page %d: %w", forum.OriginalID, page, err)
		}
		if page == 1 && pages > 0 {
			lastPage = pages
		}
		stats.Pages++

		for _, t := range extracted {
			thread := &domain.Thread{
				ForumID:     forumID,
				OriginalID:  t.OriginalID,
				Name:        t.Name,
				OriginalURL: absolutize(forum.OriginalURL, t.URL),
			}

			isNew, err := s.upsertThread(ctx, thread)
			if err != nil {
				return stats, fmt.Errorf("reconcile thread %s: %w", t.OriginalID, err)
			}

			stats.Threads++
			if isNew {
				stats.New++
			} else {
				stats.Updated++
			}
		}

		report(progress, domain.Progress{Processed: page, Total: lastPage, Step: "threads"})

		if page < lastPage {
			if err := sleep(ctx, s.pageDelay); err != nil {
				return stats, err
			}
		}
	}

	stats.Duration = time.Since(start)
	s.logger.Info("thread sync completed",
		"forum_id", forumID,
		"pages", stats.Pages,
		"threads", stats.Threads,
		"new", stats.New,
		"updated", stats.Updated,
		"duration", stats.Duration,
	)

	s.publish(ctx, &domain.SyncEvent{Operation: "sync_threads", SiteID: forum.SiteID, Sync: stats})
	return stats, nil
}

// SyncPosts crawls every page of a thread and reconciles each post together
// with its media set before moving to the next post. It returns the
// materialized posts with their assigned ids alongside the stats.
func (s *SyncService) SyncPosts(ctx context.Context, threadID domain.LocalID, progress domain.ProgressFunc) ([]domain.Post, *domain.SyncStats, error) {
	start := time.Now()

	thread, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		return nil, nil, err
	}

	stats := &domain.SyncStats{}
	var materialized []domain.Post
	lastPage := 1

	for page := 1; page <= lastPage; page++ {
		extracted, pages, err := s.crawler.FetchPosts(ctx, thread.OriginalID, page)
		if err != nil {
			return materialized, stats, fmt.Errorf("fetch thread %s page %d: %w", thread.OriginalID, page, err)
		}
		if page == 1 && pages > 0 {
			lastPage = pages
		}
		stats.Pages++

		for _, p := range extracted {
			saved, isNew, err := s.reconcilePost(ctx, threadID, p)
			if err != nil {
				return materialized, stats, fmt.Errorf("reconcile post %s: %w", p.OriginalID, err)
			}

			materialized = append(materialized, *saved)
			stats.Posts++
			stats.Media += len(saved.Media)
			if isNew {
				stats.New++
			} else {
				stats.Updated++
			}
		}

		report(progress, domain.Progress{Processed: page, Total: lastPage, Step: "posts"})

		if page < lastPage {
			if err := sleep(ctx, s.pageDelay); err != nil {
				return materialized, stats, err
			}
		}
	}

	if err := s.threads.TouchLastSync(ctx, threadID, time.Now().UTC()); err != nil {
		return materialized, stats, fmt.Errorf("update thread sync time: %w", err)
	}

	stats.Duration = time.Since(start)
	s.logger.Info("post sync completed",
		"thread_id", threadID,
		"pages", stats.Pages,
		"posts", stats.Posts,
		"media", stats.Media,
		"new", stats.New,
		"updated", stats.Updated,
		"duration", stats.Duration,
	)

	s.publish(ctx, &domain.SyncEvent{Operation: "sync_posts", ThreadID: &threadID, Sync: stats})
	return materialized, stats, nil
}

func (s *SyncService) upsertForum(ctx context.Context, forum *domain.Forum) (bool, error) {
	existing, err := s.forums.GetByNaturalKey(ctx, forum.SiteID, forum.OriginalID)
	if err != nil {
		return false, err
	}

	id, err := s.forums.Upsert(ctx, forum)
	if err != nil {
		return false, err
	}
	forum.ID = id

	return existing == nil, nil
}

func (s *SyncService) upsertThread(ctx context.Context, thread *domain.Thread) (bool, error) {
	existing, err := s.threads.GetByNaturalKey(ctx, thread.ForumID, thread.OriginalID)
	if err != nil {
		return false, err
	}

	id, err := s.threads.Upsert(ctx, thread)
	if err != nil {
		return false, err
	}
	thread.ID = id

	return existing == nil, nil
}

// reconcilePost upserts one post and its full media set in a single
// transaction. Media dedup happens on (post_id, url), so a URL repeated
// within the post collapses to one row.
func (s *SyncService) reconcilePost(ctx context.Context, threadID domain.LocalID, p xenforo.Post) (*domain.Post, bool, error) {
	existing, err := s.posts.GetByNaturalKey(ctx, threadID, p.OriginalID)
	if err != nil {
		return nil, false, err
	}
	isNew := existing == nil

	post := &domain.Post{
		ThreadID:   threadID,
		OriginalID: p.OriginalID,
		Username:   p.Username,
		UserID:     p.UserID,
		Content:    p.Content,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  time.Now().UTC(),
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		postID, err := s.posts.Upsert(txCtx, post)
		if err != nil {
			return fmt.Errorf("upsert post: %w", err)
		}
		post.ID = postID

		for _, m := range p.Media {
			row := &domain.Media{
				PostID:       postID,
				Type:         m.Type,
				OriginalID:   m.OriginalID,
				URL:          m.URL,
				ThumbnailURL: m.ThumbnailURL,
				Filename:     m.Filename,
			}
			mediaID, err := s.media.Upsert(txCtx, row)
			if err != nil {
				return fmt.Errorf("upsert media %s: %w", m.URL, err)
			}
			row.ID = mediaID
			post.Media = append(post.Media, *row)
		}

		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return post, isNew, nil
}

func (s *SyncService) publish(ctx context.Context, event *domain.SyncEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish sync event failed", "operation", event.Operation, "error", err)
	}
}

func report(progress domain.ProgressFunc, p domain.Progress) {
	if progress != nil {
		progress(p)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// absolutize resolves href against base when href is relative.
func absolutize(base, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	h, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}
