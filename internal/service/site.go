package service

import (
	"context"
	"time"

	"github.com/thanhtunguet/xenforo-media-crawler/internal/domain"
)

// SyncSite runs a full crawl of one site: the forum index, then every
// forum's thread listing, then every thread's posts. Threads and posts are
// walked strictly sequentially; the only concurrency a deployment gets is
// running SyncSite for different sites in separate invocations.
func (s *SyncService) SyncSite(ctx context.Context, siteID domain.LocalID) (*domain.SyncStats, error) {
	start := time.Now()

	total := &domain.SyncStats{SiteID: siteID}

	forumStats, err := s.SyncForums(ctx, siteID, nil)
	if err != nil {
		return nil, err
	}
	accumulate(total, forumStats)

	forums, err := s.forums.ListBySite(ctx, siteID)
	if err != nil {
		return total, err
	}

	for _, forum := range forums {
		threadStats, err := s.SyncThreads(ctx, forum.ID, nil)
		if err != nil {
			return total, err
		}
		accumulate(total, threadStats)

		threads, err := s.threads.ListByForum(ctx, forum.ID)
		if err != nil {
			return total, err
		}

		for _, thread := range threads {
			_, postStats, err := s.SyncPosts(ctx, thread.ID, nil)
			if err != nil {
				return total, err
			}
			accumulate(total, postStats)
		}
	}

	total.Duration = time.Since(start)
	s.logger.Info("site sync completed",
		"site_id", siteID,
		"forums", total.Forums,
		"threads", total.Threads,
		"posts", total.Posts,
		"media", total.Media,
		"duration", total.Duration,
	)

	return total, nil
}

func accumulate(total, part *domain.SyncStats) {
	total.Pages += part.Pages
	total.Forums += part.Forums
	total.Threads += part.Threads
	total.Posts += part.Posts
	total.Media += part.Media
	total.New += part.New
	total.Updated += part.Updated
}
