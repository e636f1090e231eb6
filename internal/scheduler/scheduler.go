package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/thanhtunguet/xenforo-media-crawler/internal/domain"
)

// SiteSyncer runs a full crawl of one site.
type SiteSyncer interface {
	SyncSite(ctx context.Context, siteID domain.LocalID) (*domain.SyncStats, error)
}

// Scheduler re-runs a site sync on a fixed interval until the context is
// cancelled.
type Scheduler struct {
	syncer   SiteSyncer
	siteID   domain.LocalID
	interval time.Duration
	logger   *slog.Logger
}

func NewScheduler(syncer SiteSyncer, siteID domain.LocalID, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		syncer:   syncer,
		siteID:   siteID,
		interval: interval,
		logger:   logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "site_id", s.siteID, "interval", s.interval)

	s.runSync(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runSync(ctx)
		}
	}
}

func (s *Scheduler) runSync(ctx context.Context) {
	if _, err := s.syncer.SyncSite(ctx, s.siteID); err != nil {
		s.logger.Error("site sync failed", "site_id", s.siteID, "error", err)
	}
}
