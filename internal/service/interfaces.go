package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"net/http"
	"time"

	"github.com/thanhtunguet/xenforo-media-crawler/internal/domain"
	"github.com/thanhtunguet/xenforo-media-crawler/internal/xenforo"
)

type SiteStore interface {
	GetByID(ctx context.Context, id domain.LocalID) (*domain.Site, error)
}

type ForumStore interface {
	Upsert(ctx context.Context, forum *domain.Forum) (domain.LocalID, error)
	GetByID(ctx context.Context, id domain.LocalID) (*domain.Forum, error)
	GetByNaturalKey(ctx context.Context, siteID domain.LocalID, originalID domain.RemoteID) (*domain.Forum, error)
	ListBySite(ctx context.Context, siteID domain.LocalID) ([]domain.Forum, error)
}

type ThreadStore interface {
	Upsert(ctx context.Context, thread *domain.Thread) (domain.LocalID, error)
	GetByID(ctx context.Context, id domain.LocalID) (*domain.Thread, error)
	GetByNaturalKey(ctx context.Context, forumID domain.LocalID, originalID domain.RemoteID) (*domain.Thread, error)
	ListByForum(ctx context.Context, forumID domain.LocalID) ([]domain.Thread, error)
	TouchLastSync(ctx context.Context, id domain.LocalID, at time.Time) error
}

type PostStore interface {
	Upsert(ctx context.Context, post *domain.Post) (domain.LocalID, error)
	GetByNaturalKey(ctx context.Context, threadID domain.LocalID, originalID domain.RemoteID) (*domain.Post, error)
}

type MediaStore interface {
	Upsert(ctx context.Context, media *domain.Media) (domain.LocalID, error)
	ListByThread(ctx context.Context, threadID domain.LocalID) ([]domain.Media, error)
	UpdateDownloadStatus(ctx context.Context, threadID domain.LocalID, url string, downloaded bool, localPath, mimeType *string) error
}

// Crawler fetches and extracts listing pages. Implementations take remote
// ids only; surrogate ids never cross this boundary.
type Crawler interface {
	FetchForums(ctx context.Context, page int) ([]xenforo.Forum, int, error)
	FetchThreads(ctx context.Context, forumID domain.RemoteID, page int) ([]xenforo.Thread, int, error)
	FetchPosts(ctx context.Context, threadID domain.RemoteID, page int) ([]xenforo.Post, int, error)
}

// MediaFetcher opens streaming responses for media URLs. cookieHeader, when
// non-empty, replaces the session cookies.
type MediaFetcher interface {
	StreamMedia(ctx context.Context, url, cookieHeader string) (*http.Response, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, event *domain.SyncEvent) error
	Close() error
}
