package service

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/thanhtunguet/xenforo-media-crawler/internal/domain"
	"github.com/thanhtunguet/xenforo-media-crawler/internal/service/mocks"
	"github.com/thanhtunguet/xenforo-media-crawler/internal/xenforo"
)

type SyncServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	crawler   *mocks.MockCrawler
	sites     *mocks.MockSiteStore
	forums    *mocks.MockForumStore
	threads   *mocks.MockThreadStore
	posts     *mocks.MockPostStore
	media     *mocks.MockMediaStore
	txManager *mocks.MockTransactionManager
	publisher *mocks.MockPublisher

	service *SyncService
	logger  *slog.Logger
}

func (s *SyncServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.crawler = mocks.NewMockCrawler(s.ctrl)
	s.sites = mocks.NewMockSiteStore(s.ctrl)
	s.forums = mocks.NewMockForumStore(s.ctrl)
	s.threads = mocks.NewMockThreadStore(s.ctrl)
	s.posts = mocks.NewMockPostStore(s.ctrl)
	s.media = mocks.NewMockMediaStore(s.ctrl)
	s.txManager = mocks.NewMockTransactionManager(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)

	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.service = NewSyncService(
		s.crawler,
		s.sites,
		s.forums,
		s.threads,
		s.posts,
		s.media,
		s.txManager,
		s.publisher,
		s.logger,
		0,
	)
}

func (s *SyncServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestSyncServiceTestSuite(t *testing.T) {
	suite.Run(t, new(SyncServiceTestSuite))
}

func (s *SyncServiceTestSuite) expectTransaction(ctx context.Context) {
	s.txManager.EXPECT().WithTransaction(ctx, gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	)
}

func (s *SyncServiceTestSuite) TestSyncForums_NewForum() {
	ctx := context.Background()
	siteID := domain.LocalID(1)

	s.sites.EXPECT().GetByID(ctx, siteID).Return(&domain.Site{ID: siteID, URL: "https://forum.example.com"}, nil)

	s.crawler.EXPECT().FetchForums(ctx, 1).Return([]xenforo.Forum{
		{OriginalID: "12", Name: "General", URL: "/forums/general.12/"},
	}, 1, nil)

	expected := &domain.Forum{
		SiteID:      siteID,
		OriginalID:  "12",
		Name:        "General",
		OriginalURL: "https://forum.example.com/forums/general.12/",
	}
	s.forums.EXPECT().GetByNaturalKey(ctx, siteID, domain.RemoteID("12")).Return(nil, nil)
	s.forums.EXPECT().Upsert(ctx, expected).Return(domain.LocalID(100), nil)

	var published *domain.SyncEvent
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).DoAndReturn(
		func(ctx context.Context, event *domain.SyncEvent) error {
			published = event
			return nil
		},
	)

	var progress []domain.Progress
	stats, err := s.service.SyncForums(ctx, siteID, func(p domain.Progress) {
		progress = append(progress, p)
	})

	s.NoError(err)
	s.Equal(1, stats.Forums)
	s.Equal(1, stats.New)
	s.Equal(0, stats.Updated)
	s.Equal([]domain.Progress{{Processed: 1, Total: 1, Step: "forums"}}, progress)

	s.Require().NotNil(published)
	s.Equal("sync_forums", published.Operation)
	s.Equal(siteID, published.SiteID)
}

func (s *SyncServiceTestSuite) TestSyncForums_ExistingForumKeepsSurrogateID() {
	ctx := context.Background()
	siteID := domain.LocalID(1)

	s.sites.EXPECT().GetByID(ctx, siteID).Return(&domain.Site{ID: siteID, URL: "https://forum.example.com"}, nil)

	s.crawler.EXPECT().FetchForums(ctx, 1).Return([]xenforo.Forum{
		{OriginalID: "12", Name: "General (renamed)", URL: "/forums/general.12/"},
	}, 1, nil)

	existing := &domain.Forum{ID: 100, SiteID: siteID, OriginalID: "12", Name: "General"}
	s.forums.EXPECT().GetByNaturalKey(ctx, siteID, domain.RemoteID("12")).Return(existing, nil)
	s.forums.EXPECT().Upsert(ctx, gomock.Any()).Return(domain.LocalID(100), nil)

	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	stats, err := s.service.SyncForums(ctx, siteID, nil)

	s.NoError(err)
	s.Equal(1, stats.Forums)
	s.Equal(0, stats.New)
	s.Equal(1, stats.Updated)
}

func (s *SyncServiceTestSuite) TestSyncForums_WalksAllIndexPages() {
	ctx := context.Background()
	siteID := domain.LocalID(1)

	s.sites.EXPECT().GetByID(ctx, siteID).Return(&domain.Site{ID: siteID, URL: "https://forum.example.com"}, nil)

	s.crawler.EXPECT().FetchForums(ctx, 1).Return([]xenforo.Forum{
		{OriginalID: "12", Name: "General", URL: "/forums/general.12/"},
	}, 2, nil)
	s.crawler.EXPECT().FetchForums(ctx, 2).Return([]xenforo.Forum{
		{OriginalID: "13", Name: "Off Topic", URL: "/forums/off-topic.13/"},
	}, 2, nil)

	s.forums.EXPECT().GetByNaturalKey(ctx, siteID, domain.RemoteID("12")).Return(nil, nil)
	s.forums.EXPECT().Upsert(ctx, gomock.Any()).Return(domain.LocalID(100), nil)
	s.forums.EXPECT().GetByNaturalKey(ctx, siteID, domain.RemoteID("13")).Return(nil, nil)
	s.forums.EXPECT().Upsert(ctx, gomock.Any()).Return(domain.LocalID(101), nil)

	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	var progress []domain.Progress
	stats, err := s.service.SyncForums(ctx, siteID, func(p domain.Progress) {
		progress = append(progress, p)
	})

	s.NoError(err)
	s.Equal(2, stats.Pages)
	s.Equal(2, stats.Forums)
	s.Equal(2, stats.New)
	s.Len(progress, 2)
	s.Equal(domain.Progress{Processed: 2, Total: 2, Step: "forums"}, progress[1])
}

func (s *SyncServiceTestSuite) TestSyncForums_SiteNotFound() {
	ctx := context.Background()

	s.sites.EXPECT().GetByID(ctx, domain.LocalID(9)).Return(nil, domain.ErrSiteNotFound)

	_, err := s.service.SyncForums(ctx, 9, nil)
	s.ErrorIs(err, domain.ErrSiteNotFound)
}

func (s *SyncServiceTestSuite) TestSyncThreads_WalksAllPages() {
	ctx := context.Background()
	forumID := domain.LocalID(100)

	forum := &domain.Forum{
		ID:          forumID,
		SiteID:      1,
		OriginalID:  "12",
		OriginalURL: "https://forum.example.com/forums/general.12/",
	}
	s.forums.EXPECT().GetByID(ctx, forumID).Return(forum, nil)

	s.crawler.EXPECT().FetchThreads(ctx, domain.RemoteID("12"), 1).Return([]xenforo.Thread{
		{OriginalID: "555", Name: "First", URL: "/threads/first.555/"},
	}, 3, nil)
	s.crawler.EXPECT().FetchThreads(ctx, domain.RemoteID("12"), 2).Return([]xenforo.Thread{
		{OriginalID: "556", Name: "Second", URL: "/threads/second.556/"},
	}, 3, nil)
	s.crawler.EXPECT().FetchThreads(ctx, domain.RemoteID("12"), 3).Return(nil, 3, nil)

	s.threads.EXPECT().GetByNaturalKey(ctx, forumID, domain.RemoteID("555")).Return(nil, nil)
	s.threads.EXPECT().Upsert(ctx, gomock.Any()).Return(domain.LocalID(200), nil)
	s.threads.EXPECT().GetByNaturalKey(ctx, forumID, domain.RemoteID("556")).Return(&domain.Thread{ID: 201}, nil)
	s.threads.EXPECT().Upsert(ctx, gomock.Any()).Return(domain.LocalID(201), nil)

	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	var progress []domain.Progress
	stats, err := s.service.SyncThreads(ctx, forumID, func(p domain.Progress) {
		progress = append(progress, p)
	})

	s.NoError(err)
	s.Equal(3, stats.Pages)
	s.Equal(2, stats.Threads)
	s.Equal(1, stats.New)
	s.Equal(1, stats.Updated)
	s.Len(progress, 3)
	s.Equal(domain.Progress{Processed: 3, Total: 3, Step: "threads"}, progress[2])
}

func (s *SyncServiceTestSuite) TestSyncPosts_ReconcilesPostWithMedia() {
	ctx := context.Background()
	threadID := domain.LocalID(200)
	createdAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	thread := &domain.Thread{ID: threadID, ForumID: 100, OriginalID: "555"}
	s.threads.EXPECT().GetByID(ctx, threadID).Return(thread, nil)

	userID := domain.RemoteID("42")
	thumb := "https://forum.example.com/attachments/thumb.1/"
	s.crawler.EXPECT().FetchPosts(ctx, domain.RemoteID("555"), 1).Return([]xenforo.Post{
		{
			OriginalID: "9001",
			Username:   "alice",
			UserID:     &userID,
			Content:    "<p>look at this</p>",
			CreatedAt:  createdAt,
			Media: []xenforo.Media{
				{Type: domain.MediaTypeImage, URL: "https://forum.example.com/attachments/pic.1/", ThumbnailURL: &thumb},
				{Type: domain.MediaTypeLink, URL: "https://elsewhere.example.org/page"},
			},
		},
	}, 1, nil)

	s.posts.EXPECT().GetByNaturalKey(ctx, threadID, domain.RemoteID("9001")).Return(nil, nil)
	s.expectTransaction(ctx)
	s.posts.EXPECT().Upsert(ctx, gomock.Any()).DoAndReturn(
		func(ctx context.Context, post *domain.Post) (domain.LocalID, error) {
			s.Equal(threadID, post.ThreadID)
			s.Equal(domain.RemoteID("9001"), post.OriginalID)
			s.Equal("alice", post.Username)
			s.Equal(createdAt, post.CreatedAt)
			return 300, nil
		},
	)
	s.media.EXPECT().Upsert(ctx, gomock.Any()).DoAndReturn(
		func(ctx context.Context, m *domain.Media) (domain.LocalID, error) {
			s.Equal(domain.LocalID(300), m.PostID)
			s.Equal(domain.MediaTypeImage, m.Type)
			return 400, nil
		},
	)
	s.media.EXPECT().Upsert(ctx, gomock.Any()).DoAndReturn(
		func(ctx context.Context, m *domain.Media) (domain.LocalID, error) {
			s.Equal(domain.MediaTypeLink, m.Type)
			return 401, nil
		},
	)

	s.threads.EXPECT().TouchLastSync(ctx, threadID, gomock.Any()).Return(nil)

	var published *domain.SyncEvent
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).DoAndReturn(
		func(ctx context.Context, event *domain.SyncEvent) error {
			published = event
			return nil
		},
	)

	posts, stats, err := s.service.SyncPosts(ctx, threadID, nil)

	s.NoError(err)
	s.Equal(1, stats.Posts)
	s.Equal(2, stats.Media)
	s.Equal(1, stats.New)

	s.Require().Len(posts, 1)
	s.Equal(domain.LocalID(300), posts[0].ID)
	s.Require().Len(posts[0].Media, 2)
	s.Equal(domain.LocalID(400), posts[0].Media[0].ID)

	s.Require().NotNil(published)
	s.Equal("sync_posts", published.Operation)
	s.Require().NotNil(published.ThreadID)
	s.Equal(threadID, *published.ThreadID)
}

func (s *SyncServiceTestSuite) TestSyncPosts_ThreadNotFound() {
	ctx := context.Background()

	s.threads.EXPECT().GetByID(ctx, domain.LocalID(7)).Return(nil, domain.ErrThreadNotFound)

	_, _, err := s.service.SyncPosts(ctx, 7, nil)
	s.ErrorIs(err, domain.ErrThreadNotFound)
}

func (s *SyncServiceTestSuite) TestSyncSite_AccumulatesAcrossLevels() {
	ctx := context.Background()
	siteID := domain.LocalID(1)

	s.sites.EXPECT().GetByID(ctx, siteID).Return(&domain.Site{ID: siteID, URL: "https://forum.example.com"}, nil)
	s.crawler.EXPECT().FetchForums(ctx, 1).Return([]xenforo.Forum{
		{OriginalID: "12", Name: "General", URL: "/forums/general.12/"},
	}, 1, nil)
	s.forums.EXPECT().GetByNaturalKey(ctx, siteID, domain.RemoteID("12")).Return(nil, nil)
	s.forums.EXPECT().Upsert(ctx, gomock.Any()).Return(domain.LocalID(100), nil)

	forum := domain.Forum{ID: 100, SiteID: siteID, OriginalID: "12", OriginalURL: "https://forum.example.com/forums/general.12/"}
	s.forums.EXPECT().ListBySite(ctx, siteID).Return([]domain.Forum{forum}, nil)

	s.forums.EXPECT().GetByID(ctx, domain.LocalID(100)).Return(&forum, nil)
	s.crawler.EXPECT().FetchThreads(ctx, domain.RemoteID("12"), 1).Return([]xenforo.Thread{
		{OriginalID: "555", Name: "First", URL: "/threads/first.555/"},
	}, 1, nil)
	s.threads.EXPECT().GetByNaturalKey(ctx, domain.LocalID(100), domain.RemoteID("555")).Return(nil, nil)
	s.threads.EXPECT().Upsert(ctx, gomock.Any()).Return(domain.LocalID(200), nil)

	thread := domain.Thread{ID: 200, ForumID: 100, OriginalID: "555"}
	s.threads.EXPECT().ListByForum(ctx, domain.LocalID(100)).Return([]domain.Thread{thread}, nil)

	s.threads.EXPECT().GetByID(ctx, domain.LocalID(200)).Return(&thread, nil)
	s.crawler.EXPECT().FetchPosts(ctx, domain.RemoteID("555"), 1).Return([]xenforo.Post{
		{OriginalID: "9001", Username: "alice", Content: "hi", CreatedAt: time.Now()},
	}, 1, nil)
	s.posts.EXPECT().GetByNaturalKey(ctx, domain.LocalID(200), domain.RemoteID("9001")).Return(nil, nil)
	s.expectTransaction(ctx)
	s.posts.EXPECT().Upsert(ctx, gomock.Any()).Return(domain.LocalID(300), nil)
	s.threads.EXPECT().TouchLastSync(ctx, domain.LocalID(200), gomock.Any()).Return(nil)

	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(3)

	stats, err := s.service.SyncSite(ctx, siteID)

	s.NoError(err)
	s.Equal(1, stats.Forums)
	s.Equal(1, stats.Threads)
	s.Equal(1, stats.Posts)
	s.Equal(3, stats.New)
	s.Equal(3, stats.Pages)
}
