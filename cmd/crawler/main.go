package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"golang.org/x/time/rate"

	"github.com/thanhtunguet/xenforo-media-crawler/internal/config"
	"github.com/thanhtunguet/xenforo-media-crawler/internal/domain"
	"github.com/thanhtunguet/xenforo-media-crawler/internal/publisher"
	"github.com/thanhtunguet/xenforo-media-crawler/internal/scheduler"
	"github.com/thanhtunguet/xenforo-media-crawler/internal/service"
	"github.com/thanhtunguet/xenforo-media-crawler/internal/session"
	"github.com/thanhtunguet/xenforo-media-crawler/internal/storage/postgres"
	"github.com/thanhtunguet/xenforo-media-crawler/internal/xenforo"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	op := flag.String("op", "serve", "operation: serve, sync-site, sync-forums, sync-threads, sync-posts, download")
	siteID := flag.Int64("site", 0, "site id")
	forumID := flag.Int64("forum", 0, "local forum id (sync-threads)")
	threadID := flag.Int64("thread", 0, "local thread id (sync-posts, download)")
	mediaType := flag.String("type", "all", "media type filter for download: all, image, video")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
		URL:        cfg.RabbitMQ.URL,
		Exchange:   cfg.RabbitMQ.Exchange,
		RoutingKey: cfg.RabbitMQ.RoutingKey,
		QueueName:  cfg.RabbitMQ.QueueName,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer rabbitMQ.Close()

	siteStore := postgres.NewSiteStore(db)
	forumStore := postgres.NewForumStore(db)
	threadStore := postgres.NewThreadStore(db)
	postStore := postgres.NewPostStore(db)
	mediaStore := postgres.NewMediaStore(db)
	txManager := postgres.NewTransactionManager(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	site, err := siteStore.GetByID(ctx, domain.LocalID(*siteID))
	if err != nil {
		logger.Error("failed to resolve site", "site_id", *siteID, "error", err)
		os.Exit(1)
	}

	sess, err := authenticate(ctx, cfg, site.URL, logger)
	if err != nil {
		logger.Error("login failed", "site", site.URL, "error", err)
		os.Exit(1)
	}

	client, err := xenforo.NewClient(sess, logger)
	if err != nil {
		logger.Error("failed to create crawler client", "error", err)
		os.Exit(1)
	}

	syncService := service.NewSyncService(
		client,
		siteStore,
		forumStore,
		threadStore,
		postStore,
		mediaStore,
		txManager,
		rabbitMQ,
		logger,
		cfg.Crawler.PageDelay,
	)

	downloadService := service.NewDownloadService(
		client,
		threadStore,
		mediaStore,
		rabbitMQ,
		logger,
		cfg.Download,
	)

	progress := func(p domain.Progress) {
		logger.Info("progress", "step", p.Step, "processed", p.Processed, "total", p.Total)
	}

	switch *op {
	case "serve":
		sched := scheduler.NewScheduler(syncService, domain.LocalID(*siteID), cfg.Sync.Interval, logger)
		if err := sched.Start(ctx); err != nil && err != context.Canceled {
			logger.Error("scheduler error", "error", err)
			os.Exit(1)
		}
	case "sync-site":
		_, err = syncService.SyncSite(ctx, domain.LocalID(*siteID))
	case "sync-forums":
		_, err = syncService.SyncForums(ctx, domain.LocalID(*siteID), progress)
	case "sync-threads":
		_, err = syncService.SyncThreads(ctx, domain.LocalID(*forumID), progress)
	case "sync-posts":
		_, _, err = syncService.SyncPosts(ctx, domain.LocalID(*threadID), progress)
	case "download":
		_, err = downloadService.DownloadThreadMedia(ctx, domain.LocalID(*threadID), service.DownloadOptions{
			Type:     parseMediaType(*mediaType),
			Cookies:  sess.CookieHeader(site.URL),
			Progress: progress,
		})
	default:
		logger.Error("unknown operation", "op", *op)
		os.Exit(1)
	}

	if err != nil {
		logger.Error("operation failed", "op", *op, "error", err)
		os.Exit(1)
	}
}

func authenticate(ctx context.Context, cfg *config.Config, siteURL string, logger *slog.Logger) (*session.Session, error) {
	sessionCfg := session.Config{
		Timeout:    cfg.Crawler.Timeout,
		MaxRetries: cfg.Crawler.MaxRetries,
		RetryDelay: cfg.Crawler.RetryDelay,
		Logger:     logger,
	}
	if cfg.Crawler.RequestsPerSecond > 0 {
		sessionCfg.Limiter = rate.NewLimiter(rate.Limit(cfg.Crawler.RequestsPerSecond), 1)
	}

	creds := xenforo.Credentials{
		Username: cfg.Auth.Username,
		Password: cfg.Auth.Password,
	}

	var auth xenforo.Authenticator
	if cfg.Auth.WarmUp {
		auth = xenforo.NewWarmupFormLogin(sessionCfg, logger)
	} else {
		auth = xenforo.NewFormLogin(sessionCfg, logger)
	}

	return auth.Login(ctx, creds, siteURL)
}

func parseMediaType(s string) domain.MediaType {
	switch s {
	case "image":
		return domain.MediaTypeImage
	case "video":
		return domain.MediaTypeVideo
	}
	return 0
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
