// Command tsnip is the main entrypoint for the clip API and its background
// workers. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs versioned migrations.
//   - Starts the YouTube OAuth token refresher and the stream discovery pool.
//   - Serves clip ingestion, the reconciliation trigger, OAuth, health,
//     status and metrics over HTTP.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/tsnip/annotate"
	"github.com/onnwee/tsnip/config"
	"github.com/onnwee/tsnip/db"
	"github.com/onnwee/tsnip/discovery"
	"github.com/onnwee/tsnip/integrations"
	"github.com/onnwee/tsnip/notify"
	"github.com/onnwee/tsnip/oauth"
	"github.com/onnwee/tsnip/server"
	"github.com/onnwee/tsnip/telemetry"
	"github.com/onnwee/tsnip/youtubeapi"
)

func main() {
	// local dev convenience only; production relies on real env
	_ = godotenv.Load(".env")
	config.SetupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateTrigger(); err != nil {
		slog.Warn("reconciliation trigger disabled", slog.Any("err", err))
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("tsnip", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err), slog.String("component", "db_migrate"))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := db.NewStore(database)

	yts := youtubeapi.New(cfg, &db.TokenStoreAdapter{DB: database})
	if err := cfg.ValidateYouTube(); err != nil {
		slog.Warn("comment posting disabled until youtube credentials are configured", slog.Any("err", err))
	} else {
		bctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		if err := yts.Bootstrap(bctx, cfg.YTRefreshToken); err != nil {
			slog.Warn("youtube token bootstrap failed", slog.Any("err", err), slog.String("component", "oauth"))
		}
		cancel()
		oauth.StartRefresher(ctx, database, youtubeapi.Provider, 10*time.Minute, 20*time.Minute, oauth.OAuth2Refresh(yts.OAuthConfig()))
	}
	yt, err := youtubeapi.NewPlatform(ctx, cfg, yts)
	if err != nil {
		slog.Error("youtube client init failed", slog.Any("err", err))
		os.Exit(1)
	}

	registry := &integrations.Registry{DB: store}
	if cfg.ChannelIntegrationsFile != "" {
		static, err := integrations.LoadFile(cfg.ChannelIntegrationsFile)
		if err != nil {
			slog.Error("channel integrations file invalid", slog.Any("err", err))
			os.Exit(1)
		}
		registry.Static = static
		slog.Info("channel integrations loaded", slog.Int("channels", len(static)), slog.String("path", cfg.ChannelIntegrationsFile))
	}

	scheduler, err := discovery.NewScheduler(cfg.DiscoveryWorkers, cfg.DiscoveryDelay, cfg.DiscoveryDedupTTL)
	if err != nil {
		slog.Error("discovery pool init failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := scheduler.Close(10 * time.Second); err != nil {
			slog.Warn("discovery pool did not drain", slog.Any("err", err))
		}
	}()

	reconciler := annotate.NewReconciler(store, yt, annotate.Options{
		Attempts:        cfg.CommentMaxAttempts,
		Backoff:         cfg.CommentRetryBackoff,
		MaxLength:       cfg.CommentMaxLength,
		ItemPause:       cfg.ItemPause,
		ExternalTimeout: cfg.ExternalTimeout,
		ClaimTTL:        cfg.ClaimTTL,
	})
	dispatcher := &notify.Dispatcher{
		Integrations: registry,
		Streams:      store,
		Platform:     yt,
		Poster:       notify.NewDiscordPoster(cfg.NotifyTimeout),
		Timeout:      cfg.NotifyTimeout,
	}

	go reportPoolStats(ctx, database)

	handler := server.NewMux(ctx, server.Deps{
		DB:           database,
		Store:        store,
		Reconciler:   reconciler,
		Notifier:     dispatcher,
		Scheduler:    scheduler,
		Discovery:    &discovery.Discoverer{Search: yt, Store: store},
		Templates:    registry,
		OAuth:        yts,
		CronSecret:   cfg.CronSecret,
		DefaultDelay: cfg.DefaultClipDelay,
	})
	go func() {
		if err := server.Start(ctx, handler, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}

func reportPoolStats(ctx context.Context, database *sql.DB) {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := database.Stats()
			telemetry.UpdateDatabasePoolMetrics(st.OpenConnections, st.InUse)
		}
	}
}
