// Command reconcile runs a single reconciliation scan and exits. It is meant
// for schedulers that run jobs rather than call URLs (Kubernetes CronJob,
// systemd timers). The summary is printed as JSON on stdout.
//
// Usage:
//
//	reconcile [--timeout 30m]
//
// Exit status is 1 when the scan could not list stream records.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/tsnip/annotate"
	"github.com/onnwee/tsnip/config"
	"github.com/onnwee/tsnip/db"
	"github.com/onnwee/tsnip/telemetry"
	"github.com/onnwee/tsnip/youtubeapi"
)

func main() {
	timeout := flag.Duration("timeout", 30*time.Minute, "upper bound for the whole scan")
	flag.Parse()

	_ = godotenv.Load(".env")
	config.SetupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateYouTube(); err != nil {
		slog.Error("youtube credentials required", slog.Any("err", err))
		os.Exit(1)
	}
	telemetry.Init()
	shutdown, err := telemetry.InitTracing("tsnip-reconcile", "1.0.0")
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
	defer database.Close()
	if err := db.RunMigrations(database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	yts := youtubeapi.New(cfg, &db.TokenStoreAdapter{DB: database})
	if err := yts.Bootstrap(ctx, cfg.YTRefreshToken); err != nil {
		slog.Warn("youtube token bootstrap failed", slog.Any("err", err))
	}
	yt, err := youtubeapi.NewPlatform(ctx, cfg, yts)
	if err != nil {
		slog.Error("youtube client init failed", slog.Any("err", err))
		os.Exit(1)
	}

	sum := annotate.NewReconciler(db.NewStore(database), yt, annotate.Options{
		Attempts:        cfg.CommentMaxAttempts,
		Backoff:         cfg.CommentRetryBackoff,
		MaxLength:       cfg.CommentMaxLength,
		ItemPause:       cfg.ItemPause,
		ExternalTimeout: cfg.ExternalTimeout,
		ClaimTTL:        cfg.ClaimTTL,
	}).Run(ctx)

	_ = json.NewEncoder(os.Stdout).Encode(sum)
	if sum.Err != nil {
		slog.Error("reconciliation failed", slog.Any("err", sum.Err))
		os.Exit(1)
	}
}
