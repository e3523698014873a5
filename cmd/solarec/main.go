package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"

	"github.com/renovus-tech/solarec/pkg/log"
	"github.com/renovus-tech/solarec/pkg/metrics"
	"github.com/renovus-tech/solarec/pkg/performance"
	"github.com/renovus-tech/solarec/pkg/server"
	"github.com/renovus-tech/solarec/pkg/storage"
)

func main() {
	db := storage.Configured()
	engine := performance.Configured()
	srv := server.Configured(db, engine)

	lflag.Configure()
	log.Configure()
	metrics.Init()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// storage is connected inside lflag.Do, which panics on failure
	defer func() {
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server stopped")
}
