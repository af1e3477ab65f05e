package server

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/docwatch/internal/runtime"
)

// Run serves the API for app until ctx is cancelled. It also runs the scan
// scheduler and, unless disabled, an embedded worker. The search index is
// rebuilt from the store before serving.
func Run(ctx context.Context, app *runtime.App, metrics http.Handler) error {
	cfg := app.Config
	logger := runtime.NewLogger(cfg, "API")

	if n, err := app.Reindex(ctx); err != nil {
		logger.Printf("reindex: %v", err)
	} else if n > 0 {
		logger.Printf("indexed %d documents", n)
	}

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}
	deps := Deps{
		Store:         app.Store,
		Queue:         app.Queue,
		Fetcher:       app.Fetchers,
		Notifier:      app.Dispatcher,
		Lag:           app.QueueLag,
		JWTSecret:     secret,
		WebhookSecret: []byte(cfg.Server.WebhookSecret),
		CORSOrigins:   cfg.Server.CORSOrigins,
		Metrics:       metrics,
		Logger:        logger,
	}
	if app.Index != nil {
		deps.Index = app.Index
	}
	if app.GitHub != nil {
		deps.GitHub = app.GitHub
	}
	e := New(deps)

	sched, err := NewScheduler(cfg.Scan.Cron, app.Store, app.Queue, app.Redis, runtime.NewLogger(cfg, "SCHED"))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return Serve(gctx, e, cfg.Server.Address, logger) })
	g.Go(func() error { return sched.Run(gctx) })
	if !cfg.Scan.DisableEmbeddedWorker {
		proc, err := app.NewWorker(ctx)
		if err != nil {
			return err
		}
		g.Go(func() error { return proc.Start(gctx) })
	}
	return g.Wait()
}
