// Package server exposes the HTTP API: document tracking, code links,
// automations, change-set alerts, scan jobs and the GitHub webhook.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/docwatch/internal/alerts"
	"github.com/mohammad-safakhou/docwatch/internal/automation"
	"github.com/mohammad-safakhou/docwatch/internal/fetch"
	"github.com/mohammad-safakhou/docwatch/internal/linkmatch"
	"github.com/mohammad-safakhou/docwatch/internal/queue"
	"github.com/mohammad-safakhou/docwatch/internal/queue/streams"
	"github.com/mohammad-safakhou/docwatch/internal/runtime"
	"github.com/mohammad-safakhou/docwatch/internal/search"
	"github.com/mohammad-safakhou/docwatch/internal/store"
)

// ScanQueue enqueues scans and reports their state.
type ScanQueue interface {
	EnqueueScan(ctx context.Context, orgID string) (string, error)
	GetScanStatus(ctx context.Context, jobID string) (queue.Status, error)
}

// ContentFetcher fetches a page through the integration for method.
type ContentFetcher interface {
	Fetch(ctx context.Context, method store.Method, url, orgID string) (fetch.Content, error)
}

// SearchIndex is the full-text index of tracked documents.
type SearchIndex interface {
	Update(doc store.Document) error
	Remove(id string) error
	Search(orgID, query string, limit int) ([]search.Hit, error)
}

// Notifier fans events and alerts out to automations.
type Notifier interface {
	DispatchEvents(ctx context.Context, orgID string, events []store.Event) automation.Report
	DispatchAlerts(ctx context.Context, orgID, repo string, list []alerts.Alert) automation.Report
}

// PullRequests reads change sets from the code host.
type PullRequests interface {
	PullRequestFiles(ctx context.Context, owner, repo string, number int) ([]linkmatch.ChangedFile, error)
	Baseline(owner, repo, base string) linkmatch.BaselineFunc
}

// Deps are the collaborators of the HTTP API. Index, Notifier, GitHub and
// Lag are optional.
type Deps struct {
	Store         *store.Store
	Queue         ScanQueue
	Fetcher       ContentFetcher
	Index         SearchIndex
	Notifier      Notifier
	GitHub        PullRequests
	Lag           func(ctx context.Context) (streams.LagMetrics, error)
	JWTSecret     []byte
	WebhookSecret []byte
	CORSOrigins   []string
	Metrics       http.Handler
	Logger        *log.Logger
}

// New builds the echo instance with every route registered.
func New(d Deps) *echo.Echo {
	if d.Logger == nil {
		d.Logger = log.New(io.Discard, "", 0)
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = errorHandler(d.Logger)

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	e.GET("/healthz", healthHandler(d))
	metrics := d.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	e.GET("/metrics", echo.WrapHandler(metrics))

	tr := &tracker{store: d.Store, fetcher: d.Fetcher, index: d.Index, notifier: d.Notifier, logger: d.Logger}
	engine := &alertEngine{store: d.Store, github: d.GitHub, logger: d.Logger}

	api := e.Group("/api", runtime.EchoAuthMiddleware(d.JWTSecret))
	(&ScanHandler{Queue: d.Queue}).Register(api.Group("/scan"))
	(&DocumentsHandler{Store: d.Store, Index: d.Index, tracker: tr}).Register(api)
	(&LinksHandler{Store: d.Store, tracker: tr}).Register(api.Group("/links"))
	(&AutomationsHandler{Store: d.Store}).Register(api.Group("/automations"))
	(&AlertsHandler{engine: engine}).Register(api.Group("/alerts"))
	(&WebhookHandler{Secret: d.WebhookSecret, GitHub: d.GitHub, Notifier: d.Notifier, engine: engine, Logger: d.Logger}).Register(e.Group("/webhooks"))
	return e
}

// errorHandler renders every error as {"error": msg}. Store lookups that
// match nothing become 404 and fetch failures 422.
func errorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		var fe *fetch.Error
		switch {
		case errors.As(err, &he):
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		case errors.Is(err, store.ErrNotFound):
			code = http.StatusNotFound
			msg = "not found"
		case errors.As(err, &fe):
			code = http.StatusUnprocessableEntity
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if c.Response().Committed {
			return
		}
		if req.Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, HTTPError{Error: msg})
	}
}

func healthHandler(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		resp := HealthResponse{Status: "ok"}
		if d.Store != nil {
			if err := d.Store.Ping(ctx); err != nil {
				resp.Status = "degraded"
				return c.JSON(http.StatusServiceUnavailable, resp)
			}
		}
		if d.Lag != nil {
			lag, err := d.Lag(ctx)
			if err != nil {
				resp.QueueError = err.Error()
			} else {
				resp.Pending = lag.Pending
				resp.Lag = lag.Lag
				if lag.OldestIdle > 0 {
					resp.OldestIdle = lag.OldestIdle.String()
				}
			}
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func orgID(c echo.Context) (string, error) {
	org, ok := c.Get("org_id").(string)
	if !ok || org == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	return org, nil
}

func userID(c echo.Context) string {
	user, _ := c.Get("user_id").(string)
	return user
}

// Serve runs e on addr until ctx is cancelled, then shuts it down.
func Serve(ctx context.Context, e *echo.Echo, addr string, logger *log.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
