package runtime

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/docwatch/config"
	"github.com/mohammad-safakhou/docwatch/internal/automation"
	"github.com/mohammad-safakhou/docwatch/internal/fetch"
	"github.com/mohammad-safakhou/docwatch/internal/queue"
	"github.com/mohammad-safakhou/docwatch/internal/queue/streams"
	"github.com/mohammad-safakhou/docwatch/internal/scan"
	"github.com/mohammad-safakhou/docwatch/internal/search"
	"github.com/mohammad-safakhou/docwatch/internal/store"
	"github.com/mohammad-safakhou/docwatch/internal/worker"
)

// App holds the shared dependencies of the serve, worker and scan commands.
type App struct {
	Config     *config.Config
	Store      *store.Store
	Redis      *redis.Client
	Registry   *streams.SchemaRegistry
	Index      *search.Index
	Fetchers   *fetch.Registry
	GitHub     *fetch.GitHubClient
	Dispatcher *automation.Dispatcher
	Scanner    *scan.Orchestrator
	Queue      *queue.Queue
}

// AppOptions selects optional parts of the App.
type AppOptions struct {
	// WithIndex opens the search index. Only one process may hold an
	// on-disk index.
	WithIndex bool
}

// NewLogger returns a prefixed logger for component.
func NewLogger(cfg *config.Config, component string) *log.Logger {
	prefix := component
	if cfg != nil && cfg.General.LogPrefix != "" {
		prefix = cfg.General.LogPrefix + ":" + component
	}
	return log.New(os.Stdout, fmt.Sprintf("[%s] ", prefix), log.LstdFlags)
}

// NewApp connects to Postgres and Redis and wires the fetchers, senders,
// scan orchestrator and job queue.
func NewApp(ctx context.Context, cfg *config.Config, opts AppOptions) (*App, error) {
	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rdb, err := OpenRedis(ctx, cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	app := &App{Config: cfg, Store: st, Redis: rdb}
	fail := func(err error) (*App, error) {
		_ = app.Close()
		return nil, err
	}

	if app.Registry, err = InitSchemaRegistry(); err != nil {
		return fail(err)
	}
	if opts.WithIndex {
		if app.Index, err = search.Open(cfg.Search.IndexPath); err != nil {
			return fail(fmt.Errorf("open search index: %w", err))
		}
	}
	if err := app.wireFetchers(ctx); err != nil {
		return fail(err)
	}
	app.Dispatcher = automation.NewDispatcher(st, st, Senders(cfg.Notifications), NewLogger(cfg, "NOTIFY"))

	scanOpts := scan.Options{
		Dispatcher:   app.Dispatcher,
		Locker:       scan.NewRedisLocker(rdb, cfg.Scan.LockTTL, NewLogger(cfg, "LOCK")),
		Logger:       NewLogger(cfg, "SCAN"),
		Concurrency:  cfg.Scan.Concurrency,
		FetchTimeout: cfg.Scan.FetchTimeout,
	}
	if app.Index != nil {
		scanOpts.Index = app.Index
	}
	app.Scanner = scan.New(st, app.Fetchers, scanOpts)
	app.Queue = queue.New(rdb, st, app.Registry, cfg.Scan.JobStream, cfg.Scan.InflightTTL, NewLogger(cfg, "QUEUE"))
	return app, nil
}

func (a *App) wireFetchers(ctx context.Context) error {
	f := a.Config.Fetch
	reg := fetch.NewRegistry(a.Config.Scan.MaxContentChars)

	web := fetch.NewWebFetcher(f.Timeout, f.UserAgent)
	if f.ChromedpEnabled {
		web.Fallback = &fetch.BrowserRenderer{Timeout: f.Timeout, UserAgent: f.UserAgent}
	}
	reg.Register(store.MethodWeb, web)

	gh, err := fetch.NewGitHubClient(ctx, f.GitHubToken, f.GitHubBaseURL)
	if err != nil {
		return fmt.Errorf("github client: %w", err)
	}
	a.GitHub = gh
	reg.Register(store.MethodGitHub, gh)

	if f.NotionToken != "" {
		nf, err := fetch.NewNotionFetcher(f.NotionToken, f.NotionBaseURL, nil)
		if err != nil {
			return err
		}
		reg.Register(store.MethodNotion, nf)
	}
	if f.ConfluenceBaseURL != "" {
		reg.Register(store.MethodConfluence, fetch.NewConfluenceFetcher(f.ConfluenceBaseURL, f.ConfluenceUser, f.ConfluenceToken, nil))
	}
	if f.GoogleCredentialsFile != "" {
		gd, err := fetch.NewGoogleDocsFetcher(ctx, f.GoogleCredentialsFile)
		if err != nil {
			return err
		}
		reg.Register(store.MethodGoogleDocs, gd)
	}
	a.Fetchers = reg
	return nil
}

// Senders builds the notification senders that have credentials.
func Senders(n config.NotificationsConfig) map[automation.DestinationKind]automation.Sender {
	out := map[automation.DestinationKind]automation.Sender{
		automation.DestinationWebhook: automation.NewWebhookSender(n.WebhookTimeout, nil),
	}
	if n.SlackToken != "" {
		out[automation.DestinationSlack] = automation.NewSlackSender(n.SlackToken, n.SlackAPIBase, nil)
	}
	if n.SMTPHost != "" {
		out[automation.DestinationEmail] = automation.NewEmailSender(n.SMTPHost, n.SMTPPort, n.SMTPUser, n.SMTPPassword, n.SMTPFrom)
	}
	return out
}

// Reindex loads every tracked document into the search index.
func (a *App) Reindex(ctx context.Context) (int, error) {
	if a.Index == nil {
		return 0, nil
	}
	orgs, err := a.Store.ListOrganizations(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, org := range orgs {
		docs, err := a.Store.ListDocuments(ctx, org)
		if err != nil {
			return n, err
		}
		for _, d := range docs {
			if err := a.Index.Update(d); err != nil {
				return n, fmt.Errorf("index %s: %w", d.ID, err)
			}
			n++
		}
	}
	return n, nil
}

// NewWorker joins the scan consumer group under a unique consumer name and
// returns a processor reading from it.
func (a *App) NewWorker(ctx context.Context) (*worker.Processor, error) {
	sc := a.Config.Scan
	if err := streams.EnsureGroup(ctx, a.Redis, sc.JobStream, sc.JobGroup); err != nil {
		return nil, fmt.Errorf("ensure consumer group: %w", err)
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	name := host + "-" + uuid.NewString()[:8]
	cons := streams.NewConsumer(a.Redis, a.Registry, sc.JobGroup, name)
	return worker.NewProcessor(a.Store, a.Scanner, a.Queue, cons, worker.Options{
		Stream:      sc.JobStream,
		MaxAttempts: sc.MaxAttempts,
		ClaimIdle:   sc.ClaimIdle,
		Logger:      NewLogger(a.Config, "WORKER "+name),
	}), nil
}

// QueueLag reports the backlog of the scan consumer group.
func (a *App) QueueLag(ctx context.Context) (streams.LagMetrics, error) {
	return streams.GroupLag(ctx, a.Redis, a.Config.Scan.JobStream, a.Config.Scan.JobGroup)
}

// Close releases every connection the App opened.
func (a *App) Close() error {
	var first error
	if a.Index != nil {
		if err := a.Index.Close(); err != nil && first == nil {
			first = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil && first == nil {
			first = err
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
