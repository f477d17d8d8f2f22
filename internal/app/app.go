package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"MachineryNews/internal/config"
	"MachineryNews/internal/domain"
	"MachineryNews/internal/infrastructure/feed"
	"MachineryNews/internal/infrastructure/llm"
	"MachineryNews/internal/infrastructure/notion"
	"MachineryNews/internal/infrastructure/storage"
	"MachineryNews/internal/infrastructure/telegram"
	"MachineryNews/internal/infrastructure/web"
	"MachineryNews/internal/logging"
	"MachineryNews/internal/ports"
	"MachineryNews/internal/retry"
	"MachineryNews/internal/scanner"
	"MachineryNews/internal/usecase"
)

// Application wires configs to use cases and owns the adapters' lifecycle.
type Application struct {
	cfg      config.Config
	pipeline *usecase.Pipeline
	closers  []io.Closer
	logger   *slog.Logger
}

// Option customises adapter construction.
type Option func(*options)

type options struct {
	httpClient *http.Client
}

// WithHTTPClient routes every outbound HTTP call through client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// New validates cfg and builds the pipeline. A *domain.ConfigError is returned
// before any adapter is created, so an invalid setup never reaches the network.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, opts ...Option) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &Application{cfg: cfg, logger: baseLogger}

	store, err := a.openStore(ctx, o.httpClient)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	generator, err := a.newGenerator(ctx, o.httpClient)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	webClient := web.NewClient(o.httpClient)
	registry := scanner.NewRegistry()
	registry.Register(feed.NewRSSReader(webClient))
	registry.Register(feed.NewHTMLReader(webClient))

	source := feed.NewSource(registry, feed.SourceOptions{
		Policy:      a.policy(cfg.Timeouts.Feed),
		PerFeed:     cfg.Limits.PerFeed,
		Concurrency: cfg.Limits.FeedConcurrency,
	}, baseLogger.With("component", "source"))

	var resolver *usecase.Resolver
	if cfg.Enrichment.ExtractContent {
		resolver = usecase.NewResolver(usecase.ResolverDeps{
			Extractor:    web.NewExtractor(webClient, cfg.Enrichment.MaxBodyChars),
			Policy:       retry.Policy{MaxAttempts: 1, Timeout: cfg.Timeouts.Feed},
			MinBodyChars: cfg.Enrichment.MinBodyChars,
			Concurrency:  cfg.Limits.FeedConcurrency,
			Logger:       baseLogger.With("component", "resolver"),
		})
	}

	enricher := usecase.NewEnricher(usecase.EnricherDeps{
		Generator:    generator,
		AIPolicy:     a.policy(cfg.Timeouts.AI),
		MaxBodyChars: cfg.Enrichment.MaxBodyChars,
		Logger:       baseLogger.With("component", "enricher"),
	})

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.Enabled() {
		notifier = telegram.NewNotifier(cfg.Notifications.Telegram, o.httpClient)
	}

	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Source:         source,
		Feeds:          cfg.Feeds,
		Store:          store,
		Resolver:       resolver,
		Enricher:       enricher,
		Notifier:       notifier,
		Limits:         cfg.Limits,
		DropIrrelevant: cfg.Enrichment.DropIrrelevant,
		ReadPolicy:     a.policy(cfg.Timeouts.Database),
		// A retried create whose first attempt landed would duplicate the entry.
		WritePolicy: retry.Policy{MaxAttempts: 1, Timeout: cfg.Timeouts.Database},
		Logger:      baseLogger.With("component", "pipeline"),
	})

	baseLogger.Info("application ready",
		"backend", cfg.Database.Backend,
		"provider", cfg.AI.Provider,
		"model", cfg.AI.Model,
		"feeds", len(cfg.Feeds),
	)
	return a, nil
}

// Run performs a single pipeline execution.
func (a *Application) Run(ctx context.Context) domain.RunSummary {
	if a == nil || a.pipeline == nil {
		return domain.RunSummary{State: domain.StateFailed}
	}
	return a.pipeline.Run(ctx)
}

// Close releases clients opened by New.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *Application) policy(timeout time.Duration) retry.Policy {
	return retry.Policy{
		MaxAttempts: a.cfg.Retry.MaxAttempts,
		Delay:       a.cfg.Retry.Delay,
		Timeout:     timeout,
	}
}

func (a *Application) openStore(ctx context.Context, httpClient *http.Client) (ports.ArticleStore, error) {
	db := a.cfg.Database
	switch db.Backend {
	case config.BackendNotion:
		return notion.NewRepository(db, httpClient), nil
	case config.BackendPostgres, config.BackendSQLite:
		openCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeouts.Database)
		defer cancel()

		repo, err := storage.Open(openCtx, db.Backend, db.Token, db.ID)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "open", Err: err}
		}
		a.closers = append(a.closers, repo)
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown database backend %q", db.Backend)
	}
}

func (a *Application) newGenerator(ctx context.Context, httpClient *http.Client) (ports.Generator, error) {
	var generator ports.Generator
	switch a.cfg.AI.Provider {
	case config.ProviderOpenAI:
		generator = llm.NewChatGenerator(a.cfg.AI, httpClient)
	case config.ProviderGemini:
		gemini, err := llm.NewGeminiGenerator(ctx, a.cfg.AI)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, gemini)
		generator = gemini
	default:
		return nil, fmt.Errorf("unknown ai provider %q", a.cfg.AI.Provider)
	}
	return llm.NewRateLimited(generator, a.cfg.AI.RequestsPerMinute), nil
}
