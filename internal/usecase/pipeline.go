package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"MachineryNews/internal/config"
	"MachineryNews/internal/domain"
	"MachineryNews/internal/ports"
	"MachineryNews/internal/retry"
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source         ports.ArticleSource
	Feeds          []config.FeedConfig
	Store          ports.ArticleStore
	Resolver       *Resolver
	Enricher       ports.Enricher
	Notifier       ports.Notifier
	Limits         config.LimitsConfig
	DropIrrelevant bool
	ReadPolicy     retry.Policy
	WritePolicy    retry.Policy
	Logger         *slog.Logger
}

// Pipeline implements the daily collection run.
type Pipeline struct {
	source         ports.ArticleSource
	feeds          []config.FeedConfig
	store          ports.ArticleStore
	dedupe         *Deduplicator
	resolver       *Resolver
	enricher       ports.Enricher
	notifier       ports.Notifier
	limits         config.LimitsConfig
	dropIrrelevant bool
	writePolicy    retry.Policy
	logger         *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		source:         deps.Source,
		feeds:          deps.Feeds,
		store:          deps.Store,
		dedupe:         NewDeduplicator(deps.Store, deps.ReadPolicy),
		resolver:       deps.Resolver,
		enricher:       deps.Enricher,
		notifier:       deps.Notifier,
		limits:         deps.Limits,
		dropIrrelevant: deps.DropIrrelevant,
		writePolicy:    deps.WritePolicy,
		logger:         logger,
	}
}

// Run performs one pass: fetch, deduplicate, enrich, write.
// Item failures are counted in the summary; the run always ends in StateDone.
func (p *Pipeline) Run(ctx context.Context) domain.RunSummary {
	summary := domain.RunSummary{State: domain.StateIdle}

	p.transition(&summary, domain.StateFetching)
	candidates, failedFeeds := p.source.FetchAll(ctx, p.feeds)
	summary.Fetched = len(candidates)
	summary.FeedsFailed = failedFeeds

	p.transition(&summary, domain.StateDeduplicating)
	novel, dropped, err := p.deduplicate(ctx, candidates)
	if err != nil {
		// Without the known-URL set any write could duplicate an entry.
		p.logger.Error("cannot read known urls, nothing will be written", "stage", domain.StateDeduplicating, "error", err)
		summary.StoreUnavailable = true
		novel = nil
	}
	summary.Deduplicated = dropped

	p.transition(&summary, domain.StateEnriching)
	enriched := p.enrichAll(ctx, novel, &summary)

	p.transition(&summary, domain.StateWriting)
	p.writeAll(ctx, enriched, &summary)

	p.transition(&summary, domain.StateDone)
	p.logger.Info("run finished", summary.LogArgs()...)
	p.notify(ctx, summary)
	return summary
}

func (p *Pipeline) transition(summary *domain.RunSummary, next domain.RunState) {
	p.logger.Debug("state change", "from", summary.State, "to", next)
	summary.State = next
}

// deduplicate checks feed links against the store, resolves the survivors to
// their publisher pages and checks the resolved addresses as well.
func (p *Pipeline) deduplicate(ctx context.Context, candidates []domain.RawArticle) ([]domain.RawArticle, int, error) {
	novel, dropped, err := p.dedupe.Filter(ctx, candidates)
	if err != nil || p.resolver == nil || len(novel) == 0 {
		return novel, dropped, err
	}

	resolved := p.resolver.Resolve(ctx, novel)
	novel, again, err := p.dedupe.FilterResolved(ctx, resolved)
	return novel, dropped + again, err
}

// enrichAll enriches novel articles in feed order. Per-language quotas count
// accepted articles (enriched and, when irrelevant ones are dropped, relevant),
// so a failure frees its slot for the next candidate of that language.
func (p *Pipeline) enrichAll(ctx context.Context, articles []domain.RawArticle, summary *domain.RunSummary) []domain.EnrichedArticle {
	results := make([]*domain.EnrichedArticle, len(articles))
	gate := newQuotaGate(p.limits)
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(p.concurrency())

	for i, article := range articles {
		if !gate.acquire(article.Language) {
			mu.Lock()
			summary.OverQuota++
			mu.Unlock()
			p.logger.Debug("over language quota", "url", article.URL, "language", article.Language, "quota", p.limits.Quota(article.Language))
			continue
		}

		g.Go(func() error {
			enriched, err := p.enricher.Enrich(ctx, article)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.EnrichmentFailed++
				p.logger.Warn("article skipped", "url", article.URL, "feed", article.FeedName, "stage", domain.StateEnriching, "error", err)
				gate.release(article.Language, false)
			case p.dropIrrelevant && !enriched.Relevant:
				summary.Enriched++
				summary.Irrelevant++
				p.logger.Info("article not relevant", "url", article.URL, "title", enriched.DisplayTitle())
				gate.release(article.Language, false)
			default:
				summary.Enriched++
				results[i] = &enriched
				gate.release(article.Language, true)
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.EnrichedArticle, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func (p *Pipeline) writeAll(ctx context.Context, articles []domain.EnrichedArticle, summary *domain.RunSummary) {
	var mu sync.Mutex

	p.forEach(len(articles), func(i int) {
		article := articles[i]
		id, err := p.write(ctx, article)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			summary.WriteFailed++
			p.logger.Warn("article not saved", "url", article.URL, "feed", article.FeedName, "stage", domain.StateWriting, "error", err)
			return
		}
		summary.Written++
		p.logger.Info("article saved", "url", article.URL, "record", id, "title", article.DisplayTitle())
	})
}

func (p *Pipeline) write(ctx context.Context, article domain.EnrichedArticle) (domain.RecordID, error) {
	var id domain.RecordID
	err := retry.Do(ctx, p.writePolicy, func(ctx context.Context) error {
		var createErr error
		id, createErr = p.store.Create(ctx, article)
		return createErr
	})
	if err != nil {
		var persistErr *domain.PersistenceError
		if !errors.As(err, &persistErr) {
			err = &domain.PersistenceError{Op: "create", URL: article.URL, Err: err}
		}
		return "", err
	}
	return id, nil
}

// forEach runs fn for every index with at most limits.Concurrency in flight.
func (p *Pipeline) forEach(n int, fn func(i int)) {
	var g errgroup.Group
	g.SetLimit(p.concurrency())
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pipeline) concurrency() int {
	if p.limits.Concurrency <= 0 {
		return 1
	}
	return p.limits.Concurrency
}

func (p *Pipeline) notify(ctx context.Context, summary domain.RunSummary) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.PublishSummary(ctx, summary); err != nil {
		p.logger.Warn("run summary not delivered", "error", err)
	}
}
