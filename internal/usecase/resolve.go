package usecase

import (
	"context"
	"log/slog"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"MachineryNews/internal/domain"
	"MachineryNews/internal/ports"
	"MachineryNews/internal/retry"
)

// ResolverDeps wires the page extractor used to follow article links.
type ResolverDeps struct {
	Extractor    ports.ContentExtractor
	Policy       retry.Policy
	MinBodyChars int
	Concurrency  int
	Logger       *slog.Logger
}

// Resolver follows feed links (Google News redirects included) to the
// publisher page, so that records carry the publisher URL and enrichment gets
// the page text instead of the feed blurb.
type Resolver struct {
	extractor    ports.ContentExtractor
	policy       retry.Policy
	minBodyChars int
	concurrency  int
	logger       *slog.Logger
}

// NewResolver constructs the link resolver.
func NewResolver(deps ResolverDeps) *Resolver {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Resolver{
		extractor:    deps.Extractor,
		policy:       deps.Policy,
		minBodyChars: deps.MinBodyChars,
		concurrency:  concurrency,
		logger:       logger,
	}
}

// Resolve returns new articles in the same order. A resolved article has URL
// set to the final page and FeedURL to the original link; page text shorter
// than MinBodyChars is ignored. Articles whose page cannot be loaded are
// returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, articles []domain.RawArticle) []domain.RawArticle {
	out := make([]domain.RawArticle, len(articles))
	copy(out, articles)
	if r.extractor == nil || len(out) == 0 {
		return out
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(r.concurrency)
	for i := range out {
		g.Go(func() error {
			resolved, ok := r.resolveOne(ctx, articles[i])
			if ok {
				mu.Lock()
				out[i] = resolved
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (r *Resolver) resolveOne(ctx context.Context, article domain.RawArticle) (domain.RawArticle, bool) {
	var page domain.PageContent
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		var exErr error
		page, exErr = r.extractor.Extract(ctx, article.URL)
		return exErr
	})
	if err != nil {
		r.logger.Debug("link not resolved", "url", article.URL, "feed", article.FeedName, "error", err)
		return article, false
	}

	if page.URL != "" && page.URL != article.URL {
		r.logger.Debug("link resolved", "feed_url", article.URL, "url", page.URL)
		article.FeedURL = article.URL
		article.URL = page.URL
	}
	if utf8.RuneCountInString(page.Text) >= r.minBodyChars {
		article.PageText = page.Text
	}
	return article, true
}
