package feed

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"MachineryNews/internal/config"
	"MachineryNews/internal/domain"
	"MachineryNews/internal/ports"
	"MachineryNews/internal/retry"
	"MachineryNews/internal/scanner"
)

// Source implements ArticleSource via registered reader strategies.
type Source struct {
	registry    *scanner.Registry
	policy      retry.Policy
	perFeed     int
	concurrency int
	logger      *slog.Logger
}

var _ ports.ArticleSource = (*Source)(nil)

// SourceOptions bounds how feeds are read.
type SourceOptions struct {
	Policy      retry.Policy
	PerFeed     int
	Concurrency int
}

// NewSource wires the reader registry with retry and volume limits.
func NewSource(reg *scanner.Registry, opts SourceOptions, log *slog.Logger) *Source {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Source{
		registry:    reg,
		policy:      opts.Policy,
		perFeed:     opts.PerFeed,
		concurrency: opts.Concurrency,
		logger:      log,
	}
}

// FetchAll reads every feed, skipping the ones that fail, and merges results in feed order.
func (s *Source) FetchAll(ctx context.Context, feeds []config.FeedConfig) ([]domain.RawArticle, int) {
	s.debug("fetch feeds", "feeds", len(feeds), "concurrency", s.concurrency)

	results := make([][]domain.RawArticle, len(feeds))
	var (
		mu     sync.Mutex
		failed int
		g      errgroup.Group
	)
	g.SetLimit(s.concurrency)

	for i, feed := range feeds {
		g.Go(func() error {
			articles, err := s.fetchOne(ctx, feed)
			if err != nil {
				s.warn("feed skipped", "feed", feed.Label(), "url", feed.URL, "stage", domain.StateFetching, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			s.debug("feed produced articles", "feed", feed.Label(), "count", len(articles))
			results[i] = articles
			return nil
		})
	}
	_ = g.Wait()

	var aggregated []domain.RawArticle
	for _, articles := range results {
		aggregated = append(aggregated, articles...)
	}
	s.debug("feeds done", "total_articles", len(aggregated), "failed_feeds", failed)
	return aggregated, failed
}

func (s *Source) fetchOne(ctx context.Context, feed config.FeedConfig) ([]domain.RawArticle, error) {
	if s.registry == nil {
		return nil, &domain.FeedUnavailableError{Feed: feed.Label(), URL: feed.URL, Err: errNoRegistry}
	}
	reader, err := s.registry.Resolve(feed.ReaderKind())
	if err != nil {
		return nil, &domain.FeedUnavailableError{Feed: feed.Label(), URL: feed.URL, Err: err}
	}

	var articles []domain.RawArticle
	err = retry.Do(ctx, s.policy, func(ctx context.Context) error {
		var fetchErr error
		articles, fetchErr = reader.Fetch(ctx, feed)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}

	if s.perFeed > 0 && len(articles) > s.perFeed {
		articles = articles[:s.perFeed]
	}
	for i := range articles {
		if articles[i].FeedName == "" {
			articles[i].FeedName = feed.Label()
		}
		if articles[i].Language == "" {
			articles[i].Language = feed.Language()
		}
	}
	return articles, nil
}

func (s *Source) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Source) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
