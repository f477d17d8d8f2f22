package ports

import (
	"context"

	"MachineryNews/internal/config"
	"MachineryNews/internal/domain"
)

// FeedReader turns one configured feed into raw articles.
type FeedReader interface {
	Fetch(ctx context.Context, feed config.FeedConfig) ([]domain.RawArticle, error)
}

// ArticleSource pulls articles from every configured feed.
type ArticleSource interface {
	FetchAll(ctx context.Context, feeds []config.FeedConfig) (articles []domain.RawArticle, failedFeeds int)
}

// ArticleStore is the append-only record store used for deduplication and persistence.
type ArticleStore interface {
	ExistingURLs(ctx context.Context, urls []string) (map[string]bool, error)
	Create(ctx context.Context, article domain.EnrichedArticle) (domain.RecordID, error)
}

// Generator sends a prompt to a generative-language model and returns its text output.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Enricher summarizes and translates a single article.
type Enricher interface {
	Enrich(ctx context.Context, article domain.RawArticle) (domain.EnrichedArticle, error)
}

// ContentExtractor follows an article link to its final page and loads the readable text.
type ContentExtractor interface {
	Extract(ctx context.Context, url string) (domain.PageContent, error)
}

// Notifier delivers the run report to a chat channel.
type Notifier interface {
	PublishSummary(ctx context.Context, summary domain.RunSummary) error
}
