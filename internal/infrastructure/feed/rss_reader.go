package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"MachineryNews/internal/config"
	"MachineryNews/internal/domain"
	"MachineryNews/internal/infrastructure/web"
	"MachineryNews/internal/scanner"
)

// RSSReader fetches RSS, Atom and JSON feeds.
type RSSReader struct {
	client *web.Client
	now    func() time.Time
}

var _ scanner.Reader = (*RSSReader)(nil)

// NewRSSReader wires an HTTP client; nil uses the web defaults.
func NewRSSReader(client *web.Client) *RSSReader {
	if client == nil {
		client = web.NewClient(nil)
	}
	return &RSSReader{client: client, now: time.Now}
}

// Kind identifies the strategy inside the registry.
func (r *RSSReader) Kind() string {
	return config.KindRSS
}

// Fetch downloads and parses one feed. Entries without title or link are dropped.
func (r *RSSReader) Fetch(ctx context.Context, feed config.FeedConfig) ([]domain.RawArticle, error) {
	body, err := r.client.Get(ctx, feed.URL)
	if err != nil {
		return nil, unavailable(feed, err)
	}
	defer body.Close()

	// gofeed parsers keep per-document state, so each fetch gets its own.
	parsed, err := gofeed.NewParser().Parse(body)
	if err != nil {
		return nil, unavailable(feed, fmt.Errorf("parse feed: %w", err))
	}

	fetchedAt := r.now().UTC()
	articles := make([]domain.RawArticle, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		article, ok := fromItem(feed, item, fetchedAt)
		if !ok {
			continue
		}
		articles = append(articles, article)
	}

	if len(parsed.Items) > 0 && len(articles) == 0 {
		return nil, unavailable(feed, fmt.Errorf("none of %d entries has a title and link", len(parsed.Items)))
	}
	return articles, nil
}

func fromItem(feed config.FeedConfig, item *gofeed.Item, fetchedAt time.Time) (domain.RawArticle, bool) {
	title := web.PlainText(item.Title)
	link := strings.TrimSpace(item.Link)
	if title == "" || link == "" {
		return domain.RawArticle{}, false
	}

	publishedAt := fetchedAt
	switch {
	case item.PublishedParsed != nil:
		publishedAt = item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		publishedAt = item.UpdatedParsed.UTC()
	}

	excerpt := item.Description
	if strings.TrimSpace(excerpt) == "" {
		excerpt = item.Content
	}

	return domain.RawArticle{
		Title:       title,
		URL:         link,
		PublishedAt: publishedAt,
		Excerpt:     web.PlainText(excerpt),
		Language:    feed.Language(),
		FeedName:    feed.Label(),
	}, true
}

func unavailable(feed config.FeedConfig, err error) error {
	return &domain.FeedUnavailableError{Feed: feed.Label(), URL: feed.URL, Err: err}
}
