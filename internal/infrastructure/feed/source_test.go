package feed

import (
	"context"
	"errors"
	"sync"
	"testing"

	"MachineryNews/internal/config"
	"MachineryNews/internal/domain"
	"MachineryNews/internal/retry"
	"MachineryNews/internal/scanner"
)

type fakeReader struct {
	mu       sync.Mutex
	calls    map[string]int
	articles map[string][]domain.RawArticle
	failures map[string]int
}

func (f *fakeReader) Kind() string { return config.KindRSS }

func (f *fakeReader) Fetch(_ context.Context, feed config.FeedConfig) ([]domain.RawArticle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[feed.URL]++
	if f.failures[feed.URL] >= f.calls[feed.URL] {
		return nil, &domain.FeedUnavailableError{Feed: feed.Label(), URL: feed.URL, Err: errors.New("down")}
	}
	return f.articles[feed.URL], nil
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		calls:    map[string]int{},
		articles: map[string][]domain.RawArticle{},
		failures: map[string]int{},
	}
}

func TestSourceFetchAllIsolatesFailures(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	reader.articles["https://a.example.com/rss"] = []domain.RawArticle{
		{Title: "A1", URL: "https://a.example.com/1"},
		{Title: "A2", URL: "https://a.example.com/2"},
		{Title: "A3", URL: "https://a.example.com/3"},
	}
	reader.articles["https://c.example.com/rss"] = []domain.RawArticle{
		{Title: "C1", URL: "https://c.example.com/1", FeedName: "custom"},
	}
	reader.failures["https://b.example.com/rss"] = 10

	reg := scanner.NewRegistry()
	reg.Register(reader)

	src := NewSource(reg, SourceOptions{Policy: retry.Policy{MaxAttempts: 2}, PerFeed: 2, Concurrency: 3}, nil)
	feeds := []config.FeedConfig{
		{Name: "A", URL: "https://a.example.com/rss", Lang: "en"},
		{Name: "B", URL: "https://b.example.com/rss", Lang: "en"},
		{Name: "C", URL: "https://c.example.com/rss", Lang: "ja"},
	}

	articles, failed := src.FetchAll(context.Background(), feeds)
	if failed != 1 {
		t.Fatalf("expected 1 failed feed, got %d", failed)
	}
	if len(articles) != 3 {
		t.Fatalf("expected 3 articles (2 capped from A + 1 from C), got %d", len(articles))
	}
	if articles[0].Title != "A1" || articles[1].Title != "A2" || articles[2].Title != "C1" {
		t.Fatalf("unexpected order: %+v", articles)
	}
	if articles[0].FeedName != "A" || articles[0].Language != domain.LanguageEN {
		t.Fatalf("feed metadata not filled: %+v", articles[0])
	}
	if articles[2].FeedName != "custom" || articles[2].Language != domain.LanguageJA {
		t.Fatalf("unexpected metadata: %+v", articles[2])
	}
	if reader.calls["https://b.example.com/rss"] != 2 {
		t.Fatalf("expected one retry for failing feed, got %d calls", reader.calls["https://b.example.com/rss"])
	}
}

func TestSourceRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	reader.articles["https://a.example.com/rss"] = []domain.RawArticle{{Title: "A1", URL: "https://a.example.com/1"}}
	reader.failures["https://a.example.com/rss"] = 1

	reg := scanner.NewRegistry()
	reg.Register(reader)

	src := NewSource(reg, SourceOptions{Policy: retry.Policy{MaxAttempts: 2}}, nil)
	articles, failed := src.FetchAll(context.Background(), []config.FeedConfig{{URL: "https://a.example.com/rss", Lang: "en"}})
	if failed != 0 || len(articles) != 1 {
		t.Fatalf("expected recovery after retry, got %d articles, %d failed", len(articles), failed)
	}
}

func TestSourceUnknownKind(t *testing.T) {
	t.Parallel()

	src := NewSource(scanner.NewRegistry(), SourceOptions{}, nil)
	articles, failed := src.FetchAll(context.Background(), []config.FeedConfig{{URL: "https://x.example.com", Lang: "en", Kind: "html"}})
	if failed != 1 || len(articles) != 0 {
		t.Fatalf("expected unresolved reader to count as failed feed, got %d/%d", len(articles), failed)
	}
}
