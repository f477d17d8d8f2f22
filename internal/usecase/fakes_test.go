package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"MachineryNews/internal/config"
	"MachineryNews/internal/domain"
)

type memoryStore struct {
	mu        sync.Mutex
	urls      map[string]bool
	created   []domain.EnrichedArticle
	lookups   int
	failRead  error
	failWrite map[string]bool
	writes    map[string]int
}

func newMemoryStore(known ...string) *memoryStore {
	s := &memoryStore{urls: map[string]bool{}, failWrite: map[string]bool{}, writes: map[string]int{}}
	for _, u := range known {
		s.urls[u] = true
	}
	return s
}

func (s *memoryStore) ExistingURLs(_ context.Context, urls []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.failRead != nil {
		return nil, s.failRead
	}
	out := map[string]bool{}
	for _, u := range urls {
		if s.urls[u] {
			out[u] = true
		}
	}
	return out, nil
}

func (s *memoryStore) Create(_ context.Context, article domain.EnrichedArticle) (domain.RecordID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes[article.URL]++
	if s.failWrite[article.URL] {
		return "", &domain.PersistenceError{Op: "create", URL: article.URL, Err: errors.New("validation_error")}
	}
	s.urls[article.URL] = true
	s.created = append(s.created, article)
	return domain.RecordID(fmt.Sprintf("rec-%d", len(s.created))), nil
}

type staticSource struct {
	articles []domain.RawArticle
	failed   int
	calls    int
}

func (s *staticSource) FetchAll(context.Context, []config.FeedConfig) ([]domain.RawArticle, int) {
	s.calls++
	out := make([]domain.RawArticle, len(s.articles))
	copy(out, s.articles)
	return out, s.failed
}

// scriptedEnricher fails for URLs listed in fail and marks URLs in irrelevant as not relevant.
type scriptedEnricher struct {
	mu         sync.Mutex
	fail       map[string]bool
	irrelevant map[string]bool
	calls      []string
}

func (e *scriptedEnricher) Enrich(_ context.Context, article domain.RawArticle) (domain.EnrichedArticle, error) {
	e.mu.Lock()
	e.calls = append(e.calls, article.URL)
	e.mu.Unlock()

	if e.fail[article.URL] {
		return domain.EnrichedArticle{}, &domain.EnrichmentError{URL: article.URL, Err: errors.New("model returned empty output")}
	}
	out := domain.EnrichedArticle{RawArticle: article, Summary: "summary of " + article.Title, Relevant: !e.irrelevant[article.URL]}
	if article.Language.NeedsTranslation() {
		ja := "要約: " + article.Title
		out.TranslatedSummary = &ja
	}
	return out, nil
}

type recordingNotifier struct {
	summaries []domain.RunSummary
	err       error
}

func (n *recordingNotifier) PublishSummary(_ context.Context, summary domain.RunSummary) error {
	n.summaries = append(n.summaries, summary)
	return n.err
}

type scriptedGenerator struct {
	mu       sync.Mutex
	outputs  []string
	errs     []error
	prompts  []string
	fallback string
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := len(g.prompts)
	g.prompts = append(g.prompts, prompt)
	if i < len(g.errs) && g.errs[i] != nil {
		return "", g.errs[i]
	}
	if i < len(g.outputs) {
		return g.outputs[i], nil
	}
	return g.fallback, nil
}

// stubExtractor maps links to pages; unknown links resolve to themselves with no text.
type stubExtractor struct {
	mu    sync.Mutex
	pages map[string]domain.PageContent
	fail  map[string]bool
	calls int
}

func (s *stubExtractor) Extract(_ context.Context, url string) (domain.PageContent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail[url] {
		return domain.PageContent{}, errors.New("403 Forbidden")
	}
	if page, ok := s.pages[url]; ok {
		return page, nil
	}
	return domain.PageContent{URL: url}, nil
}

func articles(lang domain.Language, urls ...string) []domain.RawArticle {
	out := make([]domain.RawArticle, 0, len(urls))
	for _, u := range urls {
		title := u[strings.LastIndex(u, "/")+1:]
		out = append(out, domain.RawArticle{Title: title, URL: u, Language: lang, FeedName: "test"})
	}
	return out
}
