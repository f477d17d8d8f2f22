package notion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"MachineryNews/internal/config"
	"MachineryNews/internal/domain"
)

// redirect sends every request to the test server regardless of the host the client targets.
type redirect struct {
	target *url.URL
}

func (r redirect) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = r.target.Scheme
	out.URL.Host = r.target.Host
	out.Host = r.target.Host
	return http.DefaultTransport.RoundTrip(out)
}

func newTestRepository(t *testing.T, handler http.Handler) *Repository {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	target, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	cfg := config.DatabaseConfig{
		Backend: config.BackendNotion,
		Token:   "secret_test",
		ID:      "db123",
		Properties: config.PropertyNames{
			Title:       "Title",
			Summary:     "Summary",
			Content:     "Content",
			URL:         "URL",
			PublishedAt: "PublishedAt",
			Brand:       "Brand",
		},
	}
	return NewRepository(cfg, &http.Client{Transport: redirect{target: target}, Timeout: 5 * time.Second})
}

func pageJSON(id, link string) map[string]any {
	return map[string]any{
		"object": "page",
		"id":     id,
		"properties": map[string]any{
			"URL": map[string]any{"id": "u", "type": "url", "url": link},
			"Title": map[string]any{"id": "title", "type": "title", "title": []any{
				map[string]any{"type": "text", "text": map[string]any{"content": "title " + id}, "plain_text": "title " + id},
			}},
		},
	}
}

func TestExistingURLsPagesThroughDatabase(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		cursors []string
	)
	repo := newTestRepository(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/databases/db123/query" {
			http.Error(w, "unexpected "+r.URL.Path, http.StatusNotFound)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret_test" {
			http.Error(w, "bad auth "+got, http.StatusUnauthorized)
			return
		}
		var body struct {
			StartCursor string `json:"start_cursor"`
			PageSize    int    `json:"page_size"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		mu.Lock()
		cursors = append(cursors, body.StartCursor)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if body.StartCursor == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"object":      "list",
				"results":     []any{pageJSON("p1", "https://a.example.com/1")},
				"has_more":    true,
				"next_cursor": "c2",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object":   "list",
			"results":  []any{pageJSON("p2", "https://a.example.com/2")},
			"has_more": false,
		})
	}))

	got, err := repo.ExistingURLs(context.Background(), []string{
		"https://a.example.com/2",
		"https://a.example.com/3",
	})
	if err != nil {
		t.Fatalf("ExistingURLs: %v", err)
	}
	if len(got) != 1 || !got["https://a.example.com/2"] {
		t.Fatalf("unexpected existing set: %v", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(cursors) != 2 || cursors[0] != "" || cursors[1] != "c2" {
		t.Fatalf("unexpected cursors: %v", cursors)
	}
}

func TestExistingURLsEmptyInputSkipsQuery(t *testing.T) {
	t.Parallel()

	hits := 0
	repo := newTestRepository(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))

	got, err := repo.ExistingURLs(context.Background(), nil)
	if err != nil {
		t.Fatalf("ExistingURLs: %v", err)
	}
	if len(got) != 0 || hits != 0 {
		t.Fatalf("expected no query, got %d hits and %v", hits, got)
	}
}

func TestExistingURLsReusesSnapshot(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		queries int
	)
	repo := newTestRepository(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/v1/pages" {
			_ = json.NewEncoder(w).Encode(map[string]any{"object": "page", "id": "page-9"})
			return
		}
		mu.Lock()
		queries++
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object":   "list",
			"results":  []any{pageJSON("p1", "https://a.example.com/1")},
			"has_more": false,
		})
	}))
	clock := time.Date(2025, time.November, 9, 7, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return clock }

	ctx := context.Background()
	if got, err := repo.ExistingURLs(ctx, []string{"https://a.example.com/1"}); err != nil || !got["https://a.example.com/1"] {
		t.Fatalf("first lookup: %v %v", got, err)
	}
	if _, err := repo.Create(ctx, domain.EnrichedArticle{
		RawArticle: domain.RawArticle{Title: "Liebherr R 926", URL: "https://publisher.example.com/r926", Language: domain.LanguageEN},
		Summary:    "Liebherr showed the R 926.",
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := repo.ExistingURLs(ctx, []string{"https://publisher.example.com/r926", "https://a.example.com/2"})
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if len(got) != 1 || !got["https://publisher.example.com/r926"] {
		t.Fatalf("created page should be known: %v", got)
	}

	mu.Lock()
	if queries != 1 {
		t.Fatalf("expected one database scan, got %d", queries)
	}
	mu.Unlock()

	clock = clock.Add(snapshotTTL)
	if _, err := repo.ExistingURLs(ctx, []string{"https://a.example.com/1"}); err != nil {
		t.Fatalf("lookup after ttl: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if queries != 2 {
		t.Fatalf("stale snapshot should be reloaded, got %d scans", queries)
	}
}

func TestCreateSendsPropertiesAndBlocks(t *testing.T) {
	t.Parallel()

	var received map[string]any
	repo := newTestRepository(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/pages" {
			http.Error(w, "unexpected "+r.URL.Path, http.StatusNotFound)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "page", "id": "page-1"})
	}))

	ja := "コマツが新型ショベルを発表"
	article := domain.EnrichedArticle{
		RawArticle: domain.RawArticle{
			Title:       "Komatsu launches excavator",
			URL:         "https://a.example.com/komatsu",
			PublishedAt: time.Date(2025, time.November, 8, 9, 0, 0, 0, time.UTC),
			Language:    domain.LanguageEN,
			FeedName:    "Equipment World",
		},
		Summary:           "Komatsu launched an excavator.",
		TranslatedSummary: &ja,
		TranslatedTitle:   "コマツ、新型ショベル",
		Body:              "Komatsu today launched a new excavator.",
		TranslatedBody:    "コマツは本日、新型ショベルを発売した。",
		Tags:              domain.Tags{Brand: []string{"Komatsu"}},
	}

	id, err := repo.Create(context.Background(), article)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != "page-1" {
		t.Fatalf("unexpected id: %s", id)
	}

	parent, _ := received["parent"].(map[string]any)
	if parent["database_id"] != "db123" {
		t.Fatalf("unexpected parent: %v", received["parent"])
	}
	props, _ := received["properties"].(map[string]any)
	for _, name := range []string{"Title", "Summary", "Content", "URL", "PublishedAt", "Brand"} {
		if _, ok := props[name]; !ok {
			t.Fatalf("missing property %q in %v", name, props)
		}
	}
	encoded, _ := json.Marshal(props["Title"])
	if !strings.Contains(string(encoded), "コマツ、新型ショベル") {
		t.Fatalf("title should be the translated one: %s", encoded)
	}
	urlProp, _ := props["URL"].(map[string]any)
	if urlProp["url"] != article.URL {
		t.Fatalf("unexpected url property: %v", props["URL"])
	}
	children, _ := received["children"].([]any)
	if len(children) == 0 {
		t.Fatal("expected page body blocks")
	}
}

func TestCreateRejectedByNotion(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"object":"error","status":400,"code":"validation_error","message":"URL is not a property that exists."}`))
	}))

	_, err := repo.Create(context.Background(), domain.EnrichedArticle{
		RawArticle: domain.RawArticle{Title: "t", URL: "https://a.example.com/x", Language: domain.LanguageJA},
		Summary:    "s",
	})
	var persistErr *domain.PersistenceError
	if !errors.As(err, &persistErr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if persistErr.URL != "https://a.example.com/x" {
		t.Fatalf("unexpected url in error: %s", persistErr.URL)
	}
}

func TestChunksSplitsOnRunes(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("日", 4500)
	parts := chunks(text, maxTextRunes)
	if len(parts) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(parts))
	}
	if got := len([]rune(parts[2])); got != 500 {
		t.Fatalf("unexpected tail length: %d", got)
	}
	if chunks("", maxTextRunes) != nil {
		t.Fatal("empty text should produce no chunks")
	}
}

func TestPageBlocksAreCapped(t *testing.T) {
	t.Parallel()

	article := domain.EnrichedArticle{
		RawArticle: domain.RawArticle{Language: domain.LanguageJA},
		Summary:    "要約",
		Body:       strings.Repeat("a", maxTextRunes*150),
	}
	if got := len(pageBlocks(article)); got != maxBlocks {
		t.Fatalf("expected %d blocks, got %d", maxBlocks, got)
	}
}
