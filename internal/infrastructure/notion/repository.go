package notion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jomei/notionapi"

	"MachineryNews/internal/config"
	"MachineryNews/internal/domain"
	"MachineryNews/internal/ports"
	"MachineryNews/internal/retry"
)

const (
	queryPageSize = 100
	// Notion caps a text object at 2000 characters and an array at 100 items.
	maxTextRunes  = 2000
	maxRichTexts  = 100
	maxBlocks     = 100
	headingSum    = "要約"
	headingTrans  = "日本語訳"
	headingSource = "原文"
	// A run reads the known set twice (feed links, then resolved links).
	snapshotTTL = 5 * time.Minute
)

// Repository stores articles as pages of a Notion database.
type Repository struct {
	client     *notionapi.Client
	databaseID notionapi.DatabaseID
	props      config.PropertyNames
	now        func() time.Time

	mu       sync.Mutex
	known    map[string]bool
	loadedAt time.Time
}

var _ ports.ArticleStore = (*Repository)(nil)

// NewRepository builds a client for the configured database; httpClient may be nil.
func NewRepository(cfg config.DatabaseConfig, httpClient *http.Client) *Repository {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	client := notionapi.NewClient(notionapi.Token(cfg.Token), notionapi.WithHTTPClient(httpClient))
	return &Repository{
		client:     client,
		databaseID: notionapi.DatabaseID(cfg.ID),
		props:      cfg.Properties,
		now:        time.Now,
	}
}

// Records pages through the whole database and returns the url/title of every entry.
func (r *Repository) Records(ctx context.Context) ([]domain.PersistedRecord, error) {
	var (
		records []domain.PersistedRecord
		cursor  notionapi.Cursor
	)
	for {
		resp, err := r.client.Database.Query(ctx, r.databaseID, &notionapi.DatabaseQueryRequest{
			StartCursor: cursor,
			PageSize:    queryPageSize,
		})
		if err != nil {
			return nil, classify(&domain.PersistenceError{Op: "read", Err: fmt.Errorf("query database: %w", err)}, err)
		}

		for _, page := range resp.Results {
			url := urlValue(page.Properties[r.props.URL])
			if url == "" {
				continue
			}
			records = append(records, domain.PersistedRecord{URL: url, Title: textValue(page.Properties[r.props.Title])})
		}

		if !resp.HasMore || resp.NextCursor == "" {
			return records, nil
		}
		cursor = resp.NextCursor
	}
}

// ExistingURLs returns which of urls already have a page. The database is
// scanned once per snapshotTTL; pages created through r are added to the
// snapshot.
func (r *Repository) ExistingURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if len(urls) == 0 {
		return result, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.refresh(ctx); err != nil {
		return nil, err
	}
	for _, u := range urls {
		if r.known[u] {
			result[u] = true
		}
	}
	return result, nil
}

// refresh reloads the known set when it is missing or stale; r.mu must be held.
func (r *Repository) refresh(ctx context.Context) error {
	if r.known != nil && r.now().Sub(r.loadedAt) < snapshotTTL {
		return nil
	}
	records, err := r.Records(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(records))
	for _, rec := range records {
		known[rec.URL] = true
	}
	r.known = known
	r.loadedAt = r.now()
	return nil
}

func (r *Repository) remember(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.known != nil {
		r.known[url] = true
	}
}

// Create adds one page; Notion validation errors are not retried.
func (r *Repository) Create(ctx context.Context, article domain.EnrichedArticle) (domain.RecordID, error) {
	page, err := r.client.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: r.databaseID,
		},
		Properties: r.properties(article),
		Children:   pageBlocks(article),
	})
	if err != nil {
		return "", classify(&domain.PersistenceError{Op: "create", URL: article.URL, Err: err}, err)
	}
	r.remember(article.URL)
	return domain.RecordID(page.ID), nil
}

func (r *Repository) properties(article domain.EnrichedArticle) notionapi.Properties {
	published := notionapi.Date(article.PublishedAt)

	props := notionapi.Properties{
		r.props.Title:       &notionapi.TitleProperty{Title: richText(article.DisplayTitle())},
		r.props.Summary:     &notionapi.RichTextProperty{RichText: richText(article.DisplaySummary())},
		r.props.Content:     &notionapi.RichTextProperty{RichText: richText(article.Content())},
		r.props.URL:         &notionapi.URLProperty{URL: article.URL},
		r.props.PublishedAt: &notionapi.DateProperty{Date: &notionapi.DateObject{Start: &published}},
	}

	if r.props.Source != "" && article.FeedName != "" {
		props[r.props.Source] = &notionapi.SelectProperty{Select: notionapi.Option{Name: article.FeedName}}
	}
	if r.props.Language != "" && article.Language != "" {
		props[r.props.Language] = &notionapi.SelectProperty{Select: notionapi.Option{Name: string(article.Language)}}
	}
	if r.props.Region != "" {
		props[r.props.Region] = multiSelect(article.Tags.Region)
	}
	if r.props.Segment != "" {
		props[r.props.Segment] = multiSelect(article.Tags.Segment)
	}
	if r.props.Brand != "" {
		props[r.props.Brand] = multiSelect(article.Tags.Brand)
	}
	return props
}

func pageBlocks(article domain.EnrichedArticle) []notionapi.Block {
	var blocks []notionapi.Block
	add := func(heading, text string) {
		if strings.TrimSpace(text) == "" {
			return
		}
		blocks = append(blocks, heading2(heading))
		for _, chunk := range chunks(text, maxTextRunes) {
			blocks = append(blocks, paragraph(chunk))
		}
	}

	add(headingSum, article.DisplaySummary())
	if article.TranslatedSummary != nil {
		add(headingSum+" (EN)", article.Summary)
	}
	add(headingTrans, article.TranslatedBody)
	add(headingSource, article.Body)

	if len(blocks) > maxBlocks {
		blocks = blocks[:maxBlocks]
	}
	return blocks
}

func heading2(text string) *notionapi.Heading2Block {
	return &notionapi.Heading2Block{
		BasicBlock: notionapi.BasicBlock{Object: notionapi.ObjectTypeBlock, Type: notionapi.BlockTypeHeading2},
		Heading2:   notionapi.Heading{RichText: richText(text)},
	}
}

func paragraph(text string) *notionapi.ParagraphBlock {
	return &notionapi.ParagraphBlock{
		BasicBlock: notionapi.BasicBlock{Object: notionapi.ObjectTypeBlock, Type: notionapi.BlockTypeParagraph},
		Paragraph:  notionapi.Paragraph{RichText: richText(text)},
	}
}

func richText(text string) []notionapi.RichText {
	parts := chunks(text, maxTextRunes)
	if len(parts) > maxRichTexts {
		parts = parts[:maxRichTexts]
	}
	out := make([]notionapi.RichText, 0, len(parts))
	for _, part := range parts {
		out = append(out, notionapi.RichText{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: part},
		})
	}
	return out
}

func multiSelect(values []string) *notionapi.MultiSelectProperty {
	options := make([]notionapi.Option, 0, len(values))
	for _, v := range values {
		options = append(options, notionapi.Option{Name: v})
	}
	return &notionapi.MultiSelectProperty{MultiSelect: options}
}

// chunks splits s into pieces of at most size runes.
func chunks(s string, size int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

func urlValue(prop notionapi.Property) string {
	switch p := prop.(type) {
	case *notionapi.URLProperty:
		return p.URL
	case notionapi.URLProperty:
		return p.URL
	default:
		return textValue(prop)
	}
}

func textValue(prop notionapi.Property) string {
	var parts []notionapi.RichText
	switch p := prop.(type) {
	case *notionapi.TitleProperty:
		parts = p.Title
	case notionapi.TitleProperty:
		parts = p.Title
	case *notionapi.RichTextProperty:
		parts = p.RichText
	case notionapi.RichTextProperty:
		parts = p.RichText
	}

	var b strings.Builder
	for _, rt := range parts {
		switch {
		case rt.PlainText != "":
			b.WriteString(rt.PlainText)
		case rt.Text != nil:
			b.WriteString(rt.Text.Content)
		}
	}
	return b.String()
}

// classify marks client-side rejections (bad schema, auth) as permanent.
func classify(wrapped, cause error) error {
	var apiErr *notionapi.Error
	if errors.As(cause, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests {
		return retry.Permanent(wrapped)
	}
	return wrapped
}
