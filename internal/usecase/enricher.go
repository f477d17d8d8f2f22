package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"MachineryNews/internal/domain"
	"MachineryNews/internal/ports"
	"MachineryNews/internal/retry"
)

const japaneseOriginalMarker = "Original is Japanese"

var (
	errEmptyOutput      = errors.New("model returned empty output")
	errEmptySummary     = errors.New("model returned no summary")
	errMissingTranslate = errors.New("model returned no japanese summary")
)

// EnricherDeps wires the model.
type EnricherDeps struct {
	Generator    ports.Generator
	AIPolicy     retry.Policy
	MaxBodyChars int
	Logger       *slog.Logger
}

// Enricher asks the language model for a summary and, for English sources, a Japanese translation.
type Enricher struct {
	generator    ports.Generator
	aiPolicy     retry.Policy
	maxBodyChars int
	logger       *slog.Logger
}

var _ ports.Enricher = (*Enricher)(nil)

// NewEnricher constructs the enrichment engine.
func NewEnricher(deps EnricherDeps) *Enricher {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Enricher{
		generator:    deps.Generator,
		aiPolicy:     deps.AIPolicy,
		maxBodyChars: deps.MaxBodyChars,
		logger:       logger,
	}
}

// Enrich produces the enriched article or an *domain.EnrichmentError.
func (e *Enricher) Enrich(ctx context.Context, article domain.RawArticle) (domain.EnrichedArticle, error) {
	if e.generator == nil {
		return domain.EnrichedArticle{}, &domain.EnrichmentError{URL: article.URL, Err: errors.New("no generator configured")}
	}

	body := e.body(article)
	prompt := buildPrompt(article, body)

	var output string
	err := retry.Do(ctx, e.aiPolicy, func(ctx context.Context) error {
		var genErr error
		output, genErr = e.generator.Generate(ctx, prompt)
		return genErr
	})
	if err != nil {
		return domain.EnrichedArticle{}, &domain.EnrichmentError{URL: article.URL, Err: err}
	}

	enriched, err := toEnriched(article, body, output)
	if err != nil {
		e.logger.Debug("model output rejected", "url", article.URL, "output_chars", utf8.RuneCountInString(output), "error", err)
		return domain.EnrichedArticle{}, &domain.EnrichmentError{URL: article.URL, Err: err}
	}
	return enriched, nil
}

// body is the publisher page text when the link was resolved, else the feed excerpt.
func (e *Enricher) body(article domain.RawArticle) string {
	body := strings.TrimSpace(article.PageText)
	if body == "" {
		body = strings.TrimSpace(article.Excerpt)
	}
	return truncateRunes(body, e.maxBodyChars)
}

func buildPrompt(article domain.RawArticle, body string) string {
	var b strings.Builder
	b.WriteString("You are an expert analyst of the construction-machinery industry. Process this news article.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", article.Title)
	fmt.Fprintf(&b, "Original Language: %s\n", article.Language)
	fmt.Fprintf(&b, "Published: %s\n", article.PublishedAt.Format("2006-01-02"))
	b.WriteString("Body Text (Excerpt):\n")
	if body == "" {
		b.WriteString("(no body text available, use the title only)\n")
	} else {
		b.WriteString(body)
		b.WriteString("\n")
	}

	b.WriteString("\nTasks:\n")
	if article.Language.NeedsTranslation() {
		b.WriteString("1. summary: summarize the key points in English in exactly 3 bullet points.\n")
		b.WriteString("2. translated_summary: the same 3 bullet points in natural Japanese.\n")
		b.WriteString("3. translated_title: a natural Japanese title.\n")
		b.WriteString("4. translated_body: a natural Japanese translation of the body text.\n")
	} else {
		b.WriteString("1. summary: summarize the key points in Japanese in exactly 3 bullet points.\n")
		b.WriteString("2. translated_summary: empty string, the article is already Japanese.\n")
		b.WriteString("3. translated_title: the original title.\n")
		fmt.Fprintf(&b, "4. translated_body: %q.\n", japaneseOriginalMarker)
	}
	b.WriteString("5. is_relevant_news: true for significant news (product launch, partnership, market trend, policy), false for raw stock data, bare earnings tables or unrelated topics.\n")
	b.WriteString("6. region: one or more of [Africa, North America, India, China, Japan, Southeast Asia, Europe, Global].\n")
	b.WriteString("7. segment: one or more of [Utility, Forklift, Agriculture, Construction, Mining].\n")
	b.WriteString("8. brand: manufacturers mentioned, e.g. [Komatsu, Caterpillar, Hitachi, Volvo, Liebherr, John Deere, Sany, XCMG, Zoomlion, Kobelco, Sumitomo].\n")
	b.WriteString("\nRespond with JSON only:\n")
	b.WriteString(`{"summary": "...", "translated_summary": "...", "translated_title": "...", "translated_body": "...", "is_relevant_news": true, "region": ["..."], "segment": ["..."], "brand": ["..."]}`)
	return b.String()
}

// textList accepts either a JSON string or a list of strings.
type textList []string

func (t *textList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = nil
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*t = items
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*t = textList{single}
	return nil
}

func (t textList) joined() string {
	parts := make([]string, 0, len(t))
	for _, item := range t {
		if item = strings.TrimSpace(item); item != "" {
			parts = append(parts, item)
		}
	}
	return strings.Join(parts, "\n")
}

// tags splits comma separated labels, including the Japanese comma.
func (t textList) tags() []string {
	var out []string
	seen := map[string]bool{}
	for _, item := range t {
		for _, part := range strings.FieldsFunc(item, func(r rune) bool { return r == ',' || r == '、' }) {
			part = strings.TrimSpace(part)
			if part == "" || seen[part] {
				continue
			}
			seen[part] = true
			out = append(out, part)
		}
	}
	return out
}

type analysis struct {
	Summary           textList `json:"summary"`
	TranslatedSummary textList `json:"translated_summary"`
	TranslatedTitle   string   `json:"translated_title"`
	TranslatedBody    string   `json:"translated_body"`
	IsRelevantNews    *bool    `json:"is_relevant_news"`
	Region            textList `json:"region"`
	Segment           textList `json:"segment"`
	Brand             textList `json:"brand"`
}

func parseAnalysis(output string) (analysis, error) {
	text := strings.TrimSpace(output)
	if text == "" {
		return analysis{}, errEmptyOutput
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var result analysis
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return analysis{}, fmt.Errorf("decode model output: %w", err)
	}
	return result, nil
}

func toEnriched(article domain.RawArticle, body, output string) (domain.EnrichedArticle, error) {
	result, err := parseAnalysis(output)
	if err != nil {
		return domain.EnrichedArticle{}, err
	}

	summary := result.Summary.joined()
	if summary == "" {
		return domain.EnrichedArticle{}, errEmptySummary
	}

	enriched := domain.EnrichedArticle{
		RawArticle: article,
		Summary:    summary,
		Body:       body,
		Tags: domain.Tags{
			Region:  result.Region.tags(),
			Segment: result.Segment.tags(),
			Brand:   result.Brand.tags(),
		},
		Relevant: result.IsRelevantNews == nil || *result.IsRelevantNews,
	}

	if article.Language.NeedsTranslation() {
		translated := result.TranslatedSummary.joined()
		if translated == "" {
			return domain.EnrichedArticle{}, errMissingTranslate
		}
		enriched.TranslatedSummary = &translated
		enriched.TranslatedTitle = strings.TrimSpace(result.TranslatedTitle)

		translatedBody := strings.TrimSpace(result.TranslatedBody)
		if !strings.Contains(translatedBody, japaneseOriginalMarker) {
			enriched.TranslatedBody = translatedBody
		}
	}

	return enriched, nil
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}
