package domain

import (
	"fmt"
	"strings"
	"time"
)

// Language tags the source language of a feed and its articles.
type Language string

const (
	LanguageEN Language = "EN"
	LanguageJA Language = "JA"
)

// ParseLanguage accepts the tags used in feed lists ("en", "ja", "jp").
func ParseLanguage(value string) (Language, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "EN":
		return LanguageEN, nil
	case "JA", "JP":
		return LanguageJA, nil
	default:
		return "", fmt.Errorf("unsupported language %q", value)
	}
}

// NeedsTranslation reports whether articles in this language get a Japanese translation.
func (l Language) NeedsTranslation() bool {
	return l == LanguageEN
}

// RawArticle is a feed entry as read from its source.
type RawArticle struct {
	Title       string
	URL         string
	PublishedAt time.Time
	Excerpt     string
	Language    Language
	FeedName    string

	// FeedURL is the link as listed in the feed, set when URL was resolved to another address.
	FeedURL string
	// PageText is the article page text loaded while resolving the link.
	PageText string
}

// Tags are the classification labels produced during enrichment.
type Tags struct {
	Region  []string
	Segment []string
	Brand   []string
}

// EnrichedArticle carries AI output next to the original article.
type EnrichedArticle struct {
	RawArticle

	Summary string
	// TranslatedSummary is set only for articles that need translation.
	TranslatedSummary *string

	TranslatedTitle string
	Body            string
	TranslatedBody  string
	Tags            Tags
	Relevant        bool
}

// DisplayTitle prefers the translated title.
func (a EnrichedArticle) DisplayTitle() string {
	if strings.TrimSpace(a.TranslatedTitle) != "" {
		return a.TranslatedTitle
	}
	return a.Title
}

// DisplaySummary prefers the translated summary.
func (a EnrichedArticle) DisplaySummary() string {
	if a.TranslatedSummary != nil && *a.TranslatedSummary != "" {
		return *a.TranslatedSummary
	}
	return a.Summary
}

// Content is the record body: the translation when there is one, else the original text.
func (a EnrichedArticle) Content() string {
	if strings.TrimSpace(a.TranslatedBody) != "" {
		return a.TranslatedBody
	}
	if strings.TrimSpace(a.Body) != "" {
		return a.Body
	}
	return a.Excerpt
}

// PageContent is an article page after redirects were followed.
type PageContent struct {
	URL  string
	Text string
}

// PersistedRecord is the minimal view of an entry that already exists in the store.
type PersistedRecord struct {
	URL   string
	Title string
}

// RecordID identifies an entry created in the store.
type RecordID string
