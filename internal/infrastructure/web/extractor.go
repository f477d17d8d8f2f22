package web

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"MachineryNews/internal/domain"
	"MachineryNews/internal/ports"
)

const minParagraphRunes = 20

// Extractor follows article links to the publisher page and pulls its paragraph text.
type Extractor struct {
	client   *Client
	maxChars int
}

var _ ports.ContentExtractor = (*Extractor)(nil)

// NewExtractor limits extracted text to maxChars runes (0 keeps everything).
func NewExtractor(client *Client, maxChars int) *Extractor {
	if client == nil {
		client = NewClient(nil)
	}
	return &Extractor{client: client, maxChars: maxChars}
}

// Extract loads link, following HTTP redirects and, for Google News article
// pages that redirect in the browser, one hop to the publisher link found in
// the page. It returns the final URL and the page's paragraphs longer than
// 20 characters, newline separated.
func (e *Extractor) Extract(ctx context.Context, link string) (domain.PageContent, error) {
	doc, final, err := e.load(ctx, link)
	if err != nil {
		return domain.PageContent{}, err
	}

	if isGoogleNews(final) {
		target := publisherLink(doc, final)
		if target == "" {
			return domain.PageContent{}, fmt.Errorf("no publisher link on %s", final)
		}
		doc, final, err = e.load(ctx, target)
		if err != nil {
			return domain.PageContent{}, err
		}
	}

	var paragraphs []string
	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := Text(p)
		if utf8.RuneCountInString(text) > minParagraphRunes {
			paragraphs = append(paragraphs, text)
		}
	})

	return domain.PageContent{
		URL:  final,
		Text: Truncate(strings.Join(dedupeLines(paragraphs), "\n"), e.maxChars),
	}, nil
}

func (e *Extractor) load(ctx context.Context, link string) (*goquery.Document, string, error) {
	body, final, err := e.client.Open(ctx, link)
	if err != nil {
		return nil, "", err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, "", fmt.Errorf("parse page: %w", err)
	}
	return doc, final, nil
}

func isGoogleNews(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return u.Hostname() == "news.google.com"
}

func isGoogleHost(host string) bool {
	host = strings.ToLower(host)
	return host == "google.com" || strings.HasSuffix(host, ".google.com") ||
		strings.HasSuffix(host, ".googleusercontent.com") || strings.HasSuffix(host, ".gstatic.com")
}

// publisherLink finds the article address on a Google News page: the
// data-n-au attribute, a refresh meta tag, a canonical link or the first
// anchor that leaves Google, in that order.
func publisherLink(doc *goquery.Document, pageURL string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}

	var candidates []string
	if v, ok := doc.Find("[data-n-au]").First().Attr("data-n-au"); ok {
		candidates = append(candidates, v)
	}
	doc.Find("meta[http-equiv]").Each(func(_ int, m *goquery.Selection) {
		equiv, _ := m.Attr("http-equiv")
		content, _ := m.Attr("content")
		if !strings.EqualFold(equiv, "refresh") {
			return
		}
		if i := strings.Index(strings.ToLower(content), "url="); i >= 0 {
			candidates = append(candidates, strings.Trim(content[i+len("url="):], `'" `))
		}
	})
	if v, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		candidates = append(candidates, v)
	}
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		candidates = append(candidates, href)
		return len(candidates) < 64
	})

	for _, c := range candidates {
		ref, err := url.Parse(strings.TrimSpace(c))
		if err != nil {
			continue
		}
		resolved := base.ResolveReference(ref)
		if (resolved.Scheme == "http" || resolved.Scheme == "https") && !isGoogleHost(resolved.Hostname()) {
			return resolved.String()
		}
	}
	return ""
}

// dedupeLines drops repeated boilerplate paragraphs.
func dedupeLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := lines[:0]
	for _, line := range lines {
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
