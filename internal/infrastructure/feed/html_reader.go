package feed

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"MachineryNews/internal/config"
	"MachineryNews/internal/domain"
	"MachineryNews/internal/infrastructure/web"
	"MachineryNews/internal/scanner"
)

var dateExpr = regexp.MustCompile(`\d{4}[-/.]\d{1,2}[-/.]\d{1,2}|\d{1,2} [A-Za-z]{3,9},? \d{4}|[A-Za-z]{3,9} \d{1,2}, \d{4}|\d{4}年\d{1,2}月\d{1,2}日`)

var dateLayouts = []string{
	"2006-01-02", "2006/01/02", "2006.01.02", "2006-1-2", "2006/1/2",
	"2 Jan 2006", "2 January 2006", "2 Jan, 2006", "2 January, 2006",
	"Jan 2, 2006", "January 2, 2006",
	"2006年1月2日",
}

// HTMLReader scans newsroom listing pages that publish no feed.
//
// Options: item (required), title, link (default "a"), date, excerpt, dateLayout.
type HTMLReader struct {
	client *web.Client
	now    func() time.Time
}

var _ scanner.Reader = (*HTMLReader)(nil)

// NewHTMLReader wires an HTTP client; nil uses the web defaults.
func NewHTMLReader(client *web.Client) *HTMLReader {
	if client == nil {
		client = web.NewClient(nil)
	}
	return &HTMLReader{client: client, now: time.Now}
}

// Kind identifies the strategy inside the registry.
func (h *HTMLReader) Kind() string {
	return config.KindHTML
}

// Fetch downloads the listing page and extracts one article per item selector match.
func (h *HTMLReader) Fetch(ctx context.Context, feed config.FeedConfig) ([]domain.RawArticle, error) {
	base, err := url.Parse(feed.URL)
	if err != nil {
		return nil, unavailable(feed, fmt.Errorf("invalid url: %w", err))
	}

	body, err := h.client.Get(ctx, feed.URL)
	if err != nil {
		return nil, unavailable(feed, err)
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, unavailable(feed, fmt.Errorf("parse document: %w", err))
	}

	fetchedAt := h.now().UTC()
	items := doc.Find(feed.Options["item"])
	if items.Length() == 0 {
		// A page that stops matching usually means the site layout changed.
		return nil, unavailable(feed, fmt.Errorf("item selector %q matched nothing", feed.Options["item"]))
	}
	articles := make([]domain.RawArticle, 0, items.Length())
	items.Each(func(_ int, item *goquery.Selection) {
		article, ok := parseItem(item, base, feed, fetchedAt)
		if ok {
			articles = append(articles, article)
		}
	})

	if len(articles) == 0 {
		return nil, unavailable(feed, fmt.Errorf("none of %d items has a title and link", items.Length()))
	}
	return articles, nil
}

func parseItem(item *goquery.Selection, base *url.URL, feed config.FeedConfig, fetchedAt time.Time) (domain.RawArticle, bool) {
	opts := feed.Options

	linkSel := item
	if sel := opts["link"]; sel != "" {
		linkSel = item.Find(sel).First()
	} else if !item.Is("a") {
		linkSel = item.Find("a[href]").First()
	}
	href, _ := linkSel.Attr("href")
	href = strings.TrimSpace(href)
	if href == "" {
		return domain.RawArticle{}, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return domain.RawArticle{}, false
	}
	link := base.ResolveReference(ref).String()

	titleSel := linkSel
	if sel := opts["title"]; sel != "" {
		titleSel = item.Find(sel).First()
	}
	title := web.Text(titleSel)
	if title == "" {
		return domain.RawArticle{}, false
	}

	var excerpt string
	if sel := opts["excerpt"]; sel != "" {
		excerpt = web.Text(item.Find(sel).First())
	}

	publishedAt := fetchedAt
	if sel := opts["date"]; sel != "" {
		dateSel := item.Find(sel).First()
		raw, ok := dateSel.Attr("datetime")
		if !ok {
			raw = dateSel.Text()
		}
		if parsed, ok := parseDate(raw, opts["dateLayout"]); ok {
			publishedAt = parsed
		}
	}

	return domain.RawArticle{
		Title:       title,
		URL:         link,
		PublishedAt: publishedAt,
		Excerpt:     excerpt,
		Language:    feed.Language(),
		FeedName:    feed.Label(),
	}, true
}

func parseDate(raw, layout string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if layout != "" {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), true
	}

	match := dateExpr.FindString(raw)
	if match == "" {
		return time.Time{}, false
	}
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, match); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
