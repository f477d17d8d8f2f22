package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"MachineryNews/internal/config"
	"MachineryNews/internal/domain"
	"MachineryNews/internal/ports"
)

const defaultAPIBase = "https://api.telegram.org"

// Notifier sends run reports to a Telegram chat via bot API.
type Notifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(cfg config.TelegramConfig, client *http.Client) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Notifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		apiBase:  defaultAPIBase,
		client:   client,
	}
}

// WithAPIBase points the notifier at another bot API host.
func (n *Notifier) WithAPIBase(base string) *Notifier {
	n.apiBase = strings.TrimRight(base, "/")
	return n
}

// PublishSummary posts the run report as plain text.
func (n *Notifier) PublishSummary(ctx context.Context, summary domain.RunSummary) error {
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", formatSummary(summary))
	form.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}

func formatSummary(s domain.RunSummary) string {
	var b strings.Builder
	b.WriteString("Machinery news run ")
	b.WriteString(string(s.State))
	b.WriteString("\n")
	fmt.Fprintf(&b, "fetched: %d\n", s.Fetched)
	fmt.Fprintf(&b, "already stored: %d\n", s.Deduplicated)
	fmt.Fprintf(&b, "enriched: %d (failed %d)\n", s.Enriched, s.EnrichmentFailed)
	fmt.Fprintf(&b, "written: %d (failed %d)\n", s.Written, s.WriteFailed)
	if s.FeedsFailed > 0 {
		fmt.Fprintf(&b, "feeds failed: %d\n", s.FeedsFailed)
	}
	if s.OverQuota > 0 {
		fmt.Fprintf(&b, "over quota: %d\n", s.OverQuota)
	}
	if s.Irrelevant > 0 {
		fmt.Fprintf(&b, "not relevant: %d\n", s.Irrelevant)
	}
	if s.StoreUnavailable {
		b.WriteString("store unavailable, nothing written\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
