package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"MachineryNews/internal/domain"
)

const (
	configPathEnv      = "MACHINERY_NEWS_CONFIG"
	databaseTokenEnv   = "DATABASE_TOKEN"
	databaseIDEnv      = "DATABASE_ID"
	databaseBackendEnv = "DATABASE_BACKEND"
	aiAPIKeyEnv        = "AI_API_KEY"
	aiProviderEnv      = "AI_PROVIDER"
	aiModelEnv         = "AI_MODEL"
	logLevelEnv        = "LOG_LEVEL"
	logFormatEnv       = "LOG_FORMAT"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv  = "TELEGRAM_CHAT_ID"
)

const (
	BackendNotion   = "notion"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"

	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	KindRSS  = "rss"
	KindHTML = "html"
)

var tableNameExpr = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds every setting of a single run.
type Config struct {
	Database      DatabaseConfig     `yaml:"database"`
	AI            AIConfig           `yaml:"ai"`
	Enrichment    EnrichmentConfig   `yaml:"enrichment"`
	Limits        LimitsConfig       `yaml:"limits"`
	Timeouts      TimeoutConfig      `yaml:"timeouts"`
	Retry         RetryConfig        `yaml:"retry"`
	Logging       LoggingConfig      `yaml:"logging"`
	Notifications NotificationConfig `yaml:"notifications"`
	Feeds         []FeedConfig       `yaml:"feeds"`
}

// DatabaseConfig points at the record store.
// For SQL backends Token carries the DSN and ID the table name.
type DatabaseConfig struct {
	Backend    string        `yaml:"backend"`
	Token      string        `yaml:"token"`
	ID         string        `yaml:"id"`
	Properties PropertyNames `yaml:"properties"`
}

// PropertyNames maps record fields to database property names.
// Optional properties are written only when named.
type PropertyNames struct {
	Title       string `yaml:"title"`
	Summary     string `yaml:"summary"`
	Content     string `yaml:"content"`
	URL         string `yaml:"url"`
	PublishedAt string `yaml:"publishedAt"`

	Source   string `yaml:"source"`
	Language string `yaml:"language"`
	Region   string `yaml:"region"`
	Segment  string `yaml:"segment"`
	Brand    string `yaml:"brand"`
}

// AIConfig defines how to contact the generative-language API.
type AIConfig struct {
	Provider          string `yaml:"provider"`
	Model             string `yaml:"model"`
	APIKey            string `yaml:"apiKey"`
	Endpoint          string `yaml:"endpoint"`
	SystemPrompt      string `yaml:"systemPrompt"`
	RequestsPerMinute int    `yaml:"requestsPerMinute"`
}

// EnrichmentConfig tunes prompt input and post-processing.
type EnrichmentConfig struct {
	ExtractContent bool `yaml:"extractContent"`
	MinBodyChars   int  `yaml:"minBodyChars"`
	MaxBodyChars   int  `yaml:"maxBodyChars"`
	DropIrrelevant bool `yaml:"dropIrrelevant"`
}

// LimitsConfig bounds the volume of a run.
type LimitsConfig struct {
	PerFeed         int            `yaml:"perFeed"`
	PerLanguage     map[string]int `yaml:"perLanguage"`
	Concurrency     int            `yaml:"concurrency"`
	FeedConcurrency int            `yaml:"feedConcurrency"`
}

// Quota returns the per-run cap for a language; 0 means unlimited.
func (l LimitsConfig) Quota(lang domain.Language) int {
	for key, value := range l.PerLanguage {
		if parsed, err := domain.ParseLanguage(key); err == nil && parsed == lang {
			return value
		}
	}
	return 0
}

// TimeoutConfig bounds every external call.
type TimeoutConfig struct {
	Feed     time.Duration `yaml:"feed"`
	AI       time.Duration `yaml:"ai"`
	Database time.Duration `yaml:"database"`
}

// RetryConfig is the bounded retry policy applied to external calls.
type RetryConfig struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	Delay       time.Duration `yaml:"delay"`
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NotificationConfig encapsulates outbound channels for the run report.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// Enabled reports whether both token and chat are set.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// FeedConfig is a single news source.
type FeedConfig struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Lang    string            `yaml:"lang"`
	Kind    string            `yaml:"kind"`
	Options map[string]string `yaml:"options"`
}

// Language resolves the feed's language tag; invalid tags are rejected by Validate.
func (f FeedConfig) Language() domain.Language {
	lang, err := domain.ParseLanguage(f.Lang)
	if err != nil {
		return ""
	}
	return lang
}

// ReaderKind defaults to rss.
func (f FeedConfig) ReaderKind() string {
	if strings.TrimSpace(f.Kind) == "" {
		return KindRSS
	}
	return strings.ToLower(strings.TrimSpace(f.Kind))
}

// Label is the feed name, or its URL when unnamed.
func (f FeedConfig) Label() string {
	if f.Name != "" {
		return f.Name
	}
	return f.URL
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else if fileCfg, err := parse(raw); err != nil {
			log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
		} else {
			cfg = fileCfg
		}
	}

	cfg.applyEnvOverrides(os.Getenv)
	cfg.applyFallbacks()
	return cfg
}

// parse decodes YAML on top of the defaults; sections absent from the file keep their defaults.
func parse(raw []byte) (Config, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	if len(cfg.Feeds) == 0 {
		cfg.Feeds = defaultFeeds()
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides(getenv func(string) string) {
	if v := getenv(databaseTokenEnv); v != "" {
		c.Database.Token = v
	}
	if v := getenv(databaseIDEnv); v != "" {
		c.Database.ID = v
	}
	if v := getenv(databaseBackendEnv); v != "" {
		c.Database.Backend = v
	}

	if v := getenv(aiAPIKeyEnv); v != "" {
		c.AI.APIKey = v
	}
	if v := getenv(aiProviderEnv); v != "" {
		c.AI.Provider = v
	}
	if v := getenv(aiModelEnv); v != "" {
		c.AI.Model = v
	}

	if v := getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
	if v := getenv(logFormatEnv); v != "" {
		c.Logging.Format = v
	}

	if v := getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
}

// applyFallbacks restores defaults for values a config file zeroed out.
func (c *Config) applyFallbacks() {
	def := defaultConfig()

	c.Database.Backend = strings.ToLower(strings.TrimSpace(c.Database.Backend))
	if c.Database.Backend == "" {
		c.Database.Backend = def.Database.Backend
	}
	props := &c.Database.Properties
	if props.Title == "" {
		props.Title = def.Database.Properties.Title
	}
	if props.Summary == "" {
		props.Summary = def.Database.Properties.Summary
	}
	if props.Content == "" {
		props.Content = def.Database.Properties.Content
	}
	if props.URL == "" {
		props.URL = def.Database.Properties.URL
	}
	if props.PublishedAt == "" {
		props.PublishedAt = def.Database.Properties.PublishedAt
	}

	c.AI.Provider = strings.ToLower(strings.TrimSpace(c.AI.Provider))
	if c.AI.Provider == "" {
		c.AI.Provider = def.AI.Provider
	}
	if c.AI.Model == "" {
		if c.AI.Provider == ProviderOpenAI {
			c.AI.Model = "gpt-4o-mini"
		} else {
			c.AI.Model = def.AI.Model
		}
	}
	if c.AI.Endpoint == "" && c.AI.Provider == ProviderOpenAI {
		c.AI.Endpoint = "https://api.openai.com/v1/chat/completions"
	}

	if c.Enrichment.MaxBodyChars <= 0 {
		c.Enrichment.MaxBodyChars = def.Enrichment.MaxBodyChars
	}
	if c.Limits.Concurrency <= 0 {
		c.Limits.Concurrency = 1
	}
	if c.Limits.FeedConcurrency <= 0 {
		c.Limits.FeedConcurrency = def.Limits.FeedConcurrency
	}

	if c.Timeouts.Feed <= 0 {
		c.Timeouts.Feed = def.Timeouts.Feed
	}
	if c.Timeouts.AI <= 0 {
		c.Timeouts.AI = def.Timeouts.AI
	}
	if c.Timeouts.Database <= 0 {
		c.Timeouts.Database = def.Timeouts.Database
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 1
	}
}

// Validate reports every missing credential or malformed setting as a single ConfigError.
func (c Config) Validate() error {
	var problems []string
	missing := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			problems = append(problems, name+" is required")
		}
	}

	missing(databaseTokenEnv, c.Database.Token)
	missing(databaseIDEnv, c.Database.ID)
	missing(aiAPIKeyEnv, c.AI.APIKey)

	switch c.Database.Backend {
	case BackendNotion:
	case BackendPostgres, BackendSQLite:
		if c.Database.ID != "" && !tableNameExpr.MatchString(c.Database.ID) {
			problems = append(problems, fmt.Sprintf("%s %q is not a valid table name", databaseIDEnv, c.Database.ID))
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown database backend %q", c.Database.Backend))
	}

	switch c.AI.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		problems = append(problems, fmt.Sprintf("unknown ai provider %q", c.AI.Provider))
	}

	if c.Retry.MaxAttempts > 2 {
		problems = append(problems, "retry.maxAttempts must be 1 or 2")
	}

	if len(c.Feeds) == 0 {
		problems = append(problems, "no feeds configured")
	}
	for i, feed := range c.Feeds {
		label := feed.Name
		if label == "" {
			label = "#" + strconv.Itoa(i)
		}
		parsed, err := url.Parse(feed.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			problems = append(problems, fmt.Sprintf("feed %s: invalid url %q", label, feed.URL))
		}
		if _, err := domain.ParseLanguage(feed.Lang); err != nil {
			problems = append(problems, fmt.Sprintf("feed %s: %v", label, err))
		}
		switch feed.ReaderKind() {
		case KindRSS:
		case KindHTML:
			if feed.Options["item"] == "" {
				problems = append(problems, fmt.Sprintf("feed %s: html feeds need an item selector", label))
			}
		default:
			problems = append(problems, fmt.Sprintf("feed %s: unknown kind %q", label, feed.Kind))
		}
	}

	if len(problems) > 0 {
		return &domain.ConfigError{Problems: problems}
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Backend: BackendNotion,
			Properties: PropertyNames{
				Title:       "Title",
				Summary:     "Summary",
				Content:     "Content",
				URL:         "URL",
				PublishedAt: "PublishedAt",
			},
		},
		AI: AIConfig{
			Provider:          ProviderGemini,
			Model:             "gemini-2.5-flash",
			RequestsPerMinute: 10,
		},
		Enrichment: EnrichmentConfig{
			ExtractContent: true,
			MinBodyChars:   50,
			MaxBodyChars:   4000,
			DropIrrelevant: true,
		},
		Limits: LimitsConfig{
			PerFeed:         3,
			PerLanguage:     map[string]int{"en": 15, "ja": 5},
			Concurrency:     1,
			FeedConcurrency: 4,
		},
		Timeouts: TimeoutConfig{
			Feed:     20 * time.Second,
			AI:       90 * time.Second,
			Database: 30 * time.Second,
		},
		Retry:   RetryConfig{MaxAttempts: 2, Delay: 2 * time.Second},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Feeds:   defaultFeeds(),
	}
}

func googleNews(query, lang string) string {
	if lang == "ja" {
		return "https://news.google.com/rss/search?q=" + url.QueryEscape(query) + "&hl=ja&gl=JP&ceid=JP:ja"
	}
	return "https://news.google.com/rss/search?q=" + url.QueryEscape(query) + "&hl=en-US&gl=US&ceid=US:en"
}

func defaultFeeds() []FeedConfig {
	en := func(name, feedURL string) FeedConfig { return FeedConfig{Name: name, URL: feedURL, Lang: "en"} }
	ja := func(name, feedURL string) FeedConfig { return FeedConfig{Name: name, URL: feedURL, Lang: "ja"} }

	return []FeedConfig{
		en("International Construction (KHL)", googleNews("site:khl.com International Construction", "en")),
		en("Mining.com", "https://www.mining.com/feed/"),
		en("Construction Equipment Guide", "https://www.constructionequipmentguide.com/rss/news"),

		en("Caterpillar (USA)", googleNews("site:caterpillar.com/en/news", "en")),
		en("Komatsu (Global)", googleNews("site:komatsu.jp/en/newsroom OR site:komatsu.com/en/newsroom", "en")),
		en("John Deere (USA)", googleNews("site:deere.com/en/news", "en")),
		en("Volvo CE (Sweden)", googleNews("site:volvoce.com/global/en/news-and-events/news", "en")),
		en("Hitachi CM (Japan)", googleNews("site:hitachicm.com/global/en/news-and-media", "en")),
		en("Liebherr (Germany)", googleNews("site:liebherr.com/en/int/about-liebherr/news-and-press-releases", "en")),
		en("Sany (China)", googleNews("site:sanyglobal.com/news", "en")),
		en("XCMG (China)", googleNews("site:xcmgglobal.com/news", "en")),
		en("Zoomlion (China)", googleNews("site:zoomlion.com/news", "en")),
		en("Kobelco (Japan)", googleNews("site:kobelcocm-global.com/news", "en")),
		en("Sumitomo CM (Japan)", googleNews("site:sumitomokenki.com/news", "en")),
		en("Doosan Bobcat (Korea)", googleNews("site:bobcat.com/na/en/news-and-media OR site:doosanbobcat.com/en/media", "en")),
		en("Kubota (Japan)", googleNews("site:kubota.com/news", "en")),
		en("JCB (UK)", googleNews("site:jcb.com/en-gb/about/news", "en")),

		ja("Kensetsu News", googleNews("建設通信新聞", "ja")),
		ja("Nikkei (Construction Machinery)", googleNews("site:nikkei.com 建設機械", "ja")),
		ja("Nikkan Kogyo (Construction Machinery)", googleNews("site:nikkan.co.jp 建設機械", "ja")),

		ja("Google News (Construction Machinery)", googleNews("建設機械", "ja")),
	}
}
