package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"MachineryNews/internal/domain"
	"MachineryNews/internal/ports"
)

// SQLRepository stores articles in a Postgres or SQLite table.
type SQLRepository struct {
	db      *sql.DB
	table   string
	builder sq.StatementBuilderType
}

var _ ports.ArticleStore = (*SQLRepository)(nil)

// Open connects with the given driver ("postgres" or "sqlite") and creates the table if needed.
func Open(ctx context.Context, driver, dsn, table string) (*SQLRepository, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}

	repo := NewSQLRepository(db, driver, table)
	if err := repo.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// NewSQLRepository wires an already opened sql.DB.
func NewSQLRepository(db *sql.DB, driver, table string) *SQLRepository {
	var placeholder sq.PlaceholderFormat = sq.Question
	if driver == "postgres" {
		placeholder = sq.Dollar
	}
	return &SQLRepository{
		db:      db,
		table:   table,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholder),
	}
}

func (r *SQLRepository) migrate(ctx context.Context) error {
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		url TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		summary TEXT NOT NULL,
		content TEXT NOT NULL,
		published_at TIMESTAMP NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		original_title TEXT NOT NULL DEFAULT '',
		original_summary TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`, r.table)

	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate %s: %w", r.table, err)
	}
	return nil
}

// ExistingURLs returns the subset of urls already stored.
func (r *SQLRepository) ExistingURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if r.db == nil || len(urls) == 0 {
		return result, nil
	}

	query, args, err := r.builder.Select("url").From(r.table).Where(sq.Eq{"url": urls}).ToSql()
	if err != nil {
		return nil, &domain.PersistenceError{Op: "read", Err: fmt.Errorf("build query: %w", err)}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "read", Err: fmt.Errorf("query known urls: %w", err)}
	}
	defer rows.Close()

	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, &domain.PersistenceError{Op: "read", Err: fmt.Errorf("scan url: %w", err)}
		}
		result[url] = true
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "read", Err: fmt.Errorf("rows iteration: %w", err)}
	}
	return result, nil
}

// Create inserts one row; an existing URL is rejected, never overwritten.
func (r *SQLRepository) Create(ctx context.Context, article domain.EnrichedArticle) (domain.RecordID, error) {
	if r.db == nil {
		return "", &domain.PersistenceError{Op: "create", URL: article.URL, Err: fmt.Errorf("no database")}
	}

	query, args, err := r.builder.Insert(r.table).
		Columns("url", "title", "summary", "content", "published_at", "source", "language",
			"original_title", "original_summary", "tags", "created_at").
		Values(
			article.URL,
			article.DisplayTitle(),
			article.DisplaySummary(),
			article.Content(),
			article.PublishedAt.UTC(),
			article.FeedName,
			string(article.Language),
			article.Title,
			article.Summary,
			joinTags(article.Tags),
			time.Now().UTC(),
		).ToSql()
	if err != nil {
		return "", &domain.PersistenceError{Op: "create", URL: article.URL, Err: fmt.Errorf("build insert: %w", err)}
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return "", &domain.PersistenceError{Op: "create", URL: article.URL, Err: fmt.Errorf("insert: %w", err)}
	}
	return domain.RecordID(article.URL), nil
}

// Close releases the connection pool.
func (r *SQLRepository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

func joinTags(tags domain.Tags) string {
	var parts []string
	for _, group := range [][]string{tags.Region, tags.Segment, tags.Brand} {
		parts = append(parts, group...)
	}
	return strings.Join(parts, ",")
}
