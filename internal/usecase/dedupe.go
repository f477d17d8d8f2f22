package usecase

import (
	"context"
	"errors"

	"MachineryNews/internal/domain"
	"MachineryNews/internal/ports"
	"MachineryNews/internal/retry"
)

// Deduplicator drops candidates whose URL is already stored.
type Deduplicator struct {
	store  ports.ArticleStore
	policy retry.Policy
}

// NewDeduplicator wires the store used for the known-URL lookup.
func NewDeduplicator(store ports.ArticleStore, policy retry.Policy) *Deduplicator {
	return &Deduplicator{store: store, policy: policy}
}

// Filter returns the novel candidates in their original order and how many were dropped.
// The store is queried once for the whole batch; URLs repeated within the batch keep their first occurrence.
func (d *Deduplicator) Filter(ctx context.Context, candidates []domain.RawArticle) ([]domain.RawArticle, int, error) {
	if len(candidates) == 0 {
		return nil, 0, nil
	}

	urls := make([]string, 0, len(candidates))
	inBatch := make(map[string]bool, len(candidates))
	for _, article := range candidates {
		if inBatch[article.URL] {
			continue
		}
		inBatch[article.URL] = true
		urls = append(urls, article.URL)
	}

	known, err := d.lookup(ctx, urls)
	if err != nil {
		return nil, 0, err
	}
	return collapse(candidates, known)
}

// FilterResolved is the second pass after link resolution. Only URLs that
// differ from the feed link are looked up, since feed links already went
// through Filter; two links resolving to the same page keep the first.
func (d *Deduplicator) FilterResolved(ctx context.Context, articles []domain.RawArticle) ([]domain.RawArticle, int, error) {
	if len(articles) == 0 {
		return nil, 0, nil
	}

	var urls []string
	inBatch := make(map[string]bool)
	for _, article := range articles {
		if article.FeedURL == "" || article.FeedURL == article.URL || inBatch[article.URL] {
			continue
		}
		inBatch[article.URL] = true
		urls = append(urls, article.URL)
	}

	known := map[string]bool{}
	if len(urls) > 0 {
		var err error
		if known, err = d.lookup(ctx, urls); err != nil {
			return nil, 0, err
		}
	}
	return collapse(articles, known)
}

func (d *Deduplicator) lookup(ctx context.Context, urls []string) (map[string]bool, error) {
	var known map[string]bool
	err := retry.Do(ctx, d.policy, func(ctx context.Context) error {
		var lookupErr error
		known, lookupErr = d.store.ExistingURLs(ctx, urls)
		return lookupErr
	})
	if err != nil {
		var persistErr *domain.PersistenceError
		if !errors.As(err, &persistErr) {
			err = &domain.PersistenceError{Op: "read", Err: err}
		}
		return nil, err
	}
	return known, nil
}

func collapse(candidates []domain.RawArticle, known map[string]bool) ([]domain.RawArticle, int, error) {
	novel := make([]domain.RawArticle, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, article := range candidates {
		if known[article.URL] || seen[article.URL] {
			continue
		}
		seen[article.URL] = true
		novel = append(novel, article)
	}
	return novel, len(candidates) - len(novel), nil
}
