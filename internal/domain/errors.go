package domain

import (
	"fmt"
	"strings"
)

// ConfigError is fatal: the run stops before any external call.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// FeedUnavailableError means a feed could not be retrieved or parsed.
type FeedUnavailableError struct {
	Feed string
	URL  string
	Err  error
}

func (e *FeedUnavailableError) Error() string {
	return fmt.Sprintf("feed %s (%s) unavailable: %v", e.Feed, e.URL, e.Err)
}

func (e *FeedUnavailableError) Unwrap() error { return e.Err }

// EnrichmentError means the language model failed for one article.
type EnrichmentError struct {
	URL string
	Err error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrich %s: %v", e.URL, e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }

// PersistenceError means the store rejected a read or a write.
type PersistenceError struct {
	Op  string
	URL string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
