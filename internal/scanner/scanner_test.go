package scanner

import (
	"context"
	"testing"

	"MachineryNews/internal/config"
	"MachineryNews/internal/domain"
)

type stubReader struct{ kind string }

func (s stubReader) Kind() string { return s.kind }

func (s stubReader) Fetch(context.Context, config.FeedConfig) ([]domain.RawArticle, error) {
	return nil, nil
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(stubReader{kind: "rss"})

	got, err := reg.Resolve("rss")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if got.Kind() != "rss" {
		t.Fatalf("unexpected reader: %s", got.Kind())
	}

	if _, err := reg.Resolve("html"); err == nil {
		t.Fatalf("expected error for unregistered kind")
	}
}

func TestRegistryZeroValue(t *testing.T) {
	t.Parallel()

	var reg Registry
	reg.Register(stubReader{kind: "html"})
	if _, err := reg.Resolve("html"); err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
}
