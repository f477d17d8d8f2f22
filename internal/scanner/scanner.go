package scanner

import (
	"fmt"

	"MachineryNews/internal/ports"
)

// Reader is a feed reader strategy (rss, html, ...).
type Reader interface {
	Kind() string
	ports.FeedReader
}

// Registry keeps a mapping from feed kinds to their readers.
type Registry struct {
	readers map[string]Reader
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{readers: map[string]Reader{}}
}

// Register adds or replaces a reader implementation.
func (r *Registry) Register(reader Reader) {
	if r.readers == nil {
		r.readers = map[string]Reader{}
	}
	r.readers[reader.Kind()] = reader
}

// Resolve returns a reader by kind or an error if it is absent.
func (r *Registry) Resolve(kind string) (Reader, error) {
	if reader, ok := r.readers[kind]; ok {
		return reader, nil
	}
	return nil, fmt.Errorf("reader %s is not registered", kind)
}
