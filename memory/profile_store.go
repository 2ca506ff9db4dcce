// Package memory holds in-process implementations of the lectio stores, used
// by tests and by the CLI when no database is configured.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/pilab-dev/lectio/domain"
)

// ProfileStore is a domain.ProfileStore backed by nested maps.
type ProfileStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]domain.Document
}

var _ domain.ProfileStore = (*ProfileStore)(nil)

// NewProfileStore returns an empty store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{collections: map[string]map[string]domain.Document{}}
}

// WriteDocument stores a copy of doc. With opts.Merge the copy is merged into
// the existing document.
func (s *ProfileStore) WriteDocument(ctx context.Context, collection, key string,
	doc domain.Document, opts domain.WriteOptions,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return errors.New("profile store: empty document key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[collection]
	if !ok {
		coll = map[string]domain.Document{}
		s.collections[collection] = coll
	}

	if existing, ok := coll[key]; ok && opts.Merge {
		coll[key] = domain.MergeDocument(existing, doc)
		return nil
	}
	coll[key] = domain.CloneDocument(doc)
	return nil
}

// ReadDocument returns a copy of the stored document.
func (s *ProfileStore) ReadDocument(ctx context.Context, collection, key string) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][key]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return domain.CloneDocument(doc), nil
}
