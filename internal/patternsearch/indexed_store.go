package patternsearch

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// IndexedStore is a pattern.Store that keeps an Index in step with writes.
// Index failures are logged; they never fail the store write, and the next
// Rebuild repairs the index.
type IndexedStore struct {
	pattern.Store
	index  *Index
	logger *zap.Logger
}

var _ pattern.Store = (*IndexedStore)(nil)

// NewIndexedStore wraps store so that Create indexes and Delete unindexes.
func NewIndexedStore(store pattern.Store, index *Index, logger *zap.Logger) *IndexedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexedStore{Store: store, index: index, logger: logger}
}

// Create stores p and adds it to the index.
func (s *IndexedStore) Create(ctx context.Context, p pattern.NewPattern) (string, error) {
	id, err := s.Store.Create(ctx, p)
	if err != nil {
		return "", err
	}

	err = s.index.Add(ctx, pattern.Pattern{
		ID:          id,
		Fingerprint: p.Fingerprint,
		Target:      p.Target,
		Instruction: p.Instruction,
		Approach:    p.Approach,
	})
	if err != nil {
		s.logger.Warn("failed to index pattern",
			zap.String("pattern_id", id),
			zap.String("fingerprint", p.Fingerprint),
			zap.Error(err),
		)
	}
	return id, nil
}

// Delete removes the pattern from the store and then from the index.
func (s *IndexedStore) Delete(ctx context.Context, id string) error {
	if err := s.Store.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.index.Remove(ctx, id); err != nil {
		s.logger.Warn("failed to remove pattern from index",
			zap.String("pattern_id", id),
			zap.Error(err),
		)
	}
	return nil
}
