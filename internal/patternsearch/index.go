// Package patternsearch implements pattern.Searcher over a chromem-go collection.
//
// Each stored pattern is one document whose id is the pattern id and whose
// content is pattern.QueryText(fingerprint, target). Queries return candidates
// hydrated from the pattern store, so counts and timestamps are always current.
package patternsearch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/embeddings"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

const instrumentationName = "github.com/fyrsmithlabs/patternd/internal/patternsearch"

const (
	// DefaultCollection is the chromem collection holding pattern documents.
	DefaultCollection = "patterns"

	// rebuildBatchSize is the page size used when reindexing from the store.
	rebuildBatchSize = 256
)

// Config configures an Index.
type Config struct {
	// Collection is the chromem collection name. Defaults to DefaultCollection.
	Collection string

	// Path persists the index under this directory. Empty keeps it in memory.
	Path string

	// Compress gzips persisted documents.
	Compress bool
}

// Index is a similarity index over stored patterns.
type Index struct {
	db       *chromem.DB
	embedder embeddings.Embedder
	store    pattern.Store
	cfg      Config
	logger   *zap.Logger
	tracer   trace.Tracer

	// mu guards coll, which Rebuild replaces.
	mu   sync.RWMutex
	coll *chromem.Collection
}

var _ pattern.Searcher = (*Index)(nil)

// NewIndex creates an index. Candidates returned by Query are read from store.
func NewIndex(cfg Config, embedder embeddings.Embedder, store pattern.Store, logger *zap.Logger) (*Index, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if store == nil {
		return nil, errors.New("pattern store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding index path: %w", err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem DB: %w", err)
		}
		cfg.Path = path
	}

	ix := &Index{
		db:       db,
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
	}

	coll, err := db.GetOrCreateCollection(cfg.Collection, nil, ix.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", cfg.Collection, err)
	}
	ix.coll = coll
	indexedPatterns.Set(float64(coll.Count()))

	logger.Info("pattern index opened",
		zap.String("collection", cfg.Collection),
		zap.String("path", cfg.Path),
		zap.Int("documents", coll.Count()),
	)
	return ix, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func (ix *Index) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return ix.embedder.EmbedQuery(ctx, text)
	}
}

func document(p pattern.Pattern) chromem.Document {
	return chromem.Document{
		ID:      p.ID,
		Content: pattern.QueryText(p.Fingerprint, p.Target),
		Metadata: map[string]string{
			"fingerprint": p.Fingerprint,
			"approach":    string(p.Approach),
		},
	}
}

// Add indexes p, replacing any document with the same id.
func (ix *Index) Add(ctx context.Context, p pattern.Pattern) error {
	if p.ID == "" {
		return errors.New("pattern id is required")
	}

	doc := document(p)
	vectors, err := ix.embedder.EmbedDocuments(ctx, []string{doc.Content})
	if err != nil {
		return fmt.Errorf("embedding pattern %s: %w", p.ID, err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("embedding pattern %s: got %d vectors, want 1", p.ID, len(vectors))
	}
	doc.Embedding = vectors[0]

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if err := ix.coll.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("indexing pattern %s: %w", p.ID, err)
	}
	indexedPatterns.Set(float64(ix.coll.Count()))
	return nil
}

// Remove drops the document for id. Removing an unknown id is not an error.
func (ix *Index) Remove(ctx context.Context, id string) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if err := ix.coll.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("removing pattern %s from index: %w", id, err)
	}
	indexedPatterns.Set(float64(ix.coll.Count()))
	return nil
}

// Count returns the number of indexed patterns.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.coll.Count()
}

// Rebuild recreates the collection from every pattern in the store and
// returns the number indexed. Queries block until it finishes.
func (ix *Index) Rebuild(ctx context.Context) (int, error) {
	ctx, span := ix.tracer.Start(ctx, "patternsearch.rebuild")
	defer span.End()

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.db.DeleteCollection(ix.cfg.Collection); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("deleting collection %s: %w", ix.cfg.Collection, err)
	}
	coll, err := ix.db.CreateCollection(ix.cfg.Collection, nil, ix.embeddingFunc())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("creating collection %s: %w", ix.cfg.Collection, err)
	}
	ix.coll = coll

	indexed := 0
	for offset := 0; ; offset += rebuildBatchSize {
		batch, err := ix.store.List(ctx, rebuildBatchSize, offset)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return indexed, fmt.Errorf("listing patterns at offset %d: %w", offset, err)
		}
		if len(batch) == 0 {
			break
		}

		texts := make([]string, len(batch))
		docs := make([]chromem.Document, len(batch))
		for i, p := range batch {
			docs[i] = document(p)
			texts[i] = docs[i].Content
		}
		vectors, err := ix.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return indexed, fmt.Errorf("embedding patterns: %w", err)
		}
		for i := range docs {
			docs[i].Embedding = vectors[i]
		}
		if err := coll.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return indexed, fmt.Errorf("indexing patterns: %w", err)
		}
		indexed += len(docs)

		if len(batch) < rebuildBatchSize {
			break
		}
	}

	indexedPatterns.Set(float64(indexed))
	span.SetAttributes(attribute.Int("indexed", indexed))
	ix.logger.Info("pattern index rebuilt",
		zap.String("collection", ix.cfg.Collection),
		zap.Int("indexed", indexed),
	)
	return indexed, nil
}

// Query returns up to k patterns most similar to text. Index hits whose
// pattern no longer exists in the store are skipped.
func (ix *Index) Query(ctx context.Context, text string, k int) (candidates []pattern.Candidate, err error) {
	ctx, span := ix.tracer.Start(ctx, "patternsearch.query",
		trace.WithAttributes(attribute.Int("k", k)),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		result := "success"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		queryDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}()

	if strings.TrimSpace(text) == "" {
		return nil, errors.New("query text cannot be empty")
	}

	ix.mu.RLock()
	coll := ix.coll
	ix.mu.RUnlock()

	// chromem requires nResults <= document count.
	if n := coll.Count(); k > n {
		k = n
	}
	if k <= 0 {
		return []pattern.Candidate{}, nil
	}

	results, err := coll.Query(ctx, text, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", ix.cfg.Collection, err)
	}

	candidates = make([]pattern.Candidate, 0, len(results))
	for _, r := range results {
		p, err := ix.store.Get(ctx, r.ID)
		if errors.Is(err, pattern.ErrNotFound) {
			staleHits.Inc()
			ix.logger.Debug("skipping stale index hit", zap.String("pattern_id", r.ID))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading pattern %s: %w", r.ID, err)
		}
		candidates = append(candidates, pattern.Candidate{
			Pattern:    *p,
			Similarity: clamp01(float64(r.Similarity)),
		})
	}

	span.SetAttributes(attribute.Int("results", len(candidates)))
	return candidates, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
