package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider names accepted by NewProvider.
const (
	ProviderTEI       = "tei"
	ProviderFastEmbed = "fastembed"
	ProviderHash      = "hash"
)

// DefaultModel is the model used when none is configured.
const DefaultModel = "BAAI/bge-small-en-v1.5"

// Embedder generates embeddings for documents and queries.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is an Embedder with a known dimension and resources to release.
type Provider interface {
	Embedder
	Dimension() int
	Close() error
}

// ProviderConfig selects and configures a provider.
type ProviderConfig struct {
	// Provider is "tei", "fastembed" or "hash".
	Provider string

	// Model is the embedding model name (tei, fastembed).
	Model string

	// BaseURL is the TEI server URL.
	BaseURL string

	// CacheDir is the FastEmbed model cache directory.
	CacheDir string

	// Dimension is the vector size of the hash provider.
	Dimension int
}

// modelDimensions lists the output size of models we know about.
var modelDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
}

// DimensionForModel returns the embedding dimension of model, guessing from
// the name when the model is unknown.
func DimensionForModel(model string) int {
	if dim, ok := modelDimensions[model]; ok {
		return dim
	}
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "large"):
		return 1024
	case strings.Contains(m, "base"):
		return 768
	default:
		return 384
	}
}

// NewProvider creates the configured provider.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	switch cfg.Provider {
	case ProviderFastEmbed, "":
		p, err := NewFastEmbedProvider(FastEmbedConfig{Model: model, CacheDir: cfg.CacheDir})
		if err != nil {
			return nil, err
		}
		return p, nil
	case ProviderTEI:
		c, err := NewTEIClient(TEIConfig{BaseURL: cfg.BaseURL, Model: model})
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderHash:
		return NewHashProvider(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
