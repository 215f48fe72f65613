package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"
	"unicode"
)

// DefaultHashDimension is the vector size of the hash provider when none is set.
const DefaultHashDimension = 256

// HashProvider embeds text by hashing its lower-cased tokens and character
// trigrams into a fixed number of buckets. Texts sharing tokens get similar
// vectors. It needs no model and is deterministic.
type HashProvider struct {
	dimension int
}

var _ Provider = (*HashProvider)(nil)

// NewHashProvider creates a provider. A dimension <= 0 uses DefaultHashDimension.
func NewHashProvider(dimension int) *HashProvider {
	if dimension <= 0 {
		dimension = DefaultHashDimension
	}
	return &HashProvider{dimension: dimension}
}

// EmbedDocuments embeds each text.
func (p *HashProvider) EmbedDocuments(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	start := time.Now()
	defer func() { observe(ProviderHash, "embed_documents", start, err) }()

	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vectors = make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = p.vector(t)
	}
	return vectors, nil
}

// EmbedQuery embeds a single text.
func (p *HashProvider) EmbedQuery(ctx context.Context, text string) (vector []float32, err error) {
	start := time.Now()
	defer func() { observe(ProviderHash, "embed_query", start, err) }()

	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.vector(text), nil
}

// Dimension returns the vector size.
func (p *HashProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op.
func (p *HashProvider) Close() error {
	return nil
}

func (p *HashProvider) vector(text string) []float32 {
	v := make([]float32, p.dimension)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '*'
	})
	for _, tok := range tokens {
		p.add(v, "t:"+tok, 1)
		padded := "^" + tok + "$"
		for i := 0; i+3 <= len(padded); i++ {
			p.add(v, "g:"+padded[i:i+3], 0.5)
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		// Keep the vector non-zero so cosine similarity is defined.
		v[0] = 1
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

func (p *HashProvider) add(v []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(p.dimension))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}
