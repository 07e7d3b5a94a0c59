package similarity

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/xiaot623/gogo/uxrunner/internal/embedding"
)

// Embedding scores texts by cosine similarity of their embeddings, clamped to [0,1].
// Vectors are cached per text for the life of the scorer.
type Embedding struct {
	embedder embedding.Embedder

	mu    sync.Mutex
	cache map[string][]float32
}

var _ Scorer = (*Embedding)(nil)

// NewEmbedding wraps an embedder as a Scorer.
func NewEmbedding(e embedding.Embedder) *Embedding {
	return &Embedding{embedder: e, cache: make(map[string][]float32)}
}

// Score implements Scorer.
func (s *Embedding) Score(ctx context.Context, a, b string) (float64, error) {
	va, err := s.vector(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := s.vector(ctx, b)
	if err != nil {
		return 0, err
	}
	c := Cosine(va, vb)
	if c < 0 {
		c = 0
	}
	return c, nil
}

func (s *Embedding) vector(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	v, ok := s.cache[text]
	s.mu.Unlock()
	if ok {
		return v, nil
	}
	v, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	s.mu.Lock()
	s.cache[text] = v
	s.mu.Unlock()
	return v, nil
}

// Cosine returns the cosine similarity of two vectors, 0 when either is empty
// or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
