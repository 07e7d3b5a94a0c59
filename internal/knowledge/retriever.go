// Package knowledge retrieves guidance passages that findings cite as support.
package knowledge

import (
	"context"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
)

// Query is a retrieval request. Zero Threshold and Limit use the retriever defaults.
type Query struct {
	Text      string  `json:"query"`
	Category  string  `json:"category,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Limit     int     `json:"limit,omitempty"`
}

// Retriever returns passages ranked by descending score.
type Retriever interface {
	Search(ctx context.Context, q Query) ([]domain.Passage, error)
}

const (
	DefaultThreshold = 0.3
	DefaultLimit     = 5
)

func (q Query) withDefaults() Query {
	if q.Threshold <= 0 {
		q.Threshold = DefaultThreshold
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	return q
}
