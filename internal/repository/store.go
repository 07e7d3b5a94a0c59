// Package repository defines the storage interface and its SQLite implementation.
package repository

import (
	"context"
	"errors"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
)

// ErrNotFound is returned by updates that match no row.
var ErrNotFound = errors.New("repository: not found")

// Store defines the interface for data persistence.
type Store interface {
	// Run operations
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	UpdateRun(ctx context.Context, run *domain.Run) error
	ListRunsByTest(ctx context.Context, testID string) ([]domain.Run, error)

	// Event operations
	CreateEvent(ctx context.Context, event *domain.Event) error
	GetEvents(ctx context.Context, runID string, afterTs int64, types []string, limit int) ([]domain.Event, error)

	// Finding operations
	SaveFinding(ctx context.Context, finding *domain.ClusteredFinding) error
	DeleteFindings(ctx context.Context, runID string) error
	ListFindings(ctx context.Context, runID string) ([]domain.ClusteredFinding, error)
	ListFindingsByTest(ctx context.Context, testID string) ([]domain.ClusteredFinding, error)

	// Knowledge operations
	UpsertKnowledgeChunk(ctx context.Context, chunk *domain.KnowledgeChunk) error
	ListKnowledgeChunks(ctx context.Context, category string) ([]domain.KnowledgeChunk, error)

	// Lifecycle
	Close() error
}
