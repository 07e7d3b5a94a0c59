package runner

import (
	"context"

	"github.com/xiaot623/gogo/uxrunner/internal/adapter/figma"
	"github.com/xiaot623/gogo/uxrunner/internal/domain"
)

// Sink receives everything a run produces. Calls come from the run's own goroutine
// (or its progress ticker) and are serialised per run; implementations must copy
// anything they retain.
type Sink interface {
	SaveRun(ctx context.Context, run *domain.Run) error
	RecordEvent(ctx context.Context, event domain.Event) error
	SaveFindings(ctx context.Context, runID string, findings []domain.ClusteredFinding) error
	Publish(msg domain.FeedMessage)
}

// ActionPolicy decides whether an oracle action may run. Decisions are
// "allow", "block" or "require_approval"; the last is treated as a block.
type ActionPolicy interface {
	Evaluate(ctx context.Context, input interface{}) (string, string, error)
}

// MetadataSource fetches design metadata for prototype URLs.
type MetadataSource interface {
	FetchMetadata(ctx context.Context, fileKey string) (*figma.Metadata, error)
}
