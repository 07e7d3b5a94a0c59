package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
	"github.com/xiaot623/gogo/uxrunner/internal/repository"
)

// SaveRun writes the whole run record, creating it if it was never stored.
func (s *Service) SaveRun(ctx context.Context, run *domain.Run) error {
	snapshot := run.Clone()
	err := s.store.UpdateRun(ctx, snapshot)
	if errors.Is(err, repository.ErrNotFound) {
		err = s.store.CreateRun(ctx, snapshot)
	}
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.RunID, err)
	}
	return nil
}

// RecordEvent appends an event row.
func (s *Service) RecordEvent(ctx context.Context, event domain.Event) error {
	if err := s.store.CreateEvent(ctx, &event); err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// SaveFindings replaces the stored findings of a run.
func (s *Service) SaveFindings(ctx context.Context, runID string, list []domain.ClusteredFinding) error {
	if err := s.store.DeleteFindings(ctx, runID); err != nil {
		return fmt.Errorf("failed to clear findings: %w", err)
	}
	var failed int
	for i := range list {
		f := list[i]
		f.RunID = runID
		if err := s.store.SaveFinding(ctx, &f); err != nil {
			failed++
			s.logger.Warn("failed to save finding",
				zap.String("run_id", runID),
				zap.String("finding_id", f.FindingID),
				zap.Error(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("failed to save %d of %d findings", failed, len(list))
	}
	return nil
}

// Publish pushes a feed message to live subscribers.
func (s *Service) Publish(msg domain.FeedMessage) {
	s.publish(msg)
}

func (s *Service) publish(msg domain.FeedMessage) {
	if s.publisher == nil {
		return
	}
	if msg.Event != nil {
		ev := *msg.Event
		msg.Event = &ev
	}
	if err := s.publisher.Publish(msg.RunID, msg); err != nil {
		s.logger.Debug("feed publish failed", zap.String("run_id", msg.RunID), zap.Error(err))
	}
}
