package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
	"github.com/xiaot623/gogo/uxrunner/internal/findings"
)

func (s *Service) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	return run, nil
}

func (s *Service) GetRunEvents(ctx context.Context, runID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	events, err := s.store.GetEvents(ctx, runID, afterTs, types, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get run events: %w", err)
	}
	return events, nil
}

// ListFindings returns the clustered findings of one run.
func (s *Service) ListFindings(ctx context.Context, runID string) (*domain.FindingsResponse, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	list, err := s.store.ListFindings(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	return respond(list), nil
}

// AggregateTestFindings merges the findings of every run of a test, so issues hit
// by several personas surface once with their combined frequency.
func (s *Service) AggregateTestFindings(ctx context.Context, testID string) (*domain.FindingsResponse, error) {
	stored, err := s.store.ListFindingsByTest(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	return respond(s.clusterer.Merge(ctx, stored)), nil
}

func respond(list []domain.ClusteredFinding) *domain.FindingsResponse {
	if list == nil {
		list = []domain.ClusteredFinding{}
	}
	var high, med, low int
	for _, f := range list {
		switch {
		case f.Severity.Rank() >= domain.SeverityHigh.Rank():
			high++
		case f.Severity == domain.SeverityMed:
			med++
		default:
			low++
		}
	}
	return &domain.FindingsResponse{
		Findings: list,
		Summary:  findings.Summarize(high, med, low),
	}
}
