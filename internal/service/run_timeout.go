package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunTimeoutMonitor stops executions that exceed the configured run timeout.
func (s *Service) RunTimeoutMonitor(ctx context.Context) {
	if s.runTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepRunTimeouts(ctx)
		}
	}
}

func (s *Service) sweepRunTimeouts(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now()
	var expired []string
	s.mu.Lock()
	for _, ex := range s.execs {
		if now.Sub(ex.started) > s.runTimeout {
			expired = append(expired, ex.tok.RunID)
		}
	}
	s.mu.Unlock()

	for _, runID := range expired {
		if _, err := s.StopRun(sweepCtx, runID); err != nil {
			s.logger.Warn("failed to stop timed out run", zap.String("run_id", runID), zap.Error(err))
			continue
		}
		s.logger.Info("run timed out", zap.String("run_id", runID), zap.Duration("timeout", s.runTimeout))
	}
}
