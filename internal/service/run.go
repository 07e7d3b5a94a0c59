package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
	"github.com/xiaot623/gogo/uxrunner/internal/runner"
)

// LaunchRun validates the request, stores a queued run and starts its execution
// in the background.
func (s *Service) LaunchRun(ctx context.Context, req domain.LaunchRequest) (*domain.LaunchResponse, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	var tasks []domain.Task
	for _, desc := range req.Tasks {
		desc = strings.TrimSpace(desc)
		if desc == "" {
			continue
		}
		tasks = append(tasks, domain.Task{
			ID:          fmt.Sprintf("task_%d", len(tasks)+1),
			Description: desc,
			Status:      domain.TaskStatusPending,
		})
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: at least one task is required", ErrInvalidRequest)
	}

	persona := req.Persona
	if persona.ID == "" {
		persona.ID = "persona_" + uuid.New().String()[:8]
	}
	if persona.Name == "" {
		persona.Name = "Anonymous user"
	}

	run := &domain.Run{
		RunID:     "run_" + uuid.New().String()[:8],
		TestID:    req.TestID,
		Persona:   persona,
		URL:       strings.TrimSpace(req.URL),
		Status:    domain.RunStatusQueued,
		Tasks:     tasks,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	s.publish(domain.FeedMessage{Type: "status", RunID: run.RunID, Status: run.Status})

	tok := s.driver.Fence().Begin(run.RunID)
	s.start(tok, func(ctx context.Context) error {
		return s.driver.Execute(ctx, tok, run)
	})

	s.logger.Info("run launched",
		zap.String("run_id", run.RunID),
		zap.String("exec_id", tok.ExecID),
		zap.String("test_id", run.TestID),
		zap.Int("tasks", len(tasks)))

	return &domain.LaunchResponse{
		RunID:       run.RunID,
		ExecutionID: tok.ExecID,
		Status:      run.Status,
	}, nil
}

// ResumeRun starts a new execution of an interrupted run. Any execution still
// running for the run is superseded. Without a checkpoint the run restarts from
// its stored state.
func (s *Service) ResumeRun(ctx context.Context, runID string) (*domain.ResumeResponse, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	if run.Status.IsTerminal() && run.Status != domain.RunStatusError {
		return nil, fmt.Errorf("%w: %s", ErrRunFinished, run.Status)
	}

	cached, err := s.driver.Cache().Load(ctx, runID)
	if err != nil {
		s.logger.Warn("run cache unavailable, restarting from stored run", zap.String("run_id", runID), zap.Error(err))
		cached = nil
	}

	tok := s.driver.Fence().Begin(runID)
	s.cancelRun(runID, tok.ExecID)
	progress := run.Progress
	if cached != nil && cached.Run != nil {
		progress = cached.Run.Progress
		s.start(tok, func(ctx context.Context) error {
			return s.driver.Resume(ctx, tok)
		})
	} else {
		run.Error = ""
		run.Status = domain.RunStatusQueued
		run.CompletedAt = nil
		s.start(tok, func(ctx context.Context) error {
			return s.driver.Execute(ctx, tok, run)
		})
	}

	s.logger.Info("run resumed",
		zap.String("run_id", runID),
		zap.String("exec_id", tok.ExecID),
		zap.Bool("from_checkpoint", cached != nil))

	return &domain.ResumeResponse{
		RunID:       runID,
		ExecutionID: tok.ExecID,
		Status:      domain.RunStatusRunning,
		Progress:    progress,
	}, nil
}

// StopRun ends the active execution of a run. The run is marked as errored with
// a cancellation event; its checkpoint is kept so it can be resumed.
func (s *Service) StopRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	if run.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrRunFinished, run.Status)
	}

	// Taking over the fence discards whatever the old execution still has in flight.
	tok := s.driver.Fence().Begin(runID)
	s.cancelRun(runID, tok.ExecID)

	now := time.Now()
	run.Status = domain.RunStatusError
	run.Error = "stopped by request"
	run.CompletedAt = &now
	if run.StartedAt != nil {
		run.DurationMs = now.Sub(*run.StartedAt).Milliseconds()
	}
	run.Logs = append(run.Logs, now.UTC().Format(time.RFC3339)+" Run stopped by request")

	var ts int64
	if run.StartedAt != nil {
		ts = now.Sub(*run.StartedAt).Milliseconds()
	}
	ev := domain.Event{
		EventID:   "evt_" + uuid.New().String()[:8],
		RunID:     runID,
		Ts:        ts,
		Type:      domain.EventTypeRunCancelled,
		Label:     "Run stopped",
		PersonaID: run.Persona.ID,
	}

	err = s.driver.Fence().Guard(tok, func() error {
		if err := s.RecordEvent(ctx, ev); err != nil {
			return err
		}
		run.Events = append(run.Events, ev)
		if err := s.store.UpdateRun(ctx, run); err != nil {
			return fmt.Errorf("failed to update run: %w", err)
		}
		s.publish(domain.FeedMessage{Type: "event", RunID: runID, Ts: ts, Status: run.Status, Progress: run.Progress, Event: &ev})
		s.publish(domain.FeedMessage{Type: "status", RunID: runID, Ts: ts, Status: run.Status, Progress: run.Progress})
		return nil
	})
	s.driver.Fence().Release(tok)
	if err != nil {
		return nil, err
	}

	s.logger.Info("run stopped", zap.String("run_id", runID))
	return run, nil
}

// start runs fn on its own goroutine under a cancellable context.
func (s *Service) start(tok runner.Token, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.execs[tok.ExecID] = &execution{tok: tok, started: time.Now(), cancel: cancel}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.execs, tok.ExecID)
			s.mu.Unlock()
			cancel()
		}()

		err := fn(ctx)
		switch {
		case errors.Is(err, runner.ErrStaleExecution):
			s.logger.Info("execution superseded", zap.String("run_id", tok.RunID), zap.String("exec_id", tok.ExecID))
			return
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			s.logger.Error("execution ended with error", zap.String("run_id", tok.RunID), zap.Error(err))
			return
		}
		s.closeSession(tok.RunID)
	}()
}

// cancelRun cancels every execution of runID except keep.
func (s *Service) cancelRun(runID, keep string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ex := range s.execs {
		if ex.tok.RunID == runID && id != keep {
			ex.cancel()
		}
	}
}

// closeSession releases the browser session of a run that finished cleanly.
func (s *Service) closeSession(runID string) {
	if s.backend == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	run, err := s.store.GetRun(ctx, runID)
	if err != nil || run == nil || run.SessionID == "" {
		return
	}
	if run.Status != domain.RunStatusCompleted && run.Status != domain.RunStatusNeedsValidation {
		return
	}
	if err := s.backend.Close(ctx, run.SessionID); err != nil {
		s.logger.Warn("failed to close session", zap.String("run_id", runID), zap.Error(err))
	}
}

// ActiveExecutions returns the number of executions still running.
func (s *Service) ActiveExecutions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.execs)
}

// Shutdown cancels every execution and waits for them to return.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, ex := range s.execs {
		ex.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
