package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
	"github.com/xiaot623/gogo/uxrunner/internal/oracle"
	"github.com/xiaot623/gogo/uxrunner/internal/repository"
	"github.com/xiaot623/gogo/uxrunner/internal/runner"
	"github.com/xiaot623/gogo/uxrunner/tests/helpers"
)

type stubBackend struct {
	mu     sync.Mutex
	closed []string
}

func (b *stubBackend) Start(context.Context, string) (string, error) { return "sess-1", nil }

func (b *stubBackend) Screenshot(context.Context, string) ([]byte, error) {
	return []byte("png"), nil
}

func (b *stubBackend) Click(context.Context, string, int, int) error { return nil }

func (b *stubBackend) ExtractContext(context.Context, string) (*domain.SemanticContext, error) {
	return nil, errors.New("not supported")
}

func (b *stubBackend) Close(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = append(b.closed, id)
	return nil
}

func (b *stubBackend) closedSessions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.closed...)
}

type funcOracle func(ctx context.Context, req oracle.DecisionRequest) (*oracle.Decision, error)

func (f funcOracle) Decide(ctx context.Context, req oracle.DecisionRequest) (*oracle.Decision, error) {
	return f(ctx, req)
}

func (f funcOracle) Analyze(context.Context, oracle.AnalysisRequest) ([]oracle.RawFinding, error) {
	return nil, nil
}

type capturePublisher struct {
	mu   sync.Mutex
	msgs []domain.FeedMessage
}

func (p *capturePublisher) Publish(_ string, v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, v.(domain.FeedMessage))
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func submitOnce(context.Context, oracle.DecisionRequest) (*oracle.Decision, error) {
	conf := 90.0
	return &oracle.Decision{Kind: oracle.KindToolCalls, Calls: []oracle.ToolCall{{
		ID:   "call-1",
		Name: oracle.ToolSubmitFindings,
		Submit: &oracle.SubmitFindingsCall{
			GeneralFeedback:          "Smooth overall",
			TaskCompletionPercentage: 100,
			Findings: []oracle.RawFinding{{
				Title:       "Shipping cost appears late",
				Severity:    "High",
				Confidence:  &conf,
				Category:    "conversion",
				Description: "Shipping cost only appears on the last checkout step",
			}},
		},
	}}}, nil
}

func testRunnerConfig() runner.Config {
	cfg := runner.DefaultConfig()
	cfg.DecisionInterval = 0
	cfg.SettleDelay = 0
	cfg.ProgressTick = 0
	cfg.ScreenshotBackoff = time.Millisecond
	cfg.ReadyBackoff = time.Millisecond
	cfg.ReadyMaxBackoff = time.Millisecond
	cfg.MaxIterations = 20
	return cfg
}

func newTestService(t *testing.T, o oracle.Oracle) (*Service, repository.Store, *stubBackend, *capturePublisher) {
	t.Helper()
	db := helpers.NewTestSQLiteStore(t)
	backend := &stubBackend{}
	pub := &capturePublisher{}
	svc := New(db, runner.Deps{Backend: backend, Oracle: o}, testRunnerConfig(), WithPublisher(pub))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc, db, backend, pub
}

func launchRequest() domain.LaunchRequest {
	return domain.LaunchRequest{
		TestID:  "test-1",
		URL:     "https://shop.example.com",
		Persona: domain.Persona{ID: "p1", Name: "Sam", Role: "first-time buyer"},
		Tasks:   []string{"Find a lamp", "Buy it"},
	}
}

func waitForStatus(t *testing.T, svc *Service, runID string, want domain.RunStatus) *domain.Run {
	t.Helper()
	var run *domain.Run
	require.Eventually(t, func() bool {
		got, err := svc.GetRun(context.Background(), runID)
		if err != nil {
			return false
		}
		run = got
		return got.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return run
}

func TestLaunchRunValidation(t *testing.T) {
	svc, _, _, _ := newTestService(t, funcOracle(submitOnce))
	ctx := context.Background()

	req := launchRequest()
	req.URL = " "
	_, err := svc.LaunchRun(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req = launchRequest()
	req.Tasks = []string{"", "  "}
	_, err = svc.LaunchRun(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestLaunchRunCompletes(t *testing.T) {
	svc, _, backend, pub := newTestService(t, funcOracle(submitOnce))
	ctx := context.Background()

	resp, err := svc.LaunchRun(ctx, launchRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusQueued, resp.Status)
	assert.NotEmpty(t, resp.ExecutionID)

	run := waitForStatus(t, svc, resp.RunID, domain.RunStatusCompleted)
	assert.Equal(t, 100, run.Progress)
	assert.Equal(t, "Smooth overall", run.Feedback)
	require.Len(t, run.Tasks, 2)
	assert.Equal(t, "task_1", run.Tasks[0].ID)
	assert.Equal(t, domain.TaskStatusPassed, run.Tasks[1].Status)
	assert.NotEmpty(t, run.Events)

	res, err := svc.ListFindings(ctx, resp.RunID)
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "Shipping cost appears late", res.Findings[0].Title)
	assert.NotEmpty(t, res.Summary)

	events, err := svc.GetRunEvents(ctx, resp.RunID, 0, []string{string(domain.EventTypeRunCompleted)}, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	assert.Eventually(t, func() bool { return len(backend.closedSessions()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Greater(t, pub.count(), 2)
}

func TestStopAndResumeRun(t *testing.T) {
	var mu sync.Mutex
	blocking := true
	entered := make(chan struct{}, 1)
	o := funcOracle(func(ctx context.Context, req oracle.DecisionRequest) (*oracle.Decision, error) {
		mu.Lock()
		block := blocking
		mu.Unlock()
		if block {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return submitOnce(ctx, req)
	})
	svc, _, _, _ := newTestService(t, o)
	ctx := context.Background()

	resp, err := svc.LaunchRun(ctx, launchRequest())
	require.NoError(t, err)
	<-entered

	stopped, err := svc.StopRun(ctx, resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusError, stopped.Status)
	assert.Equal(t, "stopped by request", stopped.Error)

	require.Eventually(t, func() bool { return svc.ActiveExecutions() == 0 }, 2*time.Second, 10*time.Millisecond)

	run, err := svc.GetRun(ctx, resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusError, run.Status)
	cancelled, err := svc.GetRunEvents(ctx, resp.RunID, 0, []string{string(domain.EventTypeRunCancelled)}, 0)
	require.NoError(t, err)
	assert.Len(t, cancelled, 1)

	_, err = svc.StopRun(ctx, resp.RunID)
	assert.ErrorIs(t, err, ErrRunFinished)

	mu.Lock()
	blocking = false
	mu.Unlock()

	resumed, err := svc.ResumeRun(ctx, resp.RunID)
	require.NoError(t, err)
	assert.NotEqual(t, resp.ExecutionID, resumed.ExecutionID)

	run = waitForStatus(t, svc, resp.RunID, domain.RunStatusCompleted)
	assert.Empty(t, run.Error)

	_, err = svc.ResumeRun(ctx, resp.RunID)
	assert.ErrorIs(t, err, ErrRunFinished)
}

func TestUnknownRun(t *testing.T) {
	svc, _, _, _ := newTestService(t, funcOracle(submitOnce))
	ctx := context.Background()

	_, err := svc.GetRun(ctx, "run_missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = svc.ResumeRun(ctx, "run_missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = svc.StopRun(ctx, "run_missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = svc.ListFindings(ctx, "run_missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestAggregateTestFindingsMergesAcrossRuns(t *testing.T) {
	svc, db, _, _ := newTestService(t, funcOracle(submitOnce))
	ctx := context.Background()

	finding := func(runID, persona string) domain.ClusteredFinding {
		return domain.ClusteredFinding{
			Finding: domain.Finding{
				FindingID:   "fnd_" + runID,
				RunID:       runID,
				PersonaID:   persona,
				Title:       "Coupon field hides the pay button",
				Severity:    domain.SeverityHigh,
				Confidence:  80,
				Category:    domain.CategoryConversion,
				Description: "The coupon field expands over the pay button",
			},
			Frequency:           1,
			TriggeredByPersonas: []string{persona},
		}
	}
	for i, persona := range []string{"p1", "p2"} {
		runID := []string{"run_a", "run_b"}[i]
		require.NoError(t, db.CreateRun(ctx, &domain.Run{
			RunID:     runID,
			TestID:    "test-agg",
			Persona:   domain.Persona{ID: persona},
			Status:    domain.RunStatusCompleted,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}))
		require.NoError(t, svc.SaveFindings(ctx, runID, []domain.ClusteredFinding{finding(runID, persona)}))
	}

	res, err := svc.AggregateTestFindings(ctx, "test-agg")
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, 2, res.Findings[0].Frequency)
	assert.ElementsMatch(t, []string{"p1", "p2"}, res.Findings[0].TriggeredByPersonas)

	empty, err := svc.AggregateTestFindings(ctx, "test-none")
	require.NoError(t, err)
	assert.Empty(t, empty.Findings)
}

func TestSweepRunTimeoutsStopsLongRuns(t *testing.T) {
	entered := make(chan struct{}, 1)
	o := funcOracle(func(ctx context.Context, req oracle.DecisionRequest) (*oracle.Decision, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	svc, _, _, _ := newTestService(t, o)
	svc.runTimeout = time.Millisecond
	ctx := context.Background()

	resp, err := svc.LaunchRun(ctx, launchRequest())
	require.NoError(t, err)
	<-entered
	time.Sleep(5 * time.Millisecond)

	svc.sweepRunTimeouts(ctx)

	run := waitForStatus(t, svc, resp.RunID, domain.RunStatusError)
	assert.Equal(t, "stopped by request", run.Error)
	require.Eventually(t, func() bool { return svc.ActiveExecutions() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestResumeCancelsSupersededExecution(t *testing.T) {
	entered := make(chan struct{}, 4)
	cancelled := make(chan struct{}, 4)
	o := funcOracle(func(ctx context.Context, req oracle.DecisionRequest) (*oracle.Decision, error) {
		entered <- struct{}{}
		<-ctx.Done()
		cancelled <- struct{}{}
		return nil, ctx.Err()
	})
	svc, _, _, _ := newTestService(t, o)
	ctx := context.Background()

	resp, err := svc.LaunchRun(ctx, launchRequest())
	require.NoError(t, err)
	<-entered

	resumed, err := svc.ResumeRun(ctx, resp.RunID)
	require.NoError(t, err)
	assert.NotEqual(t, resp.ExecutionID, resumed.ExecutionID)

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("superseded execution was not cancelled")
	}
	require.Eventually(t, func() bool { return svc.ActiveExecutions() == 1 }, 2*time.Second, 10*time.Millisecond)
}
