package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xiaot623/gogo/uxrunner/internal/adapter/session"
	"github.com/xiaot623/gogo/uxrunner/internal/domain"
	"github.com/xiaot623/gogo/uxrunner/internal/oracle"
)

// fakeBackend renders a page counter as the screenshot. Clicks inside a dead
// zone leave the page unchanged; any other click advances it.
type fakeBackend struct {
	mu         sync.Mutex
	sessions   map[string]int
	nextID     int
	clicks     [][2]int
	dead       func(x, y int) bool
	shotErrs   []error // consumed one per Screenshot call
	sessionErr error   // returned by every call once set
	context    *domain.SemanticContext
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{sessions: make(map[string]int)}
}

func (b *fakeBackend) Start(_ context.Context, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := fmt.Sprintf("s-%d", b.nextID)
	b.sessions[id] = 0
	return id, nil
}

func (b *fakeBackend) Screenshot(_ context.Context, id string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sessionErr != nil {
		return nil, b.sessionErr
	}
	if len(b.shotErrs) > 0 {
		err := b.shotErrs[0]
		b.shotErrs = b.shotErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	page, ok := b.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return []byte(fmt.Sprintf("%s/page-%d", id, page)), nil
}

func (b *fakeBackend) Click(_ context.Context, id string, x, y int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[id]; !ok {
		return session.ErrSessionNotFound
	}
	b.clicks = append(b.clicks, [2]int{x, y})
	if b.dead == nil || !b.dead(x, y) {
		b.sessions[id]++
	}
	return nil
}

func (b *fakeBackend) ExtractContext(_ context.Context, _ string) (*domain.SemanticContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.context == nil {
		return nil, errors.New("extraction unavailable")
	}
	return b.context.Clone(), nil
}

func (b *fakeBackend) Close(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, id)
	return nil
}

func (b *fakeBackend) clickCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clicks)
}

// scriptedOracle replays decisions in order and then reports completion.
type scriptedOracle struct {
	mu        sync.Mutex
	decisions []*oracle.Decision
	hook      func(ctx context.Context, n int) (*oracle.Decision, error)
	requests  []oracle.DecisionRequest
	calledAt  []time.Time
	analyses  map[string][]oracle.RawFinding
}

func (o *scriptedOracle) Decide(ctx context.Context, req oracle.DecisionRequest) (*oracle.Decision, error) {
	o.mu.Lock()
	n := len(o.requests)
	req.History = &oracle.History{Turns: append([]oracle.Turn(nil), req.History.Turns...)}
	o.requests = append(o.requests, req)
	o.calledAt = append(o.calledAt, time.Now())
	hook := o.hook
	var next *oracle.Decision
	if len(o.decisions) > 0 {
		next = o.decisions[0]
		o.decisions = o.decisions[1:]
	}
	o.mu.Unlock()

	if hook != nil {
		return hook(ctx, n)
	}
	if next == nil {
		return &oracle.Decision{Kind: oracle.KindMessage, Message: "All tasks completed."}, nil
	}
	return next, nil
}

func (o *scriptedOracle) Analyze(_ context.Context, req oracle.AnalysisRequest) ([]oracle.RawFinding, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.analyses[req.Specialty], nil
}

func (o *scriptedOracle) requestCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.requests)
}

var callSeq int

func clickDecision(x, y float64, rationale string) *oracle.Decision {
	callSeq++
	args, _ := json.Marshal(map[string]interface{}{"x": x, "y": y, "rationale": rationale})
	return &oracle.Decision{Kind: oracle.KindToolCalls, Calls: []oracle.ToolCall{{
		ID:        fmt.Sprintf("call-%d", callSeq),
		Name:      oracle.ToolClick,
		Arguments: string(args),
		Click:     &oracle.ClickCall{X: x, Y: y, Rationale: rationale},
	}}}
}

func submitDecision(feedback string, pct float64, fs ...oracle.RawFinding) *oracle.Decision {
	callSeq++
	return &oracle.Decision{Kind: oracle.KindToolCalls, Calls: []oracle.ToolCall{{
		ID:   fmt.Sprintf("call-%d", callSeq),
		Name: oracle.ToolSubmitFindings,
		Submit: &oracle.SubmitFindingsCall{
			Findings:                 fs,
			GeneralFeedback:          feedback,
			TaskCompletionPercentage: pct,
			NextSteps:                []string{"Retest after fixes"},
		},
	}}}
}

// recordingSink keeps a copy of everything written.
type recordingSink struct {
	mu       sync.Mutex
	runs     []*domain.Run
	events   []domain.Event
	findings map[string][]domain.ClusteredFinding
	saves    int
	feed     []domain.FeedMessage
}

func newRecordingSink() *recordingSink {
	return &recordingSink{findings: make(map[string][]domain.ClusteredFinding)}
}

func (s *recordingSink) SaveRun(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run.Clone())
	return nil
}

func (s *recordingSink) RecordEvent(_ context.Context, e domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) SaveFindings(_ context.Context, runID string, fs []domain.ClusteredFinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.findings[runID] = append([]domain.ClusteredFinding(nil), fs...)
	return nil
}

func (s *recordingSink) Publish(msg domain.FeedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feed = append(s.feed, msg)
}

func (s *recordingSink) lastRun() *domain.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runs) == 0 {
		return nil
	}
	return s.runs[len(s.runs)-1]
}

func (s *recordingSink) eventsOf(t domain.EventType) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSink) progressSeries() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for _, m := range s.feed {
		out = append(out, m.Progress)
	}
	return out
}

type blockingPolicy struct {
	maxX int
}

func (p blockingPolicy) Evaluate(_ context.Context, input interface{}) (string, string, error) {
	args := input.(map[string]interface{})["args"].(map[string]interface{})
	if args["x"].(int) > p.maxX {
		return "block", "outside the viewport", nil
	}
	return "allow", "", nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DecisionInterval = 0
	cfg.SettleDelay = 0
	cfg.ContextEvery = 1
	cfg.ProgressTick = time.Millisecond
	cfg.ProgressStep = 1
	cfg.ScreenshotRetries = 2
	cfg.ScreenshotBackoff = time.Millisecond
	cfg.ReadyAttempts = 3
	cfg.ReadyBackoff = time.Millisecond
	cfg.ReadyMaxBackoff = 2 * time.Millisecond
	cfg.MaxIterations = 50
	return cfg
}

func newTestRun() *domain.Run {
	return &domain.Run{
		RunID:   "run-1",
		TestID:  "test-1",
		URL:     "https://shop.example.com",
		Status:  domain.RunStatusQueued,
		Persona: domain.Persona{ID: "p1", Name: "Ana", Role: "shopper", Goals: []string{"buy a jacket quickly"}},
		Tasks: []domain.Task{
			{ID: "t1", Description: "Find a jacket", Status: domain.TaskStatusPending},
			{ID: "t2", Description: "Add it to the cart", Status: domain.TaskStatusPending},
			{ID: "t3", Description: "Check out", Status: domain.TaskStatusPending},
		},
		CreatedAt: time.Now(),
	}
}
