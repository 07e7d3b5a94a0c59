package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
	"github.com/xiaot623/gogo/uxrunner/internal/oracle"
	"github.com/xiaot623/gogo/uxrunner/internal/repository"
	"github.com/xiaot623/gogo/uxrunner/internal/runner"
	"github.com/xiaot623/gogo/uxrunner/internal/service"
	"github.com/xiaot623/gogo/uxrunner/tests/helpers"
)

type stubBackend struct{}

func (stubBackend) Start(context.Context, string) (string, error) { return "sess-1", nil }
func (stubBackend) Screenshot(context.Context, string) ([]byte, error) { return []byte("png"), nil }
func (stubBackend) Click(context.Context, string, int, int) error { return nil }
func (stubBackend) Close(context.Context, string) error { return nil }
func (stubBackend) ExtractContext(context.Context, string) (*domain.SemanticContext, error) {
	return nil, errors.New("not supported")
}

type doneOracle struct{}

func (doneOracle) Decide(context.Context, oracle.DecisionRequest) (*oracle.Decision, error) {
	return &oracle.Decision{Kind: oracle.KindMessage, Message: "All tasks completed."}, nil
}

func (doneOracle) Analyze(context.Context, oracle.AnalysisRequest) ([]oracle.RawFinding, error) {
	return nil, nil
}

func newTestHandler(t *testing.T) (*Handler, repository.Store, *service.Service) {
	db := helpers.NewTestSQLiteStore(t)
	cfg := runner.DefaultConfig()
	cfg.DecisionInterval = 0
	cfg.SettleDelay = 0
	cfg.ProgressTick = 0
	svc := service.New(db, runner.Deps{Backend: stubBackend{}, Oracle: doneOracle{}}, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return NewHandler(svc, nil), db, svc
}

func newContext(e *echo.Echo, method, target, body string, params ...string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	var names, values []string
	for i := 0; i+1 < len(params); i += 2 {
		names = append(names, params[i])
		values = append(values, params[i+1])
	}
	if len(names) > 0 {
		c.SetParamNames(names...)
		c.SetParamValues(values...)
	}
	return c, rec
}

func TestLaunchRunValidation(t *testing.T) {
	e := echo.New()
	h, _, _ := newTestHandler(t)

	c, rec := newContext(e, http.MethodPost, "/v1/runs", `{"tasks":["Find the pricing page"]}`)
	if err := h.LaunchRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	c, rec = newContext(e, http.MethodPost, "/v1/runs", `{not json`)
	if err := h.LaunchRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad body, got %d", rec.Code)
	}
}

func TestLaunchAndFetchRun(t *testing.T) {
	e := echo.New()
	h, _, svc := newTestHandler(t)

	body := `{"test_id":"t1","url":"https://example.com","persona":{"id":"p1","name":"Lee"},"tasks":["Sign up"]}`
	c, rec := newContext(e, http.MethodPost, "/v1/runs", body)
	if err := h.LaunchRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var launched domain.LaunchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &launched); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if launched.RunID == "" || launched.ExecutionID == "" {
		t.Fatalf("unexpected response: %+v", launched)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		run, err := svc.GetRun(context.Background(), launched.RunID)
		if err == nil && run.Status == domain.RunStatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run did not complete: %+v %v", run, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	c, rec = newContext(e, http.MethodGet, "/v1/runs/"+launched.RunID, "", "run_id", launched.RunID)
	if err := h.GetRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var run domain.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.Progress != 100 || len(run.Tasks) != 1 {
		t.Fatalf("unexpected run: %+v", run)
	}

	c, rec = newContext(e, http.MethodGet, "/v1/runs/"+launched.RunID+"/events?types=run_completed", "", "run_id", launched.RunID)
	if err := h.GetRunEvents(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var events domain.RunEventsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events.Events) != 1 || events.Events[0].Type != domain.EventTypeRunCompleted {
		t.Fatalf("unexpected events: %+v", events)
	}

	c, rec = newContext(e, http.MethodPost, "/v1/runs/"+launched.RunID+"/stop", "", "run_id", launched.RunID)
	if err := h.StopRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 stopping a finished run, got %d", rec.Code)
	}
}

func TestUnknownRunIsNotFound(t *testing.T) {
	e := echo.New()
	h, _, _ := newTestHandler(t)

	handlers := map[string]echo.HandlerFunc{
		"get":      h.GetRun,
		"events":   h.GetRunEvents,
		"findings": h.ListFindings,
		"resume":   h.ResumeRun,
		"stop":     h.StopRun,
	}
	for name, fn := range handlers {
		c, rec := newContext(e, http.MethodGet, "/v1/runs/run_x", "", "run_id", "run_x")
		if err := fn(c); err != nil {
			t.Fatalf("%s: handler error: %v", name, err)
		}
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", name, rec.Code)
		}
	}
}

func TestAggregateTestFindings(t *testing.T) {
	e := echo.New()
	h, db, _ := newTestHandler(t)
	ctx := context.Background()

	if err := db.CreateRun(ctx, &domain.Run{RunID: "r1", TestID: "t9", Status: domain.RunStatusCompleted, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	f := &domain.ClusteredFinding{
		Finding: domain.Finding{
			FindingID: "f1", RunID: "r1", Title: "Low contrast labels",
			Severity: domain.SeverityMed, Confidence: 70, Category: domain.CategoryAccessibility,
		},
		Frequency: 1,
	}
	if err := db.SaveFinding(ctx, f); err != nil {
		t.Fatalf("SaveFinding: %v", err)
	}

	c, rec := newContext(e, http.MethodGet, "/v1/tests/t9/findings", "", "test_id", "t9")
	if err := h.AggregateTestFindings(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var res domain.FindingsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Findings) != 1 || res.Findings[0].Title != "Low contrast labels" {
		t.Fatalf("unexpected findings: %+v", res)
	}
}

func TestStreamDisabled(t *testing.T) {
	e := echo.New()
	h, _, _ := newTestHandler(t)
	c, rec := newContext(e, http.MethodGet, "/v1/runs/r/stream", "", "run_id", "r")
	if err := h.StreamRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rec.Code)
	}
}
