package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/uxrunner/internal/adapter/figma"
	"github.com/xiaot623/gogo/uxrunner/internal/adapter/session"
	"github.com/xiaot623/gogo/uxrunner/internal/analysis"
	"github.com/xiaot623/gogo/uxrunner/internal/domain"
	"github.com/xiaot623/gogo/uxrunner/internal/findings"
	"github.com/xiaot623/gogo/uxrunner/internal/oracle"
)

// ErrNothingToResume is returned by Resume when no checkpoint exists for the run.
var ErrNothingToResume = errors.New("runner: no cached state to resume")

// errSkipIteration marks transient capture failures that skip one iteration.
var errSkipIteration = errors.New("screenshot unavailable")

const (
	loopWarning = "Click skipped: this spot was clicked repeatedly with no visible change. " +
		"Try a different element or another path to the goal."
	explorerSpecialist = "explorer"
)

// Deps are the collaborators of a Driver. Pass, Policy and Figma are optional.
type Deps struct {
	Backend   session.Backend
	Oracle    oracle.Oracle
	Sink      Sink
	Cache     RunCache
	Fence     *Fence
	Pass      *analysis.Pass
	Clusterer *findings.Clusterer
	Policy    ActionPolicy
	Figma     MetadataSource
	Logger    *zap.Logger
}

// Driver runs the decision loop. One Driver serves many runs; each execution keeps
// its own state.
type Driver struct {
	backend   session.Backend
	oracle    oracle.Oracle
	sink      Sink
	cache     RunCache
	fence     *Fence
	pass      *analysis.Pass
	synth     *findings.Synthesizer
	clusterer *findings.Clusterer
	extractor *analysis.EvidenceExtractor
	policy    ActionPolicy
	figma     MetadataSource
	cfg       Config
	logger    *zap.Logger
}

// NewDriver creates a driver.
func NewDriver(deps Deps, cfg Config) *Driver {
	d := &Driver{
		backend:   deps.Backend,
		oracle:    deps.Oracle,
		sink:      deps.Sink,
		cache:     deps.Cache,
		fence:     deps.Fence,
		pass:      deps.Pass,
		synth:     findings.NewSynthesizer(),
		clusterer: deps.Clusterer,
		extractor: analysis.NewEvidenceExtractor(),
		policy:    deps.Policy,
		figma:     deps.Figma,
		cfg:       cfg,
		logger:    deps.Logger,
	}
	if d.fence == nil {
		d.fence = NewFence()
	}
	if d.cache == nil {
		d.cache = NewMemoryCache()
	}
	if d.clusterer == nil {
		d.clusterer = findings.NewClusterer()
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d
}

// Fence exposes the execution registry so callers can begin and stop executions.
func (d *Driver) Fence() *Fence { return d.fence }

// Cache exposes the run cache.
func (d *Driver) Cache() RunCache { return d.cache }

// execution is the state of one loop instance.
type execution struct {
	tok        Token
	run        *domain.Run
	history    *oracle.History
	clicks     *ClickHistory
	progress   *Progress
	iteration  int
	shots      int
	started    time.Time
	lastDecide time.Time
	logger     *zap.Logger
}

// Execute runs a queued run to a terminal state. It returns ErrStaleExecution when
// tok was superseded, and nil once the run reached completed or error.
func (d *Driver) Execute(ctx context.Context, tok Token, run *domain.Run) error {
	st := d.newExecution(tok, run.Clone(), &oracle.History{}, 0, 0)
	return d.drive(ctx, st)
}

// Resume picks a run up from its last checkpoint.
func (d *Driver) Resume(ctx context.Context, tok Token) error {
	cached, err := d.cache.Load(ctx, tok.RunID)
	if err != nil {
		return fmt.Errorf("load run cache: %w", err)
	}
	if cached == nil || cached.Run == nil {
		return ErrNothingToResume
	}
	if cached.Run.Status.IsTerminal() && cached.Run.Status != domain.RunStatusError {
		return fmt.Errorf("run %s already %s", tok.RunID, cached.Run.Status)
	}
	if err := d.fence.Check(tok); err != nil {
		return err
	}
	run := cached.Run
	run.Error = ""
	st := d.newExecution(tok, run, &cached.History, cached.Iteration, cached.ScreenshotCount)
	st.logf("Resumed at step %d", cached.Iteration)
	return d.drive(ctx, st)
}

func (d *Driver) newExecution(tok Token, run *domain.Run, h *oracle.History, iteration, shots int) *execution {
	return &execution{
		tok:       tok,
		run:       run,
		history:   h,
		clicks:    NewClickHistory(d.cfg.loop()),
		progress:  NewProgress(run.Progress),
		iteration: iteration,
		shots:     shots,
		started:   time.Now(),
		logger:    d.logger.With(zap.String("run_id", tok.RunID), zap.String("exec_id", tok.ExecID)),
	}
}

func (st *execution) logf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	st.run.Logs = append(st.run.Logs, time.Now().UTC().Format(time.RFC3339)+" "+line)
}

func (d *Driver) drive(ctx context.Context, st *execution) error {
	err := d.loop(ctx, st)
	if errors.Is(err, ErrStaleExecution) {
		st.logger.Info("execution superseded, discarding")
	}
	return err
}

func (d *Driver) loop(ctx context.Context, st *execution) error {
	run := st.run

	if err := d.openSession(ctx, st); err != nil {
		return d.fail(ctx, st, err)
	}

	if run.StartedAt == nil {
		now := time.Now()
		run.StartedAt = &now
	}
	run.Status = domain.RunStatusRunning
	st.logf("Run started against %s", run.URL)
	if err := d.event(ctx, st, domain.EventTypeRunStarted, "Run started", run.SessionID); err != nil {
		return err
	}
	if err := d.saveRun(ctx, st); err != nil {
		return err
	}

	if err := d.mergeDesignMetadata(ctx, st); err != nil {
		return err
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.tickProgress(ctx, st, stop)
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	for st.iteration < d.cfg.MaxIterations || d.cfg.MaxIterations <= 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.fence.Check(st.tok); err != nil {
			return err
		}

		shot, err := d.capture(ctx, st)
		if errors.Is(err, errSkipIteration) {
			st.iteration++
			st.logf("Screenshot failed, skipping step: %v", err)
			continue
		}
		if err != nil {
			return d.fail(ctx, st, err)
		}

		if wait := d.cfg.DecisionInterval - time.Since(st.lastDecide); !st.lastDecide.IsZero() && wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				return err
			}
			if err := d.fence.Check(st.tok); err != nil {
				return err
			}
			continue
		}

		st.iteration++
		st.shots++
		if d.cfg.ContextEvery > 0 && (st.iteration-1)%d.cfg.ContextEvery == 0 {
			if err := d.refreshContext(ctx, st); err != nil {
				return err
			}
		}

		decision, err := d.oracle.Decide(ctx, oracle.DecisionRequest{
			Screenshot: shot,
			Tasks:      run.Tasks,
			Persona:    run.Persona,
			Progress:   st.progress.Value(),
			History:    st.history,
		})
		if ferr := d.fence.Check(st.tok); ferr != nil {
			return ferr
		}
		st.lastDecide = time.Now()
		if err != nil {
			st.logger.Warn("oracle decision failed", zap.Int("iteration", st.iteration), zap.Error(err))
			st.logf("No usable decision at step %d: %v", st.iteration, err)
			if err := d.checkpoint(ctx, st); err != nil {
				return err
			}
			continue
		}

		st.history.AddDecision(decision)
		done, err := d.apply(ctx, st, decision, shot)
		if err != nil || done {
			return err
		}
		if err := d.checkpoint(ctx, st); err != nil {
			return err
		}
	}

	st.logf("Stopped after %d steps without a completion signal", st.iteration)
	return d.finish(ctx, st, domain.RunStatusNeedsValidation, nil)
}

// apply executes a decision. It reports true once the run reached a terminal state.
func (d *Driver) apply(ctx context.Context, st *execution, dec *oracle.Decision, shot []byte) (bool, error) {
	if dec.Kind == oracle.KindMessage {
		if oracle.IsCompletionMessage(dec.Message) {
			st.logf("Oracle reported completion: %s", dec.Message)
			return true, d.complete(ctx, st, nil)
		}
		return false, d.event(ctx, st, domain.EventTypeMessage, truncate(dec.Message, 200), "")
	}

	for _, call := range dec.Calls {
		switch {
		case call.Submit != nil:
			d.answerPending(st, dec, call.ID, "Findings submitted.")
			return true, d.complete(ctx, st, call.Submit)
		case call.Click != nil && oracle.IsCompletionRationale(call.Click.Rationale):
			d.answerPending(st, dec, call.ID, "Run complete.")
			st.logf("Oracle marked the tasks done")
			return true, d.complete(ctx, st, nil)
		case call.Click != nil:
			next, err := d.click(ctx, st, call, shot)
			if err != nil {
				return true, d.fail(ctx, st, err)
			}
			shot = next
		}
	}
	return false, nil
}

// answerPending closes out tool calls that will never run because the run ends.
func (d *Driver) answerPending(st *execution, dec *oracle.Decision, upTo, text string) {
	for _, c := range dec.Calls {
		st.history.AddToolResult(c.ID, text)
		if c.ID == upTo {
			return
		}
	}
}

func (d *Driver) click(ctx context.Context, st *execution, call oracle.ToolCall, shot []byte) ([]byte, error) {
	x, y := call.Click.Point()
	rationale := call.Click.Rationale

	if blocked, reason := d.blocked(ctx, st, x, y); blocked {
		st.history.AddToolResult(call.ID, fmt.Sprintf("Click at (%d, %d) was blocked: %s", x, y, reason))
		return shot, d.event(ctx, st, domain.EventTypeClickBlocked,
			fmt.Sprintf("Blocked click at (%d, %d): %s", x, y, reason), domain.ClickDetail(x, y))
	}

	if v := st.clicks.Check(x, y, time.Now(), shot); v.Loop {
		st.logger.Info("click loop detected", zap.Int("x", x), zap.Int("y", y), zap.Int("matches", v.Matches))
		st.history.AddToolResult(call.ID, loopWarning)
		st.history.AddSystemNote(fmt.Sprintf(
			"The last %d clicks near (%d, %d) changed nothing on screen. Do not click there again; choose a different element.",
			v.Matches, x, y))
		st.logf("Skipped repeated click at (%d, %d)", x, y)
		return shot, d.event(ctx, st, domain.EventTypeClickSkipped,
			fmt.Sprintf("Clicked (%d, %d) again", x, y), domain.ClickDetail(x, y))
	}

	err := d.backend.Click(ctx, st.run.SessionID, x, y)
	if ferr := d.fence.Check(st.tok); ferr != nil {
		return nil, ferr
	}
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil, err
	}
	if err != nil {
		st.history.AddToolResult(call.ID, fmt.Sprintf("Click at (%d, %d) failed: %v", x, y, err))
		return shot, d.event(ctx, st, domain.EventTypeError, fmt.Sprintf("Click at (%d, %d) failed", x, y), err.Error())
	}

	st.clicks.Record(ClickEntry{X: x, Y: y, At: time.Now(), Screenshot: shot})
	st.run.ActionCount++

	if err := sleep(ctx, d.cfg.SettleDelay); err != nil {
		return nil, err
	}
	if err := d.fence.Check(st.tok); err != nil {
		return nil, err
	}

	after, err := d.capture(ctx, st)
	var result string
	switch {
	case errors.Is(err, errSkipIteration):
		after = shot
		result = fmt.Sprintf("Clicked (%d, %d); the screen could not be checked afterwards.", x, y)
	case err != nil:
		return nil, err
	case bytes.Equal(after, shot):
		result = fmt.Sprintf("Clicked (%d, %d) but nothing visibly changed.", x, y)
	default:
		st.shots++
		result = fmt.Sprintf("Clicked (%d, %d); the screen changed.", x, y)
	}
	st.history.AddToolResult(call.ID, result)

	label := fmt.Sprintf("Clicked (%d, %d)", x, y)
	if rationale != "" {
		label += ": " + rationale
	}
	return after, d.event(ctx, st, domain.EventTypeClick, label, domain.ClickDetail(x, y))
}

func (d *Driver) blocked(ctx context.Context, st *execution, x, y int) (bool, string) {
	if d.policy == nil {
		return false, ""
	}
	decision, reason, err := d.policy.Evaluate(ctx, map[string]interface{}{
		"tool_name": oracle.ToolClick,
		"args":      map[string]interface{}{"x": x, "y": y},
		"viewport":  map[string]interface{}{"width": d.cfg.ViewportWidth, "height": d.cfg.ViewportHeight},
		"run_id":    st.run.RunID,
	})
	if err != nil {
		st.logger.Warn("action policy failed, allowing click", zap.Error(err))
		return false, ""
	}
	if decision == "block" || decision == "require_approval" {
		if reason == "" {
			reason = "not allowed by action policy"
		}
		return true, reason
	}
	return false, ""
}

// capture takes a screenshot, retrying transient failures with backoff.
func (d *Driver) capture(ctx context.Context, st *execution) ([]byte, error) {
	b := Backoff{Base: d.cfg.ScreenshotBackoff, Max: d.cfg.ReadyMaxBackoff}
	var lastErr error
	for attempt := 0; attempt <= d.cfg.ScreenshotRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, b.Delay(attempt)); err != nil {
				return nil, err
			}
		}
		shot, err := d.backend.Screenshot(ctx, st.run.SessionID)
		if ferr := d.fence.Check(st.tok); ferr != nil {
			return nil, ferr
		}
		if err == nil {
			return shot, nil
		}
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", errSkipIteration, lastErr)
}

func (d *Driver) openSession(ctx context.Context, st *execution) error {
	run := st.run
	ping := func(ctx context.Context) error {
		_, err := d.backend.Screenshot(ctx, run.SessionID)
		if ferr := d.fence.Check(st.tok); ferr != nil {
			return ferr
		}
		return err
	}

	if run.SessionID != "" {
		err := WaitReady(ctx, d.cfg.ready(), ping)
		if err == nil || errors.Is(err, ErrStaleExecution) {
			return err
		}
		st.logf("Previous session %s is gone, starting a new one", run.SessionID)
	}

	id, err := d.backend.Start(ctx, run.URL)
	if ferr := d.fence.Check(st.tok); ferr != nil {
		return ferr
	}
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	run.SessionID = id
	return WaitReady(ctx, d.cfg.ready(), ping)
}

func (d *Driver) mergeDesignMetadata(ctx context.Context, st *execution) error {
	run := st.run
	if d.figma == nil || !figma.IsFigmaURL(run.URL) {
		return nil
	}
	if run.Context != nil && run.Context.External["figma"] != nil {
		return nil
	}
	meta, err := d.figma.FetchMetadata(ctx, figma.FileKey(run.URL))
	if ferr := d.fence.Check(st.tok); ferr != nil {
		return ferr
	}
	if err != nil {
		st.logger.Warn("figma metadata unavailable", zap.Error(err))
		return nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	run.Context = run.Context.Merge(&domain.SemanticContext{
		External:    map[string]json.RawMessage{"figma": raw},
		ExtractedAt: time.Now(),
	})
	st.logf("Loaded design metadata for %s", meta.FileKey)
	return nil
}

func (d *Driver) refreshContext(ctx context.Context, st *execution) error {
	sc, err := d.backend.ExtractContext(ctx, st.run.SessionID)
	if ferr := d.fence.Check(st.tok); ferr != nil {
		return ferr
	}
	if err != nil {
		st.logger.Debug("context extraction skipped", zap.Error(err))
		return nil
	}
	st.run.Context = st.run.Context.Merge(sc)
	return d.event(ctx, st, domain.EventTypeContextUpdated, "Page context captured", "")
}

func (d *Driver) tickProgress(ctx context.Context, st *execution, stop <-chan struct{}) {
	if d.cfg.ProgressTick <= 0 || d.cfg.ProgressStep <= 0 {
		return
	}
	ticker := time.NewTicker(d.cfg.ProgressTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			err := d.fence.Guard(st.tok, func() error {
				v := st.progress.Advance(d.cfg.ProgressStep)
				d.sink.Publish(domain.FeedMessage{
					Type:     "progress",
					RunID:    st.tok.RunID,
					Ts:       time.Since(st.started).Milliseconds(),
					Status:   domain.RunStatusRunning,
					Progress: v,
				})
				return nil
			})
			if err != nil {
				return
			}
		}
	}
}

// complete runs the findings pipeline and marks the run completed.
func (d *Driver) complete(ctx context.Context, st *execution, submit *oracle.SubmitFindingsCall) error {
	run := st.run
	pct := 100
	var submitted []domain.Finding
	if submit != nil {
		pct = submit.CompletionPercentage()
		run.Feedback = submit.GeneralFeedback
		run.NextSteps = append([]string(nil), submit.NextSteps...)
		for _, raw := range submit.Findings {
			f := oracle.NormalizeFinding(raw)
			if f.Title == "" && f.Description == "" {
				continue
			}
			submitted = append(submitted, d.decorate(st, f))
		}
	}

	list := submitted
	if d.pass != nil && !run.Context.Empty() {
		analysed := d.pass.Run(ctx, analysis.Input{
			RunID:           run.RunID,
			Persona:         run.Persona,
			Tasks:           run.Tasks,
			Context:         run.Context,
			Events:          run.Events,
			ScreenshotIndex: st.shots,
		})
		if err := d.fence.Check(st.tok); err != nil {
			return err
		}
		res := d.synth.Synthesize(analysed)
		list = append(res.Findings, submitted...)
		st.logf("Analysis: %s", res.Summary)
	}

	clustered := d.clusterer.Cluster(ctx, list)
	if err := d.fence.Check(st.tok); err != nil {
		return err
	}

	run.CompletionPercentage = pct
	markTasks(run.Tasks, pct)
	st.logf("Completed with %d%% of tasks done and %d findings", pct, len(clustered))

	if err := d.fence.Guard(st.tok, func() error {
		if err := d.sink.SaveFindings(ctx, run.RunID, clustered); err != nil {
			st.logger.Error("failed to save findings", zap.Error(err))
			st.logf("Saving findings failed: %v", err)
		}
		return nil
	}); err != nil {
		return err
	}
	return d.finish(ctx, st, domain.RunStatusCompleted, nil)
}

// decorate fills in identity and evidence for a finding the oracle submitted.
func (d *Driver) decorate(st *execution, f domain.Finding) domain.Finding {
	run := st.run
	f.FindingID = "fnd_" + uuid.New().String()[:8]
	f.RunID = run.RunID
	f.PersonaID = run.Persona.ID
	f.Specialist = explorerSpecialist
	window := run.Events
	if n := d.cfg.EvidenceWindow; n > 0 && len(window) > n {
		window = window[len(window)-n:]
	}
	task := ""
	for _, id := range f.AffectedTasks {
		for _, t := range run.Tasks {
			if t.ID == id {
				task = t.Description
				break
			}
		}
		if task != "" {
			break
		}
	}
	if task == "" && len(run.Tasks) > 0 {
		task = run.Tasks[0].Description
	}
	f.Evidence = []domain.EvidenceSnippet{*d.extractor.Extract(window, run.Persona, task, st.shots)}
	return f
}

// markTasks passes the first share of tasks matching pct and fails the rest.
func markTasks(tasks []domain.Task, pct int) {
	passed := int(math.Round(float64(len(tasks)) * float64(pct) / 100))
	for i := range tasks {
		if i < passed {
			tasks[i].Status = domain.TaskStatusPassed
		} else {
			tasks[i].Status = domain.TaskStatusFailed
		}
	}
}

// finish persists a terminal state. cause is set for error outcomes.
func (d *Driver) finish(ctx context.Context, st *execution, status domain.RunStatus, cause error) error {
	run := st.run
	now := time.Now()
	run.Status = status
	run.CompletedAt = &now
	if run.StartedAt != nil {
		run.DurationMs = now.Sub(*run.StartedAt).Milliseconds()
	}

	evType, label := domain.EventTypeRunCompleted, "Run completed"
	switch status {
	case domain.RunStatusCompleted:
		st.progress.Complete()
	case domain.RunStatusError:
		evType, label = domain.EventTypeRunFailed, "Run failed"
		run.Error = cause.Error()
	case domain.RunStatusNeedsValidation:
		label = "Run needs validation"
	}

	if err := d.event(ctx, st, evType, label, run.Error); err != nil {
		return err
	}
	if err := d.saveRun(ctx, st); err != nil {
		return err
	}
	if status == domain.RunStatusError {
		// Kept so the run can be resumed.
		return d.checkpoint(ctx, st)
	}
	if err := d.fence.Guard(st.tok, func() error { return d.cache.Clear(ctx, run.RunID) }); err != nil {
		st.logger.Warn("failed to clear run cache", zap.Error(err))
	}
	d.fence.Release(st.tok)
	return nil
}

// fail moves the run to error. Stale executions write nothing.
func (d *Driver) fail(ctx context.Context, st *execution, cause error) error {
	if errors.Is(cause, ErrStaleExecution) {
		return cause
	}
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}
	st.logger.Warn("run failed", zap.Error(cause))
	st.logf("Run failed: %v", cause)
	if err := d.finish(context.WithoutCancel(ctx), st, domain.RunStatusError, cause); err != nil {
		return err
	}
	return nil
}

func (d *Driver) event(ctx context.Context, st *execution, typ domain.EventType, label, detail string) error {
	ev := domain.Event{
		EventID:   "evt_" + uuid.New().String()[:8],
		RunID:     st.run.RunID,
		Ts:        time.Since(st.started).Milliseconds(),
		Type:      typ,
		Label:     label,
		Detail:    detail,
		PersonaID: st.run.Persona.ID,
	}
	return d.fence.Guard(st.tok, func() error {
		st.run.Events = append(st.run.Events, ev)
		if err := d.sink.RecordEvent(ctx, ev); err != nil {
			st.logger.Warn("failed to record event", zap.String("type", string(typ)), zap.Error(err))
		}
		d.sink.Publish(domain.FeedMessage{
			Type:     "event",
			RunID:    st.run.RunID,
			Ts:       ev.Ts,
			Status:   st.run.Status,
			Progress: st.progress.Value(),
			Event:    &ev,
		})
		return nil
	})
}

func (d *Driver) saveRun(ctx context.Context, st *execution) error {
	return d.fence.Guard(st.tok, func() error {
		st.run.Progress = st.progress.Value()
		if err := d.sink.SaveRun(ctx, st.run); err != nil {
			st.logger.Error("failed to save run", zap.Error(err))
		}
		d.sink.Publish(domain.FeedMessage{
			Type:     "status",
			RunID:    st.run.RunID,
			Ts:       time.Since(st.started).Milliseconds(),
			Status:   st.run.Status,
			Progress: st.run.Progress,
		})
		return nil
	})
}

func (d *Driver) checkpoint(ctx context.Context, st *execution) error {
	return d.fence.Guard(st.tok, func() error {
		st.run.Progress = st.progress.Value()
		err := d.cache.Save(ctx, &CachedRun{
			Run:             st.run.Clone(),
			History:         *st.history,
			ExecID:          st.tok.ExecID,
			Iteration:       st.iteration,
			ScreenshotCount: st.shots,
			SavedAt:         time.Now(),
		})
		if err != nil {
			st.logger.Warn("checkpoint failed", zap.Error(err))
		}
		return nil
	})
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
