package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskStatus is the pass/fail state of one task in a run.
type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusPassed  TaskStatus = "passed"
	TaskStatusFailed  TaskStatus = "failed"
)

// Task is one step of a persona's task list.
type Task struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
}

// Persona is the simulated user a run acts on behalf of.
type Persona struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Role        string   `json:"role,omitempty"`
	Description string   `json:"description,omitempty"`
	Goals       []string `json:"goals,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
	// AccessibilityNeeds is empty for personas without assistive requirements.
	AccessibilityNeeds []string `json:"accessibility_needs,omitempty"`
}

// Run represents one attempt to execute a persona's task list against one session.
type Run struct {
	RunID                string           `json:"run_id"`
	TestID               string           `json:"test_id"`
	Persona              Persona          `json:"persona"`
	URL                  string           `json:"url"`
	SessionID            string           `json:"session_id,omitempty"`
	Status               RunStatus        `json:"status"`
	Tasks                []Task           `json:"tasks"`
	Progress             int              `json:"progress"`
	CreatedAt            time.Time        `json:"created_at"`
	StartedAt            *time.Time       `json:"started_at,omitempty"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty"`
	DurationMs           int64            `json:"duration_ms"`
	ActionCount          int              `json:"action_count"`
	CompletionPercentage int              `json:"completion_percentage"`
	Feedback             string           `json:"feedback,omitempty"`
	NextSteps            []string         `json:"next_steps,omitempty"`
	Events               []Event          `json:"events"`
	Logs                 []string         `json:"logs"`
	Context              *SemanticContext `json:"context,omitempty"`
	Error                string           `json:"error,omitempty"`
}

// CompletedTasks counts tasks marked passed.
func (r *Run) CompletedTasks() int {
	n := 0
	for _, t := range r.Tasks {
		if t.Status == TaskStatusPassed {
			n++
		}
	}
	return n
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	out := *r
	out.Tasks = append([]Task(nil), r.Tasks...)
	out.Events = append([]Event(nil), r.Events...)
	out.Logs = append([]string(nil), r.Logs...)
	out.NextSteps = append([]string(nil), r.NextSteps...)
	out.Persona.Goals = append([]string(nil), r.Persona.Goals...)
	out.Persona.Constraints = append([]string(nil), r.Persona.Constraints...)
	out.Persona.AccessibilityNeeds = append([]string(nil), r.Persona.AccessibilityNeeds...)
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	out.Context = r.Context.Clone()
	return &out
}

// Event is a single observed interaction. Ts is milliseconds since run start.
type Event struct {
	EventID   string    `json:"event_id"`
	RunID     string    `json:"run_id"`
	Ts        int64     `json:"ts"`
	Type      EventType `json:"type"`
	Label     string    `json:"label"`
	Detail    string    `json:"detail,omitempty"`
	PersonaID string    `json:"persona_id,omitempty"`
}

// SemanticContext is the structured page snapshot gathered from the session backend.
type SemanticContext struct {
	DOMTree           json.RawMessage            `json:"dom_tree,omitempty"`
	AccessibilityTree json.RawMessage            `json:"accessibility_tree,omitempty"`
	PageMetadata      json.RawMessage            `json:"page_metadata,omitempty"`
	External          map[string]json.RawMessage `json:"external,omitempty"`
	ExtractedAt       time.Time                  `json:"extracted_at"`
}

// Empty reports whether no section has been captured yet.
func (c *SemanticContext) Empty() bool {
	return c == nil || (len(c.DOMTree) == 0 && len(c.AccessibilityTree) == 0 &&
		len(c.PageMetadata) == 0 && len(c.External) == 0)
}

// Merge folds next into c. Non-empty sections of next replace those of c and
// external metadata is merged key by key. A nil receiver yields a copy of next.
func (c *SemanticContext) Merge(next *SemanticContext) *SemanticContext {
	if next == nil {
		return c.Clone()
	}
	out := c.Clone()
	if out == nil {
		out = &SemanticContext{}
	}
	if len(next.DOMTree) > 0 {
		out.DOMTree = next.DOMTree
	}
	if len(next.AccessibilityTree) > 0 {
		out.AccessibilityTree = next.AccessibilityTree
	}
	if len(next.PageMetadata) > 0 {
		out.PageMetadata = next.PageMetadata
	}
	for k, v := range next.External {
		if out.External == nil {
			out.External = make(map[string]json.RawMessage)
		}
		out.External[k] = v
	}
	if next.ExtractedAt.After(out.ExtractedAt) {
		out.ExtractedAt = next.ExtractedAt
	}
	return out
}

// Clone copies the context; raw JSON sections are immutable and shared.
func (c *SemanticContext) Clone() *SemanticContext {
	if c == nil {
		return nil
	}
	out := *c
	if c.External != nil {
		out.External = make(map[string]json.RawMessage, len(c.External))
		for k, v := range c.External {
			out.External[k] = v
		}
	}
	return &out
}

// ClickDetail formats the detail recorded on click events.
func ClickDetail(x, y int) string {
	return fmt.Sprintf("x=%d,y=%d", x, y)
}

// ParseClickDetail reads coordinates back from a click event detail.
func ParseClickDetail(detail string) (x, y int, ok bool) {
	if _, err := fmt.Sscanf(detail, "x=%d,y=%d", &x, &y); err != nil {
		return 0, 0, false
	}
	return x, y, true
}
