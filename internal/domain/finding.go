package domain

import (
	"strings"
	"time"
)

// Citation references a knowledge chunk supporting a finding.
type Citation struct {
	ChunkID  string `json:"chunk_id"`
	Source   string `json:"source"`
	Title    string `json:"title"`
	Category string `json:"category,omitempty"`
}

// BoundingBox is an element rectangle in screenshot pixels.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// UIAnchor ties evidence to a place in the interface.
type UIAnchor struct {
	FrameLabel   string       `json:"frame_label,omitempty"`
	ElementLabel string       `json:"element_label,omitempty"`
	BoundingBox  *BoundingBox `json:"bounding_box,omitempty"`
	Selector     string       `json:"selector,omitempty"`
}

// EvidenceSnippet is a narrated record supporting one finding. Immutable once created.
type EvidenceSnippet struct {
	PersonaName     string    `json:"persona_name"`
	PersonaRole     string    `json:"persona_role,omitempty"`
	TaskContext     string    `json:"task_context"`
	Steps           []string  `json:"steps"`
	Quote           string    `json:"quote,omitempty"`
	Anchor          *UIAnchor `json:"anchor,omitempty"`
	ScreenshotIndex int       `json:"screenshot_index"`
	Timestamp       time.Time `json:"timestamp"`
}

// Key identifies a snippet for de-duplication: persona, task context and steps.
func (e EvidenceSnippet) Key() string {
	return e.PersonaName + "\x1f" + e.TaskContext + "\x1f" + strings.Join(e.Steps, "\x1e")
}

// Finding is a candidate usability, accessibility or conversion issue.
type Finding struct {
	FindingID       string            `json:"finding_id,omitempty"`
	RunID           string            `json:"run_id,omitempty"`
	PersonaID       string            `json:"persona_id,omitempty"`
	Specialist      string            `json:"specialist,omitempty"`
	Title           string            `json:"title"`
	Severity        Severity          `json:"severity"`
	Confidence      int               `json:"confidence"`
	Category        Category          `json:"category"`
	Description     string            `json:"description"`
	SuggestedFix    string            `json:"suggested_fix,omitempty"`
	AffectedTasks   []string          `json:"affected_tasks,omitempty"`
	Citations       []Citation        `json:"citations,omitempty"`
	ElementSelector string            `json:"element_selector,omitempty"`
	BoundingBox     *BoundingBox      `json:"bounding_box,omitempty"`
	Evidence        []EvidenceSnippet `json:"evidence,omitempty"`
}

// ConfidenceLevel returns the bucketed confidence.
func (f Finding) ConfidenceLevel() ConfidenceLevel {
	return ConfidenceLevelOf(f.Confidence)
}

// Clone copies slices so merges never alias their inputs.
func (f Finding) Clone() Finding {
	out := f
	out.AffectedTasks = append([]string(nil), f.AffectedTasks...)
	out.Citations = append([]Citation(nil), f.Citations...)
	out.Evidence = append([]EvidenceSnippet(nil), f.Evidence...)
	if f.BoundingBox != nil {
		bb := *f.BoundingBox
		out.BoundingBox = &bb
	}
	return out
}

// ClusteredFinding is a finding merged with its duplicates. Evidence on the
// embedded Finding holds the merged snippet list.
type ClusteredFinding struct {
	Finding
	Frequency           int      `json:"frequency"`
	TriggeredByTasks    []string `json:"triggered_by_tasks,omitempty"`
	TriggeredByPersonas []string `json:"triggered_by_personas,omitempty"`
}
