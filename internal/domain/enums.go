// Package domain defines the core domain models for the run engine.
package domain

import "strings"

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusQueued          RunStatus = "queued"
	RunStatusRunning         RunStatus = "running"
	RunStatusCompleted       RunStatus = "completed"
	RunStatusNeedsValidation RunStatus = "needs-validation"
	RunStatusError           RunStatus = "error"
)

// IsTerminal reports whether no further loop iterations may follow.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusNeedsValidation, RunStatusError:
		return true
	}
	return false
}

// EventType represents the type of an interaction event.
type EventType string

const (
	EventTypeRunStarted     EventType = "run_started"
	EventTypeClick          EventType = "click"
	EventTypeClickSkipped   EventType = "click_skipped"
	EventTypeClickBlocked   EventType = "click_blocked"
	EventTypeBacktrack      EventType = "backtrack"
	EventTypeSubmit         EventType = "submit"
	EventTypeMessage        EventType = "message"
	EventTypeContextUpdated EventType = "context_updated"
	EventTypeProgress       EventType = "progress"
	EventTypeError          EventType = "error"
	EventTypeRunCompleted   EventType = "run_completed"
	EventTypeRunFailed      EventType = "run_failed"
	EventTypeRunCancelled   EventType = "run_cancelled"
)

// Severity is the impact rating of a finding.
type Severity string

const (
	SeverityBlocker Severity = "Blocker"
	SeverityHigh    Severity = "High"
	SeverityMed     Severity = "Med"
	SeverityLow     Severity = "Low"
)

// Rank orders severities; higher is more severe. Unknown severities rank as Low.
func (s Severity) Rank() int {
	switch s {
	case SeverityBlocker:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMed:
		return 1
	}
	return 0
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseSeverity maps loose oracle spellings onto the closed severity set.
// The second return value is false when the input was not recognised.
func ParseSeverity(raw string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "blocker", "critical":
		return SeverityBlocker, true
	case "high":
		return SeverityHigh, true
	case "med", "medium", "moderate":
		return SeverityMed, true
	case "low", "minor":
		return SeverityLow, true
	}
	return SeverityMed, false
}

// Category is the closed set of finding categories.
type Category string

const (
	CategoryNavigation         Category = "navigation"
	CategoryCopy               Category = "copy"
	CategoryAffordanceFeedback Category = "affordance_feedback"
	CategoryForms              Category = "forms"
	CategoryHierarchy          Category = "hierarchy"
	CategoryAccessibility      Category = "accessibility"
	CategoryConversion         Category = "conversion"
	CategoryOther              Category = "other"
)

var categories = map[string]Category{
	"navigation":          CategoryNavigation,
	"copy":                CategoryCopy,
	"affordance_feedback": CategoryAffordanceFeedback,
	"affordance":          CategoryAffordanceFeedback,
	"feedback":            CategoryAffordanceFeedback,
	"forms":               CategoryForms,
	"form":                CategoryForms,
	"hierarchy":           CategoryHierarchy,
	"accessibility":       CategoryAccessibility,
	"a11y":                CategoryAccessibility,
	"conversion":          CategoryConversion,
	"other":               CategoryOther,
}

// ParseCategory maps raw input to a Category, defaulting to CategoryOther.
func ParseCategory(raw string) Category {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, " ", "_")
	if c, ok := categories[key]; ok {
		return c
	}
	return CategoryOther
}

// ConfidenceLevel is the bucketed form of a numeric confidence.
type ConfidenceLevel string

const (
	ConfidenceLow  ConfidenceLevel = "Low"
	ConfidenceMed  ConfidenceLevel = "Med"
	ConfidenceHigh ConfidenceLevel = "High"
)

// ConfidenceLevelOf buckets a 0-100 confidence: Low < 40 <= Med < 70 <= High.
func ConfidenceLevelOf(confidence int) ConfidenceLevel {
	switch {
	case confidence >= 70:
		return ConfidenceHigh
	case confidence >= 40:
		return ConfidenceMed
	}
	return ConfidenceLow
}

// ClampConfidence limits a confidence to [0,100].
func ClampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
