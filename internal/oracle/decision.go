// Package oracle is the boundary to the external reasoning capability that picks the
// next action for a run and turns page context into candidate findings.
package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xiaot623/gogo/uxrunner/internal/adapter/llm"
	"github.com/xiaot623/gogo/uxrunner/internal/domain"
)

// ErrEmptyResponse is returned when a response carries neither a usable tool call nor text.
var ErrEmptyResponse = errors.New("oracle returned no usable tool call or message")

const (
	ToolClick          = "click"
	ToolSubmitFindings = "submit_findings"
)

// Kind discriminates the Decision variants.
type Kind string

const (
	KindToolCalls Kind = "tool_calls"
	KindMessage   Kind = "message"
)

// Decision is the decoded oracle reply: either a list of tool calls or a message.
type Decision struct {
	Kind    Kind
	Calls   []ToolCall
	Message string
	// Text is any prose that accompanied tool calls.
	Text string
}

// ToolCall is one decoded tool invocation. Exactly one of Click or Submit is set.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
	Click     *ClickCall
	Submit    *SubmitFindingsCall
}

// ClickCall asks the run to click at screenshot coordinates.
type ClickCall struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Rationale string  `json:"rationale"`
}

// Point rounds the coordinates to integer pixels.
func (c ClickCall) Point() (int, int) {
	return int(math.Round(c.X)), int(math.Round(c.Y))
}

// SubmitFindingsCall ends the run with the oracle's own findings.
type SubmitFindingsCall struct {
	Findings                 []RawFinding `json:"findings"`
	GeneralFeedback          string       `json:"generalFeedback"`
	TaskCompletionPercentage float64      `json:"taskCompletionPercentage"`
	NextSteps                []string     `json:"nextSteps"`
}

// CompletionPercentage clamps the reported percentage into [0,100].
func (s SubmitFindingsCall) CompletionPercentage() int {
	p := int(math.Round(s.TaskCompletionPercentage))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// RawFinding is a finding as the oracle wrote it. Any field may be missing.
type RawFinding struct {
	Title           string              `json:"title"`
	Severity        string              `json:"severity"`
	Confidence      *float64            `json:"confidence"`
	Category        string              `json:"category"`
	Description     string              `json:"description"`
	SuggestedFix    string              `json:"suggestedFix"`
	AffectedTasks   []string            `json:"affectedTasks"`
	ElementSelector string              `json:"elementSelector"`
	BoundingBox     *domain.BoundingBox `json:"boundingBox"`
}

// DefaultConfidence is used when the oracle omits a confidence.
const DefaultConfidence = 50

// NormalizeFinding applies the defaulting rules for oracle findings: confidence
// defaults to 50 and is clamped to [0,100], category defaults to other and severity
// defaults to Med. A missing title falls back to the first sentence of the description.
func NormalizeFinding(raw RawFinding) domain.Finding {
	conf := DefaultConfidence
	if raw.Confidence != nil && !math.IsNaN(*raw.Confidence) {
		c := *raw.Confidence
		// Some models answer on a 0-1 scale. Whole numbers are already percentages.
		if c > 0 && c < 1 {
			c *= 100
		}
		conf = domain.ClampConfidence(int(math.Round(c)))
	}
	sev, _ := domain.ParseSeverity(raw.Severity)

	title := strings.TrimSpace(raw.Title)
	if title == "" {
		title = firstSentence(raw.Description)
	}

	return domain.Finding{
		Title:           title,
		Severity:        sev,
		Confidence:      conf,
		Category:        domain.ParseCategory(raw.Category),
		Description:     strings.TrimSpace(raw.Description),
		SuggestedFix:    strings.TrimSpace(raw.SuggestedFix),
		AffectedTasks:   append([]string(nil), raw.AffectedTasks...),
		ElementSelector: strings.TrimSpace(raw.ElementSelector),
		BoundingBox:     raw.BoundingBox,
	}
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".!?\n"); i > 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		n := 80
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n]
	}
	return s
}

// Decode turns a chat completion into a Decision. Tool calls whose arguments do not
// parse, or whose names are unknown, are dropped. When no call survives, non-empty text
// becomes a message; otherwise ErrEmptyResponse is returned.
func Decode(resp *llm.ChatCompletionResponse) (*Decision, error) {
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return nil, ErrEmptyResponse
	}
	msg := resp.Choices[0].Message
	text := strings.TrimSpace(msg.Content)

	var calls []ToolCall
	for _, tc := range msg.ToolCalls {
		call, err := decodeCall(tc)
		if err != nil {
			continue
		}
		calls = append(calls, call)
	}

	switch {
	case len(calls) > 0:
		return &Decision{Kind: KindToolCalls, Calls: calls, Text: text}, nil
	case text != "":
		return &Decision{Kind: KindMessage, Message: text}, nil
	}
	return nil, ErrEmptyResponse
}

func decodeCall(tc llm.ToolCall) (ToolCall, error) {
	call := ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
	args := strings.TrimSpace(tc.Function.Arguments)
	if args == "" {
		args = "{}"
	}
	switch tc.Function.Name {
	case ToolClick:
		var c struct {
			X         *float64 `json:"x"`
			Y         *float64 `json:"y"`
			Rationale string   `json:"rationale"`
		}
		if err := json.Unmarshal([]byte(args), &c); err != nil {
			return call, fmt.Errorf("click arguments: %w", err)
		}
		click := &ClickCall{Rationale: c.Rationale}
		if c.X == nil || c.Y == nil {
			if !IsCompletionRationale(c.Rationale) {
				return call, fmt.Errorf("click arguments: missing coordinates")
			}
		} else {
			click.X, click.Y = *c.X, *c.Y
		}
		call.Click = click
	case ToolSubmitFindings:
		s, err := decodeSubmit([]byte(args))
		if err != nil {
			return call, fmt.Errorf("submit_findings arguments: %w", err)
		}
		call.Submit = s
	default:
		return call, fmt.Errorf("unknown tool %q", tc.Function.Name)
	}
	return call, nil
}

// decodeSubmit decodes submit_findings arguments. Findings are decoded one at a time
// so a malformed item is dropped without losing the call.
func decodeSubmit(args []byte) (*SubmitFindingsCall, error) {
	var wire struct {
		Findings                 []json.RawMessage `json:"findings"`
		GeneralFeedback          string            `json:"generalFeedback"`
		TaskCompletionPercentage json.RawMessage   `json:"taskCompletionPercentage"`
		NextSteps                []string          `json:"nextSteps"`
	}
	if err := json.Unmarshal(args, &wire); err != nil {
		return nil, err
	}
	s := &SubmitFindingsCall{
		GeneralFeedback: wire.GeneralFeedback,
		NextSteps:       wire.NextSteps,
	}
	if pct, ok := lenientNumber(wire.TaskCompletionPercentage); ok {
		s.TaskCompletionPercentage = pct
	}
	for _, item := range wire.Findings {
		f, err := decodeFinding(item)
		if err != nil {
			continue
		}
		s.Findings = append(s.Findings, f)
	}
	return s, nil
}

func decodeFinding(item json.RawMessage) (RawFinding, error) {
	var f struct {
		RawFinding
		Confidence json.RawMessage `json:"confidence"`
	}
	if err := json.Unmarshal(item, &f); err != nil {
		return RawFinding{}, err
	}
	raw := f.RawFinding
	if c, ok := lenientNumber(f.Confidence); ok {
		raw.Confidence = &c
	}
	return raw, nil
}

// lenientNumber reads a JSON number or a numeric string.
func lenientNumber(v json.RawMessage) (float64, bool) {
	if len(v) == 0 {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(v, &n); err == nil {
		return n, true
	}
	var str string
	if err := json.Unmarshal(v, &str); err != nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(str), "%"), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsCompletionRationale reports whether a click rationale says the tasks are done.
func IsCompletionRationale(rationale string) bool {
	r := strings.ToLower(strings.TrimSpace(rationale))
	r = strings.TrimRight(r, ".! ")
	if r == "done" {
		return true
	}
	return strings.HasPrefix(r, "done:") || strings.HasPrefix(r, "done -") || strings.HasPrefix(r, "done,")
}

var completionPhrases = []string{
	"all tasks completed",
	"all tasks are complete",
	"all tasks have been completed",
	"completed all tasks",
	"i have completed",
	"task completed",
	"tasks completed",
	"testing complete",
	"finished all tasks",
}

// IsCompletionMessage reports whether a free-text reply announces completion.
func IsCompletionMessage(text string) bool {
	t := strings.ToLower(text)
	for _, p := range completionPhrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}
