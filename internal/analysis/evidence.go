// Package analysis runs the specialist analyzers over a run's context and narrates
// the evidence behind each finding.
package analysis

import (
	"fmt"
	"strings"
	"time"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
)

const (
	minSteps = 2
	maxSteps = 6
	// anchorSize is the side of the box drawn around a click point.
	anchorSize = 24
)

// EvidenceExtractor turns a window of events into an evidence snippet.
type EvidenceExtractor struct {
	now func() time.Time
}

// NewEvidenceExtractor creates an extractor.
func NewEvidenceExtractor() *EvidenceExtractor {
	return &EvidenceExtractor{now: time.Now}
}

// Extract narrates the window. Bookkeeping events are skipped, the last six
// narrative steps are kept and short windows are padded from the task context.
func (x *EvidenceExtractor) Extract(window []domain.Event, persona domain.Persona, task string, screenshotIndex int) *domain.EvidenceSnippet {
	var steps []string
	var lastClick *domain.Event
	var quote string
	for i := range window {
		e := window[i]
		step, ok := narrate(e)
		if !ok {
			continue
		}
		steps = append(steps, step)
		if e.Type == domain.EventTypeClick {
			lastClick = &window[i]
		}
		if q := quoteFor(e.Type); q != "" {
			quote = q
		}
	}

	if len(steps) > maxSteps {
		steps = steps[len(steps)-maxSteps:]
	}
	if len(steps) < minSteps {
		steps = append([]string{fmt.Sprintf("Started working on: %s", task)}, steps...)
	}
	if len(steps) < minSteps {
		steps = append(steps, "Looked for a way to continue")
	}

	return &domain.EvidenceSnippet{
		PersonaName:     persona.Name,
		PersonaRole:     persona.Role,
		TaskContext:     task,
		Steps:           steps,
		Quote:           quote,
		Anchor:          anchorFor(lastClick),
		ScreenshotIndex: screenshotIndex,
		Timestamp:       x.now(),
	}
}

func narrate(e domain.Event) (string, bool) {
	label := strings.TrimSpace(e.Label)
	switch e.Type {
	case domain.EventTypeProgress, domain.EventTypeContextUpdated, domain.EventTypeRunStarted:
		return "", false
	case domain.EventTypeClickSkipped:
		if label == "" {
			label = "Tried the same spot again"
		}
		return label + " (no visible change)", true
	}
	if label == "" {
		return "", false
	}
	return label, true
}

func quoteFor(t domain.EventType) string {
	switch t {
	case domain.EventTypeClickSkipped:
		return "I keep clicking this and nothing happens."
	case domain.EventTypeBacktrack:
		return "This isn't where I expected to end up, I need to go back."
	case domain.EventTypeError:
		return "Something went wrong and I'm not sure what to do now."
	case domain.EventTypeClickBlocked:
		return "I couldn't interact with that part of the screen."
	}
	return ""
}

func anchorFor(click *domain.Event) *domain.UIAnchor {
	if click == nil {
		return nil
	}
	x, y, ok := domain.ParseClickDetail(click.Detail)
	if !ok {
		return nil
	}
	return &domain.UIAnchor{
		ElementLabel: click.Label,
		BoundingBox: &domain.BoundingBox{
			X:      float64(x - anchorSize/2),
			Y:      float64(y - anchorSize/2),
			Width:  anchorSize,
			Height: anchorSize,
		},
	}
}
