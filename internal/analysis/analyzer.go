package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
	"github.com/xiaot623/gogo/uxrunner/internal/knowledge"
	"github.com/xiaot623/gogo/uxrunner/internal/oracle"
)

// Specialty is the domain one analyzer covers.
type Specialty string

const (
	SpecialtyUsability     Specialty = "usability"
	SpecialtyAccessibility Specialty = "accessibility"
	SpecialtyConversion    Specialty = "conversion"
)

// Specialties lists the analyzers of a pass in output order.
var Specialties = []Specialty{SpecialtyUsability, SpecialtyAccessibility, SpecialtyConversion}

// Input is the read-only snapshot every analyzer in a pass receives.
type Input struct {
	RunID           string
	Persona         domain.Persona
	Tasks           []domain.Task
	Context         *domain.SemanticContext
	Events          []domain.Event
	Screenshot      []byte
	ScreenshotIndex int
}

// Analyzer produces candidate findings for one specialty.
type Analyzer struct {
	specialty Specialty
	oracle    oracle.Oracle
	retriever knowledge.Retriever
	extractor *EvidenceExtractor
	threshold float64
	limit     int
	logger    *zap.Logger
}

// NewAnalyzer creates an analyzer. retriever may be nil.
func NewAnalyzer(s Specialty, o oracle.Oracle, r knowledge.Retriever, opts ...Option) *Analyzer {
	cfg := newSettings(opts)
	return &Analyzer{
		specialty: s,
		oracle:    o,
		retriever: r,
		extractor: NewEvidenceExtractor(),
		threshold: cfg.threshold,
		limit:     cfg.limit,
		logger:    cfg.logger,
	}
}

// Specialty returns the analyzer's domain.
func (a *Analyzer) Specialty() Specialty { return a.specialty }

// Analyze retrieves citations, asks the oracle for findings and normalises them.
func (a *Analyzer) Analyze(ctx context.Context, in Input) ([]domain.Finding, error) {
	citations := a.citations(ctx, in)

	raw, err := a.oracle.Analyze(ctx, oracle.AnalysisRequest{
		Specialty:    string(a.specialty),
		Instructions: Instructions(a.specialty, in.Persona),
		Persona:      in.Persona,
		Tasks:        in.Tasks,
		Context:      in.Context,
		Events:       in.Events,
		Citations:    citations,
		Screenshot:   in.Screenshot,
	})
	if err != nil {
		return nil, fmt.Errorf("%s analyzer: %w", a.specialty, err)
	}

	out := make([]domain.Finding, 0, len(raw))
	for _, r := range raw {
		f := oracle.NormalizeFinding(r)
		if f.Title == "" && f.Description == "" {
			continue
		}
		f.FindingID = uuid.NewString()
		f.RunID = in.RunID
		f.PersonaID = in.Persona.ID
		f.Specialist = string(a.specialty)
		f.Citations = append([]domain.Citation(nil), citations...)
		snippet := a.extractor.Extract(in.Events, in.Persona, taskContext(f, in.Tasks), in.ScreenshotIndex)
		f.Evidence = []domain.EvidenceSnippet{*snippet}
		out = append(out, f)
	}
	return out, nil
}

func (a *Analyzer) citations(ctx context.Context, in Input) []domain.Citation {
	if a.retriever == nil {
		return nil
	}
	passages, err := a.retriever.Search(ctx, knowledge.Query{
		Text:      retrievalQuery(a.specialty, in),
		Category:  string(a.specialty),
		Threshold: a.threshold,
		Limit:     a.limit,
	})
	if err != nil {
		a.logger.Warn("knowledge retrieval failed", zap.String("specialty", string(a.specialty)), zap.Error(err))
		return nil
	}
	out := make([]domain.Citation, 0, len(passages))
	for _, p := range passages {
		out = append(out, p.Chunk.Citation())
	}
	return out
}

func retrievalQuery(s Specialty, in Input) string {
	parts := []string{string(s)}
	for _, t := range in.Tasks {
		parts = append(parts, t.Description)
	}
	parts = append(parts, in.Persona.Goals...)
	if s == SpecialtyAccessibility {
		parts = append(parts, in.Persona.AccessibilityNeeds...)
	}
	return strings.Join(parts, " ")
}

// taskContext picks the description of the first affected task, else the first task.
func taskContext(f domain.Finding, tasks []domain.Task) string {
	for _, id := range f.AffectedTasks {
		for _, t := range tasks {
			if t.ID == id {
				return t.Description
			}
		}
	}
	if len(tasks) > 0 {
		return tasks[0].Description
	}
	return ""
}

var focus = map[Specialty]string{
	SpecialtyUsability: "You are a usability specialist. Look for navigation dead ends, unclear copy, " +
		"missing feedback after actions, confusing hierarchy and form friction.",
	SpecialtyAccessibility: "You are an accessibility specialist. Look for problems with contrast, target size, " +
		"focus order, labelling and reliance on a single sense.",
	SpecialtyConversion: "You are a conversion specialist. Look for friction on the path to the persona's goal: " +
		"hidden calls to action, unexpected costs, extra steps and trust gaps.",
}

// Instructions builds the system instructions for one specialty. Generic checklist
// items are suppressed unless they affect this persona.
func Instructions(s Specialty, p domain.Persona) string {
	var b strings.Builder
	b.WriteString(focus[s])
	b.WriteString("\n\nReport only issues that demonstrably affect this persona")
	if p.Name != "" {
		fmt.Fprintf(&b, " (%s)", p.Name)
	}
	b.WriteString(". Do not list generic best-practice items that would not change this persona's experience.")
	if len(p.Goals) > 0 {
		fmt.Fprintf(&b, "\nPersona goals: %s.", strings.Join(p.Goals, "; "))
	}
	if len(p.Constraints) > 0 {
		fmt.Fprintf(&b, "\nPersona constraints: %s.", strings.Join(p.Constraints, "; "))
	}
	if s == SpecialtyAccessibility {
		if len(p.AccessibilityNeeds) == 0 {
			b.WriteString("\nThis persona has no stated accessibility needs. Report an accessibility issue only if it " +
				"blocks or slows this persona directly; otherwise return an empty list.")
		} else {
			fmt.Fprintf(&b, "\nPersona accessibility needs: %s. Prioritise issues that affect these needs.",
				strings.Join(p.AccessibilityNeeds, "; "))
		}
	}
	b.WriteString("\nCite the provided guidance where it applies. Use confidence below 50 for speculation.")
	return b.String()
}
