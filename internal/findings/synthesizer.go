// Package findings merges, validates and clusters candidate findings.
package findings

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
	"github.com/xiaot623/gogo/uxrunner/internal/similarity"
)

// Result is the synthesizer output: validated findings in priority order plus buckets.
type Result struct {
	Findings []domain.Finding
	High     []domain.Finding
	Med      []domain.Finding
	Low      []domain.Finding
	Summary  string
}

// Synthesizer merges findings produced by specialists in the same analysis pass.
type Synthesizer struct {
	// DescriptionOverlap is the minimum description word overlap for two findings
	// to count as the same issue.
	DescriptionOverlap float64
}

// NewSynthesizer returns a synthesizer with the default 50% overlap rule.
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{DescriptionOverlap: 0.5}
}

// Synthesize groups, merges, validates and sorts the input findings.
func (s *Synthesizer) Synthesize(in []domain.Finding) Result {
	groups := s.group(in)

	merged := make([]domain.Finding, 0, len(groups))
	for _, g := range groups {
		f := mergeGroup(g)
		if Validated(f) {
			merged = append(merged, f)
		}
	}

	SortByPriority(merged)

	res := Result{Findings: merged}
	for _, f := range merged {
		switch {
		case f.Severity.Rank() >= domain.SeverityHigh.Rank():
			res.High = append(res.High, f)
		case f.Severity == domain.SeverityMed:
			res.Med = append(res.Med, f)
		default:
			res.Low = append(res.Low, f)
		}
	}
	res.Summary = Summarize(len(res.High), len(res.Med), len(res.Low))
	return res
}

// group partitions findings into transitive "same issue" groups, preserving input order.
func (s *Synthesizer) group(in []domain.Finding) [][]domain.Finding {
	n := len(in)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	words := make([]map[string]struct{}, n)
	for i, f := range in {
		words[i] = similarity.Words(f.Description)
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if s.sameIssue(in[i], in[j], words[i], words[j]) {
				ri, rj := find(i), find(j)
				if ri != rj {
					if rj < ri {
						ri, rj = rj, ri
					}
					parent[rj] = ri
				}
			}
		}
	}

	index := make(map[int]int)
	var groups [][]domain.Finding
	for i, f := range in {
		root := find(i)
		gi, ok := index[root]
		if !ok {
			gi = len(groups)
			index[root] = gi
			groups = append(groups, nil)
		}
		groups[gi] = append(groups[gi], f)
	}
	return groups
}

func (s *Synthesizer) sameIssue(a, b domain.Finding, wa, wb map[string]struct{}) bool {
	if a.ElementSelector != "" && a.ElementSelector == b.ElementSelector {
		return true
	}
	ta := strings.ToLower(strings.TrimSpace(a.Title))
	tb := strings.ToLower(strings.TrimSpace(b.Title))
	if ta != "" && tb != "" && (strings.Contains(ta, tb) || strings.Contains(tb, ta)) {
		return true
	}
	return similarity.Overlap(wa, wb) >= s.DescriptionOverlap
}

func mergeGroup(g []domain.Finding) domain.Finding {
	base := 0
	for i, f := range g {
		if f.Confidence > g[base].Confidence {
			base = i
		}
	}
	out := g[base].Clone()
	if len(g) == 1 {
		return out
	}

	seen := make(map[string]bool)
	out.Citations = out.Citations[:0]
	tasks := newOrderedSet()
	var evidence []domain.EvidenceSnippet
	evidenceSeen := make(map[string]bool)

	// base first so its citations and tasks lead
	order := append([]int{base}, otherIndexes(len(g), base)...)
	for _, i := range order {
		f := g[i]
		out.Severity = domain.MaxSeverity(out.Severity, f.Severity)
		for _, c := range f.Citations {
			key := c.Source + "\x1f" + c.Title
			if !seen[key] {
				seen[key] = true
				out.Citations = append(out.Citations, c)
			}
		}
		tasks.add(f.AffectedTasks...)
		for _, e := range f.Evidence {
			if !evidenceSeen[e.Key()] {
				evidenceSeen[e.Key()] = true
				evidence = append(evidence, e)
			}
		}
		if out.ElementSelector == "" {
			out.ElementSelector = f.ElementSelector
		}
		if out.BoundingBox == nil && f.BoundingBox != nil {
			bb := *f.BoundingBox
			out.BoundingBox = &bb
		}
	}
	out.AffectedTasks = tasks.items
	out.Evidence = evidence

	bonus := 10 * (len(g) - 1)
	if bonus > 20 {
		bonus = 20
	}
	out.Confidence = domain.ClampConfidence(out.Confidence + bonus)
	out.Description = fmt.Sprintf("%s (validated by %d specialists)", strings.TrimSpace(out.Description), len(g))
	return out
}

func otherIndexes(n, skip int) []int {
	out := make([]int, 0, n-1)
	for i := 0; i < n; i++ {
		if i != skip {
			out = append(out, i)
		}
	}
	return out
}

// Validated reports whether a finding carries enough support to surface.
func Validated(f domain.Finding) bool {
	cites := len(f.Citations)
	switch {
	case f.Confidence >= 80:
		return true
	case f.Confidence >= 60 && cites >= 1:
		return true
	case f.Confidence >= 50 && (cites >= 2 || f.Severity.Rank() >= domain.SeverityHigh.Rank()):
		return true
	}
	return false
}

// SortByPriority orders findings by severity, confidence, then citation count, all
// descending. Ties keep their input order.
func SortByPriority(fs []domain.Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return len(a.Citations) > len(b.Citations)
	})
}

// Summarize renders bucket counts as one sentence.
func Summarize(high, med, low int) string {
	total := high + med + low
	if total == 0 {
		return "No validated issues found."
	}
	noun := "issues"
	if total == 1 {
		noun = "issue"
	}
	return fmt.Sprintf("Found %d %s: %d high priority, %d medium priority, %d low priority.", total, noun, high, med, low)
}

type orderedSet struct {
	seen  map[string]bool
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]bool)}
}

func (s *orderedSet) add(vals ...string) {
	for _, v := range vals {
		if v == "" || s.seen[v] {
			continue
		}
		s.seen[v] = true
		s.items = append(s.items, v)
	}
}
