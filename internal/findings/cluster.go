package findings

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
	"github.com/xiaot623/gogo/uxrunner/internal/similarity"
)

// DefaultClusterThreshold is the minimum similarity for two findings to fold together.
const DefaultClusterThreshold = 0.6

// Clusterer folds repeated detections of the same issue into clustered findings.
type Clusterer struct {
	threshold float64
	scorer    similarity.Scorer
	fallback  similarity.Scorer
	logger    *zap.Logger
}

// ClustererOption configures a Clusterer.
type ClustererOption func(*Clusterer)

// WithThreshold overrides the similarity threshold.
func WithThreshold(t float64) ClustererOption {
	return func(c *Clusterer) {
		if t > 0 {
			c.threshold = t
		}
	}
}

// WithScorer swaps the similarity function, e.g. for embedding cosine.
func WithScorer(s similarity.Scorer) ClustererOption {
	return func(c *Clusterer) {
		if s != nil {
			c.scorer = s
		}
	}
}

// WithLogger attaches a logger for scorer fallbacks.
func WithLogger(l *zap.Logger) ClustererOption {
	return func(c *Clusterer) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClusterer builds a Clusterer using word-set Jaccard unless overridden.
func NewClusterer(opts ...ClustererOption) *Clusterer {
	c := &Clusterer{
		threshold: DefaultClusterThreshold,
		scorer:    similarity.Jaccard{},
		fallback:  similarity.Jaccard{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cluster groups raw findings. Each input counts as one detection.
func (c *Clusterer) Cluster(ctx context.Context, in []domain.Finding) []domain.ClusteredFinding {
	seeds := make([]domain.ClusteredFinding, len(in))
	for i, f := range in {
		seeds[i] = Singleton(f)
	}
	return c.Merge(ctx, seeds)
}

// Singleton wraps one finding as a cluster of frequency 1.
func Singleton(f domain.Finding) domain.ClusteredFinding {
	cf := domain.ClusteredFinding{
		Finding:          f.Clone(),
		Frequency:        1,
		TriggeredByTasks: append([]string(nil), f.AffectedTasks...),
	}
	if f.PersonaID != "" {
		cf.TriggeredByPersonas = []string{f.PersonaID}
	}
	return cf
}

// Merge clusters already-clustered findings, e.g. the persisted results of several
// runs of one test. Frequencies add up. Output follows input order of each cluster's
// first member, so a priority-sorted input stays priority-sorted.
func (c *Clusterer) Merge(ctx context.Context, in []domain.ClusteredFinding) []domain.ClusteredFinding {
	texts := make([]string, len(in))
	for i, f := range in {
		texts[i] = clusterText(f.Finding)
	}

	processed := make([]bool, len(in))
	out := make([]domain.ClusteredFinding, 0, len(in))
	for i := range in {
		if processed[i] {
			continue
		}
		processed[i] = true
		members := []domain.ClusteredFinding{in[i]}
		for j := i + 1; j < len(in); j++ {
			if processed[j] || !comparable(in[i].Finding, in[j].Finding) {
				continue
			}
			if c.score(ctx, texts[i], texts[j]) >= c.threshold {
				processed[j] = true
				members = append(members, in[j])
			}
		}
		out = append(out, mergeCluster(members))
	}
	return out
}

func (c *Clusterer) score(ctx context.Context, a, b string) float64 {
	s, err := c.scorer.Score(ctx, a, b)
	if err != nil {
		c.logger.Warn("similarity scorer failed, using word overlap", zap.Error(err))
		s, _ = c.fallback.Score(ctx, a, b)
	}
	return s
}

// comparable requires the same category and severities at most one rank apart.
func comparable(a, b domain.Finding) bool {
	if a.Category != b.Category {
		return false
	}
	d := a.Severity.Rank() - b.Severity.Rank()
	return d >= -1 && d <= 1
}

func clusterText(f domain.Finding) string {
	return strings.Join([]string{f.Title, f.Description, f.SuggestedFix}, " ")
}

func mergeCluster(members []domain.ClusteredFinding) domain.ClusteredFinding {
	if len(members) == 1 {
		return members[0]
	}
	canon := 0
	for i, m := range members {
		if m.Confidence > members[canon].Confidence {
			canon = i
		}
	}

	out := domain.ClusteredFinding{Finding: members[canon].Finding.Clone()}
	tasks := newOrderedSet()
	personas := newOrderedSet()
	evidenceSeen := make(map[string]bool)
	var evidence []domain.EvidenceSnippet
	for _, m := range members {
		out.Frequency += m.Frequency
		tasks.add(m.TriggeredByTasks...)
		tasks.add(m.AffectedTasks...)
		personas.add(m.TriggeredByPersonas...)
		for _, e := range m.Evidence {
			if !evidenceSeen[e.Key()] {
				evidenceSeen[e.Key()] = true
				evidence = append(evidence, e)
			}
		}
	}
	out.TriggeredByTasks = tasks.items
	out.TriggeredByPersonas = personas.items
	out.Evidence = evidence
	return out
}
