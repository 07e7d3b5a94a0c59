package findings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
)

func checkoutFinding(desc string, confidence int, task string) domain.Finding {
	return domain.Finding{
		Title:         "Checkout button hard to find",
		Severity:      domain.SeverityHigh,
		Confidence:    confidence,
		Category:      domain.CategoryConversion,
		Description:   desc,
		SuggestedFix:  "Move the checkout button above the fold",
		AffectedTasks: []string{task},
		PersonaID:     "p1",
	}
}

func passwordFinding() domain.Finding {
	return domain.Finding{
		Title:         "Password rules unclear",
		Severity:      domain.SeverityMed,
		Confidence:    70,
		Category:      domain.CategoryForms,
		Description:   "Signup form does not explain password requirements",
		SuggestedFix:  "Show requirements inline",
		AffectedTasks: []string{"t2"},
		PersonaID:     "p1",
	}
}

func snippet(persona, task string, steps ...string) domain.EvidenceSnippet {
	return domain.EvidenceSnippet{
		PersonaName: persona,
		TaskContext: task,
		Steps:       steps,
		Timestamp:   time.Unix(100, 0),
	}
}

func TestClusterFoldsNearDuplicates(t *testing.T) {
	a := checkoutFinding("The checkout button is below the fold and users miss it", 70, "t1")
	a.Evidence = []domain.EvidenceSnippet{snippet("Ana", "buy", "opened cart", "scrolled")}
	b := checkoutFinding("The checkout button sits below the fold and users miss it", 82, "t3")
	b.Evidence = []domain.EvidenceSnippet{
		snippet("Ana", "buy", "opened cart", "scrolled"),
		snippet("Ana", "buy", "opened cart", "gave up"),
	}
	c := passwordFinding()

	out := NewClusterer().Cluster(context.Background(), []domain.Finding{a, c, b})
	require.Len(t, out, 2)

	first := out[0]
	assert.Equal(t, 2, first.Frequency)
	assert.Equal(t, 82, first.Confidence, "canonical is the highest-confidence member")
	assert.Equal(t, []string{"t1", "t3"}, first.TriggeredByTasks)
	assert.Equal(t, []string{"p1"}, first.TriggeredByPersonas)
	assert.Len(t, first.Evidence, 2)

	assert.Equal(t, 1, out[1].Frequency)
	assert.Equal(t, "Password rules unclear", out[1].Title)
}

func TestClusterRequiresMatchingCategory(t *testing.T) {
	a := checkoutFinding("The checkout button is below the fold and users miss it", 70, "t1")
	b := a
	b.Category = domain.CategoryCopy

	out := NewClusterer().Cluster(context.Background(), []domain.Finding{a, b})
	assert.Len(t, out, 2)
}

func TestClusterSeverityWithinOneRank(t *testing.T) {
	a := checkoutFinding("The checkout button is below the fold and users miss it", 70, "t1")

	near := a
	near.Severity = domain.SeverityBlocker
	out := NewClusterer().Cluster(context.Background(), []domain.Finding{a, near})
	assert.Len(t, out, 1)

	far := a
	far.Severity = domain.SeverityLow
	out = NewClusterer().Cluster(context.Background(), []domain.Finding{near, far})
	assert.Len(t, out, 2)
}

func TestClusterThresholdIsConfigurable(t *testing.T) {
	a := checkoutFinding("The checkout button is below the fold and users miss it", 70, "t1")
	b := checkoutFinding("The checkout button sits below the fold and users miss it", 60, "t1")

	strict := NewClusterer(WithThreshold(0.95))
	assert.Len(t, strict.Cluster(context.Background(), []domain.Finding{a, b}), 2)
}

func TestClusterIsDeterministic(t *testing.T) {
	in := []domain.Finding{
		checkoutFinding("The checkout button is below the fold and users miss it", 70, "t1"),
		passwordFinding(),
		checkoutFinding("The checkout button sits below the fold and users miss it", 70, "t2"),
		checkoutFinding("The checkout button is below the fold so users miss it", 65, "t3"),
	}

	c := NewClusterer()
	first := c.Cluster(context.Background(), in)
	second := c.Cluster(context.Background(), in)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("clustering differs between runs (-first +second):\n%s", diff)
	}
	require.Len(t, first, 2)
	assert.Equal(t, 3, first[0].Frequency)
}

func TestMergeSumsFrequenciesAcrossPersonas(t *testing.T) {
	a := Singleton(checkoutFinding("The checkout button is below the fold and users miss it", 70, "t1"))
	a.Frequency = 2
	bf := checkoutFinding("The checkout button sits below the fold and users miss it", 75, "t1")
	bf.PersonaID = "p2"
	b := Singleton(bf)

	out := NewClusterer().Merge(context.Background(), []domain.ClusteredFinding{a, b})
	require.Len(t, out, 1)
	assert.Equal(t, 3, out[0].Frequency)
	assert.Equal(t, []string{"p1", "p2"}, out[0].TriggeredByPersonas)
}

type failingScorer struct{}

func (failingScorer) Score(context.Context, string, string) (float64, error) {
	return 0, errors.New("embedding backend down")
}

func TestClusterFallsBackWhenScorerFails(t *testing.T) {
	a := checkoutFinding("The checkout button is below the fold and users miss it", 70, "t1")
	b := checkoutFinding("The checkout button sits below the fold and users miss it", 60, "t2")

	out := NewClusterer(WithScorer(failingScorer{})).Cluster(context.Background(), []domain.Finding{a, b})
	require.Len(t, out, 1)
	assert.Equal(t, 2, out[0].Frequency)
}
