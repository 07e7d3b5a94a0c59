package findings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
)

func cite(source, title string) domain.Citation {
	return domain.Citation{ChunkID: source + "/" + title, Source: source, Title: title}
}

func TestSynthesizeMergesSameSelector(t *testing.T) {
	in := []domain.Finding{
		{
			Title:           "Checkout CTA is low contrast",
			Severity:        domain.SeverityMed,
			Confidence:      70,
			Category:        domain.CategoryAccessibility,
			Description:     "Grey text on a grey pill fails contrast checks",
			ElementSelector: "#checkout",
			Citations:       []domain.Citation{cite("wcag", "1.4.3 Contrast")},
		},
		{
			Title:           "Primary action blends into background",
			Severity:        domain.SeverityHigh,
			Confidence:      55,
			Category:        domain.CategoryConversion,
			Description:     "Shoppers scanning for next step overlook it",
			ElementSelector: "#checkout",
			Citations:       []domain.Citation{cite("baymard", "CTA prominence"), cite("wcag", "1.4.3 Contrast")},
		},
	}

	res := NewSynthesizer().Synthesize(in)
	require.Len(t, res.Findings, 1)

	got := res.Findings[0]
	assert.GreaterOrEqual(t, got.Confidence, 70)
	assert.Equal(t, 80, got.Confidence)
	assert.Equal(t, domain.SeverityHigh, got.Severity)
	assert.Equal(t, "Checkout CTA is low contrast", got.Title)
	assert.Len(t, got.Citations, 2)
	assert.Contains(t, got.Description, "validated by 2 specialists")
	assert.Len(t, in[0].Citations, 1, "inputs must not be mutated")
}

func TestSynthesizeValidationFilter(t *testing.T) {
	weak := domain.Finding{
		Title:       "Footer links feel cramped",
		Severity:    domain.SeverityMed,
		Confidence:  45,
		Category:    domain.CategoryHierarchy,
		Description: "Legal links sit tightly packed",
	}
	strong := domain.Finding{
		Title:       "Search returns nothing for plurals",
		Severity:    domain.SeverityLow,
		Confidence:  85,
		Category:    domain.CategoryNavigation,
		Description: "Querying shoes yields zero results",
	}

	res := NewSynthesizer().Synthesize([]domain.Finding{weak, strong})
	require.Len(t, res.Findings, 1)
	assert.Equal(t, strong.Title, res.Findings[0].Title)
}

func TestValidatedRules(t *testing.T) {
	tests := []struct {
		name string
		f    domain.Finding
		want bool
	}{
		{"high confidence alone", domain.Finding{Confidence: 80, Severity: domain.SeverityLow}, true},
		{"sixty with one citation", domain.Finding{Confidence: 60, Citations: []domain.Citation{cite("a", "b")}}, true},
		{"sixty without citation", domain.Finding{Confidence: 65, Severity: domain.SeverityMed}, false},
		{"fifty with two citations", domain.Finding{Confidence: 50, Citations: []domain.Citation{cite("a", "b"), cite("c", "d")}}, true},
		{"fifty and high severity", domain.Finding{Confidence: 50, Severity: domain.SeverityHigh}, true},
		{"fifty and blocker", domain.Finding{Confidence: 52, Severity: domain.SeverityBlocker}, true},
		{"fifty with one citation", domain.Finding{Confidence: 55, Severity: domain.SeverityMed, Citations: []domain.Citation{cite("a", "b")}}, false},
		{"below fifty", domain.Finding{Confidence: 49, Severity: domain.SeverityBlocker, Citations: []domain.Citation{cite("a", "b"), cite("c", "d")}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Validated(tt.f))
		})
	}
}

func TestSynthesizeGroupsTransitively(t *testing.T) {
	in := []domain.Finding{
		{Title: "Menu icon unlabeled", Severity: domain.SeverityMed, Confidence: 60, Category: domain.CategoryAccessibility, Description: "Hamburger has no accessible name", ElementSelector: "button.menu"},
		{Title: "Navigation drawer hard to discover", Severity: domain.SeverityMed, Confidence: 65, Category: domain.CategoryNavigation, Description: "Icon only trigger", ElementSelector: "button.menu"},
		{Title: "drawer hard to discover", Severity: domain.SeverityLow, Confidence: 40, Category: domain.CategoryNavigation, Description: "Persona never opened it"},
	}

	res := NewSynthesizer().Synthesize(in)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, 85, res.Findings[0].Confidence)
	assert.Equal(t, "Navigation drawer hard to discover", res.Findings[0].Title)
	assert.Contains(t, res.Findings[0].Description, "validated by 3 specialists")
}

func TestSynthesizeGroupsByDescriptionOverlap(t *testing.T) {
	in := []domain.Finding{
		{Title: "Coupon field", Severity: domain.SeverityMed, Confidence: 75, Category: domain.CategoryForms, Description: "coupon code field rejects lowercase codes silently"},
		{Title: "Promo entry", Severity: domain.SeverityMed, Confidence: 70, Category: domain.CategoryForms, Description: "promo code field rejects lowercase codes silently"},
	}
	res := NewSynthesizer().Synthesize(in)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, 85, res.Findings[0].Confidence)
}

func TestSynthesizeSortsByPriority(t *testing.T) {
	in := []domain.Finding{
		{Title: "alpha", Severity: domain.SeverityHigh, Confidence: 90, Description: "one two three"},
		{Title: "bravo", Severity: domain.SeverityBlocker, Confidence: 80, Description: "four five six"},
		{Title: "charlie", Severity: domain.SeverityHigh, Confidence: 90, Description: "seven eight nine", Citations: []domain.Citation{cite("x", "y")}},
		{Title: "delta", Severity: domain.SeverityLow, Confidence: 95, Description: "ten eleven twelve"},
	}

	res := NewSynthesizer().Synthesize(in)
	require.Len(t, res.Findings, 4)
	titles := []string{}
	for _, f := range res.Findings {
		titles = append(titles, f.Title)
	}
	assert.Equal(t, []string{"bravo", "charlie", "alpha", "delta"}, titles)
	assert.Len(t, res.High, 3)
	assert.Len(t, res.Med, 0)
	assert.Len(t, res.Low, 1)
	assert.Equal(t, "Found 4 issues: 3 high priority, 0 medium priority, 1 low priority.", res.Summary)
}

func TestSummarizeEmpty(t *testing.T) {
	assert.Equal(t, "No validated issues found.", Summarize(0, 0, 0))
	assert.Equal(t, "Found 1 issue: 0 high priority, 1 medium priority, 0 low priority.", Summarize(0, 1, 0))
}
