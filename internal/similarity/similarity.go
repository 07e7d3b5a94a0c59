// Package similarity scores how alike two pieces of finding text are.
//
// Jaccard over word sets is the baseline. Embedding swaps in vector cosine
// without changing callers.
package similarity

import (
	"context"
	"strings"
	"unicode"
)

// Scorer returns a similarity in [0,1] for two texts.
type Scorer interface {
	Score(ctx context.Context, a, b string) (float64, error)
}

// Jaccard is the word-set Jaccard index. The zero value is ready to use.
type Jaccard struct{}

var _ Scorer = Jaccard{}

// Score implements Scorer.
func (Jaccard) Score(_ context.Context, a, b string) (float64, error) {
	return JaccardIndex(Words(a), Words(b)), nil
}

// Words lowercases text and splits it into a set of alphanumeric words.
func Words(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// JaccardIndex is |a∩b| / |a∪b|. Two empty sets score 0.
func JaccardIndex(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := intersect(a, b)
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Overlap is |a∩b| / max(|a|,|b|): the share of the larger set's words that
// also appear in the other. Symmetric; 0 when either set is empty.
func Overlap(a, b map[string]struct{}) float64 {
	larger := len(a)
	if len(b) > larger {
		larger = len(b)
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	return float64(intersect(a, b)) / float64(larger)
}

func intersect(a, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}

// Coverage is the share of the first text's words found in the second. It suits
// short queries scored against long passages, where Jaccard is dominated by passage length.
type Coverage struct{}

var _ Scorer = Coverage{}

// Score implements Scorer. It is not symmetric: a is the query.
func (Coverage) Score(_ context.Context, a, b string) (float64, error) {
	qa := Words(a)
	if len(qa) == 0 {
		return 0, nil
	}
	return float64(intersect(qa, Words(b))) / float64(len(qa)), nil
}
