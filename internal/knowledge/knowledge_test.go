package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
	"github.com/xiaot623/gogo/uxrunner/tests/helpers"
)

func seed(t *testing.T, idx *Index) {
	t.Helper()
	ctx := context.Background()
	for _, c := range []domain.KnowledgeChunk{
		{ChunkID: "a11y-1", Source: "WCAG 2.2", Title: "Target size", Category: "accessibility", Content: "Tap targets should be at least 24 by 24 pixels."},
		{ChunkID: "a11y-2", Source: "WCAG 2.2", Title: "Contrast", Category: "accessibility", Content: "Text needs a contrast ratio of 4.5 to 1."},
		{ChunkID: "conv-1", Source: "Baymard", Title: "Checkout buttons", Category: "conversion", Content: "Primary checkout buttons must be visible without scrolling."},
	} {
		require.NoError(t, idx.Add(ctx, c))
	}
}

func TestIndexSearchLexical(t *testing.T) {
	idx := NewIndex(helpers.NewTestSQLiteStore(t))
	seed(t, idx)

	got, err := idx.Search(context.Background(), Query{Text: "checkout button visible", Threshold: 0.5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "conv-1", got[0].Chunk.ChunkID)

	got, err = idx.Search(context.Background(), Query{Text: "contrast ratio checkout", Category: "accessibility"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a11y-2", got[0].Chunk.ChunkID)
}

func TestIndexSearchLimitAndOrder(t *testing.T) {
	idx := NewIndex(helpers.NewTestSQLiteStore(t))
	seed(t, idx)

	got, err := idx.Search(context.Background(), Query{Text: "tap targets contrast text pixels", Threshold: 0.1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a11y-1", got[0].Chunk.ChunkID)
}

type axisEmbedder struct {
	fail bool
}

// Embed maps texts onto two axes: accessibility words and conversion words.
func (e axisEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, errors.New("quota")
	}
	var a, c float32
	for w := range map[string]bool{"tap": true, "contrast": true, "targets": true, "target": true} {
		if containsWord(text, w) {
			a++
		}
	}
	for w := range map[string]bool{"checkout": true, "buttons": true, "purchase": true} {
		if containsWord(text, w) {
			c++
		}
	}
	return []float32{a, c}, nil
}

func (e axisEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func containsWord(text, w string) bool {
	for _, f := range splitWords(text) {
		if f == w {
			return true
		}
	}
	return false
}

func splitWords(s string) []string {
	var out []string
	word := []rune{}
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		if r >= 'a' && r <= 'z' {
			word = append(word, r)
			continue
		}
		if len(word) > 0 {
			out = append(out, string(word))
			word = word[:0]
		}
	}
	if len(word) > 0 {
		out = append(out, string(word))
	}
	return out
}

func TestIndexSearchWithEmbeddings(t *testing.T) {
	idx := NewIndex(helpers.NewTestSQLiteStore(t), WithEmbedder(axisEmbedder{}))
	seed(t, idx)

	got, err := idx.Search(context.Background(), Query{Text: "purchase flow", Threshold: 0.9})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "conv-1", got[0].Chunk.ChunkID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
}

func TestIndexFallsBackWhenQueryEmbeddingFails(t *testing.T) {
	store := helpers.NewTestSQLiteStore(t)
	seed(t, NewIndex(store, WithEmbedder(axisEmbedder{})))

	idx := NewIndex(store, WithEmbedder(axisEmbedder{fail: true}))
	got, err := idx.Search(context.Background(), Query{Text: "checkout buttons visible", Threshold: 0.5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "conv-1", got[0].Chunk.ChunkID)
}

func TestImportFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guidelines.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chunks:
  - id: nav-1
    title: Breadcrumbs
    content: Show where the user is in deep hierarchies.
  - id: nav-2
    source: NN/g
    title: Back button
    category: navigation
    content: Never break the browser back button.
`), 0o644))

	store := helpers.NewTestSQLiteStore(t)
	idx := NewIndex(store)
	n, err := idx.ImportFile(context.Background(), path, "navigation")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	chunks, err := store.ListKnowledgeChunks(context.Background(), "navigation")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, path, chunks[0].Source)
	assert.Equal(t, "NN/g", chunks[1].Source)
}

func TestClientSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		var q Query
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		assert.Equal(t, "form labels", q.Text)
		assert.Equal(t, DefaultLimit, q.Limit)
		assert.InDelta(t, DefaultThreshold, q.Threshold, 1e-9)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []domain.Passage{{Chunk: domain.KnowledgeChunk{ChunkID: "f1", Title: "Labels"}, Score: 0.8}},
		})
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL, time.Second).Search(context.Background(), Query{Text: "form labels"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "f1", got[0].Chunk.ChunkID)
}

func TestClientSearchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"index loading"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Search(context.Background(), Query{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index loading")
}
