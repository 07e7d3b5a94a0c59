package knowledge

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
	"github.com/xiaot623/gogo/uxrunner/internal/embedding"
	"github.com/xiaot623/gogo/uxrunner/internal/similarity"
)

// ChunkStore is the subset of the repository the index needs.
type ChunkStore interface {
	UpsertKnowledgeChunk(ctx context.Context, chunk *domain.KnowledgeChunk) error
	ListKnowledgeChunks(ctx context.Context, category string) ([]domain.KnowledgeChunk, error)
}

// Index is a local retriever over stored knowledge chunks. With an embedder, chunks
// carrying vectors are ranked by cosine similarity; everything else falls back to the
// lexical scorer.
type Index struct {
	store    ChunkStore
	embedder embedding.Embedder
	scorer   similarity.Scorer
	logger   *zap.Logger
}

var _ Retriever = (*Index)(nil)

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithEmbedder enables vector ranking and embeds chunks on Add.
func WithEmbedder(e embedding.Embedder) IndexOption {
	return func(i *Index) { i.embedder = e }
}

// WithLexicalScorer replaces the default query-coverage scorer.
func WithLexicalScorer(s similarity.Scorer) IndexOption {
	return func(i *Index) { i.scorer = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) IndexOption {
	return func(i *Index) { i.logger = l }
}

// NewIndex creates an index over store.
func NewIndex(store ChunkStore, opts ...IndexOption) *Index {
	i := &Index{store: store, scorer: similarity.Coverage{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Add stores a chunk, embedding it first when an embedder is configured.
func (i *Index) Add(ctx context.Context, chunk domain.KnowledgeChunk) error {
	if chunk.ChunkID == "" {
		return fmt.Errorf("knowledge chunk has no id")
	}
	if i.embedder != nil && len(chunk.Embedding) == 0 {
		vec, err := i.embedder.Embed(ctx, chunkText(chunk))
		if err != nil {
			i.logger.Warn("embedding chunk failed, storing without vector",
				zap.String("chunk_id", chunk.ChunkID), zap.Error(err))
		} else {
			chunk.Embedding = vec
		}
	}
	if err := i.store.UpsertKnowledgeChunk(ctx, &chunk); err != nil {
		return fmt.Errorf("store chunk %s: %w", chunk.ChunkID, err)
	}
	return nil
}

// Search ranks chunks in the query category against the query text.
func (i *Index) Search(ctx context.Context, q Query) ([]domain.Passage, error) {
	q = q.withDefaults()
	chunks, err := i.store.ListKnowledgeChunks(ctx, q.Category)
	if err != nil {
		return nil, fmt.Errorf("list knowledge chunks: %w", err)
	}
	if len(chunks) == 0 || strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}

	var queryVec []float32
	if i.embedder != nil {
		queryVec, err = i.embedder.Embed(ctx, q.Text)
		if err != nil {
			i.logger.Warn("embedding query failed, using lexical ranking", zap.Error(err))
			queryVec = nil
		}
	}

	var out []domain.Passage
	for _, c := range chunks {
		var score float64
		if len(queryVec) > 0 && len(c.Embedding) == len(queryVec) {
			score = similarity.Cosine(queryVec, c.Embedding)
		} else {
			score, err = i.scorer.Score(ctx, q.Text, chunkText(c))
			if err != nil {
				return nil, fmt.Errorf("score chunk %s: %w", c.ChunkID, err)
			}
		}
		if score >= q.Threshold {
			out = append(out, domain.Passage{Chunk: c, Score: score})
		}
	}

	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func chunkText(c domain.KnowledgeChunk) string {
	return c.Title + " " + c.Content
}

type chunkFile struct {
	Chunks []domain.KnowledgeChunk `yaml:"chunks"`
}

// ImportFile loads a YAML file of chunks into the index. The file is either a list of
// chunks or a mapping with a chunks key. Chunks without a category take defaultCategory.
func (i *Index) ImportFile(ctx context.Context, path, defaultCategory string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}

	var chunks []domain.KnowledgeChunk
	if err := yaml.Unmarshal(data, &chunks); err != nil {
		var wrapped chunkFile
		if err2 := yaml.Unmarshal(data, &wrapped); err2 != nil {
			return 0, fmt.Errorf("parse %s: %w", path, err2)
		}
		chunks = wrapped.Chunks
	}

	n := 0
	for _, c := range chunks {
		if c.Category == "" {
			c.Category = defaultCategory
		}
		if c.Source == "" {
			c.Source = path
		}
		if err := i.Add(ctx, c); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
