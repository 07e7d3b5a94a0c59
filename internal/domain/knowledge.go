package domain

// KnowledgeChunk is one passage of guidance material that findings may cite.
type KnowledgeChunk struct {
	ChunkID   string    `json:"chunk_id" yaml:"id"`
	Source    string    `json:"source" yaml:"source"`
	Title     string    `json:"title" yaml:"title"`
	Category  string    `json:"category,omitempty" yaml:"category"`
	Content   string    `json:"content" yaml:"content"`
	Embedding []float32 `json:"embedding,omitempty" yaml:"-"`
}

// Citation returns the reference form attached to findings.
func (k KnowledgeChunk) Citation() Citation {
	return Citation{ChunkID: k.ChunkID, Source: k.Source, Title: k.Title, Category: k.Category}
}

// Passage is a retrieved chunk with its similarity score.
type Passage struct {
	Chunk KnowledgeChunk `json:"chunk"`
	Score float64        `json:"score"`
}
