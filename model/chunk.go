package model

import (
	"time"
)

// Chunk represents a contiguous span of a document's text (node in the graph).
// Seq is unique within its document.
type Chunk struct {
	ID         int64     `json:"id"`
	ChunkID    string    `json:"chunk_id"`
	DocumentID int64     `json:"document_id"`
	Seq        int       `json:"seq"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"embedding,omitempty"` // opaque, never ranked here
	Metadata   Metadata  `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
