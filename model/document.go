package model

import (
	"time"

	"github.com/google/uuid"
)

// Document represents an authored work (article) owning an ordered sequence of chunks.
type Document struct {
	ID        int64     `json:"id"`
	RID       uuid.UUID `json:"rid"`
	ArticleID string    `json:"article_id"`
	Title     string    `json:"title"`
	Year      *int      `json:"year,omitempty"`
	Venue     string    `json:"venue,omitempty"`
	SourceURL string    `json:"source_url,omitempty"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
