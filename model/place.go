package model

import (
	"time"
)

// SourcePleiades is the provenance tag of places loaded from the Pleiades gazetteer.
const SourcePleiades = "Pleiades"

// Place represents a gazetteer entity. GazetteerID is stable and immutable.
type Place struct {
	GazetteerID string    `json:"gazetteer_id"`
	Title       string    `json:"title"`
	AltNames    []string  `json:"alt_names"`
	Source      string    `json:"source"`
	URI         string    `json:"uri"`
	Description string    `json:"description,omitempty"`
	PlaceTypes  []string  `json:"place_types,omitempty"`
	Subjects    []string  `json:"subjects,omitempty"`
	Languages   []string  `json:"languages,omitempty"`
	ReviewState string    `json:"review_state,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PlaceConnection is a directed gazetteer relation between two places.
type PlaceConnection struct {
	FromID               string `json:"from_id"`
	ToID                 string `json:"to_id"`
	ToURI                string `json:"to_uri"`
	ConnectionType       string `json:"connection_type"`
	Title                string `json:"title,omitempty"`
	AssociationCertainty string `json:"association_certainty,omitempty"`
	URI                  string `json:"uri,omitempty"`
}
