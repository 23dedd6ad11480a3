package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// EdgeType represents the type of relationship between nodes
type EdgeType string

const (
	EdgeTypeMentions  EdgeType = "mentions"  // Chunk -> Place
	EdgeTypeSameAs    EdgeType = "same_as"   // Place -> ExternalEntity
	EdgeTypeConnected EdgeType = "connected" // Place -> Place
)

// Provenance attribute keys read by downstream consumers. Bit-exact.
const (
	KeyMatched   = "matched"
	KeySource    = "source"
	KeyProperty  = "property"
	KeyMatchedBy = "matchedBy"

	KeyConnectionType = "connectionType"
)

// Edge represents a typed, attributed relationship. Exactly one source and one
// target column is set, depending on EdgeType. EdgeKey is the composite
// identity the store enforces uniqueness on, per edge type.
type Edge struct {
	ID               uuid.UUID `json:"id"`
	EdgeType         EdgeType  `json:"edge_type"`
	EdgeKey          string    `json:"edge_key"`
	SourceChunkID    *int64    `json:"source_chunk_id,omitempty"`
	SourcePlaceID    *string   `json:"source_place_id,omitempty"`
	TargetPlaceID    *string   `json:"target_place_id,omitempty"`
	TargetExternalID *string   `json:"target_external_id,omitempty"`
	Properties       Metadata  `json:"properties,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// MentionKey is the identity of a mentions edge: (chunk, place, surface form).
func MentionKey(chunkID int64, gazetteerID string, matched string) string {
	return compositeKey(strconv.FormatInt(chunkID, 10), gazetteerID, matched)
}

// SameAsKey is the identity of a same_as edge: (place, external entity, property).
func SameAsKey(gazetteerID string, externalID string, property string) string {
	return compositeKey(gazetteerID, externalID, property)
}

// ConnectionKey is the identity of a connected edge: (from, to, connection type).
func ConnectionKey(fromID string, toID string, connectionType string) string {
	return compositeKey(fromID, toID, connectionType)
}

// compositeKey encodes the parts as a JSON array, so no separator can collide
// with content of a part.
func compositeKey(parts ...string) string {
	b, _ := json.Marshal(parts)
	return string(b)
}

// NewMentionEdge builds the mentions edge of a confirmed surface form match.
func NewMentionEdge(chunkID int64, gazetteerID string, matched string, source string) *Edge {
	return &Edge{
		EdgeType:      EdgeTypeMentions,
		EdgeKey:       MentionKey(chunkID, gazetteerID, matched),
		SourceChunkID: &chunkID,
		TargetPlaceID: &gazetteerID,
		Properties: Metadata{
			KeyMatched: matched,
			KeySource:  source,
		},
	}
}

// NewSameAsEdge builds the same_as edge aligning a place with an external entity.
func NewSameAsEdge(gazetteerID string, externalID string, property string, source string, matchedBy string) *Edge {
	return &Edge{
		EdgeType:         EdgeTypeSameAs,
		EdgeKey:          SameAsKey(gazetteerID, externalID, property),
		SourcePlaceID:    &gazetteerID,
		TargetExternalID: &externalID,
		Properties: Metadata{
			KeyProperty:  property,
			KeySource:    source,
			KeyMatchedBy: matchedBy,
		},
	}
}

// NewConnectionEdge builds the connected edge of a gazetteer place relation.
func NewConnectionEdge(connection *PlaceConnection) *Edge {
	from := connection.FromID
	to := connection.ToID
	properties := Metadata{
		KeyConnectionType: connection.ConnectionType,
		KeySource:         SourcePleiades,
	}
	if connection.Title != "" {
		properties["title"] = connection.Title
	}
	if connection.AssociationCertainty != "" {
		properties["associationCertainty"] = connection.AssociationCertainty
	}
	if connection.URI != "" {
		properties["uri"] = connection.URI
	}

	return &Edge{
		EdgeType:      EdgeTypeConnected,
		EdgeKey:       ConnectionKey(from, to, connection.ConnectionType),
		SourcePlaceID: &from,
		TargetPlaceID: &to,
		Properties:    properties,
	}
}

// Validate checks that the endpoints required by the edge type are set and
// that EdgeKey is the composite key derived from them.
func (e *Edge) Validate() error {
	var want string
	switch e.EdgeType {
	case EdgeTypeMentions:
		if e.SourceChunkID == nil || e.TargetPlaceID == nil {
			return fmt.Errorf("mentions edge needs source chunk and target place")
		}
		want = MentionKey(*e.SourceChunkID, *e.TargetPlaceID, e.Properties.String(KeyMatched))
	case EdgeTypeSameAs:
		if e.SourcePlaceID == nil || e.TargetExternalID == nil {
			return fmt.Errorf("same_as edge needs source place and target external entity")
		}
		want = SameAsKey(*e.SourcePlaceID, *e.TargetExternalID, e.Properties.String(KeyProperty))
	case EdgeTypeConnected:
		if e.SourcePlaceID == nil || e.TargetPlaceID == nil {
			return fmt.Errorf("connected edge needs source and target place")
		}
		want = ConnectionKey(*e.SourcePlaceID, *e.TargetPlaceID, e.Properties.String("connectionType"))
	default:
		return fmt.Errorf("unknown edge type %q", e.EdgeType)
	}
	if e.EdgeKey != want {
		return fmt.Errorf("edge key %s does not match endpoints %s", e.EdgeKey, want)
	}
	return nil
}
