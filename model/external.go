package model

import (
	"time"
)

// ExternalEntity is a node for a match in the external knowledge base.
// Only the enrichment job creates them.
type ExternalEntity struct {
	ExternalID string    `json:"external_id"`
	URI        string    `json:"uri"`
	Label      *string   `json:"label,omitempty"`
	InstanceOf *string   `json:"instance_of,omitempty"`
	Lat        *float64  `json:"lat,omitempty"`
	Lon        *float64  `json:"lon,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ExternalRecord is one candidate row returned by the knowledge base for a gazetteer id.
type ExternalRecord struct {
	GazetteerID string   `json:"gazetteer_id"`
	ExternalID  string   `json:"external_id"`
	URI         string   `json:"uri"`
	Label       *string  `json:"label,omitempty"`
	InstanceOf  *string  `json:"instance_of,omitempty"`
	Lat         *float64 `json:"lat,omitempty"`
	Lon         *float64 `json:"lon,omitempty"`
}

// Entity converts the record into the node it resolves to.
func (r ExternalRecord) Entity() *ExternalEntity {
	return &ExternalEntity{
		ExternalID: r.ExternalID,
		URI:        r.URI,
		Label:      r.Label,
		InstanceOf: r.InstanceOf,
		Lat:        r.Lat,
		Lon:        r.Lon,
	}
}

// Resolution is the resolver's answer for one gazetteer id.
// Record is nil when nothing matched; Candidates counts distinct external ids seen.
type Resolution struct {
	GazetteerID string          `json:"gazetteer_id"`
	Record      *ExternalRecord `json:"record,omitempty"`
	Candidates  int             `json:"candidates"`
}

// Ambiguous reports whether more than one external entity matched.
func (r Resolution) Ambiguous() bool {
	return r.Candidates > 1
}
