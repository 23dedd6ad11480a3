package model

import "time"

// LinkReport summarises one chunk linker run
type LinkReport struct {
	Places       int           `json:"places"`
	SurfaceForms int           `json:"surface_forms"`
	Candidates   int           `json:"candidates"` // shortlisted chunks, summed over surface forms
	Confirmed    int           `json:"confirmed"`  // candidates passing the boundary matcher
	Created      int           `json:"created"`    // new mention edges
	Existing     int           `json:"existing"`   // confirmed matches already recorded
	WriteErrors  int           `json:"write_errors"`
	Duration     time.Duration `json:"duration"`
}

// Merge adds the counters of other into r.
func (r *LinkReport) Merge(other LinkReport) {
	r.Places += other.Places
	r.SurfaceForms += other.SurfaceForms
	r.Candidates += other.Candidates
	r.Confirmed += other.Confirmed
	r.Created += other.Created
	r.Existing += other.Existing
	r.WriteErrors += other.WriteErrors
}

// Outcome is the terminal state of one place within an enrichment run
type Outcome string

const (
	OutcomeResolved  Outcome = "resolved"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeAmbiguous Outcome = "ambiguous" // resolved after tie-break
	OutcomeError     Outcome = "error"
)

// FailedBatch describes a batch skipped after its retries were exhausted.
type FailedBatch struct {
	Index        int      `json:"index"`
	GazetteerIDs []string `json:"gazetteer_ids"`
	Error        string   `json:"error"`
}

// EnrichmentReport summarises one enrichment job run
type EnrichmentReport struct {
	Places        int                `json:"places"`
	Batches       int                `json:"batches"`
	Calls         int                `json:"calls"` // remote requests, retries included
	Resolved      int                `json:"resolved"`
	NotFound      int                `json:"not_found"`
	Ambiguous     int                `json:"ambiguous"`
	Errors        int                `json:"errors"`
	WriteErrors   int                `json:"write_errors"` // subset of Errors caused by the store
	Outcomes      map[string]Outcome `json:"outcomes"`
	Unknown       []string           `json:"unknown,omitempty"` // requested ids without a place
	FailedBatches []FailedBatch      `json:"failed_batches,omitempty"`
	Duration      time.Duration      `json:"duration"`
}

// NewEnrichmentReport returns an empty report
func NewEnrichmentReport() *EnrichmentReport {
	return &EnrichmentReport{Outcomes: map[string]Outcome{}}
}

// Record stores the outcome of one place and bumps its counter.
func (r *EnrichmentReport) Record(gazetteerID string, outcome Outcome) {
	r.Outcomes[gazetteerID] = outcome
	switch outcome {
	case OutcomeResolved:
		r.Resolved++
	case OutcomeNotFound:
		r.NotFound++
	case OutcomeAmbiguous:
		r.Ambiguous++
	case OutcomeError:
		r.Errors++
	}
}
