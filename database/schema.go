package database

import (
	"context"
	"fmt"

	"github.com/federicodip/GraphRag/helper"
)

// Precondition is a store object the pipeline cannot run without.
type Precondition struct {
	Kind  string // "index" or "constraint"
	Name  string
	Table string
}

func (p Precondition) String() string {
	return fmt.Sprintf("%s %s on %s", p.Kind, p.Name, p.Table)
}

// Preconditions lists the full-text index and uniqueness constraints the
// linker and enrichment job rely on.
var Preconditions = []Precondition{
	{Kind: "index", Name: "idx_chunks_content_tsv", Table: "chunks"},
	{Kind: "constraint", Name: "places_pkey", Table: "places"},
	{Kind: "constraint", Name: "external_entities_pkey", Table: "external_entities"},
	{Kind: "constraint", Name: "edges_type_key_unique", Table: "edges"},
}

// CheckSchema checks every precondition in the current schema. Missing ones are
// returned together as a *helper.ConfigurationError, before any write happens.
func CheckSchema(ctx context.Context, db *helper.Database) error {
	if db == nil {
		return helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	var missing []string
	for _, p := range Preconditions {
		var exists bool
		var err error
		switch p.Kind {
		case "index":
			err = db.Instance.QueryRowContext(
				ctx,
				`SELECT EXISTS(SELECT 1 FROM pg_indexes WHERE schemaname = current_schema() AND tablename = $1 AND indexname = $2);`,
				p.Table, p.Name,
			).Scan(&exists)
		default:
			err = db.Instance.QueryRowContext(
				ctx,
				`SELECT EXISTS(
					SELECT 1 FROM pg_constraint c
					JOIN pg_class t ON t.oid = c.conrelid
					JOIN pg_namespace n ON n.oid = t.relnamespace
					WHERE n.nspname = current_schema() AND t.relname = $1 AND c.conname = $2 AND c.contype IN ('p', 'u')
				);`,
				p.Table, p.Name,
			).Scan(&exists)
		}
		if err != nil {
			return helper.NewError("check "+p.Name, err)
		}
		if !exists {
			missing = append(missing, p.String())
		}
	}

	if len(missing) > 0 {
		return &helper.ConfigurationError{Missing: missing}
	}

	db.Logger.Debug("Schema preconditions satisfied")

	return nil
}

// Counts holds row counts of the graph, used for sanity reporting.
type Counts struct {
	Documents        int64
	Chunks           int64
	Places           int64
	ExternalEntities int64
	Mentions         int64
	SameAs           int64
	Connected        int64
}

// CountGraph counts nodes per table and edges per type.
func CountGraph(ctx context.Context, db *helper.Database) (*Counts, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	counts := &Counts{}
	err := db.Instance.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM documents),
			(SELECT COUNT(*) FROM chunks),
			(SELECT COUNT(*) FROM places),
			(SELECT COUNT(*) FROM external_entities),
			(SELECT COUNT(*) FROM edges WHERE edge_type = 'mentions'),
			(SELECT COUNT(*) FROM edges WHERE edge_type = 'same_as'),
			(SELECT COUNT(*) FROM edges WHERE edge_type = 'connected');`,
	).Scan(
		&counts.Documents,
		&counts.Chunks,
		&counts.Places,
		&counts.ExternalEntities,
		&counts.Mentions,
		&counts.SameAs,
		&counts.Connected,
	)
	if err != nil {
		if helper.IsMissingObject(err) {
			return nil, helper.NewError("count graph", &helper.ConfigurationError{Missing: []string{"graph tables"}, Cause: err})
		}
		return nil, helper.NewError("scan", err)
	}

	return counts, nil
}
