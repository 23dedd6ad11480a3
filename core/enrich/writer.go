package enrich

import (
	"context"
	"fmt"

	"github.com/federicodip/GraphRag/helper"
	"github.com/federicodip/GraphRag/model"
)

// EntityWriter persists external entity nodes.
type EntityWriter interface {
	UpsertExternalEntity(ctx context.Context, entity *model.ExternalEntity) (bool, error)
}

// SameAsWriter persists same_as edges.
type SameAsWriter interface {
	UpsertSameAs(ctx context.Context, edge *model.Edge) (bool, error)
}

// Writer stores one resolution as an external entity plus the same_as edge
// pointing at it. Both writes are keyed upserts, so a record can be written
// any number of times.
type Writer struct {
	entities EntityWriter
	edges    SameAsWriter
	config   model.EnrichmentConfig
}

// NewWriter creates a Writer tagging edges with config.Property, config.Source
// and config.MatchedBy.
func NewWriter(entities EntityWriter, edges SameAsWriter, config model.EnrichmentConfig) *Writer {
	return &Writer{
		entities: entities,
		edges:    edges,
		config:   config,
	}
}

// Write upserts the entity of record and links gazetteerID to it. Write
// conflicts are retried up to config.WriteRetries times.
func (w *Writer) Write(ctx context.Context, gazetteerID string, record *model.ExternalRecord) error {
	if record == nil || record.ExternalID == "" {
		return helper.NewError("record validation", fmt.Errorf("record without external id for %s", gazetteerID))
	}

	entity := record.Entity()
	err := helper.RetryOnConflict(ctx, w.config.WriteRetries, func(ctx context.Context) error {
		_, err := w.entities.UpsertExternalEntity(ctx, entity)
		return err
	})
	if err != nil {
		return helper.NewError("upsert external entity", err)
	}

	edge := model.NewSameAsEdge(gazetteerID, record.ExternalID, w.config.Property, w.config.Source, w.config.MatchedBy)
	err = helper.RetryOnConflict(ctx, w.config.WriteRetries, func(ctx context.Context) error {
		_, err := w.edges.UpsertSameAs(ctx, edge)
		return err
	})
	if err != nil {
		return helper.NewError("upsert same_as edge", err)
	}

	return nil
}
