package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/federicodip/GraphRag/helper"
	"github.com/federicodip/GraphRag/model"
	loadSql "github.com/federicodip/GraphRag/sql"
)

// EdgesDBHandlerFunctions defines the interface for Edges database operations.
type EdgesDBHandlerFunctions interface {
	UpsertMention(ctx context.Context, edge *model.Edge) (bool, error)
	UpsertSameAs(ctx context.Context, edge *model.Edge) (bool, error)
	UpsertConnection(ctx context.Context, edge *model.Edge) (bool, error)
	SelectEdgeByKey(ctx context.Context, edgeType model.EdgeType, edgeKey string) (*model.Edge, error)
	SelectEdgesFromChunk(ctx context.Context, chunkID int64) ([]*model.Edge, error)
	SelectEdgesOfPlace(ctx context.Context, gazetteerID string) ([]*model.Edge, error)
	CountEdgesByType(ctx context.Context) (map[model.EdgeType]int64, error)
}

// EdgesDBHandler handles edge-related database operations
type EdgesDBHandler struct {
	db *helper.Database
}

// NewEdgesDBHandler creates a new edges database handler.
// It initializes the database connection and loads edge-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewEdgesDBHandler(db *helper.Database, force bool) (*EdgesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	edgesDbHandler := &EdgesDBHandler{
		db: db,
	}

	err := loadSql.LoadEdgesSql(edgesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load edges sql", err)
	}

	err = edgesDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized EdgesDBHandler")

	return edgesDbHandler, nil
}

// CreateTable creates the 'edges' table in the database.
// If the table already exists, it does not create it again.
// It also creates the (edge_type, edge_key) uniqueness constraint and lookup indexes.
func (h *EdgesDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_edges();`)
	if err != nil {
		log.Panicf("error initializing edges table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table edges")

	return nil
}

// UpsertMention records a mentions edge unless its (chunk, place, surface form)
// key exists. An existing edge is left untouched, attributes included.
// It reports whether the edge was created.
func (h *EdgesDBHandler) UpsertMention(ctx context.Context, edge *model.Edge) (bool, error) {
	if err := validateEdge(edge, model.EdgeTypeMentions); err != nil {
		return false, err
	}

	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM insert_edge_if_absent($1, $2, $3, $4, $5, $6, $7)`,
		edge.EdgeType,
		edge.EdgeKey,
		edge.SourceChunkID,
		edge.SourcePlaceID,
		edge.TargetPlaceID,
		edge.TargetExternalID,
		edge.Properties,
	)

	err := row.Scan(&edge.ID, &edge.CreatedAt, &edge.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, helper.NewError("scan", err)
	}

	return true, nil
}

// UpsertSameAs records a same_as edge keyed by (place, external entity, property),
// refreshing the provenance attributes of an existing one.
// It reports whether the edge was created.
func (h *EdgesDBHandler) UpsertSameAs(ctx context.Context, edge *model.Edge) (bool, error) {
	if err := validateEdge(edge, model.EdgeTypeSameAs); err != nil {
		return false, err
	}
	return h.upsertEdge(ctx, edge)
}

// UpsertConnection records a connected edge between two places.
func (h *EdgesDBHandler) UpsertConnection(ctx context.Context, edge *model.Edge) (bool, error) {
	if err := validateEdge(edge, model.EdgeTypeConnected); err != nil {
		return false, err
	}
	return h.upsertEdge(ctx, edge)
}

func (h *EdgesDBHandler) upsertEdge(ctx context.Context, edge *model.Edge) (bool, error) {
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM upsert_edge($1, $2, $3, $4, $5, $6, $7)`,
		edge.EdgeType,
		edge.EdgeKey,
		edge.SourceChunkID,
		edge.SourcePlaceID,
		edge.TargetPlaceID,
		edge.TargetExternalID,
		edge.Properties,
	)

	var created bool
	err := row.Scan(&edge.ID, &created, &edge.CreatedAt, &edge.UpdatedAt)
	if err != nil {
		return false, helper.NewError("scan", err)
	}

	return created, nil
}

// SelectEdgeByKey retrieves the edge with the given composite key
func (h *EdgesDBHandler) SelectEdgeByKey(ctx context.Context, edgeType model.EdgeType, edgeKey string) (*model.Edge, error) {
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM select_edge_by_key($1, $2)`,
		edgeType,
		edgeKey,
	)

	edge, err := scanEdge(row)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return edge, nil
}

// SelectEdgesFromChunk retrieves all edges originating from a chunk
func (h *EdgesDBHandler) SelectEdgesFromChunk(ctx context.Context, chunkID int64) ([]*model.Edge, error) {
	return h.selectEdges(ctx, `SELECT * FROM select_edges_from_chunk($1)`, chunkID)
}

// SelectEdgesOfPlace retrieves all edges touching a place in either direction
func (h *EdgesDBHandler) SelectEdgesOfPlace(ctx context.Context, gazetteerID string) ([]*model.Edge, error) {
	return h.selectEdges(ctx, `SELECT * FROM select_edges_of_place($1)`, gazetteerID)
}

// CountEdgesByType returns the number of edges per type. Absent types are omitted.
func (h *EdgesDBHandler) CountEdgesByType(ctx context.Context) (map[model.EdgeType]int64, error) {
	rows, err := h.db.Instance.QueryContext(ctx, `SELECT * FROM count_edges_by_type()`)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	counts := map[model.EdgeType]int64{}
	for rows.Next() {
		var edgeType model.EdgeType
		var count int64
		if err := rows.Scan(&edgeType, &count); err != nil {
			return nil, helper.NewError("scan", err)
		}
		counts[edgeType] = count
	}

	if err = rows.Err(); err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return counts, nil
}

func (h *EdgesDBHandler) selectEdges(ctx context.Context, query string, arg any) ([]*model.Edge, error) {
	rows, err := h.db.Instance.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var edges []*model.Edge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		edges = append(edges, edge)
	}

	if err = rows.Err(); err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return edges, nil
}

func scanEdge(row rowScanner) (*model.Edge, error) {
	edge := &model.Edge{}
	err := row.Scan(
		&edge.ID,
		&edge.EdgeType,
		&edge.EdgeKey,
		&edge.SourceChunkID,
		&edge.SourcePlaceID,
		&edge.TargetPlaceID,
		&edge.TargetExternalID,
		&edge.Properties,
		&edge.CreatedAt,
		&edge.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// validateEdge enforces the composite key contract at the interface boundary.
func validateEdge(edge *model.Edge, edgeType model.EdgeType) error {
	if edge == nil {
		return helper.NewError("edge validation", fmt.Errorf("edge is nil"))
	}
	if edge.EdgeType != edgeType {
		return helper.NewError("edge validation", fmt.Errorf("expected edge type %s, got %s", edgeType, edge.EdgeType))
	}
	if err := edge.Validate(); err != nil {
		return helper.NewError("edge validation", err)
	}
	return nil
}
