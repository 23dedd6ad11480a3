package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/federicodip/GraphRag/helper"
	"github.com/federicodip/GraphRag/model"
	loadSql "github.com/federicodip/GraphRag/sql"
	"github.com/pgvector/pgvector-go"
)

// ChunksDBHandlerFunctions defines the interface for Chunks database operations.
type ChunksDBHandlerFunctions interface {
	UpsertChunk(ctx context.Context, chunk *model.Chunk) error
	UpdateChunkEmbedding(ctx context.Context, id int64, embedding []float32) error
	SelectChunk(ctx context.Context, chunkID string) (*model.Chunk, error)
	SelectChunksByDocument(ctx context.Context, documentID int64) ([]*model.Chunk, error)
	SelectChunksByFullText(ctx context.Context, phrase string) ([]*model.Chunk, error)
}

// ChunksDBHandler handles chunk-related database operations
type ChunksDBHandler struct {
	db *helper.Database
}

// NewChunksDBHandler creates a new chunks database handler.
// It initializes the database connection and loads chunk-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewChunksDBHandler(db *helper.Database, embeddingDim int, force bool) (*ChunksDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}
	if embeddingDim < 1 {
		return nil, helper.NewError("embedding dimension validation", fmt.Errorf("embedding dimension must be positive, got %d", embeddingDim))
	}

	chunksDbHandler := &ChunksDBHandler{
		db: db,
	}

	err := loadSql.LoadChunksSql(chunksDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load chunks sql", err)
	}

	err = chunksDbHandler.CreateTable(embeddingDim)
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized ChunksDBHandler")

	return chunksDbHandler, nil
}

// CreateTable creates the 'chunks' table in the database.
// If the table already exists, it does not create it again.
// It also creates the full-text index the linker depends on.
func (h *ChunksDBHandler) CreateTable(embeddingDim int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_chunks($1);`, embeddingDim)
	if err != nil {
		log.Panicf("error initializing chunks table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table chunks")

	return nil
}

// UpsertChunk inserts a chunk keyed by its chunk id or replaces its text.
// The embedding of an existing chunk is kept.
func (h *ChunksDBHandler) UpsertChunk(ctx context.Context, chunk *model.Chunk) error {
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM upsert_chunk($1, $2, $3, $4, $5)`,
		chunk.ChunkID,
		chunk.DocumentID,
		chunk.Seq,
		chunk.Content,
		chunk.Metadata,
	)

	err := row.Scan(&chunk.ID, &chunk.CreatedAt)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// UpdateChunkEmbedding stores an opaque vector on a chunk. It is never ranked here.
func (h *ChunksDBHandler) UpdateChunkEmbedding(ctx context.Context, id int64, embedding []float32) error {
	_, err := h.db.Instance.ExecContext(
		ctx,
		`SELECT update_chunk_embedding($1, $2)`,
		id,
		pgvector.NewVector(embedding),
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

// SelectChunk retrieves a chunk by its chunk id
func (h *ChunksDBHandler) SelectChunk(ctx context.Context, chunkID string) (*model.Chunk, error) {
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM select_chunk($1)`,
		chunkID,
	)

	chunk := &model.Chunk{}
	var embedding *pgvector.Vector
	err := row.Scan(
		&chunk.ID,
		&chunk.ChunkID,
		&chunk.DocumentID,
		&chunk.Seq,
		&chunk.Content,
		&embedding,
		&chunk.Metadata,
		&chunk.CreatedAt,
	)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}
	if embedding != nil {
		chunk.Embedding = embedding.Slice()
	}

	return chunk, nil
}

// SelectChunksByDocument retrieves all chunks of a document ordered by seq
func (h *ChunksDBHandler) SelectChunksByDocument(ctx context.Context, documentID int64) ([]*model.Chunk, error) {
	rows, err := h.db.Instance.QueryContext(
		ctx,
		`SELECT * FROM select_chunks_by_document($1)`,
		documentID,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var chunks []*model.Chunk
	for rows.Next() {
		chunk := &model.Chunk{}
		var embedding *pgvector.Vector
		err := rows.Scan(
			&chunk.ID,
			&chunk.ChunkID,
			&chunk.DocumentID,
			&chunk.Seq,
			&chunk.Content,
			&embedding,
			&chunk.Metadata,
			&chunk.CreatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		if embedding != nil {
			chunk.Embedding = embedding.Slice()
		}
		chunks = append(chunks, chunk)
	}

	if err = rows.Err(); err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return chunks, nil
}

// SelectChunksByFullText returns the shortlist of chunks whose indexed text
// contains phrase. Nothing is cut off by score. A missing full-text surface in
// the store is reported as a configuration error.
func (h *ChunksDBHandler) SelectChunksByFullText(ctx context.Context, phrase string) ([]*model.Chunk, error) {
	rows, err := h.db.Instance.QueryContext(
		ctx,
		`SELECT * FROM select_chunks_by_full_text($1)`,
		phrase,
	)
	if err != nil {
		if helper.IsMissingObject(err) {
			return nil, helper.NewError("full-text query", &helper.ConfigurationError{
				Missing: []string{"full-text search over chunks"},
				Cause:   err,
			})
		}
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var chunks []*model.Chunk
	for rows.Next() {
		chunk := &model.Chunk{}
		err := rows.Scan(
			&chunk.ID,
			&chunk.ChunkID,
			&chunk.DocumentID,
			&chunk.Seq,
			&chunk.Content,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		chunks = append(chunks, chunk)
	}

	if err = rows.Err(); err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return chunks, nil
}
