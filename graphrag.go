package graphrag

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/federicodip/GraphRag/core/enrich"
	"github.com/federicodip/GraphRag/core/graph"
	"github.com/federicodip/GraphRag/core/ingest"
	"github.com/federicodip/GraphRag/core/linker"
	"github.com/federicodip/GraphRag/database"
	"github.com/federicodip/GraphRag/helper"
	"github.com/federicodip/GraphRag/model"
	loadSql "github.com/federicodip/GraphRag/sql"
)

// DefaultEmbeddingDim matches all-MiniLM-L6-v2 chunk embeddings.
const DefaultEmbeddingDim = 384

// Config bundles everything a Graph needs.
type Config struct {
	Database     *helper.DatabaseConfiguration
	EmbeddingDim int
	Linker       model.LinkerConfig
	Enrichment   model.EnrichmentConfig
	Logger       *slog.Logger // nil logs to stdout at info level
}

// ConfigFromEnv reads the database, linker and enrichment settings from the
// environment (GRAPHRAG_DB_*, GRAPHRAG_LINK_*, GRAPHRAG_WDQS_*, GRAPHRAG_EMBEDDING_DIM).
func ConfigFromEnv() (*Config, error) {
	dbConfig, err := helper.NewDatabaseConfiguration()
	if err != nil {
		return nil, helper.NewError("database configuration", err)
	}
	return &Config{
		Database:     dbConfig,
		EmbeddingDim: helper.GetEnvInt("GRAPHRAG_EMBEDDING_DIM", DefaultEmbeddingDim),
		Linker:       model.LinkerConfigFromEnv(),
		Enrichment:   model.EnrichmentConfigFromEnv(),
	}, nil
}

// Graph provides a unified interface to all database handlers and the
// linking, enrichment and ingestion runs built on them.
type Graph struct {
	DB        *helper.Database
	Documents *database.DocumentsDBHandler
	Chunks    *database.ChunksDBHandler
	Places    *database.PlacesDBHandler
	External  *database.ExternalEntitiesDBHandler
	Edges     *database.EdgesDBHandler

	config Config
	log    *slog.Logger
}

// NewGraph connects to the store and creates missing tables and functions.
func NewGraph(config *Config) (*Graph, error) {
	if config == nil {
		return nil, helper.NewError("graph configuration validation", fmt.Errorf("configuration is nil"))
	}
	if config.EmbeddingDim == 0 {
		config.EmbeddingDim = DefaultEmbeddingDim
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(helper.NewPrettyHandler(os.Stdout, helper.PrettyHandlerOptions{
			SlogOpts: slog.HandlerOptions{Level: slog.LevelInfo},
		}))
	}

	db, err := helper.NewDatabase("graphrag", config.Database, logger)
	if err != nil {
		return nil, helper.NewError("connect database", err)
	}

	g := &Graph{DB: db, config: *config, log: logger}
	if err := g.initHandlers(); err != nil {
		db.Close()
		return nil, err
	}

	return g, nil
}

// initHandlers creates tables in foreign key order.
func (g *Graph) initHandlers() error {
	err := loadSql.Init(g.DB.Instance)
	if err != nil {
		return helper.NewError("initialize database extensions", err)
	}

	g.Documents, err = database.NewDocumentsDBHandler(g.DB, false)
	if err != nil {
		return helper.NewError("create documents handler", err)
	}
	g.Chunks, err = database.NewChunksDBHandler(g.DB, g.config.EmbeddingDim, false)
	if err != nil {
		return helper.NewError("create chunks handler", err)
	}
	g.Places, err = database.NewPlacesDBHandler(g.DB, false)
	if err != nil {
		return helper.NewError("create places handler", err)
	}
	g.External, err = database.NewExternalEntitiesDBHandler(g.DB, false)
	if err != nil {
		return helper.NewError("create external entities handler", err)
	}
	g.Edges, err = database.NewEdgesDBHandler(g.DB, false)
	if err != nil {
		return helper.NewError("create edges handler", err)
	}
	return nil
}

// Close closes the database connection
func (g *Graph) Close() error {
	if g == nil {
		return nil
	}
	return g.DB.Close()
}

// WithGraph opens a Graph, runs fn and always closes the Graph again.
func WithGraph(config *Config, fn func(g *Graph) error) (err error) {
	g, err := NewGraph(config)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := g.Close(); closeErr != nil && err == nil {
			err = helper.NewError("close graph", closeErr)
		}
	}()
	return fn(g)
}

// CheckSchema verifies the full-text index and uniqueness constraints.
func (g *Graph) CheckSchema(ctx context.Context) error {
	return database.CheckSchema(ctx, g.DB)
}

// Counts returns node and edge counts.
func (g *Graph) Counts(ctx context.Context) (*database.Counts, error) {
	return database.CountGraph(ctx, g.DB)
}

// LinkChunks runs the chunk linker over every place after checking the schema.
func (g *Graph) LinkChunks(ctx context.Context) (*model.LinkReport, error) {
	if err := g.CheckSchema(ctx); err != nil {
		return nil, helper.NewError("link chunks", err)
	}
	return linker.New(g.Places, g.Chunks, g.Edges, g.config.Linker, g.log).Run(ctx)
}

// EnrichPlaces resolves places against the configured knowledge base after
// checking the schema.
func (g *Graph) EnrichPlaces(ctx context.Context, filter enrich.Filter) (*model.EnrichmentReport, error) {
	if err := g.CheckSchema(ctx); err != nil {
		return nil, helper.NewError("enrich places", err)
	}

	config := g.config.Enrichment
	if err := config.Validate(); err != nil {
		return nil, helper.NewError("enrichment config", err)
	}
	client, err := enrich.NewWikidataClient(config, g.log)
	if err != nil {
		return nil, helper.NewError("create knowledge base client", err)
	}

	resolver := enrich.NewResolver(client, config.Pacing, config.Property, g.log)
	writer := enrich.NewWriter(g.External, g.Edges, config)
	return enrich.NewJob(g.Places, resolver, writer, config, g.log).Run(ctx, filter)
}

// PlaceNeighborhood walks connected edges breadth-first from a place.
func (g *Graph) PlaceNeighborhood(ctx context.Context, gazetteerID string, options graph.Options) ([]*graph.TraversalResult, error) {
	return graph.BFS(ctx, placeGraph{g}, gazetteerID, options)
}

// IngestPlaces loads a gazetteer dump (plain or gzip) into places and connections.
func (g *Graph) IngestPlaces(ctx context.Context, path string) (*ingest.GazetteerReport, error) {
	r, err := ingest.Open(path)
	if err != nil {
		return nil, helper.NewError("open gazetteer dump", err)
	}
	defer r.Close()

	gazetteer, err := ingest.ReadPlaces(r)
	if err != nil {
		return nil, helper.NewError("read gazetteer dump", err)
	}
	return ingest.LoadGazetteer(ctx, gazetteerStore{g}, gazetteer, g.config.Linker.WriteRetries, g.log)
}

// IngestArticle loads an article from its meta JSON and chunk JSONL files.
func (g *Graph) IngestArticle(ctx context.Context, metaPath string, chunksPath string) (*ingest.Article, error) {
	meta, err := ingest.Open(metaPath)
	if err != nil {
		return nil, helper.NewError("open meta", err)
	}
	defer meta.Close()

	chunks, err := ingest.Open(chunksPath)
	if err != nil {
		return nil, helper.NewError("open chunks", err)
	}
	defer chunks.Close()

	article, err := ingest.ReadArticle(meta, chunks)
	if err != nil {
		return nil, err
	}
	if err := ingest.LoadArticle(ctx, articleStore{g}, article, g.log); err != nil {
		return nil, err
	}
	return article, nil
}

type gazetteerStore struct{ *Graph }

func (s gazetteerStore) UpsertPlace(ctx context.Context, place *model.Place) error {
	return s.Places.UpsertPlace(ctx, place)
}

func (s gazetteerStore) InsertPlaceStub(ctx context.Context, gazetteerID string, uri string) error {
	return s.Places.InsertPlaceStub(ctx, gazetteerID, uri)
}

func (s gazetteerStore) UpsertConnection(ctx context.Context, edge *model.Edge) (bool, error) {
	return s.Edges.UpsertConnection(ctx, edge)
}

type placeGraph struct{ *Graph }

func (s placeGraph) SelectPlace(ctx context.Context, gazetteerID string) (*model.Place, error) {
	return s.Places.SelectPlace(ctx, gazetteerID)
}

func (s placeGraph) SelectEdgesOfPlace(ctx context.Context, gazetteerID string) ([]*model.Edge, error) {
	return s.Edges.SelectEdgesOfPlace(ctx, gazetteerID)
}

type articleStore struct{ *Graph }

func (s articleStore) UpsertDocument(ctx context.Context, doc *model.Document) error {
	return s.Documents.UpsertDocument(ctx, doc)
}

func (s articleStore) UpsertChunk(ctx context.Context, chunk *model.Chunk) error {
	return s.Chunks.UpsertChunk(ctx, chunk)
}

func (s articleStore) UpdateChunkEmbedding(ctx context.Context, id int64, embedding []float32) error {
	return s.Chunks.UpdateChunkEmbedding(ctx, id, embedding)
}
