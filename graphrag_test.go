package graphrag

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/federicodip/GraphRag/core/enrich"
	"github.com/federicodip/GraphRag/core/graph"
	"github.com/federicodip/GraphRag/helper"
	"github.com/federicodip/GraphRag/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

var dbPort string

func TestMain(m *testing.M) {
	var teardown func(ctx context.Context, opts ...testcontainers.TerminateOption) error
	var err error
	teardown, dbPort, err = helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("error starting postgres container: %v", err)
	}

	m.Run()

	if teardown != nil && teardown(context.Background()) != nil {
		log.Fatalf("error tearing down postgres container: %v", err)
	}
}

const testGazetteer = `{"@graph": [
  {
    "id": "423025",
    "title": "Roma",
    "names": [{"romanized": "Roma, Rome", "language": "la"}, {"romanized": "Ro"}],
    "connectsWith": ["https://pleiades.stoa.org/places/422987"],
    "connections": [{"connectsTo": "https://pleiades.stoa.org/places/423116", "connectionType": "at"}]
  },
  {"id": "422987", "title": "Ostia"}
]}`

const testMeta = `{"articleId": "isaw-papers-2-2012", "title": "Astrological Geography", "year": 2012, "journal": "ISAW Papers"}`

var testChunks = strings.Join([]string{
	`{"chunkId": "isaw2-0", "articleId": "isaw-papers-2-2012", "seq": 0, "text": "...near Rome, in Italy...", "embedding": [1, 0, 0]}`,
	`{"chunkId": "isaw2-1", "articleId": "isaw-papers-2-2012", "seq": 1, "text": "...visited Romeville..."}`,
	`{"chunkId": "isaw2-2", "articleId": "isaw-papers-2-2012", "seq": 2, "text": "Ostia was the port of Roma."}`,
}, "\n")

// knowledgeBase answers SPARQL lookups from a table of rows per gazetteer id.
type knowledgeBase struct {
	rows  map[string][]string // gazetteer id -> QIDs
	label string
	calls atomic.Int32
}

var valuesPattern = regexp.MustCompile(`VALUES \?gid \{([^}]*)\}`)
var literalPattern = regexp.MustCompile(`"([^"]*)"`)

func (kb *knowledgeBase) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kb.calls.Add(1)
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var bindings []string
	values := valuesPattern.FindStringSubmatch(r.PostForm.Get("query"))
	if values != nil {
		for _, m := range literalPattern.FindAllStringSubmatch(values[1], -1) {
			for _, qid := range kb.rows[m[1]] {
				bindings = append(bindings, fmt.Sprintf(
					`{"item": {"type": "uri", "value": "http://www.wikidata.org/entity/%s"}, "gid": {"type": "literal", "value": "%s"}, "itemLabel": {"type": "literal", "value": "%s %s"}, "coord": {"type": "literal", "value": "Point(12.48 41.89)"}}`,
					qid, m[1], kb.label, qid,
				))
			}
		}
	}

	w.Header().Set("Content-Type", "application/sparql-results+json")
	fmt.Fprintf(w, `{"head": {"vars": []}, "results": {"bindings": [%s]}}`, strings.Join(bindings, ","))
}

func writeFile(t *testing.T, dir string, name string, content string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func initGraph(t *testing.T, endpoint string) *Graph {
	helper.SetTestDatabaseConfigEnvs(t, dbPort)
	dbConfig, err := helper.NewDatabaseConfiguration()
	require.NoError(t, err, "failed to create database configuration")

	enrichment := model.DefaultEnrichmentConfig()
	enrichment.Endpoint = endpoint
	enrichment.BatchSize = 2
	enrichment.Pacing = model.Pacing{MinDelay: 10 * time.Millisecond, MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

	g, err := NewGraph(&Config{
		Database:     dbConfig,
		EmbeddingDim: 3,
		Linker:       model.DefaultLinkerConfig(),
		Enrichment:   enrichment,
	})
	require.NoError(t, err, "failed to create graph")
	t.Cleanup(func() { g.Close() })

	return g
}

func TestNewGraph(t *testing.T) {
	t.Run("Valid call NewGraph", func(t *testing.T) {
		g := initGraph(t, "http://localhost")
		assert.NotNil(t, g.DB)
		assert.NotNil(t, g.Documents)
		assert.NotNil(t, g.Chunks)
		assert.NotNil(t, g.Places)
		assert.NotNil(t, g.External)
		assert.NotNil(t, g.Edges)
		assert.NoError(t, g.CheckSchema(context.Background()), "Expected a fresh graph to satisfy its preconditions")
	})

	t.Run("Nil configuration", func(t *testing.T) {
		_, err := NewGraph(nil)
		assert.Error(t, err)
	})

	t.Run("Graph with nil database handles Close gracefully", func(t *testing.T) {
		g := &Graph{}
		assert.NoError(t, g.Close())
	})
}

func TestWithGraph(t *testing.T) {
	helper.SetTestDatabaseConfigEnvs(t, dbPort)
	dbConfig, err := helper.NewDatabaseConfiguration()
	require.NoError(t, err)

	var kept *Graph
	err = WithGraph(&Config{Database: dbConfig, EmbeddingDim: 3}, func(g *Graph) error {
		kept = g
		return g.DB.Instance.Ping()
	})
	require.NoError(t, err)
	assert.Error(t, kept.DB.Instance.Ping(), "Expected the graph to be closed after the run")

	sentinel := fmt.Errorf("run failed")
	err = WithGraph(&Config{Database: dbConfig, EmbeddingDim: 3}, func(g *Graph) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
}

func TestPipeline(t *testing.T) {
	ctx := context.Background()
	kb := &knowledgeBase{
		rows:  map[string][]string{"423025": {"Q220"}, "422987": {"Q1234", "Q999"}},
		label: "Label",
	}
	server := httptest.NewServer(kb)
	defer server.Close()

	g := initGraph(t, server.URL)
	dir := t.TempDir()

	gazetteerReport, err := g.IngestPlaces(ctx, writeFile(t, dir, "places.json", testGazetteer))
	require.NoError(t, err)
	assert.Equal(t, 2, gazetteerReport.Places)
	assert.Equal(t, 2, gazetteerReport.Created)

	article, err := g.IngestArticle(ctx, writeFile(t, dir, "meta.json", testMeta), writeFile(t, dir, "chunks.jsonl", testChunks))
	require.NoError(t, err)
	require.Len(t, article.Chunks, 3)

	stored, err := g.Chunks.SelectChunk(ctx, "isaw2-0")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, stored.Embedding)

	t.Run("Linking is idempotent", func(t *testing.T) {
		first, err := g.LinkChunks(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, first.Places, "Expected the stub place to be part of the snapshot")
		assert.Equal(t, 3, first.Created)

		second, err := g.LinkChunks(ctx)
		require.NoError(t, err)
		assert.Zero(t, second.Created)
		assert.Equal(t, 3, second.Existing)

		edges, err := g.Edges.SelectEdgesFromChunk(ctx, article.Chunks[0].ID)
		require.NoError(t, err)
		require.Len(t, edges, 1)
		assert.Equal(t, "Rome", edges[0].Properties.String(model.KeyMatched))

		edges, err = g.Edges.SelectEdgesFromChunk(ctx, article.Chunks[1].ID)
		require.NoError(t, err)
		assert.Empty(t, edges, "Expected Romeville not to be linked")
	})

	t.Run("Enrichment converges", func(t *testing.T) {
		report, err := g.EnrichPlaces(ctx, enrich.Filter{})
		require.NoError(t, err)
		assert.Equal(t, 3, report.Places)
		assert.Equal(t, 2, report.Calls, "Expected ceil(3/2) calls")
		assert.Equal(t, 1, report.Resolved)
		assert.Equal(t, 1, report.Ambiguous)
		assert.Equal(t, 1, report.NotFound)

		edge, err := g.Edges.SelectEdgeByKey(ctx, model.EdgeTypeSameAs, model.SameAsKey("422987", "Q999", "P1584"))
		require.NoError(t, err)
		assert.Equal(t, "wikidata", edge.Properties.String(model.KeySource))

		kb.label = "Renamed"
		_, err = g.EnrichPlaces(ctx, enrich.Filter{})
		require.NoError(t, err)

		entity, err := g.External.SelectExternalEntity(ctx, "Q220")
		require.NoError(t, err)
		assert.Equal(t, "Renamed Q220", *entity.Label)
		assert.InDelta(t, 41.89, *entity.Lat, 1e-9)

		counts, err := g.Counts(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), counts.ExternalEntities)
		assert.Equal(t, int64(2), counts.SameAs)
		assert.Equal(t, int64(3), counts.Mentions)
		assert.Equal(t, int64(2), counts.Connected)
		assert.Equal(t, int64(3), counts.Places)
	})

	t.Run("Only unlinked places are revisited", func(t *testing.T) {
		before := kb.calls.Load()
		report, err := g.EnrichPlaces(ctx, enrich.Filter{OnlyUnlinked: true})
		require.NoError(t, err)
		assert.Equal(t, 1, report.Places)
		assert.Equal(t, model.OutcomeNotFound, report.Outcomes["423116"])
		assert.Equal(t, int32(1), kb.calls.Load()-before)
	})

	t.Run("Place neighborhood follows connections", func(t *testing.T) {
		results, err := g.PlaceNeighborhood(ctx, "423025", graph.Options{MaxHops: 1})
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "423025", results[0].Place.GazetteerID)

		results, err = g.PlaceNeighborhood(ctx, "422987", graph.Options{MaxHops: 1, Reverse: true, ConnectionTypes: []string{"at"}})
		require.NoError(t, err)
		assert.Len(t, results, 1, "Expected the related edge to be filtered out")
	})

	t.Run("Missing index aborts before writing", func(t *testing.T) {
		_, err := g.DB.Instance.ExecContext(ctx, `DROP INDEX idx_chunks_content_tsv`)
		require.NoError(t, err)

		_, err = g.LinkChunks(ctx)
		require.Error(t, err)
		assert.True(t, helper.IsConfigurationError(err))
		assert.Contains(t, err.Error(), "idx_chunks_content_tsv")

		_, err = g.EnrichPlaces(ctx, enrich.Filter{})
		assert.True(t, helper.IsConfigurationError(err))
	})
}
