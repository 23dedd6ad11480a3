package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/federicodip/GraphRag/model"
	"github.com/klauspost/compress/gzip"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const romePlace = `{
  "id": "423025",
  "uri": "https://pleiades.stoa.org/places/423025",
  "title": "Roma",
  "description": "The capital of the Roman Empire.",
  "placeTypes": ["settlement", "urban"],
  "subject": ["dare:major=1"],
  "review_state": "published",
  "names": [
    {"attested": "Ῥώμη", "romanized": "Rhome, Rhōmē", "language": "grc"},
    {"romanized": "Roma", "language": "la"},
    {"romanized": "Rome", "language": "la"}
  ],
  "connectsWith": ["https://pleiades.stoa.org/places/422987"],
  "connections": [
    {"connectsTo": "https://pleiades.stoa.org/places/423116", "connectionType": "at", "title": "Tiber", "associationCertainty": "certain", "uri": "https://pleiades.stoa.org/places/423025/tiber"},
    {"connectsTo": "not a place"}
  ]
}`

func TestReadPlacesShapes(t *testing.T) {
	ostia := `{"uri": "https://pleiades.stoa.org/places/422987", "title": "Ostia"}`

	tests := []struct {
		name string
		dump string
	}{
		{"Top-level array", "[" + romePlace + "," + ostia + "]"},
		{"JSON-LD graph", `{"@context": {"a": "b"}, "@graph": [` + romePlace + "," + ostia + "]}"},
		{"Places array", `{"places": [` + romePlace + "," + ostia + "]}"},
		{"Feature collection", `{"type": "FeatureCollection", "features": [{"properties": ` + romePlace + `}, {"properties": ` + ostia + `}, {"geometry": null}]}`},
		{"Object of id to place", `{"423025": ` + romePlace + `, "422987": ` + ostia + `}`},
		{"Newline delimited", strings.ReplaceAll(romePlace, "\n", "") + "\n\n" + ostia + "\nnot json\n"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			g, err := ReadPlaces(strings.NewReader(test.dump))
			require.NoError(t, err)
			require.Len(t, g.Places, 2)
			assert.Equal(t, "423025", g.Places[0].GazetteerID)
			assert.Equal(t, "422987", g.Places[1].GazetteerID, "Expected the id to be derived from the URI")
			assert.Len(t, g.Connections, 2)
		})
	}
}

func TestReadPlacesFields(t *testing.T) {
	g, err := ReadPlaces(strings.NewReader("[" + romePlace + `, {"title": "no id"}]`))
	require.NoError(t, err)
	require.Len(t, g.Places, 1)
	assert.Equal(t, 1, g.Skipped)

	rome := g.Places[0]
	assert.Equal(t, "Roma", rome.Title)
	assert.Equal(t, model.SourcePleiades, rome.Source)
	assert.Equal(t, "https://pleiades.stoa.org/places/423025", rome.URI)
	assert.Equal(t, "The capital of the Roman Empire.", rome.Description)
	assert.Equal(t, []string{"settlement", "urban"}, rome.PlaceTypes)
	assert.Equal(t, []string{"dare:major=1"}, rome.Subjects)
	assert.Equal(t, "published", rome.ReviewState)
	assert.Equal(t, []string{"Ῥώμη", "Rhome", "Rhōmē", "Roma", "Rome"}, rome.AltNames)
	assert.Equal(t, []string{"grc", "la"}, rome.Languages)

	require.Len(t, g.Connections, 2)
	related := g.Connections[0]
	assert.Equal(t, "423025", related.FromID)
	assert.Equal(t, "422987", related.ToID)
	assert.Equal(t, ConnectionTypeRelated, related.ConnectionType)

	typed := g.Connections[1]
	assert.Equal(t, "423116", typed.ToID)
	assert.Equal(t, "at", typed.ConnectionType)
	assert.Equal(t, "Tiber", typed.Title)
	assert.Equal(t, "certain", typed.AssociationCertainty)
}

func TestReadPlacesDefaults(t *testing.T) {
	g, err := ReadPlaces(strings.NewReader(`[{"id": 579885, "name": "Athenae", "label": "Athens", "placename": "Athens"}]`))
	require.NoError(t, err)
	require.Len(t, g.Places, 1)

	athens := g.Places[0]
	assert.Equal(t, "579885", athens.GazetteerID)
	assert.Equal(t, PleiadesPlaceURI+"579885", athens.URI)
	assert.Equal(t, "Athenae", athens.Title)
	assert.Equal(t, []string{"Athens"}, athens.AltNames)
	assert.Nil(t, athens.PlaceTypes)
}

func TestReadPlacesEmpty(t *testing.T) {
	g, err := ReadPlaces(strings.NewReader("  \n"))
	require.NoError(t, err)
	assert.Empty(t, g.Places)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	dump := "[" + romePlace + "]"

	plain := filepath.Join(dir, "places.json")
	require.NoError(t, os.WriteFile(plain, []byte(dump), 0o600))

	// compressed content under a misleading name
	compressed := filepath.Join(dir, "places.json.bin")
	file, err := os.Create(compressed)
	require.NoError(t, err)
	gz := gzip.NewWriter(file)
	_, err = gz.Write([]byte(dump))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, file.Close())

	for _, path := range []string{plain, compressed} {
		r, err := Open(path)
		require.NoError(t, err)
		g, err := ReadPlaces(r)
		require.NoError(t, err)
		require.NoError(t, r.Close())
		require.Len(t, g.Places, 1, path)
		assert.Equal(t, "Roma", g.Places[0].Title)
	}

	_, err = Open(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

type fakeGazetteerStore struct {
	mu        sync.Mutex
	places    map[string]*model.Place
	edges     map[string]*model.Edge
	failEdges map[string]bool
}

func newFakeGazetteerStore() *fakeGazetteerStore {
	return &fakeGazetteerStore{places: map[string]*model.Place{}, edges: map[string]*model.Edge{}, failEdges: map[string]bool{}}
}

func (s *fakeGazetteerStore) UpsertPlace(ctx context.Context, place *model.Place) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.places[place.GazetteerID] = place
	return nil
}

func (s *fakeGazetteerStore) InsertPlaceStub(ctx context.Context, gazetteerID string, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.places[gazetteerID]; !ok {
		s.places[gazetteerID] = &model.Place{GazetteerID: gazetteerID, URI: uri, Source: model.SourcePleiades}
	}
	return nil
}

func (s *fakeGazetteerStore) UpsertConnection(ctx context.Context, edge *model.Edge) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failEdges[edge.EdgeKey] {
		return false, &pq.Error{Code: "23505"}
	}
	_, exists := s.edges[edge.EdgeKey]
	s.edges[edge.EdgeKey] = edge
	return !exists, nil
}

func TestLoadGazetteer(t *testing.T) {
	ctx := context.Background()
	dump := "[" + romePlace + `, {"id": "422987", "title": "Ostia"}]`

	g, err := ReadPlaces(strings.NewReader(dump))
	require.NoError(t, err)

	t.Run("Places, stubs and connections", func(t *testing.T) {
		store := newFakeGazetteerStore()
		report, err := LoadGazetteer(ctx, store, g, 3, nil)
		require.NoError(t, err)

		assert.Equal(t, 2, report.Places)
		assert.Equal(t, 2, report.Connections)
		assert.Equal(t, 2, report.Created)

		assert.Equal(t, "Ostia", store.places["422987"].Title, "Expected the stub not to overwrite a dumped place")
		require.Contains(t, store.places, "423116")
		assert.Empty(t, store.places["423116"].Title)

		edge := store.edges[model.ConnectionKey("423025", "423116", "at")]
		require.NotNil(t, edge)
		assert.Equal(t, "Tiber", edge.Properties.String("title"))
		assert.Contains(t, store.edges, model.ConnectionKey("423025", "422987", ConnectionTypeRelated))

		again, err := LoadGazetteer(ctx, store, g, 3, nil)
		require.NoError(t, err)
		assert.Zero(t, again.Created)
		assert.Len(t, store.edges, 2)
	})

	t.Run("Failed connection is counted", func(t *testing.T) {
		store := newFakeGazetteerStore()
		store.failEdges[model.ConnectionKey("423025", "423116", "at")] = true

		report, err := LoadGazetteer(ctx, store, g, 2, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Errors)
		assert.Equal(t, 1, report.Created)
	})
}
