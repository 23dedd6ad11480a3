package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/federicodip/GraphRag/model"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBindings = `{
  "head": {"vars": ["item", "gid", "itemLabel", "coord", "inst"]},
  "results": {"bindings": [
    {
      "item": {"type": "uri", "value": "http://www.wikidata.org/entity/Q220"},
      "gid": {"type": "literal", "value": "423025"},
      "itemLabel": {"xml:lang": "en", "type": "literal", "value": "Rome"},
      "coord": {"datatype": "http://www.opengis.net/ont/geosparql#wktLiteral", "type": "literal", "value": "Point(12.4828 41.8931)"},
      "inst": {"type": "uri", "value": "http://www.wikidata.org/entity/Q515"}
    },
    {
      "item": {"type": "uri", "value": "http://www.wikidata.org/entity/Q1234"},
      "gid": {"type": "literal", "value": "422987"}
    },
    {
      "gid": {"type": "literal", "value": "999"}
    }
  ]}
}`

func TestBuildQuery(t *testing.T) {
	t.Run("Batch of ids", func(t *testing.T) {
		query, err := BuildQuery("P1584", []string{"423025", "422987"}, "en")
		require.NoError(t, err)
		assert.Contains(t, query, `VALUES ?gid { "423025" "422987" }`)
		assert.Contains(t, query, "?item wdt:P1584 ?gid .")
		assert.Contains(t, query, "OPTIONAL { ?item wdt:P625 ?coord . }")
		assert.Contains(t, query, "OPTIONAL { ?item wdt:P31 ?inst . }")
		assert.Contains(t, query, `wikibase:language "en"`)
	})

	t.Run("Literals are escaped", func(t *testing.T) {
		query, err := BuildQuery("P1584", []string{`1" } ?x ?y {`, `a\b`}, "en")
		require.NoError(t, err)
		assert.Contains(t, query, `"1\" } ?x ?y {"`)
		assert.Contains(t, query, `"a\\b"`)
	})

	t.Run("Invalid input is rejected", func(t *testing.T) {
		_, err := BuildQuery("P1584 . ?s ?p ?o", []string{"1"}, "en")
		assert.Error(t, err)
		_, err = BuildQuery("P1584", nil, "en")
		assert.Error(t, err)
		_, err = BuildQuery("P1584", []string{"1"}, `en". }`)
		assert.Error(t, err)
	})
}

func TestParseBindings(t *testing.T) {
	t.Run("Rows become records", func(t *testing.T) {
		records, err := ParseBindings([]byte(sampleBindings))
		require.NoError(t, err)
		require.Len(t, records, 2, "Expected the row without an item to be skipped")

		rome := records[0]
		assert.Equal(t, "423025", rome.GazetteerID)
		assert.Equal(t, "Q220", rome.ExternalID)
		assert.Equal(t, "https://www.wikidata.org/entity/Q220", rome.URI)
		require.NotNil(t, rome.Label)
		assert.Equal(t, "Rome", *rome.Label)
		require.NotNil(t, rome.InstanceOf)
		assert.Equal(t, "Q515", *rome.InstanceOf)
		require.NotNil(t, rome.Lat)
		require.NotNil(t, rome.Lon)
		assert.InDelta(t, 41.8931, *rome.Lat, 1e-9)
		assert.InDelta(t, 12.4828, *rome.Lon, 1e-9)

		bare := records[1]
		assert.Equal(t, "Q1234", bare.ExternalID)
		assert.Nil(t, bare.Label)
		assert.Nil(t, bare.InstanceOf)
		assert.Nil(t, bare.Lat)
	})

	t.Run("Empty result", func(t *testing.T) {
		records, err := ParseBindings([]byte(`{"results": {"bindings": []}}`))
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("Non JSON body is retryable", func(t *testing.T) {
		_, err := ParseBindings([]byte("<html>Too busy</html>"))
		require.Error(t, err)
		assert.True(t, IsRetryable(err))

		_, err = ParseBindings([]byte(`{"error": "x"}`))
		require.Error(t, err)
		assert.True(t, IsRetryable(err))
	})
}

func TestParsePoint(t *testing.T) {
	lat, lon, ok := parsePoint("Point(-0.1275 51.507222222)")
	require.True(t, ok)
	assert.InDelta(t, 51.507222222, lat, 1e-9)
	assert.InDelta(t, -0.1275, lon, 1e-9)

	_, _, ok = parsePoint("<http://www.wikidata.org/entity/Q405> Point(10 20)")
	assert.True(t, ok)

	for _, bad := range []string{"", "Point()", "Point(1)", "Point(a b)", "LINESTRING(1 2, 3 4)"} {
		_, _, ok := parsePoint(bad)
		assert.False(t, ok, bad)
	}
}

func testEnrichmentConfig(endpoint string) model.EnrichmentConfig {
	config := model.DefaultEnrichmentConfig()
	config.Endpoint = endpoint
	config.Pacing = model.Pacing{MinDelay: 0, MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	config.RequestTimeout = 2 * time.Second
	return config
}

func TestWikidataClientQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("Posts the query as a form", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/sparql-results+json", r.Header.Get("Accept"))
			assert.Equal(t, "GraphRAG-enricher/1.0", r.Header.Get("User-Agent"))
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "json", r.PostForm.Get("format"))
			assert.Contains(t, r.PostForm.Get("query"), `VALUES ?gid { "423025" "422987" }`)

			w.Header().Set("Content-Type", "application/sparql-results+json")
			_, _ = w.Write([]byte(sampleBindings))
		}))
		defer server.Close()

		client, err := NewWikidataClient(testEnrichmentConfig(server.URL), nil)
		require.NoError(t, err)

		records, err := client.Query(ctx, "P1584", []string{"423025", "422987"})
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("Rate limiting carries Retry-After", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "3")
			http.Error(w, "slow down", http.StatusTooManyRequests)
		}))
		defer server.Close()

		client, err := NewWikidataClient(testEnrichmentConfig(server.URL), nil)
		require.NoError(t, err)

		_, err = client.Query(ctx, "P1584", []string{"1"})
		var remote *RemoteError
		require.ErrorAs(t, err, &remote)
		assert.Equal(t, http.StatusTooManyRequests, remote.StatusCode)
		assert.Equal(t, 3*time.Second, remote.RetryAfter)
		assert.True(t, remote.Retryable())
		assert.True(t, strings.HasPrefix(remote.Body, "slow down"))
	})

	t.Run("Client errors are not retryable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "malformed query", http.StatusBadRequest)
		}))
		defer server.Close()

		client, err := NewWikidataClient(testEnrichmentConfig(server.URL), nil)
		require.NoError(t, err)

		_, err = client.Query(ctx, "P1584", []string{"1"})
		require.Error(t, err)
		assert.False(t, IsRetryable(err))
	})

	t.Run("Breaker opens after repeated failures", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			http.Error(w, "down", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		config := testEnrichmentConfig(server.URL)
		config.Pacing.MaxRetries = 0
		config.Pacing.MaxBackoff = time.Minute
		client, err := NewWikidataClient(config, nil)
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			_, err = client.Query(ctx, "P1584", []string{"1"})
			assert.True(t, IsRetryable(err))
		}
		_, err = client.Query(ctx, "P1584", []string{"1"})
		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
		assert.True(t, IsCircuitOpen(err))
		assert.True(t, IsRetryable(err), "Expected a refused call to be worth waiting for")
		assert.Equal(t, int32(2), hits.Load())

		var remote *RemoteError
		require.ErrorAs(t, err, &remote)
		assert.Greater(t, remote.RetryAfter, 50*time.Second, "Expected the wait until the breaker turns half-open")
		assert.LessOrEqual(t, remote.RetryAfter, time.Minute)
	})

	t.Run("Invalid configuration", func(t *testing.T) {
		_, err := NewWikidataClient(testEnrichmentConfig("not a url"), nil)
		assert.Error(t, err)

		config := testEnrichmentConfig("http://localhost")
		config.Language = "en\" }"
		_, err = NewWikidataClient(config, nil)
		assert.Error(t, err)
	})
}
