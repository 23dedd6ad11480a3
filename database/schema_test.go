package database

import (
	"context"
	"testing"

	"github.com/federicodip/GraphRag/helper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckSchema(t *testing.T) {
	database := initDB(t)
	ctx := context.Background()

	t.Run("Empty database misses every precondition", func(t *testing.T) {
		err := CheckSchema(ctx, database)
		require.Error(t, err)
		assert.True(t, helper.IsConfigurationError(err))
		for _, p := range Preconditions {
			assert.Contains(t, err.Error(), p.Name)
		}
	})

	t.Run("Initialized schema satisfies preconditions", func(t *testing.T) {
		initHandlers(t, database)
		assert.NoError(t, CheckSchema(ctx, database))
	})

	t.Run("Dropped full-text index is reported", func(t *testing.T) {
		_, err := database.Instance.Exec(`DROP INDEX idx_chunks_content_tsv;`)
		require.NoError(t, err)

		err = CheckSchema(ctx, database)
		require.Error(t, err)
		assert.True(t, helper.IsConfigurationError(err))
		assert.Contains(t, err.Error(), "idx_chunks_content_tsv")
		assert.NotContains(t, err.Error(), "places_pkey")
	})

	t.Run("Nil database is rejected", func(t *testing.T) {
		assert.Error(t, CheckSchema(ctx, nil))
	})
}

func TestCountGraph(t *testing.T) {
	database := initDB(t)
	h := initHandlers(t, database)
	ctx := context.Background()

	seedChunks(t, h, "a1", "one", "two")
	seedPlace(t, h, "1", "Alpha")

	counts, err := CountGraph(ctx, database)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Documents)
	assert.Equal(t, int64(2), counts.Chunks)
	assert.Equal(t, int64(1), counts.Places)
	assert.Equal(t, int64(0), counts.Mentions)
}
