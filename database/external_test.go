package database

import (
	"context"
	"testing"

	"github.com/federicodip/GraphRag/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExternalEntitiesNewExternalEntitiesDBHandler(t *testing.T) {
	database := initDB(t)

	t.Run("Valid call NewExternalEntitiesDBHandler", func(t *testing.T) {
		externalDbHandler, err := NewExternalEntitiesDBHandler(database, true)
		assert.NoError(t, err)
		require.NotNil(t, externalDbHandler)
		require.NotNil(t, externalDbHandler.db.Instance)
	})

	t.Run("Invalid call NewExternalEntitiesDBHandler with nil database", func(t *testing.T) {
		_, err := NewExternalEntitiesDBHandler(nil, false)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "database connection is nil")
	})
}

func TestExternalEntitiesUpsert(t *testing.T) {
	database := initDB(t)
	h := initHandlers(t, database)
	ctx := context.Background()

	label := "Rome"
	instance := "Q515"
	lat, lon := 41.893, 12.483

	t.Run("First upsert creates the node", func(t *testing.T) {
		created, err := h.external.UpsertExternalEntity(ctx, &model.ExternalEntity{
			ExternalID: "Q220",
			URI:        "https://www.wikidata.org/entity/Q220",
			Label:      &label,
			InstanceOf: &instance,
			Lat:        &lat,
			Lon:        &lon,
		})
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("Second upsert refreshes the label", func(t *testing.T) {
		newLabel := "Roma"
		created, err := h.external.UpsertExternalEntity(ctx, &model.ExternalEntity{
			ExternalID: "Q220",
			URI:        "https://www.wikidata.org/entity/Q220",
			Label:      &newLabel,
		})
		require.NoError(t, err)
		assert.False(t, created)

		entity, err := h.external.SelectExternalEntity(ctx, "Q220")
		require.NoError(t, err)
		require.NotNil(t, entity.Label)
		assert.Equal(t, "Roma", *entity.Label, "Expected latest label to win")
		require.NotNil(t, entity.InstanceOf)
		assert.Equal(t, "Q515", *entity.InstanceOf, "Expected absent fields to keep their value")
		require.NotNil(t, entity.Lat)
		assert.InDelta(t, 41.893, *entity.Lat, 0.0001)
	})

	t.Run("Exactly one node per external id", func(t *testing.T) {
		var count int
		err := database.Instance.QueryRow(`SELECT COUNT(*) FROM external_entities WHERE external_id = 'Q220'`).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("Empty external id is rejected", func(t *testing.T) {
		_, err := h.external.UpsertExternalEntity(ctx, &model.ExternalEntity{URI: "x"})
		assert.Error(t, err)
	})
}
