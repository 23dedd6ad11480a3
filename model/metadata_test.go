package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadata_Value(t *testing.T) {
	t.Run("Nil metadata is stored as empty object", func(t *testing.T) {
		var m Metadata

		value, err := m.Value()

		require.NoError(t, err)
		assert.Equal(t, []byte("{}"), value)
	})

	t.Run("Provenance keys are kept verbatim", func(t *testing.T) {
		m := Metadata{KeyMatched: "Rome", KeySource: SourceNameExactBoundary}

		value, err := m.Value()

		require.NoError(t, err)
		assert.JSONEq(t, `{"matched":"Rome","source":"name-exact-boundary"}`, string(value.([]byte)))
	})
}

func TestMetadata_Scan(t *testing.T) {
	t.Run("Scan from JSON bytes", func(t *testing.T) {
		var m Metadata

		err := m.Scan([]byte(`{"property":"P1584","matchedBy":"pleiadesId"}`))

		require.NoError(t, err)
		assert.Equal(t, "P1584", m.String(KeyProperty))
		assert.Equal(t, "pleiadesId", m.String(KeyMatchedBy))
	})

	t.Run("Scan from JSON string", func(t *testing.T) {
		var m Metadata

		err := m.Scan(`{"key":"value"}`)

		require.NoError(t, err)
		assert.Equal(t, "value", m["key"])
	})

	t.Run("Scan from nil", func(t *testing.T) {
		var m Metadata

		err := m.Scan(nil)

		require.NoError(t, err)
		assert.NotNil(t, m)
		assert.Len(t, m, 0)
	})

	t.Run("Scan from Metadata", func(t *testing.T) {
		var m Metadata

		err := m.Scan(Metadata{"key": "value"})

		require.NoError(t, err)
		assert.Equal(t, "value", m["key"])
	})

	t.Run("Scan invalid JSON", func(t *testing.T) {
		var m Metadata

		err := m.Scan([]byte(`{invalid json}`))

		require.Error(t, err)
	})

	t.Run("Scan invalid type", func(t *testing.T) {
		var m Metadata

		err := m.Scan(12345)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "type assertion")
	})
}

func TestMetadata_String(t *testing.T) {
	m := Metadata{"text": "value", "number": 42}

	assert.Equal(t, "value", m.String("text"))
	assert.Equal(t, "", m.String("number"), "Non string values should read as empty")
	assert.Equal(t, "", m.String("missing"))
}
