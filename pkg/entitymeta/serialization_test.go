package entitymeta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeWidget(t *testing.T) {
	ensureTestWidgetRegistered()
	decl, err := GetDeclaration(testWidgetType)
	require.NoError(t, err)
	serialize := makeSerializer(decl)

	updated := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	widget := &testWidget{
		ID:      42,
		Name:    "sprocket",
		Color:   "green",
		Score:   7,
		Updated: updated,
		Created: created,
		Secret:  "do not store",
	}

	metadata, err := serialize(widget)
	require.NoError(t, err)

	t.Run("identifier is split out and stringified", func(t *testing.T) {
		assert.Equal(t, "42", metadata.EntityID)
		assert.NotContains(t, metadata.Fields, "widgetid")
	})

	t.Run("created is a record attribute", func(t *testing.T) {
		require.NotNil(t, metadata.EntityCreated)
		assert.True(t, metadata.EntityCreated.Equal(created))
		assert.NotContains(t, metadata.Fields, "created")
	})

	t.Run("excluded properties never reach storage", func(t *testing.T) {
		assert.NotContains(t, metadata.Fields, "secret")
	})

	t.Run("payload fields are renamed and normalized", func(t *testing.T) {
		assert.Equal(t, "sprocket", metadata.Fields["name"])
		assert.Equal(t, "green", metadata.Fields["color"])
		assert.Equal(t, 7, metadata.Fields["score"])
		assert.Equal(t, updated.Format(time.RFC3339Nano), metadata.Fields["updated"])
	})

	t.Run("field names track the payload", func(t *testing.T) {
		assert.Equal(t, []string{"color", "name", "score", "updated"}, metadata.EntityFieldNames)
	})
}

func TestDeserializeWidget(t *testing.T) {
	ensureTestWidgetRegistered()
	decl, err := GetDeclaration(testWidgetType)
	require.NoError(t, err)
	deserialize := makeDeserializer(decl)

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	metadata := &EntityMetadata{
		EntityType:    testWidgetType,
		EntityID:      "42",
		EntityCreated: &created,
		Fields: map[string]any{
			"name":    "sprocket",
			"color":   "green",
			"score":   float64(7), // JSON numbers arrive as float64
			"updated": "2026-03-14T09:26:53Z",
			"legacy":  "from an older schema", // unknown fields are dropped
		},
	}

	obj, err := deserialize(metadata)
	require.NoError(t, err)
	widget, ok := obj.(*testWidget)
	require.True(t, ok)

	assert.Equal(t, int64(42), widget.ID)
	assert.Equal(t, "sprocket", widget.Name)
	assert.Equal(t, "green", widget.Color)
	assert.Equal(t, 7, widget.Score)
	assert.True(t, widget.Created.Equal(created))
	assert.True(t, widget.Updated.Equal(time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)))
}

func TestDeserializeKeepsUnparseableDates(t *testing.T) {
	ensureTestWidgetRegistered()
	decl, err := GetDeclaration(testWidgetType)
	require.NoError(t, err)
	deserialize := makeDeserializer(decl)

	metadata := &EntityMetadata{
		EntityType: testWidgetType,
		EntityID:   "7",
		Fields: map[string]any{
			"updated": "not a timestamp",
		},
	}

	obj, err := deserialize(metadata)
	require.NoError(t, err)
	widget := obj.(*testWidget)
	assert.True(t, widget.Updated.IsZero())
	assert.Equal(t, "not a timestamp", widget.rawUpdated)
}

func TestSerializationRoundTripStability(t *testing.T) {
	ensureTestWidgetRegistered()
	decl, err := GetDeclaration(testWidgetType)
	require.NoError(t, err)
	serialize := makeSerializer(decl)
	deserialize := makeDeserializer(decl)

	widget := &testWidget{
		ID:      9001,
		Name:    "gear",
		Color:   "blue",
		Score:   3,
		Updated: time.Date(2025, 12, 25, 18, 0, 0, 0, time.UTC),
		Created: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
	}

	first, err := serialize(widget)
	require.NoError(t, err)
	restored, err := deserialize(first)
	require.NoError(t, err)
	second, err := serialize(restored)
	require.NoError(t, err)

	assert.Equal(t, first.EntityID, second.EntityID)
	assert.Equal(t, first.EntityFieldNames, second.EntityFieldNames)
	assert.Equal(t, first.Fields, second.Fields)
}

func TestCoerceIDString(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
		fails bool
	}{
		{name: "string passes through", value: "abc", want: "abc"},
		{name: "int64", value: int64(123), want: "123"},
		{name: "int", value: 55, want: "55"},
		{name: "float without trailing zeros", value: float64(88), want: "88"},
		{name: "unsupported type", value: struct{}{}, fails: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := coerceIDString(tc.value)
			if tc.fails {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMissingDeclarationIsMisconfiguration(t *testing.T) {
	_, err := GetDeclaration(EntityType("nevereverdeclared"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMisconfigured)
}
