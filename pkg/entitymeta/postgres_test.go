package entitymeta

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockProvider(t *testing.T) (*PostgresProvider, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	ensureTestWidgetRegistered()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	provider, err := NewPostgresProvider(PostgresOptions{DB: db})
	require.NoError(t, err)
	return provider, mock, db
}

func TestNewPostgresProviderRequiresPool(t *testing.T) {
	_, err := NewPostgresProvider(PostgresOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPostgresGetMetadata(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		provider, mock, db := newMockProvider(t)
		defer db.Close()

		created := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
		rows := sqlmock.NewRows([]string{"entityid", "created", "metadata"}).
			AddRow("42", created, []byte(`{"name":"sprocket","color":"green"}`))
		mock.ExpectQuery("SELECT entityid, created, metadata").
			WithArgs("widget", "42").
			WillReturnRows(rows)

		metadata, err := provider.GetMetadata(context.Background(), testWidgetType, "42")
		require.NoError(t, err)
		assert.Equal(t, "42", metadata.EntityID)
		assert.Equal(t, testWidgetType, metadata.EntityType)
		assert.Equal(t, []string{"color", "name"}, metadata.EntityFieldNames)
		require.NotNil(t, metadata.EntityCreated)
		assert.True(t, metadata.EntityCreated.Equal(created))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero rows is NotFound", func(t *testing.T) {
		provider, mock, db := newMockProvider(t)
		defer db.Close()

		mock.ExpectQuery("SELECT entityid, created, metadata").
			WithArgs("widget", "404").
			WillReturnRows(sqlmock.NewRows([]string{"entityid", "created", "metadata"}))

		_, err := provider.GetMetadata(context.Background(), testWidgetType, "404")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.True(t, IsNotFound(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty id fails before any storage call", func(t *testing.T) {
		provider, mock, db := newMockProvider(t)
		defer db.Close()

		_, err := provider.GetMetadata(context.Background(), testWidgetType, "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unregistered type is a misconfiguration", func(t *testing.T) {
		provider, mock, db := newMockProvider(t)
		defer db.Close()

		_, err := provider.GetMetadata(context.Background(), EntityType("mystery"), "1")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMisconfigured)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresSetMetadata(t *testing.T) {
	t.Run("insert", func(t *testing.T) {
		provider, mock, db := newMockProvider(t)
		defer db.Close()

		mock.ExpectExec("INSERT INTO widgets").
			WithArgs("widget", "42", nil, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := provider.SetMetadata(context.Background(), &EntityMetadata{
			EntityType: testWidgetType,
			EntityID:   "42",
			Fields:     map[string]any{"name": "sprocket"},
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate key is Conflict", func(t *testing.T) {
		provider, mock, db := newMockProvider(t)
		defer db.Close()

		mock.ExpectExec("INSERT INTO widgets").
			WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

		err := provider.SetMetadata(context.Background(), &EntityMetadata{
			EntityType: testWidgetType,
			EntityID:   "42",
			Fields:     map[string]any{},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConflict)
		assert.True(t, IsConflict(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresUpdateMetadataSilentWhenMissing(t *testing.T) {
	provider, mock, db := newMockProvider(t)
	defer db.Close()

	// Zero rows matched: update must not surface an error.
	mock.ExpectExec("UPDATE widgets").
		WithArgs(sqlmock.AnyArg(), "widget", "42").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := provider.UpdateMetadata(context.Background(), &EntityMetadata{
		EntityType: testWidgetType,
		EntityID:   "42",
		Fields:     map[string]any{"name": "renamed"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteMetadataSilentWhenMissing(t *testing.T) {
	provider, mock, db := newMockProvider(t)
	defer db.Close()

	mock.ExpectExec("DELETE FROM widgets").
		WithArgs("widget", "42").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := provider.DeleteMetadata(context.Background(), &EntityMetadata{
		EntityType: testWidgetType,
		EntityID:   "42",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClearMetadataStore(t *testing.T) {
	provider, mock, db := newMockProvider(t)
	defer db.Close()

	mock.ExpectExec("DELETE FROM widgets").
		WithArgs("widget").
		WillReturnResult(sqlmock.NewResult(0, 12))

	err := provider.ClearMetadataStore(context.Background(), testWidgetType)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFixedQueryMetadata(t *testing.T) {
	t.Run("json containment", func(t *testing.T) {
		provider, mock, db := newMockProvider(t)
		defer db.Close()

		rows := sqlmock.NewRows([]string{"entityid", "created", "metadata"}).
			AddRow("1", nil, []byte(`{"name":"a","color":"green"}`)).
			AddRow("2", nil, []byte(`{"name":"b","color":"green"}`))
		mock.ExpectQuery("metadata @>").
			WithArgs("widget", sqlmock.AnyArg(), "name").
			WillReturnRows(rows)

		results, err := provider.FixedQueryMetadata(context.Background(), testWidgetType, widgetsByColorQuery{Color: "green"})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "1", results[0].EntityID)
		assert.Equal(t, "2", results[1].EntityID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("or query with no predicates fails before storage", func(t *testing.T) {
		provider, mock, db := newMockProvider(t)
		defer db.Close()

		_, err := provider.FixedQueryMetadata(context.Background(), testWidgetType, widgetsByAnyColorQuery{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing resolver fails fast", func(t *testing.T) {
		provider, mock, db := newMockProvider(t)
		defer db.Close()

		_, err := provider.FixedQueryMetadata(context.Background(), EntityType("mystery"), allWidgetsQuery{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMisconfigured)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresHistoryUnsupported(t *testing.T) {
	provider, _, db := newMockProvider(t)
	defer db.Close()

	assert.False(t, provider.SupportsHistory())
	_, err := provider.GetMetadataHistory(context.Background(), testWidgetType, "42")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestPostgresSerializationHelpersCached(t *testing.T) {
	provider, _, db := newMockProvider(t)
	defer db.Close()

	first, err := provider.SerializationHelper(testWidgetType)
	require.NoError(t, err)
	require.NotNil(t, first)
	second, err := provider.SerializationHelper(testWidgetType)
	require.NoError(t, err)
	require.NotNil(t, second)

	_, err = provider.SerializationHelper(EntityType("mystery"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMisconfigured)
}
