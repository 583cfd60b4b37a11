package entitymeta

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
)

// PostgresBackendName is the backend key used for fixed-query registration.
const PostgresBackendName = "postgres"

const metadataColumnName = "metadata"

// Record-level attributes map to fixed columns; entityFieldNames has no
// column because it is recomputed from the payload keys on read.
const (
	entityTypeColumn    = "entitytype"
	entityIDColumn      = "entityid"
	entityCreatedColumn = "created"
)

// PostgresOptions configures a PostgresProvider. Table names and
// discriminator values default from the registered declarations and may be
// overridden per type.
type PostgresOptions struct {
	DB             *sql.DB
	TableNames     map[EntityType]string
	Discriminators map[EntityType]string
}

// PostgresProvider is the production storage backend: one table per entity
// type holding a discriminator column, an identifier column, an optional
// creation timestamp and a single jsonb payload column.
type PostgresProvider struct {
	db             *sql.DB
	tableNames     map[EntityType]string
	discriminators map[EntityType]string

	helperMu      sync.RWMutex
	serializers   map[EntityType]SerializationHelper
	deserializers map[EntityType]DeserializationHelper
}

// NewPostgresProvider creates a provider over an existing pool. The
// provider owns the pool's lifetime from here on; callers release it
// through Close, never directly.
func NewPostgresProvider(opts PostgresOptions) (*PostgresProvider, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("%w: a database pool is required", ErrInvalidInput)
	}
	tableNames := defaultTableNames()
	for t, name := range opts.TableNames {
		tableNames[t] = name
	}
	discriminators := defaultDiscriminators()
	for t, value := range opts.Discriminators {
		discriminators[t] = value
	}
	return &PostgresProvider{
		db:             opts.DB,
		tableNames:     tableNames,
		discriminators: discriminators,
		serializers:    make(map[EntityType]SerializationHelper),
		deserializers:  make(map[EntityType]DeserializationHelper),
	}, nil
}

// OpenPostgres connects a pool with the portal's standard tuning and wraps
// it in a provider.
func OpenPostgres(url string, maxOpen, maxIdle int, opts PostgresOptions) (*PostgresProvider, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	opts.DB = db
	return NewPostgresProvider(opts)
}

func (p *PostgresProvider) Name() string { return PostgresBackendName }

// SupportsHistory is false: the relational backend keeps no change history.
func (p *PostgresProvider) SupportsHistory() bool { return false }

// EnsureSchema creates the tables for every registered entity type. The
// composite primary key is what makes insert-only SetMetadata fail on
// duplicates; the provider relies on it rather than re-checking uniqueness.
func (p *PostgresProvider) EnsureSchema(ctx context.Context) error {
	tables := make([]string, 0, len(p.tableNames))
	seen := make(map[string]bool)
	for _, table := range p.tableNames {
		if !seen[table] {
			seen[table] = true
			tables = append(tables, table)
		}
	}
	sort.Strings(tables)
	for _, table := range tables {
		statement := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				%s TEXT NOT NULL,
				%s TEXT NOT NULL,
				%s TIMESTAMPTZ,
				%s JSONB NOT NULL,
				PRIMARY KEY (%s, %s)
			)`,
			table,
			entityTypeColumn, entityIDColumn, entityCreatedColumn, metadataColumnName,
			entityTypeColumn, entityIDColumn)
		if _, err := p.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("failed to ensure table %s: %w", table, err)
		}
	}
	return nil
}

func (p *PostgresProvider) GetMetadata(ctx context.Context, t EntityType, id string) (*EntityMetadata, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: entity id is required", ErrInvalidInput)
	}
	table, err := p.tableName(t)
	if err != nil {
		return nil, err
	}
	discriminator, err := p.discriminator(t)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT %s, %s, %s
		FROM %s
		WHERE %s = $1 AND %s = $2`,
		entityIDColumn, entityCreatedColumn, metadataColumnName,
		table,
		entityTypeColumn, entityIDColumn)
	row := p.db.QueryRowContext(ctx, query, discriminator, id)
	metadata, err := scanMetadataRow(t, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Type: t, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %q: %w", t, id, err)
	}
	return metadata, nil
}

func (p *PostgresProvider) SetMetadata(ctx context.Context, metadata *EntityMetadata) error {
	table, discriminator, payload, err := p.writePrerequisites(metadata)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s)
		VALUES ($1, $2, $3, $4)`,
		table, entityTypeColumn, entityIDColumn, entityCreatedColumn, metadataColumnName)
	_, err = p.db.ExecContext(ctx, query, discriminator, metadata.EntityID, nullableTime(metadata.EntityCreated), payload)
	if isPostgresDuplicateKey(err) {
		return &ConflictError{Type: metadata.EntityType, ID: metadata.EntityID}
	}
	if err != nil {
		return fmt.Errorf("failed to insert %s %q: %w", metadata.EntityType, metadata.EntityID, err)
	}
	return nil
}

// UpdateMetadata matching zero rows is deliberately not an error: callers
// in the surrounding system rely on the silent no-op.
func (p *PostgresProvider) UpdateMetadata(ctx context.Context, metadata *EntityMetadata) error {
	table, discriminator, payload, err := p.writePrerequisites(metadata)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET %s = $1
		WHERE %s = $2 AND %s = $3`,
		table, metadataColumnName, entityTypeColumn, entityIDColumn)
	if _, err := p.db.ExecContext(ctx, query, payload, discriminator, metadata.EntityID); err != nil {
		return fmt.Errorf("failed to update %s %q: %w", metadata.EntityType, metadata.EntityID, err)
	}
	return nil
}

func (p *PostgresProvider) DeleteMetadata(ctx context.Context, metadata *EntityMetadata) error {
	if metadata == nil {
		return fmt.Errorf("%w: nil metadata", ErrInvalidInput)
	}
	table, err := p.tableName(metadata.EntityType)
	if err != nil {
		return err
	}
	discriminator, err := p.discriminator(metadata.EntityType)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE %s = $1 AND %s = $2`,
		table, entityTypeColumn, entityIDColumn)
	if _, err := p.db.ExecContext(ctx, query, discriminator, metadata.EntityID); err != nil {
		return fmt.Errorf("failed to delete %s %q: %w", metadata.EntityType, metadata.EntityID, err)
	}
	return nil
}

func (p *PostgresProvider) ClearMetadataStore(ctx context.Context, t EntityType) error {
	table, err := p.tableName(t)
	if err != nil {
		return err
	}
	discriminator, err := p.discriminator(t)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, table, entityTypeColumn)
	if _, err := p.db.ExecContext(ctx, query, discriminator); err != nil {
		return fmt.Errorf("failed to clear %s store: %w", t, err)
	}
	return nil
}

func (p *PostgresProvider) FixedQueryMetadata(ctx context.Context, t EntityType, query FixedQuery) ([]*EntityMetadata, error) {
	builder, err := lookupQueryBuilder(PostgresBackendName, t)
	if err != nil {
		return nil, err
	}
	table, err := p.tableName(t)
	if err != nil {
		return nil, err
	}
	discriminator, err := p.discriminator(t)
	if err != nil {
		return nil, err
	}
	built, err := builder(query, table, discriminator)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, built.SQL, built.Values...)
	if err != nil {
		return nil, fmt.Errorf("fixed query %q for %s failed: %w", query.FixedQueryName(), t, err)
	}
	defer rows.Close()
	var results []*EntityMetadata
	for rows.Next() {
		metadata, err := scanMetadataRow(t, rows)
		if err != nil {
			return nil, fmt.Errorf("fixed query %q for %s: %w", query.FixedQueryName(), t, err)
		}
		results = append(results, metadata)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fixed query %q for %s: %w", query.FixedQueryName(), t, err)
	}
	return results, nil
}

func (p *PostgresProvider) GetMetadataHistory(ctx context.Context, t EntityType, id string) ([]*EntityMetadata, error) {
	return nil, fmt.Errorf("%w: history is not kept by the postgres provider", ErrUnsupported)
}

func (p *PostgresProvider) SerializationHelper(t EntityType) (SerializationHelper, error) {
	p.helperMu.RLock()
	helper, ok := p.serializers[t]
	p.helperMu.RUnlock()
	if ok {
		return helper, nil
	}
	decl, err := GetDeclaration(t)
	if err != nil {
		return nil, err
	}
	helper = makeSerializer(decl)
	// Recomputing the helper is idempotent, so a racing initialization is
	// harmless.
	p.helperMu.Lock()
	p.serializers[t] = helper
	p.helperMu.Unlock()
	return helper, nil
}

func (p *PostgresProvider) DeserializationHelper(t EntityType) (DeserializationHelper, error) {
	p.helperMu.RLock()
	helper, ok := p.deserializers[t]
	p.helperMu.RUnlock()
	if ok {
		return helper, nil
	}
	decl, err := GetDeclaration(t)
	if err != nil {
		return nil, err
	}
	helper = makeDeserializer(decl)
	p.helperMu.Lock()
	p.deserializers[t] = helper
	p.helperMu.Unlock()
	return helper, nil
}

func (p *PostgresProvider) Close() error {
	return p.db.Close()
}

// DB exposes the pool for health checks.
func (p *PostgresProvider) DB() *sql.DB { return p.db }

func (p *PostgresProvider) tableName(t EntityType) (string, error) {
	table, ok := p.tableNames[t]
	if !ok || table == "" {
		return "", &MisconfigurationError{Type: t, Detail: "no table name mapping provided"}
	}
	return table, nil
}

func (p *PostgresProvider) discriminator(t EntityType) (string, error) {
	value, ok := p.discriminators[t]
	if !ok || value == "" {
		return "", &MisconfigurationError{Type: t, Detail: "no discriminator value mapping provided"}
	}
	return value, nil
}

func (p *PostgresProvider) writePrerequisites(metadata *EntityMetadata) (table, discriminator string, payload []byte, err error) {
	if metadata == nil {
		return "", "", nil, fmt.Errorf("%w: nil metadata", ErrInvalidInput)
	}
	if metadata.EntityID == "" {
		return "", "", nil, fmt.Errorf("%w: entity id is required", ErrInvalidInput)
	}
	table, err = p.tableName(metadata.EntityType)
	if err != nil {
		return "", "", nil, err
	}
	discriminator, err = p.discriminator(metadata.EntityType)
	if err != nil {
		return "", "", nil, err
	}
	payload, err = marshalPayload(metadata)
	return table, discriminator, payload, err
}

func marshalPayload(metadata *EntityMetadata) ([]byte, error) {
	payload, err := json.Marshal(metadata.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", metadata.EntityType, err)
	}
	return payload, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanMetadataRow maps one row back to a generic record. Field names are
// recomputed from the payload keys; drift between them and what a newer
// binary expects is how schema skew gets detected upstream.
func scanMetadataRow(t EntityType, row rowScanner) (*EntityMetadata, error) {
	var (
		id      string
		created sql.NullTime
		payload []byte
	)
	if err := row.Scan(&id, &created, &payload); err != nil {
		return nil, err
	}
	fields := make(map[string]any)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, fmt.Errorf("corrupt payload for %s %q: %w", t, id, err)
		}
	}
	metadata := &EntityMetadata{
		EntityType:       t,
		EntityID:         id,
		EntityFieldNames: sortedKeys(fields),
		Fields:           fields,
	}
	if created.Valid {
		ts := created.Time
		metadata.EntityCreated = &ts
	}
	return metadata, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func isPostgresDuplicateKey(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// Fixed-query construction helpers. Entity packages compose these inside
// their registered builders so the SQL shapes stay in one place.

// PostgresGetAllEntities selects every row of a type.
func PostgresGetAllEntities(tableName, discriminator string) *BackendQuery {
	return &BackendQuery{
		SQL: fmt.Sprintf(`SELECT %s, %s, %s FROM %s WHERE %s = $1`,
			entityIDColumn, entityCreatedColumn, metadataColumnName, tableName, entityTypeColumn),
		Values: []any{discriminator},
	}
}

// PostgresJSONQuery filters on a containment test against the payload
// column, optionally ordered by one payload field.
func PostgresJSONQuery(tableName, discriminator string, predicate map[string]any, orderByField string, descending bool) (*BackendQuery, error) {
	predicateJSON, err := json.Marshal(predicate)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query predicate: %w", err)
	}
	sql := fmt.Sprintf(`SELECT %s, %s, %s FROM %s WHERE %s = $1 AND %s @> $2`,
		entityIDColumn, entityCreatedColumn, metadataColumnName, tableName, entityTypeColumn, metadataColumnName)
	values := []any{discriminator, predicateJSON}
	if orderByField != "" {
		direction := "ASC"
		if descending {
			direction = "DESC"
		}
		sql += fmt.Sprintf(` ORDER BY %s->$3 %s`, metadataColumnName, direction)
		values = append(values, orderByField)
	}
	return &BackendQuery{SQL: sql, Values: values}, nil
}

// PostgresJSONQueryMultiple builds an OR-of-containments query for batched
// any-of-these-shapes lookups. At least one predicate object is mandatory;
// the empty form fails before any storage call is made.
func PostgresJSONQueryMultiple(tableName, discriminator string, predicates ...map[string]any) (*BackendQuery, error) {
	if len(predicates) == 0 {
		return nil, fmt.Errorf("%w: multi-entity queries require at least 1 query object", ErrInvalidInput)
	}
	values := []any{discriminator}
	clauses := make([]string, 0, len(predicates))
	for i, predicate := range predicates {
		predicateJSON, err := json.Marshal(predicate)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal query predicate: %w", err)
		}
		clauses = append(clauses, fmt.Sprintf(`%s @> $%d`, metadataColumnName, i+2))
		values = append(values, predicateJSON)
	}
	sql := fmt.Sprintf(`SELECT %s, %s, %s FROM %s WHERE %s = $1 AND ( %s )`,
		entityIDColumn, entityCreatedColumn, metadataColumnName, tableName, entityTypeColumn,
		strings.Join(clauses, " OR "))
	return &BackendQuery{SQL: sql, Values: values}, nil
}
