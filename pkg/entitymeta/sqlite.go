package entitymeta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// SQLiteBackendName is the backend key used for fixed-query registration.
const SQLiteBackendName = "sqlite"

// SQLiteOptions configures a SQLiteProvider.
type SQLiteOptions struct {
	DB             *sql.DB
	TableNames     map[EntityType]string
	Discriminators map[EntityType]string
}

// SQLiteProvider is the local-development backend. The payload column holds
// plain JSON text and containment is emulated with per-key json_extract
// equality, which covers every fixed-query shape the portal registers.
type SQLiteProvider struct {
	db             *sql.DB
	tableNames     map[EntityType]string
	discriminators map[EntityType]string

	helperMu      sync.RWMutex
	serializers   map[EntityType]SerializationHelper
	deserializers map[EntityType]DeserializationHelper
}

// NewSQLiteProvider creates a provider over an existing handle.
func NewSQLiteProvider(opts SQLiteOptions) (*SQLiteProvider, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("%w: a database handle is required", ErrInvalidInput)
	}
	tableNames := defaultTableNames()
	for t, name := range opts.TableNames {
		tableNames[t] = name
	}
	discriminators := defaultDiscriminators()
	for t, value := range opts.Discriminators {
		discriminators[t] = value
	}
	return &SQLiteProvider{
		db:             opts.DB,
		tableNames:     tableNames,
		discriminators: discriminators,
		serializers:    make(map[EntityType]SerializationHelper),
		deserializers:  make(map[EntityType]DeserializationHelper),
	}, nil
}

// OpenSQLite opens (or creates) a database file and wraps it in a provider.
// Use ":memory:" for throwaway stores.
func OpenSQLite(path string, opts SQLiteOptions) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	opts.DB = db
	provider, err := NewSQLiteProvider(opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	return provider, nil
}

func (p *SQLiteProvider) Name() string { return SQLiteBackendName }

func (p *SQLiteProvider) SupportsHistory() bool { return false }

// EnsureSchema creates the tables for every registered entity type.
func (p *SQLiteProvider) EnsureSchema(ctx context.Context) error {
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
				%s TIMESTAMP,
				%s TEXT NOT NULL,
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

func (p *SQLiteProvider) GetMetadata(ctx context.Context, t EntityType, id string) (*EntityMetadata, error) {
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
		WHERE %s = ? AND %s = ?`,
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

func (p *SQLiteProvider) SetMetadata(ctx context.Context, metadata *EntityMetadata) error {
	table, discriminator, payload, err := p.writePrerequisites(metadata)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s)
		VALUES (?, ?, ?, ?)`,
		table, entityTypeColumn, entityIDColumn, entityCreatedColumn, metadataColumnName)
	_, err = p.db.ExecContext(ctx, query, discriminator, metadata.EntityID, nullableTime(metadata.EntityCreated), string(payload))
	if isSQLiteDuplicateKey(err) {
		return &ConflictError{Type: metadata.EntityType, ID: metadata.EntityID}
	}
	if err != nil {
		return fmt.Errorf("failed to insert %s %q: %w", metadata.EntityType, metadata.EntityID, err)
	}
	return nil
}

func (p *SQLiteProvider) UpdateMetadata(ctx context.Context, metadata *EntityMetadata) error {
	table, discriminator, payload, err := p.writePrerequisites(metadata)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET %s = ?
		WHERE %s = ? AND %s = ?`,
		table, metadataColumnName, entityTypeColumn, entityIDColumn)
	if _, err := p.db.ExecContext(ctx, query, string(payload), discriminator, metadata.EntityID); err != nil {
		return fmt.Errorf("failed to update %s %q: %w", metadata.EntityType, metadata.EntityID, err)
	}
	return nil
}

func (p *SQLiteProvider) DeleteMetadata(ctx context.Context, metadata *EntityMetadata) error {
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
		WHERE %s = ? AND %s = ?`,
		table, entityTypeColumn, entityIDColumn)
	if _, err := p.db.ExecContext(ctx, query, discriminator, metadata.EntityID); err != nil {
		return fmt.Errorf("failed to delete %s %q: %w", metadata.EntityType, metadata.EntityID, err)
	}
	return nil
}

func (p *SQLiteProvider) ClearMetadataStore(ctx context.Context, t EntityType) error {
	table, err := p.tableName(t)
	if err != nil {
		return err
	}
	discriminator, err := p.discriminator(t)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, table, entityTypeColumn)
	if _, err := p.db.ExecContext(ctx, query, discriminator); err != nil {
		return fmt.Errorf("failed to clear %s store: %w", t, err)
	}
	return nil
}

func (p *SQLiteProvider) FixedQueryMetadata(ctx context.Context, t EntityType, query FixedQuery) ([]*EntityMetadata, error) {
	builder, err := lookupQueryBuilder(SQLiteBackendName, t)
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

func (p *SQLiteProvider) GetMetadataHistory(ctx context.Context, t EntityType, id string) ([]*EntityMetadata, error) {
	return nil, fmt.Errorf("%w: history is not kept by the sqlite provider", ErrUnsupported)
}

func (p *SQLiteProvider) SerializationHelper(t EntityType) (SerializationHelper, error) {
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
	p.helperMu.Lock()
	p.serializers[t] = helper
	p.helperMu.Unlock()
	return helper, nil
}

func (p *SQLiteProvider) DeserializationHelper(t EntityType) (DeserializationHelper, error) {
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

func (p *SQLiteProvider) Close() error {
	return p.db.Close()
}

// DB exposes the handle for health checks.
func (p *SQLiteProvider) DB() *sql.DB { return p.db }

func (p *SQLiteProvider) tableName(t EntityType) (string, error) {
	table, ok := p.tableNames[t]
	if !ok || table == "" {
		return "", &MisconfigurationError{Type: t, Detail: "no table name mapping provided"}
	}
	return table, nil
}

func (p *SQLiteProvider) discriminator(t EntityType) (string, error) {
	value, ok := p.discriminators[t]
	if !ok || value == "" {
		return "", &MisconfigurationError{Type: t, Detail: "no discriminator value mapping provided"}
	}
	return value, nil
}

func (p *SQLiteProvider) writePrerequisites(metadata *EntityMetadata) (table, discriminator string, payload []byte, err error) {
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

func isSQLiteDuplicateKey(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// Fixed-query construction helpers for the sqlite backend. Payload keys and
// order fields are bound through a '$.'||? path expression so that, like the
// postgres helpers, only table and column names are ever interpolated.

// SQLiteGetAllEntities selects every row of a type.
func SQLiteGetAllEntities(tableName, discriminator string) *BackendQuery {
	return &BackendQuery{
		SQL: fmt.Sprintf(`SELECT %s, %s, %s FROM %s WHERE %s = ?`,
			entityIDColumn, entityCreatedColumn, metadataColumnName, tableName, entityTypeColumn),
		Values: []any{discriminator},
	}
}

// SQLiteJSONQuery emulates payload containment with per-key equality.
func SQLiteJSONQuery(tableName, discriminator string, predicate map[string]any, orderByField string, descending bool) (*BackendQuery, error) {
	clause, values := sqliteContainmentClause(predicate)
	sql := fmt.Sprintf(`SELECT %s, %s, %s FROM %s WHERE %s = ?`,
		entityIDColumn, entityCreatedColumn, metadataColumnName, tableName, entityTypeColumn)
	allValues := append([]any{discriminator}, values...)
	if clause != "" {
		sql += " AND " + clause
	}
	if orderByField != "" {
		direction := "ASC"
		if descending {
			direction = "DESC"
		}
		sql += fmt.Sprintf(` ORDER BY json_extract(%s, '$.' || ?) %s`, metadataColumnName, direction)
		allValues = append(allValues, orderByField)
	}
	return &BackendQuery{SQL: sql, Values: allValues}, nil
}

// SQLiteJSONQueryMultiple is the OR-of-containments form. At least one
// predicate object is mandatory.
func SQLiteJSONQueryMultiple(tableName, discriminator string, predicates ...map[string]any) (*BackendQuery, error) {
	if len(predicates) == 0 {
		return nil, fmt.Errorf("%w: multi-entity queries require at least 1 query object", ErrInvalidInput)
	}
	values := []any{discriminator}
	groups := make([]string, 0, len(predicates))
	for _, predicate := range predicates {
		clause, clauseValues := sqliteContainmentClause(predicate)
		if clause == "" {
			continue
		}
		groups = append(groups, "( "+clause+" )")
		values = append(values, clauseValues...)
	}
	sql := fmt.Sprintf(`SELECT %s, %s, %s FROM %s WHERE %s = ? AND ( %s )`,
		entityIDColumn, entityCreatedColumn, metadataColumnName, tableName, entityTypeColumn,
		strings.Join(groups, " OR "))
	return &BackendQuery{SQL: sql, Values: values}, nil
}

func sqliteContainmentClause(predicate map[string]any) (string, []any) {
	keys := make([]string, 0, len(predicate))
	for key := range predicate {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	clauses := make([]string, 0, len(keys))
	values := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		clauses = append(clauses, fmt.Sprintf(`json_extract(%s, '$.' || ?) = ?`, metadataColumnName))
		values = append(values, key, predicate[key])
	}
	return strings.Join(clauses, " AND "), values
}
