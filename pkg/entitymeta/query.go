package entitymeta

import (
	"fmt"
	"sync"
)

// FixedQuery is a named, parameterized query request. Entity packages
// define concrete query types and register a builder that resolves them for
// each backend.
type FixedQuery interface {
	// FixedQueryName identifies the query shape for diagnostics.
	FixedQueryName() string
}

// BackendQuery is an executable query for one backend: SQL text plus bound
// parameter values. Table and column names in the text come only from
// static declarations, never from user input; everything else is bound.
type BackendQuery struct {
	SQL    string
	Values []any
}

// QueryBuilder resolves a FixedQuery against a backend. tableName and
// discriminator come from the provider's (possibly overridden) mappings.
type QueryBuilder func(query FixedQuery, tableName, discriminator string) (*BackendQuery, error)

var (
	queryBuildersMu sync.RWMutex
	queryBuilders   = make(map[string]map[EntityType]QueryBuilder)
)

// RegisterQueryBuilder installs the fixed-query resolver for one entity
// type on one backend. Panics on duplicates: double registration means two
// packages are fighting over the same type.
func RegisterQueryBuilder(backend string, t EntityType, builder QueryBuilder) {
	if builder == nil {
		panic(fmt.Sprintf("entitymeta: nil query builder for %s/%s", backend, t))
	}
	queryBuildersMu.Lock()
	defer queryBuildersMu.Unlock()
	byType, ok := queryBuilders[backend]
	if !ok {
		byType = make(map[EntityType]QueryBuilder)
		queryBuilders[backend] = byType
	}
	if _, exists := byType[t]; exists {
		panic(fmt.Sprintf("entitymeta: query builder for %s/%s already registered", backend, t))
	}
	byType[t] = builder
}

// lookupQueryBuilder fails fast with ErrMisconfigured when a fixed query is
// used on a backend with no registered resolver for the type.
func lookupQueryBuilder(backend string, t EntityType) (QueryBuilder, error) {
	queryBuildersMu.RLock()
	defer queryBuildersMu.RUnlock()
	byType := queryBuilders[backend]
	builder, ok := byType[t]
	if !ok {
		return nil, &MisconfigurationError{Type: t, Detail: fmt.Sprintf("no fixed-query resolver registered for backend %q", backend)}
	}
	return builder, nil
}
