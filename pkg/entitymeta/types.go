package entitymeta

import (
	"context"
	"time"
)

// EntityType is the closed-set discriminator identifying a category of
// persisted record. New types must be registered with RegisterDeclaration
// before any provider touches them.
type EntityType string

const (
	TypeRepositoryMetadata  EntityType = "repositorymetadata"
	TypeTeamJoinRequest     EntityType = "teamjoinrequest"
	TypeAuditRecord         EntityType = "auditlogrecord"
	TypeOrganizationSetting EntityType = "organizationsetting"
)

// EntityMetadata is the generic storage record. The identifier is always a
// string, even when the domain value is numeric. Fields holds the opaque
// payload keyed by storage-level names.
type EntityMetadata struct {
	EntityType       EntityType
	EntityID         string
	EntityFieldNames []string
	EntityCreated    *time.Time
	Fields           map[string]any
}

// FieldEntity is implemented by every domain object persisted through a
// provider. Implementations enumerate and assign properties with explicit
// switches; the layer never uses reflection.
type FieldEntity interface {
	// FieldValues returns the object's properties keyed by property name.
	FieldValues() map[string]any

	// SetField assigns one property by name. Unknown names are ignored so
	// that reads stay forward-compatible with older binaries.
	SetField(name string, value any)
}

// SerializationHelper converts a domain object into a generic metadata
// record according to the type's declaration.
type SerializationHelper func(obj FieldEntity) (*EntityMetadata, error)

// DeserializationHelper converts a generic metadata record back into a
// freshly instantiated domain object.
type DeserializationHelper func(metadata *EntityMetadata) (FieldEntity, error)

// Provider is the uniform persistence contract over a storage backend. The
// provider exclusively owns its connection pool; callers never manage
// individual connections.
type Provider interface {
	// Name identifies the backend ("postgres", "sqlite") for fixed-query
	// resolution and diagnostics.
	Name() string

	// SupportsHistory reports whether GetMetadataHistory is implemented.
	SupportsHistory() bool

	// GetMetadata looks up exactly one record. Returns ErrNotFound when no
	// row matches and ErrInvalidInput when id is empty.
	GetMetadata(ctx context.Context, t EntityType, id string) (*EntityMetadata, error)

	// SetMetadata inserts a new record. Insert-only: a record with the same
	// (type, id) already present fails with ErrConflict.
	SetMetadata(ctx context.Context, metadata *EntityMetadata) error

	// UpdateMetadata overwrites the stored payload for an existing record.
	// A zero-row match is a silent no-op; callers must not rely on update
	// to detect missing rows.
	UpdateMetadata(ctx context.Context, metadata *EntityMetadata) error

	// DeleteMetadata removes the matching record, silently succeeding when
	// it is absent.
	DeleteMetadata(ctx context.Context, metadata *EntityMetadata) error

	// ClearMetadataStore removes all records of a type. Used by full
	// resync/rebuild flows.
	ClearMetadataStore(ctx context.Context, t EntityType) error

	// FixedQueryMetadata resolves and executes a named query for this
	// backend. Ordering is query-defined.
	FixedQueryMetadata(ctx context.Context, t EntityType, query FixedQuery) ([]*EntityMetadata, error)

	// GetMetadataHistory returns prior revisions of a record, or
	// ErrUnsupported when the backend keeps no history.
	GetMetadataHistory(ctx context.Context, t EntityType, id string) ([]*EntityMetadata, error)

	// SerializationHelper returns the cached object-to-record mapping
	// function for a type, or ErrMisconfigured when the type has no
	// declaration.
	SerializationHelper(t EntityType) (SerializationHelper, error)

	// DeserializationHelper returns the cached record-to-object mapping
	// function for a type, or ErrMisconfigured when the type has no
	// declaration.
	DeserializationHelper(t EntityType) (DeserializationHelper, error)

	// Close releases the underlying pool.
	Close() error
}
