package entitymeta

import (
	"errors"
	"fmt"
)

// Sentinel errors for the storage contract. Callers should test with
// errors.Is rather than comparing directly.
var (
	// ErrNotFound is returned by point lookups that match zero rows.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when an insert collides with an existing
	// (entity type, entity id) pair.
	ErrConflict = errors.New("entity already exists")

	// ErrUnsupported is returned for operations the active backend does not
	// implement, such as history queries.
	ErrUnsupported = errors.New("operation not supported by this provider")

	// ErrMisconfigured indicates a missing declaration, table mapping or
	// query resolver. It is always a deploy-time bug, never retried.
	ErrMisconfigured = errors.New("entity metadata misconfiguration")

	// ErrInvalidInput is returned when a caller-supplied argument fails
	// validation before any storage call is made.
	ErrInvalidInput = errors.New("invalid input")
)

// NotFoundError carries the type and identifier of a missed point lookup.
type NotFoundError struct {
	Type EntityType
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id %q not found", e.Type, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConflictError is returned when SetMetadata hits a duplicate key.
type ConflictError struct {
	Type EntityType
	ID   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s with id %q already exists", e.Type, e.ID)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// MisconfigurationError describes a missing declaration or registration for
// an entity type. These surface loudly: they mean a type was used before it
// was wired up.
type MisconfigurationError struct {
	Type   EntityType
	Detail string
}

func (e *MisconfigurationError) Error() string {
	return fmt.Sprintf("entity type %q: %s", e.Type, e.Detail)
}

func (e *MisconfigurationError) Is(target error) bool {
	return target == ErrMisconfigured
}

// IsNotFound reports whether err represents a point-lookup miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err represents a duplicate-insert conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
