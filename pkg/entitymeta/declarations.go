package entitymeta

import (
	"fmt"
	"sort"
	"sync"
)

// Excluded marks a property that exists on the object but is never written
// to storage. Use it as the storage key in a Declaration's FieldMap.
const Excluded = ""

// Declaration statically describes how one entity type maps to storage. A
// declaration is defined once at process start and never mutated afterwards.
type Declaration struct {
	// Type is the discriminator this declaration describes.
	Type EntityType

	// IDProperty names the object property holding the identifier. Its
	// value is split out of the payload and coerced to a string.
	IDProperty string

	// CreatedProperty optionally names the property carried as the
	// record-level creation timestamp. Empty when the type has none.
	CreatedProperty string

	// TableName is the default table for this type. Providers may override
	// it at construction.
	TableName string

	// DiscriminatorValue is the default stored value distinguishing this
	// type's rows. Providers may override it at construction.
	DiscriminatorValue string

	// FieldMap translates object property names to storage-level keys. A
	// key of Excluded means the property is never stored; a property absent
	// from the map is not mapped at all.
	FieldMap map[string]string

	// DateProperties lists object properties that must be re-parsed as
	// timestamps on read.
	DateProperties []string

	// Factory instantiates a zero-valued typed object for deserialization.
	Factory func() FieldEntity
}

var (
	declarationsMu sync.RWMutex
	declarations   = make(map[EntityType]*Declaration)
)

// RegisterDeclaration installs a type's mapping declaration. It panics on a
// duplicate or structurally invalid declaration: both are programming
// errors that must fail the process at startup, not at first use.
func RegisterDeclaration(decl *Declaration) {
	if decl == nil {
		panic("entitymeta: nil declaration")
	}
	if decl.Type == "" {
		panic("entitymeta: declaration missing entity type")
	}
	if decl.IDProperty == "" {
		panic(fmt.Sprintf("entitymeta: declaration for %q missing id property", decl.Type))
	}
	if decl.TableName == "" {
		panic(fmt.Sprintf("entitymeta: declaration for %q missing table name", decl.Type))
	}
	if decl.DiscriminatorValue == "" {
		panic(fmt.Sprintf("entitymeta: declaration for %q missing discriminator value", decl.Type))
	}
	if decl.Factory == nil {
		panic(fmt.Sprintf("entitymeta: declaration for %q missing factory", decl.Type))
	}
	if _, mapped := decl.FieldMap[decl.IDProperty]; !mapped {
		panic(fmt.Sprintf("entitymeta: declaration for %q does not map its id property %q", decl.Type, decl.IDProperty))
	}
	declarationsMu.Lock()
	defer declarationsMu.Unlock()
	if _, exists := declarations[decl.Type]; exists {
		panic(fmt.Sprintf("entitymeta: declaration for %q already registered", decl.Type))
	}
	declarations[decl.Type] = decl
}

// GetDeclaration returns the declaration for a type, or ErrMisconfigured
// when none is registered.
func GetDeclaration(t EntityType) (*Declaration, error) {
	declarationsMu.RLock()
	defer declarationsMu.RUnlock()
	decl, ok := declarations[t]
	if !ok {
		return nil, &MisconfigurationError{Type: t, Detail: "no mapping declaration registered"}
	}
	return decl, nil
}

// RegisteredTypes returns the entity types with declarations, sorted for
// deterministic iteration (schema setup, defaults).
func RegisteredTypes() []EntityType {
	declarationsMu.RLock()
	defer declarationsMu.RUnlock()
	types := make([]EntityType, 0, len(declarations))
	for t := range declarations {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// defaultTableNames builds the type-to-table mapping from declarations.
func defaultTableNames() map[EntityType]string {
	declarationsMu.RLock()
	defer declarationsMu.RUnlock()
	names := make(map[EntityType]string, len(declarations))
	for t, decl := range declarations {
		names[t] = decl.TableName
	}
	return names
}

// defaultDiscriminators builds the type-to-discriminator mapping from
// declarations.
func defaultDiscriminators() map[EntityType]string {
	declarationsMu.RLock()
	defer declarationsMu.RUnlock()
	values := make(map[EntityType]string, len(declarations))
	for t, decl := range declarations {
		values[t] = decl.DiscriminatorValue
	}
	return values
}
