package entities

import (
	"context"
	"fmt"

	"github.com/platinummonkey/orgportal/pkg/entitymeta"
)

// storeBase carries the provider plumbing shared by every typed store:
// serializing domain objects into generic records, running fixed queries,
// and converting results back. The helpers themselves are cached inside the
// provider; the base only fails loudly when a type was never declared.
type storeBase struct {
	provider entitymeta.Provider
	typ      entitymeta.EntityType
}

func newStoreBase(provider entitymeta.Provider, typ entitymeta.EntityType) storeBase {
	return storeBase{provider: provider, typ: typ}
}

// serialize maps a typed object to its storage record.
func (b *storeBase) serialize(obj entitymeta.FieldEntity) (*entitymeta.EntityMetadata, error) {
	helper, err := b.provider.SerializationHelper(b.typ)
	if err != nil {
		return nil, err
	}
	return helper(obj)
}

// deserialize maps a storage record back to a typed object.
func (b *storeBase) deserialize(metadata *entitymeta.EntityMetadata) (entitymeta.FieldEntity, error) {
	helper, err := b.provider.DeserializationHelper(b.typ)
	if err != nil {
		return nil, err
	}
	return helper(metadata)
}

// get fetches one record by identifier and converts it.
func (b *storeBase) get(ctx context.Context, id string) (entitymeta.FieldEntity, error) {
	metadata, err := b.provider.GetMetadata(ctx, b.typ, id)
	if err != nil {
		return nil, err
	}
	return b.deserialize(metadata)
}

// insert serializes and stores a new record. Existing identifiers fail with
// ErrConflict.
func (b *storeBase) insert(ctx context.Context, obj entitymeta.FieldEntity) error {
	metadata, err := b.serialize(obj)
	if err != nil {
		return err
	}
	return b.provider.SetMetadata(ctx, metadata)
}

// update serializes and overwrites a record. Missing records are a silent
// no-op by provider contract.
func (b *storeBase) update(ctx context.Context, obj entitymeta.FieldEntity) error {
	metadata, err := b.serialize(obj)
	if err != nil {
		return err
	}
	return b.provider.UpdateMetadata(ctx, metadata)
}

// remove serializes and deletes a record, silently succeeding when absent.
func (b *storeBase) remove(ctx context.Context, obj entitymeta.FieldEntity) error {
	metadata, err := b.serialize(obj)
	if err != nil {
		return err
	}
	return b.provider.DeleteMetadata(ctx, metadata)
}

// query runs a fixed query and converts every row. A row that fails to
// convert aborts the whole call: partial result sets hide data corruption.
func (b *storeBase) query(ctx context.Context, q entitymeta.FixedQuery) ([]entitymeta.FieldEntity, error) {
	records, err := b.provider.FixedQueryMetadata(ctx, b.typ, q)
	if err != nil {
		return nil, err
	}
	objects := make([]entitymeta.FieldEntity, 0, len(records))
	for _, record := range records {
		obj, err := b.deserialize(record)
		if err != nil {
			return nil, fmt.Errorf("deserializing %s %q from query %q: %w", b.typ, record.EntityID, q.FixedQueryName(), err)
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// clear drops every record of the store's type.
func (b *storeBase) clear(ctx context.Context) error {
	return b.provider.ClearMetadataStore(ctx, b.typ)
}
