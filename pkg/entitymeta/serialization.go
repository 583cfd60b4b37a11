package entitymeta

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Numbers are cast to strings when they carry identifiers: the storage
// representation of an entity id is always a string.

// coerceIDString renders an identifier property value as a string.
func coerceIDString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("%w: identifier value of type %T cannot be represented as a string", ErrInvalidInput, value)
	}
}

// makeSerializer builds the object-to-record mapping function for a
// declaration. Every property enumerated in the translation table is read
// from the object and renamed to its storage-level key; the identifier and
// creation-timestamp properties are split out as top-level record
// attributes instead of being embedded in the payload.
func makeSerializer(decl *Declaration) SerializationHelper {
	return func(obj FieldEntity) (*EntityMetadata, error) {
		if obj == nil {
			return nil, fmt.Errorf("%w: nil object", ErrInvalidInput)
		}
		values := obj.FieldValues()
		metadata := &EntityMetadata{
			EntityType: decl.Type,
			Fields:     make(map[string]any, len(decl.FieldMap)),
		}
		for property, storageKey := range decl.FieldMap {
			value, present := values[property]
			if !present {
				continue
			}
			if property == decl.IDProperty {
				id, err := coerceIDString(value)
				if err != nil {
					return nil, err
				}
				metadata.EntityID = id
				continue
			}
			if property == decl.CreatedProperty {
				if created, ok := asTime(value); ok {
					metadata.EntityCreated = &created
				}
				continue
			}
			if storageKey == Excluded {
				continue
			}
			metadata.Fields[storageKey] = normalizeFieldValue(value)
		}
		metadata.EntityFieldNames = sortedKeys(metadata.Fields)
		return metadata, nil
	}
}

// makeDeserializer builds the record-to-object mapping function for a
// declaration. Unknown payload fields are dropped for forward-compatible
// reads. Date-flagged properties are re-parsed opportunistically: a parse
// failure keeps the raw value rather than failing the whole read, so rows
// with already-corrupt data stay readable. That error is discarded here, on
// purpose, and nowhere else.
func makeDeserializer(decl *Declaration) DeserializationHelper {
	storageToProperty := make(map[string]string, len(decl.FieldMap))
	for property, storageKey := range decl.FieldMap {
		if storageKey != Excluded {
			storageToProperty[storageKey] = property
		}
	}
	dates := make(map[string]bool, len(decl.DateProperties))
	for _, property := range decl.DateProperties {
		dates[property] = true
	}
	return func(metadata *EntityMetadata) (FieldEntity, error) {
		if metadata == nil {
			return nil, fmt.Errorf("%w: nil metadata", ErrInvalidInput)
		}
		obj := decl.Factory()
		for storageKey, value := range metadata.Fields {
			property, known := storageToProperty[storageKey]
			if !known {
				continue
			}
			if dates[property] {
				if parsed, ok := reparseDate(value); ok {
					value = parsed
				}
			}
			obj.SetField(property, value)
		}
		obj.SetField(decl.IDProperty, metadata.EntityID)
		if decl.CreatedProperty != "" && metadata.EntityCreated != nil {
			obj.SetField(decl.CreatedProperty, *metadata.EntityCreated)
		}
		return obj, nil
	}
}

// normalizeFieldValue converts values into their storage representation.
// Timestamps are stored in RFC 3339 form so the payload stays plain JSON.
func normalizeFieldValue(value any) any {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if v == nil {
			return nil
		}
		return v.UTC().Format(time.RFC3339Nano)
	default:
		return value
	}
}

// reparseDate attempts to reconstitute a timestamp from its stored string
// form. The second return is false when the value should be kept as-is.
func reparseDate(value any) (time.Time, bool) {
	s, ok := value.(string)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999 -0700 MST", "2006-01-02"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func asTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, !v.IsZero()
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false
		}
		return *v, true
	case string:
		return reparseDate(v)
	default:
		return time.Time{}, false
	}
}

func sortedKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
