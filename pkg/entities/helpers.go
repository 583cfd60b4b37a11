package entities

import (
	"fmt"
	"strconv"

	"github.com/platinummonkey/orgportal/pkg/entitymeta"
)

// asInt64 normalizes the numeric representations a payload value can arrive
// in. JSON decoding yields float64, fresh objects carry int64, and
// identifiers split into the record id come back as strings.
func asInt64(value any) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// asBool normalizes boolean payload values. SQLite hands back json booleans
// as 0/1 numbers.
func asBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case int64:
		return v != 0
	default:
		return false
	}
}

// asStringSlice normalizes list payload values: freshly built objects hold
// []string, decoded JSON holds []any.
func asStringSlice(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// asStringMap normalizes string-keyed map payload values: freshly built
// objects hold map[string]string, decoded JSON holds map[string]any.
func asStringMap(value any) map[string]string {
	switch v := value.(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for key, item := range v {
			if s, ok := item.(string); ok {
				out[key] = s
			}
		}
		return out
	default:
		return nil
	}
}

// unknownQueryError reports a fixed query shape the type's resolver does not
// recognize. Always a programming error in the caller.
func unknownQueryError(t entitymeta.EntityType, query entitymeta.FixedQuery) error {
	return fmt.Errorf("%w: %s has no fixed query %q", entitymeta.ErrInvalidInput, t, query.FixedQueryName())
}
