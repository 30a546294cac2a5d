package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// FieldMap holds the named field values of a catalog entity or an override
// baseline. Values follow JSON semantics: numbers are float64, nested data is
// map[string]any / []any.
type FieldMap map[string]any

// CloneFieldMap creates a deep copy of a field map so callers can mutate the
// result without aliasing stored state.
func CloneFieldMap(fields FieldMap) FieldMap {
	if fields == nil {
		return FieldMap{}
	}
	out := make(FieldMap, len(fields))
	for key, value := range fields {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			out[k] = cloneValue(v)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, v := range typed {
			out[i] = cloneValue(v)
		}
		return out
	default:
		return typed
	}
}

// NormalizeFieldMap canonicalizes a field map through a JSON round trip so
// that equivalent values compare equal regardless of how they were produced
// (int vs float64, typed structs vs maps). A nil value survives normalization
// as an explicit null, which is distinct from a missing key.
func NormalizeFieldMap(fields FieldMap) (FieldMap, error) {
	if fields == nil {
		return FieldMap{}, nil
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize field map: %w", err)
	}
	var normalized FieldMap
	if err := json.Unmarshal(encoded, &normalized); err != nil {
		return nil, fmt.Errorf("failed to normalize field map: %w", err)
	}
	if normalized == nil {
		normalized = FieldMap{}
	}
	return normalized, nil
}

// NormalizeValue canonicalizes a single field value the same way
// NormalizeFieldMap canonicalizes a whole map.
func NormalizeValue(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(encoded, &normalized); err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	return normalized, nil
}

// ValuesEqual reports structural equality between two already-normalized
// values. Nested maps and slices compare element-wise, not by reference.
func ValuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// FieldMapToJSONB marshals a field map into the JSONB layout stored in Postgres.
func FieldMapToJSONB(fields FieldMap) (json.RawMessage, error) {
	if fields == nil {
		fields = FieldMap{}
	}
	return json.Marshal(fields)
}

// FieldMapFromJSONB unmarshals persisted JSONB data into a field map.
func FieldMapFromJSONB(data json.RawMessage) (FieldMap, error) {
	if len(data) == 0 {
		return FieldMap{}, nil
	}
	var fields FieldMap
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = FieldMap{}
	}
	return fields, nil
}
