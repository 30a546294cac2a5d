package domain

import (
	"reflect"
	"testing"
)

func TestComputeDiffDetectsChangedField(t *testing.T) {
	baseline := FieldMap{"price": 100, "leadTimeDays": 5}
	current := FieldMap{"price": 120, "leadTimeDays": 5}

	changes, err := ComputeDiff(baseline, current, []string{"price", "leadTimeDays"})
	if err != nil {
		t.Fatalf("unexpected diff error: %v", err)
	}

	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d: %+v", len(changes), changes)
	}
	if changes[0].Field != "price" {
		t.Errorf("expected price change, got %q", changes[0].Field)
	}
	if changes[0].OldValue != float64(100) {
		t.Errorf("expected normalized old value 100, got %#v", changes[0].OldValue)
	}
	if changes[0].NewValue != float64(120) {
		t.Errorf("expected normalized new value 120, got %#v", changes[0].NewValue)
	}
}

func TestComputeDiffIsDeterministic(t *testing.T) {
	baseline := FieldMap{"name": "Bolt M8", "price": 10, "unit": "pcs"}
	current := FieldMap{"name": "Bolt M8 zinc", "price": 12, "unit": "box"}
	tracked := []string{"name", "unit", "price"}

	first, err := ComputeDiff(baseline, current, tracked)
	if err != nil {
		t.Fatalf("unexpected diff error: %v", err)
	}

	for i := 0; i < 5; i++ {
		again, err := ComputeDiff(baseline, current, tracked)
		if err != nil {
			t.Fatalf("unexpected diff error on repeat %d: %v", i, err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("diff output changed between calls:\nfirst: %+v\nagain: %+v", first, again)
		}
	}

	expectedOrder := []string{"name", "unit", "price"}
	if len(first) != len(expectedOrder) {
		t.Fatalf("expected %d changes, got %d", len(expectedOrder), len(first))
	}
	for i, field := range expectedOrder {
		if first[i].Field != field {
			t.Errorf("change %d: expected field %q, got %q", i, field, first[i].Field)
		}
	}
}

func TestComputeDiffNormalizesNumericValues(t *testing.T) {
	baseline := FieldMap{"price": 100}
	current := FieldMap{"price": float64(100)}

	changes, err := ComputeDiff(baseline, current, []string{"price"})
	if err != nil {
		t.Fatalf("unexpected diff error: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("int and float64 of the same number must compare equal, got %+v", changes)
	}
}

func TestComputeDiffNullIsDistinctFromMissing(t *testing.T) {
	baseline := FieldMap{"notes": nil}
	current := FieldMap{}

	changes, err := ComputeDiff(baseline, current, []string{"notes"})
	if err != nil {
		t.Fatalf("unexpected diff error: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("explicit null vs missing key must diff, got %+v", changes)
	}

	// The same explicit null on both sides is equal.
	changes, err = ComputeDiff(FieldMap{"notes": nil}, FieldMap{"notes": nil}, []string{"notes"})
	if err != nil {
		t.Fatalf("unexpected diff error: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("null vs null must not diff, got %+v", changes)
	}
}

func TestComputeDiffMarksRemovedFields(t *testing.T) {
	baseline := FieldMap{"price": float64(100), "leadTimeDays": float64(5), "notes": "x"}
	current := FieldMap{"price": float64(100), "notes": nil}

	changes, err := ComputeDiff(baseline, current, []string{"price", "leadTimeDays", "notes"})
	if err != nil {
		t.Fatalf("unexpected diff error: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected a removal and a null change, got %+v", changes)
	}
	if changes[0].Field != "leadTimeDays" || !changes[0].Removed || changes[0].NewValue != nil {
		t.Errorf("dropped field must carry the removed marker, got %+v", changes[0])
	}
	// An explicit null is a value change, not a removal.
	if changes[1].Field != "notes" || changes[1].Removed {
		t.Errorf("explicit null must not be marked removed, got %+v", changes[1])
	}

	// A field added to the global entity is not a removal either.
	changes, err = ComputeDiff(FieldMap{}, FieldMap{"price": float64(100)}, []string{"price"})
	if err != nil {
		t.Fatalf("unexpected diff error: %v", err)
	}
	if len(changes) != 1 || changes[0].Removed {
		t.Fatalf("added field must diff without the removed marker, got %+v", changes)
	}
}

func TestComputeDiffDeepEquality(t *testing.T) {
	baseline := FieldMap{
		"dimensions": map[string]any{"length": 10, "width": 4},
		"tags":       []any{"steel", "m8"},
	}
	current := FieldMap{
		"dimensions": map[string]any{"length": float64(10), "width": float64(4)},
		"tags":       []any{"steel", "m8"},
	}

	changes, err := ComputeDiff(baseline, current, []string{"dimensions", "tags"})
	if err != nil {
		t.Fatalf("unexpected diff error: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("structurally equal nested values must not diff, got %+v", changes)
	}

	current["dimensions"] = map[string]any{"length": float64(10), "width": float64(5)}
	changes, err = ComputeDiff(baseline, current, []string{"dimensions", "tags"})
	if err != nil {
		t.Fatalf("unexpected diff error: %v", err)
	}
	if len(changes) != 1 || changes[0].Field != "dimensions" {
		t.Fatalf("expected single dimensions change, got %+v", changes)
	}
}

func TestComputeDiffIgnoresUntrackedFields(t *testing.T) {
	baseline := FieldMap{"price": 100, "description": "old"}
	current := FieldMap{"price": 100, "description": "new"}

	changes, err := ComputeDiff(baseline, current, []string{"price"})
	if err != nil {
		t.Fatalf("unexpected diff error: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("untracked fields must not produce changes, got %+v", changes)
	}
}

func TestComputeDiffEmptyTrackedFields(t *testing.T) {
	changes, err := ComputeDiff(FieldMap{"price": 1}, FieldMap{"price": 2}, nil)
	if err != nil {
		t.Fatalf("unexpected diff error: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("empty tracked set must yield empty diff, got %+v", changes)
	}
}
