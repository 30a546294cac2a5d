package domain

// ComputeDiff compares an override's baseline snapshot against the current
// global entity values, restricted to trackedFields. It returns one
// FieldChange per tracked field whose value differs under deep structural
// equality after normalization.
//
// The function is pure and deterministic: the output order is the
// trackedFields order, so identical inputs always yield an identical list. An
// explicit null and a missing key are distinct values and diff against each
// other. An empty tracked set or no differences yields an empty list, which
// callers read as "no notification needed".
func ComputeDiff(baseline, current FieldMap, trackedFields []string) ([]FieldChange, error) {
	changes := []FieldChange{}
	for _, field := range trackedFields {
		oldValue, oldPresent := baseline[field]
		newValue, newPresent := current[field]
		if !oldPresent && !newPresent {
			continue
		}

		normalizedOld, err := NormalizeValue(oldValue)
		if err != nil {
			return nil, err
		}
		normalizedNew, err := NormalizeValue(newValue)
		if err != nil {
			return nil, err
		}

		if oldPresent == newPresent && ValuesEqual(normalizedOld, normalizedNew) {
			continue
		}

		changes = append(changes, FieldChange{
			Field:    field,
			OldValue: normalizedOld,
			NewValue: normalizedNew,
			Removed:  !newPresent,
		})
	}
	return changes, nil
}
