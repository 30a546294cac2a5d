package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FieldChange records one field whose global value diverged from an override's
// baseline. It is a value object embedded in a DiffNotification, never
// persisted on its own.
type FieldChange struct {
	Field    string `json:"field"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
	// Removed distinguishes a field dropped from the global entity from a
	// field explicitly set to null: both carry a nil NewValue.
	Removed bool `json:"removed,omitempty"`
}

// NotificationStatus captures the lifecycle state of a diff notification.
type NotificationStatus string

const (
	NotificationStatusPending  NotificationStatus = "pending"
	NotificationStatusAccepted NotificationStatus = "accepted"
	NotificationStatusIgnored  NotificationStatus = "ignored"
)

// ResolutionAction is the operator's decision on a pending notification.
type ResolutionAction string

const (
	ResolutionAccept ResolutionAction = "accept"
	ResolutionIgnore ResolutionAction = "ignore"
)

// ParseResolutionAction validates a wire-level action string.
func ParseResolutionAction(raw string) (ResolutionAction, error) {
	switch ResolutionAction(raw) {
	case ResolutionAccept:
		return ResolutionAccept, nil
	case ResolutionIgnore:
		return ResolutionIgnore, nil
	default:
		return "", fmt.Errorf("invalid resolution action %q", raw)
	}
}

// Status returns the terminal status a resolution action moves a pending
// notification into.
func (a ResolutionAction) Status() NotificationStatus {
	if a == ResolutionAccept {
		return NotificationStatusAccepted
	}
	return NotificationStatusIgnored
}

// DiffNotification records a detected divergence between a global entity and
// one override's baseline, pending operator resolution. At most one pending
// notification exists per override; accepted and ignored are terminal and the
// record is never mutated after leaving pending.
type DiffNotification struct {
	ID             uuid.UUID          `json:"id"`
	ProjectID      uuid.UUID          `json:"project_id"`
	EntityType     string             `json:"entity_type"`
	GlobalEntityID uuid.UUID          `json:"global_entity_id"`
	Changes        []FieldChange      `json:"changes"`
	Status         NotificationStatus `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	ResolvedAt     *time.Time         `json:"resolved_at,omitempty"`
}

// NewDiffNotification creates a pending notification for the given override.
func NewDiffNotification(ref OverrideRef, changes []FieldChange) DiffNotification {
	now := time.Now()
	return DiffNotification{
		ID:             uuid.New(),
		ProjectID:      ref.ProjectID,
		EntityType:     ref.EntityType,
		GlobalEntityID: ref.GlobalEntityID,
		Changes:        changes,
		Status:         NotificationStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Ref returns the identity of the override this notification belongs to.
func (n DiffNotification) Ref() OverrideRef {
	return OverrideRef{
		ProjectID:      n.ProjectID,
		EntityType:     n.EntityType,
		GlobalEntityID: n.GlobalEntityID,
	}
}

// IsPending reports whether the notification can still be resolved or updated.
func (n DiffNotification) IsPending() bool {
	return n.Status == NotificationStatusPending
}

// WithChanges returns a copy carrying a recomputed change list. Only pending
// notifications may be updated this way.
func (n DiffNotification) WithChanges(changes []FieldChange) (DiffNotification, error) {
	if !n.IsPending() {
		return DiffNotification{}, fmt.Errorf("cannot update changes of %s notification %s", n.Status, n.ID)
	}
	updated := n
	updated.Changes = changes
	updated.UpdatedAt = time.Now()
	return updated, nil
}

// Resolved returns a copy moved into the terminal status for the action.
func (n DiffNotification) Resolved(action ResolutionAction) (DiffNotification, error) {
	if !n.IsPending() {
		return DiffNotification{}, NewNotFoundError("pending notification", n.ID.String())
	}
	now := time.Now()
	resolved := n
	resolved.Status = action.Status()
	resolved.UpdatedAt = now
	resolved.ResolvedAt = &now
	return resolved, nil
}

// BaselineAdvance describes how an override's baseline moves when a
// notification is resolved: fields to set to their new global value and
// fields to delete because the global entity no longer carries them.
type BaselineAdvance struct {
	Set     FieldMap
	Removed []string
}

// Empty reports whether the advance changes nothing.
func (a BaselineAdvance) Empty() bool {
	return len(a.Set) == 0 && len(a.Removed) == 0
}

// BaselineAdvance returns the baseline movement this notification's
// resolution applies. Both accept and ignore advance the baseline so the same
// stale diff is not raised again; removed fields are deleted from the
// baseline rather than nulled, so a removal does not keep diffing against a
// missing key.
func (n DiffNotification) BaselineAdvance() BaselineAdvance {
	advance := BaselineAdvance{Set: FieldMap{}}
	for _, change := range n.Changes {
		if change.Removed {
			advance.Removed = append(advance.Removed, change.Field)
			continue
		}
		advance.Set[change.Field] = change.NewValue
	}
	return advance
}

// ChangesToJSON marshals the change list into the JSONB layout stored in Postgres.
func (n DiffNotification) ChangesToJSON() (json.RawMessage, error) {
	changes := n.Changes
	if changes == nil {
		changes = []FieldChange{}
	}
	return json.Marshal(changes)
}

// FieldChangesFromJSON unmarshals persisted change JSON into field changes.
func FieldChangesFromJSON(data []byte) ([]FieldChange, error) {
	if len(data) == 0 {
		return []FieldChange{}, nil
	}
	var changes []FieldChange
	if err := json.Unmarshal(data, &changes); err != nil {
		return nil, err
	}
	if changes == nil {
		changes = []FieldChange{}
	}
	return changes, nil
}
