package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OverrideRef identifies a project-local override of one global entity.
type OverrideRef struct {
	ProjectID      uuid.UUID `json:"project_id"`
	EntityType     string    `json:"entity_type"`
	GlobalEntityID uuid.UUID `json:"global_entity_id"`
}

func (r OverrideRef) String() string {
	return fmt.Sprintf("%s/%s/%s", r.ProjectID, r.EntityType, r.GlobalEntityID)
}

// ProjectOverride holds a project's customization of a global entity. Baseline
// is the snapshot of the global entity's values as of the last reconciliation;
// it is advanced only by the reconciliation coordinator when a notification is
// resolved. OverriddenFields are the operator-chosen local values and are never
// touched by the engine.
type ProjectOverride struct {
	ProjectID        uuid.UUID `json:"project_id"`
	EntityType       string    `json:"entity_type"`
	GlobalEntityID   uuid.UUID `json:"global_entity_id"`
	Baseline         FieldMap  `json:"baseline"`
	OverriddenFields FieldMap  `json:"overridden_fields"`
	Tracked          []string  `json:"tracked_fields,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	CreatedBy        string    `json:"created_by"`
}

// NewProjectOverride creates an override whose baseline is captured from the
// current global entity values.
func NewProjectOverride(projectID uuid.UUID, entity GlobalEntity, overridden FieldMap, createdBy string) ProjectOverride {
	return ProjectOverride{
		ProjectID:        projectID,
		EntityType:       entity.EntityType,
		GlobalEntityID:   entity.ID,
		Baseline:         CloneFieldMap(entity.Fields),
		OverriddenFields: CloneFieldMap(overridden),
		CreatedAt:        time.Now(),
		CreatedBy:        createdBy,
	}
}

// Ref returns the identity triple of this override.
func (o ProjectOverride) Ref() OverrideRef {
	return OverrideRef{
		ProjectID:      o.ProjectID,
		EntityType:     o.EntityType,
		GlobalEntityID: o.GlobalEntityID,
	}
}

// TrackedFields returns the ordered field names the engine compares for this
// override. An explicit tracked set restricts comparison to those declared
// fields; otherwise every declared field of the entity type is tracked.
// Ordering always follows the descriptor's declaration order so diff output is
// deterministic.
func (o ProjectOverride) TrackedFields(descriptor EntityTypeDescriptor) []string {
	if len(o.Tracked) == 0 {
		out := make([]string, len(descriptor.DeclaredFields))
		copy(out, descriptor.DeclaredFields)
		return out
	}
	wanted := make(map[string]bool, len(o.Tracked))
	for _, field := range o.Tracked {
		wanted[field] = true
	}
	out := make([]string, 0, len(o.Tracked))
	for _, field := range descriptor.DeclaredFields {
		if wanted[field] {
			out = append(out, field)
		}
	}
	return out
}

// WithAdvancedBaseline returns a new override whose baseline entries are set
// to the advance's values, with removed fields deleted from the baseline.
// Applying the same advance twice is a no-op, which makes recovery
// re-application safe.
func (o ProjectOverride) WithAdvancedBaseline(advance BaselineAdvance) ProjectOverride {
	baseline := CloneFieldMap(o.Baseline)
	for key, value := range advance.Set {
		baseline[key] = cloneValue(value)
	}
	for _, key := range advance.Removed {
		delete(baseline, key)
	}
	return ProjectOverride{
		ProjectID:        o.ProjectID,
		EntityType:       o.EntityType,
		GlobalEntityID:   o.GlobalEntityID,
		Baseline:         baseline,
		OverriddenFields: CloneFieldMap(o.OverriddenFields),
		Tracked:          o.Tracked,
		CreatedAt:        o.CreatedAt,
		CreatedBy:        o.CreatedBy,
	}
}

// WithOverriddenField returns a new override with one local field value set.
func (o ProjectOverride) WithOverriddenField(key string, value any) ProjectOverride {
	overridden := CloneFieldMap(o.OverriddenFields)
	overridden[key] = value
	return ProjectOverride{
		ProjectID:        o.ProjectID,
		EntityType:       o.EntityType,
		GlobalEntityID:   o.GlobalEntityID,
		Baseline:         CloneFieldMap(o.Baseline),
		OverriddenFields: overridden,
		Tracked:          o.Tracked,
		CreatedAt:        o.CreatedAt,
		CreatedBy:        o.CreatedBy,
	}
}
