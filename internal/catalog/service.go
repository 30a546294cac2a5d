package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/arudel/reconcile/internal/domain"
	"github.com/arudel/reconcile/internal/repository"
)

// ReconciliationFailedError reports that a catalog write committed but the
// follow-up change detection failed. Detection is idempotent, so callers
// retry it (or wait for the next write) without repeating the entity update.
type ReconciliationFailedError struct {
	Err error
}

func (e *ReconciliationFailedError) Error() string {
	return fmt.Sprintf("entity updated but reconciliation failed: %v", e.Err)
}

func (e *ReconciliationFailedError) Unwrap() error {
	return e.Err
}

// ChangeListener receives catalog lifecycle events. The reconciliation
// coordinator implements it.
type ChangeListener interface {
	OnGlobalEntityChanged(ctx context.Context, entityType string, globalEntityID uuid.UUID, current domain.FieldMap) error
	OnOverrideRemoved(ctx context.Context, ref domain.OverrideRef) error
}

// Service manages the shared global catalog: materials, suppliers and BOM
// items. Writes are validated against the entity type registry and emit a
// changed event towards the reconciliation engine.
type Service struct {
	registry    *domain.EntityTypeRegistry
	catalogRepo repository.CatalogRepository
	overrides   repository.OverrideRepository
	listener    ChangeListener
}

// NewService creates a new catalog service.
func NewService(
	registry *domain.EntityTypeRegistry,
	catalogRepo repository.CatalogRepository,
	overrides repository.OverrideRepository,
	listener ChangeListener,
) *Service {
	return &Service{
		registry:    registry,
		catalogRepo: catalogRepo,
		overrides:   overrides,
		listener:    listener,
	}
}

func (s *Service) validateFields(descriptor domain.EntityTypeDescriptor, fields domain.FieldMap) error {
	declared := make(map[string]bool, len(descriptor.DeclaredFields))
	for _, field := range descriptor.DeclaredFields {
		declared[field] = true
	}
	for field := range fields {
		if !declared[field] {
			return fmt.Errorf("field %q is not declared for entity type %q", field, descriptor.Name)
		}
	}
	return nil
}

// CreateEntity adds a new global catalog entity.
func (s *Service) CreateEntity(ctx context.Context, entityType string, fields domain.FieldMap) (domain.GlobalEntity, error) {
	descriptor, err := s.registry.Get(entityType)
	if err != nil {
		return domain.GlobalEntity{}, err
	}
	if err := s.validateFields(descriptor, fields); err != nil {
		return domain.GlobalEntity{}, err
	}

	normalized, err := domain.NormalizeFieldMap(fields)
	if err != nil {
		return domain.GlobalEntity{}, err
	}
	return s.catalogRepo.Create(ctx, domain.NewGlobalEntity(entityType, normalized))
}

// GetEntity fetches one global catalog entity.
func (s *Service) GetEntity(ctx context.Context, entityType string, id uuid.UUID) (domain.GlobalEntity, error) {
	if _, err := s.registry.Get(entityType); err != nil {
		return domain.GlobalEntity{}, err
	}
	return s.catalogRepo.Get(ctx, entityType, id)
}

// ListEntities lists all global catalog entities of one type.
func (s *Service) ListEntities(ctx context.Context, entityType string) ([]domain.GlobalEntity, error) {
	if _, err := s.registry.Get(entityType); err != nil {
		return nil, err
	}
	return s.catalogRepo.List(ctx, entityType)
}

// UpdateEntity replaces an entity's field values and notifies the
// reconciliation engine. The write commits first; a failed notification can
// be retried safely because change detection is idempotent.
func (s *Service) UpdateEntity(ctx context.Context, entityType string, id uuid.UUID, fields domain.FieldMap) (domain.GlobalEntity, error) {
	descriptor, err := s.registry.Get(entityType)
	if err != nil {
		return domain.GlobalEntity{}, err
	}
	if err := s.validateFields(descriptor, fields); err != nil {
		return domain.GlobalEntity{}, err
	}

	normalized, err := domain.NormalizeFieldMap(fields)
	if err != nil {
		return domain.GlobalEntity{}, err
	}

	entity, err := s.catalogRepo.Get(ctx, entityType, id)
	if err != nil {
		return domain.GlobalEntity{}, err
	}

	updated, err := s.catalogRepo.Update(ctx, entity.WithFields(normalized))
	if err != nil {
		return domain.GlobalEntity{}, err
	}

	if s.listener != nil {
		if err := s.listener.OnGlobalEntityChanged(ctx, entityType, id, updated.Fields); err != nil {
			return updated, &ReconciliationFailedError{Err: err}
		}
	}
	return updated, nil
}

// DeleteEntity removes a catalog entity. Entities referenced by an override
// are never destroyed.
func (s *Service) DeleteEntity(ctx context.Context, entityType string, id uuid.UUID) error {
	if _, err := s.registry.Get(entityType); err != nil {
		return err
	}

	referencing, err := s.overrides.ListByGlobalEntity(ctx, entityType, id)
	if err != nil {
		return fmt.Errorf("failed to check override references: %w", err)
	}
	if len(referencing) > 0 {
		return fmt.Errorf("entity %s is referenced by %d override(s) and cannot be deleted", id, len(referencing))
	}
	return s.catalogRepo.Delete(ctx, entityType, id)
}

// CreateOverride captures a project-local customization of a global entity.
// The baseline snapshot is taken from the entity's current values.
func (s *Service) CreateOverride(ctx context.Context, projectID uuid.UUID, entityType string, globalEntityID uuid.UUID, overridden domain.FieldMap, tracked []string, createdBy string) (domain.ProjectOverride, error) {
	descriptor, err := s.registry.Get(entityType)
	if err != nil {
		return domain.ProjectOverride{}, err
	}
	if err := s.validateFields(descriptor, overridden); err != nil {
		return domain.ProjectOverride{}, err
	}

	entity, err := s.catalogRepo.Get(ctx, entityType, globalEntityID)
	if err != nil {
		return domain.ProjectOverride{}, err
	}

	normalized, err := domain.NormalizeFieldMap(overridden)
	if err != nil {
		return domain.ProjectOverride{}, err
	}

	override := domain.NewProjectOverride(projectID, entity, normalized, createdBy)
	override.Tracked = tracked
	return s.overrides.Create(ctx, override)
}

// RemoveOverride drops a project's customization of a global entity along
// with any pending notification for it.
func (s *Service) RemoveOverride(ctx context.Context, ref domain.OverrideRef) error {
	if err := s.overrides.Delete(ctx, ref); err != nil {
		return err
	}
	if s.listener != nil {
		return s.listener.OnOverrideRemoved(ctx, ref)
	}
	return nil
}
