package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/arudel/reconcile/internal/domain"
	"github.com/arudel/reconcile/internal/reconcile"
	"github.com/arudel/reconcile/internal/repository"
)

func newTestService(t *testing.T) (*Service, *reconcile.Coordinator, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	registry := domain.DefaultEntityTypeRegistry()
	coordinator := reconcile.NewCoordinator(registry, store.Overrides(), store.Notifications(), store)
	service := NewService(registry, store.Catalog(), store.Overrides(), coordinator)
	return service, coordinator, store
}

func TestCreateEntityRejectsUnknownType(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.CreateEntity(context.Background(), "warehouse", domain.FieldMap{"name": "A"})
	if !domain.IsUnsupportedEntityType(err) {
		t.Fatalf("expected UnsupportedEntityTypeError, got %v", err)
	}
}

func TestCreateEntityRejectsUndeclaredField(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.CreateEntity(context.Background(), domain.EntityTypeMaterial, domain.FieldMap{"colour": "red"})
	if err == nil {
		t.Fatalf("expected validation error for undeclared field")
	}
}

func TestUpdateEntityTriggersReconciliation(t *testing.T) {
	service, coordinator, _ := newTestService(t)
	ctx := context.Background()

	entity, err := service.CreateEntity(ctx, domain.EntityTypeMaterial, domain.FieldMap{"price": 100, "unit": "pcs"})
	if err != nil {
		t.Fatalf("failed to create entity: %v", err)
	}

	projectID := uuid.New()
	_, err = service.CreateOverride(ctx, projectID, domain.EntityTypeMaterial, entity.ID, domain.FieldMap{"price": 150}, nil, "planner")
	if err != nil {
		t.Fatalf("failed to create override: %v", err)
	}

	if _, err := service.UpdateEntity(ctx, domain.EntityTypeMaterial, entity.ID, domain.FieldMap{"price": 120, "unit": "pcs"}); err != nil {
		t.Fatalf("failed to update entity: %v", err)
	}

	pending, err := coordinator.ListPending(ctx, projectID)
	if err != nil {
		t.Fatalf("failed to list pending notifications: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending notification after update, got %d", len(pending))
	}
	if len(pending[0].Changes) != 1 || pending[0].Changes[0].Field != "price" {
		t.Fatalf("expected price change, got %+v", pending[0].Changes)
	}
}

type failingListener struct{}

func (failingListener) OnGlobalEntityChanged(context.Context, string, uuid.UUID, domain.FieldMap) error {
	return errors.New("listener down")
}

func (failingListener) OnOverrideRemoved(context.Context, domain.OverrideRef) error {
	return errors.New("listener down")
}

func TestUpdateEntityReportsCommittedWriteOnListenerFailure(t *testing.T) {
	store := repository.NewMemoryStore()
	registry := domain.DefaultEntityTypeRegistry()
	service := NewService(registry, store.Catalog(), store.Overrides(), failingListener{})
	ctx := context.Background()

	entity, err := service.CreateEntity(ctx, domain.EntityTypeMaterial, domain.FieldMap{"price": 100})
	if err != nil {
		t.Fatalf("failed to create entity: %v", err)
	}

	updated, err := service.UpdateEntity(ctx, domain.EntityTypeMaterial, entity.ID, domain.FieldMap{"price": 120})
	var reconcileErr *ReconciliationFailedError
	if !errors.As(err, &reconcileErr) {
		t.Fatalf("expected ReconciliationFailedError, got %v", err)
	}
	if updated.Fields["price"] != float64(120) {
		t.Errorf("the committed entity must be returned alongside the error, got %#v", updated.Fields)
	}

	// The write really committed despite the failed detection.
	stored, err := service.GetEntity(ctx, domain.EntityTypeMaterial, entity.ID)
	if err != nil {
		t.Fatalf("failed to reload entity: %v", err)
	}
	if stored.Fields["price"] != float64(120) {
		t.Errorf("update must persist even when the listener fails, got %#v", stored.Fields)
	}
}

func TestCreateOverrideCapturesBaseline(t *testing.T) {
	service, _, store := newTestService(t)
	ctx := context.Background()

	entity, err := service.CreateEntity(ctx, domain.EntityTypeSupplier, domain.FieldMap{"name": "Acme", "rating": 4})
	if err != nil {
		t.Fatalf("failed to create entity: %v", err)
	}

	projectID := uuid.New()
	override, err := service.CreateOverride(ctx, projectID, domain.EntityTypeSupplier, entity.ID, domain.FieldMap{"rating": 3}, []string{"rating"}, "buyer")
	if err != nil {
		t.Fatalf("failed to create override: %v", err)
	}

	if override.Baseline["rating"] != float64(4) {
		t.Errorf("baseline must snapshot the entity value, got %#v", override.Baseline["rating"])
	}
	if override.OverriddenFields["rating"] != float64(3) {
		t.Errorf("overridden value must be stored normalized, got %#v", override.OverriddenFields["rating"])
	}
	if override.CreatedBy != "buyer" {
		t.Errorf("expected creator metadata, got %q", override.CreatedBy)
	}

	stored, err := store.Overrides().Get(ctx, override.Ref())
	if err != nil {
		t.Fatalf("override not persisted: %v", err)
	}
	if stored.Baseline["name"] != "Acme" {
		t.Errorf("full baseline snapshot expected, got %#v", stored.Baseline)
	}
}

func TestCreateOverrideForMissingEntity(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.CreateOverride(context.Background(), uuid.New(), domain.EntityTypeMaterial, uuid.New(), nil, nil, "")
	if !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestDeleteEntityBlockedByOverride(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	entity, err := service.CreateEntity(ctx, domain.EntityTypeMaterial, domain.FieldMap{"price": 100})
	if err != nil {
		t.Fatalf("failed to create entity: %v", err)
	}
	if _, err := service.CreateOverride(ctx, uuid.New(), domain.EntityTypeMaterial, entity.ID, nil, nil, ""); err != nil {
		t.Fatalf("failed to create override: %v", err)
	}

	if err := service.DeleteEntity(ctx, domain.EntityTypeMaterial, entity.ID); err == nil {
		t.Fatalf("expected delete to be blocked while an override references the entity")
	}
}

func TestRemoveOverrideClearsPendingNotification(t *testing.T) {
	service, coordinator, _ := newTestService(t)
	ctx := context.Background()

	entity, err := service.CreateEntity(ctx, domain.EntityTypeMaterial, domain.FieldMap{"price": 100})
	if err != nil {
		t.Fatalf("failed to create entity: %v", err)
	}
	projectID := uuid.New()
	override, err := service.CreateOverride(ctx, projectID, domain.EntityTypeMaterial, entity.ID, domain.FieldMap{"price": 150}, nil, "")
	if err != nil {
		t.Fatalf("failed to create override: %v", err)
	}
	if _, err := service.UpdateEntity(ctx, domain.EntityTypeMaterial, entity.ID, domain.FieldMap{"price": 120}); err != nil {
		t.Fatalf("failed to update entity: %v", err)
	}

	if err := service.RemoveOverride(ctx, override.Ref()); err != nil {
		t.Fatalf("failed to remove override: %v", err)
	}

	pending, err := coordinator.ListPending(ctx, projectID)
	if err != nil {
		t.Fatalf("failed to list pending notifications: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("removing an override must clear its pending notification, got %d", len(pending))
	}
}
