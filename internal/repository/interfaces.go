package repository

import (
	"context"
	"time"

	"github.com/arudel/reconcile/internal/domain"

	"github.com/google/uuid"
)

// TxRunner executes a function inside one atomic storage unit. Repository
// calls made through the derived context join the same transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CatalogRepository defines the interface for global catalog entity operations
type CatalogRepository interface {
	Create(ctx context.Context, entity domain.GlobalEntity) (domain.GlobalEntity, error)
	Get(ctx context.Context, entityType string, id uuid.UUID) (domain.GlobalEntity, error)
	List(ctx context.Context, entityType string) ([]domain.GlobalEntity, error)
	Update(ctx context.Context, entity domain.GlobalEntity) (domain.GlobalEntity, error)
	Delete(ctx context.Context, entityType string, id uuid.UUID) error
}

// OverrideRepository is the Override Store adapter. It owns the project-scoped
// override rows; the engine reads them and advances baselines but never
// designs their storage.
type OverrideRepository interface {
	Create(ctx context.Context, override domain.ProjectOverride) (domain.ProjectOverride, error)
	Get(ctx context.Context, ref domain.OverrideRef) (domain.ProjectOverride, error)
	ListByGlobalEntity(ctx context.Context, entityType string, globalEntityID uuid.UUID) ([]domain.ProjectOverride, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]domain.ProjectOverride, error)
	// Lock acquires the single-writer lock for one override within the
	// ambient transaction. Reads and writes of the override's baseline and
	// its pending notification happen under this lock.
	Lock(ctx context.Context, ref domain.OverrideRef) error
	AdvanceBaseline(ctx context.Context, ref domain.OverrideRef, advance domain.BaselineAdvance) error
	Delete(ctx context.Context, ref domain.OverrideRef) error
}

// NotificationRepository stores diff notifications and their change lists.
type NotificationRepository interface {
	Create(ctx context.Context, notification domain.DiffNotification) (domain.DiffNotification, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.DiffNotification, error)
	GetPendingByOverride(ctx context.Context, ref domain.OverrideRef) (domain.DiffNotification, error)
	UpdateChanges(ctx context.Context, notification domain.DiffNotification) (domain.DiffNotification, error)
	MarkResolved(ctx context.Context, notification domain.DiffNotification) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListPending(ctx context.Context, projectID uuid.UUID) ([]domain.DiffNotification, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]domain.DiffNotification, error)
	// ListResolvedSince returns notifications resolved at or after the given
	// time, used by the startup recovery pass to re-apply baseline advances.
	ListResolvedSince(ctx context.Context, since time.Time) ([]domain.DiffNotification, error)
}
