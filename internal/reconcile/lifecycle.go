package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/arudel/reconcile/internal/domain"
	"github.com/arudel/reconcile/internal/repository"
)

// Lifecycle owns diff notification records and their state machine:
// pending --accept--> accepted, pending --ignore--> ignored, and
// pending --recomputed(empty diff)--> deleted. Terminal states never change.
// It enforces the single-pending-per-override invariant itself so callers
// never need de-duplication checks.
type Lifecycle struct {
	notifications repository.NotificationRepository
}

// NewLifecycle creates a notification lifecycle over the given store.
func NewLifecycle(notifications repository.NotificationRepository) *Lifecycle {
	return &Lifecycle{notifications: notifications}
}

// OpenOrUpdate creates a pending notification for the override, or replaces
// the change list of the existing pending one. Replacing is lossless because
// changes are always recomputed against the same unmutated baseline. An empty
// change list deletes any existing pending notification and returns nil.
func (l *Lifecycle) OpenOrUpdate(ctx context.Context, ref domain.OverrideRef, changes []domain.FieldChange) (*domain.DiffNotification, error) {
	existing, err := l.notifications.GetPendingByOverride(ctx, ref)
	hasPending := err == nil
	if err != nil && !domain.IsNotFound(err) {
		return nil, fmt.Errorf("failed to look up pending notification: %w", err)
	}

	if len(changes) == 0 {
		if hasPending {
			if err := l.notifications.Delete(ctx, existing.ID); err != nil && !domain.IsNotFound(err) {
				return nil, fmt.Errorf("failed to delete obsolete notification: %w", err)
			}
		}
		return nil, nil
	}

	if hasPending {
		updated, err := existing.WithChanges(changes)
		if err != nil {
			return nil, err
		}
		stored, err := l.notifications.UpdateChanges(ctx, updated)
		if err != nil {
			return nil, fmt.Errorf("failed to update pending notification: %w", err)
		}
		return &stored, nil
	}

	created, err := l.notifications.Create(ctx, domain.NewDiffNotification(ref, changes))
	if err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	return &created, nil
}

// Resolve moves a pending notification into the terminal status for the
// action and returns it, carrying the field changes the coordinator needs to
// advance the override's baseline. Resolving an absent or already-resolved
// notification fails with NotFoundError.
func (l *Lifecycle) Resolve(ctx context.Context, id uuid.UUID, action domain.ResolutionAction) (domain.DiffNotification, error) {
	notification, err := l.notifications.GetByID(ctx, id)
	if err != nil {
		return domain.DiffNotification{}, err
	}
	if !notification.IsPending() {
		return domain.DiffNotification{}, domain.NewNotFoundError("pending notification", id.String())
	}

	resolved, err := notification.Resolved(action)
	if err != nil {
		return domain.DiffNotification{}, err
	}
	if err := l.notifications.MarkResolved(ctx, resolved); err != nil {
		return domain.DiffNotification{}, err
	}
	return resolved, nil
}
