package reconcile

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arudel/reconcile/internal/domain"
	"github.com/arudel/reconcile/internal/repository"
)

const lockStripes = 64

// Coordinator orchestrates the reconciliation flow: global entity changes in,
// diff notifications out, and operator resolutions back onto the override
// baselines. It holds no state between calls, so every operation is safe to
// re-invoke after a failure.
type Coordinator struct {
	registry      *domain.EntityTypeRegistry
	overrides     repository.OverrideRepository
	notifications repository.NotificationRepository
	lifecycle     *Lifecycle
	tx            repository.TxRunner

	// Striped per-override locks give the single-writer discipline the
	// engine requires even when the storage layer cannot row-lock.
	locks [lockStripes]sync.Mutex
}

// NewCoordinator creates a reconciliation coordinator.
func NewCoordinator(
	registry *domain.EntityTypeRegistry,
	overrides repository.OverrideRepository,
	notifications repository.NotificationRepository,
	tx repository.TxRunner,
) *Coordinator {
	return &Coordinator{
		registry:      registry,
		overrides:     overrides,
		notifications: notifications,
		lifecycle:     NewLifecycle(notifications),
		tx:            tx,
	}
}

func (c *Coordinator) lockFor(ref domain.OverrideRef) *sync.Mutex {
	hasher := fnv.New32a()
	hasher.Write([]byte(ref.String()))
	return &c.locks[hasher.Sum32()%lockStripes]
}

// OnGlobalEntityChanged is the sole entry point triggered by catalog
// mutations. It diffs the new global values against every override's stored
// baseline and opens, updates or clears the pending notification per
// override. Calling it twice with the same values is idempotent. Overrides
// are processed independently; one failing override does not stop the rest.
func (c *Coordinator) OnGlobalEntityChanged(ctx context.Context, entityType string, globalEntityID uuid.UUID, current domain.FieldMap) error {
	descriptor, err := c.registry.Get(entityType)
	if err != nil {
		return err
	}

	normalized, err := domain.NormalizeFieldMap(current)
	if err != nil {
		return err
	}

	overrides, err := c.overrides.ListByGlobalEntity(ctx, entityType, globalEntityID)
	if err != nil {
		return domain.NewStorageError("list overrides", err)
	}

	var failures []error
	for _, override := range overrides {
		if err := c.reconcileOverride(ctx, descriptor, override.Ref(), normalized); err != nil {
			failures = append(failures, fmt.Errorf("override %s: %w", override.Ref(), err))
		}
	}
	return errors.Join(failures...)
}

func (c *Coordinator) reconcileOverride(ctx context.Context, descriptor domain.EntityTypeDescriptor, ref domain.OverrideRef, current domain.FieldMap) error {
	lock := c.lockFor(ref)
	lock.Lock()
	defer lock.Unlock()

	return c.tx.InTx(ctx, func(ctx context.Context) error {
		if err := c.overrides.Lock(ctx, ref); err != nil {
			if domain.IsNotFound(err) {
				// Override removed between listing and locking.
				return nil
			}
			return err
		}

		// Re-read under the lock so the diff runs against the current baseline.
		override, err := c.overrides.Get(ctx, ref)
		if err != nil {
			return err
		}

		changes, err := domain.ComputeDiff(override.Baseline, current, override.TrackedFields(descriptor))
		if err != nil {
			return err
		}

		_, err = c.lifecycle.OpenOrUpdate(ctx, ref, changes)
		return err
	})
}

// OnOverrideRemoved clears the pending notification of an override that no
// longer exists.
func (c *Coordinator) OnOverrideRemoved(ctx context.Context, ref domain.OverrideRef) error {
	lock := c.lockFor(ref)
	lock.Lock()
	defer lock.Unlock()

	return c.tx.InTx(ctx, func(ctx context.Context) error {
		_, err := c.lifecycle.OpenOrUpdate(ctx, ref, nil)
		return err
	})
}

// AcceptNotification resolves the notification by adopting the new global
// values: the override's baseline advances to each change's new value and the
// notification becomes accepted. Clearing the override's own values for
// accepted fields is the surrounding application's concern.
func (c *Coordinator) AcceptNotification(ctx context.Context, id uuid.UUID) error {
	return c.resolveNotification(ctx, id, domain.ResolutionAccept)
}

// IgnoreNotification resolves the notification while keeping the local
// override values. The baseline still advances so the same stale diff is not
// surfaced again.
func (c *Coordinator) IgnoreNotification(ctx context.Context, id uuid.UUID) error {
	return c.resolveNotification(ctx, id, domain.ResolutionIgnore)
}

func (c *Coordinator) resolveNotification(ctx context.Context, id uuid.UUID, action domain.ResolutionAction) error {
	notification, err := c.notifications.GetByID(ctx, id)
	if err != nil {
		return err
	}
	ref := notification.Ref()

	lock := c.lockFor(ref)
	lock.Lock()
	defer lock.Unlock()

	// Status transition and baseline advance are one atomic unit: a crash
	// between them must not leave a resolved notification pointing at a
	// stale baseline.
	return c.tx.InTx(ctx, func(ctx context.Context) error {
		if err := c.overrides.Lock(ctx, ref); err != nil {
			return err
		}

		resolved, err := c.lifecycle.Resolve(ctx, id, action)
		if err != nil {
			return err
		}

		advance := resolved.BaselineAdvance()
		if advance.Empty() {
			return nil
		}
		return c.overrides.AdvanceBaseline(ctx, ref, advance)
	})
}

// ResolutionResult reports the outcome of one item in a batch resolution.
type ResolutionResult struct {
	NotificationID uuid.UUID                 `json:"notification_id"`
	Status         domain.NotificationStatus `json:"status,omitempty"`
	Error          string                    `json:"error,omitempty"`
}

// AcceptAll resolves every pending notification of a project with accept.
func (c *Coordinator) AcceptAll(ctx context.Context, projectID uuid.UUID) ([]ResolutionResult, error) {
	return c.resolveAll(ctx, projectID, domain.ResolutionAccept)
}

// IgnoreAll resolves every pending notification of a project with ignore.
func (c *Coordinator) IgnoreAll(ctx context.Context, projectID uuid.UUID) ([]ResolutionResult, error) {
	return c.resolveAll(ctx, projectID, domain.ResolutionIgnore)
}

// resolveAll applies the action per item with partial-failure semantics: each
// item's outcome is reported independently and one failure never blocks the
// others.
func (c *Coordinator) resolveAll(ctx context.Context, projectID uuid.UUID, action domain.ResolutionAction) ([]ResolutionResult, error) {
	pending, err := c.notifications.ListPending(ctx, projectID)
	if err != nil {
		return nil, domain.NewStorageError("list pending notifications", err)
	}

	results := make([]ResolutionResult, 0, len(pending))
	for _, notification := range pending {
		result := ResolutionResult{NotificationID: notification.ID}
		if err := c.resolveNotification(ctx, notification.ID, action); err != nil {
			result.Error = err.Error()
		} else {
			result.Status = action.Status()
		}
		results = append(results, result)
	}
	return results, nil
}

// ListPending returns a project's pending notifications for the surrounding
// UI/API layer.
func (c *Coordinator) ListPending(ctx context.Context, projectID uuid.UUID) ([]domain.DiffNotification, error) {
	return c.notifications.ListPending(ctx, projectID)
}

// RecoverBaselines is the startup compensating re-check for storage layers
// that could not make resolution atomic: every notification resolved since
// the given time has its baseline advance re-applied. Advancing to a value
// the baseline already holds is a no-op, so recovery is idempotent.
func (c *Coordinator) RecoverBaselines(ctx context.Context, since time.Time) (int, error) {
	resolved, err := c.notifications.ListResolvedSince(ctx, since)
	if err != nil {
		return 0, domain.NewStorageError("list resolved notifications", err)
	}

	recovered := 0
	for _, notification := range resolved {
		advance := notification.BaselineAdvance()
		if advance.Empty() {
			continue
		}
		ref := notification.Ref()

		lock := c.lockFor(ref)
		lock.Lock()
		err := c.tx.InTx(ctx, func(ctx context.Context) error {
			if err := c.overrides.Lock(ctx, ref); err != nil {
				if domain.IsNotFound(err) {
					// Override deleted since resolution, nothing to repair.
					return nil
				}
				return err
			}
			return c.overrides.AdvanceBaseline(ctx, ref, advance)
		})
		lock.Unlock()
		if err != nil {
			log.Printf("[RECONCILE] failed to recover baseline for notification %s: %v", notification.ID, err)
			continue
		}
		recovered++
	}
	return recovered, nil
}
