package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/arudel/reconcile/internal/domain"
	"github.com/arudel/reconcile/internal/repository"
)

type testEnv struct {
	store       *repository.MemoryStore
	coordinator *Coordinator
	projectID   uuid.UUID
	entity      domain.GlobalEntity
	ref         domain.OverrideRef
}

// newTestEnv seeds a material with baseline {price: 100, leadTimeDays: 5} and
// one override that locally sets price to 150.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := repository.NewMemoryStore()
	registry := domain.DefaultEntityTypeRegistry()
	coordinator := NewCoordinator(registry, store.Overrides(), store.Notifications(), store)

	ctx := context.Background()
	entity := domain.NewGlobalEntity(domain.EntityTypeMaterial, domain.FieldMap{
		"price":        float64(100),
		"leadTimeDays": float64(5),
	})
	if _, err := store.Catalog().Create(ctx, entity); err != nil {
		t.Fatalf("failed to seed entity: %v", err)
	}

	projectID := uuid.New()
	override := domain.NewProjectOverride(projectID, entity, domain.FieldMap{"price": float64(150)}, "planner")
	override.Tracked = []string{"price", "leadTimeDays"}
	if _, err := store.Overrides().Create(ctx, override); err != nil {
		t.Fatalf("failed to seed override: %v", err)
	}

	return &testEnv{
		store:       store,
		coordinator: coordinator,
		projectID:   projectID,
		entity:      entity,
		ref:         override.Ref(),
	}
}

func (e *testEnv) globalChange(t *testing.T, fields domain.FieldMap) {
	t.Helper()
	err := e.coordinator.OnGlobalEntityChanged(context.Background(), e.entity.EntityType, e.entity.ID, fields)
	if err != nil {
		t.Fatalf("unexpected reconciliation error: %v", err)
	}
}

func (e *testEnv) pending(t *testing.T) []domain.DiffNotification {
	t.Helper()
	pending, err := e.coordinator.ListPending(context.Background(), e.projectID)
	if err != nil {
		t.Fatalf("failed to list pending notifications: %v", err)
	}
	return pending
}

func (e *testEnv) override(t *testing.T) domain.ProjectOverride {
	t.Helper()
	override, err := e.store.Overrides().Get(context.Background(), e.ref)
	if err != nil {
		t.Fatalf("failed to load override: %v", err)
	}
	return override
}

func TestPriceChangeRaisesSinglePendingNotification(t *testing.T) {
	env := newTestEnv(t)

	env.globalChange(t, domain.FieldMap{"price": float64(120), "leadTimeDays": float64(5)})

	pending := env.pending(t)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending notification, got %d", len(pending))
	}

	changes := pending[0].Changes
	if len(changes) != 1 {
		t.Fatalf("expected 1 field change, got %+v", changes)
	}
	if changes[0].Field != "price" {
		t.Errorf("expected price change, got %q", changes[0].Field)
	}
	if changes[0].OldValue != float64(100) || changes[0].NewValue != float64(120) {
		t.Errorf("expected 100 -> 120, got %#v -> %#v", changes[0].OldValue, changes[0].NewValue)
	}
}

func TestDetectionIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	current := domain.FieldMap{"price": float64(120), "leadTimeDays": float64(5)}

	env.globalChange(t, current)
	first := env.pending(t)
	if len(first) != 1 {
		t.Fatalf("expected 1 pending notification, got %d", len(first))
	}

	env.globalChange(t, current)
	second := env.pending(t)
	if len(second) != 1 {
		t.Fatalf("redundant trigger must not stack notifications, got %d", len(second))
	}
	if second[0].ID != first[0].ID {
		t.Errorf("redundant trigger must keep the same notification, got %s then %s", first[0].ID, second[0].ID)
	}
}

func TestNoSpuriousNotification(t *testing.T) {
	env := newTestEnv(t)

	env.globalChange(t, domain.FieldMap{"price": float64(100), "leadTimeDays": float64(5)})
	if pending := env.pending(t); len(pending) != 0 {
		t.Fatalf("unchanged entity must not raise notifications, got %d", len(pending))
	}

	// A real change followed by a change back must clear the pending notification.
	env.globalChange(t, domain.FieldMap{"price": float64(120), "leadTimeDays": float64(5)})
	if pending := env.pending(t); len(pending) != 1 {
		t.Fatalf("expected pending notification after change, got %d", len(pending))
	}
	env.globalChange(t, domain.FieldMap{"price": float64(100), "leadTimeDays": float64(5)})
	if pending := env.pending(t); len(pending) != 0 {
		t.Fatalf("reverted entity must clear the pending notification, got %d", len(pending))
	}
}

func TestAcceptAdvancesBaseline(t *testing.T) {
	env := newTestEnv(t)
	current := domain.FieldMap{"price": float64(120), "leadTimeDays": float64(5)}

	env.globalChange(t, current)
	pending := env.pending(t)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending notification, got %d", len(pending))
	}

	if err := env.coordinator.AcceptNotification(context.Background(), pending[0].ID); err != nil {
		t.Fatalf("unexpected accept error: %v", err)
	}

	notification, err := env.store.Notifications().GetByID(context.Background(), pending[0].ID)
	if err != nil {
		t.Fatalf("failed to reload notification: %v", err)
	}
	if notification.Status != domain.NotificationStatusAccepted {
		t.Errorf("expected accepted status, got %s", notification.Status)
	}

	override := env.override(t)
	if override.Baseline["price"] != float64(120) {
		t.Errorf("expected baseline price 120 after accept, got %#v", override.Baseline["price"])
	}

	// Baseline now matches: the same global value must not re-alert.
	env.globalChange(t, current)
	if pending := env.pending(t); len(pending) != 0 {
		t.Fatalf("baseline-matching change must not re-alert, got %d pending", len(pending))
	}
}

func TestIgnoreAdvancesBaselineButKeepsOverride(t *testing.T) {
	env := newTestEnv(t)
	current := domain.FieldMap{"price": float64(120), "leadTimeDays": float64(5)}

	env.globalChange(t, current)
	pending := env.pending(t)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending notification, got %d", len(pending))
	}

	if err := env.coordinator.IgnoreNotification(context.Background(), pending[0].ID); err != nil {
		t.Fatalf("unexpected ignore error: %v", err)
	}

	notification, err := env.store.Notifications().GetByID(context.Background(), pending[0].ID)
	if err != nil {
		t.Fatalf("failed to reload notification: %v", err)
	}
	if notification.Status != domain.NotificationStatusIgnored {
		t.Errorf("expected ignored status, got %s", notification.Status)
	}

	override := env.override(t)
	if override.Baseline["price"] != float64(120) {
		t.Errorf("ignore must still advance the baseline, got %#v", override.Baseline["price"])
	}
	if override.OverriddenFields["price"] != float64(150) {
		t.Errorf("ignore must keep the local override value, got %#v", override.OverriddenFields["price"])
	}

	env.globalChange(t, current)
	if pending := env.pending(t); len(pending) != 0 {
		t.Fatalf("ignored divergence must not re-alert, got %d pending", len(pending))
	}
}

func TestSuccessiveChangesCollapseIntoOneNotification(t *testing.T) {
	env := newTestEnv(t)

	env.globalChange(t, domain.FieldMap{"price": float64(120), "leadTimeDays": float64(5)})
	env.globalChange(t, domain.FieldMap{"price": float64(130), "leadTimeDays": float64(5)})

	pending := env.pending(t)
	if len(pending) != 1 {
		t.Fatalf("successive changes must not stack notifications, got %d", len(pending))
	}

	changes := pending[0].Changes
	if len(changes) != 1 {
		t.Fatalf("expected 1 field change, got %+v", changes)
	}
	if changes[0].OldValue != float64(100) || changes[0].NewValue != float64(130) {
		t.Errorf("changes must reflect baseline(100) vs latest(130), got %#v -> %#v",
			changes[0].OldValue, changes[0].NewValue)
	}
}

func TestTerminalNotificationCannotBeResolvedAgain(t *testing.T) {
	env := newTestEnv(t)
	env.globalChange(t, domain.FieldMap{"price": float64(120), "leadTimeDays": float64(5)})

	pending := env.pending(t)
	if err := env.coordinator.AcceptNotification(context.Background(), pending[0].ID); err != nil {
		t.Fatalf("unexpected accept error: %v", err)
	}

	err := env.coordinator.IgnoreNotification(context.Background(), pending[0].ID)
	if !domain.IsNotFound(err) {
		t.Fatalf("resolving twice must fail with NotFoundError, got %v", err)
	}

	notification, err := env.store.Notifications().GetByID(context.Background(), pending[0].ID)
	if err != nil {
		t.Fatalf("failed to reload notification: %v", err)
	}
	if notification.Status != domain.NotificationStatusAccepted {
		t.Errorf("failed re-resolution must not alter status, got %s", notification.Status)
	}
	if len(notification.Changes) != 1 {
		t.Errorf("failed re-resolution must not alter stored changes, got %+v", notification.Changes)
	}
}

func TestUnknownEntityTypeIsRejected(t *testing.T) {
	env := newTestEnv(t)

	err := env.coordinator.OnGlobalEntityChanged(context.Background(), "warehouse", uuid.New(), domain.FieldMap{})
	if !domain.IsUnsupportedEntityType(err) {
		t.Fatalf("expected UnsupportedEntityTypeError, got %v", err)
	}
}

func TestResolveMissingNotification(t *testing.T) {
	env := newTestEnv(t)

	err := env.coordinator.AcceptNotification(context.Background(), uuid.New())
	if !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestAcceptAllReportsPartialFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Second override in the same project, on a second entity.
	other := domain.NewGlobalEntity(domain.EntityTypeMaterial, domain.FieldMap{"price": float64(40)})
	if _, err := env.store.Catalog().Create(ctx, other); err != nil {
		t.Fatalf("failed to seed entity: %v", err)
	}
	otherOverride := domain.NewProjectOverride(env.projectID, other, domain.FieldMap{"price": float64(45)}, "planner")
	otherOverride.Tracked = []string{"price"}
	if _, err := env.store.Overrides().Create(ctx, otherOverride); err != nil {
		t.Fatalf("failed to seed override: %v", err)
	}

	env.globalChange(t, domain.FieldMap{"price": float64(120), "leadTimeDays": float64(5)})
	if err := env.coordinator.OnGlobalEntityChanged(ctx, other.EntityType, other.ID, domain.FieldMap{"price": float64(50)}); err != nil {
		t.Fatalf("unexpected reconciliation error: %v", err)
	}

	if pending := env.pending(t); len(pending) != 2 {
		t.Fatalf("expected 2 pending notifications, got %d", len(pending))
	}

	// Drop the second override behind the engine's back so its resolution fails.
	if err := env.store.Overrides().Delete(ctx, otherOverride.Ref()); err != nil {
		t.Fatalf("failed to delete override: %v", err)
	}

	results, err := env.coordinator.AcceptAll(ctx, env.projectID)
	if err != nil {
		t.Fatalf("unexpected batch error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 per-item results, got %d", len(results))
	}

	succeeded, failed := 0, 0
	for _, result := range results {
		if result.Error == "" {
			succeeded++
			if result.Status != domain.NotificationStatusAccepted {
				t.Errorf("expected accepted status in result, got %s", result.Status)
			}
		} else {
			failed++
		}
	}
	if succeeded != 1 || failed != 1 {
		t.Fatalf("expected 1 success and 1 failure, got %d/%d: %+v", succeeded, failed, results)
	}

	// The surviving override must have been resolved despite the failure.
	override := env.override(t)
	if override.Baseline["price"] != float64(120) {
		t.Errorf("surviving override baseline must advance, got %#v", override.Baseline["price"])
	}
}

func TestRecoverBaselinesReappliesMissedAdvance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.globalChange(t, domain.FieldMap{"price": float64(120), "leadTimeDays": float64(5)})
	pending := env.pending(t)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending notification, got %d", len(pending))
	}

	// Simulate a crash between status transition and baseline advance by
	// resolving directly in the store.
	resolved, err := pending[0].Resolved(domain.ResolutionAccept)
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if err := env.store.Notifications().MarkResolved(ctx, resolved); err != nil {
		t.Fatalf("failed to mark resolved: %v", err)
	}
	if baseline := env.override(t).Baseline["price"]; baseline != float64(100) {
		t.Fatalf("precondition failed: baseline already advanced to %#v", baseline)
	}

	recovered, err := env.coordinator.RecoverBaselines(ctx, time.Time{})
	if err != nil {
		t.Fatalf("unexpected recovery error: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("expected 1 recovered notification, got %d", recovered)
	}
	if baseline := env.override(t).Baseline["price"]; baseline != float64(120) {
		t.Fatalf("recovery must re-apply the baseline advance, got %#v", baseline)
	}

	// Running recovery again is a no-op on the baseline.
	if _, err := env.coordinator.RecoverBaselines(ctx, time.Time{}); err != nil {
		t.Fatalf("unexpected repeat recovery error: %v", err)
	}
	if baseline := env.override(t).Baseline["price"]; baseline != float64(120) {
		t.Fatalf("repeat recovery must be idempotent, got %#v", baseline)
	}
}

func TestOverrideRemovalClearsPendingNotification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.globalChange(t, domain.FieldMap{"price": float64(120), "leadTimeDays": float64(5)})
	if pending := env.pending(t); len(pending) != 1 {
		t.Fatalf("expected 1 pending notification, got %d", len(pending))
	}

	if err := env.store.Overrides().Delete(ctx, env.ref); err != nil {
		t.Fatalf("failed to delete override: %v", err)
	}
	if err := env.coordinator.OnOverrideRemoved(ctx, env.ref); err != nil {
		t.Fatalf("unexpected cleanup error: %v", err)
	}
	if pending := env.pending(t); len(pending) != 0 {
		t.Fatalf("removed override must not keep pending notifications, got %d", len(pending))
	}
}

func TestResolutionOnlyTouchesItsOwnOverride(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Second project overriding the same entity.
	otherProject := uuid.New()
	otherOverride := domain.NewProjectOverride(otherProject, env.entity, domain.FieldMap{"leadTimeDays": float64(7)}, "buyer")
	otherOverride.Tracked = []string{"price", "leadTimeDays"}
	if _, err := env.store.Overrides().Create(ctx, otherOverride); err != nil {
		t.Fatalf("failed to seed override: %v", err)
	}

	env.globalChange(t, domain.FieldMap{"price": float64(120), "leadTimeDays": float64(5)})

	// Both projects got their own notification.
	first := env.pending(t)
	second, err := env.coordinator.ListPending(ctx, otherProject)
	if err != nil {
		t.Fatalf("failed to list pending notifications: %v", err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected one notification per project, got %d and %d", len(first), len(second))
	}

	if err := env.coordinator.AcceptNotification(ctx, first[0].ID); err != nil {
		t.Fatalf("unexpected accept error: %v", err)
	}

	untouched, err := env.store.Overrides().Get(ctx, otherOverride.Ref())
	if err != nil {
		t.Fatalf("failed to load other override: %v", err)
	}
	if untouched.Baseline["price"] != float64(100) {
		t.Errorf("other project's baseline must stay untouched, got %#v", untouched.Baseline["price"])
	}
	remaining, err := env.coordinator.ListPending(ctx, otherProject)
	if err != nil {
		t.Fatalf("failed to list pending notifications: %v", err)
	}
	if len(remaining) != 1 {
		t.Errorf("other project's notification must stay pending, got %d", len(remaining))
	}
}

func TestResolvedFieldRemovalDoesNotReAlert(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// leadTimeDays disappears from the global entity.
	removed := domain.FieldMap{"price": float64(100)}
	env.globalChange(t, removed)

	pending := env.pending(t)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending notification, got %d", len(pending))
	}
	change := pending[0].Changes[0]
	if change.Field != "leadTimeDays" || !change.Removed {
		t.Fatalf("expected leadTimeDays removal, got %+v", pending[0].Changes)
	}

	if err := env.coordinator.AcceptNotification(ctx, pending[0].ID); err != nil {
		t.Fatalf("unexpected accept error: %v", err)
	}

	// The baseline no longer carries the field at all.
	override := env.override(t)
	if value, ok := override.Baseline["leadTimeDays"]; ok {
		t.Fatalf("accepted removal must delete the baseline key, got %#v", value)
	}

	// Re-running detection with the identical state stays quiet.
	env.globalChange(t, removed)
	if remaining := env.pending(t); len(remaining) != 0 {
		t.Fatalf("accepted removal must not re-alert, got %+v", remaining)
	}
}

func TestIgnoredFieldRemovalDoesNotReAlert(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	removed := domain.FieldMap{"price": float64(100)}
	env.globalChange(t, removed)

	pending := env.pending(t)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending notification, got %d", len(pending))
	}
	if err := env.coordinator.IgnoreNotification(ctx, pending[0].ID); err != nil {
		t.Fatalf("unexpected ignore error: %v", err)
	}

	override := env.override(t)
	if _, ok := override.Baseline["leadTimeDays"]; ok {
		t.Fatalf("ignored removal must still delete the baseline key, got %#v", override.Baseline)
	}
	if override.OverriddenFields["price"] != float64(150) {
		t.Errorf("ignore must keep the local override, got %#v", override.OverriddenFields["price"])
	}

	env.globalChange(t, removed)
	if remaining := env.pending(t); len(remaining) != 0 {
		t.Fatalf("ignored removal must not re-alert, got %+v", remaining)
	}
}
