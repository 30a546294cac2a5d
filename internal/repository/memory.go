package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arudel/reconcile/internal/domain"
)

// MemoryStore is an in-memory implementation of the catalog, override and
// notification stores plus the TxRunner. It backs unit tests and the
// database-less dev mode. A single mutex guards all state, so InTx doubles as
// the per-override single-writer lock; note that a failed InTx body is not
// rolled back, which is acceptable for both uses.
type MemoryStore struct {
	mu            sync.Mutex
	entities      map[string]map[uuid.UUID]domain.GlobalEntity
	overrides     map[domain.OverrideRef]domain.ProjectOverride
	notifications map[uuid.UUID]domain.DiffNotification
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:      make(map[string]map[uuid.UUID]domain.GlobalEntity),
		overrides:     make(map[domain.OverrideRef]domain.ProjectOverride),
		notifications: make(map[uuid.UUID]domain.DiffNotification),
	}
}

type memoryTxKey struct{}

// InTx serializes the function body against all other store access.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memoryTxKey{}) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(context.WithValue(ctx, memoryTxKey{}, struct{}{}))
}

func (s *MemoryStore) acquire(ctx context.Context) func() {
	if ctx.Value(memoryTxKey{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// Catalog returns the in-memory CatalogRepository view.
func (s *MemoryStore) Catalog() CatalogRepository {
	return &memoryCatalogRepository{store: s}
}

// Overrides returns the in-memory OverrideRepository view.
func (s *MemoryStore) Overrides() OverrideRepository {
	return &memoryOverrideRepository{store: s}
}

// Notifications returns the in-memory NotificationRepository view.
func (s *MemoryStore) Notifications() NotificationRepository {
	return &memoryNotificationRepository{store: s}
}

type memoryCatalogRepository struct {
	store *MemoryStore
}

func (r *memoryCatalogRepository) Create(ctx context.Context, entity domain.GlobalEntity) (domain.GlobalEntity, error) {
	defer r.store.acquire(ctx)()
	byID, ok := r.store.entities[entity.EntityType]
	if !ok {
		byID = make(map[uuid.UUID]domain.GlobalEntity)
		r.store.entities[entity.EntityType] = byID
	}
	byID[entity.ID] = cloneGlobalEntity(entity)
	return entity, nil
}

func (r *memoryCatalogRepository) Get(ctx context.Context, entityType string, id uuid.UUID) (domain.GlobalEntity, error) {
	defer r.store.acquire(ctx)()
	entity, ok := r.store.entities[entityType][id]
	if !ok {
		return domain.GlobalEntity{}, domain.NewNotFoundError("global entity", id.String())
	}
	return cloneGlobalEntity(entity), nil
}

func (r *memoryCatalogRepository) List(ctx context.Context, entityType string) ([]domain.GlobalEntity, error) {
	defer r.store.acquire(ctx)()
	entities := []domain.GlobalEntity{}
	for _, entity := range r.store.entities[entityType] {
		entities = append(entities, cloneGlobalEntity(entity))
	}
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].CreatedAt.Equal(entities[j].CreatedAt) {
			return entities[i].ID.String() < entities[j].ID.String()
		}
		return entities[i].CreatedAt.Before(entities[j].CreatedAt)
	})
	return entities, nil
}

func (r *memoryCatalogRepository) Update(ctx context.Context, entity domain.GlobalEntity) (domain.GlobalEntity, error) {
	defer r.store.acquire(ctx)()
	stored, ok := r.store.entities[entity.EntityType][entity.ID]
	if !ok {
		return domain.GlobalEntity{}, domain.NewNotFoundError("global entity", entity.ID.String())
	}
	updated := stored.WithFields(entity.Fields)
	r.store.entities[entity.EntityType][entity.ID] = cloneGlobalEntity(updated)
	return updated, nil
}

func (r *memoryCatalogRepository) Delete(ctx context.Context, entityType string, id uuid.UUID) error {
	defer r.store.acquire(ctx)()
	if _, ok := r.store.entities[entityType][id]; !ok {
		return domain.NewNotFoundError("global entity", id.String())
	}
	delete(r.store.entities[entityType], id)
	return nil
}

type memoryOverrideRepository struct {
	store *MemoryStore
}

func (r *memoryOverrideRepository) Create(ctx context.Context, override domain.ProjectOverride) (domain.ProjectOverride, error) {
	defer r.store.acquire(ctx)()
	r.store.overrides[override.Ref()] = cloneOverride(override)
	return override, nil
}

func (r *memoryOverrideRepository) Get(ctx context.Context, ref domain.OverrideRef) (domain.ProjectOverride, error) {
	defer r.store.acquire(ctx)()
	override, ok := r.store.overrides[ref]
	if !ok {
		return domain.ProjectOverride{}, domain.NewNotFoundError("override", ref.String())
	}
	return cloneOverride(override), nil
}

func (r *memoryOverrideRepository) ListByGlobalEntity(ctx context.Context, entityType string, globalEntityID uuid.UUID) ([]domain.ProjectOverride, error) {
	defer r.store.acquire(ctx)()
	overrides := []domain.ProjectOverride{}
	for ref, override := range r.store.overrides {
		if ref.EntityType == entityType && ref.GlobalEntityID == globalEntityID {
			overrides = append(overrides, cloneOverride(override))
		}
	}
	sortOverrides(overrides)
	return overrides, nil
}

func (r *memoryOverrideRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]domain.ProjectOverride, error) {
	defer r.store.acquire(ctx)()
	overrides := []domain.ProjectOverride{}
	for ref, override := range r.store.overrides {
		if ref.ProjectID == projectID {
			overrides = append(overrides, cloneOverride(override))
		}
	}
	sortOverrides(overrides)
	return overrides, nil
}

// Lock is a no-op: the store mutex already serializes every writer.
func (r *memoryOverrideRepository) Lock(ctx context.Context, ref domain.OverrideRef) error {
	defer r.store.acquire(ctx)()
	if _, ok := r.store.overrides[ref]; !ok {
		return domain.NewNotFoundError("override", ref.String())
	}
	return nil
}

func (r *memoryOverrideRepository) AdvanceBaseline(ctx context.Context, ref domain.OverrideRef, advance domain.BaselineAdvance) error {
	defer r.store.acquire(ctx)()
	override, ok := r.store.overrides[ref]
	if !ok {
		return domain.NewNotFoundError("override", ref.String())
	}
	r.store.overrides[ref] = override.WithAdvancedBaseline(advance)
	return nil
}

func (r *memoryOverrideRepository) Delete(ctx context.Context, ref domain.OverrideRef) error {
	defer r.store.acquire(ctx)()
	if _, ok := r.store.overrides[ref]; !ok {
		return domain.NewNotFoundError("override", ref.String())
	}
	delete(r.store.overrides, ref)
	return nil
}

type memoryNotificationRepository struct {
	store *MemoryStore
}

func (r *memoryNotificationRepository) Create(ctx context.Context, notification domain.DiffNotification) (domain.DiffNotification, error) {
	defer r.store.acquire(ctx)()
	if notification.IsPending() {
		for _, existing := range r.store.notifications {
			if existing.IsPending() && existing.Ref() == notification.Ref() {
				return domain.DiffNotification{}, &domain.ConcurrentModificationError{Ref: notification.Ref()}
			}
		}
	}
	r.store.notifications[notification.ID] = cloneNotification(notification)
	return notification, nil
}

func (r *memoryNotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.DiffNotification, error) {
	defer r.store.acquire(ctx)()
	notification, ok := r.store.notifications[id]
	if !ok {
		return domain.DiffNotification{}, domain.NewNotFoundError("notification", id.String())
	}
	return cloneNotification(notification), nil
}

func (r *memoryNotificationRepository) GetPendingByOverride(ctx context.Context, ref domain.OverrideRef) (domain.DiffNotification, error) {
	defer r.store.acquire(ctx)()
	for _, notification := range r.store.notifications {
		if notification.IsPending() && notification.Ref() == ref {
			return cloneNotification(notification), nil
		}
	}
	return domain.DiffNotification{}, domain.NewNotFoundError("pending notification", ref.String())
}

func (r *memoryNotificationRepository) UpdateChanges(ctx context.Context, notification domain.DiffNotification) (domain.DiffNotification, error) {
	defer r.store.acquire(ctx)()
	stored, ok := r.store.notifications[notification.ID]
	if !ok || !stored.IsPending() {
		return domain.DiffNotification{}, domain.NewNotFoundError("pending notification", notification.ID.String())
	}
	updated, err := stored.WithChanges(notification.Changes)
	if err != nil {
		return domain.DiffNotification{}, err
	}
	r.store.notifications[notification.ID] = cloneNotification(updated)
	return updated, nil
}

func (r *memoryNotificationRepository) MarkResolved(ctx context.Context, notification domain.DiffNotification) error {
	defer r.store.acquire(ctx)()
	stored, ok := r.store.notifications[notification.ID]
	if !ok || !stored.IsPending() {
		return domain.NewNotFoundError("pending notification", notification.ID.String())
	}
	r.store.notifications[notification.ID] = cloneNotification(notification)
	return nil
}

func (r *memoryNotificationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.store.acquire(ctx)()
	if _, ok := r.store.notifications[id]; !ok {
		return domain.NewNotFoundError("notification", id.String())
	}
	delete(r.store.notifications, id)
	return nil
}

func (r *memoryNotificationRepository) ListPending(ctx context.Context, projectID uuid.UUID) ([]domain.DiffNotification, error) {
	defer r.store.acquire(ctx)()
	notifications := []domain.DiffNotification{}
	for _, notification := range r.store.notifications {
		if notification.IsPending() && notification.ProjectID == projectID {
			notifications = append(notifications, cloneNotification(notification))
		}
	}
	sortNotifications(notifications)
	return notifications, nil
}

func (r *memoryNotificationRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]domain.DiffNotification, error) {
	defer r.store.acquire(ctx)()
	notifications := []domain.DiffNotification{}
	for _, notification := range r.store.notifications {
		if notification.ProjectID == projectID {
			notifications = append(notifications, cloneNotification(notification))
		}
	}
	sortNotifications(notifications)
	return notifications, nil
}

func (r *memoryNotificationRepository) ListResolvedSince(ctx context.Context, since time.Time) ([]domain.DiffNotification, error) {
	defer r.store.acquire(ctx)()
	notifications := []domain.DiffNotification{}
	for _, notification := range r.store.notifications {
		if notification.ResolvedAt != nil && !notification.ResolvedAt.Before(since) {
			notifications = append(notifications, cloneNotification(notification))
		}
	}
	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].ResolvedAt.Before(*notifications[j].ResolvedAt)
	})
	return notifications, nil
}

func sortOverrides(overrides []domain.ProjectOverride) {
	sort.Slice(overrides, func(i, j int) bool {
		return overrides[i].Ref().String() < overrides[j].Ref().String()
	})
}

func sortNotifications(notifications []domain.DiffNotification) {
	sort.Slice(notifications, func(i, j int) bool {
		if notifications[i].CreatedAt.Equal(notifications[j].CreatedAt) {
			return notifications[i].ID.String() < notifications[j].ID.String()
		}
		return notifications[i].CreatedAt.Before(notifications[j].CreatedAt)
	})
}

func cloneGlobalEntity(entity domain.GlobalEntity) domain.GlobalEntity {
	entity.Fields = domain.CloneFieldMap(entity.Fields)
	return entity
}

func cloneOverride(override domain.ProjectOverride) domain.ProjectOverride {
	override.Baseline = domain.CloneFieldMap(override.Baseline)
	override.OverriddenFields = domain.CloneFieldMap(override.OverriddenFields)
	if override.Tracked != nil {
		tracked := make([]string, len(override.Tracked))
		copy(tracked, override.Tracked)
		override.Tracked = tracked
	}
	return override
}

func cloneNotification(notification domain.DiffNotification) domain.DiffNotification {
	if notification.Changes != nil {
		changes := make([]domain.FieldChange, len(notification.Changes))
		copy(changes, notification.Changes)
		notification.Changes = changes
	}
	if notification.ResolvedAt != nil {
		resolvedAt := *notification.ResolvedAt
		notification.ResolvedAt = &resolvedAt
	}
	return notification
}
