package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arudel/reconcile/internal/db"
	"github.com/arudel/reconcile/internal/domain"
)

const uniqueViolationCode = "23505"

// notificationRepository implements NotificationRepository on Postgres
type notificationRepository struct {
	conn *db.Connection
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(conn *db.Connection) NotificationRepository {
	return &notificationRepository{conn: conn}
}

func (r *notificationRepository) Create(ctx context.Context, notification domain.DiffNotification) (domain.DiffNotification, error) {
	changesJSON, err := notification.ChangesToJSON()
	if err != nil {
		return domain.DiffNotification{}, fmt.Errorf("failed to marshal changes: %w", err)
	}

	row := r.conn.Querier(ctx).QueryRow(ctx, `
		INSERT INTO diff_notifications (id, project_id, entity_type, global_entity_id, changes, status, created_at, updated_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, project_id, entity_type, global_entity_id, changes, status, created_at, updated_at, resolved_at`,
		notification.ID, notification.ProjectID, notification.EntityType, notification.GlobalEntityID,
		changesJSON, notification.Status, notification.CreatedAt, notification.UpdatedAt, notification.ResolvedAt,
	)

	created, err := scanDiffNotification(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			// A racing writer created the pending notification first.
			return domain.DiffNotification{}, &domain.ConcurrentModificationError{Ref: notification.Ref()}
		}
		return domain.DiffNotification{}, fmt.Errorf("failed to create notification: %w", err)
	}
	return created, nil
}

func (r *notificationRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.DiffNotification, error) {
	row := r.conn.Querier(ctx).QueryRow(ctx, `
		SELECT id, project_id, entity_type, global_entity_id, changes, status, created_at, updated_at, resolved_at
		FROM diff_notifications
		WHERE id = $1`,
		id,
	)

	notification, err := scanDiffNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DiffNotification{}, domain.NewNotFoundError("notification", id.String())
		}
		return domain.DiffNotification{}, fmt.Errorf("failed to get notification: %w", err)
	}
	return notification, nil
}

func (r *notificationRepository) GetPendingByOverride(ctx context.Context, ref domain.OverrideRef) (domain.DiffNotification, error) {
	row := r.conn.Querier(ctx).QueryRow(ctx, `
		SELECT id, project_id, entity_type, global_entity_id, changes, status, created_at, updated_at, resolved_at
		FROM diff_notifications
		WHERE project_id = $1 AND entity_type = $2 AND global_entity_id = $3 AND status = 'pending'`,
		ref.ProjectID, ref.EntityType, ref.GlobalEntityID,
	)

	notification, err := scanDiffNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DiffNotification{}, domain.NewNotFoundError("pending notification", ref.String())
		}
		return domain.DiffNotification{}, fmt.Errorf("failed to get pending notification: %w", err)
	}
	return notification, nil
}

func (r *notificationRepository) UpdateChanges(ctx context.Context, notification domain.DiffNotification) (domain.DiffNotification, error) {
	changesJSON, err := notification.ChangesToJSON()
	if err != nil {
		return domain.DiffNotification{}, fmt.Errorf("failed to marshal changes: %w", err)
	}

	row := r.conn.Querier(ctx).QueryRow(ctx, `
		UPDATE diff_notifications
		SET changes = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING id, project_id, entity_type, global_entity_id, changes, status, created_at, updated_at, resolved_at`,
		notification.ID, changesJSON,
	)

	updated, err := scanDiffNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DiffNotification{}, domain.NewNotFoundError("pending notification", notification.ID.String())
		}
		return domain.DiffNotification{}, fmt.Errorf("failed to update notification changes: %w", err)
	}
	return updated, nil
}

func (r *notificationRepository) MarkResolved(ctx context.Context, notification domain.DiffNotification) error {
	tag, err := r.conn.Querier(ctx).Exec(ctx, `
		UPDATE diff_notifications
		SET status = $2, updated_at = $3, resolved_at = $4
		WHERE id = $1 AND status = 'pending'`,
		notification.ID, notification.Status, notification.UpdatedAt, notification.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark notification resolved: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("pending notification", notification.ID.String())
	}
	return nil
}

func (r *notificationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn.Querier(ctx).Exec(ctx, `
		DELETE FROM diff_notifications
		WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("notification", id.String())
	}
	return nil
}

func (r *notificationRepository) ListPending(ctx context.Context, projectID uuid.UUID) ([]domain.DiffNotification, error) {
	rows, err := r.conn.Querier(ctx).Query(ctx, `
		SELECT id, project_id, entity_type, global_entity_id, changes, status, created_at, updated_at, resolved_at
		FROM diff_notifications
		WHERE project_id = $1 AND status = 'pending'
		ORDER BY created_at, id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending notifications: %w", err)
	}
	defer rows.Close()

	return collectNotifications(rows)
}

func (r *notificationRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]domain.DiffNotification, error) {
	rows, err := r.conn.Querier(ctx).Query(ctx, `
		SELECT id, project_id, entity_type, global_entity_id, changes, status, created_at, updated_at, resolved_at
		FROM diff_notifications
		WHERE project_id = $1
		ORDER BY created_at, id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	return collectNotifications(rows)
}

func (r *notificationRepository) ListResolvedSince(ctx context.Context, since time.Time) ([]domain.DiffNotification, error) {
	rows, err := r.conn.Querier(ctx).Query(ctx, `
		SELECT id, project_id, entity_type, global_entity_id, changes, status, created_at, updated_at, resolved_at
		FROM diff_notifications
		WHERE resolved_at IS NOT NULL AND resolved_at >= $1
		ORDER BY resolved_at, id`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list resolved notifications: %w", err)
	}
	defer rows.Close()

	return collectNotifications(rows)
}

func collectNotifications(rows pgx.Rows) ([]domain.DiffNotification, error) {
	notifications := []domain.DiffNotification{}
	for rows.Next() {
		notification, err := scanDiffNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, notification)
	}
	return notifications, rows.Err()
}

func scanDiffNotification(row pgx.Row) (domain.DiffNotification, error) {
	var (
		notification domain.DiffNotification
		changesJSON  json.RawMessage
		status       string
	)
	if err := row.Scan(
		&notification.ID, &notification.ProjectID, &notification.EntityType, &notification.GlobalEntityID,
		&changesJSON, &status, &notification.CreatedAt, &notification.UpdatedAt, &notification.ResolvedAt,
	); err != nil {
		return domain.DiffNotification{}, err
	}

	changes, err := domain.FieldChangesFromJSON(changesJSON)
	if err != nil {
		return domain.DiffNotification{}, fmt.Errorf("failed to unmarshal changes: %w", err)
	}
	notification.Changes = changes
	notification.Status = domain.NotificationStatus(status)
	return notification, nil
}
