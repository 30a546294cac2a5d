package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arudel/reconcile/internal/db"
	"github.com/arudel/reconcile/internal/domain"
)

// overrideRepository implements OverrideRepository on Postgres
type overrideRepository struct {
	conn *db.Connection
}

// NewOverrideRepository creates a new override repository
func NewOverrideRepository(conn *db.Connection) OverrideRepository {
	return &overrideRepository{conn: conn}
}

func (r *overrideRepository) Create(ctx context.Context, override domain.ProjectOverride) (domain.ProjectOverride, error) {
	baselineJSON, err := domain.FieldMapToJSONB(override.Baseline)
	if err != nil {
		return domain.ProjectOverride{}, fmt.Errorf("failed to marshal baseline: %w", err)
	}
	overriddenJSON, err := domain.FieldMapToJSONB(override.OverriddenFields)
	if err != nil {
		return domain.ProjectOverride{}, fmt.Errorf("failed to marshal overridden fields: %w", err)
	}
	tracked := override.Tracked
	if tracked == nil {
		tracked = []string{}
	}
	trackedJSON, err := json.Marshal(tracked)
	if err != nil {
		return domain.ProjectOverride{}, fmt.Errorf("failed to marshal tracked fields: %w", err)
	}

	row := r.conn.Querier(ctx).QueryRow(ctx, `
		INSERT INTO project_overrides (project_id, entity_type, global_entity_id, baseline, overridden_fields, tracked_fields, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING project_id, entity_type, global_entity_id, baseline, overridden_fields, tracked_fields, created_at, created_by`,
		override.ProjectID, override.EntityType, override.GlobalEntityID,
		baselineJSON, overriddenJSON, trackedJSON, override.CreatedAt, override.CreatedBy,
	)

	created, err := scanProjectOverride(row)
	if err != nil {
		return domain.ProjectOverride{}, fmt.Errorf("failed to create override: %w", err)
	}
	return created, nil
}

func (r *overrideRepository) Get(ctx context.Context, ref domain.OverrideRef) (domain.ProjectOverride, error) {
	row := r.conn.Querier(ctx).QueryRow(ctx, `
		SELECT project_id, entity_type, global_entity_id, baseline, overridden_fields, tracked_fields, created_at, created_by
		FROM project_overrides
		WHERE project_id = $1 AND entity_type = $2 AND global_entity_id = $3`,
		ref.ProjectID, ref.EntityType, ref.GlobalEntityID,
	)

	override, err := scanProjectOverride(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ProjectOverride{}, domain.NewNotFoundError("override", ref.String())
		}
		return domain.ProjectOverride{}, fmt.Errorf("failed to get override: %w", err)
	}
	return override, nil
}

func (r *overrideRepository) ListByGlobalEntity(ctx context.Context, entityType string, globalEntityID uuid.UUID) ([]domain.ProjectOverride, error) {
	rows, err := r.conn.Querier(ctx).Query(ctx, `
		SELECT project_id, entity_type, global_entity_id, baseline, overridden_fields, tracked_fields, created_at, created_by
		FROM project_overrides
		WHERE entity_type = $1 AND global_entity_id = $2
		ORDER BY project_id`,
		entityType, globalEntityID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides by global entity: %w", err)
	}
	defer rows.Close()

	return collectOverrides(rows)
}

func (r *overrideRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]domain.ProjectOverride, error) {
	rows, err := r.conn.Querier(ctx).Query(ctx, `
		SELECT project_id, entity_type, global_entity_id, baseline, overridden_fields, tracked_fields, created_at, created_by
		FROM project_overrides
		WHERE project_id = $1
		ORDER BY entity_type, global_entity_id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides by project: %w", err)
	}
	defer rows.Close()

	return collectOverrides(rows)
}

// Lock takes the row lock that serializes all writers of one override within
// the ambient transaction.
func (r *overrideRepository) Lock(ctx context.Context, ref domain.OverrideRef) error {
	if _, ok := db.TxFromContext(ctx); !ok {
		return fmt.Errorf("override lock requires an ambient transaction")
	}

	var one int
	err := r.conn.Querier(ctx).QueryRow(ctx, `
		SELECT 1
		FROM project_overrides
		WHERE project_id = $1 AND entity_type = $2 AND global_entity_id = $3
		FOR UPDATE`,
		ref.ProjectID, ref.EntityType, ref.GlobalEntityID,
	).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError("override", ref.String())
		}
		return fmt.Errorf("failed to lock override: %w", err)
	}
	return nil
}

func (r *overrideRepository) AdvanceBaseline(ctx context.Context, ref domain.OverrideRef, advance domain.BaselineAdvance) error {
	fieldsJSON, err := domain.FieldMapToJSONB(advance.Set)
	if err != nil {
		return fmt.Errorf("failed to marshal baseline advance: %w", err)
	}
	removed := advance.Removed
	if removed == nil {
		removed = []string{}
	}

	// jsonb - text[] deletes the removed keys after the merge.
	tag, err := r.conn.Querier(ctx).Exec(ctx, `
		UPDATE project_overrides
		SET baseline = (baseline || $4::jsonb) - $5::text[]
		WHERE project_id = $1 AND entity_type = $2 AND global_entity_id = $3`,
		ref.ProjectID, ref.EntityType, ref.GlobalEntityID, fieldsJSON, removed,
	)
	if err != nil {
		return fmt.Errorf("failed to advance baseline: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("override", ref.String())
	}
	return nil
}

func (r *overrideRepository) Delete(ctx context.Context, ref domain.OverrideRef) error {
	tag, err := r.conn.Querier(ctx).Exec(ctx, `
		DELETE FROM project_overrides
		WHERE project_id = $1 AND entity_type = $2 AND global_entity_id = $3`,
		ref.ProjectID, ref.EntityType, ref.GlobalEntityID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("override", ref.String())
	}
	return nil
}

func collectOverrides(rows pgx.Rows) ([]domain.ProjectOverride, error) {
	overrides := []domain.ProjectOverride{}
	for rows.Next() {
		override, err := scanProjectOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		overrides = append(overrides, override)
	}
	return overrides, rows.Err()
}

func scanProjectOverride(row pgx.Row) (domain.ProjectOverride, error) {
	var (
		override       domain.ProjectOverride
		baselineJSON   json.RawMessage
		overriddenJSON json.RawMessage
		trackedJSON    json.RawMessage
		createdAt      time.Time
	)
	if err := row.Scan(
		&override.ProjectID, &override.EntityType, &override.GlobalEntityID,
		&baselineJSON, &overriddenJSON, &trackedJSON, &createdAt, &override.CreatedBy,
	); err != nil {
		return domain.ProjectOverride{}, err
	}

	baseline, err := domain.FieldMapFromJSONB(baselineJSON)
	if err != nil {
		return domain.ProjectOverride{}, fmt.Errorf("failed to unmarshal baseline: %w", err)
	}
	overridden, err := domain.FieldMapFromJSONB(overriddenJSON)
	if err != nil {
		return domain.ProjectOverride{}, fmt.Errorf("failed to unmarshal overridden fields: %w", err)
	}
	var tracked []string
	if len(trackedJSON) > 0 {
		if err := json.Unmarshal(trackedJSON, &tracked); err != nil {
			return domain.ProjectOverride{}, fmt.Errorf("failed to unmarshal tracked fields: %w", err)
		}
	}

	override.Baseline = baseline
	override.OverriddenFields = overridden
	if len(tracked) > 0 {
		override.Tracked = tracked
	}
	override.CreatedAt = createdAt
	return override, nil
}
