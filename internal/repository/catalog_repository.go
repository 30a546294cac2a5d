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

// catalogRepository implements CatalogRepository on Postgres
type catalogRepository struct {
	conn *db.Connection
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(conn *db.Connection) CatalogRepository {
	return &catalogRepository{conn: conn}
}

func (r *catalogRepository) Create(ctx context.Context, entity domain.GlobalEntity) (domain.GlobalEntity, error) {
	fieldsJSON, err := domain.FieldMapToJSONB(entity.Fields)
	if err != nil {
		return domain.GlobalEntity{}, fmt.Errorf("failed to marshal fields: %w", err)
	}

	row := r.conn.Querier(ctx).QueryRow(ctx, `
		INSERT INTO global_entities (id, entity_type, fields, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, entity_type, fields, version, created_at, updated_at`,
		entity.ID, entity.EntityType, fieldsJSON, entity.Version, entity.CreatedAt, entity.UpdatedAt,
	)

	created, err := scanGlobalEntity(row)
	if err != nil {
		return domain.GlobalEntity{}, fmt.Errorf("failed to create global entity: %w", err)
	}
	return created, nil
}

func (r *catalogRepository) Get(ctx context.Context, entityType string, id uuid.UUID) (domain.GlobalEntity, error) {
	row := r.conn.Querier(ctx).QueryRow(ctx, `
		SELECT id, entity_type, fields, version, created_at, updated_at
		FROM global_entities
		WHERE entity_type = $1 AND id = $2`,
		entityType, id,
	)

	entity, err := scanGlobalEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.GlobalEntity{}, domain.NewNotFoundError("global entity", id.String())
		}
		return domain.GlobalEntity{}, fmt.Errorf("failed to get global entity: %w", err)
	}
	return entity, nil
}

func (r *catalogRepository) List(ctx context.Context, entityType string) ([]domain.GlobalEntity, error) {
	rows, err := r.conn.Querier(ctx).Query(ctx, `
		SELECT id, entity_type, fields, version, created_at, updated_at
		FROM global_entities
		WHERE entity_type = $1
		ORDER BY created_at, id`,
		entityType,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list global entities: %w", err)
	}
	defer rows.Close()

	entities := []domain.GlobalEntity{}
	for rows.Next() {
		entity, err := scanGlobalEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan global entity: %w", err)
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

func (r *catalogRepository) Update(ctx context.Context, entity domain.GlobalEntity) (domain.GlobalEntity, error) {
	fieldsJSON, err := domain.FieldMapToJSONB(entity.Fields)
	if err != nil {
		return domain.GlobalEntity{}, fmt.Errorf("failed to marshal fields: %w", err)
	}

	row := r.conn.Querier(ctx).QueryRow(ctx, `
		UPDATE global_entities
		SET fields = $3, version = version + 1, updated_at = now()
		WHERE entity_type = $1 AND id = $2
		RETURNING id, entity_type, fields, version, created_at, updated_at`,
		entity.EntityType, entity.ID, fieldsJSON,
	)

	updated, err := scanGlobalEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.GlobalEntity{}, domain.NewNotFoundError("global entity", entity.ID.String())
		}
		return domain.GlobalEntity{}, fmt.Errorf("failed to update global entity: %w", err)
	}
	return updated, nil
}

func (r *catalogRepository) Delete(ctx context.Context, entityType string, id uuid.UUID) error {
	tag, err := r.conn.Querier(ctx).Exec(ctx, `
		DELETE FROM global_entities
		WHERE entity_type = $1 AND id = $2`,
		entityType, id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete global entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("global entity", id.String())
	}
	return nil
}

func scanGlobalEntity(row pgx.Row) (domain.GlobalEntity, error) {
	var (
		entity     domain.GlobalEntity
		fieldsJSON json.RawMessage
		createdAt  time.Time
		updatedAt  time.Time
	)
	if err := row.Scan(&entity.ID, &entity.EntityType, &fieldsJSON, &entity.Version, &createdAt, &updatedAt); err != nil {
		return domain.GlobalEntity{}, err
	}

	fields, err := domain.FieldMapFromJSONB(fieldsJSON)
	if err != nil {
		return domain.GlobalEntity{}, fmt.Errorf("failed to unmarshal fields: %w", err)
	}
	entity.Fields = fields
	entity.CreatedAt = createdAt
	entity.UpdatedAt = updatedAt
	return entity, nil
}
