package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"conceptnorm/internal/models"
)

// conceptColumns is the standard column list for concept queries.
const conceptColumns = `id, review_id, location_id, structured,
	normalized_entity_id, normalized_aspect_id, topic_id, created_at`

func scanConcepts(rows pgx.Rows) ([]models.Concept, error) {
	defer rows.Close()

	var concepts []models.Concept
	for rows.Next() {
		var c models.Concept
		if err := rows.Scan(
			&c.ID,
			&c.ReviewID,
			&c.LocationID,
			&c.Structured,
			&c.NormalizedEntityID,
			&c.NormalizedAspectID,
			&c.TopicID,
			&c.CreatedAt,
		); err != nil {
			return nil, err
		}
		concepts = append(concepts, c)
	}
	return concepts, rows.Err()
}

// ListPendingConcepts returns concepts not yet linked for kind, oldest first,
// optionally restricted to one location. Concepts without a non-blank string
// mention for kind are left out, so they never occupy the head of the window.
func (d *DB) ListPendingConcepts(ctx context.Context, kind models.Kind, locationID *uuid.UUID, limit int) ([]models.Concept, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %[1]s FROM concepts
		WHERE %[2]s IS NULL
		  AND jsonb_typeof(structured->'%[3]s') = 'string'
		  AND btrim(structured->>'%[3]s', E' \t\n\r\f' || chr(11)) <> ''
		  AND ($1::uuid IS NULL OR location_id = $1)
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`, conceptColumns, t.conceptColumn, t.mentionField)

	rows, err := d.Pool.Query(ctx, query, locationID, limit)
	if err != nil {
		return nil, err
	}
	return scanConcepts(rows)
}

// CountPending returns the number of concepts waiting for kind.
func (d *DB) CountPending(ctx context.Context, kind models.Kind) (int64, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return 0, err
	}
	var n int64
	err = d.Pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM concepts WHERE %s IS NULL`, t.conceptColumn)).Scan(&n)
	return n, err
}

// ListLocationIDs returns every known location, including ones only seen on
// concepts.
func (d *DB) ListLocationIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := d.Pool.Query(ctx, `
		SELECT id FROM locations
		UNION
		SELECT DISTINCT location_id FROM concepts
		ORDER BY 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
