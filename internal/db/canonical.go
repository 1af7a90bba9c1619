package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"conceptnorm/internal/models"
)

// kindTables names the tables and columns backing one canonical vocabulary.
// Only these constant identifiers are ever interpolated into SQL.
type kindTables struct {
	catalog       string
	junction      string
	junctionFK    string
	conceptColumn string
	mentionField  string
}

func tablesFor(kind models.Kind) (kindTables, error) {
	switch kind {
	case models.KindEntity:
		return kindTables{
			catalog:       "normalized_entities",
			junction:      "concept_normalized_entities",
			junctionFK:    "entity_id",
			conceptColumn: "normalized_entity_id",
			mentionField:  "entity",
		}, nil
	case models.KindAspect:
		return kindTables{
			catalog:       "normalized_aspects",
			junction:      "concept_normalized_aspects",
			junctionFK:    "aspect_id",
			conceptColumn: "normalized_aspect_id",
			mentionField:  "aspect",
		}, nil
	}
	return kindTables{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// canonicalColumns is the standard column list for catalog queries.
const canonicalColumns = `id, canonical_key, display_name, description, examples,
	usage_count, is_active, created_at, updated_at`

// scanCanonical scans a row into a Canonical struct.
func scanCanonical(row pgx.Row, kind models.Kind) (*models.Canonical, error) {
	c := models.Canonical{Kind: kind}
	err := row.Scan(
		&c.ID,
		&c.CanonicalKey,
		&c.DisplayName,
		&c.Description,
		&c.Examples,
		&c.UsageCount,
		&c.IsActive,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCanonicalNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// scanCanonicals scans multiple rows into a slice of Canonicals.
func scanCanonicals(rows pgx.Rows, kind models.Kind) ([]models.Canonical, error) {
	defer rows.Close()

	var out []models.Canonical
	for rows.Next() {
		c, err := scanCanonical(rows, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ListActiveCandidates returns active catalog entries, most used first.
func (d *DB) ListActiveCandidates(ctx context.Context, kind models.Kind, limit int) ([]models.Canonical, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE is_active
		ORDER BY usage_count DESC, created_at ASC, id ASC
		LIMIT $1
	`, canonicalColumns, t.catalog)

	rows, err := d.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return scanCanonicals(rows, kind)
}

// GetCanonicalByKey fetches a catalog entry by its canonical key.
func (d *DB) GetCanonicalByKey(ctx context.Context, kind models.Kind, key string) (*models.Canonical, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE canonical_key = $1`, canonicalColumns, t.catalog)
	return scanCanonical(d.Pool.QueryRow(ctx, query, key), kind)
}

// GetCanonicalsByIDs fetches catalog entries by id. Missing ids are ignored.
func (d *DB) GetCanonicalsByIDs(ctx context.Context, kind models.Kind, ids []uuid.UUID) ([]models.Canonical, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ANY($1)`, canonicalColumns, t.catalog)
	rows, err := d.Pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	return scanCanonicals(rows, kind)
}

// CreateCanonical inserts a catalog entry. When the canonical key already
// exists the stored row is returned with created=false instead of an error,
// so racing workers converge on one row.
func (d *DB) CreateCanonical(ctx context.Context, kind models.Kind, in models.NewCanonical) (*models.Canonical, bool, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, false, err
	}

	examples := in.Examples
	if examples == nil {
		examples = []string{}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (canonical_key, display_name, description, examples)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (canonical_key) DO NOTHING
		RETURNING %s
	`, t.catalog, canonicalColumns)

	c, err := scanCanonical(d.Pool.QueryRow(ctx, query,
		in.CanonicalKey,
		in.DisplayName,
		in.Description,
		examples,
	), kind)
	if err == nil {
		return c, true, nil
	}

	var pgErr *pgconn.PgError
	if !errors.Is(err, ErrCanonicalNotFound) && !(errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation) {
		return nil, false, err
	}

	existing, err := d.GetCanonicalByKey(ctx, kind, in.CanonicalKey)
	if err != nil {
		return nil, false, fmt.Errorf("reuse canonical %q after conflict: %w", in.CanonicalKey, err)
	}
	return existing, false, nil
}

// LinkConcept links a pending concept to a catalog entry in one transaction:
// bump usage_count, upsert the active junction row and set the concept's
// normalized id. The concept column only moves from NULL, so when another
// worker linked it first nothing is written and linked is false.
func (d *DB) LinkConcept(ctx context.Context, kind models.Kind, conceptID, canonicalID uuid.UUID) (bool, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return false, err
	}

	tx, err := d.Pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, fmt.Sprintf(`
		UPDATE concepts SET %s = $1
		WHERE id = $2 AND %s IS NULL
	`, t.conceptColumn, t.conceptColumn), canonicalID, conceptID)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}

	result, err = tx.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET usage_count = usage_count + 1, updated_at = NOW()
		WHERE id = $1
	`, t.catalog), canonicalID)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() == 0 {
		return false, ErrCanonicalNotFound
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (concept_id, %s, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (concept_id, %s) DO UPDATE SET status = EXCLUDED.status
	`, t.junction, t.junctionFK, t.junctionFK), conceptID, canonicalID, models.LinkStatusActive); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// CountCanonicals returns the number of active catalog entries.
func (d *DB) CountCanonicals(ctx context.Context, kind models.Kind) (int64, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return 0, err
	}
	var n int64
	err = d.Pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE is_active`, t.catalog)).Scan(&n)
	return n, err
}
