package db

import (
	"context"

	"github.com/google/uuid"

	"conceptnorm/internal/models"
)

// ListPairingRows loads every concept of a location that has at least one
// active entity link and one active aspect link, oldest first.
func (d *DB) ListPairingRows(ctx context.Context, locationID uuid.UUID) ([]models.PairingRow, error) {
	rows, err := d.Pool.Query(ctx, `
		SELECT c.id,
			ARRAY(
				SELECT cne.entity_id FROM concept_normalized_entities cne
				WHERE cne.concept_id = c.id AND cne.status = $2
				ORDER BY cne.created_at, cne.entity_id
			),
			ARRAY(
				SELECT cna.aspect_id FROM concept_normalized_aspects cna
				WHERE cna.concept_id = c.id AND cna.status = $2
				ORDER BY cna.created_at, cna.aspect_id
			),
			COALESCE(c.structured->>'judgment', ''),
			COALESCE(c.structured->>'intensity', '')
		FROM concepts c
		WHERE c.location_id = $1
		  AND EXISTS (SELECT 1 FROM concept_normalized_entities e WHERE e.concept_id = c.id AND e.status = $2)
		  AND EXISTS (SELECT 1 FROM concept_normalized_aspects a WHERE a.concept_id = c.id AND a.status = $2)
		ORDER BY c.created_at ASC, c.id ASC
	`, locationID, models.LinkStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PairingRow
	for rows.Next() {
		var r models.PairingRow
		var intensity string
		if err := rows.Scan(&r.ConceptID, &r.EntityIDs, &r.AspectIDs, &r.Judgment, &intensity); err != nil {
			return nil, err
		}
		r.Intensity = parseIntensity(intensity)
		out = append(out, r)
	}
	return out, rows.Err()
}
