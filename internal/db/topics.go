package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"conceptnorm/internal/models"
)

// topicColumns is the standard column list for topic queries.
const topicColumns = `id, location_id, label, description, is_stable, created_at, updated_at`

// memberSelect projects a concept into a TopicMember, preferring canonical
// display names over raw mentions.
const memberSelect = `
	SELECT c.id,
		COALESCE(e.display_name, c.structured->>'entity', ''),
		COALESCE(a.display_name, c.structured->>'aspect', ''),
		COALESCE(c.structured->>'judgment', ''),
		COALESCE(c.structured->>'intensity', '')
	FROM concepts c
	LEFT JOIN normalized_entities e ON e.id = c.normalized_entity_id
	LEFT JOIN normalized_aspects a ON a.id = c.normalized_aspect_id
`

func scanTopic(row pgx.Row) (*models.Topic, error) {
	var t models.Topic
	err := row.Scan(&t.ID, &t.LocationID, &t.Label, &t.Description, &t.IsStable, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTopicNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanMembers(rows pgx.Rows) ([]models.TopicMember, error) {
	defer rows.Close()

	var out []models.TopicMember
	for rows.Next() {
		var m models.TopicMember
		var intensity string
		if err := rows.Scan(&m.ConceptID, &m.EntityName, &m.AspectName, &m.Judgment, &intensity); err != nil {
			return nil, err
		}
		m.Intensity = parseIntensity(intensity)
		out = append(out, m)
	}
	return out, rows.Err()
}

func parseIntensity(raw string) float64 {
	var i models.Intensity
	_ = i.UnmarshalJSON([]byte(raw))
	return float64(i)
}

// ListClusterCandidates returns normalized concepts of a location without a
// topic, created at or after since, newest first.
func (d *DB) ListClusterCandidates(ctx context.Context, locationID uuid.UUID, since time.Time, limit int) ([]models.TopicMember, error) {
	rows, err := d.Pool.Query(ctx, memberSelect+`
		WHERE c.location_id = $1
		  AND c.topic_id IS NULL
		  AND c.normalized_entity_id IS NOT NULL
		  AND c.created_at >= $2
		ORDER BY c.created_at DESC, c.id ASC
		LIMIT $3
	`, locationID, since, limit)
	if err != nil {
		return nil, err
	}
	return scanMembers(rows)
}

// CreateTopicWithMembers inserts a topic and claims every listed concept that
// has no topic yet. Fewer than minMembers claimable concepts rolls the whole
// thing back with ErrTopicTooSmall, so no undersized topic is left behind.
func (d *DB) CreateTopicWithMembers(ctx context.Context, locationID uuid.UUID, label string, conceptIDs []uuid.UUID, minMembers int) (*models.Topic, int, error) {
	tx, err := d.Pool.Begin(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback(ctx)

	topic, err := scanTopic(tx.QueryRow(ctx, `
		INSERT INTO topics (location_id, label)
		VALUES ($1, $2)
		RETURNING `+topicColumns, locationID, label))
	if err != nil {
		return nil, 0, err
	}

	result, err := tx.Exec(ctx, `
		UPDATE concepts SET topic_id = $1
		WHERE id = ANY($2) AND location_id = $3 AND topic_id IS NULL
	`, topic.ID, conceptIDs, locationID)
	if err != nil {
		return nil, 0, err
	}
	assigned := int(result.RowsAffected())
	if assigned < minMembers {
		return nil, 0, ErrTopicTooSmall
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, err
	}
	return topic, assigned, nil
}

// ListTopicsForEnrichment returns topics of a location needing a description,
// or every topic when force is set.
func (d *DB) ListTopicsForEnrichment(ctx context.Context, locationID uuid.UUID, force bool, limit int) ([]models.Topic, error) {
	rows, err := d.Pool.Query(ctx, `
		SELECT `+topicColumns+` FROM topics
		WHERE location_id = $1 AND ($2 OR description = '')
		ORDER BY created_at ASC, id ASC
		LIMIT $3
	`, locationID, force, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []models.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, *t)
	}
	return topics, rows.Err()
}

// ListTopicMembers returns up to limit member concepts of a topic, oldest first.
func (d *DB) ListTopicMembers(ctx context.Context, topicID uuid.UUID, limit int) ([]models.TopicMember, error) {
	rows, err := d.Pool.Query(ctx, memberSelect+`
		WHERE c.topic_id = $1
		ORDER BY c.created_at ASC, c.id ASC
		LIMIT $2
	`, topicID, limit)
	if err != nil {
		return nil, err
	}
	return scanMembers(rows)
}

// UpdateTopicDescription overwrites a topic's narrative and marks it stable.
func (d *DB) UpdateTopicDescription(ctx context.Context, topicID uuid.UUID, description string) error {
	result, err := d.Pool.Exec(ctx, `
		UPDATE topics SET description = $1, is_stable = TRUE, updated_at = NOW()
		WHERE id = $2
	`, description, topicID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTopicNotFound
	}
	return nil
}

// TopTopics ranks a location's topics by member concepts created in [from, to).
func (d *DB) TopTopics(ctx context.Context, locationID uuid.UUID, from, to *time.Time, limit int) ([]models.TopicSummary, error) {
	rows, err := d.Pool.Query(ctx, `
		SELECT t.id, t.location_id, t.label, t.description, t.is_stable, t.created_at, t.updated_at,
			COUNT(c.id) AS concept_count
		FROM topics t
		JOIN concepts c ON c.topic_id = t.id
		WHERE t.location_id = $1
		  AND ($2::timestamptz IS NULL OR c.created_at >= $2)
		  AND ($3::timestamptz IS NULL OR c.created_at < $3)
		GROUP BY t.id
		ORDER BY concept_count DESC, t.created_at ASC, t.id ASC
		LIMIT $4
	`, locationID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TopicSummary
	for rows.Next() {
		var s models.TopicSummary
		if err := rows.Scan(
			&s.ID, &s.LocationID, &s.Label, &s.Description, &s.IsStable, &s.CreatedAt, &s.UpdatedAt,
			&s.ConceptCount,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
