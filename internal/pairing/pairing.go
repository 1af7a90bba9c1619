// Package pairing builds entity x aspect co-occurrence statistics for a
// location from the active junction links of its concepts.
package pairing

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"conceptnorm/internal/models"
)

const (
	DefaultLimit        = 50
	MaxLimit            = 500
	DefaultSamplesLimit = 3
	MaxSamplesLimit     = 20
)

// Store is the read side the aggregator needs.
type Store interface {
	ListPairingRows(ctx context.Context, locationID uuid.UUID) ([]models.PairingRow, error)
	GetCanonicalsByIDs(ctx context.Context, kind models.Kind, ids []uuid.UUID) ([]models.Canonical, error)
}

// Aggregator serves pair statistics with display names attached.
type Aggregator struct {
	store Store
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// Pairs returns the top limit pairs of a location by count. Each pair keeps
// at most samplesLimit example judgments.
func (a *Aggregator) Pairs(ctx context.Context, locationID uuid.UUID, limit, samplesLimit int) ([]models.Pair, error) {
	rows, err := a.store.ListPairingRows(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("load pairing rows: %w", err)
	}

	pairs := Aggregate(rows, limit, samplesLimit)
	if len(pairs) == 0 {
		return pairs, nil
	}

	entityNames, err := a.names(ctx, models.KindEntity, pairs, func(p models.Pair) uuid.UUID { return p.EntityID })
	if err != nil {
		return nil, err
	}
	aspectNames, err := a.names(ctx, models.KindAspect, pairs, func(p models.Pair) uuid.UUID { return p.AspectID })
	if err != nil {
		return nil, err
	}
	for i := range pairs {
		pairs[i].EntityName = entityNames[pairs[i].EntityID]
		pairs[i].AspectName = aspectNames[pairs[i].AspectID]
	}
	return pairs, nil
}

func (a *Aggregator) names(ctx context.Context, kind models.Kind, pairs []models.Pair, id func(models.Pair) uuid.UUID) (map[uuid.UUID]string, error) {
	seen := make(map[uuid.UUID]bool, len(pairs))
	var ids []uuid.UUID
	for _, p := range pairs {
		if v := id(p); !seen[v] {
			seen[v] = true
			ids = append(ids, v)
		}
	}

	entries, err := a.store.GetCanonicalsByIDs(ctx, kind, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve %s names: %w", kind, err)
	}
	out := make(map[uuid.UUID]string, len(entries))
	for _, e := range entries {
		out[e.ID] = e.DisplayName
	}
	return out, nil
}

type pairKey struct {
	entity uuid.UUID
	aspect uuid.UUID
}

// Aggregate emits the entity x aspect product of every row and counts each
// pair once per concept. Samples are kept first-come in row order, so with
// oldest-first rows the earliest concepts supply them. The result is sorted
// by count descending, then entity and aspect id, and truncated to limit.
func Aggregate(rows []models.PairingRow, limit, samplesLimit int) []models.Pair {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if samplesLimit < 0 {
		samplesLimit = 0
	}
	if samplesLimit > MaxSamplesLimit {
		samplesLimit = MaxSamplesLimit
	}

	acc := map[pairKey]*models.Pair{}
	for _, r := range rows {
		emitted := map[pairKey]bool{}
		for _, e := range r.EntityIDs {
			for _, asp := range r.AspectIDs {
				k := pairKey{entity: e, aspect: asp}
				if emitted[k] {
					continue
				}
				emitted[k] = true

				p, ok := acc[k]
				if !ok {
					p = &models.Pair{EntityID: e, AspectID: asp, Samples: []models.PairSample{}}
					acc[k] = p
				}
				p.Count++
				if len(p.Samples) < samplesLimit {
					p.Samples = append(p.Samples, models.PairSample{Judgment: r.Judgment, Intensity: r.Intensity})
				}
			}
		}
	}

	out := make([]models.Pair, 0, len(acc))
	for _, p := range acc {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if c := bytes.Compare(out[i].EntityID[:], out[j].EntityID[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(out[i].AspectID[:], out[j].AspectID[:]) < 0
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
