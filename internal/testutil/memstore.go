package testutil

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"conceptnorm/internal/db"
	"conceptnorm/internal/models"
)

// MemStore is an in-memory stand-in for db.DB with the same observable
// semantics: unique canonical keys with reuse on collision, one-way concept
// links and one-way topic assignment.
type MemStore struct {
	mu        sync.Mutex
	locations []uuid.UUID
	concepts  []*models.Concept
	catalogs  map[models.Kind][]*models.Canonical
	links     map[models.Kind]map[uuid.UUID][]uuid.UUID
	topics    []*models.Topic

	// ListErr, when set, is returned by ListPendingConcepts.
	ListErr error
	// LinkErr, when set, is returned by LinkConcept.
	LinkErr error
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		catalogs: map[models.Kind][]*models.Canonical{},
		links: map[models.Kind]map[uuid.UUID][]uuid.UUID{
			models.KindEntity: {},
			models.KindAspect: {},
		},
	}
}

// AddLocation registers a location with no concepts.
func (s *MemStore) AddLocation(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations = append(s.locations, id)
}

// AddConcept inserts a pending concept and returns its id.
func (s *MemStore) AddConcept(locationID uuid.UUID, p models.ConceptPayload, createdAt time.Time) uuid.UUID {
	raw, _ := json.Marshal(p)
	return s.AddRawConcept(locationID, raw, createdAt)
}

// AddRawConcept inserts a concept with an arbitrary structured payload.
func (s *MemStore) AddRawConcept(locationID uuid.UUID, structured []byte, createdAt time.Time) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &models.Concept{
		ID:         uuid.New(),
		ReviewID:   uuid.New(),
		LocationID: locationID,
		Structured: structured,
		CreatedAt:  createdAt,
	}
	s.concepts = append(s.concepts, c)
	return c.ID
}

// AddJunction adds an extra active link without touching the concept column,
// for concepts linked to several canonical entries.
func (s *MemStore) AddJunction(kind models.Kind, conceptID, canonicalID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addJunctionLocked(kind, conceptID, canonicalID)
}

func (s *MemStore) addJunctionLocked(kind models.Kind, conceptID, canonicalID uuid.UUID) {
	for _, id := range s.links[kind][conceptID] {
		if id == canonicalID {
			return
		}
	}
	s.links[kind][conceptID] = append(s.links[kind][conceptID], canonicalID)
}

// Concept returns a copy of a stored concept.
func (s *MemStore) Concept(id uuid.UUID) models.Concept {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.findConcept(id); c != nil {
		return *c
	}
	return models.Concept{}
}

// Canonicals returns copies of every catalog entry of kind in creation order.
func (s *MemStore) Canonicals(kind models.Kind) []models.Canonical {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Canonical, 0, len(s.catalogs[kind]))
	for _, c := range s.catalogs[kind] {
		out = append(out, *c)
	}
	return out
}

// Topics returns copies of every stored topic.
func (s *MemStore) Topics() []models.Topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Topic, 0, len(s.topics))
	for _, t := range s.topics {
		out = append(out, *t)
	}
	return out
}

func (s *MemStore) findConcept(id uuid.UUID) *models.Concept {
	for _, c := range s.concepts {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (s *MemStore) findCanonical(kind models.Kind, id uuid.UUID) *models.Canonical {
	for _, c := range s.catalogs[kind] {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func sortedConcepts(in []*models.Concept, newestFirst bool) []*models.Concept {
	out := append([]*models.Concept(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ListPendingConcepts mirrors db.DB.ListPendingConcepts.
func (s *MemStore) ListPendingConcepts(_ context.Context, kind models.Kind, locationID *uuid.UUID, limit int) ([]models.Concept, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}

	var out []models.Concept
	for _, c := range sortedConcepts(s.concepts, false) {
		if c.NormalizedID(kind) != nil || !c.Linkable(kind) {
			continue
		}
		if locationID != nil && c.LocationID != *locationID {
			continue
		}
		out = append(out, *c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListActiveCandidates mirrors db.DB.ListActiveCandidates.
func (s *MemStore) ListActiveCandidates(_ context.Context, kind models.Kind, limit int) ([]models.Canonical, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Canonical
	for _, c := range s.catalogs[kind] {
		if c.IsActive {
			out = append(out, *c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UsageCount > out[j].UsageCount
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateCanonical mirrors db.DB.CreateCanonical, including reuse on key
// collision.
func (s *MemStore) CreateCanonical(_ context.Context, kind models.Kind, in models.NewCanonical) (*models.Canonical, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.catalogs[kind] {
		if c.CanonicalKey == in.CanonicalKey {
			cp := *c
			return &cp, false, nil
		}
	}
	examples := in.Examples
	if examples == nil {
		examples = []string{}
	}
	now := time.Now()
	c := &models.Canonical{
		ID:           uuid.New(),
		Kind:         kind,
		CanonicalKey: in.CanonicalKey,
		DisplayName:  in.DisplayName,
		Description:  in.Description,
		Examples:     examples,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.catalogs[kind] = append(s.catalogs[kind], c)
	cp := *c
	return &cp, true, nil
}

// LinkConcept mirrors db.DB.LinkConcept.
func (s *MemStore) LinkConcept(_ context.Context, kind models.Kind, conceptID, canonicalID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LinkErr != nil {
		return false, s.LinkErr
	}

	c := s.findConcept(conceptID)
	if c == nil || c.NormalizedID(kind) != nil {
		return false, nil
	}
	target := s.findCanonical(kind, canonicalID)
	if target == nil {
		return false, db.ErrCanonicalNotFound
	}

	id := canonicalID
	if kind == models.KindAspect {
		c.NormalizedAspectID = &id
	} else {
		c.NormalizedEntityID = &id
	}
	target.UsageCount++
	target.UpdatedAt = time.Now()
	s.addJunctionLocked(kind, conceptID, canonicalID)
	return true, nil
}

// GetCanonicalsByIDs mirrors db.DB.GetCanonicalsByIDs.
func (s *MemStore) GetCanonicalsByIDs(_ context.Context, kind models.Kind, ids []uuid.UUID) ([]models.Canonical, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Canonical
	for _, id := range ids {
		if c := s.findCanonical(kind, id); c != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

// CountCanonicals mirrors db.DB.CountCanonicals.
func (s *MemStore) CountCanonicals(_ context.Context, kind models.Kind) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.catalogs[kind] {
		if c.IsActive {
			n++
		}
	}
	return n, nil
}

// CountPending mirrors db.DB.CountPending.
func (s *MemStore) CountPending(_ context.Context, kind models.Kind) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.concepts {
		if c.NormalizedID(kind) == nil {
			n++
		}
	}
	return n, nil
}

// ListLocationIDs mirrors db.DB.ListLocationIDs.
func (s *MemStore) ListLocationIDs(_ context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	add := func(id uuid.UUID) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range s.locations {
		add(id)
	}
	for _, c := range s.concepts {
		add(c.LocationID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// ListPairingRows mirrors db.DB.ListPairingRows.
func (s *MemStore) ListPairingRows(_ context.Context, locationID uuid.UUID) ([]models.PairingRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.PairingRow
	for _, c := range sortedConcepts(s.concepts, false) {
		if c.LocationID != locationID {
			continue
		}
		entities := s.links[models.KindEntity][c.ID]
		aspects := s.links[models.KindAspect][c.ID]
		if len(entities) == 0 || len(aspects) == 0 {
			continue
		}
		p, _ := c.Payload()
		out = append(out, models.PairingRow{
			ConceptID: c.ID,
			EntityIDs: append([]uuid.UUID(nil), entities...),
			AspectIDs: append([]uuid.UUID(nil), aspects...),
			Judgment:  p.Judgment,
			Intensity: float64(p.Intensity),
		})
	}
	return out, nil
}

func (s *MemStore) memberLocked(c *models.Concept) models.TopicMember {
	p, _ := c.Payload()
	m := models.TopicMember{
		ConceptID:  c.ID,
		EntityName: p.Entity,
		AspectName: p.Aspect,
		Judgment:   p.Judgment,
		Intensity:  float64(p.Intensity),
	}
	if c.NormalizedEntityID != nil {
		if e := s.findCanonical(models.KindEntity, *c.NormalizedEntityID); e != nil {
			m.EntityName = e.DisplayName
		}
	}
	if c.NormalizedAspectID != nil {
		if a := s.findCanonical(models.KindAspect, *c.NormalizedAspectID); a != nil {
			m.AspectName = a.DisplayName
		}
	}
	return m
}

// ListClusterCandidates mirrors db.DB.ListClusterCandidates.
func (s *MemStore) ListClusterCandidates(_ context.Context, locationID uuid.UUID, since time.Time, limit int) ([]models.TopicMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.TopicMember
	for _, c := range sortedConcepts(s.concepts, true) {
		if c.LocationID != locationID || c.TopicID != nil || c.NormalizedEntityID == nil || c.CreatedAt.Before(since) {
			continue
		}
		out = append(out, s.memberLocked(c))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// CreateTopicWithMembers mirrors db.DB.CreateTopicWithMembers.
func (s *MemStore) CreateTopicWithMembers(_ context.Context, locationID uuid.UUID, label string, conceptIDs []uuid.UUID, minMembers int) (*models.Topic, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claim []*models.Concept
	for _, id := range conceptIDs {
		c := s.findConcept(id)
		if c != nil && c.LocationID == locationID && c.TopicID == nil {
			claim = append(claim, c)
		}
	}
	if len(claim) < minMembers {
		return nil, 0, db.ErrTopicTooSmall
	}

	now := time.Now()
	t := &models.Topic{ID: uuid.New(), LocationID: locationID, Label: label, CreatedAt: now, UpdatedAt: now}
	s.topics = append(s.topics, t)
	for _, c := range claim {
		id := t.ID
		c.TopicID = &id
	}
	cp := *t
	return &cp, len(claim), nil
}

// ListTopicsForEnrichment mirrors db.DB.ListTopicsForEnrichment.
func (s *MemStore) ListTopicsForEnrichment(_ context.Context, locationID uuid.UUID, force bool, limit int) ([]models.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Topic
	for _, t := range s.topics {
		if t.LocationID == locationID && (force || t.Description == "") {
			out = append(out, *t)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// ListTopicMembers mirrors db.DB.ListTopicMembers.
func (s *MemStore) ListTopicMembers(_ context.Context, topicID uuid.UUID, limit int) ([]models.TopicMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.TopicMember
	for _, c := range sortedConcepts(s.concepts, false) {
		if c.TopicID != nil && *c.TopicID == topicID {
			out = append(out, s.memberLocked(c))
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// UpdateTopicDescription mirrors db.DB.UpdateTopicDescription.
func (s *MemStore) UpdateTopicDescription(_ context.Context, topicID uuid.UUID, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.topics {
		if t.ID == topicID {
			t.Description = description
			t.IsStable = true
			t.UpdatedAt = time.Now()
			return nil
		}
	}
	return db.ErrTopicNotFound
}

// TopTopics mirrors db.DB.TopTopics.
func (s *MemStore) TopTopics(_ context.Context, locationID uuid.UUID, from, to *time.Time, limit int) ([]models.TopicSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.TopicSummary
	for _, t := range s.topics {
		if t.LocationID != locationID {
			continue
		}
		var n int64
		for _, c := range s.concepts {
			if c.TopicID == nil || *c.TopicID != t.ID {
				continue
			}
			if from != nil && c.CreatedAt.Before(*from) {
				continue
			}
			if to != nil && !c.CreatedAt.Before(*to) {
				continue
			}
			n++
		}
		if n > 0 {
			out = append(out, models.TopicSummary{Topic: *t, ConceptCount: n})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ConceptCount > out[j].ConceptCount })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
