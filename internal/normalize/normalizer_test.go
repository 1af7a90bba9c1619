package normalize

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"conceptnorm/internal/gateway"
	"conceptnorm/internal/models"
	"conceptnorm/internal/testutil"
	"conceptnorm/internal/validation"
)

// keyClassifier reuses the candidate whose key matches the normalized
// mention and otherwise asks to create it, like a well-behaved model.
type keyClassifier struct {
	mu       sync.Mutex
	requests []gateway.ClassifyRequest
}

func (k *keyClassifier) Classify(_ context.Context, req gateway.ClassifyRequest) (gateway.Decision, error) {
	k.mu.Lock()
	k.requests = append(k.requests, req)
	k.mu.Unlock()

	key := validation.NormalizeCanonicalKey(req.Mention)
	for _, c := range req.Candidates {
		if c.CanonicalKey == key {
			return gateway.Reuse{TargetID: c.ID}, nil
		}
	}
	return gateway.Create{CanonicalKey: key, DisplayName: req.Mention}, nil
}

type funcClassifier func(ctx context.Context, req gateway.ClassifyRequest) (gateway.Decision, error)

func (f funcClassifier) Classify(ctx context.Context, req gateway.ClassifyRequest) (gateway.Decision, error) {
	return f(ctx, req)
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func addConcepts(store *testutil.MemStore, loc uuid.UUID, payloads ...models.ConceptPayload) []uuid.UUID {
	ids := make([]uuid.UUID, len(payloads))
	for i, p := range payloads {
		ids[i] = store.AddConcept(loc, p, base.Add(time.Duration(i)*time.Minute))
	}
	return ids
}

func TestNormalizer_CreatesOnEmptyCatalog(t *testing.T) {
	store := testutil.NewMemStore()
	loc := uuid.New()
	ids := addConcepts(store, loc, models.ConceptPayload{Entity: "café", Aspect: "sabor"})

	n := NewEntityNormalizer(store, &keyClassifier{}, Options{})
	res, err := n.Run(context.Background(), nil, 10)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Processed != 1 || res.Created != 1 {
		t.Errorf("Run() = %+v, want processed=1 created=1", res)
	}

	entries := store.Canonicals(models.KindEntity)
	if len(entries) != 1 {
		t.Fatalf("catalog size = %d, want 1", len(entries))
	}
	if entries[0].CanonicalKey != "cafe" {
		t.Errorf("canonical_key = %q, want %q", entries[0].CanonicalKey, "cafe")
	}
	if entries[0].UsageCount != 1 {
		t.Errorf("usage_count = %d, want 1", entries[0].UsageCount)
	}
	if len(entries[0].Examples) != 1 || entries[0].Examples[0] != "café" {
		t.Errorf("examples = %v, want [café]", entries[0].Examples)
	}

	c := store.Concept(ids[0])
	if c.NormalizedEntityID == nil || *c.NormalizedEntityID != entries[0].ID {
		t.Errorf("concept normalized_entity_id = %v, want %v", c.NormalizedEntityID, entries[0].ID)
	}
	if c.NormalizedAspectID != nil {
		t.Errorf("entity stage touched normalized_aspect_id")
	}
}

func TestNormalizer_ReusesExistingCandidate(t *testing.T) {
	store := testutil.NewMemStore()
	loc := uuid.New()
	cls := &keyClassifier{}
	n := NewEntityNormalizer(store, cls, Options{})

	addConcepts(store, loc, models.ConceptPayload{Entity: "café", Aspect: "sabor"})
	if _, err := n.Run(context.Background(), nil, 10); err != nil {
		t.Fatalf("Run() first error = %v", err)
	}

	store.AddConcept(loc, models.ConceptPayload{Entity: "café", Aspect: "precio"}, base.Add(time.Hour))
	res, err := n.Run(context.Background(), nil, 10)
	if err != nil {
		t.Fatalf("Run() second error = %v", err)
	}
	if res.Processed != 1 || res.Created != 0 {
		t.Errorf("Run() = %+v, want processed=1 created=0", res)
	}

	entries := store.Canonicals(models.KindEntity)
	if len(entries) != 1 {
		t.Fatalf("catalog size = %d, want 1", len(entries))
	}
	if entries[0].UsageCount != 2 {
		t.Errorf("usage_count = %d, want 2", entries[0].UsageCount)
	}

	last := cls.requests[len(cls.requests)-1]
	if len(last.Candidates) != 1 || last.Candidates[0].CanonicalKey != "cafe" {
		t.Errorf("classifier candidates = %+v, want [cafe]", last.Candidates)
	}
	if last.Context.Companion != "precio" {
		t.Errorf("classifier companion = %q, want %q", last.Context.Companion, "precio")
	}
}

func TestNormalizer_LimitLeavesRestPending(t *testing.T) {
	store := testutil.NewMemStore()
	loc := uuid.New()
	ids := addConcepts(store, loc,
		models.ConceptPayload{Entity: "café"},
		models.ConceptPayload{Entity: "té"},
		models.ConceptPayload{Entity: "pan"},
		models.ConceptPayload{Entity: "mesero"},
		models.ConceptPayload{Entity: "baño"},
	)

	n := NewEntityNormalizer(store, &keyClassifier{}, Options{})
	res, err := n.Run(context.Background(), nil, 2)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Processed != 2 {
		t.Errorf("Run() processed = %d, want 2", res.Processed)
	}

	pending, _ := store.CountPending(context.Background(), models.KindEntity)
	if pending != 3 {
		t.Errorf("pending = %d, want 3", pending)
	}
	// Oldest first.
	if store.Concept(ids[0]).NormalizedEntityID == nil || store.Concept(ids[1]).NormalizedEntityID == nil {
		t.Error("oldest two concepts were not the ones processed")
	}
	if store.Concept(ids[4]).NormalizedEntityID != nil {
		t.Error("newest concept processed before older ones")
	}
}

func TestNormalizer_Idempotent(t *testing.T) {
	store := testutil.NewMemStore()
	loc := uuid.New()
	addConcepts(store, loc,
		models.ConceptPayload{Entity: "café"},
		models.ConceptPayload{Entity: "Café"},
		models.ConceptPayload{Entity: "pan"},
	)

	n := NewEntityNormalizer(store, &keyClassifier{}, Options{})
	first, err := n.Run(context.Background(), nil, 100)
	if err != nil {
		t.Fatalf("Run() first error = %v", err)
	}
	if first.Processed != 3 {
		t.Errorf("first processed = %d, want 3", first.Processed)
	}

	second, err := n.Run(context.Background(), nil, 100)
	if err != nil {
		t.Fatalf("Run() second error = %v", err)
	}
	if second.Processed != 0 {
		t.Errorf("second processed = %d, want 0", second.Processed)
	}

	seen := map[string]bool{}
	for _, e := range store.Canonicals(models.KindEntity) {
		if seen[e.CanonicalKey] {
			t.Errorf("duplicate canonical_key %q", e.CanonicalKey)
		}
		seen[e.CanonicalKey] = true
	}
	if len(seen) != 2 {
		t.Errorf("catalog keys = %v, want cafe and pan", seen)
	}
}

func TestNormalizer_IgnoresUnlinkableConcepts(t *testing.T) {
	store := testutil.NewMemStore()
	loc := uuid.New()
	ids := addConcepts(store, loc,
		models.ConceptPayload{Entity: "   ", Aspect: "sabor"},
		models.ConceptPayload{Entity: "pan"},
	)
	bad := store.AddRawConcept(loc, []byte(`"not an object"`), base.Add(time.Hour))
	numeric := store.AddRawConcept(loc, []byte(`{"entity":5}`), base.Add(2*time.Hour))

	cls := &keyClassifier{}
	res, err := NewEntityNormalizer(store, cls, Options{}).Run(context.Background(), nil, 10)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Processed != 1 || res.Skipped != 0 {
		t.Errorf("Run() = %+v, want processed=1 skipped=0", res)
	}
	if len(cls.requests) != 1 {
		t.Errorf("classifier called %d times, want 1", len(cls.requests))
	}
	for _, id := range []uuid.UUID{ids[0], bad, numeric} {
		if store.Concept(id).NormalizedEntityID != nil {
			t.Errorf("concept %s without a mention was linked", id)
		}
	}
}

func TestNormalizer_UnlinkableHeadDoesNotBlockBacklog(t *testing.T) {
	store := testutil.NewMemStore()
	loc := uuid.New()
	ids := addConcepts(store, loc,
		models.ConceptPayload{Aspect: "sabor"},
		models.ConceptPayload{Entity: "\t\n", Aspect: "precio"},
		models.ConceptPayload{Entity: "café"},
		models.ConceptPayload{Entity: "pan"},
	)

	n := NewEntityNormalizer(store, &keyClassifier{}, Options{})
	res, err := n.Run(context.Background(), &loc, 2)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Processed != 2 {
		t.Errorf("Run() = %+v, want processed=2", res)
	}
	if store.Concept(ids[2]).NormalizedEntityID == nil || store.Concept(ids[3]).NormalizedEntityID == nil {
		t.Error("concepts behind the unlinkable head were not reached")
	}

	again, err := n.Run(context.Background(), &loc, 2)
	if err != nil || again.Processed != 0 || again.Skipped != 0 {
		t.Errorf("second Run() = %+v, %v; want an empty batch", again, err)
	}
}

func TestNormalizer_RejectsEmptyCreate(t *testing.T) {
	store := testutil.NewMemStore()
	loc := uuid.New()
	ids := addConcepts(store, loc, models.ConceptPayload{Entity: "café"}, models.ConceptPayload{Entity: "pan"})

	cls := funcClassifier(func(_ context.Context, req gateway.ClassifyRequest) (gateway.Decision, error) {
		if req.Mention == "café" {
			return gateway.Create{CanonicalKey: "  ", DisplayName: "Café"}, nil
		}
		return gateway.Create{CanonicalKey: "pan", DisplayName: ""}, nil
	})

	res, err := NewEntityNormalizer(store, cls, Options{}).Run(context.Background(), nil, 10)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Rejected != 2 || res.Processed != 0 {
		t.Errorf("Run() = %+v, want rejected=2 processed=0", res)
	}
	if got := len(store.Canonicals(models.KindEntity)); got != 0 {
		t.Errorf("catalog size = %d, want 0", got)
	}
	for _, id := range ids {
		if store.Concept(id).NormalizedEntityID != nil {
			t.Errorf("concept %v linked despite rejected decision", id)
		}
	}
}

func TestNormalizer_CollaboratorFailureSkipsItem(t *testing.T) {
	store := testutil.NewMemStore()
	loc := uuid.New()
	addConcepts(store, loc,
		models.ConceptPayload{Entity: "café"},
		models.ConceptPayload{Entity: "boom"},
		models.ConceptPayload{Entity: "pan"},
	)

	good := &keyClassifier{}
	cls := funcClassifier(func(ctx context.Context, req gateway.ClassifyRequest) (gateway.Decision, error) {
		if req.Mention == "boom" {
			return nil, errors.New("gateway timeout")
		}
		return good.Classify(ctx, req)
	})

	res, err := NewEntityNormalizer(store, cls, Options{}).Run(context.Background(), nil, 10)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Processed != 2 || res.Failed != 1 {
		t.Errorf("Run() = %+v, want processed=2 failed=1", res)
	}
	pending, _ := store.CountPending(context.Background(), models.KindEntity)
	if pending != 1 {
		t.Errorf("pending = %d, want 1 (failed item stays eligible)", pending)
	}
}

func TestNormalizer_UnknownReuseTarget(t *testing.T) {
	store := testutil.NewMemStore()
	addConcepts(store, uuid.New(), models.ConceptPayload{Entity: "café"})

	cls := funcClassifier(func(context.Context, gateway.ClassifyRequest) (gateway.Decision, error) {
		return gateway.Reuse{TargetID: uuid.New()}, nil
	})

	res, err := NewEntityNormalizer(store, cls, Options{}).Run(context.Background(), nil, 10)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Failed != 1 || res.Processed != 0 {
		t.Errorf("Run() = %+v, want failed=1", res)
	}
}

func TestNormalizer_ClassifyTimeout(t *testing.T) {
	store := testutil.NewMemStore()
	addConcepts(store, uuid.New(), models.ConceptPayload{Entity: "café"})

	cls := funcClassifier(func(ctx context.Context, _ gateway.ClassifyRequest) (gateway.Decision, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	res, err := NewEntityNormalizer(store, cls, Options{ClassifyTimeout: 10 * time.Millisecond}).Run(context.Background(), nil, 10)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Failed != 1 {
		t.Errorf("Run() = %+v, want failed=1", res)
	}
}

func TestNormalizer_ListErrorIsReturned(t *testing.T) {
	store := testutil.NewMemStore()
	store.ListErr = errors.New("connection refused")

	_, err := NewEntityNormalizer(store, &keyClassifier{}, Options{}).Run(context.Background(), nil, 10)
	if !errors.Is(err, store.ListErr) {
		t.Errorf("Run() error = %v, want wrapped ListErr", err)
	}
}

func TestNormalizer_CancelledContextReturnsPartial(t *testing.T) {
	store := testutil.NewMemStore()
	addConcepts(store, uuid.New(),
		models.ConceptPayload{Entity: "café"},
		models.ConceptPayload{Entity: "pan"},
		models.ConceptPayload{Entity: "té"},
	)

	ctx, cancel := context.WithCancel(context.Background())
	good := &keyClassifier{}
	cls := funcClassifier(func(c context.Context, req gateway.ClassifyRequest) (gateway.Decision, error) {
		d, err := good.Classify(c, req)
		cancel()
		return d, err
	})

	res, err := NewEntityNormalizer(store, cls, Options{}).Run(ctx, nil, 10)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if res.Processed != 1 {
		t.Errorf("Run() processed = %d, want 1", res.Processed)
	}
}

// racingStore links every concept to a decoy entry just before the real
// link, as if another worker got there first.
type racingStore struct {
	*testutil.MemStore
	decoy uuid.UUID
}

func (r *racingStore) LinkConcept(ctx context.Context, kind models.Kind, conceptID, canonicalID uuid.UUID) (bool, error) {
	if _, err := r.MemStore.LinkConcept(ctx, kind, conceptID, r.decoy); err != nil {
		return false, err
	}
	return r.MemStore.LinkConcept(ctx, kind, conceptID, canonicalID)
}

func TestNormalizer_LostLinkRaceIsSkipped(t *testing.T) {
	mem := testutil.NewMemStore()
	ids := addConcepts(mem, uuid.New(), models.ConceptPayload{Entity: "café"})
	decoy, _, _ := mem.CreateCanonical(context.Background(), models.KindEntity, models.NewCanonical{CanonicalKey: "bebida", DisplayName: "Bebida"})

	store := &racingStore{MemStore: mem, decoy: decoy.ID}
	res, err := NewEntityNormalizer(store, &keyClassifier{}, Options{}).Run(context.Background(), nil, 10)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Skipped != 1 || res.Processed != 0 {
		t.Errorf("Run() = %+v, want skipped=1", res)
	}
	if got := mem.Concept(ids[0]).NormalizedEntityID; got == nil || *got != decoy.ID {
		t.Errorf("normalized_entity_id = %v, want winner %v (never overwritten)", got, decoy.ID)
	}
}

func TestNormalizer_LocationFilter(t *testing.T) {
	store := testutil.NewMemStore()
	locA, locB := uuid.New(), uuid.New()
	a := addConcepts(store, locA, models.ConceptPayload{Entity: "café"})
	b := addConcepts(store, locB, models.ConceptPayload{Entity: "pan"})

	res, err := NewEntityNormalizer(store, &keyClassifier{}, Options{}).Run(context.Background(), &locA, 10)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Processed != 1 {
		t.Errorf("Run() processed = %d, want 1", res.Processed)
	}
	if store.Concept(a[0]).NormalizedEntityID == nil {
		t.Error("concept in requested location not linked")
	}
	if store.Concept(b[0]).NormalizedEntityID != nil {
		t.Error("concept in other location linked")
	}
}

func TestAspectNormalizer_Symmetric(t *testing.T) {
	store := testutil.NewMemStore()
	ids := addConcepts(store, uuid.New(),
		models.ConceptPayload{Entity: "café", Aspect: "Sabor", Judgment: "rico", Intensity: 0.9},
		models.ConceptPayload{Entity: "té", Aspect: "sabor"},
	)

	cls := &keyClassifier{}
	res, err := NewAspectNormalizer(store, cls, Options{}).Run(context.Background(), nil, 10)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Kind != models.KindAspect || res.Processed != 2 || res.Created != 1 {
		t.Errorf("Run() = %+v, want aspect processed=2 created=1", res)
	}
	aspects := store.Canonicals(models.KindAspect)
	if len(aspects) != 1 || aspects[0].CanonicalKey != "sabor" || aspects[0].UsageCount != 2 {
		t.Errorf("aspect catalog = %+v", aspects)
	}
	if len(store.Canonicals(models.KindEntity)) != 0 {
		t.Error("aspect stage wrote entity catalog")
	}
	if store.Concept(ids[0]).NormalizedEntityID != nil {
		t.Error("aspect stage touched normalized_entity_id")
	}
	first := cls.requests[0]
	if first.Context.Companion != "café" || first.Context.Judgment != "rico" || first.Context.Intensity != 0.9 {
		t.Errorf("classifier context = %+v", first.Context)
	}
}

func TestNormalizer_UsageCountMonotonic(t *testing.T) {
	store := testutil.NewMemStore()
	loc := uuid.New()
	n := NewEntityNormalizer(store, &keyClassifier{}, Options{})

	last := map[string]int64{}
	mentions := []string{"café", "pan", "café", "café", "té", "pan"}
	for i, m := range mentions {
		store.AddConcept(loc, models.ConceptPayload{Entity: m}, base.Add(time.Duration(i)*time.Second))
		if _, err := n.Run(context.Background(), nil, 1); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		for _, e := range store.Canonicals(models.KindEntity) {
			if e.UsageCount < last[e.CanonicalKey] {
				t.Fatalf("usage_count for %q decreased: %d -> %d", e.CanonicalKey, last[e.CanonicalKey], e.UsageCount)
			}
			last[e.CanonicalKey] = e.UsageCount
		}
	}
	if last["cafe"] != 3 || last["pan"] != 2 || last["te"] != 1 {
		t.Errorf("usage counts = %v", last)
	}
}

func TestNormalizer_ConcurrentRunsConverge(t *testing.T) {
	store := testutil.NewMemStore()
	loc := uuid.New()
	mentions := []string{"café", "Café", "pan", "té", "pan", "mesero", "café", "té"}
	for i, m := range mentions {
		store.AddConcept(loc, models.ConceptPayload{Entity: m}, base.Add(time.Duration(i)*time.Second))
	}

	const workers = 4
	results := make([]Result, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n := NewEntityNormalizer(store, &keyClassifier{}, Options{})
			results[i], _ = n.Run(context.Background(), nil, 100)
		}(i)
	}
	wg.Wait()

	total := 0
	for _, r := range results {
		total += r.Processed
	}
	if total != len(mentions) {
		t.Errorf("total processed = %d, want %d", total, len(mentions))
	}

	keys := map[string]int{}
	var usage int64
	for _, e := range store.Canonicals(models.KindEntity) {
		keys[e.CanonicalKey]++
		usage += e.UsageCount
	}
	for k, n := range keys {
		if n != 1 {
			t.Errorf("canonical_key %q stored %d times", k, n)
		}
	}
	if len(keys) != 4 {
		t.Errorf("distinct keys = %d, want 4", len(keys))
	}
	if usage != int64(len(mentions)) {
		t.Errorf("total usage = %d, want %d", usage, len(mentions))
	}
}

func TestNormalizer_Postgres(t *testing.T) {
	database, cleanup := testutil.TestDB(t)
	defer cleanup()
	ctx := context.Background()

	loc := uuid.New()
	for i, m := range []string{"café", "Café", "pan"} {
		_, err := database.Pool.Exec(ctx, `
			INSERT INTO concepts (review_id, location_id, structured, created_at)
			VALUES ($1, $2, jsonb_build_object('entity', $3::text, 'aspect', 'sabor'), $4)
		`, uuid.New(), loc, m, base.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("insert concept: %v", err)
		}
	}

	n := NewEntityNormalizer(database, &keyClassifier{}, Options{})
	res, err := n.Run(ctx, &loc, 10)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Processed != 3 || res.Created != 2 {
		t.Errorf("Run() = %+v, want processed=3 created=2", res)
	}

	cafe, err := database.GetCanonicalByKey(ctx, models.KindEntity, "cafe")
	if err != nil {
		t.Fatalf("GetCanonicalByKey() error = %v", err)
	}
	if cafe.UsageCount != 2 {
		t.Errorf("cafe usage_count = %d, want 2", cafe.UsageCount)
	}

	again, err := n.Run(ctx, &loc, 10)
	if err != nil || again.Processed != 0 {
		t.Errorf("second Run() = %+v, %v; want processed=0", again, err)
	}
}
