// Package normalize links pending concepts to canonical entity and aspect
// entries chosen by a Classifier.
//
// Entity and aspect normalization are the same stage parameterised by
// models.Kind. Every item is handled independently: an item that cannot be
// linked is counted and left pending for the next run, and the batch always
// reports how many concepts it actually linked.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"conceptnorm/internal/gateway"
	"conceptnorm/internal/metrics"
	"conceptnorm/internal/models"
	"conceptnorm/internal/validation"
)

// Defaults for Options.
const (
	DefaultCandidateLimit  = 60
	DefaultClassifyTimeout = 30 * time.Second
)

// Item outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

var (
	ErrEmptyMention     = errors.New("empty mention")
	ErrRejectedDecision = errors.New("create decision without key or display name")
	ErrUnknownTarget    = errors.New("reuse target is not an offered candidate")
	ErrAlreadyLinked    = errors.New("concept already linked")
)

// Store is the persistence the normalizer needs.
type Store interface {
	ListPendingConcepts(ctx context.Context, kind models.Kind, locationID *uuid.UUID, limit int) ([]models.Concept, error)
	ListActiveCandidates(ctx context.Context, kind models.Kind, limit int) ([]models.Canonical, error)
	CreateCanonical(ctx context.Context, kind models.Kind, in models.NewCanonical) (*models.Canonical, bool, error)
	LinkConcept(ctx context.Context, kind models.Kind, conceptID, canonicalID uuid.UUID) (bool, error)
}

// Options tunes a Normalizer.
type Options struct {
	CandidateLimit  int
	ClassifyTimeout time.Duration
}

// Result counts item outcomes for one batch.
type Result struct {
	Kind      models.Kind
	Processed int
	Skipped   int
	Rejected  int
	Failed    int
	Created   int
}

// Response converts r to its API shape.
func (r Result) Response() models.NormalizeResponse {
	return models.NormalizeResponse{
		Kind:      r.Kind,
		Processed: r.Processed,
		Skipped:   r.Skipped,
		Rejected:  r.Rejected,
		Failed:    r.Failed,
		Created:   r.Created,
	}
}

// Normalizer links pending concepts of one kind to the canonical catalog.
type Normalizer struct {
	kind       models.Kind
	store      Store
	classifier gateway.Classifier
	opts       Options
	log        *slog.Logger
}

// New creates a normalizer for kind.
func New(kind models.Kind, store Store, classifier gateway.Classifier, opts Options) *Normalizer {
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = DefaultCandidateLimit
	}
	if opts.ClassifyTimeout <= 0 {
		opts.ClassifyTimeout = DefaultClassifyTimeout
	}
	return &Normalizer{
		kind:       kind,
		store:      store,
		classifier: classifier,
		opts:       opts,
		log:        slog.Default().With("stage", "normalize", "kind", string(kind)),
	}
}

// NewEntityNormalizer creates the entity stage.
func NewEntityNormalizer(store Store, classifier gateway.Classifier, opts Options) *Normalizer {
	return New(models.KindEntity, store, classifier, opts)
}

// NewAspectNormalizer creates the aspect stage.
func NewAspectNormalizer(store Store, classifier gateway.Classifier, opts Options) *Normalizer {
	return New(models.KindAspect, store, classifier, opts)
}

// Kind returns the vocabulary this normalizer writes.
func (n *Normalizer) Kind() models.Kind { return n.kind }

// Run processes up to limit pending concepts, oldest first, optionally only
// for one location. limit is clamped to the batch bounds. A cancelled ctx
// stops the batch early and the partial result is returned with ctx.Err().
func (n *Normalizer) Run(ctx context.Context, locationID *uuid.UUID, limit int) (Result, error) {
	res := Result{Kind: n.kind}
	limit = validation.ClampLimit(limit, validation.DefaultBatchLimit, validation.MinBatchLimit, validation.MaxBatchLimit)

	pending, err := n.store.ListPendingConcepts(ctx, n.kind, locationID, limit)
	if err != nil {
		return res, fmt.Errorf("list pending %s concepts: %w", n.kind, err)
	}

	for _, c := range pending {
		if err := ctx.Err(); err != nil {
			n.record(res)
			return res, err
		}

		created, err := n.processOne(ctx, c)
		switch {
		case err == nil:
			res.Processed++
			if created {
				res.Created++
			}
		case errors.Is(err, ErrEmptyMention), errors.Is(err, ErrAlreadyLinked):
			res.Skipped++
			n.log.Debug("concept skipped", "concept_id", c.ID, "reason", err)
		case errors.Is(err, ErrRejectedDecision):
			res.Rejected++
			n.log.Warn("classifier decision rejected", "concept_id", c.ID, "error", err)
		default:
			res.Failed++
			n.log.Warn("concept normalization failed", "concept_id", c.ID, "error", err)
		}
	}

	n.record(res)
	if len(pending) > 0 {
		n.log.Info("normalize batch finished",
			"pending", len(pending),
			"processed", res.Processed,
			"created", res.Created,
			"skipped", res.Skipped,
			"rejected", res.Rejected,
			"failed", res.Failed,
		)
	}
	return res, nil
}

func (n *Normalizer) record(res Result) {
	metrics.RecordNormalizerOutcome(n.kind, OutcomeProcessed, res.Processed)
	metrics.RecordNormalizerOutcome(n.kind, OutcomeSkipped, res.Skipped)
	metrics.RecordNormalizerOutcome(n.kind, OutcomeRejected, res.Rejected)
	metrics.RecordNormalizerOutcome(n.kind, OutcomeFailed, res.Failed)
	metrics.RecordCanonicalsCreated(n.kind, res.Created)
}

// processOne links a single concept. created reports whether a new catalog
// entry was inserted for it.
func (n *Normalizer) processOne(ctx context.Context, c models.Concept) (created bool, err error) {
	payload, err := c.Payload()
	if err != nil {
		return false, fmt.Errorf("%w: undecodable payload: %v", ErrEmptyMention, err)
	}
	mention := payload.Mention(n.kind)
	if mention == "" {
		return false, ErrEmptyMention
	}

	candidates, err := n.store.ListActiveCandidates(ctx, n.kind, n.opts.CandidateLimit)
	if err != nil {
		return false, fmt.Errorf("list candidates: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, n.opts.ClassifyTimeout)
	decision, err := n.classifier.Classify(cctx, gateway.ClassifyRequest{
		Kind:    n.kind,
		Mention: mention,
		Context: gateway.MentionContext{
			Companion: payload.Mention(n.kind.Companion()),
			Judgment:  payload.Judgment,
			Intensity: float64(payload.Intensity),
		},
		Candidates: candidates,
	})
	cancel()
	if err != nil {
		return false, fmt.Errorf("classify %q: %w", mention, err)
	}

	var targetID uuid.UUID
	switch d := decision.(type) {
	case gateway.Reuse:
		if !offered(candidates, d.TargetID) {
			return false, fmt.Errorf("%w: %s", ErrUnknownTarget, d.TargetID)
		}
		targetID = d.TargetID
	case gateway.Create:
		key := validation.NormalizeCanonicalKey(d.CanonicalKey)
		name := validation.NormalizeDisplayName(d.DisplayName)
		if key == "" || name == "" {
			return false, fmt.Errorf("%w: key=%q name=%q", ErrRejectedDecision, d.CanonicalKey, d.DisplayName)
		}
		examples := d.Examples
		if len(examples) == 0 {
			examples = []string{mention}
		}
		entry, isNew, err := n.store.CreateCanonical(ctx, n.kind, models.NewCanonical{
			CanonicalKey: key,
			DisplayName:  name,
			Description:  d.Description,
			Examples:     examples,
		})
		if err != nil {
			return false, fmt.Errorf("create canonical %q: %w", key, err)
		}
		targetID = entry.ID
		created = isNew
	default:
		return false, fmt.Errorf("%w: unexpected decision %T", gateway.ErrMalformedResponse, decision)
	}

	linked, err := n.store.LinkConcept(ctx, n.kind, c.ID, targetID)
	if err != nil {
		return false, fmt.Errorf("link concept: %w", err)
	}
	if !linked {
		return false, ErrAlreadyLinked
	}
	return created, nil
}

func offered(candidates []models.Canonical, id uuid.UUID) bool {
	for _, c := range candidates {
		if c.ID == id {
			return true
		}
	}
	return false
}
