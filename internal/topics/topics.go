// Package topics groups normalized concepts of a location into topics and
// gives each topic a generated description.
package topics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"conceptnorm/internal/db"
	"conceptnorm/internal/gateway"
	"conceptnorm/internal/metrics"
	"conceptnorm/internal/models"
	"conceptnorm/internal/validation"
)

// Defaults for Options.
const (
	DefaultWindowDays      = 30
	DefaultSampleSize      = 200
	DefaultMinTopicSize    = 3
	DefaultMembersPerTopic = 20
	DefaultEnrichLimit     = 50
	DefaultEnrichWorkers   = 4
	DefaultGroupTimeout    = 60 * time.Second
	DefaultComposeTimeout  = 30 * time.Second

	DefaultTopTopicsLimit = 10
	MaxTopTopicsLimit     = 100
	MaxMinTopicSize       = 50
)

// Store is the persistence the clusterer needs.
type Store interface {
	ListClusterCandidates(ctx context.Context, locationID uuid.UUID, since time.Time, limit int) ([]models.TopicMember, error)
	CreateTopicWithMembers(ctx context.Context, locationID uuid.UUID, label string, conceptIDs []uuid.UUID, minMembers int) (*models.Topic, int, error)
	ListTopicsForEnrichment(ctx context.Context, locationID uuid.UUID, force bool, limit int) ([]models.Topic, error)
	ListTopicMembers(ctx context.Context, topicID uuid.UUID, limit int) ([]models.TopicMember, error)
	UpdateTopicDescription(ctx context.Context, topicID uuid.UUID, description string) error
	TopTopics(ctx context.Context, locationID uuid.UUID, from, to *time.Time, limit int) ([]models.TopicSummary, error)
}

// Options tunes a Clusterer. Zero values select the defaults.
type Options struct {
	WindowDays      int
	SampleSize      int
	MinTopicSize    int
	MembersPerTopic int
	EnrichLimit     int
	EnrichWorkers   int
	GroupTimeout    time.Duration
	ComposeTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.WindowDays <= 0 {
		o.WindowDays = DefaultWindowDays
	}
	if o.SampleSize <= 0 {
		o.SampleSize = DefaultSampleSize
	}
	if o.MinTopicSize <= 0 {
		o.MinTopicSize = DefaultMinTopicSize
	}
	if o.MembersPerTopic <= 0 {
		o.MembersPerTopic = DefaultMembersPerTopic
	}
	if o.EnrichLimit <= 0 {
		o.EnrichLimit = DefaultEnrichLimit
	}
	if o.EnrichWorkers <= 0 {
		o.EnrichWorkers = DefaultEnrichWorkers
	}
	if o.GroupTimeout <= 0 {
		o.GroupTimeout = DefaultGroupTimeout
	}
	if o.ComposeTimeout <= 0 {
		o.ComposeTimeout = DefaultComposeTimeout
	}
	return o
}

// ClusterResult reports one clustering run.
type ClusterResult struct {
	TopicsCreated    int
	ConceptsAssigned int
}

func (r ClusterResult) Response() models.ClusterResponse {
	return models.ClusterResponse{TopicsCreated: r.TopicsCreated, ConceptsAssigned: r.ConceptsAssigned}
}

// EnrichResult reports one enrichment run.
type EnrichResult struct {
	Described int
	Failed    int
}

func (r EnrichResult) Response() models.EnrichResponse {
	return models.EnrichResponse{Described: r.Described, Failed: r.Failed}
}

// Clusterer creates and describes topics.
type Clusterer struct {
	store    Store
	grouper  gateway.Grouper
	composer gateway.Composer
	opts     Options
	now      func() time.Time
	log      *slog.Logger
}

func New(store Store, grouper gateway.Grouper, composer gateway.Composer, opts Options) *Clusterer {
	return &Clusterer{
		store:    store,
		grouper:  grouper,
		composer: composer,
		opts:     opts.withDefaults(),
		now:      time.Now,
		log:      slog.Default().With("stage", "topics"),
	}
}

// Cluster samples recent normalized concepts of a location that have no
// topic yet, asks the grouper for groups and persists every group that still
// has at least minTopicSize unclaimed members. minTopicSize <= 0 selects the
// configured default.
func (c *Clusterer) Cluster(ctx context.Context, locationID uuid.UUID, minTopicSize int) (ClusterResult, error) {
	var res ClusterResult
	minTopicSize = validation.ClampLimit(minTopicSize, c.opts.MinTopicSize, 2, MaxMinTopicSize)

	since := c.now().AddDate(0, 0, -c.opts.WindowDays)
	sample, err := c.store.ListClusterCandidates(ctx, locationID, since, c.opts.SampleSize)
	if err != nil {
		return res, fmt.Errorf("list cluster candidates: %w", err)
	}
	if len(sample) < minTopicSize {
		c.log.Debug("not enough concepts to cluster", "location_id", locationID, "sample", len(sample))
		return res, nil
	}

	gctx, cancel := context.WithTimeout(ctx, c.opts.GroupTimeout)
	groups, err := c.grouper.Group(gctx, sample, minTopicSize)
	cancel()
	if err != nil {
		return res, fmt.Errorf("group concepts: %w", err)
	}

	inSample := make(map[uuid.UUID]bool, len(sample))
	for _, m := range sample {
		inSample[m.ConceptID] = true
	}
	claimed := map[uuid.UUID]bool{}

	for _, g := range groups {
		label := strings.TrimSpace(g.Label)
		if label == "" {
			continue
		}
		var members []uuid.UUID
		for _, id := range g.ConceptIDs {
			if inSample[id] && !claimed[id] {
				claimed[id] = true
				members = append(members, id)
			}
		}
		if len(members) < minTopicSize {
			continue
		}

		topic, assigned, err := c.store.CreateTopicWithMembers(ctx, locationID, label, members, minTopicSize)
		if errors.Is(err, db.ErrTopicTooSmall) {
			c.log.Info("topic dropped, members claimed elsewhere", "location_id", locationID, "label", label)
			continue
		}
		if err != nil {
			metrics.RecordTopicsCreated(res.TopicsCreated)
			return res, fmt.Errorf("create topic %q: %w", label, err)
		}
		res.TopicsCreated++
		res.ConceptsAssigned += assigned
		c.log.Info("topic created", "location_id", locationID, "topic_id", topic.ID, "label", label, "members", assigned)
	}

	metrics.RecordTopicsCreated(res.TopicsCreated)
	return res, nil
}

// Enrich composes a description for every topic of the location that lacks
// one, or for all of them when force is set. A composer failure skips that
// topic only.
func (c *Clusterer) Enrich(ctx context.Context, locationID uuid.UUID, force bool) (EnrichResult, error) {
	var res EnrichResult
	list, err := c.store.ListTopicsForEnrichment(ctx, locationID, force, c.opts.EnrichLimit)
	if err != nil {
		return res, fmt.Errorf("list topics: %w", err)
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(c.opts.EnrichWorkers)
	for _, t := range list {
		g.Go(func() error {
			err := c.describe(ctx, t)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				c.log.Warn("topic enrichment failed", "topic_id", t.ID, "error", err)
				return nil
			}
			res.Described++
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (c *Clusterer) describe(ctx context.Context, t models.Topic) error {
	members, err := c.store.ListTopicMembers(ctx, t.ID, c.opts.MembersPerTopic)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, c.opts.ComposeTimeout)
	text, err := c.composer.Compose(cctx, t.Label, members)
	cancel()
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: empty description", gateway.ErrMalformedResponse)
	}
	return c.store.UpdateTopicDescription(ctx, t.ID, text)
}

// TopTopics ranks the topics of a location by member concepts created in
// [from, to). Either bound may be nil.
func (c *Clusterer) TopTopics(ctx context.Context, locationID uuid.UUID, from, to *time.Time, limit int) ([]models.TopicSummary, error) {
	if from != nil && to != nil && !from.Before(*to) {
		return nil, fmt.Errorf("%w: from must be before to", validation.ErrInvalidParam)
	}
	limit = validation.ClampLimit(limit, DefaultTopTopicsLimit, 1, MaxTopTopicsLimit)
	out, err := c.store.TopTopics(ctx, locationID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("top topics: %w", err)
	}
	if out == nil {
		out = []models.TopicSummary{}
	}
	return out, nil
}
