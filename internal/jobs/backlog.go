package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"conceptnorm/internal/metrics"
	"conceptnorm/internal/models"
)

// Defaults for RunnerOptions.
const (
	DefaultPageSize            = 50
	DefaultMaxPagesPerLocation = 50
	DefaultWorkers             = 1
	DefaultBudget              = 55 * time.Second
)

// LocationLister lists the locations the runner drains.
type LocationLister interface {
	ListLocationIDs(ctx context.Context) ([]uuid.UUID, error)
}

// RunnerOptions tunes a BacklogRunner. Zero values select the defaults.
type RunnerOptions struct {
	PageSize            int
	MaxPagesPerLocation int
	Workers             int
	// Budget bounds a single Run.
	Budget time.Duration
	// Interval is the period of Start.
	Interval time.Duration
	Exclude  []uuid.UUID
}

// Summary reports a backlog run.
type Summary struct {
	Locations        int
	ProcessedReviews int
	InsertedConcepts int
	Processed        int
}

func (s Summary) Response() models.BacklogResponse {
	return models.BacklogResponse{
		Locations:        s.Locations,
		ProcessedReviews: s.ProcessedReviews,
		InsertedConcepts: s.InsertedConcepts,
		Processed:        s.Processed,
	}
}

// BacklogRunner drains the per-location backlog by calling the stage with a
// fixed page size until a page makes no progress. There is no cursor: an
// interrupted run is resumed by the next one because stages only pick up
// work that is still pending.
type BacklogRunner struct {
	lister  LocationLister
	stage   LocationStage
	opts    RunnerOptions
	exclude map[uuid.UUID]bool
	log     *slog.Logger
}

// NewBacklogRunner creates a runner.
func NewBacklogRunner(lister LocationLister, stage LocationStage, opts RunnerOptions) *BacklogRunner {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxPagesPerLocation <= 0 {
		opts.MaxPagesPerLocation = DefaultMaxPagesPerLocation
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Budget <= 0 {
		opts.Budget = DefaultBudget
	}
	exclude := make(map[uuid.UUID]bool, len(opts.Exclude))
	for _, id := range opts.Exclude {
		exclude[id] = true
	}
	return &BacklogRunner{
		lister:  lister,
		stage:   stage,
		opts:    opts,
		exclude: exclude,
		log:     slog.Default().With("job", "backlog"),
	}
}

// Run drains every location once within the time budget. Running out of
// budget is not an error: the partial summary is returned and the next run
// continues. Cancellation of ctx itself is reported.
func (r *BacklogRunner) Run(ctx context.Context) (sum Summary, err error) {
	defer func() { metrics.RecordBacklogRun(err) }()

	start := time.Now()
	bctx, cancel := context.WithTimeout(ctx, r.opts.Budget)
	defer cancel()

	locations, err := r.lister.ListLocationIDs(bctx)
	if err != nil {
		return sum, fmt.Errorf("list locations: %w", err)
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(r.opts.Workers)
	for _, loc := range locations {
		if r.exclude[loc] {
			continue
		}
		if bctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := r.drain(bctx, loc)

			mu.Lock()
			sum.Locations++
			sum.ProcessedReviews += res.ProcessedReviews
			sum.InsertedConcepts += res.InsertedConcepts
			sum.Processed += res.Processed
			mu.Unlock()

			if err != nil && bctx.Err() == nil {
				r.log.Warn("location drain failed", "location_id", loc, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return sum, err
	}
	if errors.Is(bctx.Err(), context.DeadlineExceeded) {
		r.log.Warn("backlog run stopped at time budget", "budget", r.opts.Budget, "locations", sum.Locations)
	}
	r.log.Info("backlog run finished",
		"locations", sum.Locations,
		"processed_reviews", sum.ProcessedReviews,
		"inserted_concepts", sum.InsertedConcepts,
		"processed", sum.Processed,
		"elapsed", time.Since(start),
	)
	return sum, nil
}

// drain pages through one location until a page reports no progress.
func (r *BacklogRunner) drain(ctx context.Context, loc uuid.UUID) (StageResult, error) {
	var total StageResult
	for page := 0; page < r.opts.MaxPagesPerLocation; page++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := r.stage.ProcessLocation(ctx, loc, r.opts.PageSize)
		total.add(res)
		if err != nil {
			return total, err
		}
		if res.Processed == 0 {
			return total, nil
		}
	}
	r.log.Warn("location page cap reached", "location_id", loc, "pages", r.opts.MaxPagesPerLocation)
	return total, nil
}

// Start runs the backlog once immediately and then every Interval until ctx
// is done.
func (r *BacklogRunner) Start(ctx context.Context) {
	if r.opts.Interval <= 0 {
		r.log.Info("backlog scheduler disabled, no interval configured")
		return
	}
	r.log.Info("backlog scheduler started", "interval", r.opts.Interval, "budget", r.opts.Budget)

	r.runOnce(ctx)

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("backlog scheduler stopped")
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *BacklogRunner) runOnce(ctx context.Context) {
	if _, err := r.Run(ctx); err != nil && ctx.Err() == nil {
		r.log.Error("backlog run failed", "error", err)
	}
}
