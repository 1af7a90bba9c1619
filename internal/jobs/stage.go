package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"conceptnorm/internal/models"
	"conceptnorm/internal/normalize"
)

// StageResult reports one page of work for a location.
type StageResult struct {
	ProcessedReviews int
	InsertedConcepts int
	// Processed counts units of forward progress: reviews extracted plus
	// concepts linked. The drain loop stops on a page where it is zero.
	Processed int
}

func (r *StageResult) add(o StageResult) {
	r.ProcessedReviews += o.ProcessedReviews
	r.InsertedConcepts += o.InsertedConcepts
	r.Processed += o.Processed
}

// LocationStage processes up to pageSize items of backlog for one location.
type LocationStage interface {
	ProcessLocation(ctx context.Context, locationID uuid.UUID, pageSize int) (StageResult, error)
}

// ExtractResult is what an upstream extraction pass reports.
type ExtractResult struct {
	Reviews  int
	Concepts int
}

// Extractor turns pending reviews of a location into concepts. It lives
// outside this service; the pipeline runs without one.
type Extractor interface {
	Extract(ctx context.Context, locationID uuid.UUID, limit int) (ExtractResult, error)
}

// Normalizer is the slice of normalize.Normalizer the pipeline drives.
type Normalizer interface {
	Kind() models.Kind
	Run(ctx context.Context, locationID *uuid.UUID, limit int) (normalize.Result, error)
}

// PipelineStage runs the optional extractor followed by each normalizer for
// one location.
type PipelineStage struct {
	extractor   Extractor
	normalizers []Normalizer
	log         *slog.Logger
}

// NewPipelineStage builds the default stage. extractor may be nil.
func NewPipelineStage(extractor Extractor, normalizers ...Normalizer) *PipelineStage {
	return &PipelineStage{
		extractor:   extractor,
		normalizers: normalizers,
		log:         slog.Default().With("stage", "pipeline"),
	}
}

func (p *PipelineStage) ProcessLocation(ctx context.Context, locationID uuid.UUID, pageSize int) (StageResult, error) {
	var res StageResult

	if p.extractor != nil {
		ex, err := p.extractor.Extract(ctx, locationID, pageSize)
		if err != nil {
			// Concepts already extracted can still be normalized.
			p.log.Warn("extraction failed", "location_id", locationID, "error", err)
		} else {
			res.ProcessedReviews = ex.Reviews
			res.InsertedConcepts = ex.Concepts
			res.Processed += ex.Reviews
		}
	}

	loc := locationID
	for _, n := range p.normalizers {
		out, err := n.Run(ctx, &loc, pageSize)
		res.Processed += out.Processed
		if err != nil {
			return res, fmt.Errorf("normalize %s: %w", n.Kind(), err)
		}
	}
	return res, nil
}
