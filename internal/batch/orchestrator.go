// Package batch drives a recommendation batch: every product against every
// selected model for every iteration, one call at a time.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recd/internal/catalog"
	"github.com/fyrsmithlabs/recd/internal/logging"
	"github.com/fyrsmithlabs/recd/internal/products"
	"github.com/fyrsmithlabs/recd/internal/progress"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/recd/internal/batch"

	// DefaultMaxIterations caps the iterations a caller may request.
	DefaultMaxIterations = 10
)

// Completer returns the completion text for prompt on the model named by key.
type Completer interface {
	Complete(ctx context.Context, modelKey, prompt string) (string, error)
}

// Publisher receives progress snapshots. It must not block.
type Publisher interface {
	Publish(ctx context.Context, ev progress.Event)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock sets the time source for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithMaxIterations overrides DefaultMaxIterations.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) { o.maxIterations = n }
}

// Orchestrator runs batches sequentially against a Completer.
type Orchestrator struct {
	completer     Completer
	catalog       *catalog.Catalog
	publisher     Publisher
	logger        *logging.Logger
	now           func() time.Time
	maxIterations int
	tracer        trace.Tracer
	metrics       *metrics
}

// New creates an orchestrator.
func New(c Completer, cat *catalog.Catalog, pub Publisher, opts ...Option) (*Orchestrator, error) {
	if c == nil {
		return nil, errors.New("completer is required")
	}
	if cat == nil {
		return nil, errors.New("catalog is required")
	}
	if pub == nil {
		return nil, errors.New("publisher is required")
	}

	o := &Orchestrator{
		completer:     c,
		catalog:       cat,
		publisher:     pub,
		logger:        logging.Nop(),
		now:           time.Now,
		maxIterations: DefaultMaxIterations,
		tracer:        otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.maxIterations < 1 {
		return nil, fmt.Errorf("max iterations must be at least 1, got %d", o.maxIterations)
	}
	o.metrics = newMetrics(otel.Meter(instrumentationName), o.logger.Underlying())
	return o, nil
}

// Validate checks a batch request without running it.
func (o *Orchestrator) Validate(modelKeys []string, iterations int) error {
	if len(modelKeys) == 0 {
		return &InputError{Reason: "at least one model must be selected"}
	}
	if iterations < 1 || iterations > o.maxIterations {
		return &InputError{Reason: fmt.Sprintf("iterations must be between 1 and %d, got %d", o.maxIterations, iterations)}
	}
	if _, err := o.catalog.Resolve(modelKeys); err != nil {
		return &InputError{Reason: "invalid model selection", Err: err}
	}
	return nil
}

// Run processes every WorkUnit in order and returns one ResultRow per unit.
//
// A unit whose call fails after all retries yields an error-marker row and
// the batch moves on. Progress is published as started, one processing event
// per unit carrying the counters before that unit, then compiling at 100%.
func (o *Orchestrator) Run(ctx context.Context, batchID string, rows []products.Row, modelKeys []string, iterations int) ([]ResultRow, error) {
	if batchID == "" {
		return nil, &InputError{Reason: "batch id is required"}
	}
	if err := o.Validate(modelKeys, iterations); err != nil {
		return nil, err
	}

	ctx = logging.WithBatchID(ctx, batchID)
	ctx, span := o.tracer.Start(ctx, "batch.run")
	defer span.End()

	units := Units(rows, modelKeys, iterations)
	state := State{Total: len(units)}

	span.SetAttributes(
		attribute.String("batch.id", batchID),
		attribute.Int("batch.products", len(rows)),
		attribute.Int("batch.models", len(modelKeys)),
		attribute.Int("batch.iterations", iterations),
		attribute.Int("batch.units", state.Total),
	)

	o.metrics.addActive(ctx, 1)
	defer o.metrics.addActive(ctx, -1)

	o.logger.Info(ctx, "batch started",
		zap.Int("products", len(rows)),
		zap.Strings("models", modelKeys),
		zap.Int("iterations", iterations),
		zap.Int("total", state.Total),
	)
	o.publish(ctx, batchID, state, progress.StatusStarted, nil, "Starting batch")

	results := make([]ResultRow, 0, state.Total)
	failed := 0
	for _, u := range units {
		o.publish(ctx, batchID, state, progress.StatusProcessing, &u, "")

		row := o.runUnit(ctx, u)
		if row.Failed {
			failed++
		}
		results = append(results, row)
		state.Advance()
	}

	o.publish(ctx, batchID, state, progress.StatusCompiling, nil, "Compiling output")

	span.SetAttributes(attribute.Int("batch.failed_units", failed))
	o.logger.Info(ctx, "batch finished",
		zap.Int("total", state.Total),
		zap.Int("failed", failed),
	)
	return results, nil
}

func (o *Orchestrator) runUnit(ctx context.Context, u WorkUnit) ResultRow {
	ctx, span := o.tracer.Start(ctx, "batch.unit", trace.WithAttributes(
		attribute.String("model", u.Model),
		attribute.Int("iteration", u.Iteration),
	))
	defer span.End()

	start := time.Now()
	text, err := o.completer.Complete(ctx, u.Model, Prompt(u.Product.Description))
	outcome := "success"
	if err != nil {
		outcome = "error"
		text = ErrorMarkerPrefix + err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Warn(ctx, "work unit failed",
			zap.String("model", u.Model),
			zap.Int("iteration", u.Iteration),
			zap.Error(err),
		)
	}
	o.metrics.recordUnit(ctx, u.Model, outcome, time.Since(start))

	return ResultRow{
		Product:        u.Product.Description,
		Model:          u.Model,
		Iteration:      u.Iteration,
		Recommendation: text,
		Timestamp:      o.now().UTC(),
		Failed:         err != nil,
	}
}

func (o *Orchestrator) publish(ctx context.Context, batchID string, s State, status progress.Status, u *WorkUnit, msg string) {
	ev := progress.Event{
		BatchID:    batchID,
		Completed:  s.Completed,
		Total:      s.Total,
		Percentage: s.Percentage(),
		Status:     status,
		Message:    msg,
	}
	if u != nil {
		ev.CurrentProduct = u.Product.Description
		ev.CurrentModel = u.Model
		ev.Iteration = u.Iteration
		ev.Message = fmt.Sprintf("Processing %s with %s (iteration %d)", u.Product.Description, u.Model, u.Iteration)
	}
	o.publisher.Publish(ctx, ev)
}
