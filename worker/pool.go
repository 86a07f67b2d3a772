package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docflow-ai/docflow"
)

// ErrQueueClosed signals a clean shutdown of the queue.
var ErrQueueClosed = errors.New("job queue closed")

// PoolOptions configures a worker pool.
type PoolOptions struct {
	Queue   JobQueue
	Rollout *docflow.RolloutController

	// Control and Treatment are the two pipeline variants. Treatment may be
	// nil when no rollout is in progress; all jobs then run control.
	Control   *docflow.Engine
	Treatment *docflow.Engine

	// Shadow, when set, runs the candidate pipeline after each successful
	// control run for diagnostics.
	Shadow *docflow.ShadowComparator

	Workers int
	Logger  *slog.Logger
}

// Pool consumes jobs and runs each through the variant the rollout controller
// assigns, recording outcomes for rollback evaluation.
type Pool struct {
	queue     JobQueue
	rollout   *docflow.RolloutController
	control   *docflow.Engine
	treatment *docflow.Engine
	shadow    *docflow.ShadowComparator
	workers   int
	logger    *slog.Logger
}

// NewPool creates a pool.
func NewPool(opts PoolOptions) (*Pool, error) {
	if opts.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if opts.Control == nil {
		return nil, errors.New("control engine is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Pool{
		queue:     opts.Queue,
		rollout:   opts.Rollout,
		control:   opts.Control,
		treatment: opts.Treatment,
		shadow:    opts.Shadow,
		workers:   opts.Workers,
		logger:    opts.Logger,
	}, nil
}

// Run consumes jobs until the context ends or the queue closes. In-flight
// shadow runs are drained before returning.
func (p *Pool) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		group.Go(func() error {
			return p.work(ctx)
		})
	}
	err := group.Wait()
	if p.shadow != nil {
		p.shadow.Wait()
	}
	if errors.Is(err, ErrQueueClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) work(ctx context.Context) error {
	for {
		delivery, err := p.queue.Dequeue(ctx)
		if err != nil {
			return err
		}
		p.handle(ctx, delivery)
	}
}

func (p *Pool) handle(ctx context.Context, delivery *Delivery) {
	job := delivery.Job
	engine := p.pick(job)

	result, err := engine.Run(ctx, job)
	if err != nil {
		retryable := docflow.IsRetryableJobFailure(err) || ctx.Err() != nil
		p.logger.Error("job failed",
			"correlation_id", job.CorrelationID,
			"error", err,
			"requeue", retryable)
		delivery.Nack(retryable)
		return
	}

	p.recordOutcome(engine.Variant(), result)
	if p.shadow != nil && engine == p.control && !job.Resume {
		p.shadow.CompareAsync(job, result)
	}
	delivery.Ack()
}

// pick selects the engine for a job. Assignment hashes the user id, so it is
// sticky: the same user lands on the same variant for as long as the rollout
// configuration holds, resumes included.
func (p *Pool) pick(job *docflow.Job) *docflow.Engine {
	if p.treatment == nil || p.rollout == nil {
		return p.control
	}
	if p.rollout.AssignVariant(job.UserID) == docflow.VariantTreatment {
		return p.treatment
	}
	return p.control
}

func (p *Pool) recordOutcome(variant docflow.Variant, result *docflow.Result) {
	if p.rollout == nil {
		return
	}
	errOccurred := result.Status == docflow.WorkflowStatusFailed
	p.rollout.RecordOutcome(variant, errOccurred, resultLatency(result), result.OverallConfidence)
}

// resultLatency sums agent wall time across all attempts.
func resultLatency(result *docflow.Result) time.Duration {
	var total time.Duration
	for _, attempts := range result.StageResults {
		for _, r := range attempts {
			total += r.Duration()
		}
	}
	return total
}
