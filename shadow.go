package docflow

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ShadowOptions configures a ShadowComparator.
type ShadowOptions struct {
	// Shadow is the engine for the candidate pipeline variant.
	Shadow   *Engine
	Recorder ComparisonRecorder
	Logger   *slog.Logger

	// MaxConcurrent bounds in-flight shadow runs; additional requests are
	// dropped rather than queued so a slow candidate cannot back up the
	// primary path.
	MaxConcurrent int64

	// Timeout bounds one shadow run. The shadow deliberately does not inherit
	// the caller's context: the primary result is already committed, and a
	// diagnostic run has its own lifetime.
	Timeout time.Duration
}

// ShadowComparator executes a candidate pipeline against a copy of the job
// after the primary run committed, then records the diff. A shadow run never
// affects the primary outcome: its failures are recorded, not propagated, and
// its checkpoints live under a separate correlation namespace.
type ShadowComparator struct {
	shadow   *Engine
	recorder ComparisonRecorder
	logger   *slog.Logger
	sem      *semaphore.Weighted
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewShadowComparator creates a comparator over the given candidate engine.
func NewShadowComparator(opts ShadowOptions) (*ShadowComparator, error) {
	if opts.Shadow == nil {
		return nil, NewValidationError("shadow engine is required")
	}
	if opts.Recorder == nil {
		opts.Recorder = NewMemoryComparisonRecorder()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &ShadowComparator{
		shadow:   opts.Shadow,
		recorder: opts.Recorder,
		logger:   opts.Logger,
		sem:      semaphore.NewWeighted(opts.MaxConcurrent),
		timeout:  opts.Timeout,
	}, nil
}

// ShadowCorrelationID returns the namespaced id a shadow run checkpoints
// under, keeping it out of the primary resume path.
func ShadowCorrelationID(correlationID string) string {
	return "shadow-" + strings.TrimPrefix(correlationID, "shadow-")
}

// CompareAsync launches a shadow run for a job whose primary run already
// produced a result. It returns immediately; when the concurrency bound is
// saturated the run is dropped with a log line.
func (c *ShadowComparator) CompareAsync(job *Job, primary *Result) {
	if primary == nil || job == nil {
		return
	}
	if !c.sem.TryAcquire(1) {
		c.logger.Warn("shadow run dropped, concurrency bound saturated",
			"correlation_id", primary.CorrelationID)
		return
	}
	shadowJob := &Job{
		CorrelationID: ShadowCorrelationID(primary.CorrelationID),
		UserID:        job.UserID,
		DocumentRef:   job.DocumentRef,
		RawInput:      copyMap(job.RawInput),
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("shadow run panicked",
					"correlation_id", primary.CorrelationID,
					"panic", r)
			}
		}()
		c.run(shadowJob, primary)
	}()
}

// Wait blocks until all in-flight shadow runs finish. Intended for shutdown
// and tests.
func (c *ShadowComparator) Wait() {
	c.wg.Wait()
}

func (c *ShadowComparator) run(shadowJob *Job, primary *Result) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	record := &ComparisonRecord{
		ID:             newComparisonID(),
		CorrelationID:  primary.CorrelationID,
		PrimaryVariant: primary.Variant,
		ShadowVariant:  c.shadow.Variant(),
		CreatedAt:      time.Now(),
	}

	shadowResult, err := c.shadow.Run(ctx, shadowJob)
	if err != nil {
		record.ShadowStatus = WorkflowStatusFailed
		record.ShadowError = err.Error()
	} else {
		record.ShadowStatus = shadowResult.Status
		record.ShadowError = shadowResult.ErrorMessage
		record.ConfidenceDelta = shadowResult.OverallConfidence - primary.OverallConfidence
		record.FieldMatchRate = fieldMatchRate(mappedFields(primary), mappedFields(shadowResult))
		record.LatencyDelta = stageLatency(shadowResult) - stageLatency(primary)
	}

	recordCtx, recordCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer recordCancel()
	if err := c.recorder.Record(recordCtx, record); err != nil {
		c.logger.Error("failed to record shadow comparison",
			"correlation_id", primary.CorrelationID,
			"error", err)
		return
	}
	c.logger.Info("shadow comparison recorded",
		"correlation_id", primary.CorrelationID,
		"shadow_status", record.ShadowStatus,
		"confidence_delta", record.ConfidenceDelta,
		"field_match_rate", record.FieldMatchRate)
}

// mappedFields extracts the final mapped field set of a run: the latest
// successful mapping-stage payload, unwrapping a "fields" sub-map when the
// agent nests one.
func mappedFields(result *Result) map[string]any {
	results := result.StageResults[StageMapping]
	for i := len(results) - 1; i >= 0; i-- {
		if !results[i].Succeeded() {
			continue
		}
		payload := results[i].Payload
		if fields, ok := payload["fields"].(map[string]any); ok {
			return fields
		}
		return payload
	}
	return nil
}

// stageLatency sums agent wall time across all attempts of a run.
func stageLatency(result *Result) time.Duration {
	var total time.Duration
	for _, attempts := range result.StageResults {
		for _, r := range attempts {
			total += r.Duration()
		}
	}
	return total
}
