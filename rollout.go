package docflow

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Variant identifies which pipeline configuration a workflow executes.
type Variant string

const (
	VariantControl   Variant = "control"
	VariantTreatment Variant = "treatment"
)

// RollbackThresholds define when the treatment variant is considered to be
// regressing. A breach of any threshold over at least MinSamples outcomes in
// the rolling window trips an automatic rollback.
type RollbackThresholds struct {
	ErrorRate    float64       `json:"error_rate" yaml:"error_rate"`
	P95Latency   time.Duration `json:"p95_latency" yaml:"p95_latency"`
	QualityFloor float64       `json:"quality_floor" yaml:"quality_floor"`
	MinSamples   int           `json:"min_samples" yaml:"min_samples"`
}

// DefaultRollbackThresholds returns conservative defaults.
func DefaultRollbackThresholds() RollbackThresholds {
	return RollbackThresholds{
		ErrorRate:    0.20,
		P95Latency:   30 * time.Second,
		QualityFloor: 0.50,
		MinSamples:   20,
	}
}

// RolloutConfig is the process-wide rollout state. It is read by every job's
// variant assignment and replaced only as a whole value, so readers always see
// a consistent percentage/rollback pair.
type RolloutConfig struct {
	Percentage        int                `json:"percentage"`
	RollbackTriggered bool               `json:"rollback_triggered"`
	Thresholds        RollbackThresholds `json:"thresholds"`
}

// outcome is one recorded workflow completion for rollback evaluation.
type outcome struct {
	at      time.Time
	err     bool
	latency time.Duration
	quality float64
}

// RolloutController assigns pipeline variants and enforces the automatic
// rollback safety limit. Assignment is sticky per user: a deterministic hash
// of the user id is compared against the percentage, so a user's experience is
// stable across their documents while the configuration is unchanged.
type RolloutController struct {
	config atomic.Pointer[RolloutConfig]
	window time.Duration
	logger *slog.Logger

	mutex    sync.Mutex
	outcomes map[Variant][]outcome
	now      func() time.Time
}

// RolloutOptions configures a RolloutController.
type RolloutOptions struct {
	Percentage int
	Thresholds RollbackThresholds
	Window     time.Duration
	Logger     *slog.Logger
}

// NewRolloutController creates a controller with the given initial
// configuration.
func NewRolloutController(opts RolloutOptions) (*RolloutController, error) {
	if opts.Percentage < 0 || opts.Percentage > 100 {
		return nil, fmt.Errorf("rollout percentage %d out of range [0,100]", opts.Percentage)
	}
	if opts.Thresholds == (RollbackThresholds{}) {
		opts.Thresholds = DefaultRollbackThresholds()
	}
	if opts.Window <= 0 {
		opts.Window = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	c := &RolloutController{
		window:   opts.Window,
		logger:   opts.Logger,
		outcomes: map[Variant][]outcome{},
		now:      time.Now,
	}
	c.config.Store(&RolloutConfig{
		Percentage: opts.Percentage,
		Thresholds: opts.Thresholds,
	})
	return c, nil
}

// Config returns the current rollout configuration value.
func (c *RolloutController) Config() RolloutConfig {
	return *c.config.Load()
}

// AssignVariant returns the variant for a user. The same user id always maps
// to the same variant for the lifetime of the current percentage; a rolled
// back configuration returns control for all users regardless of hash.
func (c *RolloutController) AssignVariant(userID string) Variant {
	cfg := c.config.Load()
	if cfg.RollbackTriggered || cfg.Percentage <= 0 {
		return VariantControl
	}
	h := fnv.New32a()
	h.Write([]byte(userID))
	if int(h.Sum32()%100) < cfg.Percentage {
		return VariantTreatment
	}
	return VariantControl
}

// RecordOutcome adds one workflow completion to the rolling window.
func (c *RolloutController) RecordOutcome(variant Variant, errOccurred bool, latency time.Duration, quality float64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	c.outcomes[variant] = append(c.outcomes[variant], outcome{
		at:      now,
		err:     errOccurred,
		latency: latency,
		quality: quality,
	})
	c.pruneLocked(variant, now)
}

// EvaluateRollback inspects the treatment window and trips the rollback if any
// threshold is breached. It is idempotent: concurrent breach detections
// collapse to a single rollback action. Returns true if a rollback is in
// effect after the call.
func (c *RolloutController) EvaluateRollback() bool {
	cfg := c.config.Load()
	if cfg.RollbackTriggered {
		return true
	}
	if cfg.Percentage == 0 {
		return false
	}

	stats := c.VariantStats(VariantTreatment)
	if stats.Samples < cfg.Thresholds.MinSamples {
		return false
	}

	var reason string
	switch {
	case stats.ErrorRate > cfg.Thresholds.ErrorRate:
		reason = fmt.Sprintf("error rate %.3f exceeds %.3f", stats.ErrorRate, cfg.Thresholds.ErrorRate)
	case cfg.Thresholds.P95Latency > 0 && stats.P95Latency > cfg.Thresholds.P95Latency:
		reason = fmt.Sprintf("p95 latency %s exceeds %s", stats.P95Latency, cfg.Thresholds.P95Latency)
	case cfg.Thresholds.QualityFloor > 0 && stats.MeanQuality < cfg.Thresholds.QualityFloor:
		reason = fmt.Sprintf("mean quality %.3f below floor %.3f", stats.MeanQuality, cfg.Thresholds.QualityFloor)
	default:
		return false
	}

	rolledBack := *cfg
	rolledBack.Percentage = 0
	rolledBack.RollbackTriggered = true
	// CompareAndSwap makes the trip atomic: if another evaluation got there
	// first, the rollback is already in effect and there is nothing to do.
	if c.config.CompareAndSwap(cfg, &rolledBack) {
		c.logger.Warn("automatic rollback triggered",
			"reason", reason,
			"samples", stats.Samples,
			"error_rate", stats.ErrorRate,
			"p95_latency", stats.P95Latency,
			"mean_quality", stats.MeanQuality)
	}
	return true
}

// SetPercentage updates the rollout percentage through the administrative
// surface. It is rejected while a rollback is in effect; the flag must be
// cleared explicitly first, so automatic re-enable is impossible.
func (c *RolloutController) SetPercentage(percentage int) error {
	if percentage < 0 || percentage > 100 {
		return fmt.Errorf("rollout percentage %d out of range [0,100]", percentage)
	}
	for {
		cfg := c.config.Load()
		if cfg.RollbackTriggered {
			return fmt.Errorf("rollout is rolled back; clear the rollback before setting a percentage")
		}
		updated := *cfg
		updated.Percentage = percentage
		if c.config.CompareAndSwap(cfg, &updated) {
			c.logger.Info("rollout percentage updated", "percentage", percentage)
			return nil
		}
	}
}

// TriggerRollback forces a manual rollback through the administrative surface.
func (c *RolloutController) TriggerRollback() {
	for {
		cfg := c.config.Load()
		if cfg.RollbackTriggered {
			return
		}
		rolledBack := *cfg
		rolledBack.Percentage = 0
		rolledBack.RollbackTriggered = true
		if c.config.CompareAndSwap(cfg, &rolledBack) {
			c.logger.Warn("manual rollback triggered")
			return
		}
	}
}

// ClearRollback clears the rollback flag and restores the given percentage.
// This is the only path out of the rolled-back state.
func (c *RolloutController) ClearRollback(percentage int) error {
	if percentage < 0 || percentage > 100 {
		return fmt.Errorf("rollout percentage %d out of range [0,100]", percentage)
	}
	for {
		cfg := c.config.Load()
		updated := *cfg
		updated.Percentage = percentage
		updated.RollbackTriggered = false
		if c.config.CompareAndSwap(cfg, &updated) {
			// Past treatment outcomes belong to the configuration that was
			// rolled back; they must not trip the fresh one.
			c.mutex.Lock()
			c.outcomes = map[Variant][]outcome{}
			c.mutex.Unlock()
			c.logger.Info("rollback cleared", "percentage", percentage)
			return nil
		}
	}
}

// VariantStats summarizes the rolling window for one variant.
type VariantStats struct {
	Samples     int           `json:"samples"`
	ErrorRate   float64       `json:"error_rate"`
	P95Latency  time.Duration `json:"p95_latency"`
	MeanQuality float64       `json:"mean_quality"`
}

// VariantStats computes windowed metrics for a variant.
func (c *RolloutController) VariantStats(variant Variant) VariantStats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.pruneLocked(variant, c.now())
	samples := c.outcomes[variant]
	stats := VariantStats{Samples: len(samples)}
	if len(samples) == 0 {
		return stats
	}

	var errCount int
	var qualitySum float64
	latencies := make([]time.Duration, 0, len(samples))
	for _, o := range samples {
		if o.err {
			errCount++
		}
		qualitySum += o.quality
		latencies = append(latencies, o.latency)
	}
	stats.ErrorRate = float64(errCount) / float64(len(samples))
	stats.MeanQuality = qualitySum / float64(len(samples))

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	idx := (95*len(latencies) + 99) / 100
	if idx > 0 {
		idx--
	}
	stats.P95Latency = latencies[idx]
	return stats
}

// pruneLocked drops outcomes older than the rolling window. Callers hold the
// mutex.
func (c *RolloutController) pruneLocked(variant Variant, now time.Time) {
	cutoff := now.Add(-c.window)
	samples := c.outcomes[variant]
	keep := samples[:0]
	for _, o := range samples {
		if o.at.After(cutoff) {
			keep = append(keep, o)
		}
	}
	c.outcomes[variant] = keep
}
