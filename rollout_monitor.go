package docflow

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// RolloutMonitor runs EvaluateRollback on a fixed interval, decoupled from the
// per-job path.
type RolloutMonitor struct {
	controller *RolloutController
	cron       *cron.Cron
	interval   time.Duration
	logger     *slog.Logger
}

// NewRolloutMonitor creates a monitor that evaluates the rollback condition
// every interval.
func NewRolloutMonitor(controller *RolloutController, interval time.Duration, logger *slog.Logger) (*RolloutMonitor, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("monitor interval must be positive")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := &RolloutMonitor{
		controller: controller,
		cron:       cron.New(),
		interval:   interval,
		logger:     logger,
	}
	if _, err := m.cron.AddFunc(fmt.Sprintf("@every %s", interval), m.evaluate); err != nil {
		return nil, fmt.Errorf("failed to schedule rollback evaluation: %w", err)
	}
	return m, nil
}

// Start begins periodic evaluation.
func (m *RolloutMonitor) Start() {
	m.cron.Start()
	m.logger.Info("rollout monitor started", "interval", m.interval)
}

// Stop halts evaluation and waits for an in-flight run to finish.
func (m *RolloutMonitor) Stop() {
	<-m.cron.Stop().Done()
	m.logger.Info("rollout monitor stopped")
}

func (m *RolloutMonitor) evaluate() {
	if m.controller.EvaluateRollback() {
		m.logger.Debug("rollback in effect")
	}
}
