package docflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewRolloutMonitor(t *testing.T) {
	controller, err := NewRolloutController(RolloutOptions{Percentage: 50})
	require.NoError(t, err)

	_, err = NewRolloutMonitor(controller, 0, nil)
	require.Error(t, err)

	monitor, err := NewRolloutMonitor(controller, time.Second, nil)
	require.NoError(t, err)
	monitor.Start()
	monitor.Stop()
}

func TestRolloutMonitorTripsRollback(t *testing.T) {
	controller, err := NewRolloutController(RolloutOptions{
		Percentage: 50,
		Thresholds: RollbackThresholds{ErrorRate: 0.2, MinSamples: 5},
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		controller.RecordOutcome(VariantTreatment, true, time.Second, 0.9)
	}

	monitor, err := NewRolloutMonitor(controller, 10*time.Millisecond, nil)
	require.NoError(t, err)
	monitor.Start()
	defer monitor.Stop()

	require.Eventually(t, func() bool {
		return controller.Config().RollbackTriggered
	}, 5*time.Second, 10*time.Millisecond)
}
