package usage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/eventshift/internal/event"
)

func observe(e *Estimator, userID, deviceID string) {
	e.Observe(&event.TransformedEvent{UserID: userID, DeviceID: deviceID})
}

func TestEstimateStrategies(t *testing.T) {
	e := NewEstimator(true)
	observe(e, "a", "")
	observe(e, "a", "")
	observe(e, "", "x")

	require.Equal(t, 1, e.Estimate(ByUserID))
	require.Equal(t, 1, e.Estimate(ByDeviceID))
	require.Equal(t, 2, e.Estimate(ByUnion))
}

func TestEstimateUnionDeduplicatesSharedIDs(t *testing.T) {
	e := NewEstimator(true)
	observe(e, "shared", "shared")
	observe(e, "u2", "d2")

	require.Equal(t, 2, e.Estimate(ByUserID))
	require.Equal(t, 2, e.Estimate(ByDeviceID))
	require.Equal(t, 3, e.Estimate(ByUnion))
}

func TestExcludeNullSentinel(t *testing.T) {
	strict := NewEstimator(true)
	observe(strict, "null", "null")
	observe(strict, "a", "")
	require.Equal(t, 1, strict.Estimate(ByUnion))

	lax := NewEstimator(false)
	observe(lax, "null", "")
	observe(lax, "a", "")
	require.Equal(t, 2, lax.Estimate(ByUnion))
}

func TestUnknownStrategyFallsBackToUnion(t *testing.T) {
	e := NewEstimator(true)
	observe(e, "a", "x")
	require.Equal(t, 2, e.Estimate(Strategy("bogus")))
}

func TestCostRounding(t *testing.T) {
	e := NewEstimator(true)
	for _, id := range []string{"a", "b", "c"} {
		observe(e, id, "")
	}
	require.InDelta(t, 0.0003, e.Cost(ByUserID, 0.0001), 1e-9)
	require.Equal(t, 0.0001, e.Cost(ByUserID, 0.0000333))
}
