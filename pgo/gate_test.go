package pgo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gateWithLine(t *testing.T) (*DistanceGate, *Estimate) {
	t.Helper()
	g := NewDistanceGate(DefaultGateConfig(), nil)
	g.SetQuiet()
	est := NewEstimate()
	_, err := g.RemoveOutliers(straightLine("x", 0, 5, true), est)
	require.NoError(t, err)
	return g, est
}

func TestDistanceGate_AcceptsConsistentLoopClosure(t *testing.T) {
	g, est := gateWithLine(t)

	reopt, err := g.RemoveOutliers(Batch{Constraints: Graph{lc("x0", "x5", Pose2{X: 5.05})}}, est)
	require.NoError(t, err)
	assert.True(t, reopt)
	assert.Equal(t, 1, est.Stats().LoopClosures)
	assert.Empty(t, g.Diagnostics().Rejections())
}

func TestDistanceGate_RejectsOutlier(t *testing.T) {
	g, est := gateWithLine(t)

	reopt, err := g.RemoveOutliers(Batch{Constraints: Graph{
		odo("x5", "x6", 1),
		lc("x0", "x5", Pose2{X: 1, Y: 3}),
	}, Values: NewValues(entry("x6", 6, 0, 0))}, est)
	require.NoError(t, err)
	assert.False(t, reopt, "only odometry was accepted")
	assert.Equal(t, 0, est.Stats().LoopClosures)
	assert.Equal(t, 6, est.Stats().Constraints)

	rej := g.Diagnostics().Rejections()
	require.Len(t, rej, 1)
	assert.Equal(t, RejectMahalanobis, rej[0].Reason)
	assert.Greater(t, rej[0].Score, DefaultGateThreshold)
	assert.Equal(t, 2, rej[0].Batch)
}

func TestDistanceGate_Threshold(t *testing.T) {
	// d² = (0.3/0.1)² = 9: inside the default gate, outside a tight one.
	z := Pose2{X: 5.3}

	_, est := gateWithLine(t)
	loose := NewDistanceGate(GateConfig{}, nil)
	loose.SetQuiet()
	_, err := loose.RemoveOutliers(Batch{Constraints: Graph{lc("x0", "x5", z)}}, est)
	require.NoError(t, err)
	assert.Equal(t, 1, est.Stats().LoopClosures)

	_, est = gateWithLine(t)
	tight := NewDistanceGate(GateConfig{Threshold: 4}, nil)
	tight.SetQuiet()
	_, err = tight.RemoveOutliers(Batch{Constraints: Graph{lc("x0", "x5", z)}}, est)
	require.NoError(t, err)
	assert.Equal(t, 0, est.Stats().LoopClosures)
}

func TestDistanceGate_Prior(t *testing.T) {
	g, est := gateWithLine(t)

	_, err := g.RemoveOutliers(Batch{Constraints: Graph{
		PriorOn("x0", Pose2{X: 0.01}, unitSigmas),
		PriorOn("x1", Pose2{X: 10}, unitSigmas),
	}}, est)
	require.NoError(t, err)
	assert.Equal(t, 1, est.Graph.CountType(Prior))
}

func TestDistanceGate_Ambiguous(t *testing.T) {
	g, est := gateWithLine(t)

	bad := lc("x0", "x5", Pose2{X: 5})
	bad.Sigmas = Sigmas{X: 0.1}
	triple := Constraint{Type: LoopClosure, Keys: []Key{"x0", "x1", "x2"}, Sigmas: unitSigmas}

	_, err := g.RemoveOutliers(Batch{Constraints: Graph{bad, triple}}, est)
	require.NoError(t, err)
	assert.Equal(t, 0, est.Stats().LoopClosures)

	rej := g.Diagnostics().Rejections()
	require.Len(t, rej, 2)
	for _, r := range rej {
		assert.Equal(t, RejectAmbiguous, r.Reason)
		assert.True(t, math.IsNaN(r.Score))
	}
}

func TestDistanceGate_OdometryArity(t *testing.T) {
	g, est := gateWithLine(t)

	threeKeys := Constraint{Type: Odometry, Keys: []Key{"x0", "x1", "x2"}, Measurement: Pose2{X: 1}, Sigmas: unitSigmas}
	oneKey := Constraint{Type: Odometry, Keys: []Key{"x3"}, Measurement: Pose2{X: 1}, Sigmas: unitSigmas}
	reopt, err := g.RemoveOutliers(Batch{Constraints: Graph{threeKeys, oneKey, odo("x4", "x5", 1)}}, est)
	require.NoError(t, err)
	assert.False(t, reopt)
	assert.Equal(t, 6, est.Stats().Constraints)

	rej := g.Diagnostics().Rejections()
	require.Len(t, rej, 2)
	for _, r := range rej {
		assert.Equal(t, RejectAmbiguous, r.Reason)
	}
}

func TestDistanceGate_AddMeasurementsBypassesGate(t *testing.T) {
	g, est := gateWithLine(t)

	reopt, err := g.AddMeasurements(Batch{Constraints: Graph{lc("x0", "x5", Pose2{X: 1, Y: 3})}}, est)
	require.NoError(t, err)
	assert.True(t, reopt)
	assert.Equal(t, 1, est.Stats().LoopClosures)
	assert.Equal(t, 1, g.Diagnostics().Summary().Accepted[LoopClosure])
}

func TestDistanceGate_UsesBatchValuesForNewKeys(t *testing.T) {
	g, est := gateWithLine(t)

	// x6 is new; its initial guess agrees with the measurement.
	b := Batch{
		Constraints: Graph{lc("x0", "x6", Pose2{X: 6})},
		Values:      NewValues(entry("x6", 6, 0, 0)),
	}
	_, err := g.RemoveOutliers(b, est)
	require.NoError(t, err)
	assert.Equal(t, 1, est.Stats().LoopClosures)
}
