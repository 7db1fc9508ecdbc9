package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lastmile/internal/config"
	"lastmile/internal/model"
)

func TestSLARiskSigmoid(t *testing.T) {
	require.InDelta(t, 0.5, slaRisk(0, 10), 1e-9)
	require.InDelta(t, 0.0, slaRisk(1000, 10), 1e-6)
	require.InDelta(t, 1.0, slaRisk(-1000, 10), 1e-6)
	// Monotone decreasing in slack.
	require.Greater(t, slaRisk(-10, 10), slaRisk(0, 10))
	require.Greater(t, slaRisk(0, 10), slaRisk(10, 10))
	// Steeper scale sharpens the penalty around the same slack.
	require.Greater(t, slaRisk(-5, 2), slaRisk(-5, 20))
}

func TestScoreBoundsWithDefaultWeights(t *testing.T) {
	cfg := config.Default()
	s := NewScorer(cfg, testEstimator(t))

	order := testOrder("o1", pickupLoc, deliveryLoc, testNow.Add(45*time.Minute))
	rider := testRider("r1", model.Location{Lat: 12.972, Lng: 77.591})
	rider.Performance.ZoneFamiliarity = map[string]float64{ZoneKey(deliveryLoc): 1.0}

	cost, b := s.Score(order, rider, testNow)
	require.GreaterOrEqual(t, cost, -0.03)
	require.LessOrEqual(t, cost, 1.03)
	require.InDelta(t, cost, b.Total, 1e-12)

	for name, f := range map[string]float64{
		"time": b.Time, "slaRisk": b.SLARisk, "distance": b.Distance,
		"batchDisruption": b.BatchDisruption, "workload": b.Workload,
	} {
		require.GreaterOrEqual(t, f, 0.0, name)
		require.LessOrEqual(t, f, 1.0, name)
	}
	require.GreaterOrEqual(t, b.Affinity, -1.0)
	require.LessOrEqual(t, b.Affinity, 0.0)
}

func TestWorkloadCost(t *testing.T) {
	s := NewScorer(config.Default(), testEstimator(t))

	rider := testRider("r1", pickupLoc)
	require.Zero(t, s.workloadCost(rider))

	// loadScore = 0.7*(3.5/5) + 0.3*(2/5) = 0.61 < 0.7 threshold.
	rider.Load = model.Load{WeightKg: 3.5, ItemCount: 2}
	require.Zero(t, s.workloadCost(rider))

	// Fully loaded: loadScore = 1.0 -> cost 1.0.
	rider.Load = model.Load{WeightKg: 5, ItemCount: 5}
	require.InDelta(t, 1.0, s.workloadCost(rider), 1e-9)

	// loadScore = 0.7*1 + 0.3*0.2 = 0.76 -> (0.76-0.7)/0.3 = 0.2.
	rider.Load = model.Load{WeightKg: 5, ItemCount: 1}
	require.InDelta(t, 0.2, s.workloadCost(rider), 1e-9)
}

func TestAffinityRewardsFamiliarity(t *testing.T) {
	s := NewScorer(config.Default(), testEstimator(t))
	order := testOrder("o1", pickupLoc, deliveryLoc, testNow.Add(45*time.Minute))

	familiar := testRider("fam", pickupLoc)
	familiar.Performance.ZoneFamiliarity = map[string]float64{ZoneKey(deliveryLoc): 1.0}
	stranger := testRider("new", pickupLoc)
	stranger.Performance.ZoneFamiliarity = nil

	require.Less(t, s.affinityCost(order, familiar), s.affinityCost(order, stranger))
	require.LessOrEqual(t, s.affinityCost(order, familiar), 0.0)
	require.GreaterOrEqual(t, s.affinityCost(order, familiar), -1.0)
}

func TestZoneKey(t *testing.T) {
	require.Equal(t, "zone_25_155", ZoneKey(model.Location{Lat: 12.9716, Lng: 77.5946}))
	require.Equal(t, "zone_-1_-1", ZoneKey(model.Location{Lat: -0.2, Lng: -0.2}))
	require.Equal(t, "zone_0_0", ZoneKey(model.Location{Lat: 0.2, Lng: 0.3}))
}

func TestTimeCostSwitchesToInsertion(t *testing.T) {
	s := NewScorer(config.Default(), testEstimator(t))
	order := testOrder("o1", pickupLoc, deliveryLoc, testNow.Add(45*time.Minute))

	empty := testRider("empty", model.Location{Lat: 12.972, Lng: 77.591})
	require.Greater(t, s.timeCost(order, empty, testNow), 0.0)

	loaded := testRider("loaded", model.Location{Lat: 12.972, Lng: 77.591})
	loaded.CurrentAssignments = []string{"other"}
	loaded.CurrentRoute = []model.RouteStop{
		{Type: model.StopPickup, OrderID: "other", Location: model.Location{Lat: 12.98, Lng: 77.60}, SequenceIndex: 0},
		{Type: model.StopDelivery, OrderID: "other", Location: model.Location{Lat: 12.99, Lng: 77.61}, SequenceIndex: 1},
	}
	got := s.timeCost(order, loaded, testNow)
	// Detour is small here, so the fixed 10-minute penalty dominates: /60
	// keeps it well inside (0, 1).
	require.Greater(t, got, 10.0/60-1e-9)
	require.Less(t, got, 1.0)
}

func TestInsertionCostPicksCheapestPosition(t *testing.T) {
	s := NewScorer(config.Default(), testEstimator(t))
	rider := testRider("r", model.Location{Lat: 0, Lng: 0})
	rider.CurrentAssignments = []string{"a", "b"}
	rider.CurrentRoute = []model.RouteStop{
		{Location: model.Location{Lat: 0, Lng: 0.1}},
		{Location: model.Location{Lat: 0, Lng: 0.2}},
	}
	// Pickup sits exactly on the first leg: the best detour is ~0.
	order := testOrder("o", model.Location{Lat: 0, Lng: 0.05}, model.Location{Lat: 0, Lng: 0.3}, testNow.Add(time.Hour))
	got := s.insertionCost(order, rider)
	require.InDelta(t, insertionDetourPenaltyMinutes, got, 0.01)
}

func TestBatchDisruptionCost(t *testing.T) {
	s := NewScorer(config.Default(), testEstimator(t))
	rider := testRider("r", pickupLoc)
	require.Zero(t, s.batchDisruptionCost(rider))

	rider.CurrentRoute = []model.RouteStop{{Location: pickupLoc}}
	rider.CurrentAssignments = []string{"a", "b", "c"}
	require.InDelta(t, 0.6, s.batchDisruptionCost(rider), 1e-9)

	rider.CurrentAssignments = []string{"a", "b", "c", "d", "e", "f", "g"}
	require.InDelta(t, 1.0, s.batchDisruptionCost(rider), 1e-9)
}
