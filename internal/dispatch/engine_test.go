package dispatch

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lastmile/internal/config"
	"lastmile/internal/model"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Weights.Time = 0.9 // sum now well over 1
	_, err := New(cfg)
	require.Error(t, err)
}

func TestExecuteCycleEmptyState(t *testing.T) {
	e := newEngine(t, config.Default())
	riders := map[string]*model.Rider{}
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("bike-%d", i)
		riders[id] = testRider(id, model.Location{Lat: 12.97 + float64(i)*0.001, Lng: 77.59})
	}
	e.UpdateState(map[string]*model.Order{}, riders)

	res := e.ExecuteCycle()
	require.Zero(t, res.SuccessCount)
	require.Zero(t, res.FailureCount)
	require.Empty(t, res.Decisions)
	require.Equal(t, model.SurgeNormal, e.SurgeState().Level)
	require.NotEmpty(t, res.CycleID)
}

func TestExecuteCycleTrivialMatch(t *testing.T) {
	e := newEngine(t, config.Default())
	order := testOrder("o1",
		model.Location{Lat: 12.9716, Lng: 77.5946},
		model.Location{Lat: 12.975, Lng: 77.601},
		testNow.Add(60*time.Minute))
	rider := testRider("bike-1", model.Location{Lat: 12.972, Lng: 77.591})
	e.UpdateState(
		map[string]*model.Order{"o1": order},
		map[string]*model.Rider{"bike-1": rider},
	)

	res := e.ExecuteCycle()
	require.Equal(t, 1, res.SuccessCount)
	require.Zero(t, res.FailureCount)
	require.Len(t, res.Decisions, 1)

	d := res.Decisions[0]
	require.Equal(t, "o1", d.OrderID)
	require.Equal(t, "bike-1", d.RiderID)
	require.Zero(t, d.SequenceIndex)
	require.False(t, math.IsNaN(res.Metrics.AvgCost))
	require.False(t, math.IsInf(res.Metrics.AvgCost, 0))
	require.Greater(t, res.Metrics.TotalSLASlackMinutes, 0.0)

	require.Equal(t, model.OrderAssigned, order.Status)
	require.Equal(t, "bike-1", order.AssignedRiderID)
	require.Equal(t, 1, order.AssignmentAttempts)
	require.Equal(t, []string{"o1"}, rider.CurrentAssignments)
	require.Len(t, rider.CurrentRoute, 2)
	require.Equal(t, model.StopPickup, rider.CurrentRoute[0].Type)
	require.Equal(t, order.Pickup.Location, rider.CurrentRoute[0].Location)
}

func TestExecuteCycleHeavyPayload(t *testing.T) {
	e := newEngine(t, config.Default())
	order := testOrder("o1", pickupLoc, deliveryLoc, testNow.Add(60*time.Minute))
	order.Payload.WeightKg = 1000
	riders := map[string]*model.Rider{}
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("bike-%d", i)
		riders[id] = testRider(id, model.Location{Lat: 12.972, Lng: 77.591})
	}
	e.UpdateState(map[string]*model.Order{"o1": order}, riders)

	res := e.ExecuteCycle()
	require.Zero(t, res.SuccessCount)
	require.Equal(t, 1, res.FailureCount)
	require.Equal(t, model.OrderPending, order.Status)

	// The candidate generator carries the constraint failure reason.
	g := NewCandidateGenerator(config.Default(), testEstimator(t))
	require.Equal(t, model.FailAllRidersConstrained, g.Generate(order, riders, testNow).FailureReason)
}

func TestExecuteCycleIdempotent(t *testing.T) {
	e := newEngine(t, config.Default())
	orders := map[string]*model.Order{
		"o1": testOrder("o1", pickupLoc, deliveryLoc, testNow.Add(60*time.Minute)),
	}
	riders := map[string]*model.Rider{
		"r1": testRider("r1", model.Location{Lat: 12.972, Lng: 77.591}),
	}
	e.UpdateState(orders, riders)

	first := e.ExecuteCycle()
	require.Equal(t, 1, first.SuccessCount)

	// Same state again: everything is already assigned.
	second := e.ExecuteCycle()
	require.Zero(t, second.SuccessCount)
	require.Zero(t, second.FailureCount)
	require.Empty(t, second.Decisions)

	e.UpdateState(orders, riders)
	third := e.ExecuteCycle()
	require.Empty(t, third.Decisions)
	require.Equal(t, 1, orders["o1"].AssignmentAttempts)
}

func TestExecuteCycleSuccessPlusFailureInvariant(t *testing.T) {
	e := newEngine(t, config.Default())
	orders := map[string]*model.Order{}
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("o%d", i)
		orders[id] = testOrder(id, pickupLoc, deliveryLoc, testNow.Add(60*time.Minute))
	}
	// Two orders no bike can carry.
	orders["o2"].Payload.WeightKg = 1000
	orders["o3"].Payload.WeightKg = 1000

	riders := map[string]*model.Rider{
		"r1": testRider("r1", model.Location{Lat: 12.972, Lng: 77.591}),
		"r2": testRider("r2", model.Location{Lat: 12.973, Lng: 77.592}),
	}
	e.UpdateState(orders, riders)

	res := e.ExecuteCycle()
	require.Equal(t, 4, res.SuccessCount+res.FailureCount)
	require.Equal(t, 2, res.SuccessCount)
	// Distinct riders for distinct orders on the exact path.
	require.NotEqual(t, res.Decisions[0].RiderID, res.Decisions[1].RiderID)
}

func TestExecuteCycleUniqueLiveAssignmentPerOrder(t *testing.T) {
	e := newEngine(t, config.Default())
	orders := map[string]*model.Order{
		"o1": testOrder("o1", pickupLoc, deliveryLoc, testNow.Add(60*time.Minute)),
	}
	riders := map[string]*model.Rider{
		"r1": testRider("r1", model.Location{Lat: 12.972, Lng: 77.591}),
	}
	e.UpdateState(orders, riders)
	e.ExecuteCycle()

	// Force the order back to pending and run again: the engine replaces
	// the assignment record instead of accumulating a second live one.
	orders["o1"].Status = model.OrderPending
	orders["o1"].AssignedRiderID = ""
	riders["r1"].CurrentAssignments = nil
	riders["r1"].CurrentRoute = nil
	e.ExecuteCycle()

	live := 0
	for _, a := range e.Assignments() {
		if a.OrderID == "o1" && a.Status.Live() {
			live++
		}
	}
	require.Equal(t, 1, live)
}

func TestExecuteCycleSequenceIndexGrowsPerRider(t *testing.T) {
	e := newEngine(t, config.Default())
	orders := map[string]*model.Order{
		"o1": testOrder("o1", pickupLoc, deliveryLoc, testNow.Add(90*time.Minute)),
		"o2": testOrder("o2",
			model.Location{Lat: 12.9726, Lng: 77.5956},
			model.Location{Lat: 12.976, Lng: 77.602},
			testNow.Add(90*time.Minute)),
	}
	riders := map[string]*model.Rider{
		"solo": testRider("solo", model.Location{Lat: 12.972, Lng: 77.591}),
	}
	e.UpdateState(orders, riders)

	res := e.ExecuteCycle()
	// Exactly one order lands in cycle one (one rider, exact matching).
	require.Equal(t, 1, res.SuccessCount)
	require.Zero(t, res.Decisions[0].SequenceIndex)

	res2 := e.ExecuteCycle()
	require.Equal(t, 1, res2.SuccessCount)
	require.Equal(t, 1, res2.Decisions[0].SequenceIndex)
	require.Len(t, riders["solo"].CurrentAssignments, 2)
}

func TestEngineStateAndMetrics(t *testing.T) {
	e := newEngine(t, config.Default())
	orders := map[string]*model.Order{
		"o1": testOrder("o1", pickupLoc, deliveryLoc, testNow.Add(60*time.Minute)),
	}
	riders := map[string]*model.Rider{
		"r1": testRider("r1", model.Location{Lat: 12.972, Lng: 77.591}),
	}
	e.UpdateState(orders, riders)
	res := e.ExecuteCycle()

	st := e.State()
	require.Equal(t, 1, st.OrderCounts[model.OrderAssigned])
	require.Equal(t, 1, st.RiderCounts[model.RiderActive])
	require.Equal(t, 1, st.LiveAssignments)
	require.Equal(t, res.CycleID, st.LastCycleID)

	m := e.Metrics()
	require.Equal(t, 1, m.CycleCount)
	require.Equal(t, 1, m.TotalAssignments)
	require.NotNil(t, m.LastCycle)
	require.Equal(t, res.CycleID, m.LastCycle.CycleID)
	require.Greater(t, m.ETACacheStats.Entries, 0)
}

func TestCycleIDsAreUnique(t *testing.T) {
	e := newEngine(t, config.Default())
	e.UpdateState(map[string]*model.Order{}, map[string]*model.Rider{})
	a := e.ExecuteCycle()
	b := e.ExecuteCycle()
	require.NotEqual(t, a.CycleID, b.CycleID)
	require.Len(t, e.History(0), 2)
}

func TestExecuteCycleReassignsWhenRiderGoesOffline(t *testing.T) {
	e := newEngine(t, config.Default())
	orders := map[string]*model.Order{
		"o1": testOrder("o1", pickupLoc, deliveryLoc, testNow.Add(60*time.Minute)),
	}
	// Assigned rider goes dark; a healthy spare stays available.
	riders := map[string]*model.Rider{
		"r1": testRider("r1", model.Location{Lat: 12.972, Lng: 77.591}),
	}
	e.UpdateState(orders, riders)
	first := e.ExecuteCycle()
	require.Equal(t, 1, first.SuccessCount)

	riders["r1"].Status = model.RiderOffline
	// Move the rider away from the pickup so suppression does not hold the
	// order in place.
	riders["r1"].Location = model.Location{Lat: 13.1, Lng: 77.7}

	// A fresh pending order keeps the cycle busy while the offline trigger
	// fires and frees o1 for the cycle after.
	orders["o2"] = testOrder("o2", pickupLoc, deliveryLoc, testNow.Add(60*time.Minute))
	riders["r2"] = testRider("r2", model.Location{Lat: 12.973, Lng: 77.592})
	mid := e.ExecuteCycle()
	require.Equal(t, 1, mid.SuccessCount)
	require.Equal(t, "r2", mid.Decisions[0].RiderID)
	require.Equal(t, model.OrderPending, orders["o1"].Status)
	require.Empty(t, orders["o1"].AssignedRiderID)

	// Next cycle places the freed order on the surviving rider.
	last := e.ExecuteCycle()
	require.Equal(t, 1, last.SuccessCount)
	require.Equal(t, "o1", last.Decisions[0].OrderID)
	require.Equal(t, "r2", last.Decisions[0].RiderID)
	require.LessOrEqual(t, e.Metrics().ReassignmentStats.PerOrder["o1"], config.Default().Reassignment.MaxAttempts)
}
