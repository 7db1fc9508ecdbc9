package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lastmile/internal/config"
	"lastmile/internal/model"
)

func newReassignEngine(t *testing.T) *ReassignmentEngine {
	t.Helper()
	return NewReassignmentEngine(config.Default().Reassignment, testEstimator(t))
}

func TestCanReassignCapAndInterval(t *testing.T) {
	r := newReassignEngine(t)
	at := testNow

	require.True(t, r.CanReassign("o1", at))
	r.RecordReassignment("o1", at)

	// Too soon after the last attempt.
	require.False(t, r.CanReassign("o1", at.Add(10*time.Second)))
	require.True(t, r.CanReassign("o1", at.Add(31*time.Second)))

	r.RecordReassignment("o1", at.Add(31*time.Second))
	require.True(t, r.CanReassign("o1", at.Add(90*time.Second)))
	r.RecordReassignment("o1", at.Add(90*time.Second))

	// Three attempts recorded: capped for good.
	require.False(t, r.CanReassign("o1", at.Add(time.Hour)))

	st := r.Stats()
	require.Equal(t, 3, st.TotalReassignments)
	require.Equal(t, 1, st.OrdersAtCap)
	require.Equal(t, 3, st.PerOrder["o1"])
}

func TestIsSuppressedNearPickup(t *testing.T) {
	r := newReassignEngine(t)
	pickup := model.Location{Lat: 12.9716, Lng: 77.5946}

	committed := testRider("close", model.Location{Lat: 12.9720, Lng: 77.5946}) // ~45 m
	require.True(t, r.IsSuppressed(committed, pickup))

	distant := testRider("far", model.Location{Lat: 12.9916, Lng: 77.5946}) // ~2.2 km
	require.False(t, r.IsSuppressed(distant, pickup))
}

func assignedFixture(orderID, riderID string, riderLoc model.Location) (map[string]*model.Order, map[string]*model.Rider, map[string]*model.Assignment) {
	order := testOrder(orderID, pickupLoc, deliveryLoc, testNow.Add(time.Hour))
	order.Status = model.OrderAssigned
	order.AssignedRiderID = riderID
	rider := testRider(riderID, riderLoc)
	rider.CurrentAssignments = []string{orderID}
	a := &model.Assignment{
		ID:                  "asg_1",
		OrderID:             orderID,
		RiderID:             riderID,
		AssignedAt:          testNow.Add(-10 * time.Minute),
		EstimatedDeliveryAt: testNow.Add(-10 * time.Minute).Add(5 * time.Minute),
		Status:              model.AssignmentDispatched,
	}
	return map[string]*model.Order{orderID: order},
		map[string]*model.Rider{riderID: rider},
		map[string]*model.Assignment{a.ID: a}
}

func TestDetectRiderOffline(t *testing.T) {
	r := newReassignEngine(t)
	orders, riders, assignments := assignedFixture("o1", "r1", model.Location{Lat: 12.973, Lng: 77.596})

	riders["r1"].Status = model.RiderOffline
	trs := r.DetectTriggers(orders, riders, assignments, testNow)
	require.True(t, hasTrigger(trs, model.TriggerRiderOffline, "o1"))

	// Rider vanished from the snapshot entirely.
	delete(riders, "r1")
	trs = r.DetectTriggers(orders, riders, assignments, testNow)
	require.True(t, hasTrigger(trs, model.TriggerRiderOffline, "o1"))
}

func TestDetectETASpike(t *testing.T) {
	r := newReassignEngine(t)
	// Assignment was recorded with a 5-minute delivery estimate, but the
	// rider is now ~42 km out: the fresh ETA exceeds 5 + 15 minutes.
	orders, riders, assignments := assignedFixture("o1", "r1", model.Location{Lat: 13.35, Lng: 77.60})
	trs := r.DetectTriggers(orders, riders, assignments, testNow)
	require.True(t, hasTrigger(trs, model.TriggerETASpike, "o1"))

	// Rider near the customer: no spike.
	orders, riders, assignments = assignedFixture("o2", "r2", model.Location{Lat: 12.9751, Lng: 77.6011})
	trs = r.DetectTriggers(orders, riders, assignments, testNow)
	require.False(t, hasTrigger(trs, model.TriggerETASpike, "o2"))
}

func TestDetectHighPriorityArrival(t *testing.T) {
	r := newReassignEngine(t)
	orders, riders, assignments := assignedFixture("normal", "r1", model.Location{Lat: 12.9751, Lng: 77.6011})

	urgent := testOrder("urgent", model.Location{Lat: 12.976, Lng: 77.602}, deliveryLoc, testNow.Add(15*time.Minute))
	urgent.Priority = model.PriorityCritical
	orders["urgent"] = urgent

	trs := r.DetectTriggers(orders, riders, assignments, testNow)
	require.True(t, hasTrigger(trs, model.TriggerHighPriority, "normal"))

	// Same urgency but the assigned rider is far from the pickup.
	orders2, riders2, assignments2 := assignedFixture("normal2", "r2", model.Location{Lat: 13.2, Lng: 77.9})
	farPickup := testOrder("urgent2", model.Location{Lat: 12.976, Lng: 77.602}, deliveryLoc, testNow.Add(15*time.Minute))
	farPickup.Priority = model.PriorityCritical
	orders2["urgent2"] = farPickup
	trs = r.DetectTriggers(orders2, riders2, assignments2, testNow)
	require.False(t, hasTrigger(trs, model.TriggerHighPriority, "normal2"))
}

func TestDetectHighPriorityIgnoresDistantDeadline(t *testing.T) {
	r := newReassignEngine(t)
	orders, riders, assignments := assignedFixture("normal", "r1", model.Location{Lat: 12.9751, Lng: 77.6011})
	relaxed := testOrder("relaxed", model.Location{Lat: 12.976, Lng: 77.602}, deliveryLoc, testNow.Add(3*time.Hour))
	relaxed.Priority = model.PriorityCritical
	orders["relaxed"] = relaxed

	trs := r.DetectTriggers(orders, riders, assignments, testNow)
	require.False(t, hasTrigger(trs, model.TriggerHighPriority, "normal"))
}

func TestDetectNewRiderOnlineHint(t *testing.T) {
	r := newReassignEngine(t)
	riders := map[string]*model.Rider{
		"fresh": testRider("fresh", pickupLoc),
	}
	trs := r.DetectTriggers(map[string]*model.Order{}, riders, map[string]*model.Assignment{}, testNow)
	require.Len(t, trs, 1)
	require.Equal(t, model.TriggerNewRiderOnline, trs[0].Kind)
	require.Empty(t, trs[0].OrderID, "hint triggers never name an order")
	require.Equal(t, "fresh", trs[0].RiderID)
}

func hasTrigger(trs []model.ReassignmentTrigger, kind model.TriggerKind, orderID string) bool {
	for _, tr := range trs {
		if tr.Kind == kind && tr.OrderID == orderID {
			return true
		}
	}
	return false
}
