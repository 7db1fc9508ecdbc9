package dispatch

import (
	"fmt"
	"time"

	"lastmile/internal/config"
	"lastmile/internal/eta"
	"lastmile/internal/geo"
	"lastmile/internal/model"
)

// minReassignInterval is the cool-down between successive reassignments
// of the same order.
const minReassignInterval = 30 * time.Second

// highPriorityProximityKm bounds which assigned riders can be poached for
// a high-priority order.
const highPriorityProximityKm = 3.0

// ReassignmentStats summarizes reassignment activity for telemetry.
type ReassignmentStats struct {
	TotalReassignments int            `json:"totalReassignments"`
	OrdersAtCap        int            `json:"ordersAtCap"`
	PerOrder           map[string]int `json:"perOrder,omitempty"`
}

// ReassignmentEngine detects the four trigger classes after each cycle
// and enforces the per-order attempt cap, minimum interval, and proximity
// suppression when a trigger is applied.
type ReassignmentEngine struct {
	cfg    config.ReassignConfig
	est    *eta.Estimator
	counts map[string]int
	lastAt map[string]time.Time
}

func NewReassignmentEngine(cfg config.ReassignConfig, est *eta.Estimator) *ReassignmentEngine {
	return &ReassignmentEngine{
		cfg:    cfg,
		est:    est,
		counts: map[string]int{},
		lastAt: map[string]time.Time{},
	}
}

// DetectTriggers scans live assignments and the rider population.
// rider_offline, eta_spike, and high_priority_arrival triggers name an
// order to free; new_rider_online is a pure capacity hint.
func (r *ReassignmentEngine) DetectTriggers(
	orders map[string]*model.Order,
	riders map[string]*model.Rider,
	assignments map[string]*model.Assignment,
	now time.Time,
) []model.ReassignmentTrigger {
	var out []model.ReassignmentTrigger

	for _, a := range assignments {
		if !a.Status.Live() {
			continue
		}
		order := orders[a.OrderID]
		if order == nil || order.Status != model.OrderAssigned {
			continue
		}
		rider, ok := riders[a.RiderID]
		if !ok || rider.Status == model.RiderOffline {
			out = append(out, model.ReassignmentTrigger{
				Kind:    model.TriggerRiderOffline,
				OrderID: a.OrderID,
				RiderID: a.RiderID,
			})
			continue
		}

		current := r.est.Estimate(rider.Location, order.Delivery.Location, now, rider.ID, "")
		originalMinutes := a.EstimatedDeliveryAt.Sub(a.AssignedAt).Minutes()
		if float64(current.EstimatedDurationMinutes) > originalMinutes+r.cfg.ETASpikeMinutes {
			out = append(out, model.ReassignmentTrigger{
				Kind:    model.TriggerETASpike,
				OrderID: a.OrderID,
				RiderID: a.RiderID,
				Detail: fmt.Sprintf("eta %d min vs recorded %.0f min",
					current.EstimatedDurationMinutes, originalMinutes),
			})
		}
	}

	out = append(out, r.highPriorityTriggers(orders, riders, now)...)

	for _, rider := range riders {
		if rider.Status == model.RiderActive && len(rider.CurrentAssignments) == 0 {
			out = append(out, model.ReassignmentTrigger{
				Kind:    model.TriggerNewRiderOnline,
				RiderID: rider.ID,
			})
		}
	}
	return out
}

// highPriorityTriggers frees normal assigned orders whose rider sits close
// to the pickup of an urgent critical/high order.
func (r *ReassignmentEngine) highPriorityTriggers(
	orders map[string]*model.Order,
	riders map[string]*model.Rider,
	now time.Time,
) []model.ReassignmentTrigger {
	cutoff := now.Add(time.Duration(r.cfg.HighPrioritySLACutoffMinutes) * time.Minute)

	var urgent []*model.Order
	for _, o := range orders {
		if o.Priority == model.PriorityCritical ||
			(o.Priority == model.PriorityHigh && o.Status == model.OrderPending) {
			if !o.SLADeadline.After(cutoff) {
				urgent = append(urgent, o)
			}
		}
	}
	if len(urgent) == 0 {
		return nil
	}

	var out []model.ReassignmentTrigger
	for _, o := range orders {
		if o.Priority != model.PriorityNormal || o.Status != model.OrderAssigned {
			continue
		}
		rider := riders[o.AssignedRiderID]
		if rider == nil {
			continue
		}
		for _, u := range urgent {
			if geo.Distance(rider.Location, u.Pickup.Location) <= highPriorityProximityKm {
				out = append(out, model.ReassignmentTrigger{
					Kind:    model.TriggerHighPriority,
					OrderID: o.ID,
					RiderID: rider.ID,
					Detail:  "yielding to " + u.ID,
				})
				break
			}
		}
	}
	return out
}

// CanReassign enforces the attempt cap and the 30-second minimum interval
// between attempts on the same order.
func (r *ReassignmentEngine) CanReassign(orderID string, now time.Time) bool {
	if r.counts[orderID] >= r.cfg.MaxAttempts {
		return false
	}
	if last, ok := r.lastAt[orderID]; ok && now.Sub(last) < minReassignInterval {
		return false
	}
	return true
}

// IsSuppressed reports whether the current rider is already committed:
// close enough to the pickup that pulling the order away is a net loss.
func (r *ReassignmentEngine) IsSuppressed(rider *model.Rider, pickup model.Location) bool {
	return geo.Distance(rider.Location, pickup) < r.cfg.SuppressionRadiusMeters/1000
}

// RecordReassignment counts an applied reassignment for orderID.
func (r *ReassignmentEngine) RecordReassignment(orderID string, now time.Time) {
	r.counts[orderID]++
	r.lastAt[orderID] = now
}

func (r *ReassignmentEngine) Stats() ReassignmentStats {
	st := ReassignmentStats{PerOrder: map[string]int{}}
	for id, n := range r.counts {
		st.PerOrder[id] = n
		st.TotalReassignments += n
		if n >= r.cfg.MaxAttempts {
			st.OrdersAtCap++
		}
	}
	return st
}
