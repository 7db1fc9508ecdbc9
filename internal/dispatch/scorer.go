package dispatch

import (
	"fmt"
	"math"
	"time"

	"lastmile/internal/config"
	"lastmile/internal/eta"
	"lastmile/internal/geo"
	"lastmile/internal/model"
)

// insertionDetourPenaltyMinutes is the fixed charge standing in for the
// paired delivery detour when a pickup is inserted into a loaded route.
const insertionDetourPenaltyMinutes = 10.0

// Scorer produces the weighted multi-objective cost of assigning an order
// to a rider. Each factor is normalized to [0,1] except affinity, which is
// a signed bonus in [-1,0].
type Scorer struct {
	cfg config.Config
	est *eta.Estimator
}

func NewScorer(cfg config.Config, est *eta.Estimator) *Scorer {
	return &Scorer{cfg: cfg, est: est}
}

// Score returns the total cost and its per-factor breakdown.
func (s *Scorer) Score(order *model.Order, rider *model.Rider, now time.Time) (float64, model.CostBreakdown) {
	w := s.cfg.Weights
	b := model.CostBreakdown{
		Time:            s.timeCost(order, rider, now),
		SLARisk:         s.slaRiskCost(order, rider, now),
		Distance:        s.distanceCost(order, rider),
		BatchDisruption: s.batchDisruptionCost(rider),
		Workload:        s.workloadCost(rider),
		Affinity:        s.affinityCost(order, rider),
	}
	b.Total = w.Time*b.Time +
		w.SLARisk*b.SLARisk +
		w.Distance*b.Distance +
		w.BatchDisruption*b.BatchDisruption +
		w.Workload*b.Workload +
		w.Affinity*b.Affinity
	return b.Total, b
}

// timeCost is the chained pickup+delivery ETA for an empty rider, or the
// cheapest-insertion detour for a rider that already carries orders.
func (s *Scorer) timeCost(order *model.Order, rider *model.Rider, now time.Time) float64 {
	if len(rider.CurrentAssignments) == 0 {
		route := s.est.EstimateRoute(
			[]model.Location{rider.Location, order.Pickup.Location, order.Delivery.Location},
			now, rider.ID)
		return clamp01(float64(route.TotalMinutes) / 120)
	}
	return clamp01(s.insertionCost(order, rider) / 60)
}

// insertionCost is the minimum extra route length (km) of splicing the new
// pickup in front of any stop of the current route (the first candidate leg
// starts at the rider's position; appending after the last stop is not
// tried), plus the fixed detour penalty.
func (s *Scorer) insertionCost(order *model.Order, rider *model.Rider) float64 {
	route := rider.CurrentRoute
	if len(route) < 2 {
		return insertionDetourPenaltyMinutes
	}
	pickup := order.Pickup.Location
	best := math.MaxFloat64
	for pos := 0; pos < len(route); pos++ {
		prev := rider.Location
		if pos > 0 {
			prev = route[pos-1].Location
		}
		next := route[pos].Location
		detour := geo.Distance(prev, pickup) + geo.Distance(pickup, next) - geo.Distance(prev, next)
		if detour < best {
			best = detour
		}
	}
	return best + insertionDetourPenaltyMinutes
}

func (s *Scorer) slaRiskCost(order *model.Order, rider *model.Rider, now time.Time) float64 {
	est := s.est.Estimate(rider.Location, order.Delivery.Location, now, rider.ID, "")
	slackMinutes := order.SLADeadline.Sub(now).Minutes() - float64(est.EstimatedDurationMinutes)
	return slaRisk(slackMinutes, s.cfg.SLA.RiskSigmoidScale)
}

// slaRisk maps slack minutes through a sigmoid: zero slack is 0.5, deep
// lateness saturates at 1, comfortable slack decays to 0.
func slaRisk(slackMinutes, scale float64) float64 {
	if scale <= 0 {
		scale = 1
	}
	return clamp01(1 / (1 + math.Exp(slackMinutes/scale)))
}

func (s *Scorer) distanceCost(order *model.Order, rider *model.Rider) float64 {
	return clamp01(geo.Distance(rider.Location, order.Pickup.Location) / 20)
}

// batchDisruptionCost proxies the extra SLA pressure another stop puts on
// the rider's already-assigned orders.
func (s *Scorer) batchDisruptionCost(rider *model.Rider) float64 {
	if len(rider.CurrentRoute) == 0 {
		return 0
	}
	return clamp01(0.2 * float64(len(rider.CurrentAssignments)))
}

func (s *Scorer) workloadCost(rider *model.Rider) float64 {
	v := rider.Vehicle
	loadScore := 0.0
	if v.MaxWeightKg > 0 {
		loadScore += 0.7 * (rider.Load.WeightKg / v.MaxWeightKg)
	}
	if v.MaxItems > 0 {
		loadScore += 0.3 * (float64(rider.Load.ItemCount) / float64(v.MaxItems))
	}
	if loadScore < 0.7 {
		return 0
	}
	return clamp01((loadScore - 0.7) / 0.3)
}

// affinityCost rewards riders who know the delivery zone, deliver
// reliably, and ride faster than baseline. Negative by construction.
func (s *Scorer) affinityCost(order *model.Order, rider *model.Rider) float64 {
	zone := ZoneKey(order.Delivery.Location)
	familiarity := rider.Performance.ZoneFamiliarity[zone]
	affinity := 0.5*familiarity +
		0.3*rider.Performance.AvgDeliverySuccessRate +
		0.2*math.Max(0, rider.Performance.AvgSpeedMultiplier-0.9)
	return -clamp01(affinity)
}

// ZoneKey buckets a location into the 0.5 degree grid used for zone
// familiarity and preposition clustering.
func ZoneKey(l model.Location) string {
	return fmt.Sprintf("zone_%d_%d", int(math.Floor(l.Lat/0.5)), int(math.Floor(l.Lng/0.5)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
