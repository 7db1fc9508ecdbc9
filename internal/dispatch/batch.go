package dispatch

import (
	"errors"
	"fmt"

	"lastmile/internal/config"
	"lastmile/internal/geo"
	"lastmile/internal/model"
)

// ErrBatchInfeasible is returned when a set of orders cannot be carried by
// the rider at all: too many orders for the vehicle class, payload over
// capacity, or a route longer than the batch duration ceiling.
var ErrBatchInfeasible = errors.New("batch infeasible")

// Per-order service constants used by the coarse duration estimate.
const (
	interStopTravelMinutes = 10
	dropServiceMinutes     = 3
)

// BatchPlan is the optimized multi-order route for one rider.
type BatchPlan struct {
	Stops                []model.RouteStop `json:"stops"`
	TotalDistanceKm      float64           `json:"totalDistance"`
	TotalDurationMinutes int               `json:"totalDurationMinutes"`
	OrderSequence        []string          `json:"ordersSequence"`
}

// BatchOptimizer sequences a rider's orders with cheapest insertion and a
// bounded 2-opt improvement pass.
type BatchOptimizer struct {
	cfg config.BatchConfig
}

func NewBatchOptimizer(cfg config.BatchConfig) *BatchOptimizer {
	return &BatchOptimizer{cfg: cfg}
}

// Optimize builds the stop sequence for rider over orders. Every order
// contributes a pickup stop immediately followed by its delivery stop,
// with orders in the optimized sequence.
func (b *BatchOptimizer) Optimize(rider *model.Rider, orders []*model.Order) (BatchPlan, error) {
	if len(orders) == 0 {
		return BatchPlan{}, nil
	}
	if limit, ok := b.cfg.MaxBatchSize[rider.Vehicle.Type]; ok && len(orders) > limit {
		return BatchPlan{}, fmt.Errorf("%w: %d orders exceeds %s limit %d",
			ErrBatchInfeasible, len(orders), rider.Vehicle.Type, limit)
	}
	var weight, volume float64
	items := 0
	for _, o := range orders {
		weight += o.Payload.WeightKg
		volume += o.Payload.VolumeLiters
		items += o.Payload.ItemCount
	}
	v := rider.Vehicle
	if weight > v.MaxWeightKg || volume > v.MaxVolumeLiters || items > v.MaxItems {
		return BatchPlan{}, fmt.Errorf("%w: aggregate payload %.1fkg/%.1fL/%d items over vehicle capacity",
			ErrBatchInfeasible, weight, volume, items)
	}

	seq := b.cheapestInsertion(rider.Location, orders)
	seq = b.twoOpt(rider.Location, seq)

	plan := BatchPlan{}
	for _, o := range seq {
		plan.OrderSequence = append(plan.OrderSequence, o.ID)
		plan.Stops = append(plan.Stops,
			model.RouteStop{Type: model.StopPickup, OrderID: o.ID, Location: o.Pickup.Location, SequenceIndex: len(plan.Stops)},
			model.RouteStop{Type: model.StopDelivery, OrderID: o.ID, Location: o.Delivery.Location, SequenceIndex: len(plan.Stops) + 1},
		)
	}
	plan.TotalDistanceKm = stopPathKm(rider.Location, plan.Stops)

	for i, o := range seq {
		plan.TotalDurationMinutes += o.Pickup.EstimatedWaitMinutes + interStopTravelMinutes + dropServiceMinutes
		if i > 0 {
			plan.TotalDurationMinutes += interStopTravelMinutes
		}
	}
	if b.cfg.MaxBatchDurationMinutes > 0 && plan.TotalDurationMinutes > b.cfg.MaxBatchDurationMinutes {
		return BatchPlan{}, fmt.Errorf("%w: estimated %d min exceeds batch ceiling %d min",
			ErrBatchInfeasible, plan.TotalDurationMinutes, b.cfg.MaxBatchDurationMinutes)
	}
	return plan, nil
}

// cheapestInsertion seeds with the pickup nearest the rider, then
// repeatedly inserts the (order, position) pair with the smallest
// pickup-to-pickup triangle detour.
func (b *BatchOptimizer) cheapestInsertion(start model.Location, orders []*model.Order) []*model.Order {
	remaining := append([]*model.Order(nil), orders...)

	seedIdx := 0
	for i, o := range remaining {
		if geo.Distance(start, o.Pickup.Location) < geo.Distance(start, remaining[seedIdx].Pickup.Location) {
			seedIdx = i
		}
	}
	seq := []*model.Order{remaining[seedIdx]}
	remaining = append(remaining[:seedIdx], remaining[seedIdx+1:]...)

	for len(remaining) > 0 {
		bestOrder, bestPos := -1, 0
		bestDetour := 0.0
		for oi, o := range remaining {
			p := o.Pickup.Location
			for pos := 0; pos <= len(seq); pos++ {
				prev := start
				if pos > 0 {
					prev = seq[pos-1].Pickup.Location
				}
				var detour float64
				if pos == len(seq) {
					detour = geo.Distance(prev, p)
				} else {
					next := seq[pos].Pickup.Location
					detour = geo.Distance(prev, p) + geo.Distance(p, next) - geo.Distance(prev, next)
				}
				if bestOrder == -1 || detour < bestDetour {
					bestOrder, bestPos, bestDetour = oi, pos, detour
				}
			}
		}
		o := remaining[bestOrder]
		remaining = append(remaining[:bestOrder], remaining[bestOrder+1:]...)
		seq = append(seq[:bestPos], append([]*model.Order{o}, seq[bestPos:]...)...)
	}
	return seq
}

// twoOpt reverses pickup sub-sequences while that shortens the path,
// restarting the sweep on every improvement, bounded by the configured
// iteration limit.
func (b *BatchOptimizer) twoOpt(start model.Location, seq []*model.Order) []*model.Order {
	limit := b.cfg.TwoOptIterationLimit
	if limit <= 0 {
		limit = 100
	}
	best := append([]*model.Order(nil), seq...)
	bestDist := pickupPathKm(start, best)
	n := len(best)
	for iter := 0; iter < limit; iter++ {
		improved := false
		for i := 0; i < n-2 && !improved; i++ {
			for j := i + 2; j < n && !improved; j++ {
				cand := append([]*model.Order(nil), best...)
				for a, z := i+1, j; a < z; a, z = a+1, z-1 {
					cand[a], cand[z] = cand[z], cand[a]
				}
				if d := pickupPathKm(start, cand); d+1e-9 < bestDist {
					best, bestDist = cand, d
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return best
}

func pickupPathKm(start model.Location, seq []*model.Order) float64 {
	total := 0.0
	at := start
	for _, o := range seq {
		total += geo.Distance(at, o.Pickup.Location)
		at = o.Pickup.Location
	}
	return total
}

func stopPathKm(start model.Location, stops []model.RouteStop) float64 {
	total := 0.0
	at := start
	for _, s := range stops {
		total += geo.Distance(at, s.Location)
		at = s.Location
	}
	return total
}
