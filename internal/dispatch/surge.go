package dispatch

import (
	"math"
	"sort"
	"time"

	"lastmile/internal/config"
	"lastmile/internal/geo"
	"lastmile/internal/model"
)

// holdDeadlineHeadroom is the minimum SLA headroom a normal-priority order
// must have to be deferred under hard surge.
const holdDeadlineHeadroom = 30 * time.Minute

// SurgeHandler classifies demand pressure from the pending-order to
// available-capacity ratio. State is recomputed every cycle; the handler
// itself is stateless.
type SurgeHandler struct {
	cfg config.SurgeConfig
}

func NewSurgeHandler(cfg config.SurgeConfig) *SurgeHandler {
	return &SurgeHandler{cfg: cfg}
}

// Detect classifies the current cycle. activeBatchCapacity is the largest
// vehicle item capacity in the rider population.
func (h *SurgeHandler) Detect(pendingOrders, availableRiders, activeBatchCapacity int) model.SurgeState {
	capacity := availableRiders * activeBatchCapacity
	ratio := float64(pendingOrders) / math.Max(float64(capacity), 1)

	st := model.SurgeState{
		DemandSupplyRatio: ratio,
		PendingOrderCount: pendingOrders,
		AvailableCapacity: capacity,
	}
	switch {
	case ratio >= h.cfg.CrisisRatio:
		st.Level = model.SurgeCrisis
		st.RecommendedActions = []string{
			model.ActionEscalateSLAWindows,
			model.ActionNotifyCustomers,
			model.ActionEmergencyProtocol,
			model.ActionRequestSupply,
		}
	case ratio >= h.cfg.HardRatio:
		st.Level = model.SurgeHard
		st.RecommendedActions = []string{
			model.ActionEnablePrepositioning,
			model.ActionHoldSLAOrders,
			model.ActionIncreaseBatchSizes,
			model.ActionExpandSearchRadius,
		}
	case ratio >= h.cfg.SoftRatio:
		st.Level = model.SurgeSoft
		st.RecommendedActions = []string{
			model.ActionIncreaseBatchBy1,
			model.ActionExpandRadius50Pct,
			model.ActionReduceFairnessWeight,
		}
	default:
		st.Level = model.SurgeNormal
	}
	return st
}

// ApplyLevel derives the per-cycle configuration for a surge level. The
// base config stays untouched; hard surge pins the weight profile the way
// operations runs it (fairness off, risk and speed dominant), which is
// why the returned copy skips builder validation.
func ApplyLevel(cfg config.Config, level model.SurgeLevel) config.Config {
	out := cfg
	out.Batching.MaxBatchSize = map[model.VehicleType]int{}
	for vt, n := range cfg.Batching.MaxBatchSize {
		out.Batching.MaxBatchSize[vt] = n
	}

	inc := cfg.Surge.BatchSizeIncrement
	factor := cfg.Surge.RadiusExpansionFactor
	switch level {
	case model.SurgeSoft:
		out.Weights.Workload *= 0.5
		out.Weights.SLARisk = math.Min(1, cfg.Weights.SLARisk*1.2)
		for vt := range out.Batching.MaxBatchSize {
			out.Batching.MaxBatchSize[vt] += inc
		}
		out.Candidates = scaleRadii(cfg.Candidates, factor)
	case model.SurgeHard, model.SurgeCrisis:
		out.Weights.Workload = 0
		out.Weights.SLARisk = 0.5
		out.Weights.Time = 0.3
		out.Weights.Distance = 0.2
		for vt := range out.Batching.MaxBatchSize {
			out.Batching.MaxBatchSize[vt] += 2 * inc
		}
		out.Candidates = scaleRadii(cfg.Candidates, factor*factor)
	}
	return out
}

// ForceGreedy reports whether the level directs the orchestrator to skip
// global optimization.
func ForceGreedy(level model.SurgeLevel) bool { return level == model.SurgeCrisis }

// HoldEligible returns the normal-priority pending orders that can be
// deferred this cycle because their deadline is comfortably away.
func HoldEligible(orders []*model.Order, now time.Time) []string {
	var held []string
	for _, o := range orders {
		if o.Priority == model.PriorityNormal && o.SLADeadline.After(now.Add(holdDeadlineHeadroom)) {
			held = append(held, o.ID)
		}
	}
	return held
}

// PrepositionTarget pairs an idle rider with a demand hotspot centroid.
type PrepositionTarget struct {
	RiderID       string         `json:"riderId"`
	Target        model.Location `json:"target"`
	PendingOrders int            `json:"pendingOrders"`
}

// PrepositionTargets clusters pending orders into the 0.5 degree grid,
// takes the centroids of the most loaded buckets, and pairs each with the
// nearest still-unused idle rider.
func PrepositionTargets(pending []*model.Order, riders map[string]*model.Rider) []PrepositionTarget {
	type bucket struct {
		count            int
		sumLat, sumLng   float64
		key              string
	}
	buckets := map[string]*bucket{}
	for _, o := range pending {
		key := ZoneKey(o.Pickup.Location)
		b := buckets[key]
		if b == nil {
			b = &bucket{key: key}
			buckets[key] = b
		}
		b.count++
		b.sumLat += o.Pickup.Location.Lat
		b.sumLng += o.Pickup.Location.Lng
	}
	ranked := make([]*bucket, 0, len(buckets))
	for _, b := range buckets {
		ranked = append(ranked, b)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].key < ranked[j].key
	})

	idle := make([]*model.Rider, 0, len(riders))
	for _, r := range riders {
		if r.Status == model.RiderActive && len(r.CurrentAssignments) == 0 {
			idle = append(idle, r)
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].ID < idle[j].ID })

	n := len(ranked)
	if len(idle) < n {
		n = len(idle)
	}
	out := make([]PrepositionTarget, 0, n)
	used := make([]bool, len(idle))
	for _, b := range ranked[:n] {
		centroid := model.Location{Lat: b.sumLat / float64(b.count), Lng: b.sumLng / float64(b.count)}
		bestIdx := -1
		bestDist := 0.0
		for i, r := range idle {
			if used[i] {
				continue
			}
			d := geo.Distance(r.Location, centroid)
			if bestIdx == -1 || d < bestDist {
				bestIdx, bestDist = i, d
			}
		}
		if bestIdx == -1 {
			break
		}
		used[bestIdx] = true
		out = append(out, PrepositionTarget{
			RiderID:       idle[bestIdx].ID,
			Target:        centroid,
			PendingOrders: b.count,
		})
	}
	return out
}

func scaleRadii(c config.CandidateConfig, factor float64) config.CandidateConfig {
	c.InitialRadiusKm *= factor
	c.ExpandedRadiusKm *= factor
	c.MaxRadiusKm *= factor
	return c
}
