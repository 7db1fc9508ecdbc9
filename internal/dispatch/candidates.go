// Package dispatch contains the assignment cycle engine: candidate
// generation, scoring, batching, surge handling, reassignment triggers,
// and the orchestrator that ties them together.
package dispatch

import (
	"time"

	"lastmile/internal/config"
	"lastmile/internal/eta"
	"lastmile/internal/geo"
	"lastmile/internal/model"
)

// deliveryHandoffMinutes is the fixed service time budgeted at the
// customer door when checking shift feasibility.
const deliveryHandoffMinutes = 3

// shiftEndBufferMinutes must remain between the estimated trip end and
// the rider's shift end.
const shiftEndBufferMinutes = 5

// CandidateGenerator filters the rider population down to the feasible
// candidates for one order: a geographic scan with adaptive radius
// expansion, then six hard-constraint checks.
type CandidateGenerator struct {
	cfg config.Config
	est *eta.Estimator
}

func NewCandidateGenerator(cfg config.Config, est *eta.Estimator) *CandidateGenerator {
	return &CandidateGenerator{cfg: cfg, est: est}
}

// Generate returns the candidate rider ids for order. The failure reason
// distinguishes an empty geographic scan from riders that were found but
// all failed constraints.
func (g *CandidateGenerator) Generate(order *model.Order, riders map[string]*model.Rider, now time.Time) model.CandidateResult {
	res := model.CandidateResult{OrderID: order.ID}

	inRadius := g.geographicScan(order, riders, now)
	if len(inRadius) == 0 {
		res.FailureReason = model.FailNoRidersInRadius
		return res
	}

	for _, id := range inRadius {
		rider := riders[id]
		if rider == nil {
			continue
		}
		if failed := g.checkConstraints(order, rider, now); len(failed) == 0 {
			res.CandidateRiderIDs = append(res.CandidateRiderIDs, id)
		}
	}
	if len(res.CandidateRiderIDs) == 0 {
		res.FailureReason = model.FailAllRidersConstrained
		return res
	}
	if max := g.cfg.Cycle.MaxRidersPerAssign; max > 0 && len(res.CandidateRiderIDs) > max {
		// The scan is nearest-first, so truncation keeps the closest riders.
		res.CandidateRiderIDs = res.CandidateRiderIDs[:max]
	}
	return res
}

// geographicScan expands initial -> expanded -> max radius until any
// rider is found. Orders whose SLA slack is already below the expansion
// threshold skip straight to the max radius.
func (g *CandidateGenerator) geographicScan(order *model.Order, riders map[string]*model.Rider, now time.Time) []string {
	locs := make(map[string]model.Location, len(riders))
	for id, r := range riders {
		locs[id] = r.Location
	}

	cd := g.cfg.Candidates
	slaMinutesRemaining := order.SLADeadline.Sub(now).Minutes()
	if slaMinutesRemaining < cd.RadiusExpansionMinsThreshold {
		return geo.WithinRadius(order.Pickup.Location, locs, cd.MaxRadiusKm)
	}
	for _, radius := range []float64{cd.InitialRadiusKm, cd.ExpandedRadiusKm, cd.MaxRadiusKm} {
		if found := geo.WithinRadius(order.Pickup.Location, locs, radius); len(found) > 0 {
			return found
		}
	}
	return nil
}

// checkConstraints runs the six hard checks and returns the identifiers
// of every failed one.
func (g *CandidateGenerator) checkConstraints(order *model.Order, rider *model.Rider, now time.Time) []string {
	var failed []string

	wKg, volL, items := rider.RemainingCapacity()
	p := order.Payload
	if p.WeightKg > wKg || p.VolumeLiters > volL || p.ItemCount > items {
		failed = append(failed, model.CheckCapacity)
	}

	if !vehicleCompatible(p, rider.Vehicle) {
		failed = append(failed, model.CheckVehicle)
	}

	toPickup := geo.TravelTimeMinutes(rider.Location, order.Pickup.Location, geo.DefaultSpeedKmh, geo.DefaultTrafficFactor)
	toDelivery := geo.TravelTimeMinutes(order.Pickup.Location, order.Delivery.Location, geo.DefaultSpeedKmh, geo.DefaultTrafficFactor)
	tripMinutes := toPickup + order.Pickup.EstimatedWaitMinutes + toDelivery + deliveryHandoffMinutes
	finish := now.Add(time.Duration(tripMinutes) * time.Minute)
	if finish.Add(shiftEndBufferMinutes * time.Minute).After(rider.Shift.EndTime) {
		failed = append(failed, model.CheckShiftEnd)
	}

	f := g.cfg.Fatigue
	if rider.Shift.ContinuousDrivingMinutes >= f.MaxContinuousDrivingMinutes ||
		rider.Shift.TotalShiftDrivingMinutes >= f.MaxShiftDrivingMinutes {
		failed = append(failed, model.CheckFatigue)
	}

	// Optimistic best case: free-flow traffic at the default speed. If even
	// that misses the deadline, the pair is hopeless.
	optimistic := geo.TravelTimeMinutes(rider.Location, order.Pickup.Location, geo.DefaultSpeedKmh, 1.0) +
		geo.TravelTimeMinutes(order.Pickup.Location, order.Delivery.Location, geo.DefaultSpeedKmh, 1.0)
	if now.Add(time.Duration(optimistic) * time.Minute).After(order.SLADeadline) {
		failed = append(failed, model.CheckSLA)
	}

	if rider.Status != model.RiderActive && rider.Status != model.RiderOnDelivery {
		failed = append(failed, model.CheckAvailability)
	}

	return failed
}

func vehicleCompatible(p model.Payload, v model.Vehicle) bool {
	switch p.VehicleRequirement {
	case model.RequireBike, model.RequireCar, model.RequireVan:
		if string(v.Type) != string(p.VehicleRequirement) {
			return false
		}
	case model.RequireRefrigerated:
		if !v.HasCapability(model.CapColdChain) {
			return false
		}
	}
	if p.Fragile && !v.HasCapability(model.CapFragile) {
		return false
	}
	if p.RequiresColdChain && !v.HasCapability(model.CapColdChain) {
		return false
	}
	return true
}
