package dispatch

import (
	"fmt"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"lastmile/internal/config"
	"lastmile/internal/eta"
	"lastmile/internal/model"
	"lastmile/internal/opt"
)

// historyLimit bounds the in-memory cycle history.
const historyLimit = 256

// Engine owns the order/rider/assignment state and runs assignment
// cycles. A cycle is atomic: concurrent ExecuteCycle calls serialize on
// the engine mutex, and callers must treat passed-in maps as owned by the
// engine once handed over.
type Engine struct {
	mu  sync.Mutex
	cfg config.Config
	log zerolog.Logger
	now func() time.Time

	orders      map[string]*model.Order
	riders      map[string]*model.Rider
	assignments map[string]*model.Assignment
	byOrder     map[string]string // orderID -> live assignment id

	est      *eta.Estimator
	rng      *rand.Rand
	batch    *BatchOptimizer
	surge    *SurgeHandler
	reassign *ReassignmentEngine

	cycleCounter     int
	history          []model.AssignmentCycleResult
	totalAssignments int
	lastSurge        model.SurgeState
	lastAlgorithm    string
	lastPreposition  []PrepositionTarget
	lastReassigned   []model.ReassignmentTrigger
}

// EngineState is the getState snapshot.
type EngineState struct {
	OrderCounts     map[model.OrderStatus]int `json:"orderCounts"`
	RiderCounts     map[model.RiderStatus]int `json:"riderCounts"`
	LiveAssignments int                       `json:"liveAssignments"`
	CycleCount      int                       `json:"cycleCount"`
	LastCycleID     string                    `json:"lastCycleId,omitempty"`
}

// EngineMetrics is the getMetrics document.
type EngineMetrics struct {
	CycleCount        int                          `json:"cycleCount"`
	LastCycle         *model.AssignmentCycleResult `json:"lastCycle,omitempty"`
	SurgeState        model.SurgeState             `json:"surgeState"`
	ReassignmentStats ReassignmentStats            `json:"reassignmentStats"`
	TotalAssignments  int                          `json:"totalAssignments"`
	LastAlgorithm     string                       `json:"lastAlgorithm,omitempty"`
	ETACacheStats     eta.CacheStats               `json:"etaCacheStats"`
}

type Option func(*Engine)

// WithClock pins the engine's time source; every timestamp within one
// cycle derives from a single now() captured at cycle start.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithRand seeds the ETA model's random source for deterministic tests.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

// New builds an engine. The configuration is validated here; an invalid
// config means no engine.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	e := &Engine{
		cfg:         cfg,
		log:         zerolog.Nop(),
		now:         time.Now,
		orders:      map[string]*model.Order{},
		riders:      map[string]*model.Rider{},
		assignments: map[string]*model.Assignment{},
		byOrder:     map[string]string{},
	}
	for _, opt := range opts {
		opt(e)
	}
	etaOpts := []eta.Option{eta.WithClock(e.now)}
	if e.rng != nil {
		etaOpts = append(etaOpts, eta.WithRand(e.rng))
	}
	e.est = eta.NewEstimator(cfg.ETA, etaOpts...)
	e.batch = NewBatchOptimizer(cfg.Batching)
	e.surge = NewSurgeHandler(cfg.Surge)
	e.reassign = NewReassignmentEngine(cfg.Reassignment, e.est)
	return e, nil
}

// UpdateState hands the order and rider populations to the engine. The
// engine owns the passed maps and their values from here on; mutating
// them externally while a cycle runs has undefined effects.
func (e *Engine) UpdateState(orders map[string]*model.Order, riders map[string]*model.Rider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if orders != nil {
		e.orders = orders
	}
	if riders != nil {
		e.riders = riders
	}
}

// Estimator exposes the ETA model for maintenance sweeps and telemetry.
func (e *Engine) Estimator() *eta.Estimator { return e.est }

// ExecuteCycle runs one full assignment cycle and returns its result.
func (e *Engine) ExecuteCycle() model.AssignmentCycleResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	cycleID := fmt.Sprintf("cycle_%d_%d", now.UnixMilli(), e.cycleCounter)
	e.cycleCounter++

	pending := e.pendingOrders()
	e.lastSurge = e.detectSurge(len(pending))

	result := model.AssignmentCycleResult{
		CycleID:   cycleID,
		Timestamp: now,
		Decisions: []model.AssignmentDecision{},
		Metrics:   model.CycleMetrics{RiderUtilization: map[string]float64{}},
	}
	if len(pending) == 0 {
		e.fillUtilization(&result)
		e.appendHistory(result)
		return result
	}

	cfg := ApplyLevel(e.cfg, e.lastSurge.Level)
	eligible := pending
	if e.lastSurge.Level == model.SurgeHard {
		held := map[string]bool{}
		for _, id := range HoldEligible(pending, now) {
			held[id] = true
		}
		kept := eligible[:0:0]
		for _, o := range eligible {
			if !held[o.ID] {
				kept = append(kept, o)
			}
		}
		eligible = kept
		e.lastPreposition = PrepositionTargets(pending, e.riders)
		e.log.Info().Int("held", len(held)).Int("prepositioned", len(e.lastPreposition)).
			Str("cycle", cycleID).Msg("hard surge modifiers applied")
	}
	if max := cfg.Cycle.MaxOrdersPerCycle; max > 0 && len(eligible) > max {
		eligible = eligible[:max]
	}

	scores := e.generateAndScore(cfg, eligible, now)

	matrix, breakdowns := buildMatrix(eligible, scores)
	solver := opt.Solve(
		matrix,
		cfg.Cycle.HungarianThreshold,
		time.Duration(cfg.Cycle.OptimizerTimeoutSecs*float64(time.Second)),
		ForceGreedy(e.lastSurge.Level),
	)
	e.lastAlgorithm = solver.Algorithm
	e.log.Debug().Str("cycle", cycleID).Str("algorithm", solver.Algorithm).
		Int("orders", len(matrix.OrderIDs)).Int("riders", len(matrix.RiderIDs)).
		Msg("solver finished")

	e.applyAssignments(cycleID, now, matrix, solver, breakdowns, &result)
	e.applyReassignmentTriggers(now)

	result.SuccessCount = len(result.Decisions)
	result.FailureCount = len(pending) - result.SuccessCount
	if n := len(result.Decisions); n > 0 {
		sum := 0.0
		for _, d := range result.Decisions {
			sum += d.Cost
		}
		result.Metrics.AvgCost = sum / float64(n)
	}
	e.fillUtilization(&result)
	e.appendHistory(result)

	e.log.Info().Str("cycle", cycleID).Int("assigned", result.SuccessCount).
		Int("unassigned", result.FailureCount).Str("surge", string(e.lastSurge.Level)).
		Msg("cycle complete")
	return result
}

// pendingOrders returns pending orders oldest first.
func (e *Engine) pendingOrders() []*model.Order {
	var out []*model.Order
	for _, o := range e.orders {
		if o.Status == model.OrderPending {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (e *Engine) detectSurge(pendingCount int) model.SurgeState {
	available := 0
	maxItems := 0
	for _, r := range e.riders {
		if r.Status == model.RiderActive || r.Status == model.RiderOnDelivery {
			available++
		}
		if r.Vehicle.MaxItems > maxItems {
			maxItems = r.Vehicle.MaxItems
		}
	}
	return e.surge.Detect(pendingCount, available, maxItems)
}

type pairScore struct {
	cost      float64
	breakdown model.CostBreakdown
}

type orderScores struct {
	candidates model.CandidateResult
	pairs      map[string]pairScore
}

// generateAndScore runs candidate generation and scoring for every
// eligible order in parallel. Both stages are pure over the frozen
// snapshot, so fan-out is safe while the engine lock is held.
func (e *Engine) generateAndScore(cfg config.Config, eligible []*model.Order, now time.Time) []orderScores {
	gen := NewCandidateGenerator(cfg, e.est)
	scorer := NewScorer(cfg, e.est)

	out := make([]orderScores, len(eligible))
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i, order := range eligible {
		i, order := i, order
		g.Go(func() error {
			cand := gen.Generate(order, e.riders, now)
			entry := orderScores{candidates: cand, pairs: map[string]pairScore{}}
			for _, riderID := range cand.CandidateRiderIDs {
				rider := e.riders[riderID]
				if rider == nil {
					continue
				}
				cost, bd := scorer.Score(order, rider, now)
				entry.pairs[riderID] = pairScore{cost: cost, breakdown: bd}
			}
			out[i] = entry
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; per-order failures are reasons, not errors
	return out
}

// buildMatrix pivots per-pair scores into the dense cost matrix, with the
// sentinel marking pairs outside any candidate list.
func buildMatrix(eligible []*model.Order, scores []orderScores) (opt.Matrix, map[string]map[string]model.CostBreakdown) {
	riderSet := map[string]bool{}
	m := opt.Matrix{}
	breakdowns := map[string]map[string]model.CostBreakdown{}
	for i, order := range eligible {
		if len(scores[i].candidates.CandidateRiderIDs) == 0 {
			continue
		}
		m.OrderIDs = append(m.OrderIDs, order.ID)
		for riderID := range scores[i].pairs {
			riderSet[riderID] = true
		}
	}
	for riderID := range riderSet {
		m.RiderIDs = append(m.RiderIDs, riderID)
	}
	sort.Strings(m.RiderIDs)

	idx := map[string]int{}
	for j, riderID := range m.RiderIDs {
		idx[riderID] = j
	}
	rowOf := map[string]int{}
	for i, orderID := range m.OrderIDs {
		rowOf[orderID] = i
	}
	m.Cost = make([][]float64, len(m.OrderIDs))
	for i := range m.Cost {
		m.Cost[i] = make([]float64, len(m.RiderIDs))
		for j := range m.Cost[i] {
			m.Cost[i][j] = opt.Sentinel
		}
	}
	for i, order := range eligible {
		row, ok := rowOf[order.ID]
		if !ok {
			continue
		}
		breakdowns[order.ID] = map[string]model.CostBreakdown{}
		for riderID, ps := range scores[i].pairs {
			m.Cost[row][idx[riderID]] = ps.cost
			breakdowns[order.ID][riderID] = ps.breakdown
		}
	}
	return m, breakdowns
}

// applyAssignments mutates orders/riders per the solver output and emits
// one decision per assigned pair.
func (e *Engine) applyAssignments(
	cycleID string,
	now time.Time,
	matrix opt.Matrix,
	solved opt.Result,
	breakdowns map[string]map[string]model.CostBreakdown,
	result *model.AssignmentCycleResult,
) {
	for _, orderID := range matrix.OrderIDs {
		riderID, ok := solved.Assignments[orderID]
		if !ok {
			continue
		}
		order := e.orders[orderID]
		rider := e.riders[riderID]
		if order == nil || rider == nil || order.Status != model.OrderPending {
			continue
		}

		seqIndex := len(rider.CurrentAssignments)
		order.Status = model.OrderAssigned
		order.AssignedRiderID = riderID
		order.AssignmentAttempts++
		rider.CurrentAssignments = append(rider.CurrentAssignments, orderID)

		bd := breakdowns[orderID][riderID]
		etaPickup := e.est.Estimate(rider.Location, order.Pickup.Location, now, riderID, "")
		pickupAt := now.Add(time.Duration(etaPickup.EstimatedDurationMinutes) * time.Minute)
		etaDrop := e.est.Estimate(order.Pickup.Location, order.Delivery.Location, pickupAt, riderID, "")
		deliveryAt := pickupAt.Add(time.Duration(etaDrop.EstimatedDurationMinutes) * time.Minute)

		// One live assignment per order: replace, never duplicate.
		reassignments := 0
		if oldID, ok := e.byOrder[orderID]; ok {
			if old := e.assignments[oldID]; old != nil {
				reassignments = old.ReassignmentCount
			}
			delete(e.assignments, oldID)
		}
		a := &model.Assignment{
			ID:                  "asg_" + uuid.NewString(),
			OrderID:             orderID,
			RiderID:             riderID,
			AssignedAt:          now,
			CycleID:             cycleID,
			CostBreakdown:       bd,
			EstimatedPickupAt:   pickupAt,
			EstimatedDeliveryAt: deliveryAt,
			SLADeadline:         order.SLADeadline,
			SLASlackMinutes:     order.SLADeadline.Sub(deliveryAt).Minutes(),
			ReassignmentCount:   reassignments,
			Status:              model.AssignmentDispatched,
		}
		e.assignments[a.ID] = a
		e.byOrder[orderID] = a.ID
		e.totalAssignments++

		result.Decisions = append(result.Decisions, model.AssignmentDecision{
			OrderID:       orderID,
			RiderID:       riderID,
			SequenceIndex: seqIndex,
			Cost:          bd.Total,
			Breakdown:     bd,
		})
		result.Metrics.TotalSLASlackMinutes += a.SLASlackMinutes

		e.rebuildRoute(rider)
	}
}

// rebuildRoute re-sequences the rider's route through the batch optimizer.
// An infeasible batch keeps the previous route; the capacity checks at
// candidate time make that rare.
func (e *Engine) rebuildRoute(rider *model.Rider) {
	var carried []*model.Order
	for _, orderID := range rider.CurrentAssignments {
		if o := e.orders[orderID]; o != nil {
			carried = append(carried, o)
		}
	}
	plan, err := e.batch.Optimize(rider, carried)
	if err != nil {
		e.log.Warn().Err(err).Str("rider", rider.ID).Msg("batch not feasible, route unchanged")
		return
	}
	rider.CurrentRoute = plan.Stops
}

// applyReassignmentTriggers frees triggered orders for the next cycle,
// subject to the per-order guards.
func (e *Engine) applyReassignmentTriggers(now time.Time) {
	triggers := e.reassign.DetectTriggers(e.orders, e.riders, e.assignments, now)
	processed := map[string]bool{}
	e.lastReassigned = nil
	for _, tr := range triggers {
		if tr.OrderID == "" || processed[tr.OrderID] {
			continue
		}
		order := e.orders[tr.OrderID]
		if order == nil || order.Status != model.OrderAssigned {
			continue
		}
		if !e.reassign.CanReassign(tr.OrderID, now) {
			continue
		}
		rider := e.riders[order.AssignedRiderID]
		if rider != nil && e.reassign.IsSuppressed(rider, order.Pickup.Location) {
			continue
		}
		processed[tr.OrderID] = true

		order.Status = model.OrderPending
		order.AssignedRiderID = ""
		if rider != nil {
			rider.CurrentAssignments = removeString(rider.CurrentAssignments, tr.OrderID)
			e.rebuildRoute(rider)
		}
		if aid, ok := e.byOrder[tr.OrderID]; ok {
			if a := e.assignments[aid]; a != nil {
				a.Status = model.AssignmentReassigned
				a.ReassignmentCount++
			}
		}
		e.reassign.RecordReassignment(tr.OrderID, now)
		e.lastReassigned = append(e.lastReassigned, tr)
		e.log.Info().Str("order", tr.OrderID).Str("kind", string(tr.Kind)).
			Str("detail", tr.Detail).Msg("order freed for reassignment")
	}
}

func (e *Engine) fillUtilization(result *model.AssignmentCycleResult) {
	for id, r := range e.riders {
		if r.Vehicle.MaxItems > 0 {
			result.Metrics.RiderUtilization[id] = float64(r.Load.ItemCount) / float64(r.Vehicle.MaxItems)
		}
	}
}

func (e *Engine) appendHistory(result model.AssignmentCycleResult) {
	e.history = append(e.history, result)
	if len(e.history) > historyLimit {
		e.history = e.history[len(e.history)-historyLimit:]
	}
}

// State returns the getState snapshot.
func (e *Engine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := EngineState{
		OrderCounts: map[model.OrderStatus]int{},
		RiderCounts: map[model.RiderStatus]int{},
		CycleCount:  len(e.history),
	}
	for _, o := range e.orders {
		st.OrderCounts[o.Status]++
	}
	for _, r := range e.riders {
		st.RiderCounts[r.Status]++
	}
	for _, a := range e.assignments {
		if a.Status.Live() {
			st.LiveAssignments++
		}
	}
	if n := len(e.history); n > 0 {
		st.LastCycleID = e.history[n-1].CycleID
	}
	return st
}

// Metrics returns the getMetrics document.
func (e *Engine) Metrics() EngineMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := EngineMetrics{
		CycleCount:        len(e.history),
		SurgeState:        e.lastSurge,
		ReassignmentStats: e.reassign.Stats(),
		TotalAssignments:  e.totalAssignments,
		LastAlgorithm:     e.lastAlgorithm,
		ETACacheStats:     e.est.CacheStats(),
	}
	if n := len(e.history); n > 0 {
		last := e.history[n-1]
		m.LastCycle = &last
	}
	return m
}

// History returns up to limit most recent cycle results, newest last.
func (e *Engine) History(limit int) []model.AssignmentCycleResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	return append([]model.AssignmentCycleResult(nil), e.history[n-limit:]...)
}

// SurgeState returns the surge classification from the most recent cycle.
func (e *Engine) SurgeState() model.SurgeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSurge
}

// LastReassigned returns the triggers that were actually applied in the
// most recent cycle.
func (e *Engine) LastReassigned() []model.ReassignmentTrigger {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.ReassignmentTrigger(nil), e.lastReassigned...)
}

// PrepositionPlan returns the hotspot pairings from the last hard-surge
// cycle.
func (e *Engine) PrepositionPlan() []PrepositionTarget {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]PrepositionTarget(nil), e.lastPreposition...)
}

// Assignments snapshots the current assignment records.
func (e *Engine) Assignments() []model.Assignment {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Assignment, 0, len(e.assignments))
	for _, a := range e.assignments {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.Before(out[j].AssignedAt) })
	return out
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
