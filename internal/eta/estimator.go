// Package eta implements the pluggable ETA model: distance-based travel
// time shaped by hour-of-day traffic, a per-rider speed multiplier learned
// online, and building-type service times. Estimates are memoized in a
// bounded LRU keyed by rounded endpoints and departure minute.
package eta

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"lastmile/internal/config"
	"lastmile/internal/geo"
	"lastmile/internal/model"
)

const (
	defaultCacheSize = 8192
	ewmaAlpha        = 0.1
)

type cacheKey struct {
	oLat, oLng int64 // 1e-4 degree grid
	dLat, dLng int64
	minute     int64 // departure, unix minutes
}

type cachedEstimate struct {
	est      model.ETAEstimate
	storedAt time.Time
}

// RiderModel is the per-rider speed model. Created lazily on first use and
// kept for the lifetime of the process.
type RiderModel struct {
	RiderID            string
	SpeedMultiplier    float64
	FamiliarZones      map[string]struct{}
	TrainingDatapoints int
	LastUpdated        time.Time
}

// RouteETA is the chained estimate over a multi-stop route.
type RouteETA struct {
	TotalMinutes int
	Legs         []model.ETAEstimate
}

type CacheStats struct {
	Entries     int `json:"entries"`
	Capacity    int `json:"capacity"`
	RiderModels int `json:"riderModels"`
}

type Estimator struct {
	mu     sync.Mutex
	cfg    config.ETAConfig
	cache  *lru.Cache[cacheKey, cachedEstimate]
	riders map[string]*RiderModel
	now    func() time.Time
	rng    *rand.Rand
}

type Option func(*Estimator)

// WithClock injects the time source. Tests pin it.
func WithClock(now func() time.Time) Option {
	return func(e *Estimator) { e.now = now }
}

// WithRand injects the random source used for initial rider multipliers
// and confidence jitter.
func WithRand(rng *rand.Rand) Option {
	return func(e *Estimator) { e.rng = rng }
}

func NewEstimator(cfg config.ETAConfig, opts ...Option) *Estimator {
	cache, err := lru.New[cacheKey, cachedEstimate](defaultCacheSize)
	if err != nil {
		// Only reachable with a non-positive size constant.
		panic(fmt.Sprintf("eta: cache init: %v", err))
	}
	e := &Estimator{
		cfg:    cfg,
		cache:  cache,
		riders: map[string]*RiderModel{},
		now:    time.Now,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Estimate computes the ETA for a single leg departing at departure.
// riderID and buildingType are optional; empty strings disable the rider
// multiplier and the service-time lookup. Never fails: degenerate inputs
// (equal endpoints) yield a zero travel time plus service time.
func (e *Estimator) Estimate(origin, dest model.Location, departure time.Time, riderID, buildingType string) model.ETAEstimate {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := keyFor(origin, dest, departure)
	if hit, ok := e.cache.Get(key); ok {
		if e.now().Sub(hit.storedAt) < e.cacheTTL() {
			return hit.est
		}
		e.cache.Remove(key)
	}

	base := geo.TravelTimeMinutes(origin, dest, geo.DefaultSpeedKmh, 1.0)
	traffic := trafficMultiplier(departure)
	riderMult := 1.0
	if riderID != "" {
		riderMult = e.riderModelLocked(riderID).SpeedMultiplier
	}
	service := 0
	if buildingType != "" {
		service = e.cfg.ServiceTimeDefaults[buildingType]
	}
	travel := int(math.Round(float64(base) * traffic * riderMult))

	est := model.ETAEstimate{
		EstimatedDurationMinutes: travel + service,
		Confidence:               0.75 + e.rng.Float64()*0.2,
		BaseTimeMinutes:          base,
		TrafficMultiplier:        traffic,
		RiderSpeedMultiplier:     riderMult,
		ServiceTimeMinutes:       service,
	}
	e.cache.Add(key, cachedEstimate{est: est, storedAt: e.now()})
	return est
}

// EstimateRoute chains pairwise estimates over locations, advancing the
// departure clock by each leg's duration.
func (e *Estimator) EstimateRoute(locations []model.Location, start time.Time, riderID string) RouteETA {
	var out RouteETA
	at := start
	for i := 0; i+1 < len(locations); i++ {
		leg := e.Estimate(locations[i], locations[i+1], at, riderID, "")
		out.Legs = append(out.Legs, leg)
		out.TotalMinutes += leg.EstimatedDurationMinutes
		at = at.Add(time.Duration(leg.EstimatedDurationMinutes) * time.Minute)
	}
	return out
}

// UpdateRiderModel folds an observed trip into the rider's speed model:
// EWMA toward estimated/actual, zone marked familiar, counter bumped.
func (e *Estimator) UpdateRiderModel(riderID string, actualMinutes, estimatedMinutes float64, zone string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.riderModelLocked(riderID)
	ratio := estimatedMinutes / math.Max(actualMinutes, 1)
	m.SpeedMultiplier = (1-ewmaAlpha)*m.SpeedMultiplier + ewmaAlpha*ratio
	if zone != "" {
		m.FamiliarZones[zone] = struct{}{}
	}
	m.TrainingDatapoints++
	m.LastUpdated = e.now()
}

// RiderMultiplier exposes the current multiplier, initializing the model
// if the rider is new.
func (e *Estimator) RiderMultiplier(riderID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.riderModelLocked(riderID).SpeedMultiplier
}

// ClearExpiredCache sweeps entries older than the configured TTL and
// returns how many were dropped.
func (e *Estimator) ClearExpiredCache() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	cutoff := e.now().Add(-e.cacheTTL())
	for _, key := range e.cache.Keys() {
		if hit, ok := e.cache.Peek(key); ok && hit.storedAt.Before(cutoff) {
			e.cache.Remove(key)
			removed++
		}
	}
	return removed
}

func (e *Estimator) CacheStats() CacheStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return CacheStats{
		Entries:     e.cache.Len(),
		Capacity:    defaultCacheSize,
		RiderModels: len(e.riders),
	}
}

func (e *Estimator) cacheTTL() time.Duration {
	mins := e.cfg.CacheMinutes
	if mins <= 0 {
		mins = 5
	}
	return time.Duration(mins * float64(time.Minute))
}

func (e *Estimator) riderModelLocked(riderID string) *RiderModel {
	if m, ok := e.riders[riderID]; ok {
		return m
	}
	m := &RiderModel{
		RiderID:         riderID,
		SpeedMultiplier: 0.8 + e.rng.Float64()*0.4,
		FamiliarZones:   map[string]struct{}{},
		LastUpdated:     e.now(),
	}
	e.riders[riderID] = m
	return m
}

func keyFor(origin, dest model.Location, departure time.Time) cacheKey {
	return cacheKey{
		oLat:   round4(origin.Lat),
		oLng:   round4(origin.Lng),
		dLat:   round4(dest.Lat),
		dLng:   round4(dest.Lng),
		minute: departure.Unix() / 60,
	}
}

func round4(deg float64) int64 {
	return int64(math.Round(deg * 1e4))
}

// trafficMultiplier maps the local hour of the departure instant to a
// congestion factor: morning and evening peaks 1.5x, night 1.1x.
func trafficMultiplier(departure time.Time) float64 {
	h := departure.Hour()
	switch {
	case (h >= 8 && h < 10) || (h >= 17 && h < 19):
		return 1.5
	case h >= 22 || h < 6:
		return 1.1
	default:
		return 1.0
	}
}
