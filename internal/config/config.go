// Package config holds the immutable dispatch configuration. Values are
// assembled through a Builder and validated once at Build time; the engine
// never mutates a built Config.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"lastmile/internal/model"
)

type CycleConfig struct {
	IntervalSeconds       int     `yaml:"cycleIntervalSeconds"`
	MaxOrdersPerCycle     int     `yaml:"maxOrdersPerCycle"`
	MaxRidersPerAssign    int     `yaml:"maxRidersPerAssignment"`
	OptimizerTimeoutSecs  float64 `yaml:"optimizerTimeoutSeconds"`
	HungarianThreshold    int     `yaml:"hungarianThreshold"`
}

// ScoringWeights are the six factor weights of the scorer, in factor
// order. They must sum to 1.0 within ±0.01.
type ScoringWeights struct {
	Time            float64 `yaml:"w1_time"`
	SLARisk         float64 `yaml:"w2_slaRisk"`
	Distance        float64 `yaml:"w3_distance"`
	BatchDisruption float64 `yaml:"w4_batchDisruption"`
	Workload        float64 `yaml:"w5_workload"`
	Affinity        float64 `yaml:"w6_affinity"`
}

func (w ScoringWeights) Sum() float64 {
	return w.Time + w.SLARisk + w.Distance + w.BatchDisruption + w.Workload + w.Affinity
}

type CandidateConfig struct {
	InitialRadiusKm              float64 `yaml:"initialRadiusKm"`
	ExpandedRadiusKm             float64 `yaml:"expandedRadiusKm"`
	MaxRadiusKm                  float64 `yaml:"maxRadiusKm"`
	RadiusExpansionMinsThreshold float64 `yaml:"radiusExpansionMinutesThreshold"`
}

type BatchConfig struct {
	MaxBatchSize            map[model.VehicleType]int `yaml:"maxBatchSize"`
	MaxBatchDurationMinutes int                       `yaml:"maxBatchDurationMinutes"`
	TwoOptIterationLimit    int                       `yaml:"twoOptIterationLimit"`
}

type ReassignConfig struct {
	MaxAttempts                  int     `yaml:"maxReassignmentAttempts"`
	SuppressionRadiusMeters      float64 `yaml:"suppressionRadiusMeters"`
	ETASpikeMinutes              float64 `yaml:"triggerEtaSpikeMinutes"`
	HighPrioritySLACutoffMinutes float64 `yaml:"triggerHighPrioritySlaCutoffMinutes"`
}

type SurgeConfig struct {
	SoftRatio                  float64 `yaml:"softSurgeRatio"`
	HardRatio                  float64 `yaml:"hardSurgeRatio"`
	CrisisRatio                float64 `yaml:"crisisRatio"`
	PrepositionLookbackMinutes int     `yaml:"prepositionLookbackMinutes"`
	BatchSizeIncrement         int     `yaml:"batchSizeIncrement"`
	RadiusExpansionFactor      float64 `yaml:"radiusExpansionFactor"`
}

type ETAConfig struct {
	TrafficAPIRefreshSeconds int               `yaml:"trafficApiRefreshSeconds"`
	RiderModelRetrainCron    string            `yaml:"riderModelRetrainCron"`
	ServiceTimeDefaults      map[string]int    `yaml:"serviceTimeDefaults"`
	CacheMinutes             float64           `yaml:"etaCacheMinutes"`
}

type FatigueConfig struct {
	MaxContinuousDrivingMinutes float64 `yaml:"maxContinuousDrivingMinutes"`
	MandatoryBreakMinutes       float64 `yaml:"mandatoryBreakMinutes"`
	MaxShiftDrivingMinutes      float64 `yaml:"maxShiftDrivingMinutes"`
}

type SLAConfig struct {
	NearBreachThresholdMinutes     float64 `yaml:"nearBreachThresholdMinutes"`
	BreachEscalationAlertThreshold float64 `yaml:"breachEscalationAlertThresholdPct"`
	RiskSigmoidScale               float64 `yaml:"slaRiskSigmoidScale"`
}

type Config struct {
	Cycle        CycleConfig     `yaml:"cycle"`
	Weights      ScoringWeights  `yaml:"weights"`
	Candidates   CandidateConfig `yaml:"candidates"`
	Batching     BatchConfig     `yaml:"batching"`
	Reassignment ReassignConfig  `yaml:"reassignment"`
	Surge        SurgeConfig     `yaml:"surge"`
	ETA          ETAConfig       `yaml:"eta"`
	Fatigue      FatigueConfig   `yaml:"fatigue"`
	SLA          SLAConfig       `yaml:"sla"`
}

// Default returns the built-in configuration. It passes Validate.
func Default() Config {
	return Config{
		Cycle: CycleConfig{
			IntervalSeconds:      30,
			MaxOrdersPerCycle:    200,
			MaxRidersPerAssign:   50,
			OptimizerTimeoutSecs: 1.5,
			HungarianThreshold:   10000,
		},
		Weights: ScoringWeights{
			Time:            0.32,
			SLARisk:         0.25,
			Distance:        0.20,
			BatchDisruption: 0.10,
			Workload:        0.10,
			Affinity:        0.03,
		},
		Candidates: CandidateConfig{
			InitialRadiusKm:              5,
			ExpandedRadiusKm:             10,
			MaxRadiusKm:                  20,
			RadiusExpansionMinsThreshold: 20,
		},
		Batching: BatchConfig{
			MaxBatchSize: map[model.VehicleType]int{
				model.VehicleBike: 3,
				model.VehicleCar:  5,
				model.VehicleVan:  8,
			},
			MaxBatchDurationMinutes: 90,
			TwoOptIterationLimit:    100,
		},
		Reassignment: ReassignConfig{
			MaxAttempts:                  3,
			SuppressionRadiusMeters:      500,
			ETASpikeMinutes:              15,
			HighPrioritySLACutoffMinutes: 20,
		},
		Surge: SurgeConfig{
			SoftRatio:                  1.2,
			HardRatio:                  1.6,
			CrisisRatio:                2.0,
			PrepositionLookbackMinutes: 30,
			BatchSizeIncrement:         1,
			RadiusExpansionFactor:      1.5,
		},
		ETA: ETAConfig{
			TrafficAPIRefreshSeconds: 300,
			RiderModelRetrainCron:    "*/15 * * * *",
			ServiceTimeDefaults: map[string]int{
				"restaurant_pickup":     8,
				"dark_store_pickup":     5,
				"apartment_delivery":    4,
				"ground_floor_delivery": 2,
				"house_delivery":        3,
				"commercial_delivery":   5,
			},
			CacheMinutes: 5,
		},
		Fatigue: FatigueConfig{
			MaxContinuousDrivingMinutes: 120,
			MandatoryBreakMinutes:       30,
			MaxShiftDrivingMinutes:      480,
		},
		SLA: SLAConfig{
			NearBreachThresholdMinutes:     15,
			BreachEscalationAlertThreshold: 10,
			RiskSigmoidScale:               10,
		},
	}
}

// Validate checks the construction invariants. A Config that fails here
// must never reach an engine.
func (c Config) Validate() error {
	if diff := c.Weights.Sum() - 1.0; diff > 0.01 || diff < -0.01 {
		return fmt.Errorf("config: scoring weights sum to %.4f, want 1.0 ±0.01", c.Weights.Sum())
	}
	for name, w := range map[string]float64{
		"w1_time": c.Weights.Time, "w2_slaRisk": c.Weights.SLARisk,
		"w3_distance": c.Weights.Distance, "w4_batchDisruption": c.Weights.BatchDisruption,
		"w5_workload": c.Weights.Workload, "w6_affinity": c.Weights.Affinity,
	} {
		if w < 0 {
			return fmt.Errorf("config: weight %s is negative", name)
		}
	}
	cd := c.Candidates
	if cd.InitialRadiusKm <= 0 || cd.ExpandedRadiusKm <= cd.InitialRadiusKm || cd.MaxRadiusKm <= cd.ExpandedRadiusKm {
		return fmt.Errorf("config: candidate radii must be strictly increasing and positive, got %.1f/%.1f/%.1f",
			cd.InitialRadiusKm, cd.ExpandedRadiusKm, cd.MaxRadiusKm)
	}
	sg := c.Surge
	if sg.SoftRatio <= 0 || sg.HardRatio <= sg.SoftRatio || sg.CrisisRatio <= sg.HardRatio {
		return fmt.Errorf("config: surge ratios must be strictly increasing and positive, got %.2f/%.2f/%.2f",
			sg.SoftRatio, sg.HardRatio, sg.CrisisRatio)
	}
	for name, v := range map[string]float64{
		"radiusExpansionMinutesThreshold": cd.RadiusExpansionMinsThreshold,
		"optimizerTimeoutSeconds":         c.Cycle.OptimizerTimeoutSecs,
		"hungarianThreshold":              float64(c.Cycle.HungarianThreshold),
		"maxOrdersPerCycle":               float64(c.Cycle.MaxOrdersPerCycle),
		"maxRidersPerAssignment":          float64(c.Cycle.MaxRidersPerAssign),
		"maxReassignmentAttempts":         float64(c.Reassignment.MaxAttempts),
		"suppressionRadiusMeters":         c.Reassignment.SuppressionRadiusMeters,
		"triggerEtaSpikeMinutes":          c.Reassignment.ETASpikeMinutes,
		"triggerHighPrioritySlaCutoff":    c.Reassignment.HighPrioritySLACutoffMinutes,
		"maxBatchDurationMinutes":         float64(c.Batching.MaxBatchDurationMinutes),
		"twoOptIterationLimit":            float64(c.Batching.TwoOptIterationLimit),
		"etaCacheMinutes":                 c.ETA.CacheMinutes,
		"maxContinuousDrivingMinutes":     c.Fatigue.MaxContinuousDrivingMinutes,
		"mandatoryBreakMinutes":           c.Fatigue.MandatoryBreakMinutes,
		"maxShiftDrivingMinutes":          c.Fatigue.MaxShiftDrivingMinutes,
		"slaRiskSigmoidScale":             c.SLA.RiskSigmoidScale,
		"radiusExpansionFactor":           c.Surge.RadiusExpansionFactor,
		"batchSizeIncrement":              float64(c.Surge.BatchSizeIncrement),
		"cycleIntervalSeconds":            float64(c.Cycle.IntervalSeconds),
		"trafficApiRefreshSeconds":        float64(c.ETA.TrafficAPIRefreshSeconds),
		"prepositionLookbackMinutes":      float64(c.Surge.PrepositionLookbackMinutes),
		"nearBreachThresholdMinutes":      c.SLA.NearBreachThresholdMinutes,
		"breachEscalationAlertThreshold":  c.SLA.BreachEscalationAlertThreshold,
	} {
		if v < 0 {
			return fmt.Errorf("config: %s is negative", name)
		}
	}
	for vt, n := range c.Batching.MaxBatchSize {
		if n < 0 {
			return fmt.Errorf("config: maxBatchSize.%s is negative", vt)
		}
	}
	for key, mins := range c.ETA.ServiceTimeDefaults {
		if mins < 0 {
			return fmt.Errorf("config: serviceTimeDefaults.%s is negative", key)
		}
	}
	return nil
}

// Builder accumulates overrides on top of Default and validates at Build.
type Builder struct {
	cfg Config
}

func NewBuilder() *Builder {
	return &Builder{cfg: Default()}
}

func (b *Builder) Weights(w ScoringWeights) *Builder          { b.cfg.Weights = w; return b }
func (b *Builder) Cycle(c CycleConfig) *Builder               { b.cfg.Cycle = c; return b }
func (b *Builder) Candidates(c CandidateConfig) *Builder      { b.cfg.Candidates = c; return b }
func (b *Builder) Batching(c BatchConfig) *Builder            { b.cfg.Batching = c; return b }
func (b *Builder) Reassignment(c ReassignConfig) *Builder     { b.cfg.Reassignment = c; return b }
func (b *Builder) Surge(c SurgeConfig) *Builder               { b.cfg.Surge = c; return b }
func (b *Builder) ETA(c ETAConfig) *Builder                   { b.cfg.ETA = c; return b }
func (b *Builder) Fatigue(c FatigueConfig) *Builder           { b.cfg.Fatigue = c; return b }
func (b *Builder) SLA(c SLAConfig) *Builder                   { b.cfg.SLA = c; return b }

// Build validates and returns the finished Config by value. The returned
// value is detached from the builder.
func (b *Builder) Build() (Config, error) {
	cfg := b.cfg
	cfg.Batching.MaxBatchSize = cloneBatchSizes(cfg.Batching.MaxBatchSize)
	cfg.ETA.ServiceTimeDefaults = cloneServiceTimes(cfg.ETA.ServiceTimeDefaults)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads a YAML config file layered over Default.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func cloneBatchSizes(in map[model.VehicleType]int) map[model.VehicleType]int {
	out := make(map[model.VehicleType]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneServiceTimes(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
