package model

import "time"

// Core domain types for the dispatch engine.

// Location is a WGS84 point in decimal degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point is inside the WGS84 envelope.
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending_assignment"
	OrderAssigned  OrderStatus = "assigned"
	OrderPickedUp  OrderStatus = "picked_up"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

type VehicleType string

const (
	VehicleBike VehicleType = "bike"
	VehicleCar  VehicleType = "car"
	VehicleVan  VehicleType = "van"
)

// VehicleRequirement is what an order demands of the vehicle. "any" matches
// every vehicle; "refrigerated" matches any vehicle with the cold_chain
// capability.
type VehicleRequirement string

const (
	RequireAny          VehicleRequirement = "any"
	RequireBike         VehicleRequirement = "bike"
	RequireCar          VehicleRequirement = "car"
	RequireVan          VehicleRequirement = "van"
	RequireRefrigerated VehicleRequirement = "refrigerated"
)

type Capability string

const (
	CapStandard  Capability = "standard"
	CapFragile   Capability = "fragile"
	CapColdChain Capability = "cold_chain"
)

type Payload struct {
	WeightKg           float64            `json:"weightKg"`
	VolumeLiters       float64            `json:"volumeLiters"`
	ItemCount          int                `json:"itemCount"`
	RequiresColdChain  bool               `json:"requiresColdChain,omitempty"`
	Fragile            bool               `json:"fragile,omitempty"`
	VehicleRequirement VehicleRequirement `json:"vehicleRequirement,omitempty"`
}

type PickupSpec struct {
	Location             Location   `json:"location"`
	Address              string     `json:"address,omitempty"`
	StoreID              string     `json:"storeId,omitempty"`
	EstimatedWaitMinutes int        `json:"estimatedPickupWaitMinutes,omitempty"`
	OpensAt              *time.Time `json:"opensAt,omitempty"`
	ClosesAt             *time.Time `json:"closesAt,omitempty"`
}

type DeliverySpec struct {
	Location       Location   `json:"location"`
	Address        string     `json:"address,omitempty"`
	CustomerID     string     `json:"customerId,omitempty"`
	PreferredStart *time.Time `json:"preferredStart,omitempty"`
	PreferredEnd   *time.Time `json:"preferredEnd,omitempty"`
}

type Order struct {
	ID                 string       `json:"id"`
	Status             OrderStatus  `json:"status"`
	CreatedAt          time.Time    `json:"createdAt"`
	SLADeadline        time.Time    `json:"slaDeadline"`
	Pickup             PickupSpec   `json:"pickup"`
	Delivery           DeliverySpec `json:"delivery"`
	Payload            Payload      `json:"payload"`
	Priority           Priority     `json:"priority"`
	AssignmentAttempts int          `json:"assignmentAttempts"`
	AssignedRiderID    string       `json:"assignedRiderId,omitempty"`
}

type RiderStatus string

const (
	RiderActive     RiderStatus = "active"
	RiderOnDelivery RiderStatus = "on_delivery"
	RiderOnBreak    RiderStatus = "break"
	RiderOffline    RiderStatus = "offline"
)

type Vehicle struct {
	Type            VehicleType  `json:"type"`
	MaxWeightKg     float64      `json:"maxWeightKg"`
	MaxVolumeLiters float64      `json:"maxVolumeLiters"`
	MaxItems        int          `json:"maxItems"`
	Capabilities    []Capability `json:"capabilities,omitempty"`
}

func (v Vehicle) HasCapability(c Capability) bool {
	for _, have := range v.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

type Shift struct {
	StartTime                time.Time `json:"startTime"`
	EndTime                  time.Time `json:"endTime"`
	ContinuousDrivingMinutes float64   `json:"continuousDrivingMinutes"`
	TotalShiftDrivingMinutes float64   `json:"totalShiftDrivingMinutes"`
}

type Load struct {
	WeightKg     float64 `json:"weightKg"`
	VolumeLiters float64 `json:"volumeLiters"`
	ItemCount    int     `json:"itemCount"`
}

type Performance struct {
	ZoneFamiliarity        map[string]float64 `json:"zoneFamiliarityScores,omitempty"`
	AvgDeliverySuccessRate float64            `json:"avgDeliverySuccessRate"`
	AvgSpeedMultiplier     float64            `json:"avgSpeedMultiplier"`
	TotalDeliveries        int                `json:"totalDeliveries"`
}

type StopType string

const (
	StopPickup   StopType = "pickup"
	StopDelivery StopType = "delivery"
)

// RouteStop is one stop in a rider's ordered route. Each assigned order
// contributes exactly one pickup and one delivery stop, pickup first.
type RouteStop struct {
	Type               StopType   `json:"type"`
	OrderID            string     `json:"orderId"`
	Location           Location   `json:"location"`
	SequenceIndex      int        `json:"sequenceIndex"`
	EstimatedArrival   *time.Time `json:"estimatedArrival,omitempty"`
	EstimatedDeparture *time.Time `json:"estimatedDeparture,omitempty"`
}

type Rider struct {
	ID                 string      `json:"id"`
	Status             RiderStatus `json:"status"`
	Location           Location    `json:"location"`
	Vehicle            Vehicle     `json:"vehicle"`
	Shift              Shift       `json:"shift"`
	Load               Load        `json:"load"`
	Performance        Performance `json:"performance"`
	CurrentAssignments []string    `json:"currentAssignments,omitempty"`
	CurrentRoute       []RouteStop `json:"currentRoute,omitempty"`
}

// RemainingCapacity is the headroom left on the vehicle after current load.
func (r *Rider) RemainingCapacity() (weightKg, volumeLiters float64, items int) {
	return r.Vehicle.MaxWeightKg - r.Load.WeightKg,
		r.Vehicle.MaxVolumeLiters - r.Load.VolumeLiters,
		r.Vehicle.MaxItems - r.Load.ItemCount
}

type AssignmentStatus string

const (
	AssignmentDispatched AssignmentStatus = "dispatched"
	AssignmentAccepted   AssignmentStatus = "accepted"
	AssignmentRejected   AssignmentStatus = "rejected"
	AssignmentReassigned AssignmentStatus = "reassigned"
	AssignmentCompleted  AssignmentStatus = "completed"
)

// Live reports whether the assignment still binds its order to its rider.
func (s AssignmentStatus) Live() bool {
	return s == AssignmentDispatched || s == AssignmentAccepted
}

// CostBreakdown carries the per-factor scorer costs that produced Total.
// All factors are in [0,1] except Affinity, which is in [-1,0].
type CostBreakdown struct {
	Time            float64 `json:"time"`
	SLARisk         float64 `json:"slaRisk"`
	Distance        float64 `json:"distance"`
	BatchDisruption float64 `json:"batchDisruption"`
	Workload        float64 `json:"workload"`
	Affinity        float64 `json:"affinity"`
	Total           float64 `json:"total"`
}

type Assignment struct {
	ID                  string           `json:"id"`
	OrderID             string           `json:"orderId"`
	RiderID             string           `json:"riderId"`
	AssignedAt          time.Time        `json:"assignedAt"`
	CycleID             string           `json:"cycleId"`
	CostBreakdown       CostBreakdown    `json:"costBreakdown"`
	EstimatedPickupAt   time.Time        `json:"estimatedPickupAt"`
	EstimatedDeliveryAt time.Time        `json:"estimatedDeliveryAt"`
	SLADeadline         time.Time        `json:"slaDeadline"`
	SLASlackMinutes     float64          `json:"slaSlackMinutes"`
	ReassignmentCount   int              `json:"reassignmentCount"`
	Status              AssignmentStatus `json:"status"`
}

type SurgeLevel string

const (
	SurgeNormal SurgeLevel = "normal"
	SurgeSoft   SurgeLevel = "soft_surge"
	SurgeHard   SurgeLevel = "hard_surge"
	SurgeCrisis SurgeLevel = "crisis"
)

// SurgeState is recomputed at the start of every cycle; it carries no
// memory across cycles.
type SurgeState struct {
	Level              SurgeLevel `json:"level"`
	DemandSupplyRatio  float64    `json:"demandSupplyRatio"`
	PendingOrderCount  int        `json:"pendingOrderCount"`
	AvailableCapacity  int        `json:"availableCapacity"`
	RecommendedActions []string   `json:"recommendedActions,omitempty"`
}

// CandidateResult is the per-order output of the candidate generator.
type CandidateResult struct {
	OrderID           string   `json:"orderId"`
	CandidateRiderIDs []string `json:"candidateRiderIds"`
	FailureReason     string   `json:"failureReason,omitempty"`
}

// Candidate-generation failure reasons.
const (
	FailNoRidersInRadius     = "no_riders_in_service_radius"
	FailAllRidersConstrained = "all_riders_failed_constraints"
)

// Hard-constraint check identifiers.
const (
	CheckCapacity     = "capacity_exceeded"
	CheckVehicle      = "vehicle_incompatible"
	CheckShiftEnd     = "shift_end_time"
	CheckFatigue      = "fatigue_limit_exceeded"
	CheckSLA          = "sla_infeasible"
	CheckAvailability = "rider_offline_or_unavailable"
)

type AssignmentDecision struct {
	OrderID       string        `json:"orderId"`
	RiderID       string        `json:"riderId"`
	SequenceIndex int           `json:"sequenceIndex"`
	Cost          float64       `json:"cost"`
	Breakdown     CostBreakdown `json:"breakdown"`
}

type CycleMetrics struct {
	AvgCost              float64            `json:"avgCost"`
	TotalSLASlackMinutes float64            `json:"totalSlaSlackMinutes"`
	RiderUtilization     map[string]float64 `json:"riderUtilization"`
}

type AssignmentCycleResult struct {
	CycleID      string               `json:"cycleId"`
	Timestamp    time.Time            `json:"timestamp"`
	Decisions    []AssignmentDecision `json:"decisions"`
	SuccessCount int                  `json:"successCount"`
	FailureCount int                  `json:"failureCount"`
	Metrics      CycleMetrics         `json:"metrics"`
}

type TriggerKind string

const (
	TriggerRiderOffline   TriggerKind = "rider_offline"
	TriggerETASpike       TriggerKind = "eta_spike"
	TriggerHighPriority   TriggerKind = "high_priority_arrival"
	TriggerNewRiderOnline TriggerKind = "new_rider_online"
)

// ReassignmentTrigger flags an order for reassignment, or (for
// new_rider_online) hints that spare capacity appeared. Hint triggers have
// an empty OrderID and are never applied to an order.
type ReassignmentTrigger struct {
	Kind    TriggerKind `json:"kind"`
	OrderID string      `json:"orderId,omitempty"`
	RiderID string      `json:"riderId,omitempty"`
	Detail  string      `json:"detail,omitempty"`
}

// ETAEstimate is the output contract of the ETA model.
type ETAEstimate struct {
	EstimatedDurationMinutes int     `json:"estimatedDurationMinutes"`
	Confidence               float64 `json:"confidence"`
	BaseTimeMinutes          int     `json:"baseTime"`
	TrafficMultiplier        float64 `json:"trafficMultiplier"`
	RiderSpeedMultiplier     float64 `json:"riderSpeedMultiplier"`
	ServiceTimeMinutes       int     `json:"serviceTimeMinutes"`
}

// Recommended-action tokens surfaced in SurgeState for external
// interpretation. Stable opaque strings.
const (
	ActionIncreaseBatchBy1     = "increase_batch_sizes_by_1"
	ActionExpandRadius50Pct    = "expand_candidate_radius_50pct"
	ActionReduceFairnessWeight = "reduce_fairness_weight"
	ActionEnablePrepositioning = "enable_preposioning"
	ActionHoldSLAOrders        = "hold_sla_orders"
	ActionIncreaseBatchSizes   = "increase_batch_sizes"
	ActionExpandSearchRadius   = "expand_search_radius"
	ActionEscalateSLAWindows   = "escalate_sla_windows"
	ActionNotifyCustomers      = "notify_customers"
	ActionEmergencyProtocol    = "activate_emergency_protocol"
	ActionRequestSupply        = "request_additional_supply"
)
