package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lastmile/internal/metrics"
	"lastmile/internal/model"
)

// apiError is the JSON error envelope: problem-details trimmed to the
// fields this API populates.
type apiError struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Path   string `json:"path,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, path string) {
	writeJSON(w, status, apiError{Title: title, Status: status, Detail: detail, Path: path})
}

type stateRequest struct {
	Orders []*model.Order `json:"orders"`
	Riders []*model.Rider `json:"riders"`
}

// StateHandler handles POST /v1/state (snapshot in) and GET /v1/state
// (engine state summary).
func (s *Server) StateHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req stateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "invalid body", err.Error(), r.URL.Path)
			return
		}
		orders := make(map[string]*model.Order, len(req.Orders))
		for _, o := range req.Orders {
			if o.ID == "" || !o.Pickup.Location.Valid() || !o.Delivery.Location.Valid() {
				writeProblem(w, http.StatusBadRequest, "invalid order",
					"orders need an id and in-range pickup/delivery coordinates", r.URL.Path)
				return
			}
			if o.Status == "" {
				o.Status = model.OrderPending
			}
			orders[o.ID] = o
		}
		riders := make(map[string]*model.Rider, len(req.Riders))
		for _, rd := range req.Riders {
			if rd.ID == "" || !rd.Location.Valid() {
				writeProblem(w, http.StatusBadRequest, "invalid rider",
					"riders need an id and in-range coordinates", r.URL.Path)
				return
			}
			riders[rd.ID] = rd
		}
		s.Engine.UpdateState(orders, riders)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"orders": len(orders),
			"riders": len(riders),
		})
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.Engine.State())
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
	}
}

// CyclesHandler handles POST /v1/cycles (execute one cycle) and
// GET /v1/cycles (recent history).
func (s *Server) CyclesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		start := time.Now()
		res := s.Engine.ExecuteCycle()
		metrics.CyclesTotal.Inc()
		metrics.CycleDuration.Observe(time.Since(start).Seconds())
		metrics.AssignmentsTotal.WithLabelValues("assigned").Add(float64(res.SuccessCount))
		metrics.AssignmentsTotal.WithLabelValues("unassigned").Add(float64(res.FailureCount))
		em := s.Engine.Metrics()
		if em.LastAlgorithm != "" {
			metrics.SolverRuns.WithLabelValues(em.LastAlgorithm).Inc()
		}
		metrics.SurgeLevel.Set(metrics.GaugeForSurge(string(em.SurgeState.Level)))
		metrics.ETACacheEntries.Set(float64(em.ETACacheStats.Entries))

		s.persistAndPublish(r, res)
		writeJSON(w, http.StatusOK, res)
	case http.MethodGet:
		limit := queryInt(r, "limit", 20)
		writeJSON(w, http.StatusOK, map[string]any{"items": s.Engine.History(limit)})
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
	}
}

// persistAndPublish checkpoints the cycle and fans its events out to the
// broker and webhook queue. Persistence failures are logged, never
// surfaced: the engine state is the source of truth.
func (s *Server) persistAndPublish(r *http.Request, res model.AssignmentCycleResult) {
	ctx := r.Context()
	if err := s.Store.SaveCycleResult(ctx, res); err != nil {
		s.Log.Error().Err(err).Str("cycle", res.CycleID).Msg("persist cycle result")
	}
	if err := s.Store.SaveAssignments(ctx, s.Engine.Assignments()); err != nil {
		s.Log.Error().Err(err).Str("cycle", res.CycleID).Msg("persist assignments")
	}

	now := time.Now().UTC()
	s.Broker.Publish(TopicDispatch, model.Event{
		ID: "evt_" + res.CycleID, Type: model.EventCycleCompleted, TS: now, Data: res,
	})
	s.Pub.Emit(ctx, model.EventCycleCompleted, res)
	for _, d := range res.Decisions {
		s.Broker.Publish(TopicDispatch, model.Event{
			ID: "evt_" + res.CycleID + "_" + d.OrderID, Type: model.EventAssignmentCreated, TS: now, Data: d,
		})
		s.Pub.Emit(ctx, model.EventAssignmentCreated, d)
	}
	for _, tr := range s.Engine.LastReassigned() {
		metrics.ReassignmentsTotal.WithLabelValues(string(tr.Kind)).Inc()
		s.Broker.Publish(TopicDispatch, model.Event{
			ID: "evt_" + res.CycleID + "_re_" + tr.OrderID, Type: model.EventOrderReassigned, TS: now, Data: tr,
		})
		s.Pub.Emit(ctx, model.EventOrderReassigned, tr)
	}
}

// EngineMetricsHandler handles GET /v1/metrics/engine.
func (s *Server) EngineMetricsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.Metrics())
}

// SurgeStateHandler handles GET /v1/surge.
func (s *Server) SurgeStateHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.SurgeState())
}

// PrepositionHandler handles GET /v1/preposition.
func (s *Server) PrepositionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"targets": s.Engine.PrepositionPlan()})
}

// AssignmentsHandler handles GET /v1/assignments.
func (s *Server) AssignmentsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.Engine.Assignments()})
}

// SubscriptionsHandler handles POST and GET /v1/subscriptions.
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "invalid body", err.Error(), r.URL.Path)
			return
		}
		if req.URL == "" || len(req.Events) == 0 {
			writeProblem(w, http.StatusBadRequest, "invalid subscription", "url and events are required", r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "create subscription", err.Error(), r.URL.Path)
			return
		}
		sub.Secret = ""
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		subs, err := s.Store.ListSubscriptions(r.Context(), queryInt(r, "limit", 100))
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "list subscriptions", err.Error(), r.URL.Path)
			return
		}
		for i := range subs {
			subs[i].Secret = ""
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": subs})
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}.
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if r.Method != http.MethodDelete || id == "" {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	if err := s.Store.DeleteSubscription(r.Context(), id); err != nil {
		writeProblem(w, http.StatusNotFound, "subscription not found", "", r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WebhookDeliveriesHandler handles GET /v1/admin/webhook-deliveries.
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	items, err := s.Store.ListWebhookDeliveries(r.Context(), r.URL.Query().Get("status"), queryInt(r, "limit", 100))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "list deliveries", err.Error(), r.URL.Path)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, d := range items {
		item := map[string]any{
			"id":        d.ID,
			"eventType": d.EventType,
			"status":    d.Status,
			"attempts":  d.Attempts,
			"url":       d.URL,
		}
		if d.LastError != "" {
			item["lastError"] = d.LastError
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
