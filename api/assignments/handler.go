// Package assignments exposes the assignment engine over HTTP for the
// dispatcher back office: bind, reassign, cancel and a per-date listing.
package assignments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/secutrans/convoy/core/assign"
	"github.com/secutrans/convoy/core/model"
	"github.com/secutrans/convoy/core/store"
)

// Engine is the subset of the assignment engine the handlers drive.
type Engine interface {
	Bind(ctx context.Context, routeID, crewID, leadID, chaseID string) (assign.BindResult, error)
	AutoBind(ctx context.Context, routeID string) (assign.BindResult, error)
	Reassign(ctx context.Context, assignmentID, crewID, leadID, chaseID string) (assign.BindResult, error)
	Cancel(ctx context.Context, assignmentID string) error
}

type bindRequest struct {
	RouteID        string `json:"route_id"`
	CrewID         string `json:"crew_id"`
	LeadVehicleID  string `json:"lead_vehicle_id"`
	ChaseVehicleID string `json:"chase_vehicle_id"`
}

type reassignRequest struct {
	AssignmentID   string `json:"assignment_id"`
	CrewID         string `json:"crew_id"`
	LeadVehicleID  string `json:"lead_vehicle_id"`
	ChaseVehicleID string `json:"chase_vehicle_id"`
}

type cancelRequest struct {
	AssignmentID string `json:"assignment_id"`
}

type conflictResponse struct {
	Error        string     `json:"error"`
	Kind         string     `json:"kind"`
	ResourceID   string     `json:"resource_id"`
	Date         model.Date `json:"date"`
	AssignmentID string     `json:"assignment_id"`
}

// NewHandler wires all assignment endpoints onto one mux.
func NewHandler(engine Engine, assignments store.AssignmentStore) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/assignments/bind", NewBindHandler(engine))
	mux.Handle("/api/assignments/reassign", NewReassignHandler(engine))
	mux.Handle("/api/assignments/cancel", NewCancelHandler(engine))
	mux.Handle("/api/assignments", NewListHandler(assignments))
	return mux
}

// NewBindHandler returns an HTTP handler for POST /api/assignments/bind.
// Omitting all three resource IDs asks the engine to propose and bind a team
// itself.
func NewBindHandler(engine Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req bindRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.RouteID == "" {
			http.Error(w, "route_id is required", http.StatusBadRequest)
			return
		}
		var (
			res assign.BindResult
			err error
		)
		if req.CrewID == "" && req.LeadVehicleID == "" && req.ChaseVehicleID == "" {
			res, err = engine.AutoBind(r.Context(), req.RouteID)
		} else {
			res, err = engine.Bind(r.Context(), req.RouteID, req.CrewID, req.LeadVehicleID, req.ChaseVehicleID)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeBindResult(w, res)
	})
}

// NewReassignHandler returns an HTTP handler for POST /api/assignments/reassign.
// Empty resource fields keep the current binding.
func NewReassignHandler(engine Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req reassignRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.AssignmentID == "" {
			http.Error(w, "assignment_id is required", http.StatusBadRequest)
			return
		}
		res, err := engine.Reassign(r.Context(), req.AssignmentID, req.CrewID, req.LeadVehicleID, req.ChaseVehicleID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeBindResult(w, res)
	})
}

// NewCancelHandler returns an HTTP handler for POST /api/assignments/cancel.
func NewCancelHandler(engine Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req cancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.AssignmentID == "" {
			http.Error(w, "assignment_id is required", http.StatusBadRequest)
			return
		}
		if err := engine.Cancel(r.Context(), req.AssignmentID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// NewListHandler returns an HTTP handler for GET /api/assignments?date=YYYY-MM-DD.
func NewListHandler(assignments store.AssignmentStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		date, err := model.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		active, err := assignments.ActiveForDate(r.Context(), date)
		if err != nil {
			writeError(w, err)
			return
		}
		if active == nil {
			active = []model.TeamAssignment{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(active); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func writeBindResult(w http.ResponseWriter, res assign.BindResult) {
	w.Header().Set("Content-Type", "application/json")
	if res.Outcome == assign.BindConflict {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(conflictResponse{
			Error:        "resource conflict",
			Kind:         res.Conflict.Kind.String(),
			ResourceID:   res.Conflict.ResourceID,
			Date:         res.Conflict.Date,
			AssignmentID: res.Conflict.AssignmentID,
		})
		return
	}
	_ = json.NewEncoder(w).Encode(res.Assignment)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrInconsistent), errors.Is(err, model.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, model.ErrTransient):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
