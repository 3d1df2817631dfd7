// Package api implements the public HTTP/WebSocket surface, routed with
// go-chi/chi.
//
// Grounded on kadirpekel/hector's a2a/server.go for the handler-per-route
// shape and JSON response helper, adapted from net/http.ServeMux to
// chi's router.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/finflow-ai/orchestrator/internal/orchestrator"
)

// Server mounts every orchestrator route onto a chi router.
type Server struct {
	core   *orchestrator.Core
	router chi.Router
}

// New builds a Server wired to core.
func New(core *orchestrator.Core) *Server {
	s := &Server{core: core, router: chi.NewRouter()}
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Post("/process_request", s.handleProcessRequest)
	s.router.Get("/plans", s.handleListPlans)
	s.router.Get("/plan", s.handleGetPlan)
	s.router.Post("/plan_approval", s.handlePlanApproval)
	s.router.Post("/user_clarification", s.handleUserClarification)
	s.router.Post("/extraction_approval", s.handleExtractionApproval)
	s.router.Post("/cancel", s.handleCancel)
	s.router.Get("/teams", s.handleListTeams)
	s.router.Post("/teams/upload", s.handleUploadTeam)
	s.router.Get("/socket/{plan_id}", s.handleSocket)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.core.Monitor().Registry(), promhttp.HandlerOpts{}))
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondErr(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

type processRequestBody struct {
	Description  string `json:"description"`
	SessionID    string `json:"session_id"`
	RequireHITL  *bool  `json:"require_hitl"`
}

func (s *Server) handleProcessRequest(w http.ResponseWriter, r *http.Request) {
	var body processRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	if body.Description == "" {
		respondErr(w, http.StatusBadRequest, errMissingField("description"))
		return
	}

	result, err := s.core.SubmitRequest(r.Context(), body.Description, body.SessionID, body.RequireHITL)
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"plan_id":    result.PlanID,
		"session_id": result.SessionID,
		"status":     result.Status,
	})
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	plans, err := s.core.ListPlans(r.Context(), sessionID)
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	planID := r.URL.Query().Get("plan_id")
	if planID == "" {
		respondErr(w, http.StatusBadRequest, errMissingField("plan_id"))
		return
	}
	view, err := s.core.GetPlan(r.Context(), planID)
	if err != nil {
		respondErr(w, http.StatusNotFound, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"plan":              view.Plan,
		"messages":          view.Messages,
		"m_plan":            view.Plan,
		"team":              nil,
		"streaming_message": nil,
	})
}

type planApprovalBody struct {
	MPlanID          string   `json:"m_plan_id"`
	Approved         bool     `json:"approved"`
	Feedback         string   `json:"feedback"`
	ModifiedSequence []string `json:"modified_sequence"`
}

func (s *Server) handlePlanApproval(w http.ResponseWriter, r *http.Request) {
	var body planApprovalBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.core.SubmitPlanApproval(r.Context(), body.MPlanID, body.Approved, body.Feedback, body.ModifiedSequence); err != nil {
		respondErr(w, http.StatusConflict, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

type userClarificationBody struct {
	PlanID    string `json:"plan_id"`
	RequestID string `json:"request_id"`
	Answer    string `json:"answer"`
}

func (s *Server) handleUserClarification(w http.ResponseWriter, r *http.Request) {
	var body userClarificationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.core.SubmitUserClarification(body.PlanID, body.Answer); err != nil {
		respondErr(w, http.StatusConflict, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

type extractionApprovalBody struct {
	PlanID     string         `json:"plan_id"`
	Approved   bool           `json:"approved"`
	Feedback   string         `json:"feedback"`
	EditedData map[string]any `json:"edited_data"`
}

func (s *Server) handleExtractionApproval(w http.ResponseWriter, r *http.Request) {
	var body extractionApprovalBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.core.SubmitExtractionApproval(body.PlanID, body.Approved, body.Feedback); err != nil {
		respondErr(w, http.StatusConflict, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PlanID string `json:"plan_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	s.core.Cancel(body.PlanID)
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// handleListTeams and handleUploadTeam are opaque CRUD stubs, since team
// bodies live outside the orchestration core: listing returns an empty
// directory and upload answers 501 Not Implemented.
func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"teams": []any{}})
}

func (s *Server) handleUploadTeam(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusNotImplemented, map[string]string{"error": "team upload is outside the orchestration core"})
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "plan_id")
	if err := s.core.Broker().ServeWS(w, r, planID); err != nil {
		respondErr(w, http.StatusBadRequest, err)
	}
}

type fieldError struct{ field string }

func (e fieldError) Error() string { return "missing required field: " + e.field }

func errMissingField(field string) error { return fieldError{field: field} }
