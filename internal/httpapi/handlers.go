package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"scrapeforge/internal/assertion"
	"scrapeforge/internal/gate"
	"scrapeforge/internal/generate"
	"scrapeforge/internal/pipeline"
	"scrapeforge/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateSessionRequest is the body for POST /api/v1/sessions.
type CreateSessionRequest struct {
	TargetURL string `json:"target_url"`
	Objective string `json:"objective"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TargetURL == "" || req.Objective == "" {
		s.respondError(w, http.StatusBadRequest, "target_url and objective required")
		return
	}
	sess, err := s.svc.CreateSession(req.TargetURL, req.Objective)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.GetSession(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusOK, sess)
}

// GenerateSpecRequest is the body for POST .../spec.
type GenerateSpecRequest struct {
	Exploration string `json:"exploration"`
}

func (s *Server) handleGenerateSpec(w http.ResponseWriter, r *http.Request) {
	var req GenerateSpecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	g, err := s.svc.GenerateSpec(chi.URLParam(r, "id"), req.Exploration)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusCreated, g)
}

// DecideGateRequest is the body for POST .../gates/{kind}/decide.
type DecideGateRequest struct {
	Action   string `json:"action"` // approve, reject
	Actor    string `json:"actor"`
	Feedback string `json:"feedback"`
}

func (s *Server) handleDecideGate(w http.ResponseWriter, r *http.Request) {
	var req DecideGateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	action := gate.Action(req.Action)
	if action != gate.ActionApprove && action != gate.ActionReject {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", req.Action))
		return
	}
	g, err := s.svc.DecideGate(chi.URLParam(r, "id"), gate.Kind(chi.URLParam(r, "kind")),
		action, req.Actor, req.Feedback)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusOK, g)
}

// GenerateScraperRequest is the body for POST .../scraper.
// MaxIterations overrides the configured refinement budget for this
// run; zero keeps the default.
type GenerateScraperRequest struct {
	Assertions    []assertion.Assertion `json:"assertions"`
	MaxIterations int                   `json:"max_iterations"`
}

func (s *Server) handleGenerateScraper(w http.ResponseWriter, r *http.Request) {
	var req GenerateScraperRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	ack, err := s.svc.GenerateScraper(chi.URLParam(r, "id"), req.Assertions, req.MaxIterations)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusAccepted, ack)
}

func (s *Server) handleCancelScraper(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	canceled, err := s.svc.CancelGeneration(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"session_id": id, "canceled": canceled})
}

func (s *Server) handleGetScraper(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.GetScraper(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusOK, view)
}

func (s *Server) handleGetDiffs(w http.ResponseWriter, r *http.Request) {
	diffs, err := s.svc.GetDiffs(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if diffs == nil {
		diffs = []store.Diff{}
	}
	s.respond(w, http.StatusOK, diffs)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	data, name, err := s.svc.Download(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respond(w, status, map[string]string{"error": msg})
}

// writeError maps façade errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, gate.ErrSequencingViolation),
		errors.Is(err, gate.ErrAlreadyDecided),
		errors.Is(err, gate.ErrGateOpen),
		errors.Is(err, pipeline.ErrGenerationInProgress):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, generate.ErrUpstream):
		s.respondError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}
