package api

import (
	"errors"
	"net/http"

	"skytour/pkg/core"
	"skytour/pkg/session"
)

// SessionHandler drives onboarding, phase changes and the result screen.
type SessionHandler struct {
	tour *core.Tour
}

func NewSessionHandler(tour *core.Tour) *SessionHandler {
	return &SessionHandler{tour: tour}
}

// HandleGet handles GET /api/session.
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tour.Session().Snapshot())
}

// HandleBegin handles POST /api/session. The body is the onboarding
// profile; every field is optional.
func (h *SessionHandler) HandleBegin(w http.ResponseWriter, r *http.Request) {
	var p session.Profile
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &p); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusCreated, h.tour.Begin(p))
}

// PhaseRequest is the body of POST /api/session/phase.
type PhaseRequest struct {
	Phase string `json:"phase"`
}

// PhaseResponse reports a phase change.
type PhaseResponse struct {
	Previous session.Phase `json:"previous"`
	Phase    session.Phase `json:"phase"`
}

// HandlePhase handles POST /api/session/phase.
func (h *SessionHandler) HandlePhase(w http.ResponseWriter, r *http.Request) {
	var req PhaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	prev, err := h.tour.SetPhase(session.Phase(req.Phase))
	if errors.Is(err, session.ErrUnknownPhase) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, PhaseResponse{Previous: prev, Phase: h.tour.Phase()})
}

// HandleResult handles GET /api/session/result.
func (h *SessionHandler) HandleResult(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tour.Result())
}
