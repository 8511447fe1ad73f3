package api

import (
	"net/http"

	"skytour/pkg/core"
	"skytour/pkg/model"
	"skytour/pkg/narrator"
)

// NarratorHandler exposes the narration slot to HTTP clients. Streaming
// clients get the same events over the websocket.
type NarratorHandler struct {
	tour *core.Tour
}

func NewNarratorHandler(tour *core.Tour) *NarratorHandler {
	return &NarratorHandler{tour: tour}
}

// NarratorStatusResponse is the slot state plus the recent history.
type NarratorStatusResponse struct {
	Current  narrator.Snapshot    `json:"current"`
	History  []model.HistoryEntry `json:"history"`
	Narrated int                  `json:"narratedCount"`
}

// HandleStatus handles GET /api/narrator/status.
func (h *NarratorHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	n := h.tour.Narrator()
	writeJSON(w, http.StatusOK, NarratorStatusResponse{
		Current:  n.Snapshot(),
		History:  n.History(h.tour.Config().Narrator.HistorySize),
		Narrated: h.tour.Session().NarratedCount(),
	})
}

// SpeechRequest is the end-of-speech signal for polling clients.
type SpeechRequest struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// HandleSpeechFinished handles POST /api/narrator/speech-finished.
func (h *NarratorHandler) HandleSpeechFinished(w http.ResponseWriter, r *http.Request) {
	var req SpeechRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id required")
		return
	}
	var ok bool
	if req.Error != "" {
		ok = h.tour.SpeechFailed(req.ID)
	} else {
		ok = h.tour.SpeechFinished(req.ID)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": ok})
}
