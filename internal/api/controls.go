package api

import (
	"log/slog"
	"net/http"

	"skytour/pkg/core"
	"skytour/pkg/sim"
)

// ControlsHandler accepts keyboard and voice input from clients that do not
// hold a stream connection.
type ControlsHandler struct {
	tour *core.Tour
}

func NewControlsHandler(tour *core.Tour) *ControlsHandler {
	return &ControlsHandler{tour: tour}
}

// KeyRequest is one key edge.
type KeyRequest struct {
	Key  string `json:"key"`
	Down bool   `json:"down"`
}

// KeyResponse reports the action a key press triggered.
type KeyResponse struct {
	Action   sim.Action   `json:"action"`
	Controls sim.Controls `json:"controls"`
}

// HandleKey handles POST /api/controls.
func (h *ControlsHandler) HandleKey(w http.ResponseWriter, r *http.Request) {
	var req KeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key required")
		return
	}
	action := sim.ActionNone
	if req.Down {
		action = h.tour.KeyDown(req.Key)
	} else {
		h.tour.KeyUp(req.Key)
	}
	writeJSON(w, http.StatusOK, KeyResponse{Action: action, Controls: h.tour.Sim().Input().Controls()})
}

// HandleVoiceStatus handles GET /api/voice/status.
func (h *ControlsHandler) HandleVoiceStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tour.Voice().Status())
}

// HandleVoiceToggle handles POST /api/voice/toggle. Capture failures are
// part of the returned status, not an HTTP error.
func (h *ControlsHandler) HandleVoiceToggle(w http.ResponseWriter, r *http.Request) {
	if !h.tour.Phase().IsFlying() {
		writeError(w, http.StatusConflict, "voice is only available in flight")
		return
	}
	st, err := h.tour.Voice().Toggle()
	if err != nil {
		slog.Debug("Voice toggle failed", "error", err)
	}
	writeJSON(w, http.StatusOK, st)
}

// TranscriptRequest carries recognition results for a capture session.
type TranscriptRequest struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
	End   bool   `json:"end"`
}

// HandleTranscript handles POST /api/voice/transcript.
func (h *ControlsHandler) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	var req TranscriptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v := h.tour.Voice()
	if req.Text != "" {
		v.Transcript(req.Text, req.Final)
	}
	if req.End {
		v.CaptureEnded()
	}
	writeJSON(w, http.StatusOK, v.Status())
}
