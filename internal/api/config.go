package api

import (
	"log/slog"
	"net/http"

	"skytour/pkg/config"
	"skytour/pkg/model"
	"skytour/pkg/session"
	"skytour/pkg/version"
)

// ConfigHandler serves the settings the presentation layer renders with and
// accepts the in-flight language switch.
type ConfigHandler struct {
	cfg     *config.Config
	session *session.Manager
}

func NewConfigHandler(cfg *config.Config, sm *session.Manager) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, session: sm}
}

// ConfigResponse is the presentation-relevant subset of the configuration.
type ConfigResponse struct {
	Version          string              `json:"version"`
	Language         model.Language      `json:"language"`
	Bounds           config.BoundsConfig `json:"bounds"`
	MinAltitudeM     float64             `json:"min_altitude_m"`
	MaxAltitudeM     float64             `json:"max_altitude_m"`
	MinSpeedKmh      float64             `json:"min_speed_kmh"`
	MaxSpeedKmh      float64             `json:"max_speed_kmh"`
	FOVDeg           float64             `json:"fov_deg"`
	MaxRangeM        float64             `json:"max_range_m"`
	TrailCap         int                 `json:"trail_cap"`
	PoseIntervalMS   int64               `json:"pose_interval_ms"`
	MaxListenMS      int64               `json:"max_listen_ms"`
	SilenceTimeoutMS int64               `json:"silence_timeout_ms"`
	LLMProvider      string              `json:"llm_provider"`
}

// ConfigRequest updates the live session settings.
type ConfigRequest struct {
	Language string `json:"language"`
}

func (h *ConfigHandler) response() ConfigResponse {
	c := h.cfg
	return ConfigResponse{
		Version:          version.Version,
		Language:         h.session.Language(),
		Bounds:           c.Flight.Bounds,
		MinAltitudeM:     c.Flight.MinAlt,
		MaxAltitudeM:     c.Flight.MaxAlt,
		MinSpeedKmh:      c.Flight.MinSpeed,
		MaxSpeedKmh:      c.Flight.MaxSpeed,
		FOVDeg:           c.Detector.FOVDeg,
		MaxRangeM:        c.Detector.MaxRange.Meters(),
		TrailCap:         c.Flight.TrailCap,
		PoseIntervalMS:   c.Loops.PoseBroadcastInterval.Std().Milliseconds(),
		MaxListenMS:      c.Voice.MaxListen.Std().Milliseconds(),
		SilenceTimeoutMS: c.Voice.SilenceTimeout.Std().Milliseconds(),
		LLMProvider:      c.LLM.Provider,
	}
}

// HandleGet handles GET /api/config.
func (h *ConfigHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.response())
}

// HandleUpdate handles POST /api/config.
func (h *ConfigHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch model.Language(req.Language) {
	case model.LangKorean, model.LangEnglish:
		h.session.SetLanguage(model.Language(req.Language))
		slog.Info("Language changed", "language", req.Language)
	case "":
	default:
		writeError(w, http.StatusBadRequest, "language must be ko or en")
		return
	}
	writeJSON(w, http.StatusOK, h.response())
}
