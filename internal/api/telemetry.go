package api

import (
	"log/slog"
	"net/http"

	"github.com/paulmach/orb/geojson"

	"skytour/pkg/core"
	"skytour/pkg/sim"
)

// TelemetryHandler serves the pose for clients that poll instead of using
// the stream.
type TelemetryHandler struct {
	tour *core.Tour
}

func NewTelemetryHandler(tour *core.Tour) *TelemetryHandler {
	return &TelemetryHandler{tour: tour}
}

// HandleTelemetry handles GET /api/telemetry.
func (h *TelemetryHandler) HandleTelemetry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tour.Telemetry())
}

// HandleTrail handles GET /api/trail with the recorded path as a GeoJSON
// feature collection.
func (h *TelemetryHandler) HandleTrail(w http.ResponseWriter, r *http.Request) {
	fc := geojson.NewFeatureCollection()
	fc.Append(sim.TrailFeature(h.tour.Trail()))

	data, err := fc.MarshalJSON()
	if err != nil {
		slog.Error("Failed to encode trail", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to encode trail")
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	if _, err := w.Write(data); err != nil {
		slog.Error("Failed to write trail response", "error", err)
	}
}
