package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"skytour/pkg/version"
)

// Handlers are the route groups the server mounts.
type Handlers struct {
	Guide     *GuideHandler
	Telemetry *TelemetryHandler
	Session   *SessionHandler
	Narrator  *NarratorHandler
	Controls  *ControlsHandler
	POIs      *POIHandler
	Config    *ConfigHandler
	Stats     *StatsHandler
	Stream    *Hub
}

// NewServer creates the HTTP server. origins is the CORS allow-list and
// shutdown is called asynchronously by POST /api/shutdown.
func NewServer(addr string, origins []string, h Handlers, shutdown func()) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      NewRouter(origins, h, shutdown),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewRouter builds the route tree.
func NewRouter(origins []string, h Handlers, shutdown func()) http.Handler {
	r := chi.NewRouter()
	r.Use(securityHeaders, logRequest)

	r.Get("/health", handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(corsHandler(origins))

		r.Get("/version", handleVersion)

		r.Post("/narration", h.Guide.HandleNarration)
		r.Post("/voice-guide", h.Guide.HandleVoiceGuide)
		r.Post("/tts", h.Guide.HandleTTS)

		r.Get("/telemetry", h.Telemetry.HandleTelemetry)
		r.Get("/trail", h.Telemetry.HandleTrail)

		r.Get("/session", h.Session.HandleGet)
		r.Post("/session", h.Session.HandleBegin)
		r.Post("/session/phase", h.Session.HandlePhase)
		r.Get("/session/result", h.Session.HandleResult)

		r.Get("/narrator/status", h.Narrator.HandleStatus)
		r.Post("/narrator/speech-finished", h.Narrator.HandleSpeechFinished)

		r.Post("/controls", h.Controls.HandleKey)
		r.Get("/voice/status", h.Controls.HandleVoiceStatus)
		r.Post("/voice/toggle", h.Controls.HandleVoiceToggle)
		r.Post("/voice/transcript", h.Controls.HandleTranscript)

		r.Get("/pois", h.POIs.HandleList)
		r.Get("/pois/{id}", h.POIs.HandleGet)

		r.Get("/config", h.Config.HandleGet)
		r.Post("/config", h.Config.HandleUpdate)

		r.Method(http.MethodGet, "/stats", h.Stats)
		r.Get("/log/latest", handleLatestLog)
		r.Method(http.MethodGet, "/stream", h.Stream)

		r.Post("/shutdown", func(w http.ResponseWriter, r *http.Request) {
			slog.Info("Graceful shutdown initiated via API")
			writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
			// Give the response time to flush.
			go func() {
				time.Sleep(100 * time.Millisecond)
				shutdown()
			}()
		})
	})
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version.Version})
}
