package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"skytour/pkg/ratelimit"
)

// maxBody caps request bodies.
const maxBody = 64 << 10

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// setRateHeaders exposes the limiter state of the current key.
func setRateHeaders(w http.ResponseWriter, lim ratelimit.Result) {
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(lim.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(lim.ResetEpochSeconds, 10))
}

// writeRateLimited is the 429 reply for a rejected limiter check.
func writeRateLimited(w http.ResponseWriter, lim ratelimit.Result) {
	setRateHeaders(w, lim)
	w.Header().Set("Retry-After", strconv.Itoa(lim.RetryAfterSeconds))
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "Rate limit exceeded", RetryAfter: lim.RetryAfterSeconds})
}

// decodeJSON reads a size-capped JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
