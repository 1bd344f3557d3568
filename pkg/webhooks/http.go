package webhooks

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/doorstep-ai/platform/pkg/common/logger"
	"github.com/doorstep-ai/platform/pkg/platforms"
	"github.com/gorilla/mux"
)

const maxWebhookBody = 1 << 20 // 1MB

type HTTPHandler struct {
	pipeline *Pipeline
}

func NewHTTPHandler(pipeline *Pipeline) *HTTPHandler {
	return &HTTPHandler{pipeline: pipeline}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/webhook/{platform}", h.Receive).Methods("POST")
	router.HandleFunc("/webhook/{platform}", h.Liveness).Methods("GET")
}

func (h *HTTPHandler) Receive(w http.ResponseWriter, r *http.Request) {
	platform := mux.Vars(r)["platform"]

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")
	if signature == "" {
		signature = r.Header.Get("X-Signature")
	}

	result, err := h.pipeline.Process(r.Context(), platform, payload, signature, r.RemoteAddr)
	if err != nil {
		switch {
		case platforms.IsRateLimited(err):
			retryAfter := 1
			var rated *platforms.RateLimitedError
			if errors.As(err, &rated) {
				retryAfter = rated.RetryAfterSeconds
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		case platforms.IsUnsupportedPlatform(err):
			writeError(w, http.StatusBadRequest, "unknown platform")
		case platforms.IsSignatureInvalid(err):
			writeError(w, http.StatusUnauthorized, "invalid signature")
		case platforms.IsPlatformData(err):
			writeError(w, http.StatusBadRequest, "malformed payload")
		default:
			logger.WithPlatform(platform).WithError(err).Error("webhook processing failed")
			writeError(w, http.StatusInternalServerError, "processing failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Liveness lets platform dashboards verify the endpoint without sending a
// signed event.
func (h *HTTPHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	platform := mux.Vars(r)["platform"]
	if _, err := h.pipeline.registry.Get(platform); err != nil {
		writeError(w, http.StatusBadRequest, "unknown platform")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"platform":  platform,
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.WithError(err).Error("encoding response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
