package deliveries

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/doorstep-ai/platform/pkg/common/logger"
	"github.com/doorstep-ai/platform/pkg/connections"
	"github.com/doorstep-ai/platform/pkg/platforms"
	"github.com/gorilla/mux"
)

type HTTPHandler struct {
	service *Service
}

func NewHTTPHandler(service *Service) *HTTPHandler {
	return &HTTPHandler{service: service}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/api/v1/deliveries", h.Active).Methods("GET")
	router.HandleFunc("/api/v1/deliveries/history", h.History).Methods("GET")
	router.HandleFunc("/api/v1/deliveries/{platform}/{order_id}", h.ByID).Methods("GET")
}

func (h *HTTPHandler) Active(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	deliveries, err := h.service.Active(r.Context(), userID)
	if err != nil {
		logger.WithError(err).Error("aggregating deliveries")
		writeError(w, http.StatusInternalServerError, "failed to fetch deliveries")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deliveries": deliveries,
		"count":      len(deliveries),
	})
}

func (h *HTTPHandler) ByID(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	delivery, err := h.service.ByID(r.Context(), userID, vars["platform"], vars["order_id"])
	if err != nil {
		switch {
		case platforms.IsUnsupportedPlatform(err):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, connections.ErrNotFound):
			writeError(w, http.StatusNotFound, "platform not connected")
		case platforms.IsUpstreamAuth(err) || platforms.IsTokenExpired(err):
			writeError(w, http.StatusUnprocessableEntity, "reconnect required")
		case platforms.IsPlatformData(err):
			writeError(w, http.StatusNotFound, "delivery not found")
		default:
			logger.WithError(err).Error("fetching delivery")
			writeError(w, http.StatusBadGateway, "failed to fetch delivery")
		}
		return
	}
	writeJSON(w, http.StatusOK, delivery)
}

func (h *HTTPHandler) History(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	rows, err := h.service.History(r.Context(), userID, limit)
	if err != nil {
		logger.WithError(err).Error("listing delivery history")
		writeError(w, http.StatusInternalServerError, "failed to fetch history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": rows,
		"count":   len(rows),
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
