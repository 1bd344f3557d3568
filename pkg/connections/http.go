package connections

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/doorstep-ai/platform/pkg/common/logger"
	"github.com/doorstep-ai/platform/pkg/platforms"
	"github.com/gorilla/mux"
)

type HTTPHandler struct {
	service          *Service
	settingsRedirect string
}

func NewHTTPHandler(service *Service, settingsRedirect string) *HTTPHandler {
	return &HTTPHandler{service: service, settingsRedirect: settingsRedirect}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/api/v1/connections", h.List).Methods("GET")
	router.HandleFunc("/api/v1/connections/{platform}/initiate", h.Initiate).Methods("POST")
	router.HandleFunc("/api/v1/connections/{platform}/session", h.ConnectSession).Methods("POST")
	router.HandleFunc("/api/v1/connections/{platform}/refresh", h.Refresh).Methods("POST")
	router.HandleFunc("/api/v1/connections/{platform}/test", h.Test).Methods("POST")
	router.HandleFunc("/api/v1/connections/{platform}", h.Disconnect).Methods("DELETE")
	// Upstreams are split on callback verb; accept both.
	router.HandleFunc("/oauth/{platform}/callback", h.Callback).Methods("GET", "POST")
}

func (h *HTTPHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	infos, err := h.service.List(r.Context(), userID)
	if err != nil {
		logger.WithError(err).Error("listing connections")
		writeError(w, http.StatusInternalServerError, "failed to list connections")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"connections": infos})
}

func (h *HTTPHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	platform := mux.Vars(r)["platform"]
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	authURL, err := h.service.InitiateOAuth(r.Context(), userID, platform)
	if err != nil {
		switch {
		case platforms.IsUnsupportedPlatform(err):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, platforms.ErrCapabilityUnsupported):
			writeError(w, http.StatusUnprocessableEntity, "platform does not support oauth linking")
		default:
			logger.WithPlatform(platform).WithError(err).Error("initiating oauth")
			writeError(w, http.StatusInternalServerError, "failed to initiate oauth")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authorization_url": authURL})
}

// Callback lands the browser after the upstream consent screen. Outcomes
// are relayed to the settings page through short query codes only; upstream
// error detail stays in the logs.
func (h *HTTPHandler) Callback(w http.ResponseWriter, r *http.Request) {
	platformHint := mux.Vars(r)["platform"]

	// FormValue merges the query string and a form-encoded POST body, so
	// both callback transports land here.
	if upstreamErr := r.FormValue("error"); upstreamErr != "" {
		logger.WithPlatform(platformHint).WithField("upstream_error", upstreamErr).Warn("oauth consent denied")
		h.redirect(w, r, platformHint, "denied")
		return
	}

	code := r.FormValue("code")
	state := r.FormValue("state")
	if code == "" || state == "" {
		h.redirect(w, r, platformHint, "invalid_request")
		return
	}

	platform, err := h.service.HandleCallback(r.Context(), code, state)
	if err != nil {
		name := platformHint
		if platform != "" {
			name = string(platform)
		}
		switch {
		case errors.Is(err, ErrStateInvalid):
			logger.WithPlatform(name).Warn("oauth state rejected")
			h.redirect(w, r, name, "state_invalid")
		case platforms.IsUpstreamAuth(err):
			logger.WithPlatform(name).WithError(err).Warn("code exchange rejected")
			h.redirect(w, r, name, "exchange_failed")
		default:
			logger.WithPlatform(name).WithError(err).Error("oauth callback failed")
			h.redirect(w, r, name, "internal")
		}
		return
	}

	h.redirectSuccess(w, r, string(platform))
}

func (h *HTTPHandler) ConnectSession(w http.ResponseWriter, r *http.Request) {
	platform := mux.Vars(r)["platform"]

	var body struct {
		UserID      string `json:"user_id"`
		SessionBlob string `json:"session_blob"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.UserID == "" || body.SessionBlob == "" {
		writeError(w, http.StatusBadRequest, "user_id and session_blob are required")
		return
	}

	if err := h.service.ConnectSession(r.Context(), body.UserID, platform, body.SessionBlob); err != nil {
		switch {
		case platforms.IsUnsupportedPlatform(err):
			writeError(w, http.StatusNotFound, err.Error())
		case platforms.IsUpstreamAuth(err):
			writeError(w, http.StatusUnprocessableEntity, "session rejected by platform")
		default:
			logger.WithPlatform(platform).WithError(err).Error("linking session")
			writeError(w, http.StatusInternalServerError, "failed to link platform")
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "connected", "platform": platform})
}

func (h *HTTPHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	platform := mux.Vars(r)["platform"]
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := h.service.ForceRefresh(r.Context(), userID, platform); err != nil {
		switch {
		case platforms.IsUnsupportedPlatform(err):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, "platform not connected")
		case platforms.IsTokenExpired(err):
			writeError(w, http.StatusConflict, "refresh token expired, reconnect required")
		default:
			logger.WithPlatform(platform).WithError(err).Error("forcing refresh")
			writeError(w, http.StatusBadGateway, "refresh failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed", "platform": platform})
}

func (h *HTTPHandler) Test(w http.ResponseWriter, r *http.Request) {
	platform := mux.Vars(r)["platform"]
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := h.service.TestConnection(r.Context(), userID, platform); err != nil {
		switch {
		case platforms.IsUnsupportedPlatform(err):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, "platform not connected")
		case platforms.IsUpstreamAuth(err) || platforms.IsTokenExpired(err):
			writeError(w, http.StatusUnprocessableEntity, "credentials rejected by platform")
		default:
			logger.WithPlatform(platform).WithError(err).Error("testing connection")
			writeError(w, http.StatusBadGateway, "connection test failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "platform": platform})
}

func (h *HTTPHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	platform := mux.Vars(r)["platform"]
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := h.service.Disconnect(r.Context(), userID, platform); err != nil {
		switch {
		case platforms.IsUnsupportedPlatform(err):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, "platform not connected")
		default:
			logger.WithPlatform(platform).WithError(err).Error("disconnecting platform")
			writeError(w, http.StatusInternalServerError, "failed to disconnect")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) redirectSuccess(w http.ResponseWriter, r *http.Request, platform string) {
	q := url.Values{}
	q.Set("success", "true")
	q.Set("platform", platform)
	http.Redirect(w, r, h.settingsRedirect+"?"+q.Encode(), http.StatusFound)
}

func (h *HTTPHandler) redirect(w http.ResponseWriter, r *http.Request, platform, code string) {
	q := url.Values{}
	q.Set("error", code)
	if platform != "" {
		q.Set("platform", platform)
	}
	http.Redirect(w, r, h.settingsRedirect+"?"+q.Encode(), http.StatusFound)
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
