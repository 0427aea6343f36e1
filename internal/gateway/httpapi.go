package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// HTTPAPI is the small REST boundary next to the websocket endpoint: login
// for clients that authenticate before opening a socket, a best-effort
// disconnect beacon, and a health probe.
type HTTPAPI struct {
	service *Service
	hub     *Hub
	logger  *log.Logger
}

func NewHTTPAPI(service *Service, hub *Hub, logger *log.Logger) *HTTPAPI {
	return &HTTPAPI{service: service, hub: hub, logger: logger.WithPrefix("http")}
}

// Router builds the route table.
func (a *HTTPAPI) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/api/login", a.handleLogin).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/disconnect", a.handleDisconnect).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", a.hub.HandleWebSocket)

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleLogin authenticates outside the socket. The session is bound to a
// fresh transport id returned to the caller; the duplicate-login rule applies
// the same as on the messaging path.
func (a *HTTPAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	var data LoginData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeJSON(w, http.StatusBadRequest, LoginResponse{Success: false, Reason: "malformed request body"})
		return
	}

	transportID := uuid.NewString()
	resp := a.service.Login(r.Context(), data.Channel, data.Username, data.Password, transportID)
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, struct {
		LoginResponse
		TransportID string `json:"transportId,omitempty"`
	}{resp, transportID})
}

// handleDisconnect is the beacon browsers fire on unload. Always 204: by the
// time it lands there may be nothing left to clean up.
func (a *HTTPAPI) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var data struct {
		Channel     string `json:"channel,omitempty"`
		TransportID string `json:"transportId,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&data); err == nil && data.TransportID != "" {
		a.service.Disconnect(data.Channel, data.TransportID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *HTTPAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
