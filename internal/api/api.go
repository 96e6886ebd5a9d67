// Package api exposes the delegation engine over HTTP for scripts and
// service integrations. Sessions are addressed explicitly via the
// X-Session-ID header so callers share conversation state with their
// chat-channel counterparts when they want to.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/switchboard/internal/engine"
	"github.com/nextlevelbuilder/switchboard/internal/remote"
	"github.com/nextlevelbuilder/switchboard/internal/store"
)

// EngineProvider returns a delegation engine scoped to one session.
type EngineProvider func(sessionID string) *engine.Engine

// Handler serves the delegation endpoints.
type Handler struct {
	engines EngineProvider
	token   string
}

func NewHandler(engines EngineProvider, token string) *Handler {
	return &Handler{engines: engines, token: token}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/agents", h.authMiddleware(h.handleAgents))
	mux.HandleFunc("POST /v1/delegations", h.authMiddleware(h.handleDelegate))
	mux.HandleFunc("GET /v1/delegations/{chat_id}", h.authMiddleware(h.handleCheck))
}

func (h *Handler) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			if extractBearerToken(r) != h.token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

// engineFor resolves the caller's session and returns a scoped engine
// plus a context carrying the session id for downstream logging.
func (h *Handler) engineFor(r *http.Request) (*engine.Engine, context.Context) {
	sessionID := r.Header.Get("X-Session-ID")
	if sessionID == "" {
		sessionID = "api"
	}
	return h.engines(sessionID), store.WithSessionID(r.Context(), sessionID)
}

func (h *Handler) handleAgents(w http.ResponseWriter, r *http.Request) {
	eng, ctx := h.engineFor(r)
	agents, err := eng.DiscoverAgents(ctx, r.URL.Query().Get("organization_id"))
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

type delegateRequest struct {
	AgentID        string `json:"agent_id"`
	OrganizationID string `json:"organization_id"`
	Query          string `json:"query"`
	ForceNew       bool   `json:"force_new"`
}

func (h *Handler) handleDelegate(w http.ResponseWriter, r *http.Request) {
	var req delegateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.AgentID == "" || req.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agent_id and query are required"})
		return
	}

	eng, ctx := h.engineFor(r)
	handle, err := eng.Delegate(ctx, req.AgentID, req.OrganizationID, req.Query, req.ForceNew)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, handle)
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chat_id")
	eng, ctx := h.engineFor(r)
	res, err := eng.CheckResponse(ctx, chatID)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, remote.ErrChatNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
