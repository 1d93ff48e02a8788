// Package handlers implements the HTTP handlers for the DocuLens API:
// analysis submission, session inspection, live event streams (SSE and
// WebSocket), and the agent roster.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/doculens/doculens/internal/events"
	"github.com/doculens/doculens/internal/reasoning"
	"github.com/doculens/doculens/internal/sessions"
	"github.com/doculens/doculens/internal/store"
	"github.com/doculens/doculens/internal/workflow"
	"github.com/doculens/doculens/pkg/models"
)

// maxContentBytes bounds the submitted document size.
const maxContentBytes = 4 << 20

// Handlers holds all handler dependencies.
type Handlers struct {
	Engine    *workflow.Engine
	Sessions  *sessions.Service
	Emitter   *events.Emitter
	Store     store.Store
	Reasoning reasoning.Client
	Version   string
}

// New creates a Handlers instance wired to the running engine.
func New(eng *workflow.Engine, sess *sessions.Service, em *events.Emitter, s store.Store, client reasoning.Client, version string) *Handlers {
	return &Handlers{
		Engine:    eng,
		Sessions:  sess,
		Emitter:   em,
		Store:     s,
		Reasoning: client,
		Version:   version,
	}
}

// ── Analysis Handlers ────────────────────────────────────────

// AnalysisRequest is the submission payload.
type AnalysisRequest struct {
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

// SubmitAnalysis starts a workflow for the submitted document.
// POST /api/v1/analyses returns 202 with the session ID; clients follow
// the session's event stream. With ?wait=true the request blocks until the
// run settles and returns the full result.
func (h *Handlers) SubmitAnalysis(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxContentBytes)

	var req AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "Request must include a non-empty 'content' field")
		return
	}
	if req.ContentType == "" {
		req.ContentType = "text/plain"
	}

	if r.URL.Query().Get("wait") == "true" {
		result, err := h.Engine.Run(r.Context(), req.Content, req.ContentType)
		if err != nil && !errors.Is(err, workflow.ErrUnusableResult) {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		status := http.StatusOK
		if result.Status == models.WorkflowFailed {
			status = http.StatusUnprocessableEntity
		}
		respondJSON(w, status, result)
		return
	}

	id := h.Engine.Start(r.Context(), req.Content, req.ContentType)
	respondJSON(w, http.StatusAccepted, map[string]string{
		"session_id": id,
		"status":     "accepted",
		"events_url": "/api/v1/analyses/" + id + "/events",
	})
}

// GetAnalysis returns the session record including per-agent states.
// GET /api/v1/analyses/{sessionID}
func (h *Handlers) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.Sessions.Get(r.Context(), sessionID)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// ListAnalyses returns recent sessions, newest first.
// GET /api/v1/analyses?limit=50
func (h *Handlers) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		fmt.Sscanf(raw, "%d", &limit)
	}
	list, err := h.Sessions.List(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []models.Session{}
	}
	respondJSON(w, http.StatusOK, list)
}

// GetAnalysisContext returns the accumulated raw agent outputs of a session.
// GET /api/v1/analyses/{sessionID}/context
func (h *Handlers) GetAnalysisContext(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	agentCtx, err := h.Store.GetAgentContext(r.Context(), sessionID)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, agentCtx)
}

// ── Event Stream Handlers ────────────────────────────────────

// StreamEvents streams a session's agent lifecycle events over SSE.
// GET /api/v1/analyses/{sessionID}/events?replay=true
//
// Without replay, only events published after the subscription are
// delivered. The stream ends when the workflow finishes or the client
// disconnects; disconnecting never cancels the run.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if _, err := h.Sessions.Get(r.Context(), sessionID); err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	replay := r.URL.Query().Get("replay") == "true"
	sub := h.Emitter.Subscribe(sessionID, replay)
	defer h.Emitter.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case evt, open := <-sub.C:
			if !open {
				fmt.Fprint(w, "event: done\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, _ := json.Marshal(evt)
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamEventsWS streams the same event feed over a WebSocket, for clients
// that cannot consume SSE. One JSON event per message; the connection
// closes when the workflow finishes.
// GET /api/v1/analyses/{sessionID}/ws?replay=true
func (h *Handlers) StreamEventsWS(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	replay := r.URL.Query().Get("replay") == "true"

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.Emitter.Subscribe(sessionID, replay)
	defer h.Emitter.Unsubscribe(sub)

	// Reads are only watched for client disconnect.
	disconnect := make(chan struct{})
	go func() {
		defer close(disconnect)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, open := <-sub.C:
			if !open {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "workflow finished"),
					time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				log.Debug().Err(err).Str("session_id", sessionID).Msg("WebSocket write failed, dropping subscriber")
				return
			}
		case <-disconnect:
			return
		}
	}
}

// ── Agent & Service Handlers ─────────────────────────────────

// ListAgents returns the static descriptor of every registered agent.
// GET /api/v1/agents
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Engine.Registry().Descriptors())
}

// Health reports service liveness and store reachability. The service stays
// healthy when the store is down; runs degrade to in-memory only.
// GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	storeStatus := "ok"
	if err := h.Store.Ping(r.Context()); err != nil {
		storeStatus = "unreachable"
	}
	reasoningStatus := "ok"
	if h.Reasoning == nil || !h.Reasoning.Ready() {
		reasoningStatus = "unconfigured"
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"service":   "doculens",
		"store":     storeStatus,
		"reasoning": reasoningStatus,
		"version":   h.Version,
	})
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
