// Package httpapi exposes the instance lifecycle over HTTP: connect,
// delete, refresh, status lookup, a live event stream for dashboards, and
// the gateway webhook endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/zaplink/zaplink/internal/gatewayapi"
	"github.com/zaplink/zaplink/internal/hub"
	"github.com/zaplink/zaplink/internal/instance"
	"github.com/zaplink/zaplink/internal/poller"
	"github.com/zaplink/zaplink/internal/webhook"
)

// Server wires the HTTP surface to the core components.
type Server struct {
	store    *instance.Store
	hub      *hub.Hub
	poller   *poller.Poller
	ingestor *webhook.Ingestor
	gateway  gatewayapi.Client
	version  string
	started  time.Time
}

// New creates the API server.
func New(store *instance.Store, h *hub.Hub, p *poller.Poller, in *webhook.Ingestor, gw gatewayapi.Client, version string) *Server {
	return &Server{
		store:    store,
		hub:      h,
		poller:   p,
		ingestor: in,
		gateway:  gw,
		version:  version,
		started:  time.Now(),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/instances/{agent}", s.handleConnect)
	mux.HandleFunc("DELETE /api/v1/instances/{agent}", s.handleDelete)
	mux.HandleFunc("POST /api/v1/instances/{agent}/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/v1/instances/{agent}", s.handleGet)
	mux.HandleFunc("GET /api/v1/instances/{agent}/events", s.handleEvents)
	mux.Handle("POST /webhook", s.ingestor)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	return mux
}

type connectRequest struct {
	Label       string `json:"label"`
	PhoneNumber string `json:"phone_number"`
}

// handleConnect provisions a gateway instance for the agent and records it
// as CREATED. The webhook and the poller move it along from there.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent")

	var req connectRequest
	// Empty body is fine; only reject bodies that are present and broken.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if cur, err := s.store.Get(agentID); err == nil {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":    "instance already exists; delete it first",
			"instance": cur,
		})
		return
	} else if !errors.Is(err, instance.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "store read failed")
		return
	}

	label := req.Label
	if label == "" {
		label = "zl-" + agentID + "-" + uuid.NewString()[:8]
	}

	ctx, cancel := context.WithTimeout(r.Context(), gatewayapi.CallTimeout)
	defer cancel()
	name, err := s.gateway.CreateInstance(ctx, agentID, label)
	if err != nil {
		slog.Error("Gateway instance creation failed", "agent_id", agentID, "error", err)
		writeError(w, http.StatusBadGateway, "gateway instance creation failed")
		return
	}

	rec, err := s.store.Create(agentID, name, req.PhoneNumber)
	if errors.Is(err, instance.ErrExists) {
		// Raced with a concurrent connect; the remote instance we just
		// provisioned is now orphaned, so clean it up.
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), gatewayapi.CallTimeout)
		defer cleanupCancel()
		if derr := s.gateway.DeleteInstance(cleanupCtx, name); derr != nil {
			slog.Warn("Orphaned instance cleanup failed", "instance", name, "error", derr)
		}
		writeError(w, http.StatusConflict, "instance already exists; delete it first")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store write failed")
		return
	}

	slog.Info("Instance created", "agent_id", agentID, "instance", name)
	writeJSON(w, http.StatusCreated, rec)
}

// handleDelete tears down both sides. Absence anywhere is treated as
// success so delete doubles as cleanup after partial failures.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent")

	rec, err := s.store.Get(agentID)
	if err != nil && !errors.Is(err, instance.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "store read failed")
		return
	}
	if err == nil {
		ctx, cancel := context.WithTimeout(r.Context(), gatewayapi.CallTimeout)
		defer cancel()
		if err := s.gateway.DeleteInstance(ctx, rec.InstanceName); err != nil {
			slog.Error("Gateway instance deletion failed", "agent_id", agentID, "instance", rec.InstanceName, "error", err)
			writeError(w, http.StatusBadGateway, "gateway instance deletion failed")
			return
		}
	}
	if err := s.store.Delete(agentID); err != nil {
		writeError(w, http.StatusInternalServerError, "store delete failed")
		return
	}
	slog.Info("Instance deleted", "agent_id", agentID)
	w.WriteHeader(http.StatusNoContent)
}

// handleRefresh forces one immediate reconciliation pass.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent")
	rec, err := s.poller.PollOnce(r.Context(), agentID)
	if err != nil {
		slog.Warn("Refresh poll failed", "agent_id", agentID, "error", err)
		writeError(w, http.StatusBadGateway, "gateway status fetch failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleGet returns the current record; a missing record reports NONE
// rather than 404 so clients never special-case absence.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent")
	rec, err := s.store.Get(agentID)
	if errors.Is(err, instance.ErrNotFound) {
		rec = instance.Record{AgentID: agentID, State: instance.StateNone}
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "store read failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleEvents streams state snapshots as server-sent events. Subscribing
// is what turns background polling on for this agent.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	subID, ch := s.hub.Subscribe(agentID)
	defer s.hub.Unsubscribe(agentID, subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Heartbeats keep intermediaries from closing the stream and double
	// as liveness signals toward the hub.
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
			s.hub.Touch(agentID, subID)
		case rec, open := <-ch:
			if !open {
				// Instance deleted; the final NONE snapshot was already sent.
				return
			}
			data, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			s.hub.Touch(agentID, subID)
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	m := s.ingestor.Metrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":             s.version,
		"uptime_seconds":      int(time.Since(s.started).Seconds()),
		"webhook_metrics":     m,
		"dedup_cache_entries": s.ingestor.DedupCacheSize(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
