// Package api serves the latest connection table snapshot and the analyzer
// counters over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"firestige.xyz/flowscope/internal/report"
)

// StatsFunc returns the current analyzer counters.
type StatsFunc func() map[string]uint64

// Server exposes the read-only HTTP API.
type Server struct {
	addr     string
	store    *report.Store
	stats    StatsFunc
	router   *mux.Router
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
}

// NewServer builds the router. stats may be nil, in which case the counters
// of the latest snapshot are served.
func NewServer(addr string, store *report.Store, stats StatsFunc) *Server {
	s := &Server{
		addr:   addr,
		store:  store,
		stats:  stats,
		router: mux.NewRouter(),
		logger: slog.Default().With("component", "api"),
	}
	s.router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/connections", s.listConnections).Methods(http.MethodGet)
	v1.HandleFunc("/connections/{id:[0-9]+}", s.getConnection).Methods(http.MethodGet)
	v1.HandleFunc("/stats", s.getStats).Methods(http.MethodGet)
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// ConnectionList is the body of GET /api/v1/connections.
type ConnectionList struct {
	Time        time.Time                   `json:"time"`
	Count       int                         `json:"count"`
	Connections []report.ConnectionSnapshot `json:"connections"`
}

// StatsResponse is the body of GET /api/v1/stats.
type StatsResponse struct {
	Time        time.Time         `json:"time"`
	Connections map[string]int    `json:"connections"`
	Counters    map[string]uint64 `json:"counters"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// listConnections filters on the optional type and state query parameters,
// both matched case-insensitively.
func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	resp := ConnectionList{Connections: []report.ConnectionSnapshot{}}
	snap := s.store.Latest()
	if snap != nil {
		resp.Time = snap.Time
		typ, state := r.URL.Query().Get("type"), r.URL.Query().Get("state")
		for _, c := range snap.Connections {
			if typ != "" && !strings.EqualFold(typ, c.Type) {
				continue
			}
			if state != "" && !strings.EqualFold(state, c.State) {
				continue
			}
			resp.Connections = append(resp.Connections, c)
		}
	}
	resp.Count = len(resp.Connections)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getConnection(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid connection id: %v", err))
		return
	}
	snap := s.store.Latest()
	if snap == nil {
		s.writeError(w, http.StatusNotFound, "no snapshot taken yet")
		return
	}
	c, ok := snap.Find(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("connection %d not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Connections: map[string]int{}, Counters: map[string]uint64{}}
	if snap := s.store.Latest(); snap != nil {
		resp.Time = snap.Time
		resp.Connections = snap.CountByType()
		if snap.Stats != nil {
			resp.Counters = snap.Stats
		}
	}
	if s.stats != nil {
		resp.Counters = s.stats()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting api server", "addr", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop shuts the server down, waiting at most five seconds for requests in
// flight.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	s.logger.Info("api server stopped")
	return nil
}
