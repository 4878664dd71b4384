// Package server exposes the driver-facing operations over HTTP: one
// mux-routed request/response pair per operation, a server-sent-event
// stream of task status transitions, and a websocket broadcast of the
// same, following the split between a plain request/response router
// and a websocket hub seen in a prior iteration of this kind of
// service.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"starbash/internal/engine"
	"starbash/internal/starbash"
)

// Server wraps an assembled Engine behind an HTTP API.
type Server struct {
	addr   string
	engine *starbash.Engine
	hub    *websocketHub
	up     websocket.Upgrader
	log    *slog.Logger
	server *http.Server
}

// NewServer builds a Server bound to addr, driving eng.
func NewServer(addr string, eng *starbash.Engine, log *slog.Logger) *Server {
	return &Server{
		addr:   addr,
		engine: eng,
		hub:    newWebsocketHub(),
		up:     websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		log:    log,
	}
}

// Start runs the HTTP server until ctx is cancelled, at which point it
// shuts down gracefully: in-flight requests finish, new ones are
// refused.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.run()
	go s.relayTaskEvents(ctx)

	r := mux.NewRouter()
	s.setupRoutes(r)

	s.server = &http.Server{Addr: s.addr, Handler: r}

	go func() {
		<-ctx.Done()
		s.log.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	s.log.Info("server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// relayTaskEvents forwards every Executor status transition onto the
// websocket hub, for as long as ctx is alive.
func (s *Server) relayTaskEvents(ctx context.Context) {
	ch, unsubscribe := s.engine.Executor.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(t)
			if err != nil {
				continue
			}
			s.hub.broadcast <- payload
		}
	}
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	r.HandleFunc("/repositories", s.handleAddRepository).Methods("POST")
	r.HandleFunc("/repositories/{id}", s.handleRemoveRepository).Methods("DELETE")
	r.HandleFunc("/repositories/{id}/reindex", s.handleReindex).Methods("POST")

	r.HandleFunc("/selection", s.handleGetSelection).Methods("GET")
	r.HandleFunc("/selection/targets", s.handleSetTargets).Methods("PUT")
	r.HandleFunc("/selection/instruments", s.handleSetInstruments).Methods("PUT")
	r.HandleFunc("/selection/filters", s.handleSetFilters).Methods("PUT")
	r.HandleFunc("/selection/kinds", s.handleSetKinds).Methods("PUT")
	r.HandleFunc("/selection/after", s.handleSetAfter).Methods("PUT")
	r.HandleFunc("/selection/before", s.handleSetBefore).Methods("PUT")
	r.HandleFunc("/selection/clear", s.handleClearSelection).Methods("POST")

	r.HandleFunc("/targets", s.handleTargets).Methods("GET")
	r.HandleFunc("/instruments", s.handleInstruments).Methods("GET")
	r.HandleFunc("/filters", s.handleFilters).Methods("GET")

	r.HandleFunc("/process/masters", s.handleProcessMasters).Methods("POST")
	r.HandleFunc("/process/auto", s.handleProcessAuto).Methods("POST")

	r.HandleFunc("/stream", s.handleStream).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleAddRepository(w http.ResponseWriter, r *http.Request) {
	var repo engine.Repository
	if err := json.NewDecoder(r.Body).Decode(&repo); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.engine.AddRepository(repo); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleRemoveRepository(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.engine.RemoveRepository(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	summary, err := s.engine.Reindex(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, summary)
}

func (s *Server) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	sel, err := s.engine.CurrentSelection()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, sel)
}

func (s *Server) handleSetTargets(w http.ResponseWriter, r *http.Request) {
	var body []string
	if !decodeBody(w, r, &body) {
		return
	}
	sel, err := s.engine.SetTargets(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, sel)
}

func (s *Server) handleSetInstruments(w http.ResponseWriter, r *http.Request) {
	var body []string
	if !decodeBody(w, r, &body) {
		return
	}
	sel, err := s.engine.SetInstruments(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, sel)
}

func (s *Server) handleSetFilters(w http.ResponseWriter, r *http.Request) {
	var body []string
	if !decodeBody(w, r, &body) {
		return
	}
	sel, err := s.engine.SetFilters(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, sel)
}

func (s *Server) handleSetKinds(w http.ResponseWriter, r *http.Request) {
	var body []engine.ImageKind
	if !decodeBody(w, r, &body) {
		return
	}
	sel, err := s.engine.SetKinds(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, sel)
}

func (s *Server) handleSetAfter(w http.ResponseWriter, r *http.Request) {
	t, ok := decodeTimeBody(w, r)
	if !ok {
		return
	}
	sel, err := s.engine.SetAfter(t)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, sel)
}

func (s *Server) handleSetBefore(w http.ResponseWriter, r *http.Request) {
	t, ok := decodeTimeBody(w, r)
	if !ok {
		return
	}
	sel, err := s.engine.SetBefore(t)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, sel)
}

func (s *Server) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	sel, err := s.engine.ClearSelection()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, sel)
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	values, err := s.engine.Targets()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, values)
}

func (s *Server) handleInstruments(w http.ResponseWriter, r *http.Request) {
	values, err := s.engine.Instruments()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, values)
}

func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	values, err := s.engine.Filters()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, values)
}

func (s *Server) handleProcessMasters(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.ProcessMasters(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, reportResponse(report))
}

func (s *Server) handleProcessAuto(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.ProcessAuto(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, reportResponse(report))
}

// reportResponse adds the derived exit code alongside the row table so
// a caller doesn't have to recompute it.
func reportResponse(report starbash.Report) map[string]any {
	return map[string]any{
		"rows":      report.Rows,
		"exit_code": report.ExitCode(),
	}
}

// handleStream serves task status transitions as server-sent events,
// one JSON object per line.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch, unsubscribe := s.engine.Executor.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case t, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(t)
			if err != nil {
				continue
			}
			w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.hub.register <- conn

	go func() {
		defer func() {
			s.hub.unregister <- conn
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func decodeTimeBody(w http.ResponseWriter, r *http.Request) (*time.Time, bool) {
	var body struct {
		Value *time.Time `json:"value"`
	}
	if !decodeBody(w, r, &body) {
		return nil, false
	}
	return body.Value, true
}
