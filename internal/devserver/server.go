// Package devserver is the companion cloud store: the REST surface and
// real-time relay the sync core converges against, backed by memory. It
// exists for development, demos and end-to-end tests, not production.
package devserver

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/mariek/littlefeed/internal/config"
	"github.com/mariek/littlefeed/internal/logging"
	"github.com/mariek/littlefeed/internal/transport"
)

// Server holds the authoritative in-memory record sets and the relay hub.
type Server struct {
	secret string
	hub    *Hub

	mu      sync.Mutex
	bottles map[string]transport.Bottle
	poops   map[string]transport.Poop
}

// New creates a Server. An empty JWT secret disables auth.
func New(cfg config.ServerConfig) *Server {
	s := &Server{
		secret:  cfg.JWTSecret,
		hub:     NewHub(),
		bottles: make(map[string]transport.Bottle),
		poops:   make(map[string]transport.Poop),
	}
	go s.hub.Run()
	return s
}

// Close stops the relay hub. The in-memory record sets are discarded with
// the process.
func (s *Server) Close() {
	s.hub.Stop()
}

// Handler builds the HTTP routing table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/realtime", s.handleWebsocket)

	api := r.NewRoute().Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/bottles", s.handleCreateBottle).Methods(http.MethodPost)
	api.HandleFunc("/bottles", s.handleListBottles).Methods(http.MethodGet)
	api.HandleFunc("/bottles/{id}", s.handleUpdateBottle).Methods(http.MethodPut)
	api.HandleFunc("/bottles/{id}", s.handleDeleteBottle).Methods(http.MethodDelete)
	api.HandleFunc("/poops", s.handleCreatePoop).Methods(http.MethodPost)
	api.HandleFunc("/poops", s.handleListPoops).Methods(http.MethodGet)
	api.HandleFunc("/poops/{id}", s.handleUpdatePoop).Methods(http.MethodPut)
	api.HandleFunc("/poops/{id}", s.handleDeletePoop).Methods(http.MethodDelete)

	return r
}

// ListenAndServe runs the server until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	logging.Info("dev server listening", map[string]any{"addr": addr})
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateBottle(w http.ResponseWriter, r *http.Request) {
	var b transport.Bottle
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if b.ID == "" || b.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "id and positive amount required")
		return
	}

	s.mu.Lock()
	_, existed := s.bottles[b.ID]
	s.bottles[b.ID] = b
	s.mu.Unlock()

	// A replayed create for an id we already have is a retry, not a conflict.
	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	writeJSON(w, status, b)
}

func (s *Server) handleListBottles(w http.ResponseWriter, r *http.Request) {
	limit, since := listParams(r)

	s.mu.Lock()
	out := make([]transport.Bottle, 0, len(s.bottles))
	for _, b := range s.bottles {
		if !since.IsZero() && b.Time.Before(since) {
			continue
		}
		out = append(out, b)
	}
	total := len(s.bottles)
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	writeJSON(w, http.StatusOK, transport.BottleList{Bottles: out, Total: total})
}

func (s *Server) handleUpdateBottle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var b transport.Bottle
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	existing, ok := s.bottles[id]
	if ok {
		existing.Amount = b.Amount
		existing.Time = b.Time
		existing.Color = b.Color
		s.bottles[id] = existing
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "bottle not found")
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) handleDeleteBottle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	_, ok := s.bottles[id]
	delete(s.bottles, id)
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "bottle not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleCreatePoop(w http.ResponseWriter, r *http.Request) {
	var p transport.Poop
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if p.ID == "" {
		writeError(w, http.StatusBadRequest, "id required")
		return
	}

	s.mu.Lock()
	_, existed := s.poops[p.ID]
	s.poops[p.ID] = p
	s.mu.Unlock()

	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	writeJSON(w, status, p)
}

func (s *Server) handleListPoops(w http.ResponseWriter, r *http.Request) {
	limit, since := listParams(r)

	s.mu.Lock()
	out := make([]transport.Poop, 0, len(s.poops))
	for _, p := range s.poops {
		if !since.IsZero() && p.Time.Before(since) {
			continue
		}
		out = append(out, p)
	}
	total := len(s.poops)
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	writeJSON(w, http.StatusOK, transport.PoopList{Poops: out, Total: total})
}

func (s *Server) handleUpdatePoop(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var p transport.Poop
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	existing, ok := s.poops[id]
	if ok {
		existing.Time = p.Time
		existing.Info = p.Info
		existing.Color = p.Color
		s.poops[id] = existing
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "poop not found")
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) handleDeletePoop(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	_, ok := s.poops[id]
	delete(s.poops, id)
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "poop not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func listParams(r *http.Request) (limit int, since time.Time) {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			since = t
		}
	}
	return limit, since
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
