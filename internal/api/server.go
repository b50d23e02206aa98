// Package api serves the station's status and control endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/datastore"
	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
	"github.com/OkinawaBoss/WeatharrStation/internal/pages"
	"github.com/OkinawaBoss/WeatharrStation/internal/weather"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Station is the running broadcast as seen by the API
type Station interface {
	// Status is a JSON-serializable description of the whole pipeline
	Status() any
	PageNames() []string
	CurrentPage() (int, string)
	ActivatePage(name string) error
	RequestStop()
	Snapshot() datastore.Snapshot
}

// Option configures a Server
type Option func(*Server)

// WithPreview mounts the MJPEG stream at /stream
func WithPreview(h http.Handler) Option {
	return func(s *Server) { s.preview = h }
}

// WithEventInterval sets how often /api/events pushes status
func WithEventInterval(d time.Duration) Option {
	return func(s *Server) { s.eventInterval = d }
}

// Server represents the HTTP API server
type Server struct {
	router        *mux.Router
	station       Station
	preview       http.Handler
	eventInterval time.Duration
	upgrader      websocket.Upgrader
}

// NewServer creates a new API server
func NewServer(station Station, opts ...Option) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		station:       station,
		eventInterval: time.Second,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/pages", s.handleGetPages).Methods("GET")
	api.HandleFunc("/pages/{name}", s.handleActivatePage).Methods("POST")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/data", s.handleData).Methods("GET")
	api.HandleFunc("/events", s.handleEvents)

	if s.preview != nil {
		s.router.Handle("/stream", s.preview).Methods("GET")
	}
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

// Handler returns the routed handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until ctx is cancelled
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithComponent("api").Info().Str("addr", srv.Addr).Msg("API server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		// streaming clients keep connections open; cut them
		srv.Close()
	}
	return nil
}

func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.station.Status())
}

// PagesResponse lists the rotation and the page on screen
type PagesResponse struct {
	Pages   []string `json:"pages"`
	Current string   `json:"current"`
	Index   int      `json:"index"`
}

func (s *Server) pages() PagesResponse {
	idx, name := s.station.CurrentPage()
	return PagesResponse{Pages: s.station.PageNames(), Current: name, Index: idx}
}

func (s *Server) handleGetPages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pages())
}

func (s *Server) handleActivatePage(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.station.ActivatePage(name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pages.ErrPageNotFound) || errors.Is(err, pages.ErrNoPages) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	logger.WithComponent("api").Info().Str("page", name).Msg("Page selected")
	writeJSON(w, http.StatusOK, s.pages())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	logger.WithComponent("api").Warn().Str("remote", r.RemoteAddr).Msg("Stop requested")
	s.station.RequestStop()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// DataResponse summarizes the latest weather snapshot
type DataResponse struct {
	Keys       []string  `json:"keys"`
	Location   string    `json:"location,omitempty"`
	TickerText string    `json:"ticker_text"`
	Narration  []string  `json:"narration,omitempty"`
	Updated    time.Time `json:"updated,omitempty"`
	Current    any       `json:"current,omitempty"`
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	snap := s.station.Snapshot()
	resp := DataResponse{
		Keys:       make([]string, 0, len(snap)),
		TickerText: snap.String(weather.KeyTicker),
	}
	for k := range snap {
		resp.Keys = append(resp.Keys, k)
	}
	sort.Strings(resp.Keys)

	if loc, ok := datastore.Get[weather.Location](snap, weather.KeyLocation); ok {
		resp.Location = loc.Name
	}
	resp.Narration, _ = datastore.Get[[]string](snap, weather.KeyNarration)
	resp.Updated, _ = datastore.Get[time.Time](snap, weather.KeyUpdated)
	if cur, ok := datastore.Get[weather.Current](snap, weather.KeyCurrent); ok {
		resp.Current = cur
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEvents pushes the status document over a websocket every interval
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// reader detects the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.eventInterval)
	defer ticker.Stop()

	for {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(s.station.Status()); err != nil {
			return
		}
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
