package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"voxeltrace/internal/cache"
	"voxeltrace/internal/config"
	"voxeltrace/internal/metrics"
	"voxeltrace/internal/render"
	"voxeltrace/internal/trace"
	"voxeltrace/internal/world"
)

// Source is the render session the server reports on.
type Source interface {
	Session() uuid.UUID
	LastStats() render.FrameStats
	Faults() []trace.Fault
	ChunkEntry(coord world.ChunkCoord) (cache.Entry, bool)
}

// Server exposes health, session statistics and Prometheus metrics.
type Server struct {
	cfg     config.ServerConfig
	source  Source
	metrics *metrics.Collector
	started time.Time
	httpSrv *http.Server
	logger  *log.Logger
}

func New(cfg config.ServerConfig, source Source, m *metrics.Collector) *Server {
	return &Server{
		cfg:     cfg,
		source:  source,
		metrics: m,
		started: time.Now(),
		logger:  log.New(log.Writer(), "[ops] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/chunk", s.handleChunk)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("HTTP server listening on %s", s.cfg.ListenAddress)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type faultView struct {
	Coord      world.ChunkCoord `json:"coord"`
	Generation uint64           `json:"generation"`
	Reason     string           `json:"reason"`
	At         time.Time        `json:"at"`
}

type statsView struct {
	ID          string            `json:"id"`
	Description string            `json:"description,omitempty"`
	Session     string            `json:"session"`
	Uptime      string            `json:"uptime"`
	LastFrame   render.FrameStats `json:"lastFrame"`
	Totals      metrics.Snapshot  `json:"totals"`
	Faults      []faultView       `json:"faults"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	faults := s.source.Faults()
	view := statsView{
		ID:          s.cfg.ID,
		Description: s.cfg.Description,
		Session:     s.source.Session().String(),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
		LastFrame:   s.source.LastStats(),
		Totals:      s.metrics.Snapshot(),
		Faults:      make([]faultView, 0, len(faults)),
	}
	for _, f := range faults {
		view.Faults = append(view.Faults, faultView(f))
	}
	writeJSON(w, view)
}

type chunkView struct {
	Coord         world.ChunkCoord `json:"coord"`
	Generation    uint64           `json:"generation"`
	Nodes         int              `json:"nodes"`
	InsertedAt    time.Time        `json:"insertedAt"`
	LastSeenAt    time.Time        `json:"lastSeenAt"`
	LastSeenFrame uint64           `json:"lastSeenFrame"`
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var coord [3]int
	for i, name := range []string{"x", "y", "z"} {
		raw := q.Get(name)
		if raw == "" {
			http.Error(w, "x, y and z query parameters required", http.StatusBadRequest)
			return
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid "+name+" parameter", http.StatusBadRequest)
			return
		}
		coord[i] = v
	}

	c := world.ChunkCoord{X: coord[0], Y: coord[1], Z: coord[2]}
	entry, ok := s.source.ChunkEntry(c)
	if !ok {
		http.Error(w, "chunk "+c.String()+" not resident", http.StatusNotFound)
		return
	}
	writeJSON(w, chunkView{
		Coord:         c,
		Generation:    entry.Generation,
		Nodes:         len(entry.Chunk.Nodes),
		InsertedAt:    entry.InsertedAt,
		LastSeenAt:    entry.LastSeenAt,
		LastSeenFrame: entry.LastSeenFrame,
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
