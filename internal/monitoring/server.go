package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trminhdn/signalflow/internal/core/domain"
	"github.com/trminhdn/signalflow/internal/infra/storage"
	"github.com/trminhdn/signalflow/internal/ratelimit"
)

// ServerConfig wires the console endpoints.
type ServerConfig struct {
	Port    int
	Monitor *Monitor
	Cache   storage.SnapshotStore
	Runs    storage.RunRepository
	Signals storage.SignalRepository
	Symbols []string

	// TriggerRefresh runs a manual refresh. The orchestrator still
	// enforces its pacing, so the result may be a skipped run.
	TriggerRefresh func(ctx context.Context) (*domain.RunReport, error)
}

// Server provides the monitoring console and dashboard API.
type Server struct {
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates a console server on the configured port.
func NewServer(cfg ServerConfig) *Server {
	mux := http.NewServeMux()
	s := &Server{
		cfg: cfg,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/v1/signals/latest", s.handleSignals)
	mux.HandleFunc("/api/v1/sentiment", s.handleSentiment)
	mux.HandleFunc("/api/v1/quotes", s.handleQuotes)
	mux.HandleFunc("/api/v1/runs/recent", s.handleRecentRuns)
	mux.HandleFunc("/api/v1/refresh", s.handleRefresh)

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.cfg.Monitor.CheckHealth(r.Context())

	code := http.StatusOK
	if report.Status == StatusCritical {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": string(report.Status)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Monitor.CheckHealth(r.Context()))
}

// handleSignals serves the latest cached signals, or one symbol's
// history when ?symbol= is given.
func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		limit := parseLimit(r, 20, 100)
		signals, err := s.cfg.Signals.LatestBySymbol(r.Context(), symbol, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"signals": emptyWhenNil(signals)})
		return
	}

	signals, err := s.cfg.Cache.Signals(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": emptyWhenNil(signals)})
}

func (s *Server) handleSentiment(w http.ResponseWriter, r *http.Request) {
	sentiment, err := s.cfg.Cache.Sentiment(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sentiment": sentiment})
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	quotes, err := s.cfg.Cache.Quotes(r.Context(), s.cfg.Symbols)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quotes": quotes})
}

func (s *Server) handleRecentRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20, 100)
	runs, err := s.cfg.Runs.RecentRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": emptyWhenNil(runs)})
}

// handleRefresh triggers a refresh run. The response reports whether
// the run executed or was skipped by the pacing rules.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, errors.New("use POST"))
		return
	}
	if s.cfg.TriggerRefresh == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("refresh not available"))
		return
	}

	report, err := s.cfg.TriggerRefresh(r.Context())
	if err != nil {
		if errors.Is(err, ratelimit.ErrSuperseded) {
			writeJSON(w, http.StatusAccepted, map[string]any{"superseded": true})
			return
		}
		var cerr *ratelimit.ClassifiedError
		if errors.As(err, &cerr) && cerr.Kind == ratelimit.KindRateLimit {
			writeError(w, http.StatusTooManyRequests, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}

	if report.Skipped {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"skipped": true,
			"reason":  report.SkipReason,
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"run": report})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func parseLimit(r *http.Request, def, ceiling int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	if limit > ceiling {
		return ceiling
	}
	return limit
}

// emptyWhenNil keeps empty collections as [] in JSON instead of null.
func emptyWhenNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
