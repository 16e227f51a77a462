// Package status serves the oracle's health, metrics and liveness view over HTTP.
package status

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Ratio1/edge-node-sub002/internal/database/postgres"
	"github.com/Ratio1/edge-node-sub002/internal/oracle"
	"github.com/Ratio1/edge-node-sub002/pkg/errors"
	"github.com/Ratio1/edge-node-sub002/pkg/log"
)

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

// AuditSource answers queries over recorded coordination events
type AuditSource interface {
	History(ctx context.Context, kind oracle.EventKind, key string) ([]*postgres.EventRecord, error)
	Recent(ctx context.Context, limit int) ([]*postgres.EventRecord, error)
	Counts(ctx context.Context, window time.Duration) (map[string]int64, error)
}

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
	defaultCountWindow = 24 * time.Hour
)

// Deps are the sources the endpoints read from
type Deps struct {
	Identity oracle.Identity
	Store    oracle.SharedStore
	HKey     string
	Epochs   oracle.EpochSource
	// LastWrite reports this oracle's own last liveness write
	LastWrite func() time.Time
	Checks    map[string]HealthCheck
	Metrics   http.Handler
	// Audit enables the /events endpoints when set
	Audit AuditSource
}

// Server is the status HTTP server
type Server struct {
	deps    Deps
	router  *mux.Router
	server  *http.Server
	timeout time.Duration
	logger  *log.Logger
}

// NewServer builds the router for addr
func NewServer(addr string, deps Deps, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Nop()
	}
	s := &Server{
		deps:    deps,
		router:  mux.NewRouter(),
		timeout: 5 * time.Second,
		logger:  logger.WithComponent("status"),
	}

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/liveness", s.handleLiveness).Methods(http.MethodGet)
	if deps.Metrics != nil {
		s.router.Handle("/metrics", deps.Metrics).Methods(http.MethodGet)
	}
	if deps.Audit != nil {
		s.router.HandleFunc("/events/recent", s.handleRecentEvents).Methods(http.MethodGet)
		s.router.HandleFunc("/events/counts", s.handleEventCounts).Methods(http.MethodGet)
		s.router.HandleFunc("/events/{kind}/{key}", s.handleEventHistory).Methods(http.MethodGet)
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "status_listen", "failed to listen").
			WithContext("addr", s.server.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(s.deps.Checks))}
	code := http.StatusOK

	names := make([]string, 0, len(s.deps.Checks))
	for name := range s.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.deps.Checks[name](ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	s.writeJSON(w, code, resp)
}

type oracleView struct {
	NodeAddress  string `json:"node_address"`
	ChainAddress string `json:"chain_address"`
}

type livenessResponse struct {
	Oracle       oracleView              `json:"oracle"`
	CurrentEpoch int64                   `json:"current_epoch"`
	LastWrite    *time.Time              `json:"last_write,omitempty"`
	Records      []oracle.LivenessRecord `json:"records"`
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	records, err := oracle.ReadLiveness(ctx, s.deps.Store, s.deps.HKey)
	if err != nil {
		s.logger.WithError(err).Warn("liveness read failed")
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	resp := livenessResponse{
		Oracle: oracleView{
			NodeAddress:  s.deps.Identity.NodeAddress,
			ChainAddress: s.deps.Identity.ChainAddress,
		},
		Records: records,
	}

	if s.deps.Epochs != nil {
		epoch, err := s.deps.Epochs.CurrentEpoch(ctx)
		if err != nil {
			s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		resp.CurrentEpoch = epoch
	}

	if s.deps.LastWrite != nil {
		if at := s.deps.LastWrite(); !at.IsZero() {
			at = at.UTC()
			resp.LastWrite = &at
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

type eventsResponse struct {
	Events []*postgres.EventRecord `json:"events"`
}

type countsResponse struct {
	Window string           `json:"window"`
	Counts map[string]int64 `json:"counts"`
}

func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind := oracle.EventKind(vars["kind"])
	switch kind {
	case oracle.EventNodeUpdate, oracle.EventRewardsAllocated, oracle.EventRewardsObserved, oracle.EventJobCloseElected:
	default:
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown event kind " + strconv.Quote(vars["kind"])})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	records, err := s.deps.Audit.History(ctx, kind, vars["key"])
	if err != nil {
		s.auditError(w, "event history", err)
		return
	}
	s.writeJSON(w, http.StatusOK, eventsResponse{Events: nonNil(records)})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxRecentLimit {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be between 1 and " + strconv.Itoa(maxRecentLimit),
			})
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	records, err := s.deps.Audit.Recent(ctx, limit)
	if err != nil {
		s.auditError(w, "recent events", err)
		return
	}
	s.writeJSON(w, http.StatusOK, eventsResponse{Events: nonNil(records)})
}

func (s *Server) handleEventCounts(w http.ResponseWriter, r *http.Request) {
	window := defaultCountWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "window must be a positive duration"})
			return
		}
		window = d
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	counts, err := s.deps.Audit.Counts(ctx, window)
	if err != nil {
		s.auditError(w, "event counts", err)
		return
	}
	s.writeJSON(w, http.StatusOK, countsResponse{Window: window.String(), Counts: counts})
}

// auditError maps audit failures onto status codes. An absent backend is
// reported as unavailable rather than as an upstream failure.
func (s *Server) auditError(w http.ResponseWriter, what string, err error) {
	code := http.StatusBadGateway
	switch {
	case errors.IsType(err, errors.ErrorTypeValidation):
		code = http.StatusBadRequest
	case errors.IsType(err, errors.ErrorTypeDatabase):
		s.logger.WithError(err).Warn(what + " query failed")
	case errors.IsType(err, errors.ErrorTypeInternal):
		code = http.StatusServiceUnavailable
	default:
		s.logger.WithError(err).Warn(what + " query failed")
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func nonNil(records []*postgres.EventRecord) []*postgres.EventRecord {
	if records == nil {
		return []*postgres.EventRecord{}
	}
	return records
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Debug("failed to write response")
	}
}
