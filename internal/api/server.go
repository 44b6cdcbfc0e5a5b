// Package api serves the bench over HTTP for remote dashboards and scripts.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/buckleypaul/certbench/internal/bench"
	"github.com/buckleypaul/certbench/internal/errors"
	"github.com/buckleypaul/certbench/internal/logcat"
	"github.com/buckleypaul/certbench/internal/logging"
	"github.com/buckleypaul/certbench/internal/metrics"
	"github.com/buckleypaul/certbench/internal/plugin"
	"github.com/buckleypaul/certbench/internal/store"
)

const (
	defaultTail     = 200
	streamQueue     = 256
	writeWait       = 5 * time.Second
	pingPeriod      = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Backend is the bench surface the API exposes. *bench.Bench satisfies it.
type Backend interface {
	State() bench.UiState
	Plugins() []plugin.Plugin
	RefreshPlugins(ctx context.Context) (plugin.ScanResult, error)
	RunTest(id string) error
	Logs(n int) []logcat.Record
	SubscribeLogs(size int) (<-chan logcat.Record, func())
	StartLogStream() bool
	StopLogStream()
	Runs() ([]store.RunRecord, error)
}

// Server routes API requests to a Backend.
type Server struct {
	backend  Backend
	metrics  *metrics.Metrics
	logger   *log.Logger
	router   *mux.Router
	upgrader websocket.Upgrader
}

// New creates a server. m may be nil, in which case /metrics is 404.
func New(backend Backend, m *metrics.Metrics, logger *log.Logger) *Server {
	s := &Server{
		backend: backend,
		metrics: m,
		logger:  logging.WithComponent(logger, "api"),
		router:  mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	s.RegisterRoutes(s.router)
	return s
}

// RegisterRoutes registers every endpoint on router.
func (s *Server) RegisterRoutes(router *mux.Router) {
	router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	api := router.PathPrefix("/api").Subrouter()
	api.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/plugins", s.handlePlugins).Methods(http.MethodGet)
	api.HandleFunc("/plugins/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/plugins/{id:.+}/run", s.handleRun).Methods(http.MethodPost)
	api.HandleFunc("/runs", s.handleRuns).Methods(http.MethodGet)
	api.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)
	api.HandleFunc("/logs/stream", s.handleLogStream).Methods(http.MethodGet)
	api.HandleFunc("/logstream/start", s.handleLogStreamStart).Methods(http.MethodPost)
	api.HandleFunc("/logstream/stop", s.handleLogStreamStop).Methods(http.MethodPost)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrapf(err, errors.KindIO, "serve %s", addr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, errors.KindIO, "shutdown")
	}
	return nil
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, s.backend.State())
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	plugins := s.backend.Plugins()
	if plugins == nil {
		plugins = []plugin.Plugin{}
	}
	respondWithJSON(w, http.StatusOK, plugins)
}

type scanResponse struct {
	Archives   int      `json:"archives"`
	Added      []string `json:"added"`
	Duplicates []string `json:"duplicates,omitempty"`
	Failures   []string `json:"failures,omitempty"`
	Warning    string   `json:"warning,omitempty"`
	Summary    string   `json:"summary"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := s.backend.RefreshPlugins(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	body := scanResponse{
		Archives:   res.Archives,
		Added:      res.Added,
		Duplicates: res.Duplicates,
		Warning:    res.Warning,
		Summary:    res.Summary(),
	}
	if body.Added == nil {
		body.Added = []string{}
	}
	for _, f := range res.Failures {
		body.Failures = append(body.Failures, f.Archive+": "+f.Err.Error())
	}
	status := http.StatusOK
	if res.Warning != "" {
		status = http.StatusConflict
	}
	respondWithJSON(w, status, body)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.backend.RunTest(id); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "started", "plugin": id})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.backend.Runs()
	if err != nil {
		respondWithError(w, err)
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	respondWithJSON(w, http.StatusOK, runs)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	tail := defaultTail
	if v := r.URL.Query().Get("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondWithError(w, errors.Errorf(errors.KindValidation, "invalid tail %q", v))
			return
		}
		tail = n
	}
	recs := s.backend.Logs(tail)
	if recs == nil {
		recs = []logcat.Record{}
	}
	respondWithJSON(w, http.StatusOK, recs)
}

func (s *Server) handleLogStreamStart(w http.ResponseWriter, r *http.Request) {
	if !s.backend.StartLogStream() {
		st := s.backend.State()
		if !st.IsDeviceReady {
			respondWithError(w, errors.New(errors.KindUnavailable, "device is not ready"))
			return
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]bool{"streaming": true})
}

func (s *Server) handleLogStreamStop(w http.ResponseWriter, r *http.Request) {
	s.backend.StopLogStream()
	respondWithJSON(w, http.StatusOK, map[string]bool{"streaming": false})
}

// handleLogStream follows the log buffer over a websocket, one JSON record
// per message. Records the client is too slow for are dropped.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	recs, cancel := s.backend.SubscribeLogs(streamQueue)
	defer cancel()

	// The read loop only exists to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case rec, ok := <-recs:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(rec); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func statusFor(err error) int {
	switch errors.GetKind(err) {
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindBusy:
		return http.StatusConflict
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindUnavailable:
		return http.StatusServiceUnavailable
	case errors.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusMethodNotAllowed, map[string]string{
		"error": r.Method + " not allowed on " + r.URL.Path,
		"kind":  errors.KindRejected.String(),
	})
}

func respondWithError(w http.ResponseWriter, err error) {
	respondWithJSON(w, statusFor(err), map[string]string{
		"error": err.Error(),
		"kind":  errors.GetKind(err).String(),
	})
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
