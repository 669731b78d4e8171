// Package api serves pile statuses, GeoJSON layers and chart histories to
// map and dashboard clients.
package api

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"codeberg.org/mutker/pilewatch/internal/errors"
	"codeberg.org/mutker/pilewatch/internal/logger"
	"codeberg.org/mutker/pilewatch/internal/metrics"
	"codeberg.org/mutker/pilewatch/internal/monitor"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

const (
	defaultAddr     = ":8080"
	shutdownTimeout = 5 * time.Second
	readTimeout     = 10 * time.Second
)

// Monitor is the read side the API exposes.
type Monitor interface {
	Snapshot(ctx context.Context) ([]monitor.PileStatus, error)
	Route(ctx context.Context) (monitor.Route, error)
	Details(ctx context.Context, id int64) (monitor.PileStatus, error)
	History(ctx context.Context, id int64, view monitor.View) (monitor.History, error)
	Summary(ctx context.Context) (monitor.Summary, error)
}

type Server struct {
	addr    string
	monitor Monitor
	metrics metrics.Collector
	log     logger.Logger
	handler http.Handler
}

func New(addr string, mon Monitor, m metrics.Collector, log logger.Logger) *Server {
	if addr == "" {
		addr = defaultAddr
	}
	if m == nil {
		m = metrics.New(false)
	}

	s := &Server{
		addr:    addr,
		monitor: mon,
		metrics: m,
		log:     log,
	}
	s.handler = s.middleware(s.routes())
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/legend", s.handleLegend).Methods(http.MethodGet)
	r.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)
	r.HandleFunc("/piles", s.handlePiles).Methods(http.MethodGet)
	r.HandleFunc("/piles.geojson", s.handlePilesGeoJSON).Methods(http.MethodGet)
	r.HandleFunc("/pipeline.geojson", s.handlePipelineGeoJSON).Methods(http.MethodGet)
	r.HandleFunc("/piles/{id}", s.handlePile).Methods(http.MethodGet)
	r.HandleFunc("/piles/{id}/history", s.handleHistory).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) middleware(h http.Handler) http.Handler {
	h = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
	)(h)
	h = handlers.CustomLoggingHandler(io.Discard, h, s.logRequest)
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.log}),
		handlers.PrintRecoveryStack(false),
	)(h)
}

func (s *Server) logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	s.log.Debug().
		Str("method", p.Request.Method).
		Str("path", p.URL.Path).
		Int("status", p.StatusCode).
		Int("size", p.Size).
		Dur("took", time.Since(p.TimeStamp)).
		Msg("HTTP request")
}

type recoveryLogger struct {
	log logger.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.log.Error().Interface("panic", v).Msg("Recovered from handler panic")
}

// Handler returns the full handler chain, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.New().Wrap(ErrServeFailed, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errFactory := errors.New()

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("API server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errFactory.Wrap(ErrServeFailed, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errFactory.Wrap(ErrShutdownFailed, err)
	}
	<-errCh

	s.log.Info().Msg("API server stopped")
	return nil
}
