package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/renovus-tech/solarec/pkg/log"
	"github.com/renovus-tech/solarec/pkg/performance"
	"github.com/renovus-tech/solarec/pkg/storage"
)

type contextKey string

const (
	clientIDContextKey contextKey = "clientID"
)

// Server handles the HTTP API of the performance reports.
type Server struct {
	storage storage.Database
	service *performance.Service

	listenAddr          string
	httpServer          *http.Server
	serverName          string
	reportCacheDuration time.Duration
	maxReportWindow     time.Duration

	// now is replaced in tests
	now func() time.Time
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(s storage.Database, engine *performance.Engine) *Server {
	srv := newServer(s, engine)
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	reportCacheDuration := lflag.Duration("report-cache-duration", 24*time.Hour, "Duration to cache reports whose window ended before today. 0 means no cache.")
	maxReportWindow := lflag.Duration("max-report-window", 366*24*time.Hour, "Longest window a single report may cover")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.reportCacheDuration = *reportCacheDuration
		srv.maxReportWindow = *maxReportWindow
	})

	return srv
}

func newServer(s storage.Database, engine *performance.Engine) *Server {
	return &Server{
		storage:         s,
		service:         performance.NewService(s, engine),
		serverName:      "solarec",
		maxReportWindow: 366 * 24 * time.Hour,
		now:             time.Now,
	}
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/performance", s.handlePerformance)
	apiMux.HandleFunc("GET /api/performance/export", s.handleExport)
	apiMux.HandleFunc("GET /api/overview", s.handleOverview)
	apiMux.HandleFunc("GET /api/availability", s.handleAvailability)
	apiMux.HandleFunc("GET /api/power-curve", s.handlePowerCurve)
	apiMux.HandleFunc("GET /api/locations", s.handleListLocations)
	apiMux.HandleFunc("GET /api/settings", s.handleGetSettings)
	apiMux.HandleFunc("POST /api/settings", s.handleUpdateSettings)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.clientMiddleware(apiMux))
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// clientMiddleware requires the client query parameter on every API request
// and stores it in the request context.
func (s *Server) clientMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := r.URL.Query().Get("client")
		if clientID == "" {
			writeJSONError(w, "client is required", http.StatusBadRequest)
			return
		}
		ctx := context.WithValue(r.Context(), clientIDContextKey, clientID)
		ctx = log.WithAttrs(ctx, slog.String("clientID", clientID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) getClientID(r *http.Request) string {
	if clientID, ok := r.Context().Value(clientIDContextKey).(string); ok {
		return clientID
	}
	// we want to have a stack trace when this happens
	panic("no clientID in context")
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

// setCacheControl caches reports whose window ended before today for
// reportCacheDuration and everything else for a minute.
func (s *Server) setCacheControl(w http.ResponseWriter, end time.Time) {
	today := truncateDay(s.now().UTC())
	if s.reportCacheDuration > 0 && !end.After(today) {
		w.Header().Set("Cache-Control", fmt.Sprintf("private, max-age=%d", int(s.reportCacheDuration.Seconds())))
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
