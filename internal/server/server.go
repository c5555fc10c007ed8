// Package server exposes one session controller over an HTTP JSON API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/manash/stylist/internal/ledger"
	"github.com/manash/stylist/internal/log"
	"github.com/manash/stylist/internal/session"
)

// MaxUploadBytes bounds an image upload body.
const MaxUploadBytes = 20 << 20

const shutdownTimeout = 10 * time.Second

type Server struct {
	ctrl     *session.Controller
	recorder *ledger.Recorder
	origins  []string
	router   *mux.Router
	handler  http.Handler
}

type Option func(*Server)

// WithRecorder enables GET /api/cost for the server's run.
func WithRecorder(r *ledger.Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithAllowedOrigins restricts CORS. The default allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

func New(ctrl *session.Controller, opts ...Option) *Server {
	s := &Server{
		ctrl:    ctrl,
		origins: []string{"*"},
		router:  mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Length", "Content-Type", "Content-Disposition"},
	})
	s.handler = c.Handler(s.router)
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) registerRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(logRequests)

	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)

	api.HandleFunc("/inputs", s.handleSetText).Methods(http.MethodPut)
	api.HandleFunc("/inputs/auxiliary", s.handleClearAuxiliary).Methods(http.MethodDelete)
	api.HandleFunc("/inputs/{slot}", s.handleSetImage).Methods(http.MethodPut)

	api.HandleFunc("/generate", s.submitHandler((*session.Controller).Generate, nil)).Methods(http.MethodPost)
	api.HandleFunc("/refine", s.submitHandler((*session.Controller).Refine, (*session.Controller).RefineInstruction)).Methods(http.MethodPost)
	api.HandleFunc("/submit", s.submitHandler((*session.Controller).Submit, (*session.Controller).SubmitInstruction)).Methods(http.MethodPost)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/history/back", s.navigateHandler((*session.Controller).MoveBack)).Methods(http.MethodPost)
	api.HandleFunc("/history/forward", s.navigateHandler((*session.Controller).MoveForward)).Methods(http.MethodPost)
	api.HandleFunc("/history/{version:[0-9]+}/image", s.handleVersionImage).Methods(http.MethodGet)

	api.HandleFunc("/image/current", s.handleCurrentImage).Methods(http.MethodGet)
	api.HandleFunc("/cost", s.handleCost).Methods(http.MethodGet)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Infof("server: %s %s %d (%s)", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end on shutdown so event streams close.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("server: listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return nil
	}
}
