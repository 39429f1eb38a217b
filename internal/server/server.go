// Package server exposes the foreman's diagnostic HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/payneio/amplifier-bundle-foreman/internal/config"
	"github.com/payneio/amplifier-bundle-foreman/internal/issue"
	"github.com/payneio/amplifier-bundle-foreman/internal/notify"
	"github.com/payneio/amplifier-bundle-foreman/internal/worker"
	"github.com/payneio/amplifier-bundle-foreman/pkg/cerr"
)

type Server struct {
	server     *http.Server
	env        *config.Env
	tracker    *worker.Tracker
	issues     issue.Repository
	notifyRepo notify.Repository
}

func NewServer(env *config.Env, tracker *worker.Tracker, issues issue.Repository, notifyRepo notify.Repository) *Server {
	return &Server{
		env:        env,
		tracker:    tracker,
		issues:     issues,
		notifyRepo: notifyRepo,
	}
}

// ListenAndServe starts the HTTP server. The provided context is the base
// context for all incoming requests, so a shutdown signal cancels in-flight
// handlers as well.
func (s *Server) ListenAndServe(ctx context.Context) error {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/workers/status", s.handleWorkerStatus)
		r.Get("/issues", s.handleListIssues)
		r.Get("/issues/{id}", s.handleGetIssue)
		r.Post("/subscriptions", s.handleCreateSubscription)
	})

	mux := http.NewServeMux()
	mux.Handle("/health", &HealthChecker{})
	mux.Handle("/api/", r)

	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.server = &http.Server{
		Addr: addr,
		Handler: h2c.NewHandler(cors.New(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}).Handler(mux), &http2.Server{}),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type HealthChecker struct{}

func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleWorkerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Status())
}

func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	status := issue.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, cerr.NewError(cerr.InvalidArgument, "invalid status filter", nil))
		return
	}
	issues, err := s.issues.List(r.Context(), status)
	if err != nil {
		writeError(w, err)
		return
	}
	if issues == nil {
		issues = []*issue.Issue{}
	}
	writeJSON(w, http.StatusOK, issues)
}

func (s *Server) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	is, err := s.issues.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, is)
}

type createSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, cerr.NewError(cerr.InvalidArgument, "invalid subscription body", err))
		return
	}
	if req.Endpoint == "" {
		writeError(w, cerr.NewError(cerr.InvalidArgument, "endpoint is required", nil))
		return
	}

	// Re-registering the same endpoint is idempotent.
	if existing, err := s.notifyRepo.FindByEndpoint(r.Context(), req.Endpoint); err == nil {
		writeJSON(w, http.StatusOK, existing)
		return
	}

	sub := &notify.Subscription{
		ID:        ulid.Make().String(),
		Endpoint:  req.Endpoint,
		P256dhKey: req.Keys.P256dh,
		AuthKey:   req.Keys.Auth,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.notifyRepo.Create(r.Context(), sub); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	msg := "internal server error"
	var ce *cerr.Error
	if errors.As(err, &ce) {
		code = ce.Code.HTTPCode()
		msg = ce.Msg
	}
	writeJSON(w, code, map[string]string{"error": msg})
}
