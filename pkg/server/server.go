// Package server provides the HTTP API and the SSE subscription stream.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jobradar/jobradar/internal/bus"
	"github.com/jobradar/jobradar/internal/collect"
	"github.com/jobradar/jobradar/internal/store"
)

// Server provides the HTTP API.
type Server struct {
	store      store.Store
	runner     *collect.Runner
	bus        *bus.Bus
	logger     *slog.Logger
	port       int
	defaultURL string
}

// New creates a new HTTP server.
func New(s store.Store, runner *collect.Runner, b *bus.Bus, defaultURL string, port int, logger *slog.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	return &Server{
		store:      s,
		runner:     runner,
		bus:        b,
		logger:     logger,
		port:       port,
		defaultURL: defaultURL,
	}
}

// ListenAndServe starts the HTTP server and blocks until it fails or ctx is
// cancelled, in which case it drains in-flight requests before returning.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	s.logger.Info("http server listening", slog.String("addr", srv.Addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Handler returns the route table. Split out so tests can drive the server
// through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/posts", s.handlePosts)
	mux.HandleFunc("/api/collect", s.handleCollect)
	mux.HandleFunc("/api/subscribe", s.handleSubscribe)
	mux.HandleFunc("/api/push/subscriptions", s.handlePushSubscriptions)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, bus.Status{Running: s.bus.Running()})
}

func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	userID := identity(r)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing user identity"})
		return
	}

	posts, err := s.store.ListOffers(r.Context(), userID, r.URL.Query().Get("filterId"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to retrieve posts"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  posts,
		"count": len(posts),
	})
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var body struct {
		URL      string `json:"url"`
		FilterID string `json:"filterId"`
	}
	// An empty or absent body is fine; defaults apply.
	json.NewDecoder(r.Body).Decode(&body)

	url := body.URL
	if url == "" {
		url = s.defaultURL
	}
	if url == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no target url configured"})
		return
	}

	userID := identity(r)
	started, err := s.runner.TryStart(r.Context(), url, userID, body.FilterID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !started {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "collection already running"})
		return
	}

	s.logger.Info("collection triggered",
		slog.String("user_id", userID), slog.String("url", url))
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "collection started in background"})
}

func (s *Server) handlePushSubscriptions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var body struct {
			Endpoint string          `json:"endpoint"`
			Keys     json.RawMessage `json:"keys"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Endpoint == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "endpoint required"})
			return
		}

		sub := &store.PushSubscription{
			ID:       uuid.NewString(),
			UserID:   identity(r),
			Endpoint: body.Endpoint,
			KeysJSON: string(body.Keys),
		}
		if err := s.store.SavePushSubscription(r.Context(), sub); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": sub.ID})

	case http.MethodDelete:
		endpoint := r.URL.Query().Get("endpoint")
		if endpoint == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "endpoint required"})
			return
		}
		if err := s.store.DeletePushSubscription(r.Context(), endpoint); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

// identity extracts the caller's user id. Authentication itself is handled
// upstream; this layer only trusts what the proxy forwarded. EventSource
// clients cannot set headers, so the query param form is accepted too.
func identity(r *http.Request) string {
	if v := r.Header.Get("X-User-ID"); v != "" {
		return v
	}
	return r.URL.Query().Get("user")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
