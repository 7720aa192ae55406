// Package api exposes the service over HTTP: owner-authenticated wallet
// and relay management routes, and the DApp-facing relay routes keyed by
// connection key plus request origin.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wallet-relay/wallet-relay/internal/app"
	"github.com/wallet-relay/wallet-relay/internal/config"
	"github.com/wallet-relay/wallet-relay/internal/logger"
	"github.com/wallet-relay/wallet-relay/internal/metrics"
	"github.com/wallet-relay/wallet-relay/internal/middleware"
	apperrors "github.com/wallet-relay/wallet-relay/pkg/errors"
)

// Server represents the HTTP server
type Server struct {
	config      *config.Config
	custody     *app.CustodyService
	connections *app.ConnectionService
	relay       *app.RelayService
	authMW      *middleware.AuthMiddleware
	rateLimiter *middleware.RateLimiter
	httpServer  *http.Server
}

// NewServer creates a new API server
func NewServer(
	cfg *config.Config,
	custody *app.CustodyService,
	connections *app.ConnectionService,
	relay *app.RelayService,
	authMW *middleware.AuthMiddleware,
	rateLimiter *middleware.RateLimiter,
) *Server {
	return &Server{
		config:      cfg,
		custody:     custody,
		connections: connections,
		relay:       relay,
		authMW:      authMW,
		rateLimiter: rateLimiter,
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info(context.Background(), "starting server", "port", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// No auth required
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	// Owner routes: Bearer session token
	mux.Handle("/wallets", s.owner("/wallets", http.HandlerFunc(s.handleWallets)))
	mux.Handle("/wallets/", s.owner("/wallets/{id}", http.HandlerFunc(s.handleWalletOperations)))
	mux.Handle("/relay/connections", s.owner("/relay/connections", http.HandlerFunc(s.handleConnections)))
	mux.Handle("/relay/connections/", s.owner("/relay/connections/{id}", http.HandlerFunc(s.handleConnectionOperations)))
	mux.Handle("/relay/transactions/", s.owner("/relay/transactions/{id}", http.HandlerFunc(s.handleTransactionOperations)))

	// DApp routes: connection key + origin check inside, rate limited
	mux.Handle("/relay/dapp/transactions", s.dapp("/relay/dapp/transactions", http.HandlerFunc(s.handleDAppTransactions)))
	mux.Handle("/relay/dapp/transactions/", s.dapp("/relay/dapp/transactions/{id}", http.HandlerFunc(s.handleDAppTransactionOperations)))

	return middleware.RequestID(mux)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// owner chains the middleware stack for owner-authenticated routes.
func (s *Server) owner(route string, h http.Handler) http.Handler {
	return s.observe(route, s.authMW.Authenticate(h))
}

// dapp chains the middleware stack for DApp-facing routes.
func (s *Server) dapp(route string, h http.Handler) http.Handler {
	return s.observe(route, s.rateLimiter.Limit(h))
}

// observe records per-route request latency.
func (s *Server) observe(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.IsAppError(err)
	if !ok {
		appErr = apperrors.ErrInternalError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	json.NewEncoder(w).Encode(appErr)
}

// requireUser pulls the authenticated user out of the context.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		s.writeError(w, apperrors.ErrUnauthorized)
		return "", false
	}
	return userID, true
}

// requestOrigin extracts the caller's claimed origin, preferring Origin
// over Referer.
func requestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}
	return r.Header.Get("Referer")
}

// decodeBody decodes a JSON request body into dst.
func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return apperrors.Validation("request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.Validation("invalid JSON body: " + err.Error())
	}
	return nil
}
