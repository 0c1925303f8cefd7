// Package syncserver is the backend half of the messaging service: account
// registration and login, durable message rows, the consumption-timestamp
// ledger, and a per-conversation websocket feed that pushes inserts and
// updates to connected clients.
package syncserver

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Server bundles the HTTP handlers, websocket hub, middleware, and metrics.
type Server struct {
	DB      *sql.DB
	hub     *Hub
	metrics *Metrics
}

// New creates a Server with the provided DB (may be nil for stateless mode).
func New(db *sql.DB) *Server {
	return &Server{
		DB:      db,
		hub:     NewHub(),
		metrics: &Metrics{},
	}
}

// MetricsSnapshot exposes the current counters (useful for tests/logging).
func (s *Server) MetricsSnapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Requests:           s.metrics.Requests.Load(),
		LoginAttempts:      s.metrics.LoginAttempts.Load(),
		RegisterAttempts:   s.metrics.RegisterAttempts.Load(),
		HealthChecks:       s.metrics.HealthChecks.Load(),
		MessagesStored:     s.metrics.MessagesStored.Load(),
		ConsumptionUpdates: s.metrics.ConsumptionUpdates.Load(),
		EventsBroadcast:    s.metrics.EventsBroadcast.Load(),
	}
}

// Hub exposes the websocket hub so tests can observe broadcasts.
func (s *Server) Hub() *Hub { return s.hub }

// Close drops all websocket subscribers. The DB is owned by the caller.
func (s *Server) Close() {
	s.hub.closeAll()
}

// Router wires up chi routes, middleware, and handlers ready for http.ListenAndServe.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(s.loggingMiddleware())

	r.Post("/register", s.registerHandler())
	r.Post("/login", s.loginHandler())
	r.Get("/healthz", s.healthHandler())

	r.With(s.authenticated()).Post("/messages", s.insertMessageHandler())
	r.With(s.authenticated()).Get("/messages", s.queryMessagesHandler())
	r.With(s.authenticated()).Patch("/messages/{id}", s.consumptionHandler())
	r.Get("/ws", s.wsHandler())

	return r
}

// Migrate creates the schema. Statements are idempotent so restarts are safe.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender_id TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			nonce TEXT NOT NULL DEFAULT '',
			key_hint TEXT NOT NULL DEFAULT '',
			blob JSONB,
			expiry JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			read_at TIMESTAMPTZ,
			viewed_at TIMESTAMPTZ,
			listened_at TIMESTAMPTZ,
			expired BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS messages_conv_idx
			ON messages (sender_id, recipient_id, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
