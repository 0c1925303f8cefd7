package syncserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/micksolo/VanishVoice-sub000/internal/authutil"
	"github.com/micksolo/VanishVoice-sub000/internal/backend"
	"github.com/micksolo/VanishVoice-sub000/internal/message"
)

type ctxUserKey struct{}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

type healthPayload struct {
	Status    string `json:"status"`
	DBEnabled bool   `json:"dbEnabled"`
	Message   string `json:"message"`
}

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 200
)

func (s *Server) databaseUnavailable(w http.ResponseWriter) {
	http.Error(w, "database unavailable: set DATABASE_URL to enable persistence", http.StatusServiceUnavailable)
}

func (s *Server) writeHealthJSON(w http.ResponseWriter, status int, dbEnabled bool, msg string) {
	state := "ok"
	if status >= 400 {
		state = "error"
	}
	payload := healthPayload{
		Status:    state,
		DBEnabled: dbEnabled,
		Message:   msg,
	}
	bytes, err := json.Marshal(payload)
	if err != nil {
		log.Printf("health marshal error: %v", err)
		s.databaseUnavailable(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(bytes); err != nil {
		log.Printf("health write error: %v", err)
	}
}

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.metrics.HealthChecks.Add(1)
		if s.DB == nil {
			s.writeHealthJSON(w, http.StatusServiceUnavailable, false, "database unavailable: set DATABASE_URL to enable persistence")
			return
		}
		if err := s.DB.PingContext(r.Context()); err != nil {
			log.Printf("health ping failed: %v", err)
			s.writeHealthJSON(w, http.StatusServiceUnavailable, false, err.Error())
			return
		}
		s.writeHealthJSON(w, http.StatusOK, true, "ok")
	}
}

func (s *Server) registerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.metrics.RegisterAttempts.Add(1)
		if s.DB == nil {
			s.databaseUnavailable(w)
			return
		}
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		req.Username = strings.TrimSpace(req.Username)
		if req.Username == "" || req.Password == "" {
			http.Error(w, "username/password required", http.StatusBadRequest)
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			http.Error(w, "hash error", http.StatusInternalServerError)
			return
		}
		_, err = s.DB.Exec(`INSERT INTO users (username, password_hash) VALUES ($1, $2)`, req.Username, string(hash))
		if err != nil {
			http.Error(w, "username exists", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func (s *Server) loginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.metrics.LoginAttempts.Add(1)
		if s.DB == nil {
			s.databaseUnavailable(w)
			return
		}
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		var storedHash string
		if err := s.DB.QueryRow(`SELECT password_hash FROM users WHERE username=$1`, req.Username).Scan(&storedHash); err != nil {
			http.Error(w, "invalid username", http.StatusBadRequest)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(req.Password)); err != nil {
			http.Error(w, "wrong password", http.StatusBadRequest)
			return
		}
		token, err := authutil.IssueToken(req.Username)
		if err != nil {
			http.Error(w, "token error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(loginResponse{Token: token, Username: req.Username})
	}
}

// insertMessageHandler assigns the server id and timestamp, stores the row,
// and pushes an insert event to both participants' feeds. The stored row is
// echoed back so the sender can resolve its optimistic placeholder.
func (s *Server) insertMessageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.DB == nil {
			s.databaseUnavailable(w)
			return
		}
		user := r.Context().Value(ctxUserKey{}).(string)
		var msg message.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if msg.SenderID == "" {
			msg.SenderID = user
		}
		if msg.SenderID != user {
			http.Error(w, "sender mismatch", http.StatusForbidden)
			return
		}
		if msg.RecipientID == "" {
			http.Error(w, "recipient required", http.StatusBadRequest)
			return
		}
		if err := msg.Expiry.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		msg.ID = uuid.NewString()
		msg.TempID = ""
		msg.CreatedAt = time.Now().UTC()
		msg.ReadAt, msg.ViewedAt, msg.ListenedAt = nil, nil, nil
		msg.Expired = false

		expiryJSON, err := json.Marshal(msg.Expiry)
		if err != nil {
			http.Error(w, "store failed", http.StatusInternalServerError)
			return
		}
		var blobJSON []byte
		if msg.Blob != nil {
			if blobJSON, err = json.Marshal(msg.Blob); err != nil {
				http.Error(w, "store failed", http.StatusInternalServerError)
				return
			}
		}
		_, err = s.DB.Exec(`
			INSERT INTO messages (id, sender_id, recipient_id, kind, body, nonce, key_hint, blob, expiry, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, msg.ID, msg.SenderID, msg.RecipientID, string(msg.Kind), msg.Body, msg.Nonce, msg.KeyHint, blobJSON, expiryJSON, msg.CreatedAt)
		if err != nil {
			http.Error(w, "store failed", http.StatusInternalServerError)
			return
		}
		s.metrics.MessagesStored.Add(1)
		s.broadcast(Event{Type: "insert", Message: msg})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(msg)
	}
}

// queryMessagesHandler returns a page of the caller's conversation with the
// requested peer, newest first.
func (s *Server) queryMessagesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.DB == nil {
			s.databaseUnavailable(w)
			return
		}
		user := r.Context().Value(ctxUserKey{}).(string)
		peer := r.URL.Query().Get("peer")
		if peer == "" {
			http.Error(w, "peer required", http.StatusBadRequest)
			return
		}
		offset := intParam(r, "offset", 0)
		limit := intParam(r, "limit", defaultQueryLimit)
		if limit > maxQueryLimit {
			limit = maxQueryLimit
		}
		rows, err := s.DB.Query(`
			SELECT id, sender_id, recipient_id, kind, body, nonce, key_hint, blob, expiry,
			       created_at, read_at, viewed_at, listened_at, expired
			FROM messages
			WHERE (sender_id=$1 AND recipient_id=$2) OR (sender_id=$2 AND recipient_id=$1)
			ORDER BY created_at DESC, id DESC
			LIMIT $3 OFFSET $4
		`, user, peer, limit, offset)
		if err != nil {
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		defer rows.Close()
		msgs := []message.Message{}
		for rows.Next() {
			msg, err := scanMessage(rows)
			if err != nil {
				http.Error(w, "scan failed", http.StatusInternalServerError)
				return
			}
			msgs = append(msgs, msg)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(msgs)
	}
}

// consumptionHandler applies a partial update to a message row. Consumption
// timestamps are set-once: COALESCE keeps the first recorded value no matter
// how often clients retry, and expired only ever flips false to true.
func (s *Server) consumptionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.DB == nil {
			s.databaseUnavailable(w)
			return
		}
		user := r.Context().Value(ctxUserKey{}).(string)
		id := chi.URLParam(r, "id")
		var patch backend.Patch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if patch.Empty() {
			http.Error(w, "empty patch", http.StatusBadRequest)
			return
		}
		expired := false
		if patch.Expired != nil {
			expired = *patch.Expired
		}
		row := s.DB.QueryRow(`
			UPDATE messages SET
				read_at = COALESCE(read_at, $2),
				viewed_at = COALESCE(viewed_at, $3),
				listened_at = COALESCE(listened_at, $4),
				expired = expired OR $5
			WHERE id=$1 AND (sender_id=$6 OR recipient_id=$6)
			RETURNING id, sender_id, recipient_id, kind, body, nonce, key_hint, blob, expiry,
			          created_at, read_at, viewed_at, listened_at, expired
		`, id, patch.ReadAt, patch.ViewedAt, patch.ListenedAt, expired, user)
		msg, err := scanMessage(row)
		if err == sql.ErrNoRows {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "update failed", http.StatusInternalServerError)
			return
		}
		s.metrics.ConsumptionUpdates.Add(1)
		s.broadcast(Event{Type: "update", Message: msg})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(msg)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsHandler subscribes the caller to the realtime feed for one conversation.
// Credentials ride in query params because browser websocket clients cannot
// set an Authorization header.
func (s *Server) wsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		peer := r.URL.Query().Get("peer")
		user, err := authutil.ValidateToken(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if peer == "" {
			http.Error(w, "peer required", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade: %v", err)
			return
		}
		s.hub.register(user, peer, conn)
		go s.readLoop(user, peer, conn)
	}
}

// readLoop drains inbound frames so pings are answered and a close tears the
// subscription down. Clients never send data frames on this feed.
func (s *Server) readLoop(user, peer string, conn *websocket.Conn) {
	defer s.hub.unregister(user, peer, conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) broadcast(evt Event) {
	if n := s.hub.Broadcast(evt); n > 0 {
		s.metrics.EventsBroadcast.Add(uint64(n))
	}
}

func (s *Server) authenticated() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := parseTokenFromHeader(r.Header.Get("Authorization"))
			user, err := authutil.ValidateToken(token)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ctxUserKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseTokenFromHeader(h string) string {
	parts := strings.SplitN(h, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

func intParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (message.Message, error) {
	var (
		msg        message.Message
		kind       string
		blobJSON   []byte
		expiryJSON []byte
		readAt     sql.NullTime
		viewedAt   sql.NullTime
		listenedAt sql.NullTime
	)
	err := row.Scan(&msg.ID, &msg.SenderID, &msg.RecipientID, &kind, &msg.Body, &msg.Nonce, &msg.KeyHint,
		&blobJSON, &expiryJSON, &msg.CreatedAt, &readAt, &viewedAt, &listenedAt, &msg.Expired)
	if err != nil {
		return message.Message{}, err
	}
	msg.Kind = message.Kind(kind)
	if len(blobJSON) > 0 {
		var blob message.BlobRef
		if err := json.Unmarshal(blobJSON, &blob); err != nil {
			return message.Message{}, err
		}
		msg.Blob = &blob
	}
	if err := json.Unmarshal(expiryJSON, &msg.Expiry); err != nil {
		return message.Message{}, err
	}
	if readAt.Valid {
		t := readAt.Time
		msg.ReadAt = &t
	}
	if viewedAt.Valid {
		t := viewedAt.Time
		msg.ViewedAt = &t
	}
	if listenedAt.Valid {
		t := listenedAt.Time
		msg.ListenedAt = &t
	}
	return msg, nil
}
