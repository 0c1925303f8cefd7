package syncserver

import (
	"encoding/json"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/micksolo/VanishVoice-sub000/internal/message"
)

// Event is a websocket frame pushed to subscribed clients when a message
// row is inserted or updated.
type Event struct {
	Type    string          `json:"type"`
	Message message.Message `json:"message"`
}

// Hub fans out conversation events to the websocket connections subscribed
// to that conversation. Connections are keyed by the unordered user pair so
// both participants see the same feed.
type Hub struct {
	mu    sync.Mutex
	conns map[string]map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[*websocket.Conn]struct{})}
}

func convKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

func (h *Hub) register(a, b string, conn *websocket.Conn) {
	key := convKey(a, b)
	h.mu.Lock()
	if h.conns[key] == nil {
		h.conns[key] = make(map[*websocket.Conn]struct{})
	}
	h.conns[key][conn] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(a, b string, conn *websocket.Conn) {
	key := convKey(a, b)
	h.mu.Lock()
	if set := h.conns[key]; set != nil {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conns, key)
		}
	}
	h.mu.Unlock()
	_ = conn.Close()
}

// Broadcast sends the event to every connection subscribed to the message's
// conversation. Dead connections are dropped on write failure.
func (h *Hub) Broadcast(evt Event) int {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("event encode: %v", err)
		return 0
	}
	key := convKey(evt.Message.SenderID, evt.Message.RecipientID)
	sent := 0
	h.mu.Lock()
	for conn := range h.conns[key] {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("event send: %v", err)
			delete(h.conns[key], conn)
			_ = conn.Close()
			continue
		}
		sent++
	}
	h.mu.Unlock()
	return sent
}

// Subscribers reports how many connections watch the given conversation.
func (h *Hub) Subscribers(a, b string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[convKey(a, b)])
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for _, set := range h.conns {
		for conn := range set {
			_ = conn.Close()
		}
	}
	h.conns = make(map[string]map[*websocket.Conn]struct{})
	h.mu.Unlock()
}
