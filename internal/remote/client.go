// Package remote implements the backend client against the sync server:
// JSON over HTTP for queries and writes, a websocket feed for realtime
// change events.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/micksolo/VanishVoice-sub000/internal/backend"
	"github.com/micksolo/VanishVoice-sub000/internal/message"
)

// redialDelay paces websocket reconnect attempts. Overridden in tests.
var redialDelay = 2 * time.Second

// Client talks to one sync server on behalf of one logged-in user.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.Mutex
	token string
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// SetToken installs a previously issued token, e.g. one persisted across
// restarts.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// Register creates an account on the sync server.
func (c *Client) Register(ctx context.Context, username, password string) error {
	body, err := json.Marshal(credentials{Username: username, Password: password})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/register", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusOK)
}

// Login authenticates and keeps the issued token for subsequent calls.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	body, err := json.Marshal(credentials{Username: username, Password: password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return "", err
	}
	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", err
	}
	c.SetToken(lr.Token)
	return lr.Token, nil
}

// Query fetches one page of the conversation, newest first.
func (c *Client) Query(ctx context.Context, conv backend.Conversation, page backend.Page) ([]message.Message, error) {
	q := url.Values{}
	q.Set("peer", conv.PeerID)
	q.Set("offset", strconv.Itoa(page.Offset))
	q.Set("limit", strconv.Itoa(page.Limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/messages?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var msgs []message.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Insert stores the message and returns the server's copy, which carries
// the assigned id and timestamp.
func (c *Client) Insert(ctx context.Context, msg message.Message) (message.Message, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return message.Message{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return message.Message{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return message.Message{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusCreated); err != nil {
		return message.Message{}, err
	}
	var stored message.Message
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return message.Message{}, err
	}
	return stored, nil
}

// Update writes a partial consumption/expiry patch.
func (c *Client) Update(ctx context.Context, id string, patch backend.Patch) error {
	body, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+"/messages/"+url.PathEscape(id), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusOK)
}

// wireEvent mirrors the sync server's websocket frame.
type wireEvent struct {
	Type    string          `json:"type"`
	Message message.Message `json:"message"`
}

// Subscribe opens the websocket feed for the conversation. The read loop
// redials on failure until unsubscribed, reporting channel state around
// each transition.
func (c *Client) Subscribe(ctx context.Context, conv backend.Conversation, onEvent func(backend.Event), onState func(backend.ChannelState)) (backend.UnsubscribeFunc, error) {
	conn, err := c.dial(ctx, conv)
	if err != nil {
		return nil, err
	}
	onState(backend.ChannelConnected)

	quit := make(chan struct{})
	var closeOnce sync.Once
	var connMu sync.Mutex
	closed := func() bool {
		select {
		case <-quit:
			return true
		default:
			return false
		}
	}

	go func() {
		current := conn
		for {
			c.readFeed(current, onEvent)
			if closed() {
				return
			}
			onState(backend.ChannelError)
			var err error
			current, err = c.redial(ctx, conv, quit)
			if err != nil {
				onState(backend.ChannelClosed)
				return
			}
			connMu.Lock()
			conn = current
			connMu.Unlock()
			onState(backend.ChannelConnected)
		}
	}()

	unsubscribe := func() {
		closeOnce.Do(func() {
			close(quit)
			connMu.Lock()
			_ = conn.Close()
			connMu.Unlock()
			onState(backend.ChannelClosed)
		})
	}
	return unsubscribe, nil
}

func (c *Client) dial(ctx context.Context, conv backend.Conversation) (*websocket.Conn, error) {
	wsURL, err := c.feedURL(conv)
	if err != nil {
		return nil, err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func (c *Client) redial(ctx context.Context, conv backend.Conversation, quit chan struct{}) (*websocket.Conn, error) {
	for {
		select {
		case <-quit:
			return nil, fmt.Errorf("unsubscribed")
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(redialDelay):
		}
		conn, err := c.dial(ctx, conv)
		if err == nil {
			return conn, nil
		}
		log.Printf("feed redial: %v", err)
	}
}

func (c *Client) readFeed(conn *websocket.Conn, onEvent func(backend.Event)) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var evt wireEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			log.Printf("feed decode: %v", err)
			continue
		}
		switch evt.Type {
		case "insert":
			onEvent(backend.Event{Type: backend.EventInsert, New: evt.Message})
		case "update":
			onEvent(backend.Event{Type: backend.EventUpdate, New: evt.Message})
		default:
			log.Printf("feed: unknown event type %q", evt.Type)
		}
	}
}

func (c *Client) feedURL(conv backend.Conversation) (string, error) {
	u, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("peer", conv.PeerID)
	q.Set("token", c.currentToken())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) authorize(req *http.Request) {
	if token := c.currentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func checkStatus(resp *http.Response, want int) error {
	if resp.StatusCode == want {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s %s: %s (%s)", resp.Request.Method, resp.Request.URL.Path, resp.Status, strings.TrimSpace(string(body)))
}
