package csrpc

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Notification event names for the auxiliary push stream (§4's
// enrichment beyond the request/response method set). No protocol
// transition is ever gated on one of these arriving; a client that
// never connects to the stream still completes a swap purely through
// the methods in methods.go.
const (
	EventSessionAdvanced = "session_advanced"
	EventSecretRevealed  = "secret_revealed"
)

// Notification is one frame pushed down the websocket stream.
type Notification struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
	State     string `json:"state,omitempty"`
	Secret    []byte `json:"secret,omitempty"`
}

// wsPath is where Server.ServeHTTP routes an upgrade request, leaving
// every other path on the listener as plain JSON-RPC.
const wsPath = "/ws"

// Hub fans a Notification out to every currently-subscribed websocket
// client. It is the same "one owner, everything else talks to it"
// shape as htlcswitch's circuit map: Publish is the only way in,
// subscribers never see each other. Zero value is not usable; build
// one with NewHub.
type Hub struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewHub returns a Hub ready to upgrade connections and publish to
// them.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// ServeWS upgrades r and registers the resulting connection for
// broadcast. Subscribers send nothing meaningful back; readPump exists
// only to notice disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	go h.readPump(conn)
}

func (h *Hub) readPump(conn *websocket.Conn) {
	defer h.remove(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	conn.Close()
}

// Publish broadcasts n to every connected subscriber, writing to each
// connection in turn while holding the hub lock. A connection whose
// write fails is removed; a write to a slow but live connection blocks
// Publish until it completes.
func (h *Hub) Publish(n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		if err := conn.WriteJSON(n); err != nil {
			go h.remove(conn)
		}
	}
}

// Subscribe dials wsURL (the counterparty's base URL with its scheme
// swapped for ws/wss and wsPath appended) and returns a channel of
// Notifications fed by a background read loop, plus a func to tear the
// connection down. The channel is closed when the connection drops;
// callers that don't care about the stream are free to never call
// Subscribe at all.
func Subscribe(baseURL string, insecureSkipVerify bool) (<-chan Notification, func() error, error) {
	wsURL, err := toWSURL(baseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("csrpc: %w", err)
	}

	dialer := &websocket.Dialer{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: insecureSkipVerify}, //nolint:gosec
	}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("csrpc: dialing notification stream: %w", err)
	}

	out := make(chan Notification)
	go func() {
		defer close(out)
		for {
			var n Notification
			if err := conn.ReadJSON(&n); err != nil {
				return
			}
			out <- n
		}
	}()
	return out, conn.Close, nil
}

func toWSURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing %q: %w", baseURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = wsPath
	return u.String(), nil
}
