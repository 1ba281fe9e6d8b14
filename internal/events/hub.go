// Package events pushes index lifecycle notifications to the GUI
// collaborator over a loopback websocket: index_progress at a 200ms cadence,
// index_state on transitions, index_updated after writes.
package events

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// writeWait bounds one websocket write; a client that cannot accept a frame
// within it is dropped.
const writeWait = 5 * time.Second

// Envelope is the wire shape of every pushed event. Instance identifies the
// daemon process; a change tells the GUI the core restarted and any cached
// results should be refetched.
type Envelope struct {
	Type     string `json:"type"`
	Instance string `json:"instance"`
	Payload  any    `json:"payload"`
}

// ProgressPayload mirrors the index_progress event.
type ProgressPayload struct {
	Scanned     int64  `json:"scanned"`
	Indexed     int64  `json:"indexed"`
	CurrentPath string `json:"currentPath"`
}

// StatePayload mirrors the index_state event.
type StatePayload struct {
	State     string `json:"state"`
	Message   string `json:"message,omitempty"`
	IsCatchup bool   `json:"isCatchup,omitempty"`
}

// UpdatedPayload mirrors the index_updated event.
type UpdatedPayload struct {
	EntriesCount     int64 `json:"entriesCount"`
	LastUpdated      int64 `json:"lastUpdated"`
	PermissionErrors int64 `json:"permissionErrors"`
}

// Hub fans events out to every connected client. Writes are serialized per
// connection; a slow client is dropped rather than allowed to block the
// core.
type Hub struct {
	upgrader websocket.Upgrader
	instance string

	mu    sync.Mutex
	conns map[*websocket.Conn]*sync.Mutex
}

// NewHub builds a hub that only accepts loopback clients.
func NewHub() *Hub {
	return &Hub{
		instance: uuid.NewString(),
		conns:    make(map[*websocket.Conn]*sync.Mutex),
		upgrader: websocket.Upgrader{
			CheckOrigin: loopbackOrigin,
		},
	}
}

// loopbackOrigin admits same-machine GUI clients only: an explicit null
// origin (embedded webviews), no origin from a loopback peer, or a
// localhost origin.
func loopbackOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "null" {
		return true
	}
	if origin == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return false
		}
		ip := net.ParseIP(host)
		return ip != nil && ip.IsLoopback()
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	h := u.Hostname()
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

// HandleWS upgrades one client connection and parks it until it closes.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("events: upgrade: %v", err)
		return
	}
	h.mu.Lock()
	h.conns[c] = &sync.Mutex{}
	h.mu.Unlock()

	defer func() {
		h.drop(c)
	}()
	for {
		// Clients do not send anything meaningful; reads only detect close.
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

// ListenAndServe runs the hub's HTTP endpoint on a loopback address.
func (h *Hub) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", h.HandleWS)
	return http.ListenAndServe(addr, mux)
}

// Broadcast sends one event to every connected client.
func (h *Hub) Broadcast(typ string, payload any) {
	data, err := json.Marshal(Envelope{Type: typ, Instance: h.instance, Payload: payload})
	if err != nil {
		log.Printf("events: marshal %s: %v", typ, err)
		return
	}

	h.mu.Lock()
	targets := make(map[*websocket.Conn]*sync.Mutex, len(h.conns))
	for c, mu := range h.conns {
		targets[c] = mu
	}
	h.mu.Unlock()

	for c, mu := range targets {
		mu.Lock()
		_ = c.SetWriteDeadline(time.Now().Add(writeWait))
		err := c.WriteMessage(websocket.TextMessage, data)
		mu.Unlock()
		if err != nil {
			h.drop(c)
		}
	}
}

// ClientCount reports connected clients; used by status output and tests.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) drop(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	_ = c.Close()
}
