package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/msgvault/msgvault/internal/domain"
	"github.com/msgvault/msgvault/internal/logging"
)

// Hub fans events out to connected WebSocket clients. It is the delivery
// surface for stored messages, rule matches, and session state changes.
type Hub struct {
	log *logging.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

// NewHub creates an empty hub.
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		log:     log.Sub("hub"),
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// eventEnvelope is the wire shape of one pushed event.
type eventEnvelope struct {
	Type    string              `json:"type"`
	Session *domain.Session     `json:"session,omitempty"`
	Rule    *domain.MonitorRule `json:"rule,omitempty"`
	Message *domain.Message     `json:"message,omitempty"`
}

// Publish broadcasts a newly stored message. Part of the sink contract.
func (h *Hub) Publish(_ context.Context, msg domain.Message) error {
	h.broadcast(eventEnvelope{Type: "message", Message: &msg})
	return nil
}

// OnRuleMatch broadcasts a monitor rule match. Part of the sink contract.
func (h *Hub) OnRuleMatch(_ context.Context, rule domain.MonitorRule, msg domain.Message) error {
	h.broadcast(eventEnvelope{Type: "rule_match", Rule: &rule, Message: &msg})
	return nil
}

// PublishSessionState broadcasts a session transition. Wired to the session
// manager's listener hook, so it must not block.
func (h *Hub) PublishSessionState(sess domain.Session) {
	h.broadcast(eventEnvelope{Type: "session_state", Session: &sess})
}

// add registers a connection and returns its outbound queue.
func (h *Hub) add(conn *websocket.Conn) chan []byte {
	out := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[conn] = out
	h.mu.Unlock()
	return out
}

// remove unregisters a connection.
func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if out, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(out)
	}
	h.mu.Unlock()
}

// broadcast queues an event for every client. Slow clients drop events
// rather than stalling the pipeline.
func (h *Hub) broadcast(ev eventEnvelope) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Str("type", ev.Type).Msg("encoding event failed")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, out := range h.clients {
		select {
		case out <- data:
		default:
			h.log.Warn().Str("remote", conn.RemoteAddr().String()).Msg("dropping event for slow client")
		}
	}
}

// writeLoop drains one client's queue onto its connection.
func (h *Hub) writeLoop(conn *websocket.Conn, out chan []byte) {
	for data := range out {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debug().Err(err).Msg("client write failed")
			conn.Close()
			return
		}
	}
}
