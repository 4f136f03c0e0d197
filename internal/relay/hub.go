// Package relay accepts websocket connections, binds them to user delivery
// groups, and fans persisted messages out to the receiver's live
// connections. It never persists anything and keeps no memory of delivered
// messages; durability is entirely the store's job.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"herlink/internal/app"
	"herlink/internal/presence"
	"herlink/pkg/domain"
)

// Sender persists a message and triggers its delivery. Implemented by the
// messaging application service.
type Sender interface {
	SendMessage(ctx context.Context, senderID, receiverID, content string) (domain.Message, error)
	SenderName(ctx context.Context, userID string) string
}

// TokenVerifier authenticates a join token and yields the user id bound to
// the connection from then on.
type TokenVerifier interface {
	VerifySubject(token string) (string, error)
}

// Hub upgrades connections and routes their events. Fan-out goes through the
// presence registry; every push is a non-blocking enqueue onto the target
// connection's own writer, so no connection can stall delivery to another.
type Hub struct {
	log      *slog.Logger
	registry *presence.Registry
	verifier TokenVerifier
	upgrader websocket.Upgrader

	sender Sender
}

// NewHub creates a hub around a presence registry.
func NewHub(log *slog.Logger, registry *presence.Registry, verifier TokenVerifier) *Hub {
	return &Hub{
		log:      log,
		registry: registry,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect cross-origin from the web app.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// BindSender wires the messaging service in after construction; the service
// in turn pushes through the hub, and the cycle is broken here.
func (h *Hub) BindSender(sender Sender) {
	h.sender = sender
}

// ServeWS upgrades an HTTP request to a websocket connection and starts its
// reader and writer. The connection stays unbound until a join event
// authenticates it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	client := newClient(h, conn)
	go client.writePump()
	go client.readPump()
}

// Push fans a persisted message out to every connection currently bound to
// the receiver. Order across connections is unspecified; each connection
// receives pushes in persistence order through its own queue. Failures are
// logged and swallowed: durability already happened, and a dead connection
// must not affect its siblings or the sender.
func (h *Hub) Push(msg domain.Message, senderName string) {
	payload, err := json.Marshal(messageEvent(EventMessage, msg, senderName))
	if err != nil {
		h.log.Error("marshal push payload", "err", err)
		return
	}
	for _, conn := range h.registry.ConnectionsFor(msg.ReceiverID) {
		if conn.Deliver(payload) {
			continue
		}
		h.log.Warn("live push dropped",
			"message_id", msg.ID,
			"receiver_id", msg.ReceiverID,
		)
		h.drop(conn)
	}
}

func (h *Hub) handleEvent(c *Client, ev Event) {
	switch ev.Type {
	case EventJoin:
		h.handleJoin(c, ev)
	case EventSend:
		h.handleSend(c, ev)
	default:
		c.deliverEvent(errorEvent("unknown event type"))
	}
}

// handleJoin authenticates the declared identity and binds the connection to
// that user's delivery group. A join under a new identity atomically moves
// the binding.
func (h *Hub) handleJoin(c *Client, ev Event) {
	token := strings.TrimSpace(ev.Token)
	if token == "" {
		c.deliverEvent(errorEvent("join requires a token"))
		return
	}
	userID, err := h.verifier.VerifySubject(token)
	if err != nil {
		c.deliverEvent(errorEvent("unauthenticated"))
		c.shutdown()
		return
	}
	c.setIdentity(userID)
	h.registry.Bind(c, userID)
	c.deliverEvent(Event{Type: EventJoined})
}

// handleSend persists through the messaging service; the service calls Push
// after the append succeeds. Errors go to the sending connection only.
func (h *Hub) handleSend(c *Client, ev Event) {
	senderID := c.identity()
	if senderID == "" {
		c.deliverEvent(errorEvent("join before sending"))
		return
	}
	if h.sender == nil {
		c.deliverEvent(errorEvent("messaging unavailable"))
		return
	}
	ctx := context.Background()
	msg, err := h.sender.SendMessage(ctx, senderID, ev.ReceiverID, ev.Content)
	if err != nil {
		c.deliverEvent(errorEvent(sendErrorText(err)))
		return
	}
	c.deliverEvent(messageEvent(EventSent, msg, h.sender.SenderName(ctx, senderID)))
}

// disconnect unbinds and tears the connection down; in-flight pushes to it
// are dropped without retry.
func (h *Hub) disconnect(c *Client) {
	h.registry.Unbind(c)
	c.shutdown()
}

func (h *Hub) drop(conn presence.Conn) {
	h.registry.Unbind(conn)
	if c, ok := conn.(*Client); ok {
		c.shutdown()
	}
}

// sendErrorText hides store internals from the wire; only validation
// failures are echoed verbatim.
func sendErrorText(err error) string {
	if app.IsValidation(err) {
		return err.Error()
	}
	return "failed to send message"
}
