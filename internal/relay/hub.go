// Package relay fans realtime events out to rooms of websocket connections
// within one process.
package relay

import (
	"context"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/quickoh/relay/internal/identity"
	"github.com/quickoh/relay/internal/ratelimit"
	log "github.com/sirupsen/logrus"
)

// LocationWriter persists the last known partner position of an order.
type LocationWriter interface {
	SetDeliveryLocation(ctx context.Context, orderID string, lat, lng float64) error
}

// RoomAuthorizer decides whether a caller may take part in an order's room.
type RoomAuthorizer interface {
	CanJoinOrder(ctx context.Context, caller identity.Identity, orderID string) bool
}

type Options struct {
	ChatLimit     ratelimit.Rule
	LocationLimit ratelimit.Rule
	// RejectionAck sends event-rejected back to the sender of a dropped event.
	RejectionAck bool
	// Authorizer enables room access checks when set.
	Authorizer RoomAuthorizer
}

type Hub struct {
	mu    sync.RWMutex
	rooms map[RoomID]map[*Conn]struct{}
	conns map[*Conn]struct{}

	locations LocationWriter
	limiter   *ratelimit.Limiter
	validate  *validator.Validate
	opts      Options
}

func NewHub(locations LocationWriter, limiter *ratelimit.Limiter, opts Options) *Hub {
	return &Hub{
		rooms:     map[RoomID]map[*Conn]struct{}{},
		conns:     map[*Conn]struct{}{},
		locations: locations,
		limiter:   limiter,
		validate:  validator.New(),
		opts:      opts,
	}
}

func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	if _, ok := h.conns[c]; ok {
		return
	}
	h.conns[c] = struct{}{}
	activeConnectionsMetric.Inc()
}

// Unregister removes the connection from every room it joined and closes
// its outbound queue. Ephemeral state is not touched.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		activeConnectionsMetric.Dec()
	}
	c.closed = true
	close(c.send)
}

// Join adds a registered connection to room. Joining twice is a no-op.
func (h *Hub) Join(c *Conn, room RoomID) bool {
	if room.IsZero() {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok || c.closed {
		return false
	}
	if _, ok := c.rooms[room]; ok {
		return true
	}
	members, ok := h.rooms[room]
	if !ok {
		members = map[*Conn]struct{}{}
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
	roomMembershipsMetric.Inc()
	return true
}

func (h *Hub) Leave(c *Conn, room RoomID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Conn, room RoomID) {
	if _, ok := c.rooms[room]; !ok {
		return
	}
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	roomMembershipsMetric.Dec()
}

// Members returns the number of connections in room.
func (h *Hub) Members(room RoomID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

type outbound struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Emit sends event to every current member of room and returns how many
// connections accepted it. Delivery is best effort: a member whose queue is
// full misses the event.
func (h *Hub) Emit(room RoomID, event string, payload interface{}) int {
	log := log.WithField("prefix", "Hub.Emit")

	msg, err := sonic.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		log.Errorf("failed to encode %s for room %s: %v", event, room, err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.rooms[room] {
		if h.enqueueLocked(c, msg) {
			delivered++
		}
	}
	emittedEventsMetric.WithLabelValues(event).Add(float64(delivered))
	return delivered
}

// send delivers one event to a single connection.
func (h *Hub) send(c *Conn, event string, payload interface{}) bool {
	msg, err := sonic.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.enqueueLocked(c, msg)
}

func (h *Hub) enqueueLocked(c *Conn, msg []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		droppedEventsMetric.WithLabelValues("send_buffer_full").Inc()
		return false
	}
}
