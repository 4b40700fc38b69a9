package relay

import (
	"github.com/google/uuid"
	"github.com/quickoh/relay/internal/identity"
	"golang.org/x/time/rate"
)

const defaultSendBuffer = 64

// Conn is one realtime client as the hub sees it. Outbound frames are queued
// on a bounded buffer and dropped when it is full.
type Conn struct {
	id       string
	identity identity.Identity
	send     chan []byte
	frames   *rate.Limiter

	// guarded by Hub.mu
	rooms  map[RoomID]struct{}
	closed bool
}

// NewConn creates a connection. A nil frames limiter disables the inbound
// flood guard.
func NewConn(id identity.Identity, sendBuffer int, frames *rate.Limiter) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	connID := uuid.NewString()
	if v7, err := uuid.NewV7(); err == nil {
		connID = v7.String()
	}
	return &Conn{
		id:       connID,
		identity: id,
		send:     make(chan []byte, sendBuffer),
		frames:   frames,
		rooms:    map[RoomID]struct{}{},
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) Identity() identity.Identity {
	return c.identity
}

// Key identifies the connection for rate limiting: the user when known,
// otherwise the connection itself.
func (c *Conn) Key() string {
	if c.identity.UserID != "" {
		return c.identity.UserID
	}
	return c.id
}

// Outbound is closed once the hub unregisters the connection.
func (c *Conn) Outbound() <-chan []byte {
	return c.send
}

func (c *Conn) allowFrame() bool {
	return c.frames == nil || c.frames.Allow()
}
