package relay

import (
	"context"
	"encoding/json"

	"github.com/bytedance/sonic"
	"github.com/quickoh/relay/internal/models"
	log "github.com/sirupsen/logrus"
)

// Inbound event names.
const (
	EventJoinOrderRoom  = "joinOrderRoom"
	EventJoinRoom       = "joinRoom"
	EventJoinChat       = "joinChat"
	EventJoinChatLegacy = "join-chat"
	EventChatMessage    = "chat-message"
	EventUpdateLocation = "updateLocation"
)

// Outbound event names.
const (
	EventNewOrder              = "newOrder"
	EventPartnerLocationUpdate = "partner-location-update"
	EventOrderStatusUpdate     = "order-status-update"
	EventRejected              = "event-rejected"
)

// Rejection reasons carried by event-rejected.
const (
	ReasonInvalidPayload = "invalid_payload"
	ReasonRateLimited    = "rate_limited"
	ReasonForbidden      = "forbidden"
	ReasonUnknownEvent   = "unknown_event"
)

// Envelope is the frame format in both directions: {"event": ..., "data": ...}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinOrderRoomPayload struct {
	OrderID string `json:"orderId" validate:"required,max=128"`
}

type JoinRoomPayload struct {
	PartnerID string `json:"partnerId" validate:"required,max=128"`
}

type ChatMessagePayload struct {
	OrderID string `json:"orderId" validate:"required,max=128"`
	Message string `json:"message" validate:"required,max=2000"`
}

type UpdateLocationPayload struct {
	OrderID   string   `json:"orderId" validate:"required,max=128"`
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
}

type LocationUpdate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type StatusUpdate struct {
	OrderID string             `json:"orderId"`
	Status  models.OrderStatus `json:"status"`
}

type Rejection struct {
	Event  string `json:"event"`
	Reason string `json:"reason"`
}

// HandleEvent processes one inbound event from c. Invalid, unauthorized and
// rate limited events are dropped and never close the connection.
func (h *Hub) HandleEvent(ctx context.Context, c *Conn, env Envelope) {
	inboundEventsMetric.WithLabelValues(env.Event).Inc()

	switch env.Event {
	case EventJoinOrderRoom, EventJoinChat, EventJoinChatLegacy:
		h.onJoinOrderRoom(ctx, c, env)
	case EventJoinRoom:
		h.onJoinRoom(c, env)
	case EventChatMessage:
		h.onChatMessage(ctx, c, env)
	case EventUpdateLocation:
		h.onUpdateLocation(ctx, c, env)
	default:
		h.reject(c, env.Event, ReasonUnknownEvent)
	}
}

func (h *Hub) decode(env Envelope, dst interface{}) bool {
	if len(env.Data) == 0 {
		return false
	}
	if err := sonic.Unmarshal(env.Data, dst); err != nil {
		return false
	}
	return h.validate.Struct(dst) == nil
}

func (h *Hub) canJoinOrder(ctx context.Context, c *Conn, orderID string) bool {
	if h.opts.Authorizer == nil {
		return true
	}
	return h.opts.Authorizer.CanJoinOrder(ctx, c.identity, orderID)
}

func (h *Hub) onJoinOrderRoom(ctx context.Context, c *Conn, env Envelope) {
	var p JoinOrderRoomPayload
	if !h.decode(env, &p) {
		h.reject(c, env.Event, ReasonInvalidPayload)
		return
	}
	if !h.canJoinOrder(ctx, c, p.OrderID) {
		h.reject(c, env.Event, ReasonForbidden)
		return
	}
	h.Join(c, OrderRoom(p.OrderID))
	log.WithFields(log.Fields{
		"prefix":  "Hub.onJoinOrderRoom",
		"conn_id": c.id,
		"room":    p.OrderID,
	}).Debug("joined order room")
}

// onJoinRoom accepts {"partnerId": ...} or a bare string id.
func (h *Hub) onJoinRoom(c *Conn, env Envelope) {
	var p JoinRoomPayload
	var bare string
	if len(env.Data) > 0 && sonic.Unmarshal(env.Data, &bare) == nil {
		p.PartnerID = ParseRoom(bare).ID()
		if h.validate.Struct(&p) != nil {
			h.reject(c, env.Event, ReasonInvalidPayload)
			return
		}
	} else if !h.decode(env, &p) {
		h.reject(c, env.Event, ReasonInvalidPayload)
		return
	}
	if h.opts.Authorizer != nil && !c.identity.Is(models.RoleAdmin) && p.PartnerID != c.identity.UserID {
		h.reject(c, env.Event, ReasonForbidden)
		return
	}
	h.Join(c, PartnerRoom(p.PartnerID))
}

func (h *Hub) onChatMessage(ctx context.Context, c *Conn, env Envelope) {
	if !h.limiter.AllowEvent(ctx, env.Event, c.Key(), h.opts.ChatLimit) {
		h.reject(c, env.Event, ReasonRateLimited)
		return
	}
	var p ChatMessagePayload
	if !h.decode(env, &p) {
		h.reject(c, env.Event, ReasonInvalidPayload)
		return
	}
	if !h.canJoinOrder(ctx, c, p.OrderID) {
		h.reject(c, env.Event, ReasonForbidden)
		return
	}
	// relayed verbatim, sender included
	h.Emit(OrderRoom(p.OrderID), EventChatMessage, env.Data)
}

func (h *Hub) onUpdateLocation(ctx context.Context, c *Conn, env Envelope) {
	log := log.WithField("prefix", "Hub.onUpdateLocation")

	if !h.limiter.AllowEvent(ctx, env.Event, c.Key(), h.opts.LocationLimit) {
		h.reject(c, env.Event, ReasonRateLimited)
		return
	}
	var p UpdateLocationPayload
	if !h.decode(env, &p) {
		h.reject(c, env.Event, ReasonInvalidPayload)
		return
	}
	if !h.canJoinOrder(ctx, c, p.OrderID) {
		h.reject(c, env.Event, ReasonForbidden)
		return
	}

	if err := h.locations.SetDeliveryLocation(ctx, p.OrderID, *p.Latitude, *p.Longitude); err != nil {
		log.WithField("order_id", p.OrderID).Errorf("failed to store location: %v", err)
	}
	h.Emit(OrderRoom(p.OrderID), EventPartnerLocationUpdate, LocationUpdate{
		Latitude:  *p.Latitude,
		Longitude: *p.Longitude,
	})
}

func (h *Hub) reject(c *Conn, event, reason string) {
	droppedEventsMetric.WithLabelValues(reason).Inc()
	log.WithFields(log.Fields{
		"prefix":  "Hub.reject",
		"conn_id": c.id,
		"event":   event,
		"reason":  reason,
	}).Debug("event dropped")
	if h.opts.RejectionAck {
		h.send(c, EventRejected, Rejection{Event: event, Reason: reason})
	}
}
