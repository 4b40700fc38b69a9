package relay

import "strings"

type roomKind uint8

const (
	orderRoom roomKind = iota + 1
	partnerRoom
)

const partnerRoomPrefix = "delivery-partner-"

// RoomID names a broadcast group: either the room of one order or the
// personal room of one delivery partner.
type RoomID struct {
	kind roomKind
	id   string
}

func OrderRoom(orderID string) RoomID {
	return RoomID{kind: orderRoom, id: orderID}
}

func PartnerRoom(partnerID string) RoomID {
	return RoomID{kind: partnerRoom, id: partnerID}
}

func (r RoomID) IsZero() bool {
	return r.id == ""
}

func (r RoomID) IsOrder() bool {
	return r.kind == orderRoom
}

// ID is the order or partner id the room is scoped to.
func (r RoomID) ID() string {
	return r.id
}

// String is the wire name clients know the room by.
func (r RoomID) String() string {
	if r.kind == partnerRoom {
		return partnerRoomPrefix + r.id
	}
	return r.id
}

// ParseRoom maps a wire name back to a RoomID.
func ParseRoom(name string) RoomID {
	if id, ok := strings.CutPrefix(name, partnerRoomPrefix); ok && id != "" {
		return PartnerRoom(id)
	}
	return OrderRoom(name)
}
