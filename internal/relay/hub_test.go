package relay

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/quickoh/relay/internal/ephemeral"
	"github.com/quickoh/relay/internal/identity"
	"github.com/quickoh/relay/internal/models"
	"github.com/quickoh/relay/internal/ntp"
	"github.com/quickoh/relay/internal/ratelimit"
	"github.com/quickoh/relay/internal/storage"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	hub   *Hub
	store *ephemeral.Store
	clock *ntp.ManualTimeProvider
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	clock := ntp.NewManualTimeProvider(epoch)
	backend := storage.NewMemBackend(clock)
	t.Cleanup(func() { _ = backend.Close() })
	if opts.ChatLimit.Limit == 0 {
		opts.ChatLimit = ratelimit.Rule{Limit: 20, Window: time.Minute}
	}
	if opts.LocationLimit.Limit == 0 {
		opts.LocationLimit = ratelimit.Rule{Limit: 30, Window: time.Minute}
	}
	store := ephemeral.NewStore(backend, clock, ephemeral.DefaultTTL)
	return &testEnv{
		hub:   NewHub(store, ratelimit.New(backend), opts),
		store: store,
		clock: clock,
	}
}

func (e *testEnv) connect(userID string, role models.Role) *Conn {
	c := NewConn(identity.Identity{UserID: userID, Role: role}, 256, nil)
	e.hub.Register(c)
	return c
}

func (e *testEnv) do(c *Conn, event string, data string) {
	env := Envelope{Event: event}
	if data != "" {
		env.Data = []byte(data)
	}
	e.hub.HandleEvent(context.Background(), c, env)
}

type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func next(t *testing.T, c *Conn) received {
	t.Helper()
	select {
	case msg, ok := <-c.Outbound():
		if !ok {
			t.Fatal("outbound closed")
		}
		var r received
		if err := sonic.Unmarshal(msg, &r); err != nil {
			t.Fatalf("bad frame %s: %v", msg, err)
		}
		return r
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	return received{}
}

func expectNothing(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case msg := <-c.Outbound():
		t.Fatalf("unexpected message %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func drainAll(c *Conn) int {
	n := 0
	for {
		select {
		case <-c.Outbound():
			n++
		default:
			return n
		}
	}
}

func TestHub_RoomIsolation(t *testing.T) {
	env := newTestEnv(t, Options{})
	a := env.connect("u1", models.RoleCustomer)
	b := env.connect("u2", models.RoleCustomer)

	env.hub.Join(a, OrderRoom("ord-1"))
	env.hub.Join(b, OrderRoom("ord-2"))

	if n := env.hub.Emit(OrderRoom("ord-1"), EventOrderStatusUpdate, StatusUpdate{OrderID: "ord-1", Status: models.StatusShipped}); n != 1 {
		t.Errorf("Emit() delivered to %d, want 1", n)
	}
	r := next(t, a)
	if r.Event != EventOrderStatusUpdate {
		t.Errorf("event = %q", r.Event)
	}
	expectNothing(t, b)

	// an order room and a partner room sharing an id stay separate
	env.hub.Join(b, PartnerRoom("ord-1"))
	env.hub.Emit(OrderRoom("ord-1"), EventOrderStatusUpdate, nil)
	expectNothing(t, b)
}

func TestHub_EmitToEmptyRoom(t *testing.T) {
	env := newTestEnv(t, Options{})
	if n := env.hub.Emit(OrderRoom("nobody"), EventNewOrder, map[string]string{}); n != 0 {
		t.Errorf("Emit() = %d, want 0", n)
	}
}

func TestHub_LocationRelay(t *testing.T) {
	env := newTestEnv(t, Options{})
	customer := env.connect("u1", models.RoleCustomer)
	other := env.connect("u2", models.RoleCustomer)
	partner := env.connect("p1", models.RoleDeliveryPartner)

	env.do(customer, EventJoinOrderRoom, `{"orderId":"ord-1"}`)
	env.do(other, EventJoinOrderRoom, `{"orderId":"ord-2"}`)

	env.do(partner, EventUpdateLocation, `{"orderId":"ord-1","latitude":12.9,"longitude":77.6}`)

	r := next(t, customer)
	if r.Event != EventPartnerLocationUpdate {
		t.Fatalf("event = %q, want %q", r.Event, EventPartnerLocationUpdate)
	}
	var loc LocationUpdate
	if err := sonic.Unmarshal(r.Data, &loc); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(loc, LocationUpdate{Latitude: 12.9, Longitude: 77.6}) {
		t.Errorf("payload = %+v", loc)
	}
	expectNothing(t, other)
	// the sender is not in the room and gets nothing back
	expectNothing(t, partner)

	stored, err := env.store.GetDeliveryLocation(context.Background(), "ord-1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Latitude != 12.9 || stored.Longitude != 77.6 {
		t.Errorf("stored location = %+v", stored)
	}
}

func TestHub_LocationRateLimit(t *testing.T) {
	env := newTestEnv(t, Options{})
	customer := env.connect("u1", models.RoleCustomer)
	partner := env.connect("p1", models.RoleDeliveryPartner)
	env.do(customer, EventJoinOrderRoom, `{"orderId":"ord-1"}`)

	for i := 0; i < 30; i++ {
		env.do(partner, EventUpdateLocation, `{"orderId":"ord-1","latitude":10,"longitude":20}`)
	}
	env.do(partner, EventUpdateLocation, `{"orderId":"ord-1","latitude":11,"longitude":21}`)

	if got := drainAll(customer); got != 30 {
		t.Errorf("customer received %d updates, want 30", got)
	}
	stored, err := env.store.GetDeliveryLocation(context.Background(), "ord-1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Latitude != 10 || stored.Longitude != 20 {
		t.Errorf("rejected update reached the store: %+v", stored)
	}

	// next window
	env.clock.Advance(time.Minute + time.Millisecond)
	env.do(partner, EventUpdateLocation, `{"orderId":"ord-1","latitude":11,"longitude":21}`)
	if r := next(t, customer); r.Event != EventPartnerLocationUpdate {
		t.Errorf("event = %q", r.Event)
	}
}

func TestHub_InvalidLocationDropped(t *testing.T) {
	env := newTestEnv(t, Options{})
	customer := env.connect("u1", models.RoleCustomer)
	partner := env.connect("p1", models.RoleDeliveryPartner)
	env.do(customer, EventJoinOrderRoom, `{"orderId":"ord-1"}`)

	for _, data := range []string{
		``,
		`{"orderId":"ord-1","latitude":12.9}`,
		`{"orderId":"ord-1","longitude":77.6}`,
		`{"latitude":12.9,"longitude":77.6}`,
		`{"orderId":"ord-1","latitude":"north","longitude":77.6}`,
		`{"orderId":"ord-1","latitude":95,"longitude":77.6}`,
	} {
		env.do(partner, EventUpdateLocation, data)
	}
	expectNothing(t, customer)
	if _, err := env.store.GetDeliveryLocation(context.Background(), "ord-1"); err == nil {
		t.Error("invalid update reached the store")
	}

	// zero coordinates are valid
	env.do(partner, EventUpdateLocation, `{"orderId":"ord-1","latitude":0,"longitude":0}`)
	if r := next(t, customer); r.Event != EventPartnerLocationUpdate {
		t.Errorf("event = %q", r.Event)
	}
}

func TestHub_ChatEchoIncludesSender(t *testing.T) {
	env := newTestEnv(t, Options{})
	customer := env.connect("u1", models.RoleCustomer)
	partner := env.connect("p1", models.RoleDeliveryPartner)
	env.do(customer, EventJoinChat, `{"orderId":"ord-1"}`)
	env.do(partner, EventJoinChatLegacy, `{"orderId":"ord-1"}`)

	raw := `{"orderId":"ord-1","message":"at the gate","senderId":"p1","senderRole":"deliveryPartner","createdAt":"2024-03-01T12:00:00Z"}`
	env.do(partner, EventChatMessage, raw)

	for _, c := range []*Conn{customer, partner} {
		r := next(t, c)
		if r.Event != EventChatMessage {
			t.Fatalf("event = %q", r.Event)
		}
		if string(r.Data) != raw {
			t.Errorf("payload not relayed verbatim: %s", r.Data)
		}
	}
}

func TestHub_ChatRateLimit(t *testing.T) {
	env := newTestEnv(t, Options{ChatLimit: ratelimit.Rule{Limit: 2, Window: time.Minute}})
	customer := env.connect("u1", models.RoleCustomer)
	env.do(customer, EventJoinChat, `{"orderId":"ord-1"}`)

	for i := 0; i < 3; i++ {
		env.do(customer, EventChatMessage, `{"orderId":"ord-1","message":"hi"}`)
	}
	if got := drainAll(customer); got != 2 {
		t.Errorf("received %d chat messages, want 2", got)
	}
}

func TestHub_RejectionAck(t *testing.T) {
	env := newTestEnv(t, Options{RejectionAck: true, LocationLimit: ratelimit.Rule{Limit: 1, Window: time.Minute}})
	c := env.connect("p1", models.RoleDeliveryPartner)

	tests := []struct {
		event  string
		data   string
		reason string
	}{
		{EventJoinOrderRoom, `{}`, ReasonInvalidPayload},
		{"dance", `{}`, ReasonUnknownEvent},
		{EventUpdateLocation, `{"orderId":"ord-1","latitude":1,"longitude":1}`, ""},
		{EventUpdateLocation, `{"orderId":"ord-1","latitude":1,"longitude":1}`, ReasonRateLimited},
	}
	for _, tt := range tests {
		env.do(c, tt.event, tt.data)
		if tt.reason == "" {
			expectNothing(t, c)
			continue
		}
		r := next(t, c)
		if r.Event != EventRejected {
			t.Fatalf("event = %q, want %q", r.Event, EventRejected)
		}
		var rej Rejection
		_ = sonic.Unmarshal(r.Data, &rej)
		if rej != (Rejection{Event: tt.event, Reason: tt.reason}) {
			t.Errorf("rejection = %+v, want %s/%s", rej, tt.event, tt.reason)
		}
	}
}

func TestHub_SilentDropWithoutAck(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.connect("u1", models.RoleCustomer)
	env.do(c, EventJoinOrderRoom, `{"order":"ord-1"}`)
	expectNothing(t, c)
	if env.hub.Members(OrderRoom("ord-1")) != 0 {
		t.Error("invalid join changed membership")
	}
}

func TestHub_JoinRoomForms(t *testing.T) {
	env := newTestEnv(t, Options{})
	a := env.connect("p1", models.RoleDeliveryPartner)
	b := env.connect("p2", models.RoleDeliveryPartner)

	env.do(a, EventJoinRoom, `{"partnerId":"p1"}`)
	env.do(b, EventJoinRoom, `"delivery-partner-p2"`)

	if env.hub.Members(PartnerRoom("p1")) != 1 || env.hub.Members(PartnerRoom("p2")) != 1 {
		t.Errorf("memberships p1=%d p2=%d", env.hub.Members(PartnerRoom("p1")), env.hub.Members(PartnerRoom("p2")))
	}
}

type ownerOnly map[string]string

func (o ownerOnly) CanJoinOrder(_ context.Context, caller identity.Identity, orderID string) bool {
	return caller.Is(models.RoleAdmin) || o[orderID] == caller.UserID
}

func TestHub_RoomAccess(t *testing.T) {
	env := newTestEnv(t, Options{Authorizer: ownerOnly{"ord-1": "u1"}})
	owner := env.connect("u1", models.RoleCustomer)
	stranger := env.connect("u2", models.RoleCustomer)
	admin := env.connect("a1", models.RoleAdmin)

	env.do(owner, EventJoinOrderRoom, `{"orderId":"ord-1"}`)
	env.do(stranger, EventJoinOrderRoom, `{"orderId":"ord-1"}`)
	env.do(admin, EventJoinOrderRoom, `{"orderId":"ord-1"}`)
	if got := env.hub.Members(OrderRoom("ord-1")); got != 2 {
		t.Errorf("members = %d, want owner and admin", got)
	}

	env.do(stranger, EventUpdateLocation, `{"orderId":"ord-1","latitude":1,"longitude":1}`)
	expectNothing(t, owner)

	env.do(stranger, EventJoinRoom, `{"partnerId":"p9"}`)
	if env.hub.Members(PartnerRoom("p9")) != 0 {
		t.Error("caller joined someone else's personal room")
	}
}

func TestHub_DisconnectLeavesAllRooms(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.connect("p1", models.RoleDeliveryPartner)
	env.hub.Join(c, OrderRoom("ord-1"))
	env.hub.Join(c, OrderRoom("ord-2"))
	env.hub.Join(c, PartnerRoom("p1"))
	_ = env.store.SetDeliveryLocation(context.Background(), "ord-1", 1, 2)

	env.hub.Unregister(c)
	env.hub.Unregister(c)

	for _, room := range []RoomID{OrderRoom("ord-1"), OrderRoom("ord-2"), PartnerRoom("p1")} {
		if n := env.hub.Members(room); n != 0 {
			t.Errorf("room %s still has %d members", room, n)
		}
	}
	if _, ok := <-c.Outbound(); ok {
		t.Error("expected outbound queue closed")
	}
	if env.hub.Join(c, OrderRoom("ord-1")) {
		t.Error("closed connection joined a room")
	}
	if env.hub.Emit(OrderRoom("ord-1"), EventNewOrder, nil) != 0 {
		t.Error("emit reached a closed connection")
	}
	if _, err := env.store.GetDeliveryLocation(context.Background(), "ord-1"); err != nil {
		t.Errorf("disconnect touched ephemeral state: %v", err)
	}
}

func TestHub_FullBufferDrops(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := NewConn(identity.Identity{UserID: "u1"}, 1, nil)
	env.hub.Register(c)
	env.hub.Join(c, OrderRoom("ord-1"))

	if n := env.hub.Emit(OrderRoom("ord-1"), EventNewOrder, 1); n != 1 {
		t.Fatalf("first emit delivered %d", n)
	}
	if n := env.hub.Emit(OrderRoom("ord-1"), EventNewOrder, 2); n != 0 {
		t.Errorf("emit into a full buffer delivered %d", n)
	}
}
