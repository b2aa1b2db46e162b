package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/access"
	"github.com/example/ride-dispatch/internal/chat"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/hub"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

const rideID = "507f1f77bcf86cd799439011"

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type recorder struct {
	mu     sync.Mutex
	frames []frame
}

func (r *recorder) Send(b []byte) bool {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		return false
	}
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
	return true
}

func (r *recorder) Close() {}

func (r *recorder) last(event string) (frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.frames) - 1; i >= 0; i-- {
		if r.frames[i].Event == event {
			return r.frames[i], true
		}
	}
	return frame{}, false
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.frames {
		if f.Event == event {
			n++
		}
	}
	return n
}

func (r *recorder) errorMessage() string {
	f, ok := r.last(EventError)
	if !ok {
		return ""
	}
	var body struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(f.Data, &body)
	return body.Message
}

type stubReplayer struct{ calls []string }

func (s *stubReplayer) Replay(_ context.Context, actorID string) int {
	s.calls = append(s.calls, actorID)
	return 0
}

type stubPublisher struct{ got []models.LocationSample }

func (s *stubPublisher) PublishLocation(_ context.Context, l models.LocationSample) error {
	s.got = append(s.got, l)
	return nil
}

type env struct {
	gw       *Gateway
	hub      *hub.Hub
	store    *storage.MemoryStore
	drivers  *geo.Index
	pub      *stubPublisher
	replayer *stubReplayer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := storage.NewMemoryStore()
	st.PutVehicle(models.Vehicle{ID: "v1", UserID: "d1", Category: "Sedan", Active: true})
	st.PutVehicle(models.Vehicle{ID: "v2", UserID: "d1", Category: "Mini Van", Active: true})
	if err := st.CreateRide(context.Background(), &models.Ride{ID: rideID, DriverID: "d1", PassengerID: "p1", Status: models.StatusAccepted}); err != nil {
		t.Fatal(err)
	}
	h := hub.New(nil)
	gate := access.NewGate(st, nil)
	e := &env{hub: h, store: st, drivers: geo.NewIndex(), pub: &stubPublisher{}, replayer: &stubReplayer{}}
	e.gw = New(Deps{
		Hub:       h,
		Gate:      gate,
		Chat:      chat.New(st, gate, h, nil),
		Store:     st,
		Replayer:  e.replayer,
		Drivers:   e.drivers,
		Locations: e.pub,
	})
	return e
}

func (e *env) connect(t *testing.T, connID, actorID string) *recorder {
	t.Helper()
	r := &recorder{}
	if err := e.gw.Connect(context.Background(), connID, actorID, r); err != nil {
		t.Fatal(err)
	}
	return r
}

func (e *env) send(connID, event string, data any) {
	b, _ := json.Marshal(map[string]any{"event": event, "data": data})
	e.gw.Handle(context.Background(), connID, b)
}

func TestConnectGreetsAndReplays(t *testing.T) {
	e := newEnv(t)
	r := e.connect(t, "c1", "p1")
	if _, ok := r.last(EventConnected); !ok {
		t.Fatal("no connected event")
	}
	if len(e.replayer.calls) != 1 || e.replayer.calls[0] != "p1" {
		t.Fatalf("replay calls = %v", e.replayer.calls)
	}
}

func TestJoinRideRequiresMembership(t *testing.T) {
	e := newEnv(t)
	stranger := e.connect(t, "c9", "x9")
	e.send("c9", "join_ride", map[string]string{"rideId": rideID})
	if got := stranger.errorMessage(); got != "User not authorized for this ride" {
		t.Fatalf("error = %q", got)
	}
	if e.hub.InGroup("c9", hub.RideGroup(rideID)) {
		t.Fatal("stranger must not be in the ride room")
	}

	rider := e.connect(t, "c1", "p1")
	driver := e.connect(t, "c2", "d1")
	e.send("c1", "join_ride", map[string]string{"rideId": rideID})
	e.send("c2", "join_ride", map[string]string{"rideId": rideID})
	if _, ok := rider.last("joined_ride"); !ok {
		t.Fatal("rider did not get joined_ride")
	}
	if rider.count(EventUserJoinedRide) != 1 || driver.count(EventUserJoinedRide) != 0 {
		t.Fatalf("joined notices rider=%d driver=%d", rider.count(EventUserJoinedRide), driver.count(EventUserJoinedRide))
	}
}

func TestUpdateLocationFanOut(t *testing.T) {
	e := newEnv(t)
	rider := e.connect(t, "c1", "p1")
	driver := e.connect(t, "c2", "d1")
	e.send("c1", "join_ride", map[string]string{"rideId": rideID})
	e.send("c2", "join_ride", map[string]string{"rideId": rideID})

	e.send("c2", "update_location", map[string]any{"rideId": rideID, "latitude": 24.86, "longitude": 67.01, "speed": 8})
	if driver.count(EventLocationUpdated) != 0 {
		t.Fatal("sender must not receive its own location")
	}
	f, ok := rider.last(EventLocationUpdated)
	if !ok {
		t.Fatal("rider got no location")
	}
	var got models.LocationSample
	_ = json.Unmarshal(f.Data, &got)
	if got.UserID != "d1" || got.Latitude != 24.86 {
		t.Fatalf("sample = %+v", got)
	}
	if pos, ok, _ := e.drivers.Position(context.Background(), "d1"); !ok || pos.Loc.Longitude != 67.01 {
		t.Fatalf("driver position = %+v %v", pos, ok)
	}
	if len(e.pub.got) != 1 {
		t.Fatalf("published %d samples", len(e.pub.got))
	}
	if locs, _ := e.store.Locations(context.Background(), rideID); len(locs) != 1 {
		t.Fatalf("stored samples = %d", len(locs))
	}

	// rider samples are stored and fanned out, but never feed the driver index
	e.send("c1", "update_location", map[string]any{"rideId": rideID, "latitude": 24.0, "longitude": 67.0})
	if len(e.pub.got) != 1 {
		t.Fatal("rider sample must not reach the location stream")
	}
	if driver.count(EventLocationUpdated) != 1 {
		t.Fatal("driver should see the rider's location")
	}

	e.send("c1", "update_location", map[string]any{"rideId": rideID, "latitude": 124.0, "longitude": 67.0})
	if rider.errorMessage() != "Coordinates out of range" {
		t.Fatalf("error = %q", rider.errorMessage())
	}
}

func TestDriverConnectJoinsCategoryPools(t *testing.T) {
	e := newEnv(t)
	r := e.connect(t, "c2", "d1")
	e.send("c2", "driver_connect", map[string]any{"driverId": "d1", "currentLocation": map[string]float64{"latitude": 1, "longitude": 2}})

	if _, ok := r.last(EventDriverConnected); !ok {
		t.Fatalf("no driver_connected, error %q", r.errorMessage())
	}
	for _, g := range []hub.Group{hub.DriversGroup(), hub.DriverCategoryGroup("sedan"), hub.DriverCategoryGroup("mini_van")} {
		if !e.hub.InGroup("c2", g) {
			t.Fatalf("not in %s", g)
		}
	}
	if _, ok, _ := e.drivers.Position(context.Background(), "d1"); !ok {
		t.Fatal("position not seeded")
	}

	other := e.connect(t, "c3", "d7")
	e.send("c3", "driver_connect", map[string]any{"driverId": "d1"})
	if other.errorMessage() == "" || e.hub.InGroup("c3", hub.DriversGroup()) {
		t.Fatal("impersonation must be refused")
	}
	e.send("c3", "driver_connect", map[string]any{})
	if other.errorMessage() != "Driver ID is required" {
		t.Fatalf("error = %q", other.errorMessage())
	}
}

func TestDisconnectNotifiesRidePeers(t *testing.T) {
	e := newEnv(t)
	rider := e.connect(t, "c1", "p1")
	e.connect(t, "c2", "d1")
	e.send("c1", "join_ride", map[string]string{"rideId": rideID})
	e.send("c2", "join_ride", map[string]string{"rideId": rideID})
	e.send("c2", "driver_connect", map[string]any{"driverId": "d1"})

	e.gw.Disconnect("c2")
	if rider.count(EventUserLeftRide) != 1 {
		t.Fatalf("user_left_ride = %d", rider.count(EventUserLeftRide))
	}
	if e.hub.GroupSize(hub.DriversGroup()) != 0 || e.hub.GroupSize(hub.RideGroup(rideID)) != 1 {
		t.Fatal("disconnected connection still in groups")
	}
	// a second disconnect is a no-op
	e.gw.Disconnect("c2")
}

func TestRideChatRoundTrip(t *testing.T) {
	e := newEnv(t)
	rider := e.connect(t, "c1", "p1")
	driver := e.connect(t, "c2", "d1")
	e.send("c1", "join_ride_chat", map[string]string{"rideId": rideID})
	e.send("c2", "join_ride_chat", map[string]string{"rideId": rideID})

	e.send("c1", "send_ride_message", map[string]string{"rideId": rideID, "message": "Blue car?"})
	f, ok := driver.last(chat.EventNewRideMessage)
	if !ok {
		t.Fatal("driver got no ride message")
	}
	var msg struct {
		MessageID string `json:"messageId"`
		RideID    string `json:"rideId"`
		Message   string `json:"message"`
	}
	_ = json.Unmarshal(f.Data, &msg)
	if msg.RideID != rideID || msg.Message != "Blue car?" {
		t.Fatalf("message = %+v", msg)
	}

	e.send("c2", "mark_ride_messages_read", map[string]any{"rideId": rideID, "messageIds": []string{msg.MessageID}})
	if rider.count(chat.EventMessagesRead) != 1 || driver.count(chat.EventMessagesRead) != 0 {
		t.Fatal("read receipt must go to the peer only")
	}
}

func TestChatThreadFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	now := time.Now()
	th := &models.Thread{ID: "t1", Kind: models.ThreadHandoff, RideRequestID: "q1", UserID: "p1", DriverID: "d1", Status: models.ThreadActive, IsActive: true, CreatedAt: now}
	if err := e.store.CreateThread(ctx, th); err != nil {
		t.Fatal(err)
	}
	rider := e.connect(t, "c1", "p1")
	driver := e.connect(t, "c2", "d1")
	stranger := e.connect(t, "c3", "x")

	e.send("c3", "join_chat_thread", map[string]string{"threadId": "t1"})
	if stranger.errorMessage() != "User not authorized for this chat thread" {
		t.Fatalf("error = %q", stranger.errorMessage())
	}
	e.send("c1", "join_chat_thread", map[string]string{"threadId": "t1"})
	e.send("c2", "join_chat_thread", map[string]string{"threadId": "t1"})
	e.send("c2", "send_chat_message", map[string]string{"threadId": "t1", "message": "Arriving"})
	if rider.count(chat.EventNewChatMessage) != 1 || driver.count(chat.EventNewChatMessage) != 1 {
		t.Fatal("thread message not delivered to both members")
	}
	got, _ := e.store.GetThread(ctx, "t1")
	if got.UnreadUser != 1 {
		t.Fatalf("unread user = %d", got.UnreadUser)
	}
}

func TestMalformedAndUnknownEvents(t *testing.T) {
	e := newEnv(t)
	r := e.connect(t, "c1", "p1")
	e.gw.Handle(context.Background(), "c1", []byte("{not json"))
	if r.errorMessage() != "Invalid message format" {
		t.Fatalf("error = %q", r.errorMessage())
	}
	e.send("c1", "teleport", map[string]string{})
	if r.errorMessage() != "Unknown event: teleport" {
		t.Fatalf("error = %q", r.errorMessage())
	}
	e.send("c1", "join_ride", nil)
	if r.errorMessage() == "" {
		t.Fatal("missing payload must be refused")
	}
	// frames from unknown connections are ignored
	e.gw.Handle(context.Background(), "ghost", []byte(`{"event":"join_ride"}`))
}

func TestRideRequestRoom(t *testing.T) {
	e := newEnv(t)
	r := e.connect(t, "c1", "p1")
	e.send("c1", "join_ride_request", map[string]string{"rideRequestId": "q1"})
	if !e.hub.InGroup("c1", hub.RideRequestGroup("q1")) {
		t.Fatal("not in request room")
	}
	e.send("c1", "leave_ride_request", map[string]string{"rideRequestId": "q1"})
	if e.hub.InGroup("c1", hub.RideRequestGroup("q1")) {
		t.Fatal("still in request room")
	}
	if r.count("left_ride_request") != 1 {
		t.Fatal("no left_ride_request")
	}
}

type vehiclesDown struct{ *storage.MemoryStore }

func (vehiclesDown) Vehicles(context.Context, string) ([]models.Vehicle, error) {
	return nil, errors.New("directory unavailable")
}

func TestDriverConnectJoinsNothingWhenVehiclesFail(t *testing.T) {
	e := newEnv(t)
	gate := access.NewGate(e.store, nil)
	e.gw = New(Deps{Hub: e.hub, Gate: gate, Chat: chat.New(e.store, gate, e.hub, nil), Store: vehiclesDown{e.store}})
	r := e.connect(t, "c2", "d1")
	e.send("c2", "driver_connect", map[string]any{"driverId": "d1"})

	if r.errorMessage() != "Failed to process driver_connect" {
		t.Fatalf("error = %q", r.errorMessage())
	}
	if _, ok := r.last(EventDriverConnected); ok {
		t.Fatal("driver_connected sent after a failed load")
	}
	if e.hub.InGroup("c2", hub.DriversGroup()) {
		t.Fatal("connection left in the drivers pool")
	}
}
