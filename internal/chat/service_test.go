package chat

import (
	"context"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/access"
	"github.com/example/ride-dispatch/internal/fault"
	"github.com/example/ride-dispatch/internal/hub"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

const rideID = "507f1f77bcf86cd799439011"

type pushed struct {
	group string
	event string
}

type fakeRooms struct{ out []pushed }

func (f *fakeRooms) Broadcast(g hub.Group, event string, _ any) int {
	f.out = append(f.out, pushed{g.String(), event})
	return 1
}

func newService(t *testing.T) (*Service, *storage.MemoryStore, *fakeRooms) {
	t.Helper()
	st := storage.NewMemoryStore()
	now := time.Now()
	if err := st.CreateRide(context.Background(), &models.Ride{ID: rideID, DriverID: "d1", PassengerID: "p1", Status: models.StatusAccepted, CreatedAt: now}); err != nil {
		t.Fatal(err)
	}
	rooms := &fakeRooms{}
	clock := now
	svc := New(st, access.NewGate(st, nil), rooms, nil)
	// distinct, increasing timestamps keep message order deterministic
	svc.now = func() time.Time { clock = clock.Add(time.Millisecond); return clock }
	return svc, st, rooms
}

func TestCreateThreadWithInitialMessage(t *testing.T) {
	ctx := context.Background()
	svc, _, rooms := newService(t)

	th, err := svc.CreateThread(ctx, "p1", CreateThreadInput{RideRequestID: "req-1", UserID: "p1", DriverID: "d1", InitialMessage: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if th.Kind != models.ThreadHandoff || !th.IsActive || th.LastMessage != "hi" || th.UnreadDriver != 1 {
		t.Fatalf("thread = %+v", th)
	}
	if len(rooms.out) != 1 || rooms.out[0].group != "chat-thread:"+th.ID {
		t.Fatalf("broadcasts = %+v", rooms.out)
	}

	again, err := svc.CreateThread(ctx, "d1", CreateThreadInput{RideRequestID: "req-1", UserID: "p1", DriverID: "d1"})
	if err != nil || again.ID != th.ID {
		t.Fatalf("second create = %+v, %v", again, err)
	}
	if _, err := svc.CreateThread(ctx, "p1", CreateThreadInput{RideRequestID: "req-1", UserID: "p1", DriverID: "d2"}); fault.KindOf(err) != fault.Conflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := svc.CreateThread(ctx, "x", CreateThreadInput{RideRequestID: "req-2", UserID: "p1", DriverID: "d1"}); fault.KindOf(err) != fault.Unauthorized {
		t.Fatalf("outsider create: %v", err)
	}
}

func TestSendThreadMessageUnreadCounters(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newService(t)
	th, _ := svc.CreateThread(ctx, "p1", CreateThreadInput{RideRequestID: "req-1", UserID: "p1", DriverID: "d1"})

	for i := 0; i < 2; i++ {
		if _, err := svc.SendThreadMessage(ctx, "d1", MessageInput{ThreadID: th.ID, Message: "on my way"}); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := st.GetThread(ctx, th.ID)
	if got.UnreadUser != 2 || got.UnreadDriver != 0 || got.LastMessageSenderID != "d1" {
		t.Fatalf("counters = %+v", got)
	}

	if _, err := svc.SendThreadMessage(ctx, "stranger", MessageInput{ThreadID: th.ID, Message: "x"}); fault.KindOf(err) != fault.Unauthorized {
		t.Fatalf("stranger send: %v", err)
	}
	if _, err := svc.SendThreadMessage(ctx, "p1", MessageInput{ThreadID: th.ID}); fault.KindOf(err) != fault.Validation {
		t.Fatalf("empty send: %v", err)
	}
}

func TestClosedThreadRefusesMessages(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	th, _ := svc.CreateThread(ctx, "p1", CreateThreadInput{RideRequestID: "req-1", UserID: "p1", DriverID: "d1"})
	if err := svc.CloseThread(ctx, "d1", th.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SendThreadMessage(ctx, "p1", MessageInput{ThreadID: th.ID, Message: "hello?"}); fault.KindOf(err) != fault.Conflict {
		t.Fatalf("send to closed: %v", err)
	}
}

func TestMarkReadSkipsOwnMessages(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newService(t)
	th, _ := svc.CreateThread(ctx, "p1", CreateThreadInput{RideRequestID: "req-1", UserID: "p1", DriverID: "d1"})
	mine, _ := svc.SendThreadMessage(ctx, "p1", MessageInput{ThreadID: th.ID, Message: "where are you"})
	theirs, _ := svc.SendThreadMessage(ctx, "d1", MessageInput{ThreadID: th.ID, Message: "2 min"})

	rc, err := svc.MarkRead(ctx, models.ThreadHandoff, th.ID, "p1", []string{mine.ID, theirs.ID})
	if err != nil {
		t.Fatal(err)
	}
	if rc.Marked != 1 || rc.ReadBy != "p1" {
		t.Fatalf("receipt = %+v", rc)
	}
	m1, _ := st.GetMessage(ctx, mine.ID)
	m2, _ := st.GetMessage(ctx, theirs.ID)
	if m1.IsRead || !m2.IsRead {
		t.Fatalf("read flags own=%v theirs=%v", m1.IsRead, m2.IsRead)
	}
	got, _ := st.GetThread(ctx, th.ID)
	if got.UnreadUser != 0 || got.UnreadDriver != 1 {
		t.Fatalf("counters = %+v", got)
	}
}

func TestDeleteMessageOnlyBySender(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newService(t)
	th, _ := svc.CreateThread(ctx, "p1", CreateThreadInput{RideRequestID: "req-1", UserID: "p1", DriverID: "d1"})
	msg, _ := svc.SendThreadMessage(ctx, "p1", MessageInput{ThreadID: th.ID, Message: "oops"})

	if err := svc.DeleteMessage(ctx, msg.ID, "d1"); fault.KindOf(err) != fault.NotFound {
		t.Fatalf("foreign delete: %v", err)
	}
	if err := svc.DeleteMessage(ctx, msg.ID, "p1"); err != nil {
		t.Fatal(err)
	}
	got, err := st.GetMessage(ctx, msg.ID)
	if err != nil || got.Body != models.DeletedMarker || got.ThreadID != th.ID || !got.IsDeleted {
		t.Fatalf("deleted message = %+v, %v", got, err)
	}
	page, err := svc.Messages(ctx, models.ThreadHandoff, th.ID, "p1", 1, 10)
	if err != nil || len(page.Messages) != 0 {
		t.Fatalf("page = %+v, %v", page, err)
	}
}

func TestRideMessageCreatesRideThread(t *testing.T) {
	ctx := context.Background()
	svc, st, rooms := newService(t)

	out, err := svc.SendRideMessage(ctx, "p1", MessageInput{RideID: rideID, Message: "I'm at gate 2"})
	if err != nil {
		t.Fatal(err)
	}
	if out.RideID != rideID || out.ThreadID != rideID || out.Kind != models.ThreadRide || out.SenderRole != models.RoleRider {
		t.Fatalf("message = %+v", out)
	}
	th, err := st.GetThread(ctx, rideID)
	if err != nil || th.UserID != "p1" || th.DriverID != "d1" || th.UnreadDriver != 1 {
		t.Fatalf("ride thread = %+v, %v", th, err)
	}
	if rooms.out[0].group != "ride-chat:"+rideID || rooms.out[0].event != EventNewRideMessage {
		t.Fatalf("broadcast = %+v", rooms.out)
	}

	// ride conversations get the same read tracking as handoff threads
	if _, err := svc.MarkRead(ctx, models.ThreadRide, rideID, "d1", []string{out.ID}); err != nil {
		t.Fatal(err)
	}
	th, _ = st.GetThread(ctx, rideID)
	if th.UnreadDriver != 0 {
		t.Fatalf("unread driver = %d", th.UnreadDriver)
	}

	_, before, _ := st.ListMessages(ctx, rideID, 0, 100)
	broadcasts := len(rooms.out)
	if _, err := svc.SendRideMessage(ctx, "d2", MessageInput{RideID: rideID, Message: "hi"}); fault.KindOf(err) != fault.Unauthorized {
		t.Fatalf("outsider: %v", err)
	}
	if _, after, _ := st.ListMessages(ctx, rideID, 0, 100); after != before {
		t.Fatalf("outsider message persisted: %d -> %d", before, after)
	}
	if len(rooms.out) != broadcasts {
		t.Fatalf("outsider message broadcast: %+v", rooms.out[broadcasts:])
	}
	if _, err := svc.SendRideMessage(ctx, "p1", MessageInput{RideID: "not-an-object-id", Message: "hi"}); fault.KindOf(err) != fault.Unauthorized {
		t.Fatalf("malformed id: %v", err)
	}
}

func TestSystemRideMessage(t *testing.T) {
	ctx := context.Background()
	svc, _, rooms := newService(t)
	msg, err := svc.SystemRideMessage(ctx, rideID, "d1", "I have reached the pickup location")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != models.MessageSystem || msg.SenderRole != models.RoleDriver {
		t.Fatalf("system message = %+v", msg)
	}
	if len(rooms.out) != 1 || rooms.out[0].group != "ride-chat:"+rideID {
		t.Fatalf("broadcasts = %+v", rooms.out)
	}
}

func TestMessagesPagination(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	for _, body := range []string{"a", "b", "c", "d", "e"} {
		if _, err := svc.SendRideMessage(ctx, "p1", MessageInput{RideID: rideID, Message: body}); err != nil {
			t.Fatal(err)
		}
	}
	page, err := svc.Messages(ctx, models.ThreadRide, rideID, "d1", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if page.Pagination.Total != 5 || page.Pagination.Pages != 3 {
		t.Fatalf("pagination = %+v", page.Pagination)
	}
	if len(page.Messages) != 2 || page.Messages[0].Body != "d" || page.Messages[1].Body != "e" {
		t.Fatalf("first page = %+v", page.Messages)
	}
	last, _ := svc.Messages(ctx, models.ThreadRide, rideID, "d1", 3, 2)
	if len(last.Messages) != 1 || last.Messages[0].Body != "a" {
		t.Fatalf("last page = %+v", last.Messages)
	}
	if _, err := svc.Messages(ctx, models.ThreadRide, rideID, "d9", 1, 2); fault.KindOf(err) != fault.Unauthorized {
		t.Fatalf("outsider read: %v", err)
	}
}

func TestThreadLookups(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	th, _ := svc.CreateThread(ctx, "p1", CreateThreadInput{RideRequestID: "req-9", UserID: "p1", DriverID: "d1"})

	if got, err := svc.ThreadByRideRequest(ctx, "d1", "req-9"); err != nil || got.ID != th.ID {
		t.Fatalf("by request = %+v, %v", got, err)
	}
	if _, err := svc.ThreadByRideRequest(ctx, "d1", "nope"); fault.KindOf(err) != fault.NotFound {
		t.Fatalf("missing: %v", err)
	}
	if _, err := svc.Thread(ctx, "d2", th.ID); fault.KindOf(err) != fault.Unauthorized {
		t.Fatalf("outsider thread: %v", err)
	}
	list, err := svc.ThreadsFor(ctx, "d1", models.RoleDriver)
	if err != nil || len(list) != 1 {
		t.Fatalf("threads = %+v, %v", list, err)
	}
	if _, err := svc.ThreadsFor(ctx, "d1", models.RoleNone); fault.KindOf(err) != fault.Validation {
		t.Fatalf("bad role: %v", err)
	}
}
