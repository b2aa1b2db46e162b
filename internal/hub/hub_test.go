package hub

import (
	"encoding/json"
	"sync"
	"testing"
)

type fakeSink struct {
	mu     sync.Mutex
	frames [][]byte
	full   bool
	closed bool
}

func (f *fakeSink) Send(frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full || f.closed {
		return false
	}
	f.frames = append(f.frames, frame)
	return true
}

func (f *fakeSink) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSink) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, b := range f.frames {
		var fr struct {
			Event string `json:"event"`
		}
		_ = json.Unmarshal(b, &fr)
		out = append(out, fr.Event)
	}
	return out
}

func TestGroupNamesDoNotCollide(t *testing.T) {
	if RideGroup("1") == RideChatGroup("1") {
		t.Fatal("ride and ride-chat groups must differ")
	}
	cases := map[string]Group{
		"actor:u1":         ActorGroup("u1"),
		"ride:r1":          RideGroup("r1"),
		"ride-request:q1":  RideRequestGroup("q1"),
		"drivers":          DriversGroup(),
		"drivers:car":      DriverCategoryGroup("Car"),
		"drivers:mini_van": DriverCategoryGroup("  Mini   Van "),
		"chat-thread:t1":   ChatThreadGroup("t1"),
		"ride-chat:r1":     RideChatGroup("r1"),
	}
	for want, g := range cases {
		if g.String() != want {
			t.Errorf("got %q want %q", g.String(), want)
		}
	}
	if DriverCategoryGroup("  ") != DriversGroup() {
		t.Error("blank category should fall back to the driver pool")
	}
}

func TestRegisterJoinsMailboxAndLastWriterWins(t *testing.T) {
	h := New(nil)
	a, b := &fakeSink{}, &fakeSink{}
	if err := h.Register("c1", "u1", a); err != nil {
		t.Fatal(err)
	}
	if err := h.Register("c1", "u1", a); err != ErrDuplicateConnection {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	_ = h.Register("c2", "u1", b)
	if c, _ := h.ReverseResolve("u1"); c != "c2" {
		t.Fatalf("reverse resolve = %s, want c2", c)
	}
	// dropping the older connection keeps the newer mapping
	h.Unregister("c1")
	if c, ok := h.ReverseResolve("u1"); !ok || c != "c2" {
		t.Fatalf("reverse resolve after old disconnect = %s %v", c, ok)
	}
	if n := h.Unicast("u1", "notification", map[string]string{"k": "v"}); n != 1 {
		t.Fatalf("unicast reached %d connections", n)
	}
	if ev := b.events(); len(ev) != 1 || ev[0] != "notification" {
		t.Fatalf("unexpected frames %v", ev)
	}
}

func TestJoinIsIdempotentAndLeaveToo(t *testing.T) {
	h := New(nil)
	_ = h.Register("c1", "u1", &fakeSink{})
	g := RideGroup("r1")
	_ = h.Join("c1", g)
	_ = h.Join("c1", g)
	if h.GroupSize(g) != 1 {
		t.Fatalf("group size %d", h.GroupSize(g))
	}
	h.Leave("c1", g)
	h.Leave("c1", g)
	if h.GroupSize(g) != 0 {
		t.Fatalf("group size after leave %d", h.GroupSize(g))
	}
	if err := h.Join("nope", g); err != ErrUnknownConnection {
		t.Fatalf("expected unknown connection, got %v", err)
	}
	if err := h.Join("c1", Group{}); err != ErrInvalidGroup {
		t.Fatalf("expected invalid group, got %v", err)
	}
}

func TestUnregisterClearsEveryGroup(t *testing.T) {
	h := New(nil)
	_ = h.Register("c1", "u1", &fakeSink{})
	_ = h.Register("c2", "u2", &fakeSink{})
	for _, g := range []Group{RideGroup("r1"), RideChatGroup("r1"), ChatThreadGroup("t1")} {
		_ = h.Join("c1", g)
		_ = h.Join("c2", g)
	}
	actor, left, ok := h.Unregister("c1")
	if !ok || actor != "u1" {
		t.Fatalf("unregister = %s %v", actor, ok)
	}
	if len(left) != 4 {
		t.Fatalf("left %d groups, want 4 (mailbox + 3)", len(left))
	}
	for _, g := range []Group{RideGroup("r1"), RideChatGroup("r1"), ChatThreadGroup("t1")} {
		if m := h.MembersOf(g); len(m) != 1 || m[0] != "u2" {
			t.Fatalf("members of %s = %v", g, m)
		}
	}
	if _, ok := h.Resolve("c1"); ok {
		t.Fatal("c1 should be gone")
	}
}

func TestBroadcastExceptSkipsSender(t *testing.T) {
	h := New(nil)
	a, b := &fakeSink{}, &fakeSink{}
	_ = h.Register("c1", "u1", a)
	_ = h.Register("c2", "u2", b)
	_ = h.Join("c1", RideGroup("r1"))
	_ = h.Join("c2", RideGroup("r1"))
	if n := h.BroadcastExcept(RideGroup("r1"), "c1", "location_updated", nil); n != 1 {
		t.Fatalf("delivered to %d", n)
	}
	if len(a.events()) != 0 || len(b.events()) != 1 {
		t.Fatalf("a=%v b=%v", a.events(), b.events())
	}
}

func TestFullSinkIsDropped(t *testing.T) {
	h := New(nil)
	slow := &fakeSink{full: true}
	_ = h.Register("c1", "u1", slow)
	_ = h.Register("c2", "u2", &fakeSink{})
	if n := h.BroadcastAll("ping", nil); n != 1 {
		t.Fatalf("delivered to %d", n)
	}
	if h.Count() != 1 || !slow.closed {
		t.Fatalf("slow sink should be unregistered and closed: count=%d closed=%v", h.Count(), slow.closed)
	}
}
