package hub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/example/ride-dispatch/internal/observability"
)

var (
	ErrUnknownConnection   = errors.New("hub: unknown connection")
	ErrDuplicateConnection = errors.New("hub: connection already registered")
	ErrInvalidGroup        = errors.New("hub: invalid group")
)

// Sink is the write side of a live connection. Send must not block: it
// reports false when the frame could not be queued.
type Sink interface {
	Send(frame []byte) bool
	Close()
}

// Frame is the wire shape of every server to client event.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Encode renders one event frame.
func Encode(event string, payload any) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: payload})
}

type session struct {
	actorID string
	sink    Sink
	groups  map[Group]struct{}
}

// Hub is the connection registry and the group pub/sub on top of it. It
// owns every piece of in-process connection state.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*session
	actors map[string]string
	groups map[Group]map[string]struct{}
	logger *slog.Logger
}

func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:  make(map[string]*session),
		actors: make(map[string]string),
		groups: make(map[Group]map[string]struct{}),
		logger: logger,
	}
}

// Register binds connID to actorID and joins the actor's mailbox. A newer
// connection of the same actor takes over the reverse mapping.
func (h *Hub) Register(connID, actorID string, sink Sink) error {
	if connID == "" || actorID == "" {
		return ErrUnknownConnection
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; ok {
		return ErrDuplicateConnection
	}
	h.conns[connID] = &session{actorID: actorID, sink: sink, groups: make(map[Group]struct{})}
	h.actors[actorID] = connID
	h.joinLocked(connID, ActorGroup(actorID))
	observability.SocketsOpen.Set(float64(len(h.conns)))
	return nil
}

// Resolve returns the actor bound to connID.
func (h *Hub) Resolve(connID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.conns[connID]
	if !ok {
		return "", false
	}
	return s.actorID, true
}

// ReverseResolve returns the most recent connection of actorID.
func (h *Hub) ReverseResolve(actorID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.actors[actorID]
	return c, ok
}

// Unregister forgets connID and removes it from every group it joined.
// It returns the actor and the groups the connection was in.
func (h *Hub) Unregister(connID string) (string, []Group, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.conns[connID]
	if !ok {
		return "", nil, false
	}
	left := make([]Group, 0, len(s.groups))
	for g := range s.groups {
		h.leaveLocked(connID, g)
		left = append(left, g)
	}
	delete(h.conns, connID)
	if h.actors[s.actorID] == connID {
		delete(h.actors, s.actorID)
	}
	observability.SocketsOpen.Set(float64(len(h.conns)))
	return s.actorID, left, true
}

// Join adds connID to g. Joining twice is a no-op.
func (h *Hub) Join(connID string, g Group) error {
	if !g.valid() {
		return ErrInvalidGroup
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; !ok {
		return ErrUnknownConnection
	}
	h.joinLocked(connID, g)
	return nil
}

// Leave removes connID from g. Leaving a group never joined is a no-op.
func (h *Hub) Leave(connID string, g Group) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(connID, g)
}

// InGroup reports whether connID is currently a member of g.
func (h *Hub) InGroup(connID string, g Group) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.groups[g][connID]
	return ok
}

func (h *Hub) joinLocked(connID string, g Group) {
	members := h.groups[g]
	if members == nil {
		members = make(map[string]struct{})
		h.groups[g] = members
	}
	members[connID] = struct{}{}
	h.conns[connID].groups[g] = struct{}{}
}

func (h *Hub) leaveLocked(connID string, g Group) {
	if members := h.groups[g]; members != nil {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.groups, g)
		}
	}
	if s, ok := h.conns[connID]; ok {
		delete(s.groups, g)
	}
}

// MembersOf returns the distinct actors with a connection in g, sorted.
func (h *Hub) MembersOf(g Group) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]struct{})
	for connID := range h.groups[g] {
		seen[h.conns[connID].actorID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Broadcast sends event to every connection in g and returns how many
// frames were queued.
func (h *Hub) Broadcast(g Group, event string, payload any) int {
	return h.BroadcastExcept(g, "", event, payload)
}

// BroadcastExcept is Broadcast skipping the connection except.
func (h *Hub) BroadcastExcept(g Group, except, event string, payload any) int {
	frame, err := Encode(event, payload)
	if err != nil {
		h.logger.Error("encode frame", "event", event, "group", g.String(), "error", err)
		return 0
	}
	h.mu.RLock()
	targets := make([]string, 0, len(h.groups[g]))
	for connID := range h.groups[g] {
		if connID != except {
			targets = append(targets, connID)
		}
	}
	h.mu.RUnlock()
	observability.BroadcastsTotal.WithLabelValues(g.Kind()).Inc()
	return h.deliver(targets, frame)
}

// Unicast delivers event to the mailbox of actorID.
func (h *Hub) Unicast(actorID, event string, payload any) int {
	if actorID == "" {
		return 0
	}
	return h.Broadcast(ActorGroup(actorID), event, payload)
}

// BroadcastAll sends event to every registered connection.
func (h *Hub) BroadcastAll(event string, payload any) int {
	frame, err := Encode(event, payload)
	if err != nil {
		h.logger.Error("encode frame", "event", event, "error", err)
		return 0
	}
	h.mu.RLock()
	targets := make([]string, 0, len(h.conns))
	for connID := range h.conns {
		targets = append(targets, connID)
	}
	h.mu.RUnlock()
	observability.BroadcastsTotal.WithLabelValues("all").Inc()
	return h.deliver(targets, frame)
}

// Send replies to a single connection.
func (h *Hub) Send(connID, event string, payload any) bool {
	frame, err := Encode(event, payload)
	if err != nil {
		h.logger.Error("encode frame", "event", event, "conn_id", connID, "error", err)
		return false
	}
	return h.deliver([]string{connID}, frame) == 1
}

func (h *Hub) deliver(targets []string, frame []byte) int {
	var slow []string
	sent := 0
	h.mu.RLock()
	for _, connID := range targets {
		s, ok := h.conns[connID]
		if !ok {
			continue
		}
		if s.sink.Send(frame) {
			sent++
		} else {
			slow = append(slow, connID)
		}
	}
	h.mu.RUnlock()
	for _, connID := range slow {
		h.drop(connID)
	}
	return sent
}

func (h *Hub) drop(connID string) {
	h.mu.RLock()
	s, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.logger.Warn("dropping slow connection", "conn_id", connID, "actor_id", s.actorID)
	observability.SinksDropped.Inc()
	h.Unregister(connID)
	s.sink.Close()
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// GroupSize returns the number of connections in g.
func (h *Hub) GroupSize(g Group) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[g])
}
