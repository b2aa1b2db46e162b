// Package gateway speaks the live protocol: it turns inbound client frames
// into room joins, chat sends and location fan-out, checking membership on
// every action.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/chat"
	"github.com/example/ride-dispatch/internal/fault"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/hub"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

const (
	EventConnected       = "connected"
	EventError           = "error"
	EventUserJoinedRide  = "user_joined_ride"
	EventUserLeftRide    = "user_left_ride"
	EventNewMessage      = "new_message"
	EventLocationUpdated = "location_updated"
	EventDriverConnected = "driver_connected"
)

// Store is the persistence the gateway touches directly.
type Store interface {
	storage.LocationStore
	Vehicles(ctx context.Context, userID string) ([]models.Vehicle, error)
}

type Gate interface {
	IsMember(ctx context.Context, rideID, actorID string) bool
	RoleInThread(ctx context.Context, threadID, actorID string) models.Role
	RoleInRide(ctx context.Context, rideID, actorID string) models.Role
}

// Replayer hands a freshly connected actor the notifications it missed.
type Replayer interface {
	Replay(ctx context.Context, actorID string) int
}

// LocationPublisher forwards driver samples to the location stream.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, s models.LocationSample) error
}

type Deps struct {
	Hub       *hub.Hub
	Gate      Gate
	Chat      *chat.Service
	Store     Store
	Replayer  Replayer          // optional
	Drivers   geo.Positions     // optional
	Locations LocationPublisher // optional
	Logger    *slog.Logger
}

type Gateway struct {
	hub       *hub.Hub
	gate      Gate
	chat      *chat.Service
	store     Store
	replayer  Replayer
	drivers   geo.Positions
	locations LocationPublisher
	logger    *slog.Logger
	now       func() time.Time

	handlers map[string]handler

	mu          sync.Mutex
	driverConns map[string]struct{}
}

// call is one inbound frame bound to its connection.
type call struct {
	connID  string
	actorID string
	data    json.RawMessage
}

type handler func(ctx context.Context, c call) error

func New(d Deps) *Gateway {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		hub:         d.Hub,
		gate:        d.Gate,
		chat:        d.Chat,
		store:       d.Store,
		replayer:    d.Replayer,
		drivers:     d.Drivers,
		locations:   d.Locations,
		logger:      logger,
		now:         time.Now,
		driverConns: make(map[string]struct{}),
	}
	g.handlers = map[string]handler{
		"join_ride":               g.joinRide,
		"leave_ride":              g.leaveRide,
		"send_message":            g.sendMessage,
		"update_location":         g.updateLocation,
		"driver_connect":          g.driverConnect,
		"join_ride_request":       g.joinRideRequest,
		"leave_ride_request":      g.leaveRideRequest,
		"join_chat_thread":        g.joinChatThread,
		"leave_chat_thread":       g.leaveChatThread,
		"send_chat_message":       g.sendChatMessage,
		"mark_messages_read":      g.markMessagesRead,
		"join_ride_chat":          g.joinRideChat,
		"leave_ride_chat":         g.leaveRideChat,
		"send_ride_message":       g.sendRideMessage,
		"mark_ride_messages_read": g.markRideMessagesRead,
	}
	return g
}

// Connect registers an authenticated connection, greets it and replays the
// notifications the actor missed while offline.
func (g *Gateway) Connect(ctx context.Context, connID, actorID string, sink hub.Sink) error {
	if err := g.hub.Register(connID, actorID, sink); err != nil {
		return err
	}
	g.hub.Send(connID, EventConnected, map[string]any{
		"message":   "Connected to ride-hailing server",
		"userId":    actorID,
		"timestamp": g.now(),
	})
	g.logger.Info("client connected", "conn_id", connID, "actor_id", actorID)
	if g.replayer != nil {
		if n := g.replayer.Replay(ctx, actorID); n > 0 {
			g.logger.Info("replayed notifications", "actor_id", actorID, "count", n)
		}
	}
	return nil
}

// Disconnect drops every piece of state held for connID and tells the
// peers of each ride room it was in.
func (g *Gateway) Disconnect(connID string) {
	actorID, left, ok := g.hub.Unregister(connID)
	if !ok {
		return
	}
	g.mu.Lock()
	if _, wasDriver := g.driverConns[connID]; wasDriver {
		delete(g.driverConns, connID)
		observability.DriversOnline.Dec()
	}
	g.mu.Unlock()

	for _, grp := range left {
		if !grp.IsRide() {
			continue
		}
		g.hub.Broadcast(grp, EventUserLeftRide, map[string]any{
			"userId":    actorID,
			"rideId":    grp.ID(),
			"timestamp": g.now(),
		})
	}
	g.logger.Info("client disconnected", "conn_id", connID, "actor_id", actorID, "groups", len(left))
}

// Handle processes one inbound frame. Failures are answered with an error
// event; the connection stays open.
func (g *Gateway) Handle(ctx context.Context, connID string, raw []byte) {
	actorID, ok := g.hub.Resolve(connID)
	if !ok {
		return
	}
	var in struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &in); err != nil || in.Event == "" {
		observability.LiveEventsTotal.WithLabelValues("malformed", "validation").Inc()
		g.fail(connID, "Invalid message format")
		return
	}
	h, ok := g.handlers[in.Event]
	if !ok {
		observability.LiveEventsTotal.WithLabelValues("unknown", "validation").Inc()
		g.fail(connID, "Unknown event: "+in.Event)
		return
	}

	err := h(ctx, call{connID: connID, actorID: actorID, data: in.Data})
	switch f, isFault := fault.As(err); {
	case err == nil:
		observability.LiveEventsTotal.WithLabelValues(in.Event, "ok").Inc()
	case isFault:
		observability.LiveEventsTotal.WithLabelValues(in.Event, string(f.Kind)).Inc()
		g.logger.Warn("live event refused", "event", in.Event, "conn_id", connID, "actor_id", actorID, "reason", f.Message)
		g.fail(connID, f.Message)
	default:
		observability.LiveEventsTotal.WithLabelValues(in.Event, "error").Inc()
		g.logger.Error("live event failed", "event", in.Event, "conn_id", connID, "actor_id", actorID, "error", err)
		g.fail(connID, fmt.Sprintf("Failed to process %s", in.Event))
	}
}

func (g *Gateway) fail(connID, message string) {
	g.hub.Send(connID, EventError, map[string]string{"message": message})
}

func decode(c call, v any) error {
	if len(c.data) == 0 {
		return fault.New(fault.Validation, "Missing event payload", "")
	}
	if err := json.Unmarshal(c.data, v); err != nil {
		return fault.New(fault.Validation, "Invalid event payload", err.Error())
	}
	return nil
}

func required(field, value string) error {
	if value == "" {
		return fault.New(fault.Validation, field+" is required", "")
	}
	return nil
}
