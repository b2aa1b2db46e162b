package gateway

import (
	"context"
	"fmt"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/chat"
	"github.com/example/ride-dispatch/internal/fault"
	"github.com/example/ride-dispatch/internal/hub"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

var (
	errRideDenied   = fault.New(fault.Unauthorized, "User not authorized for this ride", "")
	errThreadDenied = fault.New(fault.Unauthorized, "User not authorized for this chat thread", "")
)

type rideRef struct {
	RideID string `json:"rideId"`
}

func (g *Gateway) joinRide(ctx context.Context, c call) error {
	var in rideRef
	if err := decode(c, &in); err != nil {
		return err
	}
	if err := required("Ride ID", in.RideID); err != nil {
		return err
	}
	if !g.gate.IsMember(ctx, in.RideID, c.actorID) {
		return errRideDenied
	}
	grp := hub.RideGroup(in.RideID)
	if err := g.hub.Join(c.connID, grp); err != nil {
		return err
	}
	g.hub.Send(c.connID, "joined_ride", map[string]any{"rideId": in.RideID, "message": "Successfully joined ride chat"})
	g.hub.BroadcastExcept(grp, c.connID, EventUserJoinedRide, map[string]any{
		"userId":    c.actorID,
		"rideId":    in.RideID,
		"timestamp": g.now(),
	})
	return nil
}

func (g *Gateway) leaveRide(_ context.Context, c call) error {
	var in rideRef
	if err := decode(c, &in); err != nil {
		return err
	}
	if err := required("Ride ID", in.RideID); err != nil {
		return err
	}
	grp := hub.RideGroup(in.RideID)
	g.hub.Leave(c.connID, grp)
	g.hub.Send(c.connID, "left_ride", map[string]any{"rideId": in.RideID, "message": "Successfully left ride chat"})
	g.hub.Broadcast(grp, EventUserLeftRide, map[string]any{
		"userId":    c.actorID,
		"rideId":    in.RideID,
		"timestamp": g.now(),
	})
	return nil
}

// sendMessage is the ride-room chat of the original protocol. The message
// goes through the ride conversation and is echoed to the ride room.
func (g *Gateway) sendMessage(ctx context.Context, c call) error {
	var in chat.MessageInput
	if err := decode(c, &in); err != nil {
		return err
	}
	msg, err := g.chat.SendRideMessage(ctx, c.actorID, in)
	if err != nil {
		return err
	}
	g.hub.Broadcast(hub.RideGroup(in.RideID), EventNewMessage, msg)
	return nil
}

type locationIn struct {
	RideID    string   `json:"rideId"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`
	Speed     float64  `json:"speed"`
}

func (g *Gateway) updateLocation(ctx context.Context, c call) error {
	var in locationIn
	if err := decode(c, &in); err != nil {
		return err
	}
	if err := required("Ride ID", in.RideID); err != nil {
		return err
	}
	if in.Latitude == nil || in.Longitude == nil {
		return fault.New(fault.Validation, "Latitude and longitude are required", "")
	}
	if *in.Latitude < -90 || *in.Latitude > 90 || *in.Longitude < -180 || *in.Longitude > 180 {
		return fault.New(fault.Validation, "Coordinates out of range", "")
	}
	if !g.gate.IsMember(ctx, in.RideID, c.actorID) {
		return errRideDenied
	}

	sample := models.LocationSample{
		UserID:    c.actorID,
		RideID:    in.RideID,
		Latitude:  *in.Latitude,
		Longitude: *in.Longitude,
		Accuracy:  in.Accuracy,
		Speed:     in.Speed,
		Timestamp: g.now(),
	}
	if err := g.store.UpsertLocation(ctx, sample); err != nil {
		return fmt.Errorf("save location: %w", err)
	}
	observability.LocationsTotal.Inc()

	if g.gate.RoleInRide(ctx, in.RideID, c.actorID) == models.RoleDriver {
		g.trackDriver(ctx, sample)
	}
	g.hub.BroadcastExcept(hub.RideGroup(in.RideID), c.connID, EventLocationUpdated, sample)
	return nil
}

// trackDriver feeds the position index and the location stream. Both are
// best effort; the sample is already stored.
func (g *Gateway) trackDriver(ctx context.Context, s models.LocationSample) {
	if g.drivers != nil {
		pos := models.DriverPosition{DriverID: s.UserID, Loc: models.Coordinate{Latitude: s.Latitude, Longitude: s.Longitude}, Updated: s.Timestamp}
		if err := g.drivers.Upsert(ctx, pos); err != nil {
			g.logger.Warn("driver position update failed", "actor_id", s.UserID, "error", err)
		}
	}
	if g.locations != nil {
		if err := g.locations.PublishLocation(ctx, s); err != nil {
			g.logger.Warn("publish location failed", "actor_id", s.UserID, "ride_id", s.RideID, "error", err)
		}
	}
}

type driverConnectIn struct {
	DriverID        string             `json:"driverId"`
	CurrentLocation *models.Coordinate `json:"currentLocation"`
	Status          string             `json:"status"`
}

// driverConnect puts the connection in the driver pool and in one pool per
// category of the driver's active vehicles.
func (g *Gateway) driverConnect(ctx context.Context, c call) error {
	var in driverConnectIn
	if err := decode(c, &in); err != nil {
		return err
	}
	if in.DriverID == "" {
		return fault.New(fault.Validation, "Driver ID is required", "")
	}
	if in.DriverID != c.actorID && !auth.IsGuest(c.actorID) {
		return fault.New(fault.Unauthorized, "Driver ID does not match the authenticated user", "")
	}

	// vehicles first: a failed load must leave the connection in no pool
	vehicles, err := g.store.Vehicles(ctx, in.DriverID)
	if err != nil {
		return fmt.Errorf("load vehicles: %w", err)
	}
	var categories []string
	for _, v := range vehicles {
		if cat := hub.NormalizeCategory(v.Category); cat != "" {
			categories = append(categories, cat)
		}
	}
	if err := g.hub.Join(c.connID, hub.DriversGroup()); err != nil {
		return err
	}
	for _, cat := range categories {
		if err := g.hub.Join(c.connID, hub.DriverCategoryGroup(cat)); err != nil {
			return err
		}
	}

	if in.CurrentLocation != nil && g.drivers != nil {
		pos := models.DriverPosition{DriverID: in.DriverID, Loc: *in.CurrentLocation, Updated: g.now()}
		if err := g.drivers.Upsert(ctx, pos); err != nil {
			g.logger.Warn("seed driver position failed", "actor_id", in.DriverID, "error", err)
		}
	}

	g.mu.Lock()
	if _, seen := g.driverConns[c.connID]; !seen {
		g.driverConns[c.connID] = struct{}{}
		observability.DriversOnline.Inc()
	}
	g.mu.Unlock()

	g.hub.Send(c.connID, EventDriverConnected, map[string]any{
		"message":    "Successfully connected as driver",
		"driverId":   in.DriverID,
		"categories": categories,
		"timestamp":  g.now(),
	})
	g.logger.Info("driver connected", "conn_id", c.connID, "actor_id", c.actorID, "categories", categories)
	return nil
}

type rideRequestRef struct {
	RideRequestID string `json:"rideRequestId"`
}

// joinRideRequest has no membership check: requests are not persisted, so
// there is nothing to check against.
func (g *Gateway) joinRideRequest(_ context.Context, c call) error {
	var in rideRequestRef
	if err := decode(c, &in); err != nil {
		return err
	}
	if err := required("Ride request ID", in.RideRequestID); err != nil {
		return err
	}
	if err := g.hub.Join(c.connID, hub.RideRequestGroup(in.RideRequestID)); err != nil {
		return err
	}
	g.hub.Send(c.connID, "joined_ride_request", map[string]any{"rideRequestId": in.RideRequestID, "message": "Successfully joined ride request"})
	return nil
}

func (g *Gateway) leaveRideRequest(_ context.Context, c call) error {
	var in rideRequestRef
	if err := decode(c, &in); err != nil {
		return err
	}
	if err := required("Ride request ID", in.RideRequestID); err != nil {
		return err
	}
	g.hub.Leave(c.connID, hub.RideRequestGroup(in.RideRequestID))
	g.hub.Send(c.connID, "left_ride_request", map[string]any{"rideRequestId": in.RideRequestID, "message": "Successfully left ride request"})
	return nil
}

type threadRef struct {
	ThreadID string `json:"threadId"`
}

func (g *Gateway) joinChatThread(ctx context.Context, c call) error {
	var in threadRef
	if err := decode(c, &in); err != nil {
		return err
	}
	if err := required("Thread ID", in.ThreadID); err != nil {
		return err
	}
	if g.gate.RoleInThread(ctx, in.ThreadID, c.actorID) == models.RoleNone {
		return errThreadDenied
	}
	if err := g.hub.Join(c.connID, hub.ChatThreadGroup(in.ThreadID)); err != nil {
		return err
	}
	g.hub.Send(c.connID, "joined_chat_thread", map[string]any{"threadId": in.ThreadID, "message": "Successfully joined chat thread"})
	return nil
}

func (g *Gateway) leaveChatThread(_ context.Context, c call) error {
	var in threadRef
	if err := decode(c, &in); err != nil {
		return err
	}
	if err := required("Thread ID", in.ThreadID); err != nil {
		return err
	}
	g.hub.Leave(c.connID, hub.ChatThreadGroup(in.ThreadID))
	g.hub.Send(c.connID, "left_chat_thread", map[string]any{"threadId": in.ThreadID, "message": "Successfully left chat thread"})
	return nil
}

func (g *Gateway) sendChatMessage(ctx context.Context, c call) error {
	var in chat.MessageInput
	if err := decode(c, &in); err != nil {
		return err
	}
	_, err := g.chat.SendThreadMessage(ctx, c.actorID, in)
	return err
}

type readIn struct {
	ThreadID   string   `json:"threadId"`
	RideID     string   `json:"rideId"`
	MessageIDs []string `json:"messageIds"`
}

func (g *Gateway) markMessagesRead(ctx context.Context, c call) error {
	var in readIn
	if err := decode(c, &in); err != nil {
		return err
	}
	rc, err := g.chat.MarkRead(ctx, models.ThreadHandoff, in.ThreadID, c.actorID, in.MessageIDs)
	if err != nil {
		return err
	}
	g.hub.BroadcastExcept(hub.ChatThreadGroup(in.ThreadID), c.connID, chat.EventMessagesRead, rc)
	return nil
}

func (g *Gateway) markRideMessagesRead(ctx context.Context, c call) error {
	var in readIn
	if err := decode(c, &in); err != nil {
		return err
	}
	rc, err := g.chat.MarkRead(ctx, models.ThreadRide, in.RideID, c.actorID, in.MessageIDs)
	if err != nil {
		return err
	}
	g.hub.BroadcastExcept(hub.RideChatGroup(in.RideID), c.connID, chat.EventMessagesRead, rc)
	return nil
}

func (g *Gateway) joinRideChat(ctx context.Context, c call) error {
	var in rideRef
	if err := decode(c, &in); err != nil {
		return err
	}
	if err := required("Ride ID", in.RideID); err != nil {
		return err
	}
	if !g.gate.IsMember(ctx, in.RideID, c.actorID) {
		return errRideDenied
	}
	if err := g.hub.Join(c.connID, hub.RideChatGroup(in.RideID)); err != nil {
		return err
	}
	g.hub.Send(c.connID, "joined_ride_chat", map[string]any{"rideId": in.RideID, "message": "Successfully joined ride chat"})
	return nil
}

func (g *Gateway) leaveRideChat(_ context.Context, c call) error {
	var in rideRef
	if err := decode(c, &in); err != nil {
		return err
	}
	if err := required("Ride ID", in.RideID); err != nil {
		return err
	}
	g.hub.Leave(c.connID, hub.RideChatGroup(in.RideID))
	g.hub.Send(c.connID, "left_ride_chat", map[string]any{"rideId": in.RideID, "message": "Successfully left ride chat"})
	return nil
}

func (g *Gateway) sendRideMessage(ctx context.Context, c call) error {
	var in chat.MessageInput
	if err := decode(c, &in); err != nil {
		return err
	}
	_, err := g.chat.SendRideMessage(ctx, c.actorID, in)
	return err
}
