package rides

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/example/ride-dispatch/internal/access"
	"github.com/example/ride-dispatch/internal/fault"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/hub"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// Live events emitted by the lifecycle.
const (
	EventNewRideRequest      = "new_ride_request"
	EventDriverBidReceived   = "driver_bid_received"
	EventBidAccepted         = "bid_accepted"
	EventDriverReachedPickup = "driver_reached_pickup"
	EventRideStarted         = "ride_started"
	EventRideCompleted       = "ride_completed"
	EventRideCancelled       = "ride_cancelled"
	EventRideUpdated         = "ride_updated"
)

// Store is the persistence the lifecycle needs.
type Store interface {
	storage.RideStore
	storage.Directory
	storage.ClaimStore
}

// Rooms is the fan-out side of the hub.
type Rooms interface {
	Broadcast(g hub.Group, event string, payload any) int
	BroadcastAll(event string, payload any) int
}

type Notifier interface {
	Notify(ctx context.Context, n models.Notification) (models.Notification, bool)
}

// RideChat writes the system messages of a ride conversation.
type RideChat interface {
	SystemRideMessage(ctx context.Context, rideID, senderID, body string) (*models.Message, error)
}

// EventSink receives every applied lifecycle step.
type EventSink interface {
	PublishRideEvent(ctx context.Context, e models.RideEvent) error
}

// Estimator turns two coordinates into minutes of travel.
type Estimator interface {
	Minutes(from, to models.Coordinate) float64
}

type Deps struct {
	Store    Store
	Rooms    Rooms
	Notifier Notifier
	Chat     RideChat
	Events   EventSink     // optional
	Drivers  geo.Positions // optional, used to fill bid ETAs
	ETA      Estimator     // optional
	Logger   *slog.Logger
}

// Service runs the request, bid and acceptance protocol and moves rides
// through their lifecycle. Every write is conditional on the status it
// read, so two racing triggers cannot both apply.
type Service struct {
	store    Store
	rooms    Rooms
	notifier Notifier
	chat     RideChat
	events   EventSink
	drivers  geo.Positions
	eta      Estimator
	logger   *slog.Logger

	now       func() time.Time
	newRideID func() string
}

func New(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     d.Store,
		rooms:     d.Rooms,
		notifier:  d.Notifier,
		chat:      d.Chat,
		events:    d.Events,
		drivers:   d.Drivers,
		eta:       d.ETA,
		logger:    logger,
		now:       time.Now,
		newRideID: func() string { return primitive.NewObjectID().Hex() },
	}
}

// loadRide validates the identifier and loads the ride.
func (s *Service) loadRide(ctx context.Context, rideID string) (*models.Ride, error) {
	if !access.ValidRideID(rideID) {
		return nil, errInvalidRideID
	}
	r, err := s.store.GetRide(ctx, rideID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errRideNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load ride %s: %w", rideID, err)
	}
	return r, nil
}

// loadForDriver loads the ride and the driver's profile and checks the
// caller is the assigned driver.
func (s *Service) loadForDriver(ctx context.Context, rideID, driverID string) (*models.Ride, *models.Profile, error) {
	driver, err := s.profile(ctx, driverID)
	if err != nil {
		return nil, nil, err
	}
	if driver == nil {
		return nil, nil, errDriverNotFound
	}
	r, err := s.loadRide(ctx, rideID)
	if err != nil {
		return nil, nil, err
	}
	if r.DriverID != driverID {
		return nil, nil, errNotAssignedDriver
	}
	return r, driver, nil
}

// profile returns nil without error when the user does not exist.
func (s *Service) profile(ctx context.Context, id string) (*models.Profile, error) {
	if id == "" {
		return nil, nil
	}
	p, err := s.store.Profile(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", id, err)
	}
	return p, nil
}

// optionalProfile is profile for lookups that only decorate a payload.
func (s *Service) optionalProfile(ctx context.Context, id string) *models.Profile {
	p, err := s.profile(ctx, id)
	if err != nil {
		s.logger.Warn("profile lookup failed", "user_id", id, "error", err)
	}
	return p
}

// apply writes r if the stored status still equals expected. A status
// change must be an edge of the ride graph.
func (s *Service) apply(ctx context.Context, r *models.Ride, expected models.RideStatus, trigger, actorID string) error {
	if r.Status != expected && !models.CanTransition(expected, r.Status) {
		s.logger.Warn("illegal ride transition", "ride_id", r.ID, "trigger", trigger, "from", string(expected), "to", string(r.Status))
		return errIllegalTransition
	}
	r.UpdatedAt = s.now()
	if err := s.store.UpdateRide(ctx, r, expected); err != nil {
		switch {
		case errors.Is(err, storage.ErrConflict):
			s.logger.Warn("conditional ride update lost", "ride_id", r.ID, "trigger", trigger, "expected", string(expected))
			return errConcurrentUpdate
		case errors.Is(err, storage.ErrNotFound):
			return errRideNotFound
		}
		return fmt.Errorf("update ride %s: %w", r.ID, err)
	}
	s.publish(ctx, r, trigger, actorID)
	return nil
}

func (s *Service) publish(ctx context.Context, r *models.Ride, trigger, actorID string) {
	if s.events == nil {
		return
	}
	e := models.RideEvent{RideID: r.ID, Type: trigger, ActorID: actorID, Status: r.Status, Timestamp: r.UpdatedAt}
	if err := s.events.PublishRideEvent(ctx, e); err != nil {
		s.logger.Error("publish ride event", "ride_id", r.ID, "type", trigger, "error", err)
	}
}

func (s *Service) notify(ctx context.Context, n models.Notification) {
	n.CreatedAt = s.now()
	s.notifier.Notify(ctx, n)
}

// systemMessage drops a lifecycle line into the ride conversation.
func (s *Service) systemMessage(ctx context.Context, rideID, senderID, body string) {
	if s.chat == nil {
		return
	}
	if _, err := s.chat.SystemRideMessage(ctx, rideID, senderID, body); err != nil {
		s.logger.Error("system ride message", "ride_id", rideID, "error", err)
	}
}

func outcome(trigger string, err error) {
	switch kind := fault.KindOf(err); {
	case err == nil:
		observability.TriggersTotal.WithLabelValues(trigger, "ok").Inc()
	case kind != "":
		observability.TriggersTotal.WithLabelValues(trigger, string(kind)).Inc()
	default:
		observability.TriggersTotal.WithLabelValues(trigger, "error").Inc()
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
