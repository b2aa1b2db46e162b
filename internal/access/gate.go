package access

import (
	"context"
	"errors"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

// Stores is what the gate reads. Both are owned by other components.
type Stores interface {
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	GetThread(ctx context.Context, id string) (*models.Thread, error)
}

// Gate answers "may this actor act on this ride/thread" for every live or
// triggered action. It never caches: membership is re-read each time.
type Gate struct {
	store  Stores
	logger *slog.Logger

	// AllowMalformedRideIDs lets ride IDs that are not object IDs through
	// without a lookup. Test-only.
	AllowMalformedRideIDs bool
}

func NewGate(store Stores, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{store: store, logger: logger}
}

// ValidRideID reports whether id is a well-formed persistent ride key.
func ValidRideID(id string) bool {
	_, err := primitive.ObjectIDFromHex(id)
	return err == nil
}

// IsMember reports whether actorID is the driver or passenger of rideID.
func (g *Gate) IsMember(ctx context.Context, rideID, actorID string) bool {
	if rideID == "" || actorID == "" {
		return false
	}
	if !ValidRideID(rideID) {
		if g.AllowMalformedRideIDs {
			g.logger.Warn("membership check bypassed for malformed ride id", "ride_id", rideID, "actor_id", actorID)
			return true
		}
		return false
	}
	ride, err := g.store.GetRide(ctx, rideID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			g.logger.Error("ride lookup failed", "ride_id", rideID, "error", err)
		}
		return false
	}
	return ride.IsParticipant(actorID)
}

// RoleInThread returns the role actorID holds in threadID. For ride
// conversations the thread ID is the ride ID and the role comes from the
// ride itself.
func (g *Gate) RoleInThread(ctx context.Context, threadID, actorID string) models.Role {
	if threadID == "" || actorID == "" {
		return models.RoleNone
	}
	t, err := g.store.GetThread(ctx, threadID)
	if err == nil {
		if t.Kind == models.ThreadRide {
			return g.RoleInRide(ctx, t.ID, actorID)
		}
		return t.RoleOf(actorID)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		g.logger.Error("thread lookup failed", "thread_id", threadID, "error", err)
	}
	return models.RoleNone
}

// RoleInRide is RoleInThread for a ride that may not have a conversation yet.
func (g *Gate) RoleInRide(ctx context.Context, rideID, actorID string) models.Role {
	if rideID == "" || actorID == "" || !ValidRideID(rideID) {
		return models.RoleNone
	}
	ride, err := g.store.GetRide(ctx, rideID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			g.logger.Error("ride lookup failed", "ride_id", rideID, "error", err)
		}
		return models.RoleNone
	}
	return ride.RoleOf(actorID)
}
