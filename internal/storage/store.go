package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when a conditional write lost against a
	// concurrent one (status moved, identity mismatch, duplicate key).
	ErrConflict = errors.New("storage: conflict")
)

// RideStore persists rides. UpdateRide only applies when the stored status
// still equals expected and the driver/passenger identifiers are unchanged.
type RideStore interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	UpdateRide(ctx context.Context, r *models.Ride, expected models.RideStatus) error
}

type ThreadStore interface {
	CreateThread(ctx context.Context, t *models.Thread) error
	GetThread(ctx context.Context, id string) (*models.Thread, error)
	ThreadByRideRequest(ctx context.Context, rideRequestID string) (*models.Thread, error)
	ThreadsFor(ctx context.Context, actorID string, role models.Role) ([]models.Thread, error)
	// RecordMessage stores the last-message summary and increments the
	// unread counter of the party opposite to senderRole.
	RecordMessage(ctx context.Context, threadID, senderID string, senderRole models.Role, body string, at time.Time) error
	ResetUnread(ctx context.Context, threadID string, role models.Role) error
	CloseThread(ctx context.Context, id string) error
}

type MessageStore interface {
	CreateMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	// MarkRead flags the given messages of a thread as read, skipping the
	// ones authored by readerID. It returns how many were flipped.
	MarkRead(ctx context.Context, threadID string, ids []string, readerID string, at time.Time) (int, error)
	SoftDelete(ctx context.Context, id, senderID string, at time.Time) error
	ListMessages(ctx context.Context, threadID string, offset, limit int) ([]models.Message, int, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	Undelivered(ctx context.Context, recipientID string, limit int) ([]models.Notification, error)
}

type LocationStore interface {
	UpsertLocation(ctx context.Context, s models.LocationSample) error
	Locations(ctx context.Context, rideID string) ([]models.LocationSample, error)
}

// Directory reads user and vehicle records owned by other services.
type Directory interface {
	Profile(ctx context.Context, id string) (*models.Profile, error)
	Vehicles(ctx context.Context, userID string) ([]models.Vehicle, error)
}

// ClaimStore records which ride fulfilled a ride request. Claim succeeds
// for exactly one caller per request identifier.
type ClaimStore interface {
	Claim(ctx context.Context, rideRequestID, rideID string) (bool, error)
	Release(ctx context.Context, rideRequestID string) error
}

// Store bundles everything the dispatch core persists.
type Store interface {
	RideStore
	ThreadStore
	MessageStore
	NotificationStore
	LocationStore
	Directory
	ClaimStore
}
