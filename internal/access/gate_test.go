package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

type brokenStore struct{}

func (brokenStore) GetRide(context.Context, string) (*models.Ride, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) GetThread(context.Context, string) (*models.Thread, error) {
	return nil, errors.New("connection refused")
}

func TestIsMember(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	rideID := primitive.NewObjectID().Hex()
	_ = st.CreateRide(ctx, &models.Ride{ID: rideID, DriverID: "d1", PassengerID: "p1", Status: models.StatusAccepted})
	g := NewGate(st, nil)

	for actor, want := range map[string]bool{"d1": true, "p1": true, "x": false, "": false} {
		if got := g.IsMember(ctx, rideID, actor); got != want {
			t.Errorf("IsMember(%q) = %v want %v", actor, got, want)
		}
	}
	if g.IsMember(ctx, primitive.NewObjectID().Hex(), "d1") {
		t.Error("unknown ride must not grant membership")
	}
	if g.IsMember(ctx, "not-an-object-id", "d1") {
		t.Error("malformed ride ids are rejected by default")
	}
	g.AllowMalformedRideIDs = true
	if !g.IsMember(ctx, "not-an-object-id", "d1") {
		t.Error("test flag should let malformed ids through")
	}
}

func TestStoreErrorsDenyAccess(t *testing.T) {
	g := NewGate(brokenStore{}, nil)
	if g.IsMember(context.Background(), primitive.NewObjectID().Hex(), "d1") {
		t.Fatal("store failure must deny")
	}
	if r := g.RoleInThread(context.Background(), "t1", "d1"); r != models.RoleNone {
		t.Fatalf("store failure role = %q", r)
	}
}

func TestRoleInThread(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	now := time.Now()
	_ = st.CreateThread(ctx, &models.Thread{ID: "t1", Kind: models.ThreadHandoff, UserID: "u1", DriverID: "d1", CreatedAt: now})
	rideID := primitive.NewObjectID().Hex()
	_ = st.CreateRide(ctx, &models.Ride{ID: rideID, DriverID: "d2", PassengerID: "u2", Status: models.StatusAccepted})
	_ = st.CreateThread(ctx, &models.Thread{ID: rideID, Kind: models.ThreadRide, UserID: "u2", DriverID: "d2", CreatedAt: now})
	g := NewGate(st, nil)

	cases := []struct {
		thread, actor string
		want          models.Role
	}{
		{"t1", "u1", models.RoleRider},
		{"t1", "d1", models.RoleDriver},
		{"t1", "u2", models.RoleNone},
		{"missing", "u1", models.RoleNone},
		{rideID, "d2", models.RoleDriver},
		{rideID, "u2", models.RoleRider},
		{"t1", "", models.RoleNone},
	}
	for _, c := range cases {
		if got := g.RoleInThread(ctx, c.thread, c.actor); got != c.want {
			t.Errorf("RoleInThread(%s,%s) = %q want %q", c.thread, c.actor, got, c.want)
		}
	}
}
