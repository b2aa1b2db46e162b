package geo

import (
	"context"
	"math"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKarachiBlock(t *testing.T) {
	// one hundredth of a degree of latitude is about 1.11 km
	d := Haversine(24.86, 67.01, 24.87, 67.01)
	if math.Abs(d-1112) > 5 {
		t.Fatalf("unexpected distance %f", d)
	}
}

func TestIndexUpsertPosition(t *testing.T) {
	ctx := context.Background()
	g := NewIndex()
	if _, ok, _ := g.Position(ctx, "d1"); ok {
		t.Fatal("empty index should not know d1")
	}
	_ = g.Upsert(ctx, models.DriverPosition{DriverID: "d1", Loc: models.Coordinate{Latitude: 1, Longitude: 2}})
	p, ok, err := g.Position(ctx, "d1")
	if err != nil || !ok || p.Loc.Longitude != 2 || p.Updated.IsZero() {
		t.Fatalf("position = %+v %v %v", p, ok, err)
	}
}
