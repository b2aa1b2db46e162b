package geo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Positions is the last known position of each connected driver.
type Positions interface {
	Upsert(ctx context.Context, p models.DriverPosition) error
	Position(ctx context.Context, driverID string) (models.DriverPosition, bool, error)
}

// Index is the in-process Positions used when Redis is not configured.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.DriverPosition
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.DriverPosition)}
}

func (g *Index) Upsert(_ context.Context, p models.DriverPosition) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.Updated.IsZero() {
		p.Updated = time.Now()
	}
	g.drivers[p.DriverID] = p
	return nil
}

func (g *Index) Position(_ context.Context, driverID string) (models.DriverPosition, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.drivers[driverID]
	return p, ok, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
