package geo

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisGeo implements Positions using Redis GEO commands, so every server
// process and the location consumer share one view.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(client *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, p models.DriverPosition) error {
	if p.Updated.IsZero() {
		p.Updated = time.Now()
	}
	// GEOADD for the position, a hash for metadata
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: p.Loc.Longitude, Latitude: p.Loc.Latitude, Name: p.DriverID}).Err(); err != nil {
		return err
	}
	return r.client.HSet(ctx, MetaKey(p.DriverID), map[string]interface{}{"updated": p.Updated.UTC().Format(time.RFC3339)}).Err()
}

func (r *RedisGeo) Position(ctx context.Context, driverID string) (models.DriverPosition, bool, error) {
	res, err := r.client.GeoPos(ctx, r.key, driverID).Result()
	if err != nil {
		return models.DriverPosition{}, false, err
	}
	if len(res) == 0 || res[0] == nil {
		return models.DriverPosition{}, false, nil
	}
	p := models.DriverPosition{DriverID: driverID, Loc: models.Coordinate{Latitude: res[0].Latitude, Longitude: res[0].Longitude}}
	v, err := r.client.HGet(ctx, MetaKey(driverID), "updated").Result()
	switch {
	case err == nil:
		p.Updated, _ = time.Parse(time.RFC3339, v)
	case !errors.Is(err, redis.Nil):
		return p, true, err
	}
	return p, true, nil
}

// MetaKey is the hash holding a driver's position metadata.
func MetaKey(id string) string { return "driver:meta:" + id }
