package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClaims implements ClaimStore with SET NX, so the first acceptance of
// a ride request wins across every process sharing the Redis instance.
type RedisClaims struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisClaims(client *redis.Client, ttl time.Duration) *RedisClaims {
	return &RedisClaims{client: client, ttl: ttl}
}

func (r *RedisClaims) Claim(ctx context.Context, rideRequestID, rideID string) (bool, error) {
	return r.client.SetNX(ctx, claimKey(rideRequestID), rideID, r.ttl).Result()
}

func (r *RedisClaims) Release(ctx context.Context, rideRequestID string) error {
	return r.client.Del(ctx, claimKey(rideRequestID)).Err()
}

func claimKey(id string) string { return "ride-request:claim:" + id }

// ClaimingStore overrides the claim operations of a Store.
type ClaimingStore struct {
	Store
	Claims ClaimStore
}

func (c ClaimingStore) Claim(ctx context.Context, rideRequestID, rideID string) (bool, error) {
	return c.Claims.Claim(ctx, rideRequestID, rideID)
}

func (c ClaimingStore) Release(ctx context.Context, rideRequestID string) error {
	return c.Claims.Release(ctx, rideRequestID)
}
