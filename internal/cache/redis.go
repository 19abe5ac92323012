package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rcabanilla/labreserve/config"
)

// FleetSnapshot is the cached input of the status projection. It stores raw
// facts (occupancy, session end) and never derived countdowns, so remaining
// time is always computed at read time.
type FleetSnapshot struct {
	TakenAt   time.Time          `json:"taken_at"`
	Resources []ResourceSnapshot `json:"resources"`
}

type ResourceSnapshot struct {
	ResourceID   int64      `json:"resource_id"`
	Name         string     `json:"name"`
	Occupancy    string     `json:"occupancy"`
	Reachability string     `json:"reachability"`
	Condition    string     `json:"condition"`
	SessionEnd   *time.Time `json:"session_end,omitempty"`
}

type RedisCache struct {
	client   *redis.Client
	fleetTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig, fleetTTL time.Duration) *RedisCache {
	return &RedisCache{
		client:   redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		fleetTTL: fleetTTL,
	}
}

// AcquireRequesterLock takes a short-lived exclusive hold on the requester
// identity so two concurrent acquire calls from the same person cannot both
// reach the database.
func (c *RedisCache) AcquireRequesterLock(ctx context.Context, requesterID int64, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, requesterLockKey(requesterID), "locked", ttl).Result()
}

func (c *RedisCache) ReleaseRequesterLock(ctx context.Context, requesterID int64) error {
	return c.client.Del(ctx, requesterLockKey(requesterID)).Err()
}

func (c *RedisCache) GetFleetSnapshot(ctx context.Context) (*FleetSnapshot, error) {
	data, err := c.client.Get(ctx, fleetKey()).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var snapshot FleetSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (c *RedisCache) SetFleetSnapshot(ctx context.Context, snapshot *FleetSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, fleetKey(), payload, c.fleetTTL).Err()
}

func fleetKey() string {
	return "cache:fleet"
}

func requesterLockKey(requesterID int64) string {
	return fmt.Sprintf("lock:requester:%d", requesterID)
}
