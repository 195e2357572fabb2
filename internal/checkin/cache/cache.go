package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-checkin/internal/models"
)

const (
	statsKeyPrefix = "checkin_stats:"
	packKeyPrefix  = "offline_pack:"
)

// Cache keeps dashboard stats and offline packs in Redis for a short TTL so
// a wall of gate terminals polling the dashboard doesn't hammer the store.
// The ledger itself never reads through this cache.
type Cache struct {
	Client   *redis.Client
	StatsTTL time.Duration
	PackTTL  time.Duration
}

func NewCache(client *redis.Client, statsTTL, packTTL time.Duration) *Cache {
	return &Cache{
		Client:   client,
		StatsTTL: statsTTL,
		PackTTL:  packTTL,
	}
}

// GetStats returns cached stats for an event, or nil on a miss.
func (c *Cache) GetStats(ctx context.Context, eventID string) (*models.CheckinStats, error) {
	raw, err := c.Client.Get(ctx, statsKeyPrefix+eventID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stats cache: %w", err)
	}

	var stats models.CheckinStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached stats: %w", err)
	}
	return &stats, nil
}

func (c *Cache) SetStats(ctx context.Context, eventID string, stats *models.CheckinStats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, statsKeyPrefix+eventID, raw, c.StatsTTL).Err()
}

// Invalidate drops the cached stats after a check-in or undo so the next
// dashboard read sees fresh counts.
func (c *Cache) Invalidate(ctx context.Context, eventID string) error {
	return c.Client.Del(ctx, statsKeyPrefix+eventID, packKeyPrefix+eventID).Err()
}

// GetPack returns a cached offline pack for an event, or nil on a miss.
func (c *Cache) GetPack(ctx context.Context, eventID string) (*models.OfflinePack, error) {
	raw, err := c.Client.Get(ctx, packKeyPrefix+eventID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pack cache: %w", err)
	}

	var pack models.OfflinePack
	if err := json.Unmarshal([]byte(raw), &pack); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached pack: %w", err)
	}
	return &pack, nil
}

func (c *Cache) SetPack(ctx context.Context, eventID string, pack *models.OfflinePack) error {
	raw, err := json.Marshal(pack)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, packKeyPrefix+eventID, raw, c.PackTTL).Err()
}
