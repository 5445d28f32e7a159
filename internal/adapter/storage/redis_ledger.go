package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/lmarin/card-trade/internal/core/domain"
)

const ledgerKeyPrefix = "inv:"

// Decrement floors at zero: removing from an empty collection is a silent
// no-op, matching the behavior of the independent add/remove endpoints.
var decrementUnitScript = redis.NewScript(`
local key = KEYS[1]
local field = ARGV[1]

local current = tonumber(redis.call('HGET', key, field)) or 0
if current <= 0 then
	return 0
end

return redis.call('HINCRBY', key, field, -1)
`)

// RedisLedger keeps one hash per user, field per item.
type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func ledgerKey(userID string) string {
	return ledgerKeyPrefix + userID
}

func (r *RedisLedger) Quantity(ctx context.Context, userID, itemID string) (int, error) {
	qty, err := r.client.HGet(ctx, ledgerKey(userID), itemID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read quantity: %w", err)
	}
	return qty, nil
}

func (r *RedisLedger) Increment(ctx context.Context, userID, itemID string) (int, error) {
	qty, err := r.client.HIncrBy(ctx, ledgerKey(userID), itemID, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("increment: %w", err)
	}
	return int(qty), nil
}

func (r *RedisLedger) Decrement(ctx context.Context, userID, itemID string) (int, error) {
	qty, err := decrementUnitScript.Run(ctx, r.client, []string{ledgerKey(userID)}, itemID).Int()
	if err != nil {
		return 0, fmt.Errorf("decrement: %w", err)
	}
	return qty, nil
}

func (r *RedisLedger) Entries(ctx context.Context, userID string) ([]domain.InventoryEntry, error) {
	fields, err := r.client.HGetAll(ctx, ledgerKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	entries := make([]domain.InventoryEntry, 0, len(fields))
	for itemID, raw := range fields {
		qty, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt quantity for %s/%s: %w", userID, itemID, err)
		}
		if qty <= 0 {
			continue
		}
		entries = append(entries, domain.InventoryEntry{UserID: userID, ItemID: itemID, Quantity: qty})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ItemID < entries[j].ItemID })
	return entries, nil
}

// SetQuantity overwrites a counter. Seeding and tests only, not part of the
// ledger contract.
func (r *RedisLedger) SetQuantity(ctx context.Context, userID, itemID string, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("negative quantity %d for %s/%s", quantity, userID, itemID)
	}
	return r.client.HSet(ctx, ledgerKey(userID), itemID, quantity).Err()
}
