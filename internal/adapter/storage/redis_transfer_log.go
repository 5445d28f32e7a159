package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lmarin/card-trade/internal/port"
)

const (
	transferKeyPrefix = "transfer:"
	takeFieldPrefix   = "take:"
	creditFieldPrefix = "credit:"

	// Stale logs expire on their own; a closed transaction never replays
	// them, this only bounds leftovers from a Clear that failed.
	transferLogTTL = 7 * 24 * time.Hour
)

// RedisTransferLog journals per-unit transfer progress in one hash per
// transaction.
type RedisTransferLog struct {
	client *redis.Client
}

func NewRedisTransferLog(client *redis.Client) *RedisTransferLog {
	return &RedisTransferLog{client: client}
}

func transferKey(transactionKey string) string {
	return transferKeyPrefix + transactionKey
}

func (r *RedisTransferLog) Progress(ctx context.Context, transactionKey string) (port.TransferProgress, error) {
	progress := port.TransferProgress{
		Taken:    make(map[string]int),
		Credited: make(map[string]int),
	}

	fields, err := r.client.HGetAll(ctx, transferKey(transactionKey)).Result()
	if err != nil {
		return progress, fmt.Errorf("read transfer log: %w", err)
	}
	for field, raw := range fields {
		count, err := strconv.Atoi(raw)
		if err != nil {
			return progress, fmt.Errorf("corrupt transfer log field %s: %w", field, err)
		}
		switch {
		case strings.HasPrefix(field, takeFieldPrefix):
			progress.Taken[strings.TrimPrefix(field, takeFieldPrefix)] = count
		case strings.HasPrefix(field, creditFieldPrefix):
			progress.Credited[strings.TrimPrefix(field, creditFieldPrefix)] = count
		}
	}
	return progress, nil
}

func (r *RedisTransferLog) RecordTake(ctx context.Context, transactionKey, itemID string) error {
	return r.record(ctx, transactionKey, takeFieldPrefix+itemID)
}

func (r *RedisTransferLog) RecordCredit(ctx context.Context, transactionKey, itemID string) error {
	return r.record(ctx, transactionKey, creditFieldPrefix+itemID)
}

func (r *RedisTransferLog) record(ctx context.Context, transactionKey, field string) error {
	key := transferKey(transactionKey)
	if err := r.client.HIncrBy(ctx, key, field, 1).Err(); err != nil {
		return fmt.Errorf("record transfer unit: %w", err)
	}
	return r.client.Expire(ctx, key, transferLogTTL).Err()
}

func (r *RedisTransferLog) Clear(ctx context.Context, transactionKey string) error {
	return r.client.Del(ctx, transferKey(transactionKey)).Err()
}
