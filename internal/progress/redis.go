package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "likechat"
	maxTxRetries     = 16
)

// Keys builds the Redis keys used by the progress store.
type Keys struct {
	prefix string
}

// NewKeys creates key helpers under prefix ("likechat" when empty).
func NewKeys(prefix string) Keys {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return Keys{prefix: prefix}
}

// Progress is the hash holding one JSON field per user.
func (k Keys) Progress() string {
	return k.prefix + ":progress"
}

// Revision is the per-user counter watched by optimistic transactions.
func (k Keys) Revision(userID int64) string {
	return fmt.Sprintf("%s:progress:rev:%d", k.prefix, userID)
}

// RedisBackend stores records in one hash. Writes for a user watch that
// user's revision key only, so users never contend with each other.
type RedisBackend struct {
	client *redis.Client
	keys   Keys
}

// NewRedisBackend creates a backend on client.
func NewRedisBackend(client *redis.Client, keys Keys) *RedisBackend {
	return &RedisBackend{client: client, keys: keys}
}

// Update implements Backend.
func (b *RedisBackend) Update(
	ctx context.Context,
	userID int64,
	init domain.UserProgress,
	fn func(p *domain.UserProgress) bool,
) (domain.UserProgress, error) {
	field := strconv.FormatInt(userID, 10)
	revKey := b.keys.Revision(userID)

	var result domain.UserProgress
	txf := func(tx *redis.Tx) error {
		current, found, err := b.read(ctx, tx, field)
		if err != nil {
			return err
		}
		if !found {
			current = init
		}

		next := current.Clone()
		changed := fn(&next)
		result = next
		if !changed && found {
			return nil
		}

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode progress: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if changed {
				pipe.HSet(ctx, b.keys.Progress(), field, data)
			} else {
				pipe.HSetNX(ctx, b.keys.Progress(), field, data)
			}
			pipe.Incr(ctx, revKey)
			return nil
		})
		if err != nil && !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("%w: write progress %d: %w", domain.ErrStorageUnavailable, userID, err)
		}
		return err
	}

	for range maxTxRetries {
		err := b.client.Watch(ctx, txf, revKey)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			if errors.Is(err, domain.ErrStorageUnavailable) {
				return domain.UserProgress{}, err
			}
			return domain.UserProgress{}, fmt.Errorf("%w: watch %s: %w", domain.ErrStorageUnavailable, revKey, err)
		}
	}

	return domain.UserProgress{}, fmt.Errorf("%w: too much contention on %s", domain.ErrStorageUnavailable, revKey)
}

func (b *RedisBackend) read(ctx context.Context, tx *redis.Tx, field string) (domain.UserProgress, bool, error) {
	raw, err := tx.HGet(ctx, b.keys.Progress(), field).Result()
	if errors.Is(err, redis.Nil) {
		return domain.UserProgress{}, false, nil
	}
	if err != nil {
		return domain.UserProgress{}, false, fmt.Errorf("%w: read progress %s: %w", domain.ErrStorageUnavailable, field, err)
	}

	var p domain.UserProgress
	if err = json.Unmarshal([]byte(raw), &p); err != nil {
		return domain.UserProgress{}, false, fmt.Errorf("%w: decode progress %s: %w", domain.ErrStorageUnavailable, field, err)
	}
	return p, true, nil
}

// Delete implements Backend.
func (b *RedisBackend) Delete(ctx context.Context, userID int64) error {
	field := strconv.FormatInt(userID, 10)
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, b.keys.Progress(), field)
		pipe.Incr(ctx, b.keys.Revision(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: delete progress %d: %w", domain.ErrStorageUnavailable, userID, err)
	}
	return nil
}
