package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "likechat"
	// maxTxRetries bounds optimistic transaction retries under contention.
	maxTxRetries = 16
)

// Keys builds the Redis keys used by the queue.
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

// Links is the list holding the ordered records.
func (k Keys) Links() string {
	return fmt.Sprintf("%s:%s", k.prefix, "queue:links")
}

// RedisBackend stores the ordered records as JSON elements of one list.
// Updates run as WATCH/MULTI/EXEC transactions on that key, so concurrent
// writers on any number of instances are linearized.
type RedisBackend struct {
	client *redis.Client
	key    string
}

// NewRedisBackend creates a backend on client using keys.
func NewRedisBackend(client *redis.Client, keys Keys) *RedisBackend {
	return &RedisBackend{client: client, key: keys.Links()}
}

// Load reads the whole list.
func (b *RedisBackend) Load(ctx context.Context) ([]domain.LinkRecord, error) {
	raw, err := b.client.LRange(ctx, b.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: lrange %s: %w", domain.ErrStorageUnavailable, b.key, err)
	}
	return decodeRecords(raw)
}

// Update re-reads the list under WATCH, applies fn and rewrites the list in
// one transaction, retrying when another writer got there first.
func (b *RedisBackend) Update(ctx context.Context, fn func([]domain.LinkRecord) ([]domain.LinkRecord, error)) error {
	txf := func(tx *redis.Tx) error {
		raw, err := tx.LRange(ctx, b.key, 0, -1).Result()
		if err != nil {
			return fmt.Errorf("%w: lrange %s: %w", domain.ErrStorageUnavailable, b.key, err)
		}

		current, err := decodeRecords(raw)
		if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		encoded, err := encodeRecords(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, b.key)
			if len(encoded) > 0 {
				pipe.RPush(ctx, b.key, encoded...)
			}
			return nil
		})
		if err != nil && !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("%w: rewrite %s: %w", domain.ErrStorageUnavailable, b.key, err)
		}
		return err
	}

	for range maxTxRetries {
		err := b.client.Watch(ctx, txf, b.key)
		if !errors.Is(err, redis.TxFailedErr) {
			return b.wrapWatchErr(err)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, ctx.Err())
		}
	}

	return fmt.Errorf("%w: too much contention on %s", domain.ErrStorageUnavailable, b.key)
}

// wrapWatchErr marks connection-level WATCH failures as storage errors while
// passing through errors already produced by txf.
func (b *RedisBackend) wrapWatchErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrStorageUnavailable) || !isRedisFailure(err) {
		return err
	}
	return fmt.Errorf("%w: watch %s: %w", domain.ErrStorageUnavailable, b.key, err)
}

// isRedisFailure reports whether err came from the client rather than from
// queue rules (which are always domain sentinels).
func isRedisFailure(err error) bool {
	for _, domainErr := range []error{
		domain.ErrNotFound, domain.ErrQueueFull, domain.ErrInvalidSlot,
		domain.ErrInvalidTarget, domain.ErrInvalidTaskType, domain.ErrAlreadySubmitted,
	} {
		if errors.Is(err, domainErr) {
			return false
		}
	}
	return true
}

func decodeRecords(raw []string) ([]domain.LinkRecord, error) {
	records := make([]domain.LinkRecord, 0, len(raw))
	for _, item := range raw {
		var rec domain.LinkRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("%w: decode queue record: %w", domain.ErrStorageUnavailable, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func encodeRecords(records []domain.LinkRecord) ([]any, error) {
	out := make([]any, 0, len(records))
	for i := range records {
		data, err := json.Marshal(records[i])
		if err != nil {
			return nil, fmt.Errorf("encode queue record: %w", err)
		}
		out = append(out, string(data))
	}
	return out, nil
}
