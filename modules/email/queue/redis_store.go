package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"

	"github.com/thenasky/mail-delivery/modules/email/models"
)

const (
	redisKeyPrefix = "scheduled_email:"
	redisIndexKey  = "scheduled_emails"
)

// RedisStore keeps each row as a JSON value plus a set indexing every id
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates the store. namespace is prepended to every key.
func NewRedisStore(client redis.UniversalClient, namespace string) *RedisStore {
	return &RedisStore{client: client, prefix: namespace}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + redisKeyPrefix + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix + redisIndexKey
}

func (s *RedisStore) Upsert(ctx context.Context, rec *models.ScheduledEmailRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode scheduled email %s: %w", rec.ID, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(rec.ID), data, 0)
		pipe.SAdd(ctx, s.indexKey(), rec.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert scheduled email %s: %w", rec.ID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(id))
		pipe.SRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete scheduled email %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) LoadActive(ctx context.Context) ([]*models.ScheduledEmailRecord, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled emails: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduled emails: %w", err)
	}

	var out []*models.ScheduledEmailRecord
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// dangling index entry
			s.client.SRem(ctx, s.indexKey(), ids[i])
			continue
		}
		var rec models.ScheduledEmailRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode scheduled email %s: %w", ids[i], err)
		}
		if isActive(rec.Status) {
			out = append(out, &rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Truncate drops every row; used by tests
func (s *RedisStore) Truncate(ctx context.Context) error {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
