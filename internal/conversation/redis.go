package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "vaani:conv:"
	redisIndexKey  = "vaani:convs"
	// DefaultRedisTTL bounds how long an idle conversation survives.
	DefaultRedisTTL = 30 * 24 * time.Hour

	maxTxRetries = 5
)

// RedisStore keeps each conversation as one JSON document and a sorted set
// of ids scored by update time.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore parses a redis:// URL and verifies the server responds.
func NewRedisStore(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStoreFromClient(client, ttl), nil
}

func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *RedisStore) Create(ctx context.Context, title string) (Conversation, error) {
	c := newConversation(title, s.now())
	val, err := json.Marshal(c)
	if err != nil {
		return Conversation{}, err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(c.ID), val, s.ttl)
		pipe.ZAdd(ctx, redisIndexKey, redis.Z{Score: score(c.UpdatedAt), Member: c.ID})
		return nil
	})
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	if err := s.prune(ctx); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

// prune drops everything past the newest MaxConversations entries.
func (s *RedisStore) prune(ctx context.Context) error {
	stale, err := s.client.ZRevRange(ctx, redisIndexKey, MaxConversations, -1).Result()
	if err != nil {
		return fmt.Errorf("prune conversations: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}
	keys := make([]string, 0, len(stale))
	members := make([]any, 0, len(stale))
	for _, id := range stale {
		keys = append(keys, s.key(id))
		members = append(members, id)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, redisIndexKey, members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("prune conversations: %w", err)
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, get func(ctx context.Context, key string) *redis.StringCmd, id string) (Conversation, error) {
	val, err := get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	var c Conversation
	if err := json.Unmarshal(val, &c); err != nil {
		return Conversation{}, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return c, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Conversation, error) {
	c, err := s.load(ctx, s.client.Get, id)
	if err != nil {
		return Conversation{}, err
	}
	_ = s.client.Expire(ctx, s.key(id), s.ttl).Err()
	return c, nil
}

func (s *RedisStore) List(ctx context.Context) ([]Conversation, error) {
	ids, err := s.client.ZRevRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	out := make([]Conversation, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	var expired []any
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var c Conversation
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("decode conversation %s: %w", ids[i], err)
		}
		c.Messages = nil
		out = append(out, c)
	}
	if len(expired) > 0 {
		_ = s.client.ZRem(ctx, redisIndexKey, expired...).Err()
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	var deleted *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, s.key(id))
		pipe.ZRem(ctx, redisIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if deleted.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// update applies mutate under WATCH and retries when another writer wins.
func (s *RedisStore) update(ctx context.Context, id string, mutate func(c *Conversation) bool) error {
	key := s.key(id)
	txf := func(tx *redis.Tx) error {
		c, err := s.load(ctx, tx.Get, id)
		if err != nil {
			return err
		}
		if !mutate(&c) {
			return nil
		}
		val, err := json.Marshal(c)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, val, s.ttl)
			pipe.ZAdd(ctx, redisIndexKey, redis.Z{Score: score(c.UpdatedAt), Member: id})
			return nil
		})
		return err
	}
	for range maxTxRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update conversation %s: %w", id, redis.TxFailedErr)
}

func (s *RedisStore) AppendMessage(ctx context.Context, id string, msg Message) (Message, error) {
	var stored Message
	err := s.update(ctx, id, func(c *Conversation) bool {
		stored = appendTo(c, msg, s.now())
		return true
	})
	if err != nil {
		return Message{}, err
	}
	return stored, nil
}

func (s *RedisStore) UpdateLastAssistantMessage(ctx context.Context, id, content string) error {
	return s.update(ctx, id, func(c *Conversation) bool {
		return updateLastAssistant(c, content, s.now())
	})
}

func (s *RedisStore) Recent(ctx context.Context, id string, limit int) ([]Message, error) {
	c, err := s.load(ctx, s.client.Get, id)
	if err != nil {
		return nil, err
	}
	return tail(c.Messages, limit), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(id string) string {
	return redisKeyPrefix + id
}

func score(t time.Time) float64 {
	return float64(t.UnixNano())
}
