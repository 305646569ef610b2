package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keySession     = "session:"
	keyWalletIndex = "idx:session:wallet:"
	keyAllSessions = "sessions"
)

// RedisConfig holds settings for the Redis-backed session store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	KeyPrefix string `yaml:"key_prefix"`

	// TTL expires idle session records. Zero means no expiration.
	TTL time.Duration `yaml:"ttl"`
}

// RedisStore persists sessions in Redis so they survive daemon
// restarts.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
	}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests.
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) key(parts ...string) string {
	result := s.keyPrefix
	for _, p := range parts {
		result += p
	}
	return result
}

// Put writes the session and its wallet index entry.
func (s *RedisStore) Put(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(keySession, sess.ID), data, s.ttl)
	pipe.Set(ctx, s.key(keyWalletIndex, sess.WalletID), sess.ID, s.ttl)
	pipe.SAdd(ctx, s.key(keyAllSessions), sess.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put session pipeline: %w", err)
	}
	return nil
}

// Get retrieves a session by ID.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, s.key(keySession, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// GetByWallet retrieves the session for a wallet, if any.
func (s *RedisStore) GetByWallet(ctx context.Context, walletID string) (*Session, error) {
	id, err := s.client.Get(ctx, s.key(keyWalletIndex, walletID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet index: %w", err)
	}
	return s.Get(ctx, id)
}

// List returns every stored session. Index entries whose session
// expired are skipped and cleaned up.
func (s *RedisStore) List(ctx context.Context) ([]*Session, error) {
	ids, err := s.client.SMembers(ctx, s.key(keyAllSessions)).Result()
	if err != nil {
		return nil, fmt.Errorf("list session ids: %w", err)
	}

	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			s.client.SRem(ctx, s.key(keyAllSessions), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// Delete removes the session and its index entries.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(keySession, id))
	pipe.Del(ctx, s.key(keyWalletIndex, sess.WalletID))
	pipe.SRem(ctx, s.key(keyAllSessions), id)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session pipeline: %w", err)
	}
	return nil
}

// Close releases the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
