package prompt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "composer:prompt:"

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Prefix is prepended to agent names (default "composer:prompt:")
	Prefix string `yaml:"prefix"`
}

// RedisStore keeps prompts in one hash per agent with "system" and "user" fields
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.Prefix), nil
}

// NewRedisStoreFromClient creates a store from an existing client
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(agentName string) string {
	return s.prefix + agentName
}

// GetPrompts implements Store
func (s *RedisStore) GetPrompts(ctx context.Context, agentName string) (*Prompts, error) {
	fields, err := s.client.HGetAll(ctx, s.key(agentName)).Result()
	if err != nil {
		return nil, fmt.Errorf("get prompts for %s: %w", agentName, err)
	}
	system, ok := fields["system"]
	if !ok {
		return nil, ErrNotFound
	}
	return &Prompts{System: system, User: fields["user"]}, nil
}

// Put stores prompts for an agent
func (s *RedisStore) Put(ctx context.Context, agentName string, p Prompts) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(agentName))
	values := map[string]any{"system": p.System}
	if p.User != "" {
		values["user"] = p.User
	}
	pipe.HSet(ctx, s.key(agentName), values)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put prompts for %s: %w", agentName, err)
	}
	return nil
}

// Ping checks the Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
