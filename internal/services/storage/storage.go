package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/meme-tgbot-go/internal/config"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "meme_bot:"

// Storage is a string key/value store
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Manager manages different storage backends
type Manager struct {
	storage     Storage
	logger      *logrus.Logger
	redisClient *redis.Client
}

// NewManager creates a new storage manager
func NewManager(cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	manager := &Manager{
		logger: logger,
	}

	switch cfg.Storage.Type {
	case "redis":
		redisStorage, err := NewRedisStorage(cfg, logger)
		if err != nil {
			return nil, err
		}
		manager.storage = redisStorage
		manager.redisClient = redisStorage.client
	case "memory":
		manager.storage = NewMemoryStorage(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	logger.WithField("type", cfg.Storage.Type).Info("Storage initialized")
	return manager, nil
}

// NewManagerWithStorage wraps an existing backend
func NewManagerWithStorage(storage Storage, logger *logrus.Logger) *Manager {
	return &Manager{storage: storage, logger: logger}
}

func (m *Manager) Get(ctx context.Context, key string) (string, bool, error) {
	return m.storage.Get(ctx, keyPrefix+key)
}

func (m *Manager) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return m.storage.Set(ctx, keyPrefix+key, value, ttl)
}

func (m *Manager) Delete(ctx context.Context, key string) error {
	return m.storage.Delete(ctx, keyPrefix+key)
}

// GetJSON decodes the value stored at key into out. It reports false when the key is absent.
func (m *Manager) GetJSON(ctx context.Context, key string, out any) (bool, error) {
	data, found, err := m.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v at key without expiration
func (m *Manager) SetJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.Set(ctx, key, string(data), 0)
}

// GetRedisClient returns the Redis client if available
func (m *Manager) GetRedisClient() *redis.Client {
	return m.redisClient
}

// Close releases the backend
func (m *Manager) Close() error {
	return m.storage.Close()
}

// RedisStorage implements storage using Redis
type RedisStorage struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisStorage(cfg *config.Config, logger *logrus.Logger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStorage{
		client: client,
		logger: logger,
	}, nil
}

func (r *RedisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *RedisStorage) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}

// MemoryStorage implements storage using in-memory cache
type MemoryStorage struct {
	values *cache.Cache
	logger *logrus.Logger
}

func NewMemoryStorage(cfg *config.Config, logger *logrus.Logger) *MemoryStorage {
	return &MemoryStorage{
		values: cache.New(cache.NoExpiration, cfg.Storage.Memory.CleanupInterval),
		logger: logger,
	}
}

func (m *MemoryStorage) Get(ctx context.Context, key string) (string, bool, error) {
	if val, found := m.values.Get(key); found {
		return val.(string), true, nil
	}
	return "", false, nil
}

func (m *MemoryStorage) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	m.values.Set(key, value, ttl)
	return nil
}

func (m *MemoryStorage) Delete(ctx context.Context, key string) error {
	m.values.Delete(key)
	return nil
}

func (m *MemoryStorage) Close() error {
	m.values.Flush()
	return nil
}
