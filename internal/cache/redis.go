package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dialTimeout = 2 * time.Second

// RedisCache — хранилище сериализованных статусов заказов в Redis.
// Ключи имеют вид <service>:<operation>:<key>.
type RedisCache struct {
	client      redis.UniversalClient
	serviceName string
}

// NewRedisCache создаёт клиента; соединение устанавливается лениво.
func NewRedisCache(addr, serviceName string) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: dialTimeout,
	})
	return NewRedisCacheWithClient(client, serviceName)
}

// NewRedisCacheWithClient оборачивает готовый клиент (кластер, sentinel, тесты).
func NewRedisCacheWithClient(client redis.UniversalClient, serviceName string) *RedisCache {
	return &RedisCache{client: client, serviceName: serviceName}
}

// Get возвращает значение и признак попадания; промах не считается ошибкой.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// SetIfAbsent выполняет SET NX: существующее значение не перезаписывается.
func (c *RedisCache) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	stored, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return stored, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// GenerateKey строит ключ с префиксом сервиса.
func (c *RedisCache) GenerateKey(operation, key string) string {
	return fmt.Sprintf("%s:%s:%s", c.serviceName, operation, key)
}

// Ping используется readiness-проверкой.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
