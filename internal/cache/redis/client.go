package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/civic-sage/backend/internal/metrics"
	"github.com/civic-sage/backend/pkg/logger"
)

// ErrLeaseHeld is returned when another worker holds the named lease.
var ErrLeaseHeld = errors.New("lease held by another worker")

// releaseScript deletes the lease key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

// Wrap reuses an existing connection pool.
func Wrap(client *redis.Client) *Client {
	return &Client{client: client}
}

// Raw exposes the pool so record stores can share it.
func (c *Client) Raw() *redis.Client {
	return c.client
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.client.Close()
}

// SetJSON stores v under key. A zero ttl keeps the value forever.
func (c *Client) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}

	logger.Debug("Value cached", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

// GetJSON loads key into v. cacheType labels the hit/miss metrics.
func (c *Client) GetJSON(ctx context.Context, cacheType, key string, v any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheMisses.WithLabelValues(cacheType).Inc()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}

	metrics.CacheHits.WithLabelValues(cacheType).Inc()
	return true, nil
}

func (c *Client) SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	return c.SetJSON(ctx, "embedding:"+textHash, embedding, ttl)
}

func (c *Client) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	var embedding []float32
	ok, err := c.GetJSON(ctx, "embedding", "embedding:"+textHash, &embedding)
	if err != nil || !ok {
		return nil, false, err
	}
	return embedding, true, nil
}

// AcquireLease takes the named lease for ttl. It returns a token to pass to
// ReleaseLease, or ErrLeaseHeld.
func (c *Client) AcquireLease(ctx context.Context, name string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, "lease:"+name, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}
	if !ok {
		return "", ErrLeaseHeld
	}
	logger.Debug("Lease acquired", zap.String("lease", name), zap.Duration("ttl", ttl))
	return token, nil
}

func (c *Client) ReleaseLease(ctx context.Context, name, token string) error {
	if err := releaseScript.Run(ctx, c.client, []string{"lease:" + name}, token).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", name, err)
	}
	return nil
}
