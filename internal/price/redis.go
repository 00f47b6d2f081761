package price

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "price:usd:"

// SharedTier is a cross-process price cache consulted after the local cache.
type SharedTier interface {
	Get(ctx context.Context, symbol string) (float64, error)
	Set(ctx context.Context, symbol string, price float64, ttl time.Duration) error
}

// RedisTier stores prices in Redis with a TTL so several instances share
// one upstream budget.
type RedisTier struct {
	client *redis.Client
}

// NewRedisTier wraps an existing client.
func NewRedisTier(client *redis.Client) *RedisTier {
	return &RedisTier{client: client}
}

// NewRedisTierFromURL parses a redis:// URL, falling back to treating the
// value as a bare host:port.
func NewRedisTierFromURL(url string) *RedisTier {
	opt, err := redis.ParseURL(url)
	if err != nil {
		opt = &redis.Options{Addr: url}
	}
	return &RedisTier{client: redis.NewClient(opt)}
}

// Get returns redis.Nil when the symbol is not cached.
func (r *RedisTier) Get(ctx context.Context, symbol string) (float64, error) {
	val, err := r.client.Get(ctx, redisKey(symbol)).Result()
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(val, 64)
}

func (r *RedisTier) Set(ctx context.Context, symbol string, price float64, ttl time.Duration) error {
	return r.client.Set(ctx, redisKey(symbol), strconv.FormatFloat(price, 'f', -1, 64), ttl).Err()
}

// Ping checks connectivity at startup.
func (r *RedisTier) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisTier) Close() error {
	return r.client.Close()
}

func redisKey(symbol string) string {
	return redisKeyPrefix + strings.ToUpper(symbol)
}
