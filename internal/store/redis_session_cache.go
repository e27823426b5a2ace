package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/clarus/internal/metrics"
	"github.com/hitoshi/clarus/internal/model"
)

// redisKeyPrefix は他のアプリケーションとキー空間を分けるための接頭辞。
const redisKeyPrefix = "clarus:"

// RedisSessionCache はRedisに有効期限付きで保持する SessionCache。
// Redisが利用できない場合は未設定として振る舞う。
type RedisSessionCache struct {
	rdb     *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewRedisSessionCache はRedisSessionCacheを生成する。ttl が0の場合は期限なし。
func NewRedisSessionCache(rdb *redis.Client, ttl time.Duration, logger *slog.Logger, m metrics.MetricsCollector) *RedisSessionCache {
	if m == nil {
		m = metrics.NopCollector{}
	}
	return &RedisSessionCache{rdb: rdb, ttl: ttl, logger: logger, metrics: m}
}

func redisCurrentKey(scope string) string {
	return redisKeyPrefix + CurrentAnalysisKey(scope)
}

// Get は表示中の分析を返す。
func (c *RedisSessionCache) Get(ctx context.Context, scope string) *model.Analysis {
	val, err := c.rdb.Get(ctx, redisCurrentKey(scope)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		c.degraded("cache_get", err)
		return nil
	}

	var a model.Analysis
	if err := json.Unmarshal([]byte(val), &a); err != nil {
		c.degraded("cache_get", err)
		return nil
	}
	return &a
}

// Set は表示中の分析を置き換える。
func (c *RedisSessionCache) Set(ctx context.Context, scope string, a model.Analysis) {
	b, err := json.Marshal(a)
	if err != nil {
		c.degraded("cache_set", err)
		return
	}
	if err := c.rdb.Set(ctx, redisCurrentKey(scope), b, c.ttl).Err(); err != nil {
		c.degraded("cache_set", err)
	}
}

// Clear は表示中の分析を破棄する。
func (c *RedisSessionCache) Clear(ctx context.Context, scope string) {
	if err := c.rdb.Del(ctx, redisCurrentKey(scope)).Err(); err != nil {
		c.degraded("cache_clear", err)
	}
}

// Activate は scope 以外の表示中の分析キーをSCANで列挙して削除する。
func (c *RedisSessionCache) Activate(ctx context.Context, scope string) {
	keep := redisCurrentKey(scope)
	iter := c.rdb.Scan(ctx, 0, redisKeyPrefix+currentAnalysisPrefix+"*", 100).Iterator()

	var stale []string
	for iter.Next(ctx) {
		if key := iter.Val(); key != keep {
			stale = append(stale, key)
		}
	}
	if err := iter.Err(); err != nil {
		c.degraded("cache_activate", err)
		return
	}
	if len(stale) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, stale...).Err(); err != nil {
		c.degraded("cache_activate", err)
	}
}

func (c *RedisSessionCache) degraded(op string, err error) {
	c.metrics.RecordStoreError(op)
	c.logger.Error("session cache degraded",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

var _ SessionCache = (*RedisSessionCache)(nil)
