package vote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SlpAus/mcbattle-ranking-backend/internal/mc"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/database"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/metrics"
	"github.com/SlpAus/mcbattle-ranking-backend/pkg/logger"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	// RankingGenerationKey 是排行榜缓存的代数计数器，每次写入后自增
	RankingGenerationKey = "ranking:generation"
	// RankingPageKeyPrefix 是分页缓存键的前缀
	RankingPageKeyPrefix = "ranking:page:"

	defaultPageTTL     = 5 * time.Minute
	defaultLoadTimeout = 10 * time.Second
)

// RedisHealth 报告Redis当前是否可用
type RedisHealth interface {
	IsRedisHealthy() bool
}

// cachedPage 是缓存中的一页排行，不含任何与查看者相关的字段
type cachedPage struct {
	Items      []mc.MC `json:"items"`
	TotalCount int64   `json:"totalCount"`
}

type pageLoader func(ctx context.Context) (*cachedPage, error)

// RankingCache 在Redis中缓存排行榜分页。
// 键中带有代数，写入只需自增代数即可让所有旧页失效，旧页随TTL过期。
// nil *RankingCache 表示不启用缓存。
type RankingCache struct {
	rdb     *redis.Client
	health  RedisHealth
	ttl     time.Duration
	metrics *metrics.Manager
	log     logger.Logger
	group   singleflight.Group

	// loadTimeout 限制合并后的单次数据库查询
	loadTimeout time.Duration
}

// NewRankingCache 创建排行榜缓存；rdb 为 nil 时返回 nil
func NewRankingCache(rdb *redis.Client, health RedisHealth, ttl time.Duration, m *metrics.Manager, log logger.Logger) *RankingCache {
	if rdb == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultPageTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RankingCache{rdb: rdb, health: health, ttl: ttl, metrics: m, log: log, loadTimeout: defaultLoadTimeout}
}

func (c *RankingCache) usable() bool {
	return c != nil && (c.health == nil || c.health.IsRedisHealthy())
}

func (c *RankingCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.rdb.Get(ctx, RankingGenerationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func pageKey(gen int64, key mc.SortKey, page, size int) string {
	return fmt.Sprintf("%s%d:%s:%d:%d", RankingPageKeyPrefix, gen, key, page, size)
}

// Fetch 读取一页排行。相同参数且同一代数下的并发未命中只会查询一次数据库；
// 任何Redis错误都退化为直接读库。
func (c *RankingCache) Fetch(ctx context.Context, key mc.SortKey, page, size int, loader pageLoader) (*cachedPage, error) {
	if c == nil {
		return loader(ctx)
	}
	if !c.usable() {
		c.metrics.ObserveCache(metrics.CacheBypass)
		return loader(ctx)
	}

	gen, err := c.generation(ctx)
	if err != nil {
		c.metrics.ObserveCache(metrics.CacheError)
		c.log.Warn(ctx, "读取排行榜缓存代数失败，直接查询数据库", logger.Error(err))
		return loader(ctx)
	}
	k := pageKey(gen, key, page, size)

	raw, err := c.rdb.Get(ctx, k).Bytes()
	switch {
	case err == nil:
		var p cachedPage
		if jsonErr := json.Unmarshal(raw, &p); jsonErr == nil {
			c.metrics.ObserveCache(metrics.CacheHit)
			return &p, nil
		}
	case !errors.Is(err, redis.Nil):
		c.metrics.ObserveCache(metrics.CacheError)
		c.log.Warn(ctx, "读取排行榜缓存失败", logger.String("key", k), logger.Error(err))
		return loader(ctx)
	}

	c.metrics.ObserveCache(metrics.CacheMiss)
	// 页数据写入读取时的代数下；期间发生的写入会自增代数，不会被旧数据覆盖
	return c.coalesce(ctx, k, func(ctx context.Context) (*cachedPage, error) {
		p, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(p); err == nil {
			if err := c.rdb.Set(ctx, k, data, c.ttl).Err(); err != nil {
				c.log.Warn(ctx, "写入排行榜缓存失败", logger.String("key", k), logger.Error(err))
			}
		}
		return p, nil
	})
}

// coalesce 合并同一键上的并发加载。
// 加载在脱离调用方取消的上下文中执行，任一调用方放弃等待不会影响其他调用方。
func (c *RankingCache) coalesce(ctx context.Context, key string, fn func(ctx context.Context) (*cachedPage, error)) (*cachedPage, error) {
	timeout := c.loadTimeout
	if timeout <= 0 {
		timeout = defaultLoadTimeout
	}
	ch := c.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return fn(loadCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*cachedPage), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate 让所有已缓存的分页失效
func (c *RankingCache) Invalidate(ctx context.Context) error {
	if !c.usable() {
		return nil
	}
	return c.rdb.Incr(ctx, RankingGenerationKey).Err()
}

// Flush 使缓存失效并立即删除所有分页键，用于Redis重启或恢复之后
func (c *RankingCache) Flush(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.rdb.Incr(ctx, RankingGenerationKey).Err(); err != nil {
		return fmt.Errorf("自增排行榜缓存代数失败: %w", err)
	}
	if err := database.DeleteKeysByPrefix(ctx, c.rdb, RankingPageKeyPrefix); err != nil {
		return fmt.Errorf("删除排行榜分页缓存失败: %w", err)
	}
	return nil
}
