package vote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/config"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/metrics"
	"github.com/SlpAus/mcbattle-ranking-backend/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// ipVoteKeyPrefix 是Redis中每个IP的有序集合键名前缀
	ipVoteKeyPrefix = "ip_votes:"
	// compensateTimeout 是回滚计数时使用的独立超时，请求上下文此时可能已取消
	compensateTimeout = 2 * time.Second
)

var errRateLimited = errors.New("投票过于频繁，请稍后再试")

// IPLimiter 用Redis有序集合实现按IP的滑动窗口投票计数
type IPLimiter struct {
	rdb     *redis.Client
	health  RedisHealth
	limit   int64
	window  time.Duration
	metrics *metrics.Manager
	log     logger.Logger
	now     func() time.Time
}

// IPVoteCompensator 封装了一次IP计数增加操作的回滚逻辑。
// 在业务流程失败时，通过defer语句执行补偿。
type IPVoteCompensator struct {
	limiter   *IPLimiter
	key       string
	member    string
	committed bool
}

// NewIPLimiter 创建限流器；rdb 为 nil 或未启用时返回 nil，此时中间件直接放行
func NewIPLimiter(rdb *redis.Client, health RedisHealth, cfg config.LimiterConfig, m *metrics.Manager, log logger.Logger) *IPLimiter {
	if rdb == nil || !cfg.Enabled {
		return nil
	}
	if log == nil {
		log = logger.Nop()
	}
	return &IPLimiter{
		rdb:     rdb,
		health:  health,
		limit:   cfg.VotesPerWindow,
		window:  cfg.Window,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// Increment 在Redis中为一个IP原子地记录一次投票，并返回其在窗口内的总投票数。
// 返回的补偿句柄用于在业务流程失败时回滚此次计数；返回error时句柄为nil。
func (l *IPLimiter) Increment(ctx context.Context, ip string, at time.Time) (int64, *IPVoteCompensator, error) {
	if ip == "" {
		return 0, nil, errors.New("投票缺少IP")
	}
	if net.ParseIP(ip) == nil {
		return 0, nil, fmt.Errorf("投票IP无效: %s", ip)
	}

	key := ipVoteKeyPrefix + ip
	minScore := float64(at.Add(-l.window).UnixMicro())
	member := uuid.NewString()

	// 使用Redis事务保证清理、写入和计数的原子性
	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%f", minScore))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMicro()), Member: member})
	// 过期时间比窗口稍长
	pipe.Expire(ctx, key, l.window+time.Hour)
	countCmd := pipe.ZCard(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, nil, fmt.Errorf("执行IP计数事务失败: %w", err)
	}
	count, err := countCmd.Result()
	if err != nil {
		l.rdb.ZRem(ctx, key, member)
		return 0, nil, fmt.Errorf("获取IP计数结果失败: %w", err)
	}
	return count, &IPVoteCompensator{limiter: l, key: key, member: member}, nil
}

// Commit 标记上层业务已成功，阻止后续的回滚
func (c *IPVoteCompensator) Commit() {
	c.committed = true
}

// RollbackUnlessCommitted 在未 Commit 时从有序集合中移除本次投票对应的成员
func (c *IPVoteCompensator) RollbackUnlessCommitted() {
	if c.committed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), compensateTimeout)
	defer cancel()
	if err := c.limiter.rdb.ZRem(ctx, c.key, c.member).Err(); err != nil {
		c.limiter.log.Warn(ctx, "IP投票计数补偿操作失败",
			logger.String("key", c.key), logger.String("member", c.member), logger.Error(err))
	}
}

// Middleware 在投票处理器之前计数；超过上限返回429。
// Redis不可用时放行，投票失败(状态码>=400)时撤销本次计数。
func (l *IPLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || (l.health != nil && !l.health.IsRedisHealthy()) {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		count, comp, err := l.Increment(ctx, c.ClientIP(), l.now())
		if err != nil {
			l.log.Warn(ctx, "IP投票计数失败，本次不限流", logger.String("ip", c.ClientIP()), logger.Error(err))
			c.Next()
			return
		}
		defer comp.RollbackUnlessCommitted()

		if count > l.limit {
			l.metrics.IncRateLimited()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": errRateLimited.Error()})
			return
		}

		c.Next()
		if c.Writer.Status() < http.StatusBadRequest {
			comp.Commit()
		}
	}
}
