package health

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/SlpAus/mcbattle-ranking-backend/pkg/lifecycle"
	"github.com/SlpAus/mcbattle-ranking-backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	defaultCheckInterval = 5 * time.Second
	pingTimeout          = 2 * time.Second
)

var runIDPattern = regexp.MustCompile(`run_id:([a-f0-9]+)`)

// RebuildFunc 清空或重建依赖Redis的派生数据
type RebuildFunc func(ctx context.Context) error

// Checker 周期性探测Redis并驱动 Monitor 状态机
type Checker struct {
	rdb      *redis.Client
	monitor  *Monitor
	rebuild  RebuildFunc
	interval time.Duration
	log      logger.Logger
}

// NewChecker 创建健康检查器，rebuild 可以为 nil
func NewChecker(rdb *redis.Client, monitor *Monitor, rebuild RebuildFunc, log logger.Logger) *Checker {
	return &Checker{
		rdb:      rdb,
		monitor:  monitor,
		rebuild:  rebuild,
		interval: defaultCheckInterval,
		log:      log,
	}
}

// getRedisRunID 从 INFO server 中提取 run_id
func (c *Checker) getRedisRunID(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	info, err := c.rdb.Info(ctx, "server").Result()
	if err != nil {
		return "", err
	}
	matches := runIDPattern.FindStringSubmatch(info)
	if len(matches) < 2 {
		return "", errors.New("无法在Redis INFO中找到run_id")
	}
	return matches[1], nil
}

// InitializeRunID 在启动时阻塞获取初始 run_id
func (c *Checker) InitializeRunID(ctx context.Context) error {
	runID, err := c.getRedisRunID(ctx)
	if err != nil {
		return err
	}
	c.monitor.SetInitialRunID(runID)
	c.log.Info(ctx, "获取初始Redis Run ID成功", logger.String("run_id", runID))
	return nil
}

// PerformCheck 执行一次探测，必要时触发重建
func (c *Checker) PerformCheck(ctx context.Context) {
	runID, err := c.getRedisRunID(ctx)
	if !c.monitor.Assess(err == nil, runID) {
		return
	}

	var rebuildErr error
	if c.rebuild != nil {
		rebuildErr = c.rebuild(ctx)
	}
	if rebuildErr != nil {
		c.log.Error(ctx, "健康检查: 缓存重建失败", logger.Error(rebuildErr))
		c.monitor.MarkRebuildComplete(false, "")
		return
	}

	after, err := c.getRedisRunID(ctx)
	if err != nil {
		c.monitor.MarkRebuildComplete(false, "")
		return
	}
	c.monitor.MarkRebuildComplete(true, after)
}

// Run 在后台循环执行健康检查，直到收到停机信号
func (c *Checker) Run(h *lifecycle.Handle) {
	c.log.Info(h.Ctx(), "Redis健康检查器已启动")
	for h.Sleep(c.interval) == nil {
		c.PerformCheck(h.Ctx())
	}
	c.log.Info(context.Background(), "Redis健康检查器已退出")
}
