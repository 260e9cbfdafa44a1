package vote

import (
	"context"
	"fmt"

	"github.com/SlpAus/mcbattle-ranking-backend/pkg/lifecycle"
	"github.com/SlpAus/mcbattle-ranking-backend/pkg/logger"
	"github.com/robfig/cron/v3"
)

// RebuildScheduler 按 cron 表达式定期重算全部聚合结果
type RebuildScheduler struct {
	cron    *cron.Cron
	service *Service
	log     logger.Logger
	ctx     context.Context
}

// NewRebuildScheduler 解析标准五段式 cron 表达式
func NewRebuildScheduler(spec string, service *Service, log logger.Logger) (*RebuildScheduler, error) {
	if log == nil {
		log = logger.Nop()
	}
	s := &RebuildScheduler{
		cron:    cron.New(),
		service: service,
		log:     log,
		ctx:     context.Background(),
	}
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return nil, fmt.Errorf("无效的重算计划 '%s': %w", spec, err)
	}
	return s, nil
}

func (s *RebuildScheduler) runOnce() {
	n, err := s.service.Rebuild(s.ctx)
	if err != nil {
		s.log.Warn(s.ctx, "定时重算未完成", logger.Int("rebuilt", n), logger.Error(err))
	}
}

// Run 启动调度器，收到停机信号后等待正在执行的任务结束
func (s *RebuildScheduler) Run(h *lifecycle.Handle) {
	s.ctx = h.Ctx()
	s.cron.Start()
	s.log.Info(h.Ctx(), "定时重算已启动")

	<-h.Done()
	<-s.cron.Stop().Done()
	s.log.Info(context.Background(), "定时重算已退出")
}
