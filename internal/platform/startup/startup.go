// Package startup 负责应用启动时的数据库迁移与聚合结果初始化。
package startup

import (
	"context"
	"fmt"

	"github.com/SlpAus/mcbattle-ranking-backend/internal/mc"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/metadata"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/vote"
	"github.com/SlpAus/mcbattle-ranking-backend/pkg/logger"
	"gorm.io/gorm"
)

// MigrateAll 迁移全部表，顺序与外键依赖一致
func MigrateAll(db *gorm.DB) error {
	steps := []struct {
		name    string
		migrate func(*gorm.DB) error
	}{
		{"metadata", metadata.Migrate},
		{"mc", mc.Migrate},
		{"vote", vote.Migrate},
	}
	for _, s := range steps {
		if err := s.migrate(db); err != nil {
			return fmt.Errorf("迁移 %s 失败: %w", s.name, err)
		}
	}
	return nil
}

// InitializeApplication 是应用启动时执行的总入口。
// rebuild 为 true 时会从投票表重算全部聚合结果。
func InitializeApplication(ctx context.Context, db *gorm.DB, svc *vote.Service, rebuild bool, log logger.Logger) error {
	log.Info(ctx, "开始应用初始化...")

	if err := MigrateAll(db); err != nil {
		return err
	}
	log.Info(ctx, "数据库表迁移成功")

	if rebuild {
		n, err := svc.Rebuild(ctx)
		if err != nil {
			return fmt.Errorf("启动时重算聚合结果失败: %w", err)
		}
		log.Info(ctx, "启动时重算聚合结果完成", logger.Int("mcs", n))
	}

	log.Info(ctx, "应用初始化完成")
	return nil
}

// HandleRedisRecovery 在Redis重启或从故障中恢复后清空排行榜缓存
func HandleRedisRecovery(cache *vote.RankingCache, log logger.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		log.Info(ctx, "检测到Redis已恢复，正在清空排行榜缓存...")
		if err := cache.Flush(ctx); err != nil {
			return err
		}
		log.Info(ctx, "排行榜缓存已清空")
		return nil
	}
}
