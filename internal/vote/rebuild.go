package vote

import (
	"context"
	"errors"
	"fmt"

	"github.com/SlpAus/mcbattle-ranking-backend/internal/mc"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/metadata"
	"github.com/SlpAus/mcbattle-ranking-backend/pkg/logger"
	"gorm.io/gorm"
)

// ResetResult 汇总一次重置删除和覆盖的行数
type ResetResult struct {
	VotesDeleted int64 `json:"votesDeleted"`
	MCsReset     int64 `json:"mcsReset"`
}

// Reset 删除全部投票，并把每个MC的聚合结果恢复为零投票状态。
// 整个过程在一个事务中完成，要么全部生效要么完全不生效。
func (s *Service) Reset(ctx context.Context) (*ResetResult, error) {
	var result ResetResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 先锁住全部MC行，正在进行的投票提交后才会继续，之后的投票要等重置结束
		if _, err := mc.LockAll(tx); err != nil {
			return fmt.Errorf("锁定MC: %w", err)
		}

		res := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Vote{})
		if res.Error != nil {
			return fmt.Errorf("删除投票: %w", res.Error)
		}
		result.VotesDeleted = res.RowsAffected

		n, err := mc.ResetAggregates(tx, s.EmptyAggregate())
		if err != nil {
			return fmt.Errorf("重置聚合结果: %w", err)
		}
		result.MCsReset = n

		return metadata.RecordReset(tx, s.now())
	})
	if err != nil {
		err = storageErr("重置排行榜", err)
		s.log.Error(ctx, "重置排行榜失败", logger.Error(err))
		return nil, err
	}

	if err := s.cache.Invalidate(ctx); err != nil {
		s.log.Warn(ctx, "重置后使排行榜缓存失效失败", logger.Error(err))
	}
	s.log.Info(ctx, "排行榜已重置",
		logger.Any("votes_deleted", result.VotesDeleted), logger.Any("mcs_reset", result.MCsReset))
	return &result, nil
}

// Rebuild 从投票表重新计算每个MC的聚合结果，返回重算的MC数量。
// 每个MC单独一个事务，并与投票使用同一把行锁。
func (s *Service) Rebuild(ctx context.Context) (int, error) {
	ids, err := mc.ListIDs(ctx, s.db)
	if err != nil {
		err = storageErr("读取MC列表", err)
		s.log.Error(ctx, "重算聚合结果失败", logger.Error(err))
		return 0, err
	}

	rebuilt := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rebuilt, err
		}
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := mc.LockByID(tx, id); err != nil {
				return err
			}
			_, err := s.recompute(tx, id)
			return err
		})
		if errors.Is(err, mc.ErrNotFound) {
			// 重算期间被删除
			continue
		}
		if err != nil {
			err = storageErr(fmt.Sprintf("重算MC %d", id), err)
			s.log.Error(ctx, "重算聚合结果失败", logger.Uint("mc_id", id), logger.Error(err))
			s.metrics.AddRebuilds(rebuilt)
			return rebuilt, err
		}
		rebuilt++
	}
	s.metrics.AddRebuilds(rebuilt)

	if err := metadata.RecordRebuild(s.db.WithContext(ctx), s.now()); err != nil {
		s.log.Warn(ctx, "记录重算时间失败", logger.Error(err))
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.log.Warn(ctx, "重算后使排行榜缓存失效失败", logger.Error(err))
	}
	s.log.Info(ctx, "聚合结果重算完成", logger.Int("mcs", rebuilt))
	return rebuilt, nil
}

// Audit 返回最近一次重置和重算的记录
func (s *Service) Audit(ctx context.Context) (*metadata.Audit, error) {
	a, err := metadata.GetAudit(s.db.WithContext(ctx))
	if err != nil {
		return nil, storageErr("读取审计信息", err)
	}
	return a, nil
}
