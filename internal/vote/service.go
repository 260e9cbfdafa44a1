package vote

import (
	"context"
	"errors"
	"time"

	"github.com/SlpAus/mcbattle-ranking-backend/internal/mc"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/config"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/database"
	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/metrics"
	"github.com/SlpAus/mcbattle-ranking-backend/pkg/logger"
	"gorm.io/gorm"
)

const (
	defaultMinScore    = 1
	defaultMaxScore    = 20
	defaultPageSize    = 20
	defaultMaxPageSize = 100
	defaultVoteTimeout = 15 * time.Second
)

// Service 负责投票写入、排行榜读取以及管理操作
type Service struct {
	db      *gorm.DB
	cache   *RankingCache
	metrics *metrics.Manager
	log     logger.Logger

	prior           Prior
	minScore        int
	maxScore        int
	defaultPageSize int
	maxPageSize     int
	voteTimeout     time.Duration

	now func() time.Time
}

// Option 调整 Service 的配置
type Option func(*Service)

// WithRankingConfig 使用配置文件中的评分与分页参数
func WithRankingConfig(cfg config.RankingConfig) Option {
	return func(s *Service) {
		s.prior = Prior{Mean: cfg.PriorMean, Weight: cfg.PriorWeight}
		s.minScore = cfg.MinScore
		s.maxScore = cfg.MaxScore
		if cfg.DefaultPageSize > 0 {
			s.defaultPageSize = cfg.DefaultPageSize
		}
		if cfg.MaxPageSize > 0 {
			s.maxPageSize = cfg.MaxPageSize
		}
		if cfg.VoteTimeout > 0 {
			s.voteTimeout = cfg.VoteTimeout
		}
	}
}

// WithPrior 覆盖贝叶斯先验
func WithPrior(p Prior) Option {
	return func(s *Service) { s.prior = p }
}

// WithCache 启用排行榜分页缓存
func WithCache(c *RankingCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithMetrics 启用指标
func WithMetrics(m *metrics.Manager) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock 替换时间来源，供测试使用
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService 创建投票服务
func NewService(db *gorm.DB, opts ...Option) *Service {
	s := &Service{
		db:              db,
		log:             logger.Nop(),
		prior:           DefaultPrior(),
		minScore:        defaultMinScore,
		maxScore:        defaultMaxScore,
		defaultPageSize: defaultPageSize,
		maxPageSize:     defaultMaxPageSize,
		voteTimeout:     defaultVoteTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Prior 返回当前使用的先验
func (s *Service) Prior() Prior {
	return s.prior
}

// EmptyAggregate 返回当前先验下的零投票聚合
func (s *Service) EmptyAggregate() mc.Aggregate {
	return EmptyAggregate(s.prior)
}

func (s *Service) validateScores(sc Scores) error {
	fields := []struct {
		name  string
		value int
	}{
		{"rhyme", sc.Rhyme},
		{"vibes", sc.Vibes},
		{"flow", sc.Flow},
		{"dialogue", sc.Dialogue},
		{"musicality", sc.Musicality},
	}
	for _, f := range fields {
		if f.value < s.minScore || f.value > s.maxScore {
			return invalidInput("%s 的评分必须在 %d 到 %d 之间，实际为 %d", f.name, s.minScore, s.maxScore, f.value)
		}
	}
	return nil
}

// --- 投票 ---

// CastVote 为MC记录一张投票，并在同一事务中重算该MC的聚合结果。
// 同一 (MC, 投票者) 的第二张投票返回 ErrAlreadyVoted，且不产生任何写入。
func (s *Service) CastVote(ctx context.Context, mcID uint, voterID string, scores Scores) (*mc.MC, error) {
	start := s.now()
	updated, err := s.castVote(ctx, mcID, voterID, scores)
	s.metrics.ObserveVote(voteOutcome(err), s.now().Sub(start))

	if err != nil {
		if errors.Is(err, ErrStorage) {
			s.log.Error(ctx, "投票写入失败",
				logger.Uint("mc_id", mcID), logger.String("voter_id", voterID), logger.Error(err))
		}
		return nil, err
	}

	if err := s.cache.Invalidate(ctx); err != nil {
		s.log.Warn(ctx, "投票后使排行榜缓存失效失败", logger.Error(err))
	}
	s.log.Debug(ctx, "投票成功", logger.Uint("mc_id", mcID), logger.Int("vote_count", updated.VoteCount))
	return updated, nil
}

func (s *Service) castVote(ctx context.Context, mcID uint, voterID string, scores Scores) (*mc.MC, error) {
	if voterID == "" {
		return nil, ErrUnauthorized
	}
	if err := s.validateScores(scores); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.voteTimeout)
	defer cancel()

	var updated *mc.MC
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. 锁定MC行，同一MC的投票在此处串行
		m, err := mc.LockByID(tx, mcID)
		if err != nil {
			if errors.Is(err, mc.ErrNotFound) {
				return ErrNotFound
			}
			return storageErr("锁定MC", err)
		}

		// 2. 写入投票，由唯一索引拒绝重复投票
		v := newVote(mcID, voterID, scores)
		if err := tx.Create(&v).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return ErrAlreadyVoted
			}
			return storageErr("写入投票", err)
		}

		// 3. 从全部投票重新计算聚合
		agg, err := s.recompute(tx, mcID)
		if err != nil {
			return err
		}
		m.Aggregate = agg
		updated = m
		return nil
	})
	if err != nil {
		var se *StorageError
		if errors.Is(err, ErrAlreadyVoted) || errors.Is(err, ErrNotFound) || errors.As(err, &se) {
			return nil, err
		}
		// 提交失败或事务超时
		return nil, storageErr("提交投票事务", err)
	}
	return updated, nil
}

// recompute 读取MC的全部投票，计算并整体写回聚合列
func (s *Service) recompute(tx *gorm.DB, mcID uint) (mc.Aggregate, error) {
	var votes []Vote
	if err := tx.Where("mc_id = ?", mcID).Find(&votes).Error; err != nil {
		return mc.Aggregate{}, storageErr("读取投票", err)
	}
	scores := make([]Scores, len(votes))
	for i, v := range votes {
		scores[i] = v.Scores()
	}
	agg := Aggregate(scores, s.prior)
	if err := mc.SaveAggregate(tx, mcID, agg); err != nil {
		return mc.Aggregate{}, storageErr("保存聚合结果", err)
	}
	return agg, nil
}

func voteOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.VoteOutcomeAccepted
	case errors.Is(err, ErrAlreadyVoted):
		return metrics.VoteOutcomeAlreadyVoted
	case errors.Is(err, ErrInvalidInput):
		return metrics.VoteOutcomeInvalid
	case errors.Is(err, ErrNotFound):
		return metrics.VoteOutcomeNotFound
	case errors.Is(err, ErrUnauthorized):
		return metrics.VoteOutcomeUnauthorized
	default:
		return metrics.VoteOutcomeStorageError
	}
}

// MyVote 返回投票者为某个MC投出的那一票
func (s *Service) MyVote(ctx context.Context, mcID uint, voterID string) (*Vote, error) {
	if voterID == "" {
		return nil, ErrUnauthorized
	}
	var v Vote
	err := s.db.WithContext(ctx).Where("mc_id = ? AND voter_id = ?", mcID, voterID).First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageErr("读取投票", err)
	}
	return &v, nil
}
