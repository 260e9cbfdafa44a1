package vote

import (
	"context"
	"errors"
	"math"

	"github.com/SlpAus/mcbattle-ranking-backend/internal/mc"
	"github.com/SlpAus/mcbattle-ranking-backend/pkg/logger"
)

// RankingQuery 是一次排行榜查询
type RankingQuery struct {
	// SortKey 为空时按总分排序
	SortKey string
	// Page 从1开始，0 视为 1
	Page int
	// PageSize 为 0 时使用默认值，超过上限时截断
	PageSize int
	// ViewerID 为空表示匿名查看，此时所有 HasVoted 都为 false
	ViewerID string
}

// RankingEntry 是排行榜中的一行
type RankingEntry struct {
	mc.MC
	Rank     int  `json:"rank"`
	HasVoted bool `json:"hasVoted"`
}

// RankingPage 是一页排行榜
type RankingPage struct {
	Items      []RankingEntry `json:"items"`
	SortKey    mc.SortKey     `json:"sortKey"`
	Page       int            `json:"page"`
	PageSize   int            `json:"pageSize"`
	TotalCount int64          `json:"totalCount"`
	TotalPages int            `json:"totalPages"`
}

func (s *Service) normalizePaging(page, size int) (int, int, error) {
	if page < 0 {
		return 0, 0, invalidInput("page 不能为负数: %d", page)
	}
	if size < 0 {
		return 0, 0, invalidInput("pageSize 不能为负数: %d", size)
	}
	if page == 0 {
		page = 1
	}
	if size == 0 {
		size = s.defaultPageSize
	}
	if size > s.maxPageSize {
		size = s.maxPageSize
	}
	// 偏移量与排名 offset+size 都必须能用 int 表示
	if page-1 > (math.MaxInt-size)/size {
		return 0, 0, invalidInput("page 超出范围: %d", page)
	}
	return page, size, nil
}

// ListRankings 按指定维度的平滑分数降序返回一页MC，分数相同时按ID升序。
// 只读操作，查看者相关的 HasVoted 不进入缓存。
func (s *Service) ListRankings(ctx context.Context, q RankingQuery) (*RankingPage, error) {
	key, err := mc.ParseSortKey(q.SortKey)
	if err != nil {
		return nil, invalidInput("%v", err)
	}
	page, size, err := s.normalizePaging(q.Page, q.PageSize)
	if err != nil {
		return nil, err
	}
	offset := (page - 1) * size

	slice, err := s.cache.Fetch(ctx, key, page, size, func(ctx context.Context) (*cachedPage, error) {
		mcs, total, err := mc.ListPage(ctx, s.db, key, offset, size)
		if err != nil {
			return nil, storageErr("读取排行榜", err)
		}
		return &cachedPage{Items: mcs, TotalCount: total}, nil
	})
	if err != nil {
		if errors.Is(err, ErrStorage) {
			s.log.Error(ctx, "读取排行榜失败", logger.Error(err))
		}
		return nil, err
	}

	voted, err := s.votedSet(ctx, q.ViewerID, slice.Items)
	if err != nil {
		s.log.Error(ctx, "读取查看者投票状态失败", logger.Error(err))
		return nil, err
	}

	items := make([]RankingEntry, len(slice.Items))
	for i, m := range slice.Items {
		items[i] = RankingEntry{MC: m, Rank: offset + i + 1, HasVoted: voted[m.ID]}
	}

	totalPages := 0
	if slice.TotalCount > 0 {
		totalPages = int((slice.TotalCount + int64(size) - 1) / int64(size))
	}
	return &RankingPage{
		Items:      items,
		SortKey:    key,
		Page:       page,
		PageSize:   size,
		TotalCount: slice.TotalCount,
		TotalPages: totalPages,
	}, nil
}

// votedSet 用一次 IN 查询找出查看者在本页投过票的MC
func (s *Service) votedSet(ctx context.Context, viewerID string, mcs []mc.MC) (map[uint]bool, error) {
	voted := make(map[uint]bool, len(mcs))
	if viewerID == "" || len(mcs) == 0 {
		return voted, nil
	}
	ids := make([]uint, len(mcs))
	for i, m := range mcs {
		ids[i] = m.ID
	}
	var votedIDs []uint
	err := s.db.WithContext(ctx).Model(&Vote{}).
		Where("voter_id = ? AND mc_id IN ?", viewerID, ids).
		Pluck("mc_id", &votedIDs).Error
	if err != nil {
		return nil, storageErr("读取投票状态", err)
	}
	for _, id := range votedIDs {
		voted[id] = true
	}
	return voted, nil
}
