package mc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound      = errors.New("找不到该MC")
	ErrDuplicateName = errors.New("同名MC已存在")
	ErrInvalidName   = errors.New("MC名称不能为空且不能超过100个字符")
)

const maxNameLength = 100

// Create 新建一个MC，initial 通常是零投票时的聚合结果
func Create(ctx context.Context, db *gorm.DB, name string, initial Aggregate) (*MC, error) {
	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > maxNameLength {
		return nil, ErrInvalidName
	}
	m := MC{Name: name, Aggregate: initial}
	if err := db.WithContext(ctx).Create(&m).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("无法创建MC %q: %w", name, err)
	}
	return &m, nil
}

// FindByID 按ID读取MC
func FindByID(ctx context.Context, db *gorm.DB, id uint) (*MC, error) {
	var m MC
	if err := db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// LockByID 在事务中以 FOR UPDATE 锁定MC行，tx 必须是事务句柄。
// SQLite 不支持行锁，会忽略该子句；此时依赖单连接串行化写事务。
func LockByID(tx *gorm.DB, id uint) (*MC, error) {
	var m MC
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&m, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ListPage 按排序维度降序、ID升序返回一页MC，以及MC总数
func ListPage(ctx context.Context, db *gorm.DB, key SortKey, offset, limit int) ([]MC, int64, error) {
	col := key.Column()
	if col == "" {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownSortKey, key)
	}

	var total int64
	if err := db.WithContext(ctx).Model(&MC{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	mcs := make([]MC, 0, limit)
	if int64(offset) >= total {
		return mcs, total, nil
	}
	err := db.WithContext(ctx).
		Order(clause.OrderByColumn{Column: clause.Column{Name: col}, Desc: true}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}}).
		Offset(offset).
		Limit(limit).
		Find(&mcs).Error
	if err != nil {
		return nil, 0, err
	}
	return mcs, total, nil
}

// ListIDs 返回全部MC的ID，按ID升序
func ListIDs(ctx context.Context, db *gorm.DB) ([]uint, error) {
	var ids []uint
	err := db.WithContext(ctx).Model(&MC{}).Order("id asc").Pluck("id", &ids).Error
	return ids, err
}

// SaveAggregate 整体覆盖某个MC的全部聚合列
func SaveAggregate(tx *gorm.DB, id uint, agg Aggregate) error {
	res := tx.Model(&MC{ID: id}).Select(aggregateColumns).Updates(MC{Aggregate: agg})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetAggregates 把所有MC的聚合列覆盖为 agg
func ResetAggregates(tx *gorm.DB, agg Aggregate) (int64, error) {
	// GORM 默认不允许没有 WHERE 条件的全局更新，这里需要显式开启
	res := tx.Model(&MC{}).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Select(aggregateColumns).
		Updates(MC{Aggregate: agg})
	return res.RowsAffected, res.Error
}

// LockAll 锁定全部MC行并返回其ID，用于整表重置前排除并发投票
func LockAll(tx *gorm.DB) ([]uint, error) {
	var ids []uint
	err := tx.Model(&MC{}).Clauses(clause.Locking{Strength: "UPDATE"}).Order("id asc").Pluck("id", &ids).Error
	return ids, err
}
