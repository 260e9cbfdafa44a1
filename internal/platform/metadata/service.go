package metadata

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetValue 读取指定键的值，键不存在时返回空字符串
func GetValue(db *gorm.DB, key string) (string, error) {
	var meta Metadata
	err := db.Where(&Metadata{Key: key}).First(&meta).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return meta.Value, nil
}

// SetValue 以 upsert 的方式写入键值
func SetValue(db *gorm.DB, key, value string) error {
	meta := Metadata{Key: key, Value: value}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&meta).Error
}

func getTime(db *gorm.DB, key string) (*time.Time, error) {
	raw, err := GetValue(db, key)
	if err != nil || raw == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("无法解析元数据 '%s' 的值: %w", key, err)
	}
	return &t, nil
}

func setTime(db *gorm.DB, key string, t time.Time) error {
	return SetValue(db, key, t.UTC().Format(time.RFC3339))
}

// GetResetCount 读取累计重置次数
func GetResetCount(db *gorm.DB) (int64, error) {
	raw, err := GetValue(db, ResetCountKey)
	if err != nil || raw == "" {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("无法解析元数据 '%s' 的值: %w", ResetCountKey, err)
	}
	return n, nil
}

// RecordReset 在重置事务内累加重置次数并记录时间，db 应为事务句柄
func RecordReset(db *gorm.DB, at time.Time) error {
	n, err := GetResetCount(db)
	if err != nil {
		return err
	}
	if err := SetValue(db, ResetCountKey, strconv.FormatInt(n+1, 10)); err != nil {
		return err
	}
	return setTime(db, LastResetAtKey, at)
}

// RecordRebuild 记录最近一次重算时间
func RecordRebuild(db *gorm.DB, at time.Time) error {
	return setTime(db, LastRebuildAtKey, at)
}

// GetAudit 汇总排行榜维护元数据
func GetAudit(db *gorm.DB) (*Audit, error) {
	count, err := GetResetCount(db)
	if err != nil {
		return nil, err
	}
	lastReset, err := getTime(db, LastResetAtKey)
	if err != nil {
		return nil, err
	}
	lastRebuild, err := getTime(db, LastRebuildAtKey)
	if err != nil {
		return nil, err
	}
	return &Audit{ResetCount: count, LastResetAt: lastReset, LastRebuildAt: lastRebuild}, nil
}
