package metadata

import "time"

// Metadata 定义了存储系统元数据的键值对表结构
type Metadata struct {
	ID        uint   `gorm:"primarykey"`
	Key       string `gorm:"uniqueIndex;not null;type:varchar(255)"`
	Value     string `gorm:"type:varchar(255)"`
	UpdatedAt time.Time
}

// TableName 固定表名
func (Metadata) TableName() string {
	return "metadata"
}

// Audit 汇总了排行榜维护操作的元数据，供管理接口展示
type Audit struct {
	ResetCount    int64      `json:"resetCount"`
	LastResetAt   *time.Time `json:"lastResetAt,omitempty"`
	LastRebuildAt *time.Time `json:"lastRebuildAt,omitempty"`
}
