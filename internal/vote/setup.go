package vote

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate 迁移 votes 表，包括 (mc_id, voter_id) 唯一索引
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Vote{}); err != nil {
		return fmt.Errorf("无法迁移vote表: %w", err)
	}
	return nil
}
