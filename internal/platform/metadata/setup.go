package metadata

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate 迁移 metadata 表
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Metadata{}); err != nil {
		return fmt.Errorf("无法迁移metadata表: %w", err)
	}
	return nil
}
