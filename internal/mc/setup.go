package mc

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate 迁移 mcs 表
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&MC{}); err != nil {
		return fmt.Errorf("无法迁移mc表: %w", err)
	}
	return nil
}
