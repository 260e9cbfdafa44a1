package database

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/SlpAus/mcbattle-ranking-backend/internal/platform/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqliteDefaultPragmas 在未显式指定参数时附加到 SQLite DSN
const sqliteDefaultPragmas = "_busy_timeout=5000&_journal_mode=WAL"

// OpenDB 按配置连接数据库。
// SQLite 默认只保留一个连接：所有写事务因此串行执行，
// 投票事务中的"读全部投票 + 写聚合"不会与并发插入交错。
func OpenDB(cfg config.DatabaseConfig) (*gorm.DB, error) {
	level := logger.Silent
	if cfg.LogQueries {
		level = logger.Info
	}
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var dialector gorm.Dialector
	maxOpen := cfg.MaxOpenConns
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dsn := cfg.DSN
		if !strings.Contains(dsn, "?") {
			dsn += "?" + sqliteDefaultPragmas
		}
		dialector = sqlite.Open(dsn)
		if maxOpen == 0 {
			maxOpen = 1
		}
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger,
		// 把唯一约束冲突等驱动错误翻译为 gorm.ErrDuplicatedKey
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层连接池失败: %w", err)
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	return db, nil
}

// CloseDB 关闭底层连接池
func CloseDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
