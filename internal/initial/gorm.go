package initial

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"QuizGazer/internal/config"
	"QuizGazer/internal/modules/knowledge/domain/kb"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewGormDB 按配置打开元数据库并迁移知识库表。
// 默认 sqlite 单文件，部署到共享环境时切换 mysql。
func NewGormDB(conf *config.Config) (*gorm.DB, error) {
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(conf.DatabaseConfig.Driver)) {
	case "", "sqlite":
		path := conf.DatabaseConfig.SqlitePath
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create database dir %s: %w", dir, err)
			}
		}
		dialector = sqlite.Open(path + "?_busy_timeout=5000&_journal_mode=WAL")
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			conf.DatabaseConfig.User,
			conf.DatabaseConfig.Password,
			conf.DatabaseConfig.Host,
			conf.DatabaseConfig.Port,
			conf.DatabaseConfig.DatabaseName,
		)
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", conf.DatabaseConfig.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("open metadata database: %w", err)
	}
	if err := db.AutoMigrate(&kb.Collection{}, &kb.Document{}); err != nil {
		return nil, fmt.Errorf("migrate metadata database: %w", err)
	}
	return db, nil
}
