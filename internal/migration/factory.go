package migration

import (
	"fmt"

	appconfig "github.com/BaSui01/webstarter/config"
)

// NewMigratorFromConfig 从应用配置创建迁移器,方言由 DATABASE_URL 推断。
func NewMigratorFromConfig(cfg *appconfig.Config) (*Migrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	return NewMigrator(Config{
		DatabaseType: DetectDatabaseType(cfg.DatabaseURL),
		DatabaseURL:  cfg.DatabaseURL,
	})
}

// NewMigratorFromURL 从显式方言与连接串创建迁移器
func NewMigratorFromURL(dbType, dbURL string) (*Migrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}

	return NewMigrator(Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
	})
}
