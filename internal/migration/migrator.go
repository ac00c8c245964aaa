package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/jackc/pgx/v5/stdlib" // 注册 "pgx" 驱动
	_ "modernc.org/sqlite"             // 注册 "sqlite" 驱动
)

// =============================================================================
// 🧱 数据库迁移
// =============================================================================

//go:embed migrations/postgres/*.sql
var postgresFS embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteFS embed.FS

// DatabaseType 迁移目标方言
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

// MigrationStatus 单个迁移的执行情况
type MigrationStatus struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// Config 迁移器配置
type Config struct {
	// 数据库方言,决定 sql 驱动与内嵌迁移目录
	DatabaseType DatabaseType

	// 连接串:postgres://… 或 SQLite 文件路径
	DatabaseURL string

	// 迁移版本表名,默认 schema_migrations
	TableName string
}

// dialect 把方言映射到 sql 驱动、migrate 后端与内嵌迁移目录
type dialect struct {
	driverName string
	sourceFS   fs.FS
	sourceDir  string
	backend    func(db *sql.DB, table string) (database.Driver, error)
}

func dialectFor(dbType DatabaseType) (dialect, error) {
	switch dbType {
	case DatabaseTypePostgres:
		return dialect{
			driverName: "pgx",
			sourceFS:   postgresFS,
			sourceDir:  "migrations/postgres",
			backend: func(db *sql.DB, table string) (database.Driver, error) {
				return pgxmigrate.WithInstance(db, &pgxmigrate.Config{MigrationsTable: table})
			},
		}, nil
	case DatabaseTypeSQLite:
		return dialect{
			driverName: "sqlite",
			sourceFS:   sqliteFS,
			sourceDir:  "migrations/sqlite",
			backend: func(db *sql.DB, table string) (database.Driver, error) {
				return sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{MigrationsTable: table})
			},
		}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// Migrator 基于 golang-migrate 与内嵌 SQL 文件执行迁移。
type Migrator struct {
	cfg     Config
	db      *sql.DB
	migrate *migrate.Migrate
}

// NewMigrator 创建迁移器:打开连接、校验连通性、装配方言后端与内嵌迁移源。
func NewMigrator(cfg Config) (*Migrator, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required")
	}
	if cfg.TableName == "" {
		cfg.TableName = "schema_migrations"
	}

	d, err := dialectFor(cfg.DatabaseType)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driverName, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	dbDriver, err := d.backend(db, cfg.TableName)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create migrate backend: %w", err)
	}

	src, err := iofs.New(d.sourceFS, d.sourceDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}

	engine, err := migrate.NewWithInstance("iofs", src, string(cfg.DatabaseType), dbDriver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}

	return &Migrator{cfg: cfg, db: db, migrate: engine}, nil
}

// ignoreNoChange 把“无事可做”视为成功
func ignoreNoChange(err error) error {
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Up 应用全部待执行迁移
func (m *Migrator) Up(ctx context.Context) error {
	if err := ignoreNoChange(m.migrate.Up()); err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Down 回滚最后一次迁移
func (m *Migrator) Down(ctx context.Context) error {
	if err := ignoreNoChange(m.migrate.Steps(-1)); err != nil {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// DownAll 回滚全部迁移
func (m *Migrator) DownAll(ctx context.Context) error {
	if err := ignoreNoChange(m.migrate.Down()); err != nil {
		return fmt.Errorf("migration down all failed: %w", err)
	}
	return nil
}

// Goto 迁移到指定版本,向上或向下均可
func (m *Migrator) Goto(ctx context.Context, version uint) error {
	if err := ignoreNoChange(m.migrate.Migrate(version)); err != nil {
		return fmt.Errorf("migration goto failed: %w", err)
	}
	return nil
}

// Force 强制写入版本号,不执行任何迁移,用于修复 dirty 状态
func (m *Migrator) Force(ctx context.Context, version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	return nil
}

// Version 返回当前版本与 dirty 标记,从未迁移过时版本为 0
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read version: %w", err)
	}
	return version, dirty, nil
}

// Status 对照内嵌迁移文件与当前版本,返回每个迁移的执行情况
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	d, err := dialectFor(m.cfg.DatabaseType)
	if err != nil {
		return nil, err
	}
	files, err := listMigrationFiles(d.sourceFS, d.sourceDir)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		statuses = append(statuses, MigrationStatus{
			Version: f.version,
			Name:    f.name,
			Applied: f.version <= current,
			Dirty:   dirty && f.version == current,
		})
	}
	return statuses, nil
}

// Close 释放迁移源与数据库连接
func (m *Migrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	return errors.Join(srcErr, dbErr)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// migrationFile 一个内嵌迁移文件的版本与名字
type migrationFile struct {
	version uint
	name    string
}

// listMigrationFiles 枚举目录下的 *.up.sql 并按版本号升序返回
func listMigrationFiles(fsys fs.FS, dir string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var files []migrationFile
	seen := make(map[uint]struct{})
	for _, entry := range entries {
		version, name, ok := parseMigrationName(entry.Name())
		if !ok {
			continue
		}
		if _, dup := seen[version]; dup {
			continue
		}
		seen[version] = struct{}{}
		files = append(files, migrationFile{version: version, name: name})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// parseMigrationName 解析 000001_init_schema.up.sql 形式的文件名
func parseMigrationName(filename string) (uint, string, bool) {
	base, found := strings.CutSuffix(filename, ".up.sql")
	if !found {
		return 0, "", false
	}
	prefix, name, found := strings.Cut(base, "_")
	if !found {
		return 0, "", false
	}
	version, err := strconv.ParseUint(prefix, 10, 32)
	if err != nil {
		return 0, "", false
	}
	return uint(version), name, true
}

// ParseDatabaseType 解析方言名,接受常见别名
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", s)
	}
}

// DetectDatabaseType 从连接串推断方言:postgres URL 带 scheme,
// 其余按 SQLite 文件路径处理
func DetectDatabaseType(databaseURL string) DatabaseType {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return DatabaseTypePostgres
	}
	return DatabaseTypeSQLite
}
