package migration

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		input    string
		expected DatabaseType
		wantErr  bool
	}{
		{"postgres", DatabaseTypePostgres, false},
		{"postgresql", DatabaseTypePostgres, false},
		{"pg", DatabaseTypePostgres, false},
		{"POSTGRES", DatabaseTypePostgres, false},
		{"sqlite", DatabaseTypeSQLite, false},
		{"sqlite3", DatabaseTypeSQLite, false},
		{"mysql", "", true},
		{"invalid", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseDatabaseType(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expected, result)
			}
		})
	}
}

func TestDetectDatabaseType(t *testing.T) {
	assert.Equal(t, DatabaseTypePostgres, DetectDatabaseType("postgres://u:p@localhost:5432/app"))
	assert.Equal(t, DatabaseTypePostgres, DetectDatabaseType("postgresql://localhost/app"))
	assert.Equal(t, DatabaseTypeSQLite, DetectDatabaseType("app.sqlite"))
	assert.Equal(t, DatabaseTypeSQLite, DetectDatabaseType("/var/lib/app/data.db"))
}

func TestNewMigrator_Validation(t *testing.T) {
	_, err := NewMigrator(Config{DatabaseType: DatabaseTypeSQLite})
	assert.Error(t, err)

	_, err = NewMigrator(Config{DatabaseType: "oracle", DatabaseURL: "x.db"})
	assert.Error(t, err)
}

func TestParseMigrationName(t *testing.T) {
	version, name, ok := parseMigrationName("000001_init_schema.up.sql")
	require.True(t, ok)
	assert.Equal(t, uint(1), version)
	assert.Equal(t, "init_schema", name)

	_, _, ok = parseMigrationName("000001_init_schema.down.sql")
	assert.False(t, ok)
	_, _, ok = parseMigrationName("README.md")
	assert.False(t, ok)
}

func newSQLiteMigrator(t *testing.T) *Migrator {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	m, err := NewMigrator(Config{
		DatabaseType: DatabaseTypeSQLite,
		DatabaseURL:  path,
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestMigrator_UpDown(t *testing.T) {
	m := newSQLiteMigrator(t)
	ctx := context.Background()

	require.NoError(t, m.Up(ctx))

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)

	// 幂等: 没有新迁移时 Up 不报错
	require.NoError(t, m.Up(ctx))

	require.NoError(t, m.DownAll(ctx))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
}

func TestMigrator_Status(t *testing.T) {
	m := newSQLiteMigrator(t)
	ctx := context.Background()

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "init_schema", statuses[0].Name)
	assert.False(t, statuses[0].Applied)

	require.NoError(t, m.Up(ctx))

	statuses, err = m.Status(ctx)
	require.NoError(t, err)
	assert.True(t, statuses[0].Applied)
	assert.False(t, statuses[0].Dirty)
}

func TestCLI_UpAndStatus(t *testing.T) {
	m := newSQLiteMigrator(t)

	var out bytes.Buffer
	cli := NewCLI(m, &out)

	ctx := context.Background()
	require.NoError(t, cli.Up(ctx))
	assert.Contains(t, out.String(), "Current version: 1")

	out.Reset()
	require.NoError(t, cli.Status(ctx))
	assert.Contains(t, out.String(), "init_schema")
	assert.Contains(t, out.String(), "Applied")
	assert.Contains(t, out.String(), "Pending: 0")
}

func TestCLI_DownAll(t *testing.T) {
	m := newSQLiteMigrator(t)

	var out bytes.Buffer
	cli := NewCLI(m, &out)

	ctx := context.Background()
	require.NoError(t, cli.Up(ctx))

	out.Reset()
	require.NoError(t, cli.Down(ctx, true))
	assert.Contains(t, out.String(), "All migrations rolled back.")

	out.Reset()
	require.NoError(t, cli.Version(ctx))
	assert.Contains(t, out.String(), "No migrations applied yet.")
}
