// Package testutil はテスト用のヘルパーを提供する。
package testutil

import (
	"io/fs"
	"sort"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"shc-verification-service/migrations"
)

// NewSQLiteDB はマイグレーション適用済みのインメモリSQLiteデータベースを作成する。
func NewSQLiteDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// :memory: は接続ごとに別DBになるため単一接続に固定する
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	migrationFS, err := migrations.ForDriver("sqlite")
	if err != nil {
		t.Fatalf("failed to load migrations: %v", err)
	}
	files, err := fs.Glob(migrationFS, "*.sql")
	if err != nil {
		t.Fatalf("failed to list migrations: %v", err)
	}
	sort.Strings(files)
	for _, f := range files {
		sqlBytes, err := fs.ReadFile(migrationFS, f)
		if err != nil {
			t.Fatalf("failed to read %s: %v", f, err)
		}
		if err := db.Exec(string(sqlBytes)).Error; err != nil {
			t.Fatalf("failed to apply %s: %v", f, err)
		}
	}

	return db
}
