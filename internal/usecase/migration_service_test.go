package usecase

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"testing/fstest"
	"time"

	"shc-verification-service/internal/domain"
	"shc-verification-service/migrations"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// mockMigrationRepository はテスト用のモック。
type mockMigrationRepository struct {
	appliedMigrations map[string]*domain.Migration
	ensureCalled      bool
}

func newMockMigrationRepository() *mockMigrationRepository {
	return &mockMigrationRepository{
		appliedMigrations: make(map[string]*domain.Migration),
	}
}

func (m *mockMigrationRepository) FindAllApplied(ctx context.Context) ([]*domain.Migration, error) {
	var result []*domain.Migration
	for _, migration := range m.appliedMigrations {
		result = append(result, migration)
	}
	return result, nil
}

func (m *mockMigrationRepository) EnsureTable(ctx context.Context) error {
	m.ensureCalled = true
	return nil
}

// setupTestMigrations は同梱のSQLite用マイグレーションを書き換え可能なFSに写す。
func setupTestMigrations(t *testing.T) fstest.MapFS {
	t.Helper()

	shipped, err := migrations.ForDriver("sqlite")
	if err != nil {
		t.Fatalf("failed to open sqlite migrations: %v", err)
	}
	entries, err := fs.ReadDir(shipped, ".")
	if err != nil {
		t.Fatalf("failed to list sqlite migrations: %v", err)
	}

	files := fstest.MapFS{"README.md": {Data: []byte("ignored")}}
	for _, e := range entries {
		data, err := fs.ReadFile(shipped, e.Name())
		if err != nil {
			t.Fatalf("failed to read %s: %v", e.Name(), err)
		}
		files[e.Name()] = &fstest.MapFile{Data: data}
	}
	return files
}

// setupMigrationTestDB はテスト用のインメモリSQLiteデータベースを作成する。
func setupMigrationTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	// schema_migrationsテーブルを作成
	if err := db.Exec("CREATE TABLE schema_migrations (version VARCHAR(14) PRIMARY KEY, applied_at DATETIME)").Error; err != nil {
		t.Fatalf("failed to create schema_migrations table: %v", err)
	}

	return db
}

func TestMigrationService_ApplyMigrations(t *testing.T) {
	ctx := context.Background()
	migrationsFS := setupTestMigrations(t)
	db := setupMigrationTestDB(t)
	repo := newMockMigrationRepository()

	service := NewMigrationService(repo, db, migrationsFS)

	// マイグレーションを実行
	count, err := service.ApplyMigrations(ctx)
	if err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}

	if count != 4 {
		t.Errorf("expected 4 migrations applied, got %d", count)
	}
	if !repo.ensureCalled {
		t.Error("expected EnsureTable to be called")
	}

	// テーブルが作成されたか確認
	tables := []string{"expiring_cache", "cvx_code", "vci_issuer", "vci_issuer_key"}
	for _, table := range tables {
		var count int64
		if err := db.Raw("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count).Error; err != nil {
			t.Errorf("failed to check table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s was not created", table)
		}
	}
}

func TestMigrationService_ApplyMigrations_AlreadyApplied(t *testing.T) {
	ctx := context.Background()
	migrationsFS := setupTestMigrations(t)
	db := setupMigrationTestDB(t)
	repo := newMockMigrationRepository()

	// 既にマイグレーションが適用済みと設定
	now := time.Now()
	repo.appliedMigrations["001"] = &domain.Migration{
		Version:   "001",
		AppliedAt: &now,
		Status:    domain.MigrationStatusApplied,
	}
	repo.appliedMigrations["002"] = &domain.Migration{
		Version:   "002",
		AppliedAt: &now,
		Status:    domain.MigrationStatusApplied,
	}

	service := NewMigrationService(repo, db, migrationsFS)

	// マイグレーションを実行
	count, err := service.ApplyMigrations(ctx)
	if err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}

	// 未適用のマイグレーションのみ実行される
	if count != 2 {
		t.Errorf("expected 2 migrations applied, got %d", count)
	}
}

func TestMigrationService_ApplyMigrations_Error(t *testing.T) {
	ctx := context.Background()
	migrationsFS := setupTestMigrations(t)
	db := setupMigrationTestDB(t)
	repo := newMockMigrationRepository()

	service := NewMigrationService(repo, db, migrationsFS)

	// 不正なSQLファイルを追加
	migrationsFS["005_invalid.sql"] = &fstest.MapFile{Data: []byte("INVALID SQL SYNTAX;")}

	// マイグレーションを実行（エラーが発生することを期待）
	_, err := service.ApplyMigrations(ctx)
	if err == nil {
		t.Error("expected error for invalid SQL, but got nil")
	}
}

func TestMigrationService_GetMigrationStatus(t *testing.T) {
	ctx := context.Background()
	migrationsFS := setupTestMigrations(t)
	db := setupMigrationTestDB(t)
	repo := newMockMigrationRepository()

	// 一部のマイグレーションを適用済みと設定
	now := time.Now()
	repo.appliedMigrations["001"] = &domain.Migration{
		Version:   "001",
		AppliedAt: &now,
		Status:    domain.MigrationStatusApplied,
	}

	service := NewMigrationService(repo, db, migrationsFS)

	// マイグレーションステータスを取得
	statuses, err := service.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}

	if len(statuses) != 4 {
		t.Errorf("expected 4 migrations, got %d", len(statuses))
	}

	// 001はapplied, 002以降はpending
	expectedStatuses := map[string]domain.MigrationStatus{
		"001": domain.MigrationStatusApplied,
		"002": domain.MigrationStatusPending,
		"003": domain.MigrationStatusPending,
		"004": domain.MigrationStatusPending,
	}

	for _, migration := range statuses {
		expectedStatus, exists := expectedStatuses[migration.Version]
		if !exists {
			t.Errorf("unexpected migration version: %s", migration.Version)
			continue
		}

		if migration.Status != expectedStatus {
			t.Errorf("migration %s: expected status %s, got %s", migration.Version, expectedStatus, migration.Status)
		}
	}
}

func TestMigrationService_InvalidFiles(t *testing.T) {
	tests := []struct {
		name  string
		files fstest.MapFS
	}{
		{"no underscore", fstest.MapFS{"nounderscore.sql": {Data: []byte("SELECT 1;")}}},
		{"non numeric version", fstest.MapFS{"v1_create.sql": {Data: []byte("SELECT 1;")}}},
		{"duplicate version", fstest.MapFS{
			"001_a.sql": {Data: []byte("SELECT 1;")},
			"001_b.sql": {Data: []byte("SELECT 1;")},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := NewMigrationService(newMockMigrationRepository(), setupMigrationTestDB(t), tt.files)
			_, err := service.ApplyMigrations(context.Background())
			if !errors.Is(err, domain.ErrInvalidMigrationFile) {
				t.Errorf("expected ErrInvalidMigrationFile, got %v", err)
			}
		})
	}
}

func TestMigrationService_RecordsHistory(t *testing.T) {
	ctx := context.Background()
	db := setupMigrationTestDB(t)
	service := NewMigrationService(newMockMigrationRepository(), db, setupTestMigrations(t))
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return fixed }

	if _, err := service.ApplyMigrations(ctx); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}

	var versions []string
	if err := db.Raw("SELECT version FROM schema_migrations ORDER BY version").Scan(&versions).Error; err != nil {
		t.Fatalf("failed to read history: %v", err)
	}
	if len(versions) != 4 || versions[0] != "001" || versions[3] != "004" {
		t.Errorf("unexpected history: %v", versions)
	}
}

func TestSplitStatements(t *testing.T) {
	sql := "-- comment\nCREATE TABLE a (id INT);\n\nCREATE INDEX i ON a (id);\n"
	stmts := splitStatements(sql)
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if stmts[0] != "CREATE TABLE a (id INT)" {
		t.Errorf("unexpected first statement: %q", stmts[0])
	}
}
