package usecase

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"shc-verification-service/internal/domain"
)

const migrationHistoryTable = "schema_migrations"

// MigrationRepository はマイグレーション履歴を管理するリポジトリのインターフェース。
type MigrationRepository interface {
	EnsureTable(ctx context.Context) error
	FindAllApplied(ctx context.Context) ([]*domain.Migration, error)
}

// MigrationService は埋め込みSQLマイグレーションを適用する。
type MigrationService struct {
	repo  MigrationRepository
	db    *gorm.DB
	files fs.FS
	now   func() time.Time
}

// NewMigrationService は新しいMigrationServiceを生成する。
// files はドライバ方言の .sql ファイルを直下に持つFS。
func NewMigrationService(repo MigrationRepository, db *gorm.DB, files fs.FS) *MigrationService {
	return &MigrationService{
		repo:  repo,
		db:    db,
		files: files,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ApplyMigrations は未適用のマイグレーションをバージョン順に適用し、適用数を返す。
// 1ファイルが1トランザクションで、失敗した時点で中断する。
func (s *MigrationService) ApplyMigrations(ctx context.Context) (int, error) {
	if err := s.repo.EnsureTable(ctx); err != nil {
		return 0, fmt.Errorf("failed to ensure %s: %w", migrationHistoryTable, err)
	}

	migrations, err := s.GetMigrationStatus(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range migrations {
		if m.Status == domain.MigrationStatusApplied {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			slog.ErrorContext(ctx, "failed to apply migration",
				"operation", "apply_migrations",
				"version", m.Version,
				"error", err,
			)
			return applied, fmt.Errorf("%w: version %s: %v", domain.ErrMigrationFailed, m.Version, err)
		}
		slog.InfoContext(ctx, "migration applied",
			"operation", "apply_migrations",
			"version", m.Version,
			"name", m.Name,
		)
		applied++
	}
	return applied, nil
}

// GetMigrationStatus は全マイグレーションと適用状態をバージョン順に返す。
func (s *MigrationService) GetMigrationStatus(ctx context.Context) ([]*domain.Migration, error) {
	migrations, err := s.scan()
	if err != nil {
		slog.ErrorContext(ctx, "failed to scan migration files",
			"operation", "get_migration_status",
			"error", err,
		)
		return nil, err
	}

	history, err := s.repo.FindAllApplied(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch applied migrations: %w", err)
	}
	appliedAt := make(map[string]*time.Time, len(history))
	for _, h := range history {
		appliedAt[h.Version] = h.AppliedAt
	}

	for _, m := range migrations {
		if at, ok := appliedAt[m.Version]; ok {
			m.Status = domain.MigrationStatusApplied
			m.AppliedAt = at
		}
	}
	return migrations, nil
}

func (s *MigrationService) scan() ([]*domain.Migration, error) {
	entries, err := fs.ReadDir(s.files, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	seen := make(map[string]string)
	var migrations []*domain.Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, name, err := parseMigrationFileName(entry.Name())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("%w: %s and %s share version %s", domain.ErrInvalidMigrationFile, prev, entry.Name(), version)
		}
		seen[version] = entry.Name()

		migrations = append(migrations, &domain.Migration{
			Version: version,
			Name:    name,
			Path:    entry.Name(),
			Status:  domain.MigrationStatusPending,
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// parseMigrationFileName は {version}_{name}.sql 形式のファイル名を分解する。
// version は数字のみ。
func parseMigrationFileName(filename string) (version, name string, err error) {
	version, name, ok := strings.Cut(strings.TrimSuffix(filename, ".sql"), "_")
	if !ok || version == "" || name == "" || strings.Trim(version, "0123456789") != "" {
		return "", "", fmt.Errorf("%w: %s (expected format: {version}_{name}.sql)", domain.ErrInvalidMigrationFile, filename)
	}
	return version, name, nil
}

func (s *MigrationService) apply(ctx context.Context, m *domain.Migration) error {
	body, err := fs.ReadFile(s.files, m.Path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", m.Path, err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// MySQLは複数文の一括実行を受け付けない
		for i, stmt := range splitStatements(string(body)) {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("statement %d: %w", i+1, err)
			}
		}
		return tx.Table(migrationHistoryTable).Create(map[string]interface{}{
			"version":    m.Version,
			"applied_at": s.now(),
		}).Error
	})
}

// splitStatements はSQL文をセミコロンで分割する。空文と "--" コメント行は除く。
func splitStatements(sql string) []string {
	var lines []string
	for _, line := range strings.Split(sql, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}

	var stmts []string
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
