package domain

import "time"

// MigrationStatus はマイグレーションの適用状態。
type MigrationStatus string

const (
	MigrationStatusPending MigrationStatus = "pending"
	MigrationStatusApplied MigrationStatus = "applied"
)

// Migration は埋め込みSQLファイル1つ分のスキーマ変更。
type Migration struct {
	Version   string     // ファイル名先頭の数字（例: "001"）
	Name      string     // ファイル名の残り
	Path      string     // 方言ごとのFS内のパス
	AppliedAt *time.Time // 未適用なら nil
	Status    MigrationStatus
}
