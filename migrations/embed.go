// Package migrations はデータベース方言ごとのSQLマイグレーションを埋め込む。
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed mysql/*.sql postgres/*.sql sqlite/*.sql
var files embed.FS

// ForDriver は指定されたドライバ用のマイグレーションFSを返す。
func ForDriver(driver string) (fs.FS, error) {
	switch driver {
	case "mysql", "postgres", "sqlite":
		return fs.Sub(files, driver)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}
