// Package cache は有効期限付きキャッシュのバックエンドを提供する。
//
// バックエンドは CACHE_DRIVER で選択する:
//   - database: expiring_cache テーブル（既定）
//   - redis: go-redis
//   - memory: プロセス内（開発・テスト用）
//
// いずれのバックエンドも期限切れの値を返さない。ストレージ障害は
// domain.ErrCacheUnavailable でラップして返す。
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Cache は有効期限付きキャッシュの操作を定義する。
type Cache interface {
	// Get は有効な値を返す。存在しないか期限切れの場合は found=false。
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Put は値を now+ttl まで有効なエントリとして置き換える。
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// EvictExpired は期限切れエントリを削除し、削除件数を返す。
	EvictExpired(ctx context.Context) (int64, error)
}

// Config はキャッシュバックエンドの設定。
type Config struct {
	Driver        string // "database" | "redis" | "memory"
	Prefix        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// New は設定に応じたキャッシュを生成する。
func New(cfg Config, db *gorm.DB) (Cache, error) {
	switch strings.ToLower(cfg.Driver) {
	case "database", "":
		if db == nil {
			return nil, fmt.Errorf("database cache requires a database connection")
		}
		return NewDatabase(db, cfg.Prefix), nil
	case "redis":
		return NewRedis(RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.Prefix,
		}), nil
	case "memory":
		return NewMemory(cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", cfg.Driver)
	}
}

func prefixed(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + key
}
