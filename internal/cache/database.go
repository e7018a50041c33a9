package cache

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"shc-verification-service/internal/domain"
	"shc-verification-service/internal/repository"
)

// Database は expiring_cache テーブルをバックエンドとするキャッシュ。
type Database struct {
	repo   *repository.ExpiringCacheRepository
	prefix string
	now    func() time.Time
}

// NewDatabase は新しいDatabaseキャッシュを生成する。
func NewDatabase(db *gorm.DB, prefix string) *Database {
	return &Database{
		repo:   repository.NewExpiringCacheRepository(db),
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock は現在時刻の取得関数を差し替える。テスト用。
func (c *Database) WithClock(now func() time.Time) *Database {
	c.now = now
	return c
}

// Get は有効な値を取得する。
func (c *Database) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := c.repo.FindLive(ctx, prefixed(c.prefix, key), c.now())
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	if entry == nil {
		return nil, false, nil
	}
	return entry.Value, true, nil
}

// Put は値を upsert する。同一キーへの同時書き込みは後勝ち。
func (c *Database) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := &domain.CachedEntry{
		Key:       prefixed(c.prefix, key),
		Value:     value,
		ExpiresAt: c.now().Add(ttl),
	}
	if err := c.repo.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return nil
}

// EvictExpired は期限切れの行を削除する。
func (c *Database) EvictExpired(ctx context.Context) (int64, error) {
	removed, err := c.repo.DeleteExpired(ctx, c.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return removed, nil
}
