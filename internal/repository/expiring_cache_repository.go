// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shc-verification-service/internal/domain"
)

// ExpiringCacheModel はexpiring_cacheテーブルのモデル。
type ExpiringCacheModel struct {
	Key       string    `gorm:"column:key;type:varchar(255);primaryKey;index:idx_expiring_cache_key_expires,priority:1"`
	Value     []byte    `gorm:"column:value;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index:idx_expiring_cache_key_expires,priority:2,sort:desc"`
}

// TableName はテーブル名を返す。
func (ExpiringCacheModel) TableName() string {
	return "expiring_cache"
}

// ExpiringCacheRepository は有効期限付きキャッシュのデータアクセスを提供する。
type ExpiringCacheRepository struct {
	db *gorm.DB
}

// NewExpiringCacheRepository は新しいExpiringCacheRepositoryを生成する。
func NewExpiringCacheRepository(db *gorm.DB) *ExpiringCacheRepository {
	return &ExpiringCacheRepository{db: db}
}

// FindLive は指定時刻で有効なエントリを取得する。存在しない場合は nil を返す。
func (r *ExpiringCacheRepository) FindLive(ctx context.Context, key string, now time.Time) (*domain.CachedEntry, error) {
	var model ExpiringCacheModel
	// "key" は予約語のため構造体条件でクォートさせる
	err := r.db.WithContext(ctx).
		Where(&ExpiringCacheModel{Key: key}).
		Where("expires_at > ?", now).
		Order("expires_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find cache entry",
			"operation", "find_live",
			"key", key,
			"error", err,
		)
		return nil, err
	}
	return &domain.CachedEntry{
		Key:       model.Key,
		Value:     model.Value,
		ExpiresAt: model.ExpiresAt,
	}, nil
}

// Upsert はエントリを保存し、既存のエントリを置き換える。
func (r *ExpiringCacheRepository) Upsert(ctx context.Context, entry *domain.CachedEntry) error {
	model := &ExpiringCacheModel{
		Key:       entry.Key,
		Value:     entry.Value,
		ExpiresAt: entry.ExpiresAt,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
		}).
		Create(model).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to upsert cache entry",
			"operation", "upsert",
			"key", entry.Key,
			"error", err,
		)
		return err
	}
	return nil
}

// Delete は指定キーのエントリを削除する。
func (r *ExpiringCacheRepository) Delete(ctx context.Context, key string) error {
	err := r.db.WithContext(ctx).
		Where(&ExpiringCacheModel{Key: key}).
		Delete(&ExpiringCacheModel{}).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to delete cache entry",
			"operation", "delete",
			"key", key,
			"error", err,
		)
		return err
	}
	return nil
}

// DeleteExpired は指定時刻までに期限切れとなったエントリを削除し、削除件数を返す。
func (r *ExpiringCacheRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&ExpiringCacheModel{})
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to delete expired cache entries",
			"operation", "delete_expired",
			"error", result.Error,
		)
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
