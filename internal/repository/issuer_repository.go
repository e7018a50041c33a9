package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"shc-verification-service/internal/domain"
)

// IssuerModel はvci_issuerテーブルのモデル。
type IssuerModel struct {
	ID           string    `gorm:"type:char(36);primaryKey"`
	Iss          string    `gorm:"type:varchar(512);not null;uniqueIndex:uk_vci_issuer_iss"`
	Name         string    `gorm:"type:varchar(255);not null"`
	Website      *string   `gorm:"type:varchar(512)"`
	CanonicalIss *string   `gorm:"type:varchar(512)"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime:false"`
	Error        bool      `gorm:"not null"`
}

// TableName はテーブル名を返す。
func (IssuerModel) TableName() string {
	return "vci_issuer"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *IssuerModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *IssuerModel) toDomain() *domain.Issuer {
	issuer := &domain.Issuer{
		ID:           m.ID,
		Iss:          m.Iss,
		Name:         m.Name,
		CanonicalIss: m.CanonicalIss,
		UpdatedAt:    m.UpdatedAt,
		Error:        m.Error,
	}
	if m.Website != nil {
		issuer.Website = *m.Website
	}
	return issuer
}

// IssuerKeyModel はvci_issuer_keyテーブルのモデル。
type IssuerKeyModel struct {
	ID       string `gorm:"type:char(36);primaryKey"`
	IssuerID string `gorm:"column:vci_issuer_id;type:char(36);not null;uniqueIndex:uk_vci_issuer_key"`
	KeyID    string `gorm:"type:varchar(255);not null;uniqueIndex:uk_vci_issuer_key"`
	Data     []byte `gorm:"not null"`
}

// TableName はテーブル名を返す。
func (IssuerKeyModel) TableName() string {
	return "vci_issuer_key"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *IssuerKeyModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *IssuerKeyModel) toDomain() *domain.IssuerKey {
	return &domain.IssuerKey{
		ID:       m.ID,
		IssuerID: m.IssuerID,
		KeyID:    m.KeyID,
		Data:     m.Data,
	}
}

// IssuerRepository は発行者と署名鍵のデータアクセスを提供する。
type IssuerRepository struct {
	db *gorm.DB
}

// NewIssuerRepository は新しいIssuerRepositoryを生成する。
func NewIssuerRepository(db *gorm.DB) *IssuerRepository {
	return &IssuerRepository{db: db}
}

// FindByIss は iss に完全一致する発行者を取得する。存在しない場合は nil を返す。
func (r *IssuerRepository) FindByIss(ctx context.Context, iss string) (*domain.Issuer, error) {
	var model IssuerModel
	err := r.db.WithContext(ctx).
		Where("iss = ?", iss).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find issuer",
			"operation", "find_by_iss",
			"iss", iss,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindAll は全発行者を iss 順に取得する。
func (r *IssuerRepository) FindAll(ctx context.Context) ([]*domain.Issuer, error) {
	var models []IssuerModel
	if err := r.db.WithContext(ctx).Order("iss ASC").Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to find all issuers",
			"operation", "find_all",
			"error", err,
		)
		return nil, err
	}

	issuers := make([]*domain.Issuer, len(models))
	for i := range models {
		issuers[i] = models[i].toDomain()
	}
	return issuers, nil
}

// Upsert は iss をキーに発行者のメタデータを登録・更新する。
// 既存レコードの ID・error は維持し、登録後の ID を issuer に反映する。
func (r *IssuerRepository) Upsert(ctx context.Context, issuer *domain.Issuer) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing IssuerModel
		err := tx.Where("iss = ?", issuer.Iss).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			model := &IssuerModel{
				Iss:          issuer.Iss,
				Name:         issuer.Name,
				Website:      nullableString(issuer.Website),
				CanonicalIss: issuer.CanonicalIss,
				UpdatedAt:    issuer.UpdatedAt,
				Error:        issuer.Error,
			}
			if err := tx.Create(model).Error; err != nil {
				return err
			}
			issuer.ID = model.ID
			return nil
		}
		if err != nil {
			return err
		}

		err = tx.Model(&IssuerModel{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{
				"name":          issuer.Name,
				"website":       nullableString(issuer.Website),
				"canonical_iss": issuer.CanonicalIss,
			}).Error
		if err != nil {
			return err
		}
		issuer.ID = existing.ID
		issuer.UpdatedAt = existing.UpdatedAt
		issuer.Error = existing.Error
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to upsert issuer",
			"operation", "upsert",
			"iss", issuer.Iss,
			"error", err,
		)
		return err
	}
	return nil
}

// UpdateFetchResult は鍵セット取得結果（error フラグと updated_at）を記録する。
func (r *IssuerRepository) UpdateFetchResult(ctx context.Context, id string, failed bool, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&IssuerModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"error":      failed,
			"updated_at": at,
		})
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to update fetch result",
			"operation", "update_fetch_result",
			"id", id,
			"failed", failed,
			"error", result.Error,
		)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrIssuerNotFound
	}
	return nil
}

// ReplaceKeys は発行者の鍵セットを単一トランザクションで置き換える。
// 失敗した場合はロールバックされ、以前の鍵セットが残る。
func (r *IssuerRepository) ReplaceKeys(ctx context.Context, issuerID string, keys []*domain.IssuerKey) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("vci_issuer_id = ?", issuerID).Delete(&IssuerKeyModel{}).Error; err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}

		models := make([]*IssuerKeyModel, len(keys))
		for i, k := range keys {
			models[i] = &IssuerKeyModel{
				IssuerID: issuerID,
				KeyID:    k.KeyID,
				Data:     k.Data,
			}
		}
		return tx.Create(&models).Error
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to replace issuer keys",
			"operation", "replace_keys",
			"issuer_id", issuerID,
			"key_count", len(keys),
			"error", err,
		)
		return err
	}
	return nil
}

// FindKeys は発行者の全鍵を key_id 順に取得する。
func (r *IssuerRepository) FindKeys(ctx context.Context, issuerID string) ([]*domain.IssuerKey, error) {
	var models []IssuerKeyModel
	err := r.db.WithContext(ctx).
		Where("vci_issuer_id = ?", issuerID).
		Order("key_id ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find issuer keys",
			"operation", "find_keys",
			"issuer_id", issuerID,
			"error", err,
		)
		return nil, err
	}

	keys := make([]*domain.IssuerKey, len(models))
	for i := range models {
		keys[i] = models[i].toDomain()
	}
	return keys, nil
}

// FindKey は発行者の指定鍵IDの鍵を取得する。存在しない場合は nil を返す。
func (r *IssuerRepository) FindKey(ctx context.Context, issuerID, keyID string) (*domain.IssuerKey, error) {
	var model IssuerKeyModel
	err := r.db.WithContext(ctx).
		Where("vci_issuer_id = ? AND key_id = ?", issuerID, keyID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find issuer key",
			"operation", "find_key",
			"issuer_id", issuerID,
			"key_id", keyID,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// Purge は発行者とその鍵を削除する。管理操作専用。
func (r *IssuerRepository) Purge(ctx context.Context, iss string) (bool, error) {
	purged := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model IssuerModel
		err := tx.Where("iss = ?", iss).First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Where("vci_issuer_id = ?", model.ID).Delete(&IssuerKeyModel{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model).Error; err != nil {
			return err
		}
		purged = true
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to purge issuer",
			"operation", "purge",
			"iss", iss,
			"error", err,
		)
		return false, err
	}
	return purged, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
