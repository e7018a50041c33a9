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

const cvxUpsertBatchSize = 200

// CVXCodeModel はcvx_codeテーブルのモデル。
type CVXCodeModel struct {
	Code             int       `gorm:"primaryKey;autoIncrement:false"`
	ShortDescription string    `gorm:"type:varchar(255);not null"`
	FullName         string    `gorm:"type:text;not null"`
	VaccineStatus    string    `gorm:"type:varchar(64);not null"`
	LastUpdated      time.Time `gorm:"type:date;not null"`
	Notes            *string   `gorm:"type:text"`
}

// TableName はテーブル名を返す。
func (CVXCodeModel) TableName() string {
	return "cvx_code"
}

func (m *CVXCodeModel) toDomain() *domain.VaccineCode {
	code := &domain.VaccineCode{
		Code:             m.Code,
		ShortDescription: m.ShortDescription,
		FullName:         m.FullName,
		VaccineStatus:    m.VaccineStatus,
		LastUpdated:      m.LastUpdated,
	}
	if m.Notes != nil {
		code.Notes = *m.Notes
	}
	return code
}

// CVXCodeRepository はワクチンコード参照テーブルのデータアクセスを提供する。
type CVXCodeRepository struct {
	db *gorm.DB
}

// NewCVXCodeRepository は新しいCVXCodeRepositoryを生成する。
func NewCVXCodeRepository(db *gorm.DB) *CVXCodeRepository {
	return &CVXCodeRepository{db: db}
}

// FindByCode はコードに一致するワクチンを取得する。存在しない場合は nil を返す。
func (r *CVXCodeRepository) FindByCode(ctx context.Context, code int) (*domain.VaccineCode, error) {
	var model CVXCodeModel
	err := r.db.WithContext(ctx).
		Where("code = ?", code).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find cvx code",
			"operation", "find_by_code",
			"code", code,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindAll は全コードをコード順に取得する。
func (r *CVXCodeRepository) FindAll(ctx context.Context) ([]*domain.VaccineCode, error) {
	var models []CVXCodeModel
	if err := r.db.WithContext(ctx).Order("code ASC").Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to find all cvx codes",
			"operation", "find_all",
			"error", err,
		)
		return nil, err
	}

	codes := make([]*domain.VaccineCode, len(models))
	for i := range models {
		codes[i] = models[i].toDomain()
	}
	return codes, nil
}

// UpsertAll はコードを一括で登録・更新する。コード自体は変更しない。
func (r *CVXCodeRepository) UpsertAll(ctx context.Context, codes []*domain.VaccineCode) error {
	if len(codes) == 0 {
		return nil
	}

	models := make([]*CVXCodeModel, len(codes))
	for i, c := range codes {
		models[i] = &CVXCodeModel{
			Code:             c.Code,
			ShortDescription: c.ShortDescription,
			FullName:         c.FullName,
			VaccineStatus:    c.VaccineStatus,
			LastUpdated:      c.LastUpdated,
			Notes:            nullableString(c.Notes),
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"short_description", "full_name", "vaccine_status", "last_updated", "notes",
			}),
		}).CreateInBatches(models, cvxUpsertBatchSize).Error
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to upsert cvx codes",
			"operation", "upsert_all",
			"count", len(codes),
			"error", err,
		)
		return err
	}
	return nil
}
