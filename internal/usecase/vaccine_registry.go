package usecase

import (
	"context"
	"fmt"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"shc-verification-service/internal/domain"
)

const vaccineMemoTTL = 10 * time.Minute

// CVXCodeRepository はCVXコードのデータアクセスのインターフェース。
type CVXCodeRepository interface {
	FindByCode(ctx context.Context, code int) (*domain.VaccineCode, error)
	FindAll(ctx context.Context) ([]*domain.VaccineCode, error)
	UpsertAll(ctx context.Context, codes []*domain.VaccineCode) error
}

// VaccineRegistry はCVXコードの参照を提供する。参照結果はプロセス内でメモ化する。
type VaccineRegistry struct {
	repo CVXCodeRepository
	memo *gocache.Cache
}

// NewVaccineRegistry は新しいVaccineRegistryを生成する。
func NewVaccineRegistry(repo CVXCodeRepository) *VaccineRegistry {
	return &VaccineRegistry{
		repo: repo,
		memo: gocache.New(vaccineMemoTTL, 2*vaccineMemoTTL),
	}
}

// Lookup はCVXコードを取得する。存在しない場合は ErrVaccineCodeNotFound を返す。
func (r *VaccineRegistry) Lookup(ctx context.Context, code int) (*domain.VaccineCode, error) {
	memoKey := strconv.Itoa(code)
	if v, ok := r.memo.Get(memoKey); ok {
		return v.(*domain.VaccineCode), nil
	}

	vc, err := r.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("finding vaccine code: %w", err)
	}
	if vc == nil {
		return nil, fmt.Errorf("%w: %d", domain.ErrVaccineCodeNotFound, code)
	}
	r.memo.SetDefault(memoKey, vc)
	return vc, nil
}

// LookupString は文字列表現のCVXコードを取得する。数値でない場合は ErrVaccineCodeNotFound。
func (r *VaccineRegistry) LookupString(ctx context.Context, code string) (*domain.VaccineCode, error) {
	n, err := strconv.Atoi(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrVaccineCodeNotFound, code)
	}
	return r.Lookup(ctx, n)
}

// List は全CVXコードを取得する。
func (r *VaccineRegistry) List(ctx context.Context) ([]*domain.VaccineCode, error) {
	codes, err := r.repo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing vaccine codes: %w", err)
	}
	return codes, nil
}

// Invalidate はメモを破棄する。インポート後に呼び出す。
func (r *VaccineRegistry) Invalidate() {
	r.memo.Flush()
}
