// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"shc-verification-service/internal/domain"
)

// IssuerRepository は発行者と鍵のデータアクセスのインターフェース。
type IssuerRepository interface {
	FindByIss(ctx context.Context, iss string) (*domain.Issuer, error)
	FindAll(ctx context.Context) ([]*domain.Issuer, error)
	Upsert(ctx context.Context, issuer *domain.Issuer) error
	UpdateFetchResult(ctx context.Context, id string, failed bool, at time.Time) error
	ReplaceKeys(ctx context.Context, issuerID string, keys []*domain.IssuerKey) error
	FindKeys(ctx context.Context, issuerID string) ([]*domain.IssuerKey, error)
	FindKey(ctx context.Context, issuerID, keyID string) (*domain.IssuerKey, error)
	Purge(ctx context.Context, iss string) (bool, error)
}

// TrustStore は信頼できる発行者とその署名鍵を管理する。
type TrustStore struct {
	repo IssuerRepository
	now  func() time.Time
}

// NewTrustStore は新しいTrustStoreを生成する。
func NewTrustStore(repo IssuerRepository) *TrustStore {
	return &TrustStore{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Lookup は iss に完全一致する発行者を取得する。別名は辿らない。
func (s *TrustStore) Lookup(ctx context.Context, iss string) (*domain.Issuer, error) {
	issuer, err := s.repo.FindByIss(ctx, iss)
	if err != nil {
		return nil, fmt.Errorf("finding issuer: %w", err)
	}
	if issuer == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrIssuerNotFound, iss)
	}
	return issuer, nil
}

// ResolveCanonical は iss を正規の発行者に解決する。
// canonical_iss は1回だけ辿り、辿り先が存在しない・自分自身・さらに別名の場合は
// ErrUnresolvedAlias を返す。
func (s *TrustStore) ResolveCanonical(ctx context.Context, iss string) (*domain.IssuerResolution, error) {
	issuer, err := s.Lookup(ctx, iss)
	if err != nil {
		return nil, err
	}
	if !issuer.IsAlias() {
		return &domain.IssuerResolution{
			RequestedIss: iss,
			Issuer:       issuer,
			Kind:         domain.ResolutionDirect,
		}, nil
	}

	target := *issuer.CanonicalIss
	if target == issuer.Iss {
		return nil, fmt.Errorf("%w: %s points to itself", domain.ErrUnresolvedAlias, iss)
	}
	canonical, err := s.repo.FindByIss(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("finding canonical issuer: %w", err)
	}
	if canonical == nil {
		return nil, fmt.Errorf("%w: %s -> %s (not registered)", domain.ErrUnresolvedAlias, iss, target)
	}
	if canonical.IsAlias() {
		return nil, fmt.Errorf("%w: %s -> %s is itself an alias", domain.ErrUnresolvedAlias, iss, target)
	}

	return &domain.IssuerResolution{
		RequestedIss: iss,
		Issuer:       canonical,
		Kind:         domain.ResolutionAliased,
	}, nil
}

// RecordFetchResult は鍵セット取得の結果を記録する。
func (s *TrustStore) RecordFetchResult(ctx context.Context, issuerID string, success bool) error {
	if err := s.repo.UpdateFetchResult(ctx, issuerID, !success, s.now()); err != nil {
		return fmt.Errorf("recording fetch result: %w", err)
	}
	return nil
}

// ReplaceKeys は発行者の鍵セットを原子的に置き換える。
// 失敗時は以前の鍵セットが残り、ErrPartialWrite を返す。
func (s *TrustStore) ReplaceKeys(ctx context.Context, issuerID string, keys []*domain.IssuerKey) error {
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k.KeyID == "" {
			return fmt.Errorf("%w: key without kid", domain.ErrPartialWrite)
		}
		if _, dup := seen[k.KeyID]; dup {
			return fmt.Errorf("%w: duplicate kid %s", domain.ErrPartialWrite, k.KeyID)
		}
		seen[k.KeyID] = struct{}{}
	}

	if err := s.repo.ReplaceKeys(ctx, issuerID, keys); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPartialWrite, err)
	}
	return nil
}

// Register は発行者のメタデータを登録・更新する。
func (s *TrustStore) Register(ctx context.Context, issuer *domain.Issuer) error {
	if err := validateIss(issuer.Iss); err != nil {
		return err
	}
	if issuer.IsAlias() {
		if err := validateIss(*issuer.CanonicalIss); err != nil {
			return err
		}
	}
	if issuer.Name == "" {
		issuer.Name = "Unknown Issuer"
	}
	if issuer.UpdatedAt.IsZero() {
		issuer.UpdatedAt = s.now()
	}
	if err := s.repo.Upsert(ctx, issuer); err != nil {
		return fmt.Errorf("registering issuer: %w", err)
	}
	return nil
}

// ListIssuers は登録済みの全発行者を取得する。
func (s *TrustStore) ListIssuers(ctx context.Context) ([]*domain.Issuer, error) {
	issuers, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing issuers: %w", err)
	}
	return issuers, nil
}

// ListKeys は発行者の保存済み鍵を取得する。
func (s *TrustStore) ListKeys(ctx context.Context, issuerID string) ([]*domain.IssuerKey, error) {
	keys, err := s.repo.FindKeys(ctx, issuerID)
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	return keys, nil
}

// FindKey は保存済みの鍵を取得する。
func (s *TrustStore) FindKey(ctx context.Context, issuerID, keyID string) (*domain.IssuerKey, error) {
	key, err := s.repo.FindKey(ctx, issuerID, keyID)
	if err != nil {
		return nil, fmt.Errorf("finding key: %w", err)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownKeyID, keyID)
	}
	return key, nil
}

// Purge は発行者とその鍵を削除する。管理者向け。
func (s *TrustStore) Purge(ctx context.Context, iss string) error {
	purged, err := s.repo.Purge(ctx, iss)
	if err != nil {
		return fmt.Errorf("purging issuer: %w", err)
	}
	if !purged {
		return fmt.Errorf("%w: %s", domain.ErrIssuerNotFound, iss)
	}
	return nil
}

func validateIss(iss string) error {
	u, err := url.Parse(iss)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return fmt.Errorf("%w: %q", domain.ErrInvalidIssuer, iss)
	}
	return nil
}
