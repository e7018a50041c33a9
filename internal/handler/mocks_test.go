package handler

import (
	"context"
	"sort"

	"shc-verification-service/internal/domain"
)

// mockVerifier はテスト用のモック検証サービス。
type mockVerifier struct {
	result  *domain.VerifiedCredential
	err     error
	lastQR  string
	lastJWS string
}

func (m *mockVerifier) VerifyQR(ctx context.Context, qr string) (*domain.VerifiedCredential, error) {
	m.lastQR = qr
	return m.result, m.err
}

func (m *mockVerifier) Verify(ctx context.Context, compact string) (*domain.VerifiedCredential, error) {
	m.lastJWS = compact
	return m.result, m.err
}

// mockTrustStore はテスト用のモックトラストストア。
type mockTrustStore struct {
	issuers    []*domain.Issuer
	listErr    error
	resolution *domain.IssuerResolution
	resolveErr error
	keys       map[string][]*domain.IssuerKey
}

func (m *mockTrustStore) ListIssuers(ctx context.Context) ([]*domain.Issuer, error) {
	return m.issuers, m.listErr
}

func (m *mockTrustStore) ResolveCanonical(ctx context.Context, iss string) (*domain.IssuerResolution, error) {
	return m.resolution, m.resolveErr
}

func (m *mockTrustStore) ListKeys(ctx context.Context, issuerID string) ([]*domain.IssuerKey, error) {
	return m.keys[issuerID], nil
}

// mockRefresher はテスト用のモック鍵セット再取得。
type mockRefresher struct {
	count int
	err   error
	calls []string
}

func (m *mockRefresher) Refresh(ctx context.Context, iss string) (int, error) {
	m.calls = append(m.calls, iss)
	return m.count, m.err
}

// mockVaccineRegistry はテスト用のモックワクチンレジストリ。
type mockVaccineRegistry struct {
	codes map[int]*domain.VaccineCode
	err   error
}

func (m *mockVaccineRegistry) Lookup(ctx context.Context, code int) (*domain.VaccineCode, error) {
	if m.err != nil {
		return nil, m.err
	}
	vc, ok := m.codes[code]
	if !ok {
		return nil, domain.ErrVaccineCodeNotFound
	}
	return vc, nil
}

func (m *mockVaccineRegistry) List(ctx context.Context) ([]*domain.VaccineCode, error) {
	if m.err != nil {
		return nil, m.err
	}
	codes := make([]*domain.VaccineCode, 0, len(m.codes))
	for _, vc := range m.codes {
		codes = append(codes, vc)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i].Code < codes[j].Code })
	return codes, nil
}
