package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"shc-verification-service/internal/domain"
)

func createIssuer(t *testing.T, repo *IssuerRepository, iss string, canonical *string) *domain.Issuer {
	t.Helper()
	issuer := &domain.Issuer{
		Iss:          iss,
		Name:         "Issuer " + iss,
		CanonicalIss: canonical,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := repo.Upsert(context.Background(), issuer); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	return issuer
}

func TestIssuerRepository_UpsertKeepsID(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewIssuerRepository(db)

	first := createIssuer(t, repo, "https://issuer.example", nil)
	if first.ID == "" {
		t.Fatal("expected ID to be generated, got empty")
	}

	// メタデータ更新でも ID は変わらない
	updated := &domain.Issuer{Iss: "https://issuer.example", Name: "Renamed", Website: "https://example.org"}
	if err := repo.Upsert(ctx, updated); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if updated.ID != first.ID {
		t.Errorf("expected ID %s, got %s", first.ID, updated.ID)
	}

	got, err := repo.FindByIss(ctx, "https://issuer.example")
	if err != nil {
		t.Fatalf("FindByIss failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected issuer, got nil")
	}
	if got.Name != "Renamed" || got.Website != "https://example.org" {
		t.Errorf("unexpected metadata: %+v", got)
	}
}

func TestIssuerRepository_FindByIssNotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIssuerRepository(db)

	got, err := repo.FindByIss(context.Background(), "https://unknown.example")
	if err != nil {
		t.Fatalf("FindByIss failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestIssuerRepository_UpdateFetchResult(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewIssuerRepository(db)
	issuer := createIssuer(t, repo, "https://issuer.example", nil)

	at := time.Now().UTC().Add(time.Minute)
	if err := repo.UpdateFetchResult(ctx, issuer.ID, true, at); err != nil {
		t.Fatalf("UpdateFetchResult failed: %v", err)
	}

	got, err := repo.FindByIss(ctx, issuer.Iss)
	if err != nil {
		t.Fatalf("FindByIss failed: %v", err)
	}
	if !got.Error {
		t.Error("expected error=true, got false")
	}
	if !got.UpdatedAt.Equal(at) {
		t.Errorf("expected updated_at=%v, got %v", at, got.UpdatedAt)
	}

	// 存在しないID
	err = repo.UpdateFetchResult(ctx, "missing", false, at)
	if !errors.Is(err, domain.ErrIssuerNotFound) {
		t.Errorf("want ErrIssuerNotFound, got %v", err)
	}
}

func TestIssuerRepository_ReplaceKeys(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewIssuerRepository(db)
	issuer := createIssuer(t, repo, "https://issuer.example", nil)

	initial := []*domain.IssuerKey{
		{KeyID: "k1", Data: []byte(`{"kid":"k1"}`)},
		{KeyID: "k2", Data: []byte(`{"kid":"k2"}`)},
	}
	if err := repo.ReplaceKeys(ctx, issuer.ID, initial); err != nil {
		t.Fatalf("ReplaceKeys failed: %v", err)
	}

	rotated := []*domain.IssuerKey{{KeyID: "k3", Data: []byte(`{"kid":"k3"}`)}}
	if err := repo.ReplaceKeys(ctx, issuer.ID, rotated); err != nil {
		t.Fatalf("ReplaceKeys failed: %v", err)
	}

	keys, err := repo.FindKeys(ctx, issuer.ID)
	if err != nil {
		t.Fatalf("FindKeys failed: %v", err)
	}
	if len(keys) != 1 || keys[0].KeyID != "k3" {
		t.Fatalf("expected only k3, got %+v", keys)
	}

	key, err := repo.FindKey(ctx, issuer.ID, "k1")
	if err != nil {
		t.Fatalf("FindKey failed: %v", err)
	}
	if key != nil {
		t.Errorf("expected k1 to be discarded, got %+v", key)
	}
}

func TestIssuerRepository_ReplaceKeysFailureKeepsPreviousSet(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewIssuerRepository(db)
	issuer := createIssuer(t, repo, "https://issuer.example", nil)

	if err := repo.ReplaceKeys(ctx, issuer.ID, []*domain.IssuerKey{{KeyID: "k1", Data: []byte("{}")}}); err != nil {
		t.Fatalf("ReplaceKeys failed: %v", err)
	}

	// 重複した key_id は一意制約違反になり、トランザクション全体がロールバックされる
	duplicated := []*domain.IssuerKey{
		{KeyID: "k2", Data: []byte("{}")},
		{KeyID: "k2", Data: []byte("{}")},
	}
	if err := repo.ReplaceKeys(ctx, issuer.ID, duplicated); err == nil {
		t.Fatal("expected error for duplicated key ids, got nil")
	}

	keys, err := repo.FindKeys(ctx, issuer.ID)
	if err != nil {
		t.Fatalf("FindKeys failed: %v", err)
	}
	if len(keys) != 1 || keys[0].KeyID != "k1" {
		t.Errorf("expected previous key set [k1], got %+v", keys)
	}
}

func TestIssuerRepository_Purge(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewIssuerRepository(db)
	issuer := createIssuer(t, repo, "https://issuer.example", nil)
	if err := repo.ReplaceKeys(ctx, issuer.ID, []*domain.IssuerKey{{KeyID: "k1", Data: []byte("{}")}}); err != nil {
		t.Fatalf("ReplaceKeys failed: %v", err)
	}

	purged, err := repo.Purge(ctx, issuer.Iss)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if !purged {
		t.Error("expected purged=true")
	}

	var count int64
	if err := db.Model(&IssuerKeyModel{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 0 {
		t.Errorf("expected keys to be removed, got %d", count)
	}

	purged, err = repo.Purge(ctx, issuer.Iss)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if purged {
		t.Error("expected purged=false for missing issuer")
	}
}
