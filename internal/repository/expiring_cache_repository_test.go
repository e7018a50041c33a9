package repository

import (
	"context"
	"testing"
	"time"

	"shc-verification-service/internal/domain"
)

func TestExpiringCacheRepository_UpsertAndFindLive(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewExpiringCacheRepository(db)
	now := time.Now().UTC()

	entry := &domain.CachedEntry{Key: "jwks:issuer-1", Value: []byte(`{"keys":[]}`), ExpiresAt: now.Add(time.Hour)}
	if err := repo.Upsert(ctx, entry); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := repo.FindLive(ctx, "jwks:issuer-1", now)
	if err != nil {
		t.Fatalf("FindLive failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected entry, got nil")
	}
	if string(got.Value) != `{"keys":[]}` {
		t.Errorf("unexpected value: %s", got.Value)
	}

	// 存在しないキー
	got, err = repo.FindLive(ctx, "jwks:missing", now)
	if err != nil {
		t.Fatalf("FindLive failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestExpiringCacheRepository_ExpiredEntryIsNotReturned(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewExpiringCacheRepository(db)
	now := time.Now().UTC()

	entry := &domain.CachedEntry{Key: "cvx_codes", Value: []byte("data"), ExpiresAt: now.Add(-time.Second)}
	if err := repo.Upsert(ctx, entry); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := repo.FindLive(ctx, "cvx_codes", now)
	if err != nil {
		t.Fatalf("FindLive failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected expired entry to be absent, got %+v", got)
	}
}

func TestExpiringCacheRepository_UpsertReplacesExistingRow(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewExpiringCacheRepository(db)
	now := time.Now().UTC()

	for _, v := range []string{"old", "new"} {
		entry := &domain.CachedEntry{Key: "k", Value: []byte(v), ExpiresAt: now.Add(time.Hour)}
		if err := repo.Upsert(ctx, entry); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	var count int64
	if err := db.Model(&ExpiringCacheModel{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 row, got %d", count)
	}

	got, err := repo.FindLive(ctx, "k", now)
	if err != nil {
		t.Fatalf("FindLive failed: %v", err)
	}
	if got == nil || string(got.Value) != "new" {
		t.Errorf("expected value=new, got %+v", got)
	}
}

func TestExpiringCacheRepository_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewExpiringCacheRepository(db)
	now := time.Now().UTC()

	entries := []*domain.CachedEntry{
		{Key: "expired-1", Value: []byte("a"), ExpiresAt: now.Add(-time.Hour)},
		{Key: "expired-2", Value: []byte("b"), ExpiresAt: now.Add(-time.Minute)},
		{Key: "live", Value: []byte("c"), ExpiresAt: now.Add(time.Hour)},
	}
	for _, e := range entries {
		if err := repo.Upsert(ctx, e); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	removed, err := repo.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}

	got, err := repo.FindLive(ctx, "live", now)
	if err != nil {
		t.Fatalf("FindLive failed: %v", err)
	}
	if got == nil {
		t.Error("expected live entry to remain")
	}
}
