package usecase

import (
	"context"
	"errors"
	"testing"

	"shc-verification-service/internal/cache"
	"shc-verification-service/internal/domain"
)

const sampleCVXFeed = `207|COVID-19, mRNA, LNP-S, PF, 100 mcg/0.5mL dose|SARS-COV-2 (COVID-19) vaccine, mRNA, spike protein, LNP, preservative free, 100 mcg/0.5mL dose||Vaccine|Inactive|2023/09/12
208|COVID-19, mRNA, LNP-S, PF, 30 mcg/0.3 mL dose|SARS-COV-2 (COVID-19) vaccine, mRNA, spike protein, LNP, preservative free, 30 mcg/0.3mL dose|EUA|Vaccine|Inactive|2023/09/12
`

// mockURLFetcher はテスト用のモック。
type mockURLFetcher struct {
	body  []byte
	err   error
	calls int
}

func (m *mockURLFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	m.calls++
	return m.body, m.err
}

func TestParseCVXFeed(t *testing.T) {
	codes, err := ParseCVXFeed([]byte(sampleCVXFeed))
	if err != nil {
		t.Fatalf("ParseCVXFeed failed: %v", err)
	}
	if len(codes) != 2 {
		t.Fatalf("expected 2 codes, got %d", len(codes))
	}
	if codes[0].Code != 207 || codes[0].VaccineStatus != "Inactive" {
		t.Errorf("unexpected code: %+v", codes[0])
	}
	if codes[1].Notes != "EUA" {
		t.Errorf("expected notes EUA, got %q", codes[1].Notes)
	}
	if codes[0].LastUpdated.Year() != 2023 || codes[0].LastUpdated.Month() != 9 || codes[0].LastUpdated.Day() != 12 {
		t.Errorf("unexpected last_updated: %v", codes[0].LastUpdated)
	}
}

func TestParseCVXFeed_Invalid(t *testing.T) {
	tests := []struct {
		name string
		feed string
	}{
		{"too few fields", "207|short|full"},
		{"non numeric code", "abc|s|f||Vaccine|Active|2023/09/12"},
		{"bad date", "207|s|f||Vaccine|Active|12-09-2023"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCVXFeed([]byte(tt.feed))
			if !errors.Is(err, domain.ErrInvalidFeed) {
				t.Errorf("want ErrInvalidFeed, got %v", err)
			}
		})
	}
}

func TestCVXImportService_ImportUsesCachedFeed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	fetcher := &mockURLFetcher{body: []byte(sampleCVXFeed)}
	registry := NewVaccineRegistry(env.cvxRepo)
	service := NewCVXImportService(env.cvxRepo, cache.NewMemory(""), fetcher, "https://example.org/cvx.txt", registry)

	// インポート前は未登録
	if _, err := registry.Lookup(ctx, 208); !errors.Is(err, domain.ErrVaccineCodeNotFound) {
		t.Fatalf("want ErrVaccineCodeNotFound, got %v", err)
	}

	for i := 0; i < 2; i++ {
		n, err := service.Import(ctx)
		if err != nil {
			t.Fatalf("Import failed: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 imported, got %d", n)
		}
	}
	if fetcher.calls != 1 {
		t.Errorf("expected feed to be fetched once, got %d", fetcher.calls)
	}

	vc, err := registry.Lookup(ctx, 208)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if vc.Notes != "EUA" {
		t.Errorf("expected notes EUA, got %q", vc.Notes)
	}
}

func TestCVXImportService_FetchError(t *testing.T) {
	env := newTestEnv(t)
	fetcher := &mockURLFetcher{err: errors.New("503")}
	service := NewCVXImportService(env.cvxRepo, nil, fetcher, "https://example.org/cvx.txt", nil)

	if _, err := service.Import(context.Background()); err == nil {
		t.Error("expected error, got nil")
	}
}
