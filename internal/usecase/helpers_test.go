package usecase

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/require"

	"shc-verification-service/internal/cache"
	"shc-verification-service/internal/domain"
	"shc-verification-service/internal/repository"
	"shc-verification-service/internal/testutil"
	"shc-verification-service/pkg/shc"
)

const (
	testIss      = "https://spec.smarthealth.cards/examples/issuer"
	testAliasIss = "https://alias.example/issuer"
)

// testEnv はSQLite上のトラストストアとメモリキャッシュからなるテスト環境。
type testEnv struct {
	repo    *repository.IssuerRepository
	cvxRepo *repository.CVXCodeRepository
	store   *TrustStore
	cache   *cache.Memory
	fetcher *fakeFetcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	repo := repository.NewIssuerRepository(db)
	return &testEnv{
		repo:    repo,
		cvxRepo: repository.NewCVXCodeRepository(db),
		store:   NewTrustStore(repo),
		cache:   cache.NewMemory(""),
		fetcher: newFakeFetcher(),
	}
}

func (e *testEnv) resolver(cfg KeyResolverConfig) *KeyResolver {
	return NewKeyResolver(e.store, e.cache, e.fetcher, cfg, nil)
}

func (e *testEnv) register(t *testing.T, iss string, canonical string) *domain.Issuer {
	t.Helper()
	issuer := &domain.Issuer{
		Iss:       iss,
		Name:      "Test Issuer",
		UpdatedAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if canonical != "" {
		issuer.CanonicalIss = &canonical
	}
	require.NoError(t, e.store.Register(context.Background(), issuer))
	return issuer
}

// signingKey はテスト用の発行者署名鍵。
type signingKey struct {
	kid  string
	priv *ecdsa.PrivateKey
}

func newSigningKey(t *testing.T, kid string) *signingKey {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return &signingKey{kid: kid, priv: priv}
}

// keySetJSON は公開鍵からJWKセットのJSONを生成する。
func keySetJSON(t *testing.T, keys ...*signingKey) []byte {
	t.Helper()
	set := jwk.NewSet()
	for _, k := range keys {
		key, err := jwk.Import(&k.priv.PublicKey)
		require.NoError(t, err)
		require.NoError(t, key.Set(jwk.KeyIDKey, k.kid))
		require.NoError(t, set.AddKey(key))
	}
	data, err := json.Marshal(set)
	require.NoError(t, err)
	return data
}

// signCredential はペイロードを zip=DEF で圧縮してES256で署名する。
func signCredential(t *testing.T, key *signingKey, payload []byte) string {
	t.Helper()
	header, err := json.Marshal(map[string]string{"alg": "ES256", "kid": key.kid, "zip": shc.ZipDeflate})
	require.NoError(t, err)
	body, err := shc.Deflate(payload)
	require.NoError(t, err)

	signingInput := base64.RawURLEncoding.EncodeToString(header) + "." + base64.RawURLEncoding.EncodeToString(body)
	sig, err := jwt.SigningMethodES256.Sign(signingInput, key.priv)
	require.NoError(t, err)
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}

// healthCardPayload は最小限のヘルスカードペイロードを生成する。
func healthCardPayload(iss string, codes ...string) []byte {
	entries := []map[string]any{
		{
			"fullUrl": "resource:0",
			"resource": map[string]any{
				"resourceType": "Patient",
				"name":         []map[string]any{{"family": "Anyperson", "given": []string{"John", "B."}}},
				"birthDate":    "1951-01-20",
			},
		},
	}
	for i, code := range codes {
		entries = append(entries, map[string]any{
			"fullUrl": fmt.Sprintf("resource:%d", i+1),
			"resource": map[string]any{
				"resourceType": "Immunization",
				"status":       "completed",
				"vaccineCode": map[string]any{
					"coding": []map[string]string{{"system": domain.CVXSystem, "code": code}},
				},
				"patient":            map[string]string{"reference": "resource:0"},
				"occurrenceDateTime": "2021-01-01",
				"performer":          []map[string]any{{"actor": map[string]string{"display": "ABC General Hospital"}}},
				"lotNumber":          "0000001",
			},
		})
	}
	payload := map[string]any{
		"iss": iss,
		"nbf": 1609459200,
		"vc": map[string]any{
			"type": []string{"https://smarthealth.cards#health-card", "https://smarthealth.cards#immunization"},
			"credentialSubject": map[string]any{
				"fhirVersion": "4.0.1",
				"fhirBundle": map[string]any{
					"resourceType": "Bundle",
					"type":         "collection",
					"entry":        entries,
				},
			},
		},
	}
	data, _ := json.Marshal(payload)
	return data
}

// fakeFetcher はリモート鍵セット取得のテスト用実装。
type fakeFetcher struct {
	mu      sync.Mutex
	sets    map[string][]byte
	err     error
	block   chan struct{} // nil でなければ close されるまで待つ
	hang    bool          // ctx が終わるまで応答しない
	calls   atomic.Int32
	started chan struct{}
	once    sync.Once
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{sets: make(map[string][]byte), started: make(chan struct{})}
}

func (f *fakeFetcher) setKeys(iss string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets[iss] = data
}

func (f *fakeFetcher) FetchKeySet(ctx context.Context, iss string) ([]byte, error) {
	f.calls.Add(1)
	f.once.Do(func() { close(f.started) })

	f.mu.Lock()
	block, hang, err := f.block, f.hang, f.err
	data, ok := f.sets[iss]
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("404 not found")
	}
	return data, nil
}

// failingCache は常に ErrCacheUnavailable を返すキャッシュ。
type failingCache struct{}

func (failingCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, fmt.Errorf("%w: connection refused", domain.ErrCacheUnavailable)
}

func (failingCache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return fmt.Errorf("%w: connection refused", domain.ErrCacheUnavailable)
}
