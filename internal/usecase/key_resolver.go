package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"shc-verification-service/internal/domain"
	"shc-verification-service/internal/metrics"
)

const (
	defaultKeySetTTL    = 6 * time.Hour
	defaultFetchTimeout = 10 * time.Second
	keySetCachePrefix   = "jwks:"
)

// KeySetFetcher は発行者のJWKセットを取得するインターフェース。
type KeySetFetcher interface {
	FetchKeySet(ctx context.Context, iss string) ([]byte, error)
}

// ExpiringCache は有効期限付きキャッシュのインターフェース。
type ExpiringCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// IssuerTrustStore はリゾルバが利用するトラストストアの操作。
type IssuerTrustStore interface {
	ResolveCanonical(ctx context.Context, iss string) (*domain.IssuerResolution, error)
	RecordFetchResult(ctx context.Context, issuerID string, success bool) error
	ReplaceKeys(ctx context.Context, issuerID string, keys []*domain.IssuerKey) error
	FindKey(ctx context.Context, issuerID, keyID string) (*domain.IssuerKey, error)
}

// KeyResolverConfig はKeyResolverの設定。
type KeyResolverConfig struct {
	KeySetTTL      time.Duration
	FetchTimeout   time.Duration
	AllowStaleKeys bool

	// MinRefreshInterval は未知の kid による再取得の最小間隔。0 なら制限しない。
	MinRefreshInterval time.Duration
}

// KeyResolver は発行者と鍵IDから検証用の公開鍵を解決する。
// 同一発行者への同時リフレッシュは singleflight で1回の取得にまとめる。
type KeyResolver struct {
	store   IssuerTrustStore
	cache   ExpiringCache
	fetcher KeySetFetcher
	cfg     KeyResolverConfig
	metrics *metrics.Metrics
	group   singleflight.Group
	recent  *gocache.Cache
}

// NewKeyResolver は新しいKeyResolverを生成する。
func NewKeyResolver(store IssuerTrustStore, cache ExpiringCache, fetcher KeySetFetcher, cfg KeyResolverConfig, m *metrics.Metrics) *KeyResolver {
	if cfg.KeySetTTL <= 0 {
		cfg.KeySetTTL = defaultKeySetTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	r := &KeyResolver{
		store:   store,
		cache:   cache,
		fetcher: fetcher,
		cfg:     cfg,
		metrics: m,
	}
	if cfg.MinRefreshInterval > 0 {
		r.recent = gocache.New(cfg.MinRefreshInterval, 2*cfg.MinRefreshInterval)
	}
	return r
}

// Resolve は iss と keyID に対応する公開鍵を返す。
func (r *KeyResolver) Resolve(ctx context.Context, iss, keyID string) (*domain.SigningKey, error) {
	resolution, err := r.canonicalize(ctx, iss)
	if err != nil {
		return nil, err
	}
	issuer := resolution.Issuer

	cached, set := r.cachedKeySet(ctx, issuer)
	if set != nil {
		if key, ok := set.LookupKeyID(keyID); ok {
			r.metrics.IncrementKeySetCache("hit")
			return toSigningKey(resolution, keyID, key)
		}
		if r.recentlyFetched(issuer.ID) {
			r.metrics.IncrementKeySetCache("throttled")
			return nil, fmt.Errorf("%w: %s (issuer %s)", domain.ErrUnknownKeyID, keyID, issuer.Iss)
		}
		// 鍵のローテーションに追従するためリフレッシュする
		r.metrics.IncrementKeySetCache("stale")
	} else {
		r.metrics.IncrementKeySetCache("miss")
	}

	set, err = r.refresh(ctx, issuer, cached, false)
	if err != nil {
		if r.cfg.AllowStaleKeys && errors.Is(err, domain.ErrIssuerUnreachable) {
			if signingKey, ok := r.staleKey(ctx, resolution, keyID); ok {
				return signingKey, nil
			}
		}
		return nil, err
	}

	key, ok := set.LookupKeyID(keyID)
	if !ok {
		return nil, fmt.Errorf("%w: %s (issuer %s)", domain.ErrUnknownKeyID, keyID, issuer.Iss)
	}
	return toSigningKey(resolution, keyID, key)
}

// Refresh は発行者の鍵セットを強制的に再取得し、取得した鍵数を返す。
func (r *KeyResolver) Refresh(ctx context.Context, iss string) (int, error) {
	resolution, err := r.canonicalize(ctx, iss)
	if err != nil {
		return 0, err
	}
	set, err := r.refresh(ctx, resolution.Issuer, nil, true)
	if err != nil {
		return 0, err
	}
	return set.Len(), nil
}

func (r *KeyResolver) canonicalize(ctx context.Context, iss string) (*domain.IssuerResolution, error) {
	resolution, err := r.store.ResolveCanonical(ctx, iss)
	if err == nil {
		return resolution, nil
	}
	switch {
	case errors.Is(err, domain.ErrUnresolvedAlias):
		return nil, fmt.Errorf("%w: %w", domain.ErrUnknownIssuer, err)
	case errors.Is(err, domain.ErrIssuerNotFound):
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownIssuer, iss)
	default:
		return nil, err
	}
}

// cachedKeySet はキャッシュ上の鍵セットを返す。キャッシュ障害はミスとして扱う。
func (r *KeyResolver) cachedKeySet(ctx context.Context, issuer *domain.Issuer) ([]byte, jwk.Set) {
	raw, found, err := r.cache.Get(ctx, cacheKey(issuer))
	if err != nil {
		slog.WarnContext(ctx, "key set cache unavailable, treating as miss",
			"operation", "resolve_key",
			"issuer_id", issuer.ID,
			"error", err,
		)
		return nil, nil
	}
	if !found {
		return nil, nil
	}
	set, err := jwk.Parse(raw)
	if err != nil {
		slog.WarnContext(ctx, "discarding unparsable cached key set",
			"operation", "resolve_key",
			"issuer_id", issuer.ID,
			"error", err,
		)
		return nil, nil
	}
	return raw, set
}

// refresh は鍵セットを取得する。同一発行者への同時呼び出しは1回の取得にまとめられる。
// seen は呼び出し側が参照したキャッシュ値で、キャッシュがそれと異なれば
// 他の呼び出しによって更新済みとみなし取得を省略する。force の場合は常に取得する。
func (r *KeyResolver) refresh(ctx context.Context, issuer *domain.Issuer, seen []byte, force bool) (jwk.Set, error) {
	ch := r.group.DoChan(issuer.ID, func() (interface{}, error) {
		// 呼び出し元が離脱しても取得と記録は完了させる
		detached := context.WithoutCancel(ctx)

		if !force {
			if raw, set := r.cachedKeySet(detached, issuer); set != nil && !bytes.Equal(raw, seen) {
				return set, nil
			}
		}
		return r.fetch(detached, issuer)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(jwk.Set), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *KeyResolver) fetch(ctx context.Context, issuer *domain.Issuer) (jwk.Set, error) {
	ctx, span := otel.Tracer("shc-verification-service/usecase").Start(ctx, "KeyResolver.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("shc.issuer", issuer.Iss))

	r.markFetched(issuer.ID)
	start := time.Now()
	set, err := r.fetchKeySet(ctx, issuer)
	if err != nil {
		r.metrics.ObserveKeySetFetch("error", time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		// 鍵の保存に失敗した場合は取得結果を記録せず、以前の状態を残す
		if errors.Is(err, domain.ErrPartialWrite) {
			return nil, err
		}
		if recErr := r.store.RecordFetchResult(ctx, issuer.ID, false); recErr != nil {
			slog.ErrorContext(ctx, "failed to record fetch failure",
				"operation", "fetch_key_set",
				"issuer_id", issuer.ID,
				"error", recErr,
			)
		}
		slog.WarnContext(ctx, "key set fetch failed",
			"operation", "fetch_key_set",
			"iss", issuer.Iss,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrIssuerUnreachable, issuer.Iss, err)
	}
	r.metrics.ObserveKeySetFetch("success", time.Since(start).Seconds())
	return set, nil
}

func (r *KeyResolver) fetchKeySet(ctx context.Context, issuer *domain.Issuer) (jwk.Set, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	raw, err := r.fetcher.FetchKeySet(fetchCtx, issuer.Iss)
	cancel()
	if err != nil {
		return nil, err
	}
	parsed, err := jwk.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing key set: %w", err)
	}
	// 同じ kid が重複する場合は後勝ちとし、保存とキャッシュの内容を揃える
	set, err := normalizeKeySet(parsed)
	if err != nil {
		return nil, err
	}
	if set.Len() != parsed.Len() {
		slog.WarnContext(ctx, "key set contains duplicate or missing kid",
			"operation", "fetch_key_set",
			"iss", issuer.Iss,
			"fetched", parsed.Len(),
			"kept", set.Len(),
		)
		if raw, err = json.Marshal(set); err != nil {
			return nil, fmt.Errorf("encoding key set: %w", err)
		}
	}
	keys, err := issuerKeysFromSet(issuer.ID, set)
	if err != nil {
		return nil, err
	}

	if err := r.store.ReplaceKeys(ctx, issuer.ID, keys); err != nil {
		return nil, err
	}
	if err := r.cache.Put(ctx, cacheKey(issuer), raw, r.cfg.KeySetTTL); err != nil {
		slog.WarnContext(ctx, "failed to cache key set",
			"operation", "fetch_key_set",
			"issuer_id", issuer.ID,
			"error", err,
		)
	}
	if err := r.store.RecordFetchResult(ctx, issuer.ID, true); err != nil {
		slog.ErrorContext(ctx, "failed to record fetch success",
			"operation", "fetch_key_set",
			"issuer_id", issuer.ID,
			"error", err,
		)
	}
	return set, nil
}

// staleKey は取得失敗時にトラストストアに保存済みの鍵を返す。
func (r *KeyResolver) staleKey(ctx context.Context, resolution *domain.IssuerResolution, keyID string) (*domain.SigningKey, bool) {
	issuer := resolution.Issuer
	stored, err := r.store.FindKey(ctx, issuer.ID, keyID)
	if err != nil {
		return nil, false
	}
	pub, err := publicKeyFromData(stored.Data)
	if err != nil {
		slog.WarnContext(ctx, "stored key is unusable",
			"operation", "resolve_stale_key",
			"issuer_id", issuer.ID,
			"key_id", keyID,
			"error", err,
		)
		return nil, false
	}
	r.metrics.IncrementStaleKeysServed()
	slog.WarnContext(ctx, "serving stored key after failed fetch",
		"operation", "resolve_stale_key",
		"iss", issuer.Iss,
		"key_id", keyID,
	)
	return &domain.SigningKey{
		Resolution: resolution,
		KeyID:      keyID,
		PublicKey:  pub,
		Degraded:   true,
	}, true
}

// recentlyFetched は最小間隔内に発行者の鍵セットを取得済みかを返す。
func (r *KeyResolver) recentlyFetched(issuerID string) bool {
	if r.recent == nil {
		return false
	}
	_, found := r.recent.Get(issuerID)
	return found
}

func (r *KeyResolver) markFetched(issuerID string) {
	if r.recent != nil {
		r.recent.SetDefault(issuerID, struct{}{})
	}
}

func toSigningKey(resolution *domain.IssuerResolution, keyID string, key jwk.Key) (*domain.SigningKey, error) {
	pub, err := publicKeyFromJWK(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrUnknownKeyID, keyID, err)
	}
	return &domain.SigningKey{
		Resolution: resolution,
		KeyID:      keyID,
		PublicKey:  pub,
	}, nil
}

func cacheKey(issuer *domain.Issuer) string {
	return keySetCachePrefix + issuer.ID
}
