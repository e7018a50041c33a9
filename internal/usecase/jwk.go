package usecase

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/json"
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jwk"

	"shc-verification-service/internal/domain"
)

// normalizeKeySet は kid ごとに最後に現れた鍵だけを残した鍵セットを返す。
// kid を持たない鍵は除く。
func normalizeKeySet(set jwk.Set) (jwk.Set, error) {
	last := make(map[string]int, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		if kid, ok := key.KeyID(); ok && kid != "" {
			last[kid] = i
		}
	}

	normalized := jwk.NewSet()
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		kid, ok := key.KeyID()
		if !ok || kid == "" || last[kid] != i {
			continue
		}
		if err := normalized.AddKey(key); err != nil {
			return nil, fmt.Errorf("adding jwk %s: %w", kid, err)
		}
	}
	return normalized, nil
}

// issuerKeysFromSet はJWKセットを保存用の鍵に変換する。kid を持たない鍵は無視する。
func issuerKeysFromSet(issuerID string, set jwk.Set) ([]*domain.IssuerKey, error) {
	keys := make([]*domain.IssuerKey, 0, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		kid, ok := key.KeyID()
		if !ok || kid == "" {
			continue
		}
		data, err := json.Marshal(key)
		if err != nil {
			return nil, fmt.Errorf("encoding jwk %s: %w", kid, err)
		}
		keys = append(keys, &domain.IssuerKey{
			IssuerID: issuerID,
			KeyID:    kid,
			Data:     data,
		})
	}
	return keys, nil
}

// publicKeyFromJWK はJWKをES256用のP-256公開鍵に変換する。
func publicKeyFromJWK(key jwk.Key) (*ecdsa.PublicKey, error) {
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("exporting jwk: %w", err)
	}

	var pub *ecdsa.PublicKey
	switch k := raw.(type) {
	case *ecdsa.PublicKey:
		pub = k
	case *ecdsa.PrivateKey:
		pub = &k.PublicKey
	default:
		return nil, fmt.Errorf("unsupported key type %T", raw)
	}
	if pub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("unsupported curve %s", pub.Curve.Params().Name)
	}
	return pub, nil
}

// publicKeyFromData は保存済みのJWK(JSON)を公開鍵に変換する。
func publicKeyFromData(data []byte) (*ecdsa.PublicKey, error) {
	key, err := jwk.ParseKey(data)
	if err != nil {
		return nil, fmt.Errorf("parsing stored jwk: %w", err)
	}
	return publicKeyFromJWK(key)
}
