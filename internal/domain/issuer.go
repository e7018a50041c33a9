// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import (
	"crypto/ecdsa"
	"time"
)

// Issuer はヘルスカード発行者のIDレコードを表す。
type Issuer struct {
	ID      string
	Iss     string
	Name    string
	Website string
	// CanonicalIss は別名の場合の正規発行者URL。正規化は1ホップのみ。
	CanonicalIss *string
	UpdatedAt    time.Time
	// Error は直近の鍵セット取得が失敗したかどうか。
	Error bool
}

// IsAlias は発行者が別の発行者の別名として登録されているか返す。
func (i *Issuer) IsAlias() bool {
	return i.CanonicalIss != nil && *i.CanonicalIss != ""
}

// IssuerKey は発行者の署名鍵（JWK）を表す。
type IssuerKey struct {
	ID       string
	IssuerID string
	KeyID    string
	Data     []byte // JWKのJSON表現
}

// ResolutionKind は発行者の正規化結果の種別を表す。
type ResolutionKind string

const (
	// ResolutionDirect は別名を経由せずに解決されたことを表す。
	ResolutionDirect ResolutionKind = "direct"
	// ResolutionAliased は canonical_iss を1回辿って解決されたことを表す。
	ResolutionAliased ResolutionKind = "aliased"
)

// IssuerResolution は発行者の正規化結果を表す。
type IssuerResolution struct {
	RequestedIss string
	Issuer       *Issuer
	Kind         ResolutionKind
}

// SigningKey は検証に使用する公開鍵を表す。
type SigningKey struct {
	// Resolution は鍵を解決した際の発行者の正規化結果。
	Resolution *IssuerResolution
	KeyID      string
	PublicKey  *ecdsa.PublicKey
	// Degraded は取得失敗時に保存済みの鍵で代替したことを表す。
	Degraded bool
}
