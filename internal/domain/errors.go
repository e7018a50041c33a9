package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedCredential はクレデンシャルの形式が不正な場合のエラー。
	ErrMalformedCredential = errors.New("malformed credential")

	// ErrIssuerNotFound は発行者が登録されていない場合のエラー。
	ErrIssuerNotFound = errors.New("issuer not found")

	// ErrInvalidIssuer は iss がURLとして不正な場合のエラー。
	ErrInvalidIssuer = errors.New("invalid issuer url")

	// ErrUnknownIssuer は信頼できる発行者として解決できない場合のエラー。
	ErrUnknownIssuer = errors.New("unknown issuer")

	// ErrUnresolvedAlias は canonical_iss が有効な発行者を指していない場合のエラー。
	ErrUnresolvedAlias = errors.New("unresolved issuer alias")

	// ErrIssuerUnreachable は発行者の鍵セットを取得できなかった場合のエラー。
	ErrIssuerUnreachable = errors.New("issuer unreachable")

	// ErrUnknownKeyID は発行者の鍵セットに指定された鍵IDが存在しない場合のエラー。
	ErrUnknownKeyID = errors.New("unknown key id")

	// ErrCacheUnavailable はキャッシュストレージが利用できない場合のエラー。
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrPartialWrite は鍵セットの置き換えが途中で失敗した場合のエラー。
	ErrPartialWrite = errors.New("partial write failure")

	// ErrSignatureInvalid は署名検証に失敗した場合のエラー。
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrPayloadInvalid は検証済みペイロードを解釈できない場合のエラー。
	ErrPayloadInvalid = errors.New("payload invalid")

	// ErrVaccineCodeNotFound はワクチンコードが存在しない場合のエラー。
	ErrVaccineCodeNotFound = errors.New("vaccine code not found")

	// ErrInvalidFeed はCVXフィードやディレクトリの形式が不正な場合のエラー。
	ErrInvalidFeed = errors.New("invalid feed")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)

// ErrorKind は検証失敗の理由を表す。
type ErrorKind string

const (
	KindMalformedCredential ErrorKind = "MalformedCredential"
	KindUnknownIssuer       ErrorKind = "UnknownIssuer"
	KindUnresolvedAlias     ErrorKind = "UnresolvedAlias"
	KindIssuerUnreachable   ErrorKind = "IssuerUnreachable"
	KindUnknownKeyID        ErrorKind = "UnknownKeyId"
	KindCacheUnavailable    ErrorKind = "CacheUnavailable"
	KindSignatureInvalid    ErrorKind = "SignatureInvalid"
	KindPayloadInvalid      ErrorKind = "PayloadInvalid"
	KindInternal            ErrorKind = "Internal"
)

// VerificationError は検証パイプラインが返す拒否理由。
type VerificationError struct {
	Kind    ErrorKind
	Stage   VerificationState // 失敗した段階
	Subject string            // 対象の識別子（iss, kid など）
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *VerificationError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s at %s (%s): %v", e.Kind, e.Stage, e.Subject, e.Err)
	}
	return fmt.Sprintf("%s at %s: %v", e.Kind, e.Stage, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *VerificationError) Unwrap() error {
	return e.Err
}

// Retryable は呼び出し側がバックオフ付きで再試行してよいか返す。
func (e *VerificationError) Retryable() bool {
	return e.Kind == KindIssuerUnreachable || e.Kind == KindCacheUnavailable
}

// KindOf はエラーチェーンから検証失敗の種別を判定する。
// UnresolvedAlias は UnknownIssuer より具体的なので先に判定する。
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrMalformedCredential):
		return KindMalformedCredential
	case errors.Is(err, ErrUnresolvedAlias):
		return KindUnresolvedAlias
	case errors.Is(err, ErrUnknownIssuer), errors.Is(err, ErrIssuerNotFound):
		return KindUnknownIssuer
	case errors.Is(err, ErrIssuerUnreachable):
		return KindIssuerUnreachable
	case errors.Is(err, ErrUnknownKeyID):
		return KindUnknownKeyID
	case errors.Is(err, ErrCacheUnavailable):
		return KindCacheUnavailable
	case errors.Is(err, ErrSignatureInvalid):
		return KindSignatureInvalid
	case errors.Is(err, ErrPayloadInvalid):
		return KindPayloadInvalid
	default:
		return KindInternal
	}
}
