package domain

import (
	"encoding/json"
	"time"
)

// VerificationState は検証パイプラインの状態を表す。
type VerificationState string

const (
	StateReceived          VerificationState = "received"
	StateIssuerResolving   VerificationState = "issuer_resolving"
	StateKeyResolving      VerificationState = "key_resolving"
	StateSignatureChecking VerificationState = "signature_checking"
	StatePayloadDecoding   VerificationState = "payload_decoding"
	StateCodeValidating    VerificationState = "code_validating"
	StateVerified          VerificationState = "verified"
	StateRejected          VerificationState = "rejected"
)

// Patient はペイロード中の患者情報。
type Patient struct {
	FamilyName string
	GivenNames []string
	BirthDate  string
}

// Immunization はペイロード中の接種記録。
type Immunization struct {
	System         string
	Code           string
	Status         string
	OccurrenceDate string
	LotNumber      string
	Performers     []string
}

// HealthCardPayload は検証済みペイロードのうちアプリケーションが扱う部分。
type HealthCardPayload struct {
	Iss           string
	NotBefore     time.Time
	Types         []string
	Patient       *Patient
	Immunizations []Immunization
	Raw           json.RawMessage
}

// WarningKind は検証結果に付与される警告の種別。
type WarningKind string

const (
	// WarningUnrecognizedVaccineCode はレジストリに存在しないワクチンコード。
	WarningUnrecognizedVaccineCode WarningKind = "UnrecognizedVaccineCode"
	// WarningVaccineRegistryUnavailable はレジストリ障害でコードを確認できなかったことを表す。
	WarningVaccineRegistryUnavailable WarningKind = "VaccineRegistryUnavailable"
)

// Warning は検証を失敗させないデータ品質上の警告。
type Warning struct {
	Kind WarningKind
	Code string
}

// VerifiedCredential は検証に成功したクレデンシャルを表す。
type VerifiedCredential struct {
	State      VerificationState
	Resolution *IssuerResolution
	KeyID      string
	Degraded   bool
	Payload    *HealthCardPayload
	Warnings   []Warning
}
