package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"shc-verification-service/internal/domain"
	"shc-verification-service/internal/metrics"
	"shc-verification-service/pkg/shc"
)

const supportedAlgorithm = "ES256"

// SigningKeyResolver は発行者と鍵IDから公開鍵を解決するインターフェース。
type SigningKeyResolver interface {
	Resolve(ctx context.Context, iss, keyID string) (*domain.SigningKey, error)
}

// VaccineCodeLookup はCVXコードの参照インターフェース。
type VaccineCodeLookup interface {
	LookupString(ctx context.Context, code string) (*domain.VaccineCode, error)
}

// VerificationService はヘルスカードの検証パイプラインを提供する。
type VerificationService struct {
	resolver SigningKeyResolver
	registry VaccineCodeLookup
	metrics  *metrics.Metrics
}

// NewVerificationService は新しいVerificationServiceを生成する。
func NewVerificationService(resolver SigningKeyResolver, registry VaccineCodeLookup, m *metrics.Metrics) *VerificationService {
	return &VerificationService{
		resolver: resolver,
		registry: registry,
		metrics:  m,
	}
}

// VerifyQR は shc:/ 形式のQRペイロードを検証する。
func (s *VerificationService) VerifyQR(ctx context.Context, qr string) (*domain.VerifiedCredential, error) {
	compact, err := shc.DecodeQR(qr)
	if err != nil {
		return nil, s.reject(ctx, domain.KindMalformedCredential, domain.StateReceived, "", fmt.Errorf("%w: %v", domain.ErrMalformedCredential, err))
	}
	return s.Verify(ctx, compact)
}

// Verify はコンパクトJWS形式のクレデンシャルを検証する。
// 失敗時は *domain.VerificationError を返す。警告は検証結果を失敗させない。
func (s *VerificationService) Verify(ctx context.Context, compact string) (*domain.VerifiedCredential, error) {
	// Received: 外側のエンコードを解く
	jws, err := shc.Parse(compact)
	if err != nil {
		return nil, s.reject(ctx, domain.KindMalformedCredential, domain.StateReceived, "", fmt.Errorf("%w: %v", domain.ErrMalformedCredential, err))
	}
	if jws.Header.Algorithm != supportedAlgorithm {
		return nil, s.reject(ctx, domain.KindMalformedCredential, domain.StateReceived, jws.Header.Algorithm,
			fmt.Errorf("%w: unsupported alg %q", domain.ErrMalformedCredential, jws.Header.Algorithm))
	}
	if jws.Header.KeyID == "" {
		return nil, s.reject(ctx, domain.KindMalformedCredential, domain.StateReceived, "",
			fmt.Errorf("%w: missing kid", domain.ErrMalformedCredential))
	}
	body, err := jws.Body()
	if err != nil {
		return nil, s.reject(ctx, domain.KindMalformedCredential, domain.StateReceived, "", fmt.Errorf("%w: %v", domain.ErrMalformedCredential, err))
	}
	iss, err := readIssuer(body)
	if err != nil {
		return nil, s.reject(ctx, domain.KindMalformedCredential, domain.StateReceived, "", err)
	}

	// IssuerResolving / KeyResolving
	key, err := s.resolver.Resolve(ctx, iss, jws.Header.KeyID)
	if err != nil {
		kind := domain.KindOf(err)
		stage := domain.StateKeyResolving
		subject := jws.Header.KeyID
		if kind == domain.KindUnknownIssuer || kind == domain.KindUnresolvedAlias {
			stage = domain.StateIssuerResolving
			subject = iss
		}
		return nil, s.reject(ctx, kind, stage, subject, err)
	}

	// SignatureChecking: 署名失敗は再試行しない
	if err := jwt.SigningMethodES256.Verify(jws.SigningInput, jws.Signature, key.PublicKey); err != nil {
		return nil, s.reject(ctx, domain.KindSignatureInvalid, domain.StateSignatureChecking, jws.Header.KeyID,
			fmt.Errorf("%w: %v", domain.ErrSignatureInvalid, err))
	}

	// PayloadDecoding
	payload, err := decodePayload(body)
	if err != nil {
		return nil, s.reject(ctx, domain.KindPayloadInvalid, domain.StatePayloadDecoding, iss, err)
	}

	// CodeValidating
	warnings := s.validateCodes(ctx, payload.Immunizations)

	s.metrics.IncrementVerification("verified")
	s.metrics.AddWarnings(len(warnings))
	return &domain.VerifiedCredential{
		State:      domain.StateVerified,
		Resolution: key.Resolution,
		KeyID:      key.KeyID,
		Degraded:   key.Degraded,
		Payload:    payload,
		Warnings:   warnings,
	}, nil
}

func (s *VerificationService) validateCodes(ctx context.Context, immunizations []domain.Immunization) []domain.Warning {
	var warnings []domain.Warning
	for _, imm := range immunizations {
		if imm.System != domain.CVXSystem {
			continue
		}
		_, err := s.registry.LookupString(ctx, imm.Code)
		if err == nil {
			continue
		}
		kind := domain.WarningUnrecognizedVaccineCode
		if !errors.Is(err, domain.ErrVaccineCodeNotFound) {
			slog.ErrorContext(ctx, "failed to look up vaccine code",
				"operation", "validate_codes",
				"code", imm.Code,
				"error", err,
			)
			kind = domain.WarningVaccineRegistryUnavailable
		}
		warnings = append(warnings, domain.Warning{
			Kind: kind,
			Code: imm.Code,
		})
	}
	return warnings
}

func (s *VerificationService) reject(ctx context.Context, kind domain.ErrorKind, stage domain.VerificationState, subject string, err error) error {
	s.metrics.IncrementVerification(string(kind))
	slog.InfoContext(ctx, "credential rejected",
		"operation", "verify",
		"kind", kind,
		"stage", stage,
		"subject", subject,
		"error", err,
	)
	return &domain.VerificationError{
		Kind:    kind,
		Stage:   stage,
		Subject: subject,
		Err:     err,
	}
}

// readIssuer は署名検証前のペイロードから iss だけを読み取る。
func readIssuer(body []byte) (string, error) {
	var claims struct {
		Iss string `json:"iss"`
	}
	if err := json.Unmarshal(body, &claims); err != nil {
		return "", fmt.Errorf("%w: payload is not json: %v", domain.ErrMalformedCredential, err)
	}
	if claims.Iss == "" {
		return "", fmt.Errorf("%w: missing iss", domain.ErrMalformedCredential)
	}
	return claims.Iss, nil
}

type healthCardClaims struct {
	Iss string  `json:"iss"`
	Nbf float64 `json:"nbf"`
	VC  struct {
		Type              []string `json:"type"`
		CredentialSubject struct {
			FHIRBundle *struct {
				Entry []struct {
					Resource json.RawMessage `json:"resource"`
				} `json:"entry"`
			} `json:"fhirBundle"`
		} `json:"credentialSubject"`
	} `json:"vc"`
}

type fhirPatient struct {
	Name []struct {
		Family string   `json:"family"`
		Given  []string `json:"given"`
	} `json:"name"`
	BirthDate string `json:"birthDate"`
}

type fhirImmunization struct {
	Status      string `json:"status"`
	VaccineCode struct {
		Coding []struct {
			System string `json:"system"`
			Code   string `json:"code"`
		} `json:"coding"`
	} `json:"vaccineCode"`
	OccurrenceDateTime string `json:"occurrenceDateTime"`
	LotNumber          string `json:"lotNumber"`
	Performer          []struct {
		Actor struct {
			Display string `json:"display"`
		} `json:"actor"`
	} `json:"performer"`
}

// decodePayload は署名検証済みのペイロードからFHIRバンドルの必要部分を取り出す。
func decodePayload(body []byte) (*domain.HealthCardPayload, error) {
	var claims healthCardClaims
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPayloadInvalid, err)
	}
	bundle := claims.VC.CredentialSubject.FHIRBundle
	if bundle == nil {
		return nil, fmt.Errorf("%w: missing fhirBundle", domain.ErrPayloadInvalid)
	}

	payload := &domain.HealthCardPayload{
		Iss:   claims.Iss,
		Types: claims.VC.Type,
		Raw:   json.RawMessage(body),
	}
	if claims.Nbf > 0 {
		payload.NotBefore = time.Unix(int64(claims.Nbf), 0).UTC()
	}

	for i, entry := range bundle.Entry {
		var head struct {
			ResourceType string `json:"resourceType"`
		}
		if err := json.Unmarshal(entry.Resource, &head); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", domain.ErrPayloadInvalid, i, err)
		}

		switch head.ResourceType {
		case "Patient":
			var p fhirPatient
			if err := json.Unmarshal(entry.Resource, &p); err != nil {
				return nil, fmt.Errorf("%w: entry %d: %v", domain.ErrPayloadInvalid, i, err)
			}
			patient := &domain.Patient{BirthDate: p.BirthDate}
			if len(p.Name) > 0 {
				patient.FamilyName = p.Name[0].Family
				patient.GivenNames = p.Name[0].Given
			}
			payload.Patient = patient
		case "Immunization":
			var im fhirImmunization
			if err := json.Unmarshal(entry.Resource, &im); err != nil {
				return nil, fmt.Errorf("%w: entry %d: %v", domain.ErrPayloadInvalid, i, err)
			}
			imm := domain.Immunization{
				Status:         im.Status,
				OccurrenceDate: im.OccurrenceDateTime,
				LotNumber:      im.LotNumber,
			}
			// CVXのコーディングを優先する
			for j, c := range im.VaccineCode.Coding {
				if j == 0 || c.System == domain.CVXSystem {
					imm.System = c.System
					imm.Code = c.Code
				}
				if c.System == domain.CVXSystem {
					break
				}
			}
			for _, p := range im.Performer {
				if p.Actor.Display != "" {
					imm.Performers = append(imm.Performers, p.Actor.Display)
				}
			}
			payload.Immunizations = append(payload.Immunizations, imm)
		}
	}
	return payload, nil
}
