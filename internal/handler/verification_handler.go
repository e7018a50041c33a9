// Package handler はHTTPハンドラを提供する。
package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"shc-verification-service/internal/domain"
	"shc-verification-service/internal/middleware"
	"shc-verification-service/pkg/httputil"
)

const maxVerificationBody = 64 << 10

// CredentialVerifier はクレデンシャル検証のインターフェース。
type CredentialVerifier interface {
	VerifyQR(ctx context.Context, qr string) (*domain.VerifiedCredential, error)
	Verify(ctx context.Context, compact string) (*domain.VerifiedCredential, error)
}

// VerificationHandler は検証APIのハンドラ。
type VerificationHandler struct {
	verifier CredentialVerifier
}

// NewVerificationHandler は新しいVerificationHandlerを生成する。
func NewVerificationHandler(verifier CredentialVerifier) *VerificationHandler {
	return &VerificationHandler{verifier: verifier}
}

// VerificationRequest は検証リクエストの形式。qr と jws のどちらか一方を指定する。
type VerificationRequest struct {
	QR  string `json:"qr,omitempty"`
	JWS string `json:"jws,omitempty"`
}

// WarningResponse は警告のレスポンス形式。
type WarningResponse struct {
	Kind string `json:"kind"`
	Code string `json:"code"`
}

// PatientResponse は患者情報のレスポンス形式。
type PatientResponse struct {
	FamilyName string   `json:"family_name"`
	GivenNames []string `json:"given_names"`
	BirthDate  string   `json:"birth_date"`
}

// ImmunizationResponse は接種記録のレスポンス形式。
type ImmunizationResponse struct {
	System         string   `json:"system"`
	Code           string   `json:"code"`
	Status         string   `json:"status"`
	OccurrenceDate string   `json:"occurrence_date"`
	LotNumber      string   `json:"lot_number,omitempty"`
	Performers     []string `json:"performers,omitempty"`
}

// VerificationResponse は検証成功時のレスポンス形式。
type VerificationResponse struct {
	State         string                 `json:"state"`
	Iss           string                 `json:"iss"`
	CanonicalIss  string                 `json:"canonical_iss"`
	IssuerName    string                 `json:"issuer_name"`
	Resolution    string                 `json:"resolution"`
	KeyID         string                 `json:"key_id"`
	Degraded      bool                   `json:"degraded"`
	NotBefore     string                 `json:"not_before,omitempty"`
	Types         []string               `json:"types"`
	Patient       *PatientResponse       `json:"patient,omitempty"`
	Immunizations []ImmunizationResponse `json:"immunizations"`
	Warnings      []WarningResponse      `json:"warnings"`
}

// RejectionResponse は検証失敗時のレスポンス形式。
type RejectionResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Stage     string `json:"stage"`
	Subject   string `json:"subject,omitempty"`
	Retryable bool   `json:"retryable"`
}

// Verify はヘルスカードを検証する。
func (h *VerificationHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerificationRequest
	if err := httputil.DecodeJSON(w, r, maxVerificationBody, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "request body must be a JSON object with qr or jws")
		return
	}
	req.QR = strings.TrimSpace(req.QR)
	req.JWS = strings.TrimSpace(req.JWS)
	if (req.QR == "") == (req.JWS == "") {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "exactly one of qr or jws is required")
		return
	}

	var (
		result *domain.VerifiedCredential
		err    error
	)
	if req.QR != "" {
		result, err = h.verifier.VerifyQR(r.Context(), req.QR)
	} else {
		result, err = h.verifier.Verify(r.Context(), req.JWS)
	}
	if err != nil {
		h.writeRejection(w, r, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "VERIFY", result.Resolution.RequestedIss, "SUCCESS", "")
	httputil.JSON(w, http.StatusOK, toVerificationResponse(result))
}

func (h *VerificationHandler) writeRejection(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.VerificationError
	if !errors.As(err, &verr) {
		middleware.WriteAuditLog(r.Context(), "VERIFY", "", "FAILED", string(domain.KindInternal))
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "VERIFY", verr.Subject, "FAILED", string(verr.Kind))
	httputil.JSON(w, statusForKind(verr.Kind), RejectionResponse{
		Code:      string(verr.Kind),
		Message:   rejectionMessage(verr.Kind),
		Stage:     string(verr.Stage),
		Subject:   verr.Subject,
		Retryable: verr.Retryable(),
	})
}

// statusForKind は失敗種別をHTTPステータスに変換する。
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindMalformedCredential:
		return http.StatusBadRequest
	case domain.KindIssuerUnreachable, domain.KindCacheUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func rejectionMessage(kind domain.ErrorKind) string {
	switch kind {
	case domain.KindMalformedCredential:
		return "credential could not be decoded"
	case domain.KindUnknownIssuer:
		return "issuer is not trusted"
	case domain.KindUnresolvedAlias:
		return "issuer alias does not resolve to a trusted issuer"
	case domain.KindIssuerUnreachable:
		return "issuer keys could not be retrieved, retry later"
	case domain.KindUnknownKeyID:
		return "signing key is not published by the issuer"
	case domain.KindCacheUnavailable:
		return "key cache is unavailable, retry later"
	case domain.KindSignatureInvalid:
		return "signature verification failed"
	case domain.KindPayloadInvalid:
		return "credential payload is invalid"
	default:
		return "internal server error"
	}
}

func toVerificationResponse(result *domain.VerifiedCredential) VerificationResponse {
	resp := VerificationResponse{
		State:         string(result.State),
		KeyID:         result.KeyID,
		Degraded:      result.Degraded,
		Types:         []string{},
		Immunizations: []ImmunizationResponse{},
		Warnings:      []WarningResponse{},
	}
	if res := result.Resolution; res != nil {
		resp.Iss = res.RequestedIss
		resp.Resolution = string(res.Kind)
		if res.Issuer != nil {
			resp.CanonicalIss = res.Issuer.Iss
			resp.IssuerName = res.Issuer.Name
		}
	}
	if p := result.Payload; p != nil {
		if !p.NotBefore.IsZero() {
			resp.NotBefore = p.NotBefore.UTC().Format(time.RFC3339)
		}
		if p.Types != nil {
			resp.Types = p.Types
		}
		if p.Patient != nil {
			resp.Patient = &PatientResponse{
				FamilyName: p.Patient.FamilyName,
				GivenNames: p.Patient.GivenNames,
				BirthDate:  p.Patient.BirthDate,
			}
		}
		for _, imm := range p.Immunizations {
			resp.Immunizations = append(resp.Immunizations, ImmunizationResponse{
				System:         imm.System,
				Code:           imm.Code,
				Status:         imm.Status,
				OccurrenceDate: imm.OccurrenceDate,
				LotNumber:      imm.LotNumber,
				Performers:     imm.Performers,
			})
		}
	}
	for _, w := range result.Warnings {
		resp.Warnings = append(resp.Warnings, WarningResponse{Kind: string(w.Kind), Code: w.Code})
	}
	return resp
}
