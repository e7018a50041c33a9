package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"shc-verification-service/internal/domain"
	"shc-verification-service/internal/middleware"
	"shc-verification-service/pkg/httputil"
)

// IssuerTrustStore は発行者参照のインターフェース。
type IssuerTrustStore interface {
	ListIssuers(ctx context.Context) ([]*domain.Issuer, error)
	ResolveCanonical(ctx context.Context, iss string) (*domain.IssuerResolution, error)
	ListKeys(ctx context.Context, issuerID string) ([]*domain.IssuerKey, error)
}

// KeySetRefresher は鍵セットの強制再取得のインターフェース。
type KeySetRefresher interface {
	Refresh(ctx context.Context, iss string) (int, error)
}

// IssuerHandler は発行者APIのハンドラ。
type IssuerHandler struct {
	store     IssuerTrustStore
	refresher KeySetRefresher
}

// NewIssuerHandler は新しいIssuerHandlerを生成する。
func NewIssuerHandler(store IssuerTrustStore, refresher KeySetRefresher) *IssuerHandler {
	return &IssuerHandler{store: store, refresher: refresher}
}

// IssuerResponse は発行者のレスポンス形式。
type IssuerResponse struct {
	Iss          string  `json:"iss"`
	Name         string  `json:"name"`
	Website      string  `json:"website,omitempty"`
	CanonicalIss *string `json:"canonical_iss,omitempty"`
	UpdatedAt    string  `json:"updated_at"`
	Error        bool    `json:"error"`
}

// IssuerListResponse は発行者一覧のレスポンス形式。
type IssuerListResponse struct {
	Issuers []IssuerResponse `json:"issuers"`
}

// ResolutionResponse は正規化結果のレスポンス形式。
type ResolutionResponse struct {
	RequestedIss string         `json:"requested_iss"`
	Resolution   string         `json:"resolution"`
	Issuer       IssuerResponse `json:"issuer"`
}

// IssuerKeyResponse は保存済み鍵のレスポンス形式。
type IssuerKeyResponse struct {
	KeyID string          `json:"key_id"`
	JWK   json.RawMessage `json:"jwk"`
}

// IssuerKeysResponse は発行者の鍵一覧のレスポンス形式。
type IssuerKeysResponse struct {
	Iss  string              `json:"iss"`
	Keys []IssuerKeyResponse `json:"keys"`
}

// RefreshResponse は鍵セット再取得のレスポンス形式。
type RefreshResponse struct {
	Iss      string `json:"iss"`
	KeyCount int    `json:"key_count"`
}

// ListIssuers は発行者一覧を返す。
func (h *IssuerHandler) ListIssuers(w http.ResponseWriter, r *http.Request) {
	issuers, err := h.store.ListIssuers(r.Context())
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	resp := IssuerListResponse{Issuers: make([]IssuerResponse, len(issuers))}
	for i, issuer := range issuers {
		resp.Issuers[i] = toIssuerResponse(issuer)
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// LookupIssuer は iss を正規の発行者に解決して返す。
func (h *IssuerHandler) LookupIssuer(w http.ResponseWriter, r *http.Request) {
	iss := r.URL.Query().Get("iss")
	if iss == "" {
		httputil.Error(w, http.StatusBadRequest, "INVALID_ISS", "iss query parameter is required")
		return
	}

	resolution, err := h.store.ResolveCanonical(r.Context(), iss)
	if err != nil {
		writeIssuerError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, ResolutionResponse{
		RequestedIss: resolution.RequestedIss,
		Resolution:   string(resolution.Kind),
		Issuer:       toIssuerResponse(resolution.Issuer),
	})
}

// ListIssuerKeys は正規の発行者に保存されている鍵を返す。
func (h *IssuerHandler) ListIssuerKeys(w http.ResponseWriter, r *http.Request) {
	iss := r.URL.Query().Get("iss")
	if iss == "" {
		httputil.Error(w, http.StatusBadRequest, "INVALID_ISS", "iss query parameter is required")
		return
	}

	resolution, err := h.store.ResolveCanonical(r.Context(), iss)
	if err != nil {
		writeIssuerError(w, err)
		return
	}
	keys, err := h.store.ListKeys(r.Context(), resolution.Issuer.ID)
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	resp := IssuerKeysResponse{Iss: resolution.Issuer.Iss, Keys: make([]IssuerKeyResponse, len(keys))}
	for i, k := range keys {
		resp.Keys[i] = IssuerKeyResponse{KeyID: k.KeyID, JWK: json.RawMessage(k.Data)}
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// RefreshIssuer は発行者の鍵セットを再取得する。
func (h *IssuerHandler) RefreshIssuer(w http.ResponseWriter, r *http.Request) {
	iss := r.URL.Query().Get("iss")
	if iss == "" {
		httputil.Error(w, http.StatusBadRequest, "INVALID_ISS", "iss query parameter is required")
		return
	}

	count, err := h.refresher.Refresh(r.Context(), iss)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "REFRESH_KEYS", iss, "FAILED", string(domain.KindOf(err)))
		writeIssuerError(w, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "REFRESH_KEYS", iss, "SUCCESS", "")
	httputil.JSON(w, http.StatusOK, RefreshResponse{Iss: iss, KeyCount: count})
}

func writeIssuerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnresolvedAlias):
		httputil.Error(w, http.StatusUnprocessableEntity, "UNRESOLVED_ALIAS", "issuer alias does not resolve to a trusted issuer")
	case errors.Is(err, domain.ErrIssuerNotFound), errors.Is(err, domain.ErrUnknownIssuer):
		httputil.Error(w, http.StatusNotFound, "ISSUER_NOT_FOUND", "issuer not found")
	case errors.Is(err, domain.ErrIssuerUnreachable):
		httputil.Error(w, http.StatusServiceUnavailable, "ISSUER_UNREACHABLE", "issuer keys could not be retrieved")
	default:
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

func toIssuerResponse(issuer *domain.Issuer) IssuerResponse {
	return IssuerResponse{
		Iss:          issuer.Iss,
		Name:         issuer.Name,
		Website:      issuer.Website,
		CanonicalIss: issuer.CanonicalIss,
		UpdatedAt:    issuer.UpdatedAt.UTC().Format(time.RFC3339),
		Error:        issuer.Error,
	}
}
