package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"shc-verification-service/internal/domain"
	"shc-verification-service/pkg/httputil"
)

// VaccineCodeLookup はCVXコード参照のインターフェース。
type VaccineCodeLookup interface {
	Lookup(ctx context.Context, code int) (*domain.VaccineCode, error)
	List(ctx context.Context) ([]*domain.VaccineCode, error)
}

// VaccineHandler はワクチンコードAPIのハンドラ。
type VaccineHandler struct {
	registry VaccineCodeLookup
}

// NewVaccineHandler は新しいVaccineHandlerを生成する。
func NewVaccineHandler(registry VaccineCodeLookup) *VaccineHandler {
	return &VaccineHandler{registry: registry}
}

// VaccineCodeResponse はワクチンコードのレスポンス形式。
type VaccineCodeResponse struct {
	Code             int    `json:"code"`
	ShortDescription string `json:"short_description"`
	FullName         string `json:"full_name"`
	VaccineStatus    string `json:"vaccine_status"`
	Notes            string `json:"notes,omitempty"`
	LastUpdated      string `json:"last_updated"`
}

// VaccineCodeListResponse はワクチンコード一覧のレスポンス形式。
type VaccineCodeListResponse struct {
	Codes []VaccineCodeResponse `json:"codes"`
}

// ListVaccineCodes は登録済みのCVXコード一覧を返す。
func (h *VaccineHandler) ListVaccineCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.registry.List(r.Context())
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	resp := VaccineCodeListResponse{Codes: make([]VaccineCodeResponse, len(codes))}
	for i, vc := range codes {
		resp.Codes[i] = toVaccineCodeResponse(vc)
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// GetVaccineCode はCVXコードを取得する。
func (h *VaccineHandler) GetVaccineCode(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(chi.URLParam(r, "code"))
	if err != nil || code < 0 {
		httputil.Error(w, http.StatusBadRequest, "INVALID_CODE", "invalid vaccine code")
		return
	}

	vc, err := h.registry.Lookup(r.Context(), code)
	if err != nil {
		if errors.Is(err, domain.ErrVaccineCodeNotFound) {
			httputil.Error(w, http.StatusNotFound, "CODE_NOT_FOUND", "vaccine code not found")
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	httputil.JSON(w, http.StatusOK, toVaccineCodeResponse(vc))
}

func toVaccineCodeResponse(vc *domain.VaccineCode) VaccineCodeResponse {
	return VaccineCodeResponse{
		Code:             vc.Code,
		ShortDescription: vc.ShortDescription,
		FullName:         vc.FullName,
		VaccineStatus:    vc.VaccineStatus,
		Notes:            vc.Notes,
		LastUpdated:      vc.LastUpdated.Format("2006-01-02"),
	}
}
