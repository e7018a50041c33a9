package handler

import (
	"context"
	"net/http"
	"time"

	"shc-verification-service/pkg/httputil"
)

// HealthCheck は依存先の疎通確認関数。
type HealthCheck func(ctx context.Context) error

// HealthHandler はヘルスチェックのハンドラ。
type HealthHandler struct {
	checks map[string]HealthCheck
}

// NewHealthHandler は新しいHealthHandlerを生成する。
func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// HealthResponse はヘルスチェックのレスポンス形式。
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz は依存先の状態を返す。1つでも失敗すれば503。
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Checks: map[string]string{}}
	status := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	httputil.JSON(w, status, resp)
}
