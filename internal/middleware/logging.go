// Package middleware はHTTPミドルウェアと監査ログを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// AuditLog は監査ログの構造体。
type AuditLog struct {
	Operation string `json:"operation"`
	Subject   string `json:"subject"`
	Result    string `json:"result"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// WriteAuditLog は監査ログを出力する。
// subject は発行者の iss など操作対象の識別子、reason は失敗時の種別。
func WriteAuditLog(ctx context.Context, operation string, subject string, result string, reason string) {
	entry := AuditLog{
		Operation: operation,
		Subject:   subject,
		Result:    result,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	slog.InfoContext(ctx, "audit",
		"operation", entry.Operation,
		"subject", entry.Subject,
		"result", entry.Result,
		"reason", entry.Reason,
		"timestamp", entry.Timestamp,
	)
}

// RequestLogger はリクエストごとのアクセスログをslogで出力する。
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			slog.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
