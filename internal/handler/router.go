package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"shc-verification-service/internal/middleware"
)

// Handlers はルーターに登録するハンドラの集合。
type Handlers struct {
	Verification *VerificationHandler
	Issuer       *IssuerHandler
	Vaccine      *VaccineHandler
	Health       *HealthHandler
}

// NewRouter はルーターを生成する。
// gatherer が nil の場合は /metrics を公開しない。
func NewRouter(h *Handlers, gatherer prometheus.Gatherer, otelEnabled bool) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.Health.Healthz)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// ルート定義
	r.Route("/v1", func(r chi.Router) {
		r.Post("/verifications", h.Verification.Verify)

		r.Route("/issuers", func(r chi.Router) {
			r.Get("/", h.Issuer.ListIssuers)
			r.Get("/lookup", h.Issuer.LookupIssuer)
			r.Get("/keys", h.Issuer.ListIssuerKeys)
			r.Post("/refresh", h.Issuer.RefreshIssuer)
		})

		r.Get("/vaccine-codes", h.Vaccine.ListVaccineCodes)
		r.Get("/vaccine-codes/{code}", h.Vaccine.GetVaccineCode)
	})

	if !otelEnabled {
		return r
	}
	return otelhttp.NewHandler(r, "shc-verification-service",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	)
}
