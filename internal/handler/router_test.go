package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"shc-verification-service/internal/domain"
	"shc-verification-service/internal/metrics"
)

func newTestRouter(checks map[string]HealthCheck, gatherer prometheus.Gatherer) http.Handler {
	registry := &mockVaccineRegistry{codes: map[int]*domain.VaccineCode{
		207: {Code: 207, ShortDescription: "COVID-19, mRNA, LNP-S, PF, 100 mcg/0.5mL dose", VaccineStatus: "Active", LastUpdated: time.Date(2021, 3, 10, 0, 0, 0, 0, time.UTC)},
	}}
	return NewRouter(&Handlers{
		Verification: NewVerificationHandler(&mockVerifier{result: verifiedCredential()}),
		Issuer:       NewIssuerHandler(&mockTrustStore{}, &mockRefresher{}),
		Vaccine:      NewVaccineHandler(registry),
		Health:       NewHealthHandler(checks),
	}, gatherer, false)
}

func TestRouter_VaccineCodes(t *testing.T) {
	router := newTestRouter(nil, nil)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/v1/vaccine-codes/207", http.StatusOK},
		{"/v1/vaccine-codes/99999", http.StatusNotFound},
		{"/v1/vaccine-codes/abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("want status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/vaccine-codes/207", nil))
	var resp VaccineCodeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.LastUpdated != "2021-03-10" {
		t.Errorf("want last_updated 2021-03-10, got %s", resp.LastUpdated)
	}
}

func TestRouter_ListVaccineCodes(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/vaccine-codes", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d", rec.Code)
	}
	var resp VaccineCodeListResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(resp.Codes) != 1 || resp.Codes[0].Code != 207 {
		t.Errorf("unexpected codes: %+v", resp.Codes)
	}
}

func TestRouter_Verifications(t *testing.T) {
	router := newTestRouter(nil, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/verifications", strings.NewReader(`{"qr":"shc:/00"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("want status 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("unexpected content type: %s", rec.Header().Get("Content-Type"))
	}
}

func TestRouter_Healthz(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	down := func(ctx context.Context) error { return errors.New("connection refused") }

	rec := httptest.NewRecorder()
	newTestRouter(map[string]HealthCheck{"database": ok}, nil).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("want status 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	newTestRouter(map[string]HealthCheck{"database": ok, "cache": down}, nil).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("want status 503, got %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.Checks["cache"] != "connection refused" {
		t.Errorf("unexpected cache check: %q", resp.Checks["cache"])
	}
}

func TestRouter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.IncrementVerification("verified")

	rec := httptest.NewRecorder()
	newTestRouter(nil, reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "verifications_total") {
		t.Errorf("expected verification counter in output:\n%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	newTestRouter(nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("want status 404 without gatherer, got %d", rec.Code)
	}
}
