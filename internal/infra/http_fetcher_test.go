package infra

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPFetcher_FetchKeySet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/issuer/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("User-Agent"); got != "shc-test" {
			t.Errorf("expected user agent shc-test, got %q", got)
		}
		w.Write([]byte(`{"keys":[]}`))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(time.Second, "shc-test")

	// 末尾のスラッシュは無視される
	body, err := f.FetchKeySet(context.Background(), srv.URL+"/issuer/")
	if err != nil {
		t.Fatalf("FetchKeySet failed: %v", err)
	}
	if string(body) != `{"keys":[]}` {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestHTTPFetcher_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/large":
			w.Write([]byte(strings.Repeat("x", 64)))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			w.Write([]byte("late"))
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(50*time.Millisecond, "")
	f.maxBodySize = 16

	tests := []struct {
		name string
		path string
	}{
		{"non 2xx", "/missing"},
		{"body too large", "/large"},
		{"timeout", "/slow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.Fetch(context.Background(), srv.URL+tt.path); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
