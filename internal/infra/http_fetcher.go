package infra

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultMaxBodySize = 4 << 20
	wellKnownJWKSPath  = "/.well-known/jwks.json"
)

// HTTPFetcher は発行者の鍵セットや公開フィードをHTTPで取得する。
type HTTPFetcher struct {
	client      *http.Client
	maxBodySize int64
	userAgent   string
}

// NewHTTPFetcher は新しいHTTPFetcherを生成する。
// timeout は呼び出し側のコンテキストとは別の上限として働く。
func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxBodySize: defaultMaxBodySize,
		userAgent:   userAgent,
	}
}

// FetchKeySet は {iss}/.well-known/jwks.json を取得する。
func (f *HTTPFetcher) FetchKeySet(ctx context.Context, iss string) ([]byte, error) {
	return f.Fetch(ctx, strings.TrimSuffix(iss, "/")+wellKnownJWKSPath)
}

// Fetch はURLをGETし、本文を返す。2xx以外はエラーとする。
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("requesting %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	if int64(len(body)) > f.maxBodySize {
		return nil, fmt.Errorf("reading %s: body exceeds %d bytes", url, f.maxBodySize)
	}
	return body, nil
}
