// Package worker はバックグラウンドジョブを提供する。
package worker

import (
	"context"
	"log/slog"
	"time"

	"shc-verification-service/internal/metrics"
)

// ExpiringStore は期限切れエントリを回収できるストア。
type ExpiringStore interface {
	EvictExpired(ctx context.Context) (int64, error)
}

// ReapResult は1回分の回収結果。
type ReapResult struct {
	Evicted  int64
	Duration time.Duration
}

// Option はCacheReaperの設定を変更する。
type Option func(*CacheReaper)

// WithLogger はロガーを設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(r *CacheReaper) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithInterval は実行間隔を設定する。
func WithInterval(interval time.Duration) Option {
	return func(r *CacheReaper) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

// WithMetrics はメトリクスを設定する。
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *CacheReaper) {
		r.metrics = m
	}
}

// CacheReaper は有効期限付きキャッシュの期限切れエントリを定期的に削除する。
// 回収は Get の正しさには影響しない。
type CacheReaper struct {
	store    ExpiringStore
	logger   *slog.Logger
	interval time.Duration
	metrics  *metrics.Metrics
}

// NewCacheReaper は新しいCacheReaperを生成する。
func NewCacheReaper(store ExpiringStore, opts ...Option) *CacheReaper {
	r := &CacheReaper{
		store:    store,
		logger:   slog.Default(),
		interval: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start は ctx がキャンセルされるまで定期的に回収を実行する。
func (r *CacheReaper) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res, err := r.RunOnce(ctx)
			if err != nil {
				r.logger.ErrorContext(ctx, "cache_reap_failed",
					"error", err,
				)
				continue
			}
			r.logger.InfoContext(ctx, "cache_reap_completed",
				"evicted", res.Evicted,
				"duration_ms", res.Duration.Milliseconds(),
			)
		case <-ctx.Done():
			r.logger.Info("cache reaper stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce は1回だけ回収を実行する。
func (r *CacheReaper) RunOnce(ctx context.Context) (*ReapResult, error) {
	start := time.Now()
	evicted, err := r.store.EvictExpired(ctx)
	duration := time.Since(start)
	if err != nil {
		r.metrics.ObserveCacheReap("error", 0, duration.Seconds())
		return nil, err
	}
	r.metrics.ObserveCacheReap("success", evicted, duration.Seconds())
	return &ReapResult{Evicted: evicted, Duration: duration}, nil
}
