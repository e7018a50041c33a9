package usecase

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"shc-verification-service/internal/domain"
)

const (
	cvxFeedCacheKey = "cvx_codes"
	cvxFeedCacheTTL = 24 * time.Hour
	cvxDateLayout   = "2006/01/02"
)

// FeedFetcher はURLから文書を取得するインターフェース。
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// CVXImportService はCDCのCVXコード一覧を取り込む。
type CVXImportService struct {
	repo     CVXCodeRepository
	cache    ExpiringCache
	fetcher  FeedFetcher
	feedURL  string
	registry *VaccineRegistry
}

// NewCVXImportService は新しいCVXImportServiceを生成する。
func NewCVXImportService(repo CVXCodeRepository, cache ExpiringCache, fetcher FeedFetcher, feedURL string, registry *VaccineRegistry) *CVXImportService {
	return &CVXImportService{
		repo:     repo,
		cache:    cache,
		fetcher:  fetcher,
		feedURL:  feedURL,
		registry: registry,
	}
}

// Import はフィードを取得して cvx_code を更新し、取り込んだ件数を返す。
// 取得したフィードは1日キャッシュし、その間は再取得しない。
func (s *CVXImportService) Import(ctx context.Context) (int, error) {
	feed, err := s.loadFeed(ctx)
	if err != nil {
		return 0, err
	}
	return s.ImportFeed(ctx, feed)
}

// ImportFeed は与えられたフィード本文を取り込む。
func (s *CVXImportService) ImportFeed(ctx context.Context, feed []byte) (int, error) {
	codes, err := ParseCVXFeed(feed)
	if err != nil {
		return 0, err
	}
	if err := s.repo.UpsertAll(ctx, codes); err != nil {
		return 0, fmt.Errorf("saving vaccine codes: %w", err)
	}
	if s.registry != nil {
		s.registry.Invalidate()
	}
	return len(codes), nil
}

func (s *CVXImportService) loadFeed(ctx context.Context) ([]byte, error) {
	if s.cache != nil {
		feed, found, err := s.cache.Get(ctx, cvxFeedCacheKey)
		if err != nil {
			slog.WarnContext(ctx, "cvx feed cache unavailable",
				"operation", "import_cvx",
				"error", err,
			)
		} else if found {
			return feed, nil
		}
	}

	feed, err := s.fetcher.Fetch(ctx, s.feedURL)
	if err != nil {
		return nil, fmt.Errorf("fetching cvx feed: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Put(ctx, cvxFeedCacheKey, feed, cvxFeedCacheTTL); err != nil {
			slog.WarnContext(ctx, "failed to cache cvx feed",
				"operation", "import_cvx",
				"error", err,
			)
		}
	}
	return feed, nil
}

// ParseCVXFeed はパイプ区切りのCVXフィードを解析する。
// 列: code|short_description|full_name|notes|(未使用)|status|last_updated(YYYY/MM/DD)
func ParseCVXFeed(feed []byte) ([]*domain.VaccineCode, error) {
	var codes []*domain.VaccineCode
	scanner := bufio.NewScanner(bytes.NewReader(feed))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 7 {
			return nil, fmt.Errorf("%w: line %d: expected 7 fields, got %d", domain.ErrInvalidFeed, lineNo, len(parts))
		}

		code, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: invalid code %q", domain.ErrInvalidFeed, lineNo, parts[0])
		}
		updated, err := time.Parse(cvxDateLayout, strings.TrimSpace(parts[6]))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: invalid date %q", domain.ErrInvalidFeed, lineNo, parts[6])
		}

		codes = append(codes, &domain.VaccineCode{
			Code:             code,
			ShortDescription: strings.TrimSpace(parts[1]),
			FullName:         strings.TrimSpace(parts[2]),
			Notes:            strings.TrimSpace(parts[3]),
			VaccineStatus:    strings.TrimSpace(parts[5]),
			LastUpdated:      updated,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidFeed, err)
	}
	return codes, nil
}
