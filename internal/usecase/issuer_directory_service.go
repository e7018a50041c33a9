package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"shc-verification-service/internal/domain"
)

const directoryRefreshConcurrency = 8

// IssuerEntry はディレクトリや管理ファイル中の発行者の記述。
type IssuerEntry struct {
	Iss          string `json:"iss" yaml:"iss"`
	Name         string `json:"name" yaml:"name"`
	Website      string `json:"website,omitempty" yaml:"website,omitempty"`
	CanonicalIss string `json:"canonical_iss,omitempty" yaml:"canonical_iss,omitempty"`
}

type vciDirectory struct {
	ParticipatingIssuers []IssuerEntry `json:"participating_issuers"`
}

type issuerFile struct {
	Issuers []IssuerEntry `yaml:"issuers"`
}

// IssuerRegistrar は発行者を登録するインターフェース。
type IssuerRegistrar interface {
	Register(ctx context.Context, issuer *domain.Issuer) error
}

// KeySetRefresher は発行者の鍵セットを再取得するインターフェース。
type KeySetRefresher interface {
	Refresh(ctx context.Context, iss string) (int, error)
}

// SyncResult はディレクトリ同期の結果。
type SyncResult struct {
	Registered int
	Refreshed  int
	Failed     int
}

// IssuerDirectoryService はVCIディレクトリや管理ファイルから発行者を取り込む。
type IssuerDirectoryService struct {
	registrar    IssuerRegistrar
	refresher    KeySetRefresher
	fetcher      FeedFetcher
	directoryURL string
}

// NewIssuerDirectoryService は新しいIssuerDirectoryServiceを生成する。
func NewIssuerDirectoryService(registrar IssuerRegistrar, refresher KeySetRefresher, fetcher FeedFetcher, directoryURL string) *IssuerDirectoryService {
	return &IssuerDirectoryService{
		registrar:    registrar,
		refresher:    refresher,
		fetcher:      fetcher,
		directoryURL: directoryURL,
	}
}

// Sync はVCIディレクトリを取得して発行者を登録する。
// refreshKeys の場合は別名でない発行者の鍵セットも取得する。
func (s *IssuerDirectoryService) Sync(ctx context.Context, refreshKeys bool) (*SyncResult, error) {
	body, err := s.fetcher.Fetch(ctx, s.directoryURL)
	if err != nil {
		return nil, fmt.Errorf("fetching vci directory: %w", err)
	}
	var dir vciDirectory
	if err := json.Unmarshal(body, &dir); err != nil {
		return nil, fmt.Errorf("%w: vci directory: %v", domain.ErrInvalidFeed, err)
	}
	return s.apply(ctx, dir.ParticipatingIssuers, refreshKeys)
}

// ImportFile はYAML形式の管理ファイルから発行者を登録する。
func (s *IssuerDirectoryService) ImportFile(ctx context.Context, data []byte, refreshKeys bool) (*SyncResult, error) {
	var f issuerFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: issuer file: %v", domain.ErrInvalidFeed, err)
	}
	return s.apply(ctx, f.Issuers, refreshKeys)
}

func (s *IssuerDirectoryService) apply(ctx context.Context, entries []IssuerEntry, refreshKeys bool) (*SyncResult, error) {
	result := &SyncResult{}
	var toRefresh []string

	for _, e := range entries {
		issuer := &domain.Issuer{
			Iss:     e.Iss,
			Name:    e.Name,
			Website: e.Website,
		}
		if e.CanonicalIss != "" {
			canonical := e.CanonicalIss
			issuer.CanonicalIss = &canonical
		}
		if err := s.registrar.Register(ctx, issuer); err != nil {
			slog.WarnContext(ctx, "skipping issuer",
				"operation", "sync_issuers",
				"iss", e.Iss,
				"error", err,
			)
			result.Failed++
			continue
		}
		result.Registered++
		if !issuer.IsAlias() {
			toRefresh = append(toRefresh, issuer.Iss)
		}
	}

	if !refreshKeys || s.refresher == nil {
		return result, nil
	}

	var refreshed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(directoryRefreshConcurrency)
	for _, iss := range toRefresh {
		g.Go(func() error {
			if _, err := s.refresher.Refresh(gctx, iss); err != nil {
				// 取得失敗は発行者の error フラグに記録済み
				slog.WarnContext(gctx, "failed to refresh issuer keys",
					"operation", "sync_issuers",
					"iss", iss,
					"error", err,
				)
				failed.Add(1)
				return nil
			}
			refreshed.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	result.Refreshed = int(refreshed.Load())
	result.Failed += int(failed.Load())
	return result, nil
}
