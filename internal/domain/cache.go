package domain

import "time"

// CachedEntry は有効期限付きキャッシュのエントリを表す。
type CachedEntry struct {
	Key       string
	Value     []byte
	ExpiresAt time.Time
}

// IsLive は指定時刻においてエントリが有効か返す。
func (e *CachedEntry) IsLive(now time.Time) bool {
	return e.ExpiresAt.After(now)
}
