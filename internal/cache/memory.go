package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory はプロセス内キャッシュ。複数インスタンス間では共有されない。
type Memory struct {
	c      *gocache.Cache
	prefix string
}

// NewMemory は新しいMemoryキャッシュを生成する。
// 期限切れの回収は EvictExpired（リーパー）に任せる。
func NewMemory(prefix string) *Memory {
	return &Memory{c: gocache.New(gocache.NoExpiration, 0), prefix: prefix}
}

// Get は有効な値を取得する。
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(prefixed(m.prefix, key))
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	return b, true, nil
}

// Put は値をTTL付きで保存する。ttl が0以下の場合はキーを削除する。
func (m *Memory) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	k := prefixed(m.prefix, key)
	if ttl <= 0 {
		m.c.Delete(k)
		return nil
	}
	m.c.Set(k, value, ttl)
	return nil
}

// EvictExpired は期限切れエントリを削除する。
func (m *Memory) EvictExpired(ctx context.Context) (int64, error) {
	before := m.c.ItemCount()
	m.c.DeleteExpired()
	removed := before - m.c.ItemCount()
	if removed < 0 {
		removed = 0
	}
	return int64(removed), nil
}
