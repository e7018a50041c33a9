package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"shc-verification-service/internal/domain"
)

// RedisOptions はRedisキャッシュの接続設定。
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Redis はRedisをバックエンドとするキャッシュ。期限切れはRedis側で処理される。
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis は新しいRedisキャッシュを生成する。
func NewRedis(opts RedisOptions) *Redis {
	return NewRedisWithClient(redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), opts.Prefix)
}

// NewRedisWithClient は既存のクライアントからRedisキャッシュを生成する。
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Get は有効な値を取得する。
func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, prefixed(c.prefix, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return b, true, nil
}

// Put は値をTTL付きで保存する。ttl が0以下の場合はキーを削除する。
func (c *Redis) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	k := prefixed(c.prefix, key)
	var err error
	if ttl <= 0 {
		err = c.client.Del(ctx, k).Err()
	} else {
		err = c.client.Set(ctx, k, value, ttl).Err()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return nil
}

// EvictExpired は何もしない。
func (c *Redis) EvictExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

// Ping は接続を確認する。
func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close は接続を閉じる。
func (c *Redis) Close() error {
	return c.client.Close()
}
