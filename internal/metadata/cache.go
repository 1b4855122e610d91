package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hitoshi/emututor/internal/model"
)

// FacetCache は集計済み分類値のキャッシュ。
type FacetCache interface {
	// Get はキャッシュ済みの値を返す。未キャッシュの場合はokがfalseになる。
	Get(ctx context.Context) (facets *model.Facets, ok bool, err error)
	// Set は値をキャッシュする。
	Set(ctx context.Context, facets *model.Facets) error
	// Invalidate はキャッシュ済みの値を破棄する。
	Invalidate(ctx context.Context) error
}

// facetsCacheKey はRedis上のキー。
const facetsCacheKey = "emututor:facets:v1"

type cachedFacets struct {
	Consoles     []string `json:"consoles"`
	Emulators    []string `json:"emulators"`
	Categories   []string `json:"categories"`
	Difficulties []string `json:"difficulties"`
}

// RedisFacetCache はRedisを使用したFacetCache。
// チュートリアルの作成時に無効化され、TTLは無効化に失敗した場合の上限となる。
type RedisFacetCache struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewRedisFacetCache はRedisFacetCacheを生成する。
func NewRedisFacetCache(rdb *goredis.Client, ttl time.Duration) *RedisFacetCache {
	return &RedisFacetCache{rdb: rdb, ttl: ttl}
}

// NewRedisClient はredis://形式のURLからクライアントを生成する。
func NewRedisClient(redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	return goredis.NewClient(opts), nil
}

// Get はキャッシュ済みの分類値を返す。
func (c *RedisFacetCache) Get(ctx context.Context) (*model.Facets, bool, error) {
	raw, err := c.rdb.Get(ctx, facetsCacheKey).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	f, err := decodeFacets(raw)
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}

// Set は分類値をTTL付きで保存する。
func (c *RedisFacetCache) Set(ctx context.Context, facets *model.Facets) error {
	raw, err := encodeFacets(facets)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, facetsCacheKey, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate はキャッシュキーを削除する。キーが存在しない場合も成功とする。
func (c *RedisFacetCache) Invalidate(ctx context.Context) error {
	if err := c.rdb.Del(ctx, facetsCacheKey).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func encodeFacets(f *model.Facets) ([]byte, error) {
	raw, err := json.Marshal(cachedFacets{
		Consoles:     f.Consoles,
		Emulators:    f.Emulators,
		Categories:   f.Categories,
		Difficulties: f.Difficulties,
	})
	if err != nil {
		return nil, fmt.Errorf("encode facets: %w", err)
	}
	return raw, nil
}

func decodeFacets(raw []byte) (*model.Facets, error) {
	var c cachedFacets
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode cached facets: %w", err)
	}
	return &model.Facets{
		Consoles:     c.Consoles,
		Emulators:    c.Emulators,
		Categories:   c.Categories,
		Difficulties: c.Difficulties,
	}, nil
}
