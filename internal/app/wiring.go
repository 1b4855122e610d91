package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/emututor/internal/blob"
	"github.com/hitoshi/emututor/internal/config"
	"github.com/hitoshi/emututor/internal/database"
	"github.com/hitoshi/emututor/internal/handler"
	"github.com/hitoshi/emututor/internal/metadata"
	"github.com/hitoshi/emututor/internal/metrics"
	"github.com/hitoshi/emututor/internal/repository"
	"github.com/hitoshi/emututor/internal/tutorial"
)

// connectTimeout は起動時のデータストア接続のタイムアウト。
const connectTimeout = 10 * time.Second

// closer は終了時に呼び出す後始末。
type closer func()

func noopCloser() {}

// openStore は設定されたバックエンドのチュートリアルリポジトリを開く。
func openStore(ctx context.Context, cfg *config.Config) (repository.TutorialRepository, closer, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		db, err := database.OpenAndPing(ctx, cfg.DatabaseURL, connectTimeout)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("database connection established",
			slog.String("backend", cfg.StoreBackend),
			slog.String("database_url", maskURL(cfg.DatabaseURL)),
		)
		return repository.NewPostgresTutorialRepo(db), func() { db.Close() }, nil

	case config.StoreMemory:
		slog.Warn("in-memory store is not persistent")
		return repository.NewMemoryTutorialRepo(), noopCloser, nil

	default:
		client, err := database.ConnectMongo(ctx, cfg.MongoURL, connectTimeout)
		if err != nil {
			return nil, nil, err
		}
		coll := client.Database(cfg.DBName).Collection(cfg.MongoCollection)
		if err := database.EnsureTutorialIndexes(ctx, coll); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		slog.Info("database connection established",
			slog.String("backend", cfg.StoreBackend),
			slog.String("mongo_url", maskURL(cfg.MongoURL)),
			slog.String("db_name", cfg.DBName),
			slog.String("collection", cfg.MongoCollection),
		)
		return repository.NewMongoTutorialRepo(coll), func() {
			_ = client.Disconnect(context.Background())
		}, nil
	}
}

// openBlobStore は設定されたバックエンドのブロブストアを開く。
func openBlobStore(ctx context.Context, cfg *config.Config) (tutorial.BlobStore, closer, error) {
	if cfg.BlobBackend == config.BlobGCS {
		client, err := blob.NewGCSClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("blob store ready", slog.String("backend", cfg.BlobBackend), slog.String("bucket", cfg.GCSBucket))
		return blob.NewGCSStore(client, cfg.GCSBucket, cfg.GCSPublicBaseURL), func() { client.Close() }, nil
	}

	store, err := blob.NewLocalStore(cfg.UploadsDir)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("blob store ready", slog.String("backend", cfg.BlobBackend), slog.String("dir", cfg.UploadsDir))
	return store, noopCloser, nil
}

// openFacetCache はREDIS_URLが設定されている場合のみ分類値キャッシュを開く。
// 未設定の場合はnilインターフェースを返す。
func openFacetCache(cfg *config.Config) (metadata.FacetCache, closer, error) {
	if cfg.RedisURL == "" {
		return nil, noopCloser, nil
	}
	rdb, err := metadata.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("facet cache enabled", slog.Duration("ttl", cfg.FacetCacheTTL))
	return metadata.NewRedisFacetCache(rdb, cfg.FacetCacheTTL), func() { rdb.Close() }, nil
}

// newRegistry はプロセス・ランタイムのコレクタを登録済みのレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newTutorialService はチュートリアルサービスを組み立てる。
// blobsがnilの場合、動画のアップロードには使えない。
func newTutorialService(
	repo repository.TutorialRepository,
	blobs tutorial.BlobStore,
	cache metadata.FacetCache,
	collector *metrics.Collector,
) *tutorial.Service {
	builder := tutorial.NewBuilder()
	facets := metadata.NewAggregator(repo, cache)
	return tutorial.NewService(repo, builder, blobs, facets, collector)
}

// newAPIHandler はAPIサーバーのHTTPハンドラーを組み立てる。
func newAPIHandler(
	cfg *config.Config,
	repo repository.TutorialRepository,
	blobs tutorial.BlobStore,
	cache metadata.FacetCache,
	reg *prometheus.Registry,
) http.Handler {
	collector := metrics.NewCollector(reg)
	svc := newTutorialService(repo, blobs, cache, collector)

	return handler.NewRouter(&handler.RouterDeps{
		TutorialService:   svc,
		HealthChecker:     svc,
		Metrics:           collector,
		Gatherer:          reg,
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		UploadMaxBytes:    cfg.UploadMaxBytes,
	})
}

// maskURL は接続URLの認証情報をマスクする。
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}

func fmtAddr(port string) string {
	return fmt.Sprintf(":%s", port)
}
