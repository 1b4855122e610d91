// Package app はコマンドの解析と依存関係のワイヤリングを行い、各起動モードを実行する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/hitoshi/emututor/internal/config"
	"github.com/hitoshi/emututor/internal/database"
	"github.com/hitoshi/emututor/internal/handler"
	"github.com/hitoshi/emututor/internal/logger"
	"github.com/hitoshi/emututor/internal/metrics"
	"github.com/hitoshi/emututor/internal/security"
	"github.com/hitoshi/emututor/internal/worker/importer"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、設定されたレベルでJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルで再設定
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// loadDotEnv はカレントディレクトリの.envを読み込む。ファイルがなければ何もしない。
// 既に設定されている環境変数は上書きしない。
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", slog.String("error", err.Error()))
	}
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}
	loadDotEnv()

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("store_backend", cfg.StoreBackend),
		slog.String("blob_backend", cfg.BlobBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandServe:
		return runServe(ctx, cfg)
	default:
		return fmt.Errorf("%w %q", ErrUnknownCommand, cmd)
	}
}

// runServe はAPIサーバーモードで起動する。
// データストア・ブロブストア・キャッシュを開き、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. データストア
	repo, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeStore()

	// 2. ブロブストア
	blobs, closeBlobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}
	defer closeBlobs()

	// 3. 分類値キャッシュ（任意）
	cache, closeCache, err := openFacetCache(cfg)
	if err != nil {
		return fmt.Errorf("failed to open facet cache: %w", err)
	}
	defer closeCache()

	// 4. ルーター
	router := newAPIHandler(cfg, repo, blobs, cache, newRegistry())

	// 5. HTTPサーバー。アップロードを受けるため読み書きのタイムアウトは長めに取る
	server := &http.Server{
		Addr:              fmtAddr(cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	return serveUntilDone(ctx, server, "API server")
}

// runWorker はワーカーモードで起動する。
// 取り込み元の一覧を読み込み、取り込みスケジューラを実行する。
// /health と /metrics のみを公開する小さなHTTPサーバーを併せて起動する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.ImportSourcesFile == "" {
		return errors.New("IMPORT_SOURCES_FILE is required for worker")
	}
	sources, err := importer.LoadSources(cfg.ImportSourcesFile)
	if err != nil {
		return err
	}

	// 1. データストア
	repo, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeStore()

	// 2. 分類値キャッシュ（任意）。取り込んだ投稿でAPI側のキャッシュを無効化する
	cache, closeCache, err := openFacetCache(cfg)
	if err != nil {
		return fmt.Errorf("failed to open facet cache: %w", err)
	}
	defer closeCache()

	// 3. サービス（ワーカーはアップロードを扱わない）
	reg := newRegistry()
	collector := metrics.NewCollector(reg)
	svc := newTutorialService(repo, nil, cache, collector)

	// 4. 取り込み
	imp := importer.NewImporter(
		svc, repo, security.NewSourceGuard(), security.NewFeedTextExtractor(), collector,
		slog.Default(), cfg.ImportTimeout, cfg.ImportMaxSize,
	)
	limiter := rate.NewLimiter(rate.Limit(cfg.ImportRatePerSec), 1)
	scheduler := importer.NewScheduler(sources, imp, limiter, slog.Default(), cfg.ImportMaxConcurrent)

	// 5. 監視用HTTPサーバー
	r := chi.NewRouter()
	r.Get("/health", handler.NewHealthHandler(svc).Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))
	server := &http.Server{
		Addr:              fmtAddr(cfg.ServerPort),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
	}

	// 監視用サーバーが起動できない場合はワーカーも停止する
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		err := serveUntilDone(ctx, server, "worker monitor")
		if err != nil {
			cancel()
		}
		serverErr <- err
	}()

	slog.Info("worker starting",
		slog.Int("source_count", len(sources)),
		slog.Duration("import_interval", cfg.ImportInterval),
		slog.Float64("rate_per_sec", cfg.ImportRatePerSec),
		slog.Int("max_concurrent", cfg.ImportMaxConcurrent),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.ImportInterval)

	if err := <-serverErr; err != nil {
		return err
	}
	slog.Info("worker stopped gracefully")
	return nil
}

// serveUntilDone はサーバーを起動し、ctxのキャンセル後にグレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	listenErr := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	select {
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runMigrate はPostgreSQLのマイグレーションを実行する。
// MongoDBはインデックスを起動時に作成するため対象外。
func runMigrate(cfg *config.Config) error {
	if cfg.StoreBackend != config.StorePostgres {
		return fmt.Errorf("migrate is only supported for STORE_BACKEND=postgres (got %q)", cfg.StoreBackend)
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
