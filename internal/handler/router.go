package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/emututor/internal/metrics"
	"github.com/hitoshi/emututor/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	TutorialService TutorialServiceInterface
	HealthChecker   HealthChecker

	// Metricsがnilの場合はHTTPメトリクスを記録しない。
	// Gathererがnilの場合は/metricsを公開しない。
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer

	Logger            *slog.Logger
	CORSAllowedOrigin string
	UploadMaxBytes    int64
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS → Metrics
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	tutorialHandler := NewTutorialHandler(deps.TutorialService, deps.UploadMaxBytes)
	healthHandler := NewHealthHandler(deps.HealthChecker)

	r.Get("/health", healthHandler.Health)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/", tutorialHandler.Info)

		r.Route("/tutorials", func(r chi.Router) {
			r.Post("/", tutorialHandler.CreateTutorial)
			r.Get("/", tutorialHandler.ListTutorials)
			r.Post("/submit", tutorialHandler.SubmitTutorial)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", tutorialHandler.GetTutorial)
				r.Post("/video", tutorialHandler.UploadVideo)
			})
		})

		r.Get("/metadata", tutorialHandler.GetMetadata)
		r.Get("/search", tutorialHandler.SearchTutorials)
	})

	return r
}
