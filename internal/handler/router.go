package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/medimate/internal/metrics"
	"github.com/hitoshi/medimate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	Logger            *slog.Logger

	// /health と /metrics
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer

	// 薬在庫
	MedicineService MedicineServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Metrics → Logging → UserScope → RateLimit
//
// /health と /metrics はユーザースコープとレート制限の外に配置する。
// RateLimiter、Metrics、Gathererがnilの場合は対応する機能を無効にする。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewLoggingMiddleware(logger))

	medicineHandler := NewMedicineHandler(deps.MedicineService)

	// --- 監視系 ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- 薬在庫API ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewUserScopeMiddleware())
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Route("/api/medicines", func(r chi.Router) {
			r.Post("/", medicineHandler.AddMedicine)
			r.Get("/", medicineHandler.ListMedicines)

			// 固定パスは/{id}より先に登録する
			r.Get("/expired", medicineHandler.ListExpired)
			r.Get("/expiring-soon", medicineHandler.ListExpiringSoon)
			r.Get("/low-stock", medicineHandler.ListLowStock)
			r.Get("/search", medicineHandler.Search)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", medicineHandler.GetMedicine)
				r.Put("/", medicineHandler.UpdateMedicine)
				r.Delete("/", medicineHandler.DeleteMedicine)
			})
		})
	})

	return r
}
