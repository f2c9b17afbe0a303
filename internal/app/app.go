package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/medimate/internal/clock"
	"github.com/hitoshi/medimate/internal/config"
	"github.com/hitoshi/medimate/internal/database"
	"github.com/hitoshi/medimate/internal/handler"
	"github.com/hitoshi/medimate/internal/inventory"
	"github.com/hitoshi/medimate/internal/logger"
	"github.com/hitoshi/medimate/internal/metrics"
	"github.com/hitoshi/medimate/internal/middleware"
	"github.com/hitoshi/medimate/internal/repository"
	"github.com/hitoshi/medimate/internal/security"
	"github.com/hitoshi/medimate/internal/worker/scan"
)

const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数のConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMで停止する。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return RunContext(ctx, w, args)
}

// RunContext はctxがキャンセルされるまでサブコマンドを実行する。
func RunContext(ctx context.Context, w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(ctx, port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("timezone", cfg.Timezone),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandScan:
		return runScan(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openStore は設定に応じたレコードストアを開く。
// Postgresの場合は接続確認まで行い、*sql.DBも返す。メモリストアの場合dbはnil。
func openStore(ctx context.Context, cfg *config.Config) (repository.MedicineRepository, *sql.DB, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		slog.Warn("using in-memory store; records are lost on exit and not shared between processes")
		return repository.NewMemoryMedicineRepo(), nil, nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return repository.NewPostgresMedicineRepo(db), db, nil
}

// newInventoryService は設定のタイムゾーンを「今日」の基準とするServiceを生成する。
func newInventoryService(cfg *config.Config, repo repository.MedicineRepository) *inventory.Service {
	return inventory.NewService(
		repo,
		clock.NewSystemClock(cfg.Location),
		security.NewNameSanitizer(),
		slog.Default(),
	)
}

// newMetricsRegistry はプロセス・ランタイムメトリクスとアプリケーションメトリクスを登録したレジストリを返す。
func newMetricsRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// runServe はAPIサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. ストア
	repo, db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	// 2. サービスとメトリクス
	service := newInventoryService(cfg, repo)
	reg, collector := newMetricsRegistry()

	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral),
		slog.Default(),
	)
	defer rateLimiter.Stop()

	// 3. ルーターの構築
	deps := &handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Metrics:           collector,
		Logger:            slog.Default(),
		Gatherer:          reg,
		MedicineService:   service,
	}
	// nilの*sql.DBをインターフェースに入れない
	if db != nil {
		deps.HealthChecker = db
	}

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("API server starting", slog.String("addr", server.Addr))
	if err := serveUntilDone(ctx, server); err != nil {
		return err
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// serveUntilDone はサーバーを起動し、ctxのキャンセルで停止する。
// 起動に失敗した場合はそのエラーを返す。
func serveUntilDone(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down server", slog.String("addr", server.Addr))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// newScheduler は3つのスキャンジョブを登録したSchedulerを生成する。
func newScheduler(cfg *config.Config, service *inventory.Service, db *sql.DB, collector metrics.MetricsCollector) (*scan.Scheduler, error) {
	logger := slog.Default()
	scheduler := scan.NewScheduler(cfg.Location, collector, logger)

	var pinger scan.Pinger
	if db != nil {
		pinger = db
	}

	jobs := []struct {
		spec string
		job  scan.Job
	}{
		{cfg.ExpiredScanSchedule, scan.NewExpiredScanJob(service, collector, logger)},
		{cfg.ExpiringSoonSchedule, scan.NewExpiringSoonReminderJob(service, logger)},
		{cfg.HealthCheckSchedule, scan.NewHeartbeatJob(pinger, logger)},
	}
	for _, j := range jobs {
		if err := scheduler.Register(j.spec, j.job); err != nil {
			return nil, err
		}
	}
	return scheduler, nil
}

// runWorker はワーカーモードで起動する。
// スキャンスケジューラとメトリクス公開用のHTTPリスナーを起動し、ctxのキャンセルで停止する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	repo, db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	service := newInventoryService(cfg, repo)
	reg, collector := newMetricsRegistry()

	scheduler, err := newScheduler(cfg, service, db, collector)
	if err != nil {
		return fmt.Errorf("failed to register scan jobs: %w", err)
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metricsErr := make(chan error, 1)
	go func() {
		slog.Info("metrics server starting", slog.String("addr", metricsServer.Addr))
		metricsErr <- serveUntilDone(ctx, metricsServer)
		// メトリクスリスナーが起動できない場合はワーカー全体を停止する
		cancel()
	}()

	slog.Info("worker starting",
		slog.String("expired_scan_schedule", cfg.ExpiredScanSchedule),
		slog.String("expiring_soon_schedule", cfg.ExpiringSoonSchedule),
		slog.String("health_check_schedule", cfg.HealthCheckSchedule),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx)

	if err := <-metricsErr; err != nil {
		return err
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runScan は期限切れスキャンを1回だけ実行して終了する。
// 外部のジョブスケジューラから起動することを想定している。
func runScan(ctx context.Context, cfg *config.Config) error {
	repo, db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	service := newInventoryService(cfg, repo)
	_, collector := newMetricsRegistry()

	scheduler, err := newScheduler(cfg, service, db, collector)
	if err != nil {
		return fmt.Errorf("failed to register scan jobs: %w", err)
	}

	if err := scheduler.RunNow(ctx, scan.JobExpiredScan); err != nil {
		return fmt.Errorf("expired scan failed: %w", err)
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.StoreDriver == config.StoreDriverMemory {
		slog.Info("in-memory store has no schema; skipping migrations")
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	result, err := database.RunMigrations(cfg.DatabaseURL, slog.Default())
	var dirty *database.DirtyError
	if errors.As(err, &dirty) {
		slog.Error("schema is dirty; repair it and run migrate force before retrying",
			slog.Uint64("version", uint64(dirty.Version)),
		)
		return fmt.Errorf("migration failed: %w", err)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(result.To)),
		slog.Bool("applied", result.Applied()),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// URLとして解釈できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
