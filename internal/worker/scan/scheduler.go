// Package scan は在庫の定期スキャンを提供する。
// 期限切れスキャン、期限間近リマインダー、ヘルスハートビートの各ジョブを
// cron形式のトリガーで独立に実行する。
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hitoshi/medimate/internal/metrics"
)

// Job はスケジューラが実行する1つのジョブ。
// Runは在庫データを変更せず、結果はログとメトリクスにのみ出力する。
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler はジョブごとに独立したトリガーと障害境界を持つスケジューラ。
// あるジョブのエラーやpanicは、そのジョブの次回実行にも他のジョブにも影響しない。
type Scheduler struct {
	cron    *cron.Cron
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	mu   sync.RWMutex
	jobs map[string]Job
	ctx  context.Context
}

// NewScheduler はSchedulerを生成する。
// トリガーは秒フィールド付きのcron形式で、locのタイムゾーンで評価する。
// locがnilの場合はtime.Localを使用する。
func NewScheduler(loc *time.Location, collector metrics.MetricsCollector, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))

	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger),
			// 前回の実行が終わっていない場合、同じジョブの次のトリガーはスキップする
			cron.WithChain(cron.SkipIfStillRunning(cronLogger)),
		),
		metrics: collector,
		logger:  logger,
		jobs:    make(map[string]Job),
		ctx:     context.Background(),
	}
}

// Register はジョブをトリガー仕様とともに登録する。
// 仕様が不正な場合や同名のジョブが登録済みの場合はエラーを返す。
func (s *Scheduler) Register(spec string, job Job) error {
	name := job.Name()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("ジョブ %s は登録済みです", name)
	}
	if _, err := s.cron.AddFunc(spec, func() { s.fire(job) }); err != nil {
		return fmt.Errorf("ジョブ %s のトリガー %q の解析に失敗: %w", name, spec, err)
	}
	s.jobs[name] = job
	return nil
}

// JobNames は登録済みのジョブ名を名前順で返す。
func (s *Scheduler) JobNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start はスケジューラを起動し、ctxがキャンセルされるまでブロックする。
// 停止時は実行中のジョブの完了を待ってから戻る。
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("スキャンスケジューラを開始しました",
		slog.Any("jobs", s.JobNames()),
	)

	<-ctx.Done()

	<-s.cron.Stop().Done()
	s.logger.Info("スキャンスケジューラを停止しました")
}

// RunNow は指定ジョブを1回だけ、トリガー実行と同じ障害境界の中で実行する。
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("未登録のジョブです: %s", name)
	}
	return s.runJob(ctx, job)
}

// fire はcronトリガーから呼び出される。エラーはrunJob内で記録済みのため破棄する。
func (s *Scheduler) fire(job Job) {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()

	_ = s.runJob(ctx, job)
}

// runJob はジョブの障害境界。エラーとpanicを捕捉し、ログとメトリクスに記録する。
func (s *Scheduler) runJob(ctx context.Context, job Job) (err error) {
	name := job.Name()
	start := time.Now()

	defer func() {
		outcome := metrics.OutcomeSuccess
		if rec := recover(); rec != nil {
			outcome = metrics.OutcomePanic
			err = fmt.Errorf("ジョブ %s でpanicが発生しました: %v", name, rec)
			s.logger.Error("スキャンジョブでpanicが発生しました",
				slog.String("job", name),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
		} else if err != nil {
			outcome = metrics.OutcomeFailure
			s.logger.Error("スキャンジョブの実行に失敗しました",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
		}

		duration := time.Since(start)
		s.metrics.RecordJobRun(name, outcome)
		s.metrics.RecordJobDuration(name, duration)
		s.logger.Debug("スキャンジョブが終了しました",
			slog.String("job", name),
			slog.String("outcome", outcome),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
	}()

	return job.Run(ctx)
}
