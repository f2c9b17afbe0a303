package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/medimate/internal/inventory"
	"github.com/hitoshi/medimate/internal/metrics"
	"github.com/hitoshi/medimate/internal/model"
)

// ジョブ名
const (
	JobExpiredScan          = "expired-scan"
	JobExpiringSoonReminder = "expiring-soon-reminder"
	JobHealthHeartbeat      = "health-heartbeat"
)

const heartbeatPingTimeout = 5 * time.Second

// ExpiredMedicineLister は全ユーザーの期限切れの薬を取得するインターフェース。
type ExpiredMedicineLister interface {
	GetAllExpiredMedicines(ctx context.Context) ([]*model.Medicine, error)
}

// ExpiringSoonWindower は期限間近の判定期間を返すインターフェース。
type ExpiringSoonWindower interface {
	ExpiringSoonWindow() (start, end time.Time)
}

// Pinger はデータベースの疎通確認のインターフェース。*sql.DB が満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// --- 期限切れスキャン ---

// ExpiredScanJob は全ユーザーの期限切れの薬を検出し、ユーザーごとに件数と一覧を記録する。
// 在庫データは変更しない。
type ExpiredScanJob struct {
	lister  ExpiredMedicineLister
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewExpiredScanJob はExpiredScanJobを生成する。
func NewExpiredScanJob(lister ExpiredMedicineLister, collector metrics.MetricsCollector, logger *slog.Logger) *ExpiredScanJob {
	return &ExpiredScanJob{lister: lister, metrics: collector, logger: logger}
}

// Name はジョブ名を返す。
func (j *ExpiredScanJob) Name() string { return JobExpiredScan }

// Run は期限切れスキャンを1回実行する。
func (j *ExpiredScanJob) Run(ctx context.Context) error {
	meds, err := j.lister.GetAllExpiredMedicines(ctx)
	if err != nil {
		return fmt.Errorf("期限切れの薬の取得に失敗: %w", err)
	}

	j.metrics.SetExpiredMedicines(len(meds))

	if len(meds) == 0 {
		j.logger.InfoContext(ctx, "期限切れの薬はありません")
		return nil
	}

	for _, m := range meds {
		j.logger.WarnContext(ctx, "期限切れの薬を検出しました",
			slog.String("medicine_id", m.ID),
			slog.String("user_id", m.UserID),
			slog.String("name", m.Name),
			slog.Int("quantity", m.Quantity),
			slog.String("expiry_date", m.ExpiryDate.Format(time.DateOnly)),
		)
	}

	users, counts := groupByUser(meds)
	for _, userID := range users {
		j.logger.InfoContext(ctx, "ユーザーの期限切れの薬",
			slog.String("user_id", userID),
			slog.Int("count", counts[userID]),
		)
	}

	j.logger.InfoContext(ctx, "期限切れスキャンが完了しました",
		slog.Int("expired_count", len(meds)),
		slog.Int("user_count", len(users)),
	)
	return nil
}

// groupByUser はユーザーIDを初出順に並べ、ユーザーごとの件数を数える。
func groupByUser(meds []*model.Medicine) ([]string, map[string]int) {
	var users []string
	counts := make(map[string]int)
	for _, m := range meds {
		if _, seen := counts[m.UserID]; !seen {
			users = append(users, m.UserID)
		}
		counts[m.UserID]++
	}
	return users, counts
}

// --- 期限間近リマインダー ---

// ExpiringSoonReminderJob は期限間近の判定期間を通知する。
// ユーザーごとの該当レコードは列挙しない。
type ExpiringSoonReminderJob struct {
	windower ExpiringSoonWindower
	logger   *slog.Logger
}

// NewExpiringSoonReminderJob はExpiringSoonReminderJobを生成する。
func NewExpiringSoonReminderJob(windower ExpiringSoonWindower, logger *slog.Logger) *ExpiringSoonReminderJob {
	return &ExpiringSoonReminderJob{windower: windower, logger: logger}
}

// Name はジョブ名を返す。
func (j *ExpiringSoonReminderJob) Name() string { return JobExpiringSoonReminder }

// Run はリマインダーを1回記録する。
func (j *ExpiringSoonReminderJob) Run(ctx context.Context) error {
	start, end := j.windower.ExpiringSoonWindow()
	j.logger.InfoContext(ctx, "期限間近の薬を確認してください",
		slog.String("window_start", start.Format(time.DateOnly)),
		slog.String("window_end", end.Format(time.DateOnly)),
		slog.Int("days", inventory.ExpiringSoonDays),
	)
	return nil
}

// --- ヘルスハートビート ---

// HeartbeatJob は稼働状況を記録する。
// pingerが設定されている場合はデータベースの疎通も確認する。
type HeartbeatJob struct {
	pinger Pinger
	logger *slog.Logger
}

// NewHeartbeatJob はHeartbeatJobを生成する。pingerはnilでもよい。
func NewHeartbeatJob(pinger Pinger, logger *slog.Logger) *HeartbeatJob {
	return &HeartbeatJob{pinger: pinger, logger: logger}
}

// Name はジョブ名を返す。
func (j *HeartbeatJob) Name() string { return JobHealthHeartbeat }

// Run はハートビートを1回実行する。
func (j *HeartbeatJob) Run(ctx context.Context) error {
	database := "skipped"
	if j.pinger != nil {
		pingCtx, cancel := context.WithTimeout(ctx, heartbeatPingTimeout)
		defer cancel()

		if err := j.pinger.PingContext(pingCtx); err != nil {
			return fmt.Errorf("データベースの疎通確認に失敗: %w", err)
		}
		database = "ok"
	}

	j.logger.InfoContext(ctx, "ヘルスチェック: 稼働中", slog.String("database", database))
	return nil
}

// compile-time interface checks
var (
	_ Job = (*ExpiredScanJob)(nil)
	_ Job = (*ExpiringSoonReminderJob)(nil)
	_ Job = (*HeartbeatJob)(nil)

	_ ExpiredMedicineLister = (*inventory.Service)(nil)
	_ ExpiringSoonWindower  = (*inventory.Service)(nil)
)
