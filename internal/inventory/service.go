// Package inventory は薬の在庫管理のドメインロジックを提供する。
// 登録・更新・削除のバリデーションと、使用期限・在庫数に基づく派生クエリを扱う。
package inventory

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/medimate/internal/clock"
	"github.com/hitoshi/medimate/internal/model"
	"github.com/hitoshi/medimate/internal/repository"
	"github.com/hitoshi/medimate/internal/security"
)

const (
	// DefaultLowStockThreshold は閾値未指定時の在庫少判定の閾値。
	DefaultLowStockThreshold = 5
	// ExpiringSoonDays は期限間近とみなす日数。今日からこの日数後までを両端含めて対象とする。
	ExpiringSoonDays = 30
)

// Service は薬の在庫管理のサービス層。
// 「今日」は呼び出しごとに注入されたClockから1回だけ求める。
// ユーザーIDは前後の空白を除去してから保存・照合する。
// ストア呼び出しのリトライは行わない。
type Service struct {
	repo      repository.MedicineRepository
	clock     clock.Clock
	sanitizer security.NameSanitizer
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.MedicineRepository,
	clk clock.Clock,
	sanitizer security.NameSanitizer,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		clock:     clk,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// AddMedicine は薬を登録する。
// 使用期限が今日より前の場合はInvalidArgumentを返し、何も保存しない。
// IDはストアが採番し、AddedDateは登録時刻に設定する。
func (s *Service) AddMedicine(ctx context.Context, m *model.Medicine) (*model.Medicine, error) {
	now := s.clock.Now()
	candidate := s.normalize(m)

	if err := validate(opAddMedicine, args{medicine: candidate, today: clock.DateOf(now)}); err != nil {
		return nil, err
	}

	candidate.ID = ""
	candidate.UserID = strings.TrimSpace(candidate.UserID)
	candidate.AddedDate = now

	stored, err := s.repo.Insert(ctx, candidate)
	if err != nil {
		return nil, s.storeFailure(ctx, opAddMedicine, err, slog.String("user_id", candidate.UserID))
	}

	s.logger.InfoContext(ctx, "薬を登録しました",
		slog.String("medicine_id", stored.ID),
		slog.String("user_id", stored.UserID),
		slog.String("name", stored.Name),
	)
	return stored, nil
}

// GetAllMedicinesByUser はユーザーの全ての薬を返す。該当なしは空スライスでありエラーではない。
func (s *Service) GetAllMedicinesByUser(ctx context.Context, userID string) ([]*model.Medicine, error) {
	userID = strings.TrimSpace(userID)
	if err := validate(opGetAllMedicinesByUser, args{userID: userID}); err != nil {
		return nil, err
	}

	meds, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, s.storeFailure(ctx, opGetAllMedicinesByUser, err, slog.String("user_id", userID))
	}
	s.logFound(ctx, opGetAllMedicinesByUser, userID, len(meds))
	return meds, nil
}

// GetMedicineByID は指定IDの薬を返す。見つからない場合はnilを返す（エラーではない）。
func (s *Service) GetMedicineByID(ctx context.Context, id string) (*model.Medicine, error) {
	if err := validate(opGetMedicineByID, args{id: id}); err != nil {
		return nil, err
	}

	m, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.storeFailure(ctx, opGetMedicineByID, err, slog.String("medicine_id", id))
	}
	return m, nil
}

// UpdateMedicine はname、quantity、expiryDateを上書きする。
// ID、UserID、AddedDateは変更しない。
// 登録時と異なり、使用期限が過去日であることは検証しない。
func (s *Service) UpdateMedicine(ctx context.Context, id string, values *model.Medicine) (*model.Medicine, error) {
	candidate := s.normalize(values)

	if err := validate(opUpdateMedicine, args{id: id, medicine: candidate}); err != nil {
		return nil, err
	}

	updated, err := s.repo.Update(ctx, id, candidate)
	if errors.Is(err, repository.ErrMedicineNotFound) {
		return nil, model.NewMedicineNotFoundError(opUpdateMedicine, id)
	}
	if err != nil {
		return nil, s.storeFailure(ctx, opUpdateMedicine, err, slog.String("medicine_id", id))
	}

	s.logger.InfoContext(ctx, "薬を更新しました",
		slog.String("medicine_id", updated.ID),
		slog.String("user_id", updated.UserID),
	)
	return updated, nil
}

// DeleteMedicine は指定IDの薬を削除する。存在しない場合はNotFoundを返す。
func (s *Service) DeleteMedicine(ctx context.Context, id string) error {
	if err := validate(opDeleteMedicine, args{id: id}); err != nil {
		return err
	}

	err := s.repo.Delete(ctx, id)
	if errors.Is(err, repository.ErrMedicineNotFound) {
		return model.NewMedicineNotFoundError(opDeleteMedicine, id)
	}
	if err != nil {
		return s.storeFailure(ctx, opDeleteMedicine, err, slog.String("medicine_id", id))
	}

	s.logger.InfoContext(ctx, "薬を削除しました", slog.String("medicine_id", id))
	return nil
}

// GetExpiredMedicines は使用期限が今日より前の薬を返す。
func (s *Service) GetExpiredMedicines(ctx context.Context, userID string) ([]*model.Medicine, error) {
	userID = strings.TrimSpace(userID)
	if err := validate(opGetExpiredMedicines, args{userID: userID}); err != nil {
		return nil, err
	}

	today := clock.Today(s.clock)
	meds, err := s.repo.ListByUserExpiryBefore(ctx, userID, today)
	if err != nil {
		return nil, s.storeFailure(ctx, opGetExpiredMedicines, err, slog.String("user_id", userID))
	}
	s.logFound(ctx, opGetExpiredMedicines, userID, len(meds))
	return meds, nil
}

// GetMedicinesExpiringSoon は使用期限が[今日, 今日+30日]にある薬を返す。
func (s *Service) GetMedicinesExpiringSoon(ctx context.Context, userID string) ([]*model.Medicine, error) {
	userID = strings.TrimSpace(userID)
	if err := validate(opGetMedicinesExpiringSoon, args{userID: userID}); err != nil {
		return nil, err
	}

	start, end := s.ExpiringSoonWindow()
	meds, err := s.repo.ListByUserExpiryBetween(ctx, userID, start, end)
	if err != nil {
		return nil, s.storeFailure(ctx, opGetMedicinesExpiringSoon, err, slog.String("user_id", userID))
	}
	s.logFound(ctx, opGetMedicinesExpiringSoon, userID, len(meds))
	return meds, nil
}

// GetLowStockMedicines は数量が閾値未満の薬を返す。
// thresholdがnilの場合はDefaultLowStockThresholdを使用する。
func (s *Service) GetLowStockMedicines(ctx context.Context, userID string, threshold *int) ([]*model.Medicine, error) {
	userID = strings.TrimSpace(userID)
	if err := validate(opGetLowStockMedicines, args{userID: userID}); err != nil {
		return nil, err
	}

	limit := DefaultLowStockThreshold
	if threshold != nil {
		limit = *threshold
	}

	meds, err := s.repo.ListByUserQuantityBelow(ctx, userID, limit)
	if err != nil {
		return nil, s.storeFailure(ctx, opGetLowStockMedicines, err,
			slog.String("user_id", userID),
			slog.Int("threshold", limit),
		)
	}
	s.logger.DebugContext(ctx, "在庫が少ない薬を取得しました",
		slog.String("user_id", userID),
		slog.Int("threshold", limit),
		slog.Int("count", len(meds)),
	)
	return meds, nil
}

// SearchMedicinesByName は名前の部分一致（大文字小文字を区別しない）で薬を検索する。
// 検索語は前後の空白を除去してから照合する。
func (s *Service) SearchMedicinesByName(ctx context.Context, userID, name string) ([]*model.Medicine, error) {
	userID = strings.TrimSpace(userID)
	if err := validate(opSearchMedicinesByName, args{userID: userID, query: name}); err != nil {
		return nil, err
	}

	query := strings.TrimSpace(name)
	meds, err := s.repo.ListByUserNameContains(ctx, userID, query)
	if err != nil {
		return nil, s.storeFailure(ctx, opSearchMedicinesByName, err,
			slog.String("user_id", userID),
			slog.String("query", query),
		)
	}
	s.logFound(ctx, opSearchMedicinesByName, userID, len(meds))
	return meds, nil
}

// GetAllExpiredMedicines は全ユーザーを対象に使用期限が今日より前の薬を返す。
// スケジューラ専用であり、リクエスト経路からは呼び出さない。
func (s *Service) GetAllExpiredMedicines(ctx context.Context) ([]*model.Medicine, error) {
	today := clock.Today(s.clock)
	meds, err := s.repo.ListAllExpiryBefore(ctx, today)
	if err != nil {
		return nil, s.storeFailure(ctx, opGetAllExpiredMedicines, err)
	}
	s.logger.DebugContext(ctx, "全ユーザーの期限切れの薬を取得しました", slog.Int("count", len(meds)))
	return meds, nil
}

// ExpiringSoonWindow は期限間近の判定期間 [今日, 今日+30日] を返す。
func (s *Service) ExpiringSoonWindow() (start, end time.Time) {
	today := clock.Today(s.clock)
	return today, clock.AddDays(today, ExpiringSoonDays)
}

// normalize は入力をコピーし、名前のサニタイズと使用期限の日付正規化を行う。
// 入力がnilの場合はnilを返す。
func (s *Service) normalize(m *model.Medicine) *model.Medicine {
	if m == nil {
		return nil
	}
	c := m.Clone()
	c.Name = s.sanitizer.Sanitize(c.Name)
	if !c.ExpiryDate.IsZero() {
		c.ExpiryDate = clock.DateOf(c.ExpiryDate)
	}
	return c
}

// storeFailure はストアのエラーをログに記録し、StoreFailureに変換する。
func (s *Service) storeFailure(ctx context.Context, op string, err error, attrs ...slog.Attr) error {
	args := []any{slog.String("op", op), slog.String("error", err.Error())}
	for _, a := range attrs {
		args = append(args, a)
	}
	s.logger.ErrorContext(ctx, "レコードストアの操作に失敗しました", args...)
	return model.NewStoreFailureError(op, err)
}

func (s *Service) logFound(ctx context.Context, op, userID string, count int) {
	s.logger.DebugContext(ctx, "薬を取得しました",
		slog.String("op", op),
		slog.String("user_id", userID),
		slog.Int("count", count),
	)
}
