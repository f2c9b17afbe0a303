// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/medimate/internal/model"
)

// ErrMedicineNotFound は更新・削除対象の薬が存在しない場合に返される。
var ErrMedicineNotFound = errors.New("medicine not found")

// MedicineRepository は薬の在庫レコードの永続化インターフェース。
// バリデーションや業務ルールは扱わない。それらはinventory.Serviceの責務とする。
// 一覧系メソッドの並び順はストア定義であり、該当なしの場合は空スライスを返す。
type MedicineRepository interface {
	// Insert はIDを採番してレコードを保存し、保存後のレコードを返す。
	Insert(ctx context.Context, m *model.Medicine) (*model.Medicine, error)

	// FindByID は指定IDのレコードを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Medicine, error)

	// Update はname、quantity、expiry_dateを上書きし、更新後のレコードを返す。
	// 見つからない場合はErrMedicineNotFoundを返す。
	Update(ctx context.Context, id string, m *model.Medicine) (*model.Medicine, error)

	// Delete は指定IDのレコードを削除する。見つからない場合はErrMedicineNotFoundを返す。
	Delete(ctx context.Context, id string) error

	// ListByUser はユーザーの全レコードを返す。
	ListByUser(ctx context.Context, userID string) ([]*model.Medicine, error)

	// ListByUserExpiryBefore はexpiry_date < date のレコードを返す。
	ListByUserExpiryBefore(ctx context.Context, userID string, date time.Time) ([]*model.Medicine, error)

	// ListByUserExpiryBetween はstart <= expiry_date <= end のレコードを返す。
	ListByUserExpiryBetween(ctx context.Context, userID string, start, end time.Time) ([]*model.Medicine, error)

	// ListByUserQuantityBelow はquantity < threshold のレコードを返す。
	ListByUserQuantityBelow(ctx context.Context, userID string, threshold int) ([]*model.Medicine, error)

	// ListByUserNameContains は名前に部分文字列を含むレコードを大文字小文字を区別せずに返す。
	ListByUserNameContains(ctx context.Context, userID, substring string) ([]*model.Medicine, error)

	// ListAllExpiryBefore は全ユーザーを対象にexpiry_date < date のレコードを返す。
	// スケジューラ専用。
	ListAllExpiryBefore(ctx context.Context, date time.Time) ([]*model.Medicine, error)
}
