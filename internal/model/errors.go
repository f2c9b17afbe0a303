// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法に加え、失敗した操作名と下位エラーを保持する。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, medicine, system
	Action   string // ユーザー向け対処方法
	Op       string // 失敗した操作名（例: "AddMedicine"）
	Err      error  // 下位エラー。StoreFailureのみ設定される
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap は下位エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is はエラーコードが一致する場合にtrueを返す。
// errors.Is(err, model.ErrNotFound) のようにエラー種別を判定するために使用する。
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// 定義済みエラーコード
const (
	ErrCodeInvalidArgument = "INVALID_ARGUMENT"
	ErrCodeNotFound        = "MEDICINE_NOT_FOUND"
	ErrCodeStoreFailure    = "STORE_FAILURE"
)

// エラー種別の判定用センチネル。errors.Isの比較対象としてのみ使用する。
var (
	ErrInvalidArgument = &APIError{Code: ErrCodeInvalidArgument}
	ErrNotFound        = &APIError{Code: ErrCodeNotFound}
	ErrStoreFailure    = &APIError{Code: ErrCodeStoreFailure}
)

// NewInvalidArgumentError は引数不正エラーを生成する。
// ストア呼び出し前にローカルで検出できる入力の欠落・不正を表す。
func NewInvalidArgumentError(op, message string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidArgument,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
		Op:       op,
	}
}

// NewMedicineNotFoundError は薬が見つからない場合のエラーを生成する。
func NewMedicineNotFoundError(op, medicineID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定された薬が見つかりません: %s", medicineID),
		Category: "medicine",
		Action:   "薬IDを確認してください。",
		Op:       op,
	}
}

// NewStoreFailureError はレコードストアが操作を完了できなかった場合のエラーを生成する。
// 原因は解釈せずにそのまま保持する。
func NewStoreFailureError(op string, err error) *APIError {
	return &APIError{
		Code:     ErrCodeStoreFailure,
		Message:  "データの保存または取得に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Op:       op,
		Err:      err,
	}
}
