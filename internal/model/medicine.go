// Package model はドメインモデルを定義する。
package model

import "time"

// Medicine はユーザーが所有する薬の在庫レコードを表す。
// ExpiryDateは日付のみを意味し、常にUTCの0時に正規化して保持する。
type Medicine struct {
	ID         string
	Name       string
	Quantity   int
	ExpiryDate time.Time
	AddedDate  time.Time // 作成時に1回だけ設定され、以後更新されない
	UserID     string
}

// Clone はMedicineのコピーを返す。
// ストアが保持する値を呼び出し元から変更されないようにするために使用する。
func (m *Medicine) Clone() *Medicine {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}
