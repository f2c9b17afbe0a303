package inventory

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/medimate/internal/model"
)

// 操作名。エラーの注釈とバリデーション表のキーに使用する。
const (
	opAddMedicine              = "AddMedicine"
	opGetAllMedicinesByUser    = "GetAllMedicinesByUser"
	opGetMedicineByID          = "GetMedicineByID"
	opUpdateMedicine           = "UpdateMedicine"
	opDeleteMedicine           = "DeleteMedicine"
	opGetExpiredMedicines      = "GetExpiredMedicines"
	opGetMedicinesExpiringSoon = "GetMedicinesExpiringSoon"
	opGetLowStockMedicines     = "GetLowStockMedicines"
	opSearchMedicinesByName    = "SearchMedicinesByName"
	opGetAllExpiredMedicines   = "GetAllExpiredMedicines"
)

const (
	nameMinLength = 2
	nameMaxLength = 100
)

// args は1回の操作で検証対象となる引数をまとめたもの。
type args struct {
	id       string
	userID   string
	query    string
	medicine *model.Medicine
	today    time.Time
}

// rule は1つの引数制約。violatedがtrueを返した場合にmessageで失敗する。
type rule struct {
	violated func(a args) bool
	message  string
}

var (
	idRequired = rule{
		violated: func(a args) bool { return strings.TrimSpace(a.id) == "" },
		message:  "薬IDを指定してください。",
	}
	userIDRequired = rule{
		violated: func(a args) bool { return strings.TrimSpace(a.userID) == "" },
		message:  "ユーザーIDを指定してください。",
	}
	queryRequired = rule{
		violated: func(a args) bool { return strings.TrimSpace(a.query) == "" },
		message:  "検索する薬の名前を指定してください。",
	}
	medicineRequired = rule{
		violated: func(a args) bool { return a.medicine == nil },
		message:  "薬の情報を指定してください。",
	}
	medicineUserIDRequired = rule{
		violated: func(a args) bool { return a.medicine != nil && strings.TrimSpace(a.medicine.UserID) == "" },
		message:  "ユーザーIDを指定してください。",
	}
	nameLength = rule{
		violated: func(a args) bool {
			if a.medicine == nil {
				return false
			}
			n := utf8.RuneCountInString(strings.TrimSpace(a.medicine.Name))
			return n < nameMinLength || n > nameMaxLength
		},
		message: "薬の名前は2文字以上100文字以下で指定してください。",
	}
	quantityNonNegative = rule{
		violated: func(a args) bool { return a.medicine != nil && a.medicine.Quantity < 0 },
		message:  "数量に負の値は指定できません。",
	}
	expiryRequired = rule{
		violated: func(a args) bool { return a.medicine != nil && a.medicine.ExpiryDate.IsZero() },
		message:  "使用期限を指定してください。",
	}
	expiryNotPast = rule{
		violated: func(a args) bool { return a.medicine != nil && a.medicine.ExpiryDate.Before(a.today) },
		message:  "使用期限に過去の日付は指定できません。",
	}
)

// operationRules は操作ごとの引数制約表。先頭から順に評価し、最初の違反でエラーとする。
// 使用期限の過去日チェックは登録時のみ行い、更新時には行わない。
var operationRules = map[string][]rule{
	opAddMedicine: {
		medicineRequired, medicineUserIDRequired, nameLength,
		quantityNonNegative, expiryRequired, expiryNotPast,
	},
	opGetAllMedicinesByUser: {userIDRequired},
	opGetMedicineByID:       {idRequired},
	opUpdateMedicine: {
		idRequired, medicineRequired, nameLength,
		quantityNonNegative, expiryRequired,
	},
	opDeleteMedicine:           {idRequired},
	opGetExpiredMedicines:      {userIDRequired},
	opGetMedicinesExpiringSoon: {userIDRequired},
	opGetLowStockMedicines:     {userIDRequired},
	opSearchMedicinesByName:    {userIDRequired, queryRequired},
}

// validate は操作opの制約表に従って引数を検証する。
// ストアを呼び出す前に実行し、違反時はInvalidArgumentを返す。
func validate(op string, a args) error {
	for _, r := range operationRules[op] {
		if r.violated(a) {
			return model.NewInvalidArgumentError(op, r.message)
		}
	}
	return nil
}
