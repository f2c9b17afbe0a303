package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/medimate/internal/model"
)

// MemoryMedicineRepo はプロセス内メモリに保持する薬リポジトリ。
// テストおよび STORE_DRIVER=memory での起動時に使用する。
// レコード単位の操作はミューテックスで保護され、原子的に実行される。
type MemoryMedicineRepo struct {
	mu        sync.RWMutex
	medicines map[string]*model.Medicine
}

// NewMemoryMedicineRepo はMemoryMedicineRepoを生成する。
func NewMemoryMedicineRepo() *MemoryMedicineRepo {
	return &MemoryMedicineRepo{medicines: make(map[string]*model.Medicine)}
}

// Insert はUUIDを採番してレコードを保存する。
func (r *MemoryMedicineRepo) Insert(ctx context.Context, m *model.Medicine) (*model.Medicine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stored := m.Clone()
	stored.ID = uuid.NewString()

	r.mu.Lock()
	r.medicines[stored.ID] = stored
	r.mu.Unlock()

	return stored.Clone(), nil
}

// FindByID は指定IDの薬を取得する。見つからない場合はnilを返す。
func (r *MemoryMedicineRepo) FindByID(ctx context.Context, id string) (*model.Medicine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.medicines[id].Clone(), nil
}

// Update はname、quantity、expiry_dateを上書きする。
func (r *MemoryMedicineRepo) Update(ctx context.Context, id string, m *model.Medicine) (*model.Medicine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.medicines[id]
	if !ok {
		return nil, ErrMedicineNotFound
	}
	existing.Name = m.Name
	existing.Quantity = m.Quantity
	existing.ExpiryDate = m.ExpiryDate
	return existing.Clone(), nil
}

// Delete は指定IDの薬を削除する。
func (r *MemoryMedicineRepo) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.medicines[id]; !ok {
		return ErrMedicineNotFound
	}
	delete(r.medicines, id)
	return nil
}

// ListByUser はユーザーの全薬を返す。
func (r *MemoryMedicineRepo) ListByUser(ctx context.Context, userID string) ([]*model.Medicine, error) {
	return r.filter(ctx, func(m *model.Medicine) bool {
		return m.UserID == userID
	})
}

// ListByUserExpiryBefore はexpiry_date < date の薬を返す。
func (r *MemoryMedicineRepo) ListByUserExpiryBefore(ctx context.Context, userID string, date time.Time) ([]*model.Medicine, error) {
	return r.filter(ctx, func(m *model.Medicine) bool {
		return m.UserID == userID && m.ExpiryDate.Before(date)
	})
}

// ListByUserExpiryBetween はstart <= expiry_date <= end の薬を返す。
func (r *MemoryMedicineRepo) ListByUserExpiryBetween(ctx context.Context, userID string, start, end time.Time) ([]*model.Medicine, error) {
	return r.filter(ctx, func(m *model.Medicine) bool {
		return m.UserID == userID && !m.ExpiryDate.Before(start) && !m.ExpiryDate.After(end)
	})
}

// ListByUserQuantityBelow はquantity < threshold の薬を返す。
func (r *MemoryMedicineRepo) ListByUserQuantityBelow(ctx context.Context, userID string, threshold int) ([]*model.Medicine, error) {
	return r.filter(ctx, func(m *model.Medicine) bool {
		return m.UserID == userID && m.Quantity < threshold
	})
}

// ListByUserNameContains は名前の部分一致（大文字小文字を区別しない）で薬を返す。
func (r *MemoryMedicineRepo) ListByUserNameContains(ctx context.Context, userID, substring string) ([]*model.Medicine, error) {
	needle := strings.ToLower(substring)
	return r.filter(ctx, func(m *model.Medicine) bool {
		return m.UserID == userID && strings.Contains(strings.ToLower(m.Name), needle)
	})
}

// ListAllExpiryBefore は全ユーザーのexpiry_date < date の薬を返す。
func (r *MemoryMedicineRepo) ListAllExpiryBefore(ctx context.Context, date time.Time) ([]*model.Medicine, error) {
	return r.filter(ctx, func(m *model.Medicine) bool {
		return m.ExpiryDate.Before(date)
	})
}

// filter は条件に一致する薬のコピーをadded_date, id順で返す。
func (r *MemoryMedicineRepo) filter(ctx context.Context, match func(*model.Medicine) bool) ([]*model.Medicine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	result := []*model.Medicine{}
	for _, m := range r.medicines {
		if match(m) {
			result = append(result, m.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].AddedDate.Equal(result[j].AddedDate) {
			return result[i].AddedDate.Before(result[j].AddedDate)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// compile-time interface check
var _ MedicineRepository = (*MemoryMedicineRepo)(nil)
