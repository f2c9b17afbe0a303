package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/hitoshi/medimate/internal/clock"
	"github.com/hitoshi/medimate/internal/model"
)

// psql はPostgreSQLのプレースホルダ（$1, $2...）を使うステートメントビルダー。
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var medicineColumns = []string{"id", "name", "quantity", "expiry_date", "added_date", "user_id"}

// likeEscaper はLIKEのワイルドカードをリテラルとして扱うためのエスケープ。
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// PostgresMedicineRepo はPostgreSQLを使用した薬リポジトリ。
type PostgresMedicineRepo struct {
	db *sql.DB
}

// NewPostgresMedicineRepo はPostgresMedicineRepoを生成する。
func NewPostgresMedicineRepo(db *sql.DB) *PostgresMedicineRepo {
	return &PostgresMedicineRepo{db: db}
}

// Insert はUUIDを採番してレコードを保存する。
func (r *PostgresMedicineRepo) Insert(ctx context.Context, m *model.Medicine) (*model.Medicine, error) {
	stored := m.Clone()
	stored.ID = uuid.NewString()

	query, args, err := psql.Insert("medicines").
		Columns(medicineColumns...).
		Values(stored.ID, stored.Name, stored.Quantity, formatDate(stored.ExpiryDate), stored.AddedDate, stored.UserID).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("薬登録クエリの構築に失敗しました: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("薬の登録に失敗しました: %w", err)
	}
	return stored, nil
}

// FindByID は指定IDの薬を取得する。見つからない場合はnilを返す。
func (r *PostgresMedicineRepo) FindByID(ctx context.Context, id string) (*model.Medicine, error) {
	// UUID形式でないIDは該当レコードなしとして扱う
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	query, args, err := selectMedicines().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("薬取得クエリの構築に失敗しました: %w", err)
	}

	m, err := scanMedicine(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("薬の取得に失敗しました: %w", err)
	}
	return m, nil
}

// Update はname、quantity、expiry_dateを上書きする。
// user_id、added_dateは更新しない。
func (r *PostgresMedicineRepo) Update(ctx context.Context, id string, m *model.Medicine) (*model.Medicine, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrMedicineNotFound
	}

	query, args, err := psql.Update("medicines").
		Set("name", m.Name).
		Set("quantity", m.Quantity).
		Set("expiry_date", formatDate(m.ExpiryDate)).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + strings.Join(medicineColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("薬更新クエリの構築に失敗しました: %w", err)
	}

	updated, err := scanMedicine(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMedicineNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("薬の更新に失敗しました: %w", err)
	}
	return updated, nil
}

// Delete は指定IDの薬を削除する。
func (r *PostgresMedicineRepo) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrMedicineNotFound
	}

	query, args, err := psql.Delete("medicines").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("薬削除クエリの構築に失敗しました: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("薬の削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return ErrMedicineNotFound
	}
	return nil
}

// ListByUser はユーザーの全薬を返す。
func (r *PostgresMedicineRepo) ListByUser(ctx context.Context, userID string) ([]*model.Medicine, error) {
	return r.list(ctx, listByUserQuery(userID))
}

// ListByUserExpiryBefore はユーザーの期限切れ候補を返す。
func (r *PostgresMedicineRepo) ListByUserExpiryBefore(ctx context.Context, userID string, date time.Time) ([]*model.Medicine, error) {
	return r.list(ctx, listByUserExpiryBeforeQuery(userID, date))
}

// ListByUserExpiryBetween は期限が指定期間（両端を含む）にある薬を返す。
func (r *PostgresMedicineRepo) ListByUserExpiryBetween(ctx context.Context, userID string, start, end time.Time) ([]*model.Medicine, error) {
	return r.list(ctx, listByUserExpiryBetweenQuery(userID, start, end))
}

// ListByUserQuantityBelow は数量が閾値未満の薬を返す。
func (r *PostgresMedicineRepo) ListByUserQuantityBelow(ctx context.Context, userID string, threshold int) ([]*model.Medicine, error) {
	return r.list(ctx, listByUserQuantityBelowQuery(userID, threshold))
}

// ListByUserNameContains は名前の部分一致（ILIKE）で薬を返す。
func (r *PostgresMedicineRepo) ListByUserNameContains(ctx context.Context, userID, substring string) ([]*model.Medicine, error) {
	return r.list(ctx, listByUserNameContainsQuery(userID, substring))
}

// ListAllExpiryBefore は全ユーザーの期限切れ候補を返す。
func (r *PostgresMedicineRepo) ListAllExpiryBefore(ctx context.Context, date time.Time) ([]*model.Medicine, error) {
	return r.list(ctx, listAllExpiryBeforeQuery(date))
}

// list はSELECTを実行して全行を読み取る。
func (r *PostgresMedicineRepo) list(ctx context.Context, b sq.SelectBuilder) ([]*model.Medicine, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("薬一覧クエリの構築に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("薬一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	medicines := []*model.Medicine{}
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, fmt.Errorf("薬行の読み取りに失敗しました: %w", err)
		}
		medicines = append(medicines, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("薬一覧の走査に失敗しました: %w", err)
	}
	return medicines, nil
}

// --- クエリビルダー ---

func selectMedicines() sq.SelectBuilder {
	return psql.Select(medicineColumns...).
		From("medicines").
		OrderBy("added_date ASC", "id ASC")
}

func listByUserQuery(userID string) sq.SelectBuilder {
	return selectMedicines().Where(sq.Eq{"user_id": userID})
}

func listByUserExpiryBeforeQuery(userID string, date time.Time) sq.SelectBuilder {
	return listByUserQuery(userID).Where(sq.Lt{"expiry_date": formatDate(date)})
}

func listByUserExpiryBetweenQuery(userID string, start, end time.Time) sq.SelectBuilder {
	return listByUserQuery(userID).Where(sq.And{
		sq.GtOrEq{"expiry_date": formatDate(start)},
		sq.LtOrEq{"expiry_date": formatDate(end)},
	})
}

func listByUserQuantityBelowQuery(userID string, threshold int) sq.SelectBuilder {
	return listByUserQuery(userID).Where(sq.Lt{"quantity": threshold})
}

func listByUserNameContainsQuery(userID, substring string) sq.SelectBuilder {
	return listByUserQuery(userID).Where(sq.ILike{"name": "%" + likeEscaper.Replace(substring) + "%"})
}

func listAllExpiryBeforeQuery(date time.Time) sq.SelectBuilder {
	return selectMedicines().Where(sq.Lt{"expiry_date": formatDate(date)})
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMedicine(s rowScanner) (*model.Medicine, error) {
	m := &model.Medicine{}
	if err := s.Scan(&m.ID, &m.Name, &m.Quantity, &m.ExpiryDate, &m.AddedDate, &m.UserID); err != nil {
		return nil, err
	}
	m.ExpiryDate = clock.DateOf(m.ExpiryDate)
	return m, nil
}

// formatDate はDATE列に渡すための YYYY-MM-DD 文字列を返す。
// タイムスタンプとして渡すとセッションのタイムゾーンで日付がずれるため文字列で渡す。
func formatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}

// compile-time interface check
var _ MedicineRepository = (*PostgresMedicineRepo)(nil)
