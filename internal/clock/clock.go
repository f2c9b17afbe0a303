// Package clock は現在時刻の取得を抽象化する。
// 日付に依存する判定（期限切れ・期限間近）はすべてこのパッケージ経由で「今日」を求める。
package clock

import "time"

// Clock は現在時刻を返すインターフェース。
// テスト時には固定時刻の実装に差し替える。
type Clock interface {
	Now() time.Time
}

// SystemClock は指定タイムゾーンの壁時計を返すClock実装。
type SystemClock struct {
	loc *time.Location
}

// NewSystemClock はSystemClockを生成する。
// locがnilの場合はtime.Localを使用する。
func NewSystemClock(loc *time.Location) *SystemClock {
	if loc == nil {
		loc = time.Local
	}
	return &SystemClock{loc: loc}
}

// Now は現在時刻を設定タイムゾーンで返す。
func (c *SystemClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// FixedClock は常に同じ時刻を返すClock実装。
type FixedClock struct {
	T time.Time
}

// Now は固定時刻を返す。
func (c FixedClock) Now() time.Time {
	return c.T
}

// Today はClockの現在時刻から今日の日付を求める。
// 呼び出しごとに1回だけ解決し、結果をキャッシュしない。
func Today(c Clock) time.Time {
	return DateOf(c.Now())
}

// DateOf は時刻tの暦日（tのタイムゾーンにおける年月日）をUTC 0時で返す。
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays は日付にn日を加算する。
func AddDays(date time.Time, n int) time.Time {
	return date.AddDate(0, 0, n)
}
