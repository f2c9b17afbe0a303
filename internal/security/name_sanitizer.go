// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NameSanitizer は薬の名前からHTMLマークアップを取り除き、
// Web UIに表示される名前にスクリプトやタグが保存されないようにする。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizer はプレーンテキスト項目のサニタイズ機能のインターフェース。
type NameSanitizer interface {
	// Sanitize は全てのタグを除去し、前後の空白を取り除いたテキストを返す。
	// script, styleタグは内容ごと除去される。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// nameSanitizer はbluemondayのStrictPolicyを使用するNameSanitizerの実装。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerの新しいインスタンスを生成する。
func NewNameSanitizer() NameSanitizer {
	return &nameSanitizer{policy: bluemonday.StrictPolicy()}
}

// maxSanitizePasses はエンティティの多重エスケープを剥がす最大回数。
const maxSanitizePasses = 8

// Sanitize はタグを除去したプレーンテキストを返す。
// StrictPolicyは & や < をエンティティに変換するため元の文字へ戻すが、
// &lt;b&gt; のようにエスケープされたタグが戻ってタグになるため、出力が変わらなくなるまで繰り返す。
func (s *nameSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	current := raw
	for range maxSanitizePasses {
		next := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(current)))
		if next == current {
			return next
		}
		current = next
	}
	// 収束しない入力はエスケープ済みのまま返し、タグとして解釈される文字を残さない
	return strings.TrimSpace(s.policy.Sanitize(current))
}
