package domain

import (
	"strings"
)

// NormalizeText は取り込み前のテキスト正規化を行います
// 改行コードをLFに統一し、前後の空白を除去します
// 構造ヒントのオフセットはこの正規化後のテキストを基準に計算されます
func NormalizeText(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	// BOMが残っているとオフセット計算とハッシュの双方がずれる
	s = strings.TrimPrefix(s, "\uFEFF")
	return strings.TrimSpace(s)
}
