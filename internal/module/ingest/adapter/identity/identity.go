// Package identity はチャンク内容の指紋計算と位置ベースの重複判定を提供します
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Normalize は指紋計算前の空白正規化を行います
// 前後の空白を除去し、連続する空白(改行含む)を単一スペースに畳み込みます
// 末尾改行や二重スペースといった見た目上の差分で
// 再取り込み時にチャンクが「変更あり」と誤検知されるのを防ぎます
func Normalize(content string) string {
	return strings.Join(strings.Fields(content), " ")
}

// Fingerprint は正規化済み内容のSHA-256ダイジェストを16進文字列で返します
// 同一性判定に使用するため暗号学的ハッシュを用います(衝突耐性が必要)
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(Normalize(content)))
	return hex.EncodeToString(sum[:])
}

// IsDuplicate は前回実行のチャンクと重複しているかを判定します
// ハッシュとchunk_indexの両方が一致した場合のみ重複とみなします
// 別インデックスでのハッシュ一致は重複扱いしません(条文間で定型文が正当に繰り返されるため)
// 識別子は位置であり、ハッシュはその位置内での変更検知器という設計です
func IsDuplicate(index int, hash string, existing map[int]string) bool {
	prev, ok := existing[index]
	return ok && prev == hash
}
