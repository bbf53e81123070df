package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig はチャンク/オーバーラップ設定が不正な場合のエラー
	// 処理開始前に検出され、リトライされません
	ErrInvalidConfig = errors.New("invalid chunking config")

	// ErrEmptySource は正規化後テキストが空の場合のエラー
	ErrEmptySource = errors.New("empty source text")

	// ErrRateLimited はEmbedding APIのレート制限エラー(リトライ可能)
	ErrRateLimited = errors.New("rate limited")

	// ErrTransient は一時的なエラー(ネットワーク等、リトライ可能)
	ErrTransient = errors.New("transient error")

	// ErrFatal は回復不能なエラー(不正なモデル名等、リトライ不可)
	ErrFatal = errors.New("fatal embedding error")

	// ErrMaxRetriesExceeded は最大リトライ回数を超えた場合のエラー
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// ExtractionError はソースアダプターがテキストを抽出できなかったことを表します
type ExtractionError struct {
	Source string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("source extraction failed: %s: %v", e.Source, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// EmbeddingError はEmbeddingバッチ呼び出しの失敗を表します
// 内包するエラーで ErrRateLimited / ErrTransient / ErrFatal を区別します
type EmbeddingError struct {
	Batch   int
	Attempt int
	Err     error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding batch %d failed (attempt %d): %v", e.Batch, e.Attempt, e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// IsRetryable はエラーがリトライ可能かを判定します
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}
