package embedder

import (
	"context"

	"golang.org/x/time/rate"
)

const (
	// DefaultRequestsPerMinute はEmbedding APIへのデフォルト要求レート
	DefaultRequestsPerMinute = 300
	// DefaultMaxInFlight は同時に実行可能なバッチ要求数のデフォルト
	DefaultMaxInFlight = 8
)

// Throttle はEmbedding API呼び出しのグローバルスロットルです
// トークンバケットで要求レートを、セマフォで同時実行数を制御します
// ドキュメント単位ではなくプロセス全体で共有されます
// (レート制限は外部APIの資源であり、取り込み並列度とは独立)
type Throttle struct {
	limiter  *rate.Limiter
	inflight chan struct{}
}

// NewThrottle は新しいThrottleを作成します
func NewThrottle(requestsPerMinute, maxInFlight int) *Throttle {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	return &Throttle{
		limiter:  rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), maxInFlight),
		inflight: make(chan struct{}, maxInFlight),
	}
}

// Acquire はレート制限に従って待機し、実行スロットを取得します
// contextがキャンセルされた場合はエラーを返します
func (t *Throttle) Acquire(ctx context.Context) error {
	select {
	case t.inflight <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := t.limiter.Wait(ctx); err != nil {
		<-t.inflight
		return err
	}
	return nil
}

// Release は実行スロットを解放します
// Acquire成功後は必ず呼ぶこと(通常はdefer文で)
func (t *Throttle) Release() {
	<-t.inflight
}
