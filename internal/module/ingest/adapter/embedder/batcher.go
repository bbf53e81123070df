package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/jinford/lex-ingest/internal/module/ingest/domain"
)

const (
	// DefaultMaxBatchChars はバッチあたりの文字数上限
	DefaultMaxBatchChars = 20000
	// DefaultMaxBatchItems はバッチあたりのチャンク数上限
	DefaultMaxBatchItems = 100
	// DefaultMaxAttempts はバッチごとの最大試行回数
	DefaultMaxAttempts = 3
	// DefaultBaseBackoff は指数バックオフの初期待機時間
	DefaultBaseBackoff = 500 * time.Millisecond
)

// BatcherConfig はバッチ処理の設定
type BatcherConfig struct {
	MaxBatchChars int
	MaxBatchItems int
	MaxAttempts   int
	BaseBackoff   time.Duration
}

// DefaultBatcherConfig はデフォルトのバッチ設定を返します
func DefaultBatcherConfig() BatcherConfig {
	return BatcherConfig{
		MaxBatchChars: DefaultMaxBatchChars,
		MaxBatchItems: DefaultMaxBatchItems,
		MaxAttempts:   DefaultMaxAttempts,
		BaseBackoff:   DefaultBaseBackoff,
	}
}

// Outcome はバッチEmbedding処理の結果
// 一部バッチの失敗は全体を中断せず、失敗チャンクをインデックスで列挙します
type Outcome struct {
	// Embedded はEmbedding付与に成功したチャンクのインデックス列(昇順)
	Embedded []int
	// Failed はリトライ上限到達で失敗したチャンクのインデックス列(昇順)
	Failed []int
	// LastErr は最後に観測した失敗の原因(Failedが空ならnil)
	LastErr error
}

// Batcher はチャンク列をバッチに分割してEmbedding能力を呼び出します
// バッチは文字数・件数の両方の上限のうち先に到達した方で閉じられ、
// 単独で上限を超えるチャンクも切り詰めずに1件バッチとして送られます
type Batcher struct {
	capability domain.EmbeddingCapability
	throttle   *Throttle
	cfg        BatcherConfig
	logger     *slog.Logger
}

// NewBatcher は新しいBatcherを作成します
func NewBatcher(capability domain.EmbeddingCapability, throttle *Throttle, cfg BatcherConfig, logger *slog.Logger) *Batcher {
	if cfg.MaxBatchChars <= 0 {
		cfg.MaxBatchChars = DefaultMaxBatchChars
	}
	if cfg.MaxBatchItems <= 0 {
		cfg.MaxBatchItems = DefaultMaxBatchItems
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if throttle == nil {
		throttle = NewThrottle(DefaultRequestsPerMinute, DefaultMaxInFlight)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		capability: capability,
		throttle:   throttle,
		cfg:        cfg,
		logger:     logger,
	}
}

// Embed はチャンク列のEmbeddingを生成し、成功分をチャンクへ書き戻します
// バッチは同時にディスパッチされますが、結果はchunk_indexで決定的に集約されます
// 返却エラーはcontextキャンセル時のみで、バッチ失敗はOutcomeで報告されます
func (b *Batcher) Embed(ctx context.Context, chunks []*domain.Chunk, model string) (*Outcome, error) {
	outcome := &Outcome{}
	if len(chunks) == 0 {
		return outcome, nil
	}

	batches := b.plan(chunks)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for batchNo, batch := range batches {
		g.Go(func() error {
			vectors, err := b.embedWithRetry(gctx, batchNo, batch, model)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				// contextキャンセルはパイプライン全体の中断として伝播する
				if gctx.Err() != nil {
					return gctx.Err()
				}
				b.logger.Warn("embedding batch failed after retries",
					"batch", batchNo,
					"chunks", len(batch),
					"error", err,
				)
				for _, ch := range batch {
					outcome.Failed = append(outcome.Failed, ch.ChunkIndex)
				}
				outcome.LastErr = err
				return nil
			}

			for i, ch := range batch {
				ch.Embedding = vectors[i]
				ch.Model = model
				outcome.Embedded = append(outcome.Embedded, ch.ChunkIndex)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// バッチ完了順に依存しない決定的な並びにする
	sort.Ints(outcome.Embedded)
	sort.Ints(outcome.Failed)
	return outcome, nil
}

// plan はチャンク列を文字数・件数の上限に従って貪欲にバッチへ分割します
func (b *Batcher) plan(chunks []*domain.Chunk) [][]*domain.Chunk {
	var batches [][]*domain.Chunk
	var current []*domain.Chunk
	currentChars := 0

	for _, ch := range chunks {
		chars := utf8.RuneCountInString(ch.Content)

		// どちらかの上限を超える場合は現在のバッチを閉じる
		if len(current) > 0 &&
			(currentChars+chars > b.cfg.MaxBatchChars || len(current)+1 > b.cfg.MaxBatchItems) {
			batches = append(batches, current)
			current = nil
			currentChars = 0
		}

		// 単独で上限を超えるチャンクも切り詰めずそのまま送る
		// (ベクトルの正しさを優先し、切り詰めによるデータ損失を避ける)
		current = append(current, ch)
		currentChars += chars
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// embedWithRetry は1バッチを指数バックオフ付きでリトライしながら実行します
// リトライ対象はレート制限と一時エラーのみで、恒久エラーは即時失敗します
func (b *Batcher) embedWithRetry(ctx context.Context, batchNo int, batch []*domain.Chunk, model string) ([][]float32, error) {
	texts := make([]string, len(batch))
	for i, ch := range batch {
		texts[i] = ch.Content
	}

	var lastErr error
	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		if err := b.throttle.Acquire(ctx); err != nil {
			return nil, err
		}
		vectors, err := b.capability.EmbedBatch(ctx, texts, model)
		b.throttle.Release()

		if err == nil {
			if len(vectors) != len(texts) {
				return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(texts))
			}
			return vectors, nil
		}

		lastErr = &domain.EmbeddingError{Batch: batchNo, Attempt: attempt, Err: err}

		if !domain.IsRetryable(err) {
			return nil, lastErr
		}
		if attempt == b.cfg.MaxAttempts {
			break
		}

		backoff := b.cfg.BaseBackoff << (attempt - 1)
		b.logger.Debug("retrying embedding batch",
			"batch", batchNo,
			"attempt", attempt,
			"backoff", backoff,
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%w: %v", domain.ErrMaxRetriesExceeded, lastErr)
}
