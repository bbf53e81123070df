// Package application は取り込みパイプラインのユースケースを提供します
package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jinford/lex-ingest/internal/module/ingest/adapter/chunker"
	"github.com/jinford/lex-ingest/internal/module/ingest/adapter/embedder"
	"github.com/jinford/lex-ingest/internal/module/ingest/adapter/identity"
	"github.com/jinford/lex-ingest/internal/module/ingest/adapter/quality"
	"github.com/jinford/lex-ingest/internal/module/ingest/domain"
)

// Coordinator は1ドキュメントの取り込みを状態機械として調停します
// Received → Normalizing → Chunking → Deduping → Embedding → Persisting → Completed|Failed
//
// 想定内の失敗(空ソース、設定不備、Embedding失敗)は例外ではなく
// IngestResultで報告され、プログラミングエラーのみがpanicとして伝播します
// 永続化はat-least-onceで、途中失敗時のロールバックは行いません
// (下流は部分更新されたドキュメントの読み取りに耐える必要があります)
type Coordinator struct {
	store   domain.ChunkStore
	batcher *embedder.Batcher
	gate    *quality.Gate
	logger  *slog.Logger
}

// NewCoordinator は新しいCoordinatorを作成します
func NewCoordinator(store domain.ChunkStore, batcher *embedder.Batcher, gate *quality.Gate, logger *slog.Logger) *Coordinator {
	if gate == nil {
		gate = quality.NewGate(quality.DefaultConfig())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:   store,
		batcher: batcher,
		gate:    gate,
		logger:  logger,
	}
}

// IngestFromAdapter はソースアダプター経由でドキュメントを取得して取り込みます
// 抽出失敗は即時Failedの結果として報告されます
func (c *Coordinator) IngestFromAdapter(ctx context.Context, adapter domain.SourceAdapter, identifier string, opts domain.IngestOptions) *domain.IngestResult {
	doc, err := adapter.Fetch(ctx, identifier)
	if err != nil {
		var extractErr *domain.ExtractionError
		if errors.As(err, &extractErr) {
			return &domain.IngestResult{
				DocID:     identifier,
				Namespace: opts.Namespace,
				Status:    domain.StatusFailed,
				Error:     "source extraction failed",
			}
		}
		return &domain.IngestResult{
			DocID:     identifier,
			Namespace: opts.Namespace,
			Status:    domain.StatusFailed,
			Error:     err.Error(),
		}
	}
	return c.Ingest(ctx, doc, opts)
}

// Ingest は1ドキュメントをパイプラインに通し、構造化された結果を返します
// 再実行は冪等です: 内容が変わっていないチャンクはEmbedding呼び出しなしで再利用されます
func (c *Coordinator) Ingest(ctx context.Context, doc *domain.SourceDocument, opts domain.IngestOptions) *domain.IngestResult {
	start := time.Now()

	namespace := opts.Namespace
	if namespace == "" {
		namespace = doc.Namespace
	}

	result := &domain.IngestResult{
		DocID:     doc.DocID,
		Namespace: namespace,
	}

	fail := func(state domain.State, err error) *domain.IngestResult {
		result.Status = domain.StatusFailed
		result.ChunkCount = 0
		result.Error = err.Error()
		result.Duration = time.Since(start)
		c.logger.Warn("ingest failed",
			"docID", doc.DocID,
			"namespace", namespace,
			"state", state,
			"error", err,
		)
		return result
	}

	c.logger.Debug("ingest started", "docID", doc.DocID, "namespace", namespace, "state", domain.StateReceived)

	// === Normalizing ===
	if err := ctx.Err(); err != nil {
		return fail(domain.StateNormalizing, err)
	}
	normalized := domain.NormalizeText(doc.RawText)
	if normalized == "" {
		return fail(domain.StateNormalizing, domain.ErrEmptySource)
	}

	// === Chunking ===
	if err := ctx.Err(); err != nil {
		return fail(domain.StateChunking, err)
	}
	ck, err := chunker.New(chunker.Config{ChunkSize: opts.ChunkSize, Overlap: opts.Overlap})
	if err != nil {
		return fail(domain.StateChunking, err)
	}
	chunks := ck.Split(normalized, doc.Hints)
	for _, ch := range chunks {
		ch.DocID = doc.DocID
		ch.Namespace = namespace
	}

	// === Deduping ===
	if err := ctx.Err(); err != nil {
		return fail(domain.StateDeduping, err)
	}
	existing, err := c.store.ListExistingHashes(ctx, namespace, doc.DocID)
	if err != nil {
		return fail(domain.StateDeduping, err)
	}

	var toEmbed []*domain.Chunk
	skipped := make(map[int]bool, len(chunks))
	for _, ch := range chunks {
		ch.ContentHash = identity.Fingerprint(ch.Content)
		if identity.IsDuplicate(ch.ChunkIndex, ch.ContentHash, existing) {
			// 位置とハッシュの両方が一致: 既存Embeddingを再利用してコストを抑える
			skipped[ch.ChunkIndex] = true
			continue
		}
		toEmbed = append(toEmbed, ch)
	}

	// 品質評価はEmbedding前に行い、フラグをチャンク行へ反映する
	assessment := c.gate.Assess(chunks, doc.Confidence, opts.ChunkSize)
	for _, ch := range chunks {
		ch.NeedsReview = assessment.PerChunkFlags[ch.ChunkIndex]
	}
	result.NeedsReview = assessment.NeedsReview

	// === Embedding ===
	if err := ctx.Err(); err != nil {
		return fail(domain.StateEmbedding, err)
	}
	outcome, err := c.batcher.Embed(ctx, toEmbed, opts.Model)
	if err != nil {
		return fail(domain.StateEmbedding, err)
	}
	result.FailedChunks = outcome.Failed

	// 全バッチが失敗した場合はドキュメント全体を失敗とし、
	// 前回の永続化状態には手を付けない
	if len(toEmbed) > 0 && len(outcome.Embedded) == 0 && len(outcome.Failed) > 0 {
		return fail(domain.StateEmbedding, outcome.LastErr)
	}

	// === Persisting ===
	if err := ctx.Err(); err != nil {
		return fail(domain.StatePersisting, err)
	}
	failedSet := make(map[int]bool, len(outcome.Failed))
	for _, i := range outcome.Failed {
		failedSet[i] = true
	}

	kept := make([]int, 0, len(chunks))
	for _, ch := range chunks {
		kept = append(kept, ch.ChunkIndex)

		if failedSet[ch.ChunkIndex] {
			// Embeddingを得られなかったチャンクは書き込まない
			// (同インデックスの前回行があれば保持される)
			continue
		}
		if err := c.store.Upsert(ctx, ch); err != nil {
			return fail(domain.StatePersisting, err)
		}

		switch {
		case skipped[ch.ChunkIndex]:
			result.Skipped++
		default:
			if _, exists := existing[ch.ChunkIndex]; exists {
				result.Updated++
			} else {
				result.Inserted++
			}
		}
	}

	// 前回より縮んだドキュメントの余剰インデックスを削除する
	if _, err := c.store.DeleteChunksNotIn(ctx, namespace, doc.DocID, kept); err != nil {
		return fail(domain.StatePersisting, err)
	}

	// === Completed ===
	result.ChunkCount = len(chunks)
	result.Duration = time.Since(start)
	if len(outcome.Failed) > 0 {
		result.Status = domain.StatusPartial
		if outcome.LastErr != nil {
			result.Error = outcome.LastErr.Error()
		}
	} else {
		result.Status = domain.StatusCompleted
	}

	c.logger.Info("ingest completed",
		"docID", doc.DocID,
		"namespace", namespace,
		"status", result.Status,
		"chunks", result.ChunkCount,
		"inserted", result.Inserted,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"failed", len(result.FailedChunks),
		"needsReview", result.NeedsReview,
		"duration", result.Duration,
	)

	return result
}
