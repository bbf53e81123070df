package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/lex-ingest/internal/module/ingest/adapter/embedder"
	"github.com/jinford/lex-ingest/internal/module/ingest/adapter/memstore"
	"github.com/jinford/lex-ingest/internal/module/ingest/adapter/quality"
	"github.com/jinford/lex-ingest/internal/module/ingest/domain"
)

// countingCapability はテスト用のEmbeddingCapability実装
type countingCapability struct {
	mu       sync.Mutex
	calls    int
	failWith error
	failEven bool // 偶数回目の呼び出しを失敗させる
	failAll  bool
}

func (f *countingCapability) EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if f.failAll {
		return nil, f.failWith
	}
	if f.failEven && f.calls%2 == 0 {
		return nil, f.failWith
	}

	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(len(texts[i])), 1, 2, 3}
	}
	return vectors, nil
}

func (f *countingCapability) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(capability domain.EmbeddingCapability, cfg embedder.BatcherConfig) (*Coordinator, *memstore.Store) {
	store := memstore.New()
	throttle := embedder.NewThrottle(60000, 8)
	batcher := embedder.NewBatcher(capability, throttle, cfg, discardLogger())
	gate := quality.NewGate(quality.DefaultConfig())
	return NewCoordinator(store, batcher, gate, discardLogger()), store
}

func legalText(sentences int) string {
	var sb strings.Builder
	for i := 0; i < sentences; i++ {
		sb.WriteString("Ovim se zakonom uređuje postupak pred nadležnim tijelima državne uprave. ")
	}
	return sb.String()
}

func testOptions() domain.IngestOptions {
	return domain.IngestOptions{
		ChunkSize: 200,
		Overlap:   20,
		Model:     "text-embedding-3-small",
		Namespace: "zakoni",
	}
}

func TestIngestCompleted(t *testing.T) {
	fake := &countingCapability{}
	coord, store := newTestCoordinator(fake, embedder.DefaultBatcherConfig())

	doc := &domain.SourceDocument{
		DocID:   "zakoni/zakon-o-radu",
		RawText: legalText(20),
	}
	result := coord.Ingest(context.Background(), doc, testOptions())

	require.Equal(t, domain.StatusCompleted, result.Status)
	assert.True(t, result.Succeeded())
	assert.Greater(t, result.ChunkCount, 1)
	assert.Equal(t, result.ChunkCount, result.Inserted)
	assert.Zero(t, result.Updated)
	assert.Zero(t, result.Skipped)
	assert.Empty(t, result.FailedChunks)
	assert.False(t, result.NeedsReview)
	assert.Greater(t, fake.callCount(), 0)

	persisted := store.Chunks("zakoni", "zakoni/zakon-o-radu")
	require.Len(t, persisted, result.ChunkCount)
	for i, ch := range persisted {
		assert.Equal(t, i, ch.ChunkIndex)
		assert.NotEmpty(t, ch.ContentHash)
		assert.NotEmpty(t, ch.Embedding)
		assert.Equal(t, "text-embedding-3-small", ch.Model)
	}
}

func TestIngestIdempotentReingest(t *testing.T) {
	fake := &countingCapability{}
	coord, store := newTestCoordinator(fake, embedder.DefaultBatcherConfig())

	doc := &domain.SourceDocument{
		DocID:   "zakoni/zakon-o-radu",
		RawText: legalText(20),
	}
	first := coord.Ingest(context.Background(), doc, testOptions())
	require.Equal(t, domain.StatusCompleted, first.Status)

	callsAfterFirst := fake.callCount()

	second := coord.Ingest(context.Background(), doc, testOptions())
	require.Equal(t, domain.StatusCompleted, second.Status)

	// 内容不変の再取り込みはEmbedding APIを一切呼ばない
	assert.Equal(t, callsAfterFirst, fake.callCount())
	assert.Equal(t, first.ChunkCount, second.ChunkCount)
	assert.Equal(t, second.ChunkCount, second.Skipped)
	assert.Zero(t, second.Inserted)
	assert.Zero(t, second.Updated)

	// 再利用チャンクのEmbeddingは保持される
	persisted := store.Chunks("zakoni", "zakoni/zakon-o-radu")
	require.Len(t, persisted, second.ChunkCount)
	for _, ch := range persisted {
		assert.NotEmpty(t, ch.Embedding)
		assert.Equal(t, "text-embedding-3-small", ch.Model)
	}
}

func TestIngestChangedContentReembedded(t *testing.T) {
	fake := &countingCapability{}
	coord, _ := newTestCoordinator(fake, embedder.DefaultBatcherConfig())

	opts := testOptions()
	opts.ChunkSize = 5000 // 1チャンクに収める
	opts.Overlap = 100

	doc := &domain.SourceDocument{DocID: "d1", RawText: legalText(10)}
	first := coord.Ingest(context.Background(), doc, opts)
	require.Equal(t, domain.StatusCompleted, first.Status)
	require.Equal(t, 1, first.Inserted)

	changed := &domain.SourceDocument{DocID: "d1", RawText: legalText(10) + "Dopunjena odredba."}
	second := coord.Ingest(context.Background(), changed, opts)
	require.Equal(t, domain.StatusCompleted, second.Status)

	// 同一インデックスでハッシュが変われば更新として再Embeddingされる
	assert.Equal(t, 1, second.Updated)
	assert.Zero(t, second.Inserted)
	assert.Zero(t, second.Skipped)
	assert.Equal(t, 2, fake.callCount())
}

func TestIngestShrinkageCleanup(t *testing.T) {
	fake := &countingCapability{}
	coord, store := newTestCoordinator(fake, embedder.DefaultBatcherConfig())

	long := &domain.SourceDocument{DocID: "d1", RawText: legalText(40)}
	first := coord.Ingest(context.Background(), long, testOptions())
	require.Equal(t, domain.StatusCompleted, first.Status)
	require.Greater(t, first.ChunkCount, 3)

	short := &domain.SourceDocument{DocID: "d1", RawText: legalText(4)}
	second := coord.Ingest(context.Background(), short, testOptions())
	require.Equal(t, domain.StatusCompleted, second.Status)
	require.Less(t, second.ChunkCount, first.ChunkCount)

	// 縮小後の余剰インデックス行は削除されている
	persisted := store.Chunks("zakoni", "d1")
	assert.Len(t, persisted, second.ChunkCount)
	for i, ch := range persisted {
		assert.Equal(t, i, ch.ChunkIndex)
	}
}

func TestIngestEmptySource(t *testing.T) {
	fake := &countingCapability{}
	coord, _ := newTestCoordinator(fake, embedder.DefaultBatcherConfig())

	doc := &domain.SourceDocument{DocID: "d1", RawText: "  \n\t  "}
	result := coord.Ingest(context.Background(), doc, testOptions())

	assert.Equal(t, domain.StatusFailed, result.Status)
	assert.Zero(t, result.ChunkCount)
	assert.Contains(t, result.Error, "empty source text")
	assert.Zero(t, fake.callCount())
}

func TestIngestInvalidConfig(t *testing.T) {
	fake := &countingCapability{}
	coord, _ := newTestCoordinator(fake, embedder.DefaultBatcherConfig())

	opts := testOptions()
	opts.Overlap = opts.ChunkSize // overlap >= chunkSize は不正

	doc := &domain.SourceDocument{DocID: "d1", RawText: legalText(5)}
	result := coord.Ingest(context.Background(), doc, opts)

	assert.Equal(t, domain.StatusFailed, result.Status)
	assert.Contains(t, result.Error, "invalid chunking config")
	assert.Zero(t, fake.callCount())
}

func TestIngestPartialFailure(t *testing.T) {
	fake := &countingCapability{failEven: true, failWith: domain.ErrFatal}
	cfg := embedder.DefaultBatcherConfig()
	cfg.MaxBatchItems = 1 // チャンクごとに1バッチ
	coord, store := newTestCoordinator(fake, cfg)

	doc := &domain.SourceDocument{DocID: "d1", RawText: legalText(20)}
	result := coord.Ingest(context.Background(), doc, testOptions())

	require.Equal(t, domain.StatusPartial, result.Status)
	assert.True(t, result.Succeeded())
	assert.NotEmpty(t, result.FailedChunks)
	assert.Less(t, len(result.FailedChunks), result.ChunkCount)
	assert.NotEmpty(t, result.Error)

	// 失敗チャンクは永続化されない
	persisted := store.Chunks("zakoni", "d1")
	assert.Len(t, persisted, result.ChunkCount-len(result.FailedChunks))
	for _, ch := range persisted {
		assert.NotContains(t, result.FailedChunks, ch.ChunkIndex)
		assert.NotEmpty(t, ch.Embedding)
	}
}

func TestIngestAllBatchesFailed(t *testing.T) {
	fake := &countingCapability{failAll: true, failWith: domain.ErrFatal}
	coord, store := newTestCoordinator(fake, embedder.DefaultBatcherConfig())

	doc := &domain.SourceDocument{DocID: "d1", RawText: legalText(20)}
	result := coord.Ingest(context.Background(), doc, testOptions())

	assert.Equal(t, domain.StatusFailed, result.Status)
	assert.False(t, result.Succeeded())
	assert.Zero(t, result.ChunkCount)
	assert.NotEmpty(t, result.Error)

	// 全滅時は前回の永続化状態に手を付けない
	assert.Empty(t, store.Chunks("zakoni", "d1"))
}

func TestIngestLowConfidenceNeedsReview(t *testing.T) {
	fake := &countingCapability{}
	coord, store := newTestCoordinator(fake, embedder.DefaultBatcherConfig())

	confidence := 0.4
	doc := &domain.SourceDocument{
		DocID:      "d1",
		RawText:    legalText(10),
		Confidence: &confidence,
	}
	result := coord.Ingest(context.Background(), doc, testOptions())

	require.Equal(t, domain.StatusCompleted, result.Status)
	assert.True(t, result.NeedsReview)
	for _, ch := range store.Chunks("zakoni", "d1") {
		assert.True(t, ch.NeedsReview)
	}
}

func TestIngestCanceledContext(t *testing.T) {
	fake := &countingCapability{}
	coord, _ := newTestCoordinator(fake, embedder.DefaultBatcherConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	doc := &domain.SourceDocument{DocID: "d1", RawText: legalText(10)}
	result := coord.Ingest(ctx, doc, testOptions())

	assert.Equal(t, domain.StatusFailed, result.Status)
	assert.Contains(t, result.Error, context.Canceled.Error())
}

// fakeSourceAdapter はテスト用のSourceAdapter実装
type fakeSourceAdapter struct {
	doc *domain.SourceDocument
	err error
}

func (f *fakeSourceAdapter) Fetch(ctx context.Context, identifier string) (*domain.SourceDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.doc, nil
}

func TestIngestFromAdapterExtractionError(t *testing.T) {
	fake := &countingCapability{}
	coord, _ := newTestCoordinator(fake, embedder.DefaultBatcherConfig())

	adapter := &fakeSourceAdapter{
		err: &domain.ExtractionError{Source: "corrupt.pdf", Err: errors.New("unreadable stream")},
	}
	result := coord.IngestFromAdapter(context.Background(), adapter, "corrupt.pdf", testOptions())

	assert.Equal(t, domain.StatusFailed, result.Status)
	assert.Equal(t, "corrupt.pdf", result.DocID)
	assert.Contains(t, result.Error, "source extraction failed")
	assert.Zero(t, fake.callCount())
}

func TestIngestFromAdapterSuccess(t *testing.T) {
	fake := &countingCapability{}
	coord, _ := newTestCoordinator(fake, embedder.DefaultBatcherConfig())

	adapter := &fakeSourceAdapter{
		doc: &domain.SourceDocument{DocID: "d1", RawText: legalText(10)},
	}
	result := coord.IngestFromAdapter(context.Background(), adapter, "d1", testOptions())

	assert.Equal(t, domain.StatusCompleted, result.Status)
	assert.Greater(t, result.ChunkCount, 0)
}
