package application

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/lex-ingest/internal/module/ingest/adapter/embedder"
	"github.com/jinford/lex-ingest/internal/module/ingest/domain"
)

// multiDocAdapter はidentifierごとに異なるドキュメントを返すテスト用アダプター
type multiDocAdapter struct {
	mu      sync.Mutex
	failIDs map[string]bool
}

func (a *multiDocAdapter) Fetch(ctx context.Context, identifier string) (*domain.SourceDocument, error) {
	a.mu.Lock()
	fail := a.failIDs[identifier]
	a.mu.Unlock()

	if fail {
		return nil, &domain.ExtractionError{Source: identifier, Err: fmt.Errorf("scan failed")}
	}
	return &domain.SourceDocument{
		DocID:   identifier,
		RawText: legalText(10),
	}, nil
}

func TestRunAllAggregatesResults(t *testing.T) {
	fake := &countingCapability{}
	coord, _ := newTestCoordinator(fake, embedder.DefaultBatcherConfig())
	runner := NewRunner(coord, 2, discardLogger())

	adapter := &multiDocAdapter{failIDs: map[string]bool{"d2": true}}
	ids := []string{"d1", "d2", "d3", "d4"}

	report, err := runner.RunAll(context.Background(), adapter, ids, testOptions())
	require.NoError(t, err)
	require.Len(t, report.Results, 4)

	assert.Equal(t, 3, report.Completed)
	assert.Equal(t, 0, report.Partial)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{"d2"}, report.FailedDocIDs())

	// 結果は入力順
	for i, id := range ids {
		assert.Equal(t, id, report.Results[i].DocID)
	}
}

func TestRunAllFailureDoesNotStopOthers(t *testing.T) {
	fake := &countingCapability{}
	coord, store := newTestCoordinator(fake, embedder.DefaultBatcherConfig())
	runner := NewRunner(coord, 1, discardLogger())

	adapter := &multiDocAdapter{failIDs: map[string]bool{"d1": true}}

	report, err := runner.RunAll(context.Background(), adapter, []string{"d1", "d2"}, testOptions())
	require.NoError(t, err)

	// 先頭の失敗後も後続ドキュメントは取り込まれる
	assert.Equal(t, domain.StatusFailed, report.Results[0].Status)
	assert.Equal(t, domain.StatusCompleted, report.Results[1].Status)
	assert.NotEmpty(t, store.Chunks("zakoni", "d2"))
}

func TestRunAllCanceled(t *testing.T) {
	fake := &countingCapability{}
	coord, _ := newTestCoordinator(fake, embedder.DefaultBatcherConfig())
	runner := NewRunner(coord, 2, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.RunAll(ctx, &multiDocAdapter{}, []string{"d1", "d2"}, testOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunAllEmptyInput(t *testing.T) {
	fake := &countingCapability{}
	coord, _ := newTestCoordinator(fake, embedder.DefaultBatcherConfig())
	runner := NewRunner(coord, 2, discardLogger())

	report, err := runner.RunAll(context.Background(), &multiDocAdapter{}, nil, testOptions())
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Zero(t, report.Completed)
}
