package application

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jinford/lex-ingest/internal/module/ingest/domain"
)

const (
	// DefaultConcurrency は同時に取り込むドキュメント数のデフォルト
	DefaultConcurrency = 4
)

// Runner は複数ドキュメントの取り込みを有界な並列度で実行します
// 1ドキュメントの失敗は他ドキュメントの処理を止めません
// (contextのキャンセルのみが実行全体を中断します)
type Runner struct {
	coordinator *Coordinator
	concurrency int
	logger      *slog.Logger
}

// NewRunner は新しいRunnerを作成します
func NewRunner(coordinator *Coordinator, concurrency int, logger *slog.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		coordinator: coordinator,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Report は1回のバッチ実行の集計結果
type Report struct {
	RunID     uuid.UUID
	Results   []*domain.IngestResult
	Completed int
	Partial   int
	Failed    int
}

// RunAll は全identifierをアダプター経由で取り込み、ドキュメントごとの結果を集計します
// 結果はidentifierの入力順で返されます
func (r *Runner) RunAll(ctx context.Context, adapter domain.SourceAdapter, identifiers []string, opts domain.IngestOptions) (*Report, error) {
	runID := uuid.New()
	logger := r.logger.With("runID", runID)
	logger.Info("batch ingest started", "documents", len(identifiers), "namespace", opts.Namespace, "concurrency", r.concurrency)

	results := make([]*domain.IngestResult, len(identifiers))
	var mu sync.Mutex

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.concurrency)

	for i, id := range identifiers {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			result := r.coordinator.IngestFromAdapter(gctx, adapter, id, opts)

			mu.Lock()
			results[i] = result
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	report := &Report{RunID: runID, Results: results}
	for _, res := range results {
		switch res.Status {
		case domain.StatusCompleted:
			report.Completed++
		case domain.StatusPartial:
			report.Partial++
		default:
			report.Failed++
		}
	}

	logger.Info("batch ingest finished",
		"documents", len(identifiers),
		"completed", report.Completed,
		"partial", report.Partial,
		"failed", report.Failed,
	)

	return report, nil
}

// FailedDocIDs は失敗したドキュメントのID列を辞書順で返します
func (r *Report) FailedDocIDs() []string {
	var ids []string
	for _, res := range r.Results {
		if res.Status == domain.StatusFailed {
			ids = append(ids, res.DocID)
		}
	}
	sort.Strings(ids)
	return ids
}
