package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/lex-ingest/internal/module/ingest/adapter/source"
	"github.com/jinford/lex-ingest/internal/module/ingest/application"
	"github.com/jinford/lex-ingest/internal/module/ingest/domain"
	"github.com/jinford/lex-ingest/pkg/lock"
)

// acquireNamespaceLock は名前空間単位の取り込みロックを取得します
// 同じ名前空間への並行実行はチャンク行の掃除処理と干渉するため直列化します
func acquireNamespaceLock(ctx context.Context, appCtx *AppContext, namespace string) (*lock.SessionLock, error) {
	if namespace == "" {
		namespace = appCtx.Config.Ingest.Namespace
	}
	sessionLock, err := lock.AcquireSession(ctx, appCtx.Container.Database.Pool, lock.GenerateLockID("ingest", namespace))
	if err != nil {
		if errors.Is(err, lock.ErrAlreadyLocked) {
			return nil, fmt.Errorf("名前空間 %q は別の取り込み実行が使用中です", namespace)
		}
		return nil, err
	}
	return sessionLock, nil
}

// IngestFileAction は単一ファイルを取り込むコマンドのアクション
func IngestFileAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	root := cmd.String("root")
	path := cmd.String("path")
	namespace := cmd.String("namespace")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	adapter, err := source.NewFSAdapter(root, appCtx.Logger)
	if err != nil {
		return err
	}

	sessionLock, err := acquireNamespaceLock(ctx, appCtx, namespace)
	if err != nil {
		return err
	}
	defer sessionLock.Release(context.WithoutCancel(ctx))

	result := appCtx.Coordinator.IngestFromAdapter(ctx, adapter, path, appCtx.IngestOptions(namespace))
	renderResults([]*domain.IngestResult{result})

	if !result.Succeeded() {
		return fmt.Errorf("取り込みに失敗しました: %s", result.Error)
	}
	return nil
}

// IngestDirAction はディレクトリ配下の全ファイルを取り込むコマンドのアクション
func IngestDirAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	root := cmd.String("root")
	namespace := cmd.String("namespace")
	concurrency := int(cmd.Int("concurrency"))

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	adapter, err := source.NewFSAdapter(root, appCtx.Logger)
	if err != nil {
		return err
	}

	identifiers, err := adapter.List(ctx)
	if err != nil {
		return err
	}
	if len(identifiers) == 0 {
		fmt.Println("取り込み対象のファイルがありません")
		return nil
	}

	if concurrency <= 0 {
		concurrency = appCtx.Config.Ingest.Concurrency
	}

	sessionLock, err := acquireNamespaceLock(ctx, appCtx, namespace)
	if err != nil {
		return err
	}
	defer sessionLock.Release(context.WithoutCancel(ctx))

	runner := application.NewRunner(appCtx.Coordinator, concurrency, appCtx.Logger)

	report, err := runner.RunAll(ctx, adapter, identifiers, appCtx.IngestOptions(namespace))
	if err != nil {
		return err
	}

	renderResults(report.Results)
	fmt.Printf("\n完了: %d / 部分: %d / 失敗: %d\n", report.Completed, report.Partial, report.Failed)

	if report.Failed > 0 {
		return fmt.Errorf("%d件のドキュメントの取り込みに失敗しました", report.Failed)
	}
	return nil
}

// renderResults はドキュメントごとの取り込み結果をテーブル表示します
func renderResults(results []*domain.IngestResult) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Doc ID", "Status", "Chunks", "Inserted", "Updated", "Skipped", "Failed", "Review", "Duration")

	for _, res := range results {
		table.Append(
			res.DocID,
			string(res.Status),
			fmt.Sprintf("%d", res.ChunkCount),
			fmt.Sprintf("%d", res.Inserted),
			fmt.Sprintf("%d", res.Updated),
			fmt.Sprintf("%d", res.Skipped),
			fmt.Sprintf("%d", len(res.FailedChunks)),
			fmt.Sprintf("%t", res.NeedsReview),
			res.Duration.Round(time.Millisecond).String(),
		)
	}

	table.Render()
}
