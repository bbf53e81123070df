// Package commands はlex-ingest CLIの各コマンド実装を提供します
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jinford/lex-ingest/internal/module/ingest/application"
	"github.com/jinford/lex-ingest/internal/module/ingest/domain"
	"github.com/jinford/lex-ingest/internal/platform/container"
	"github.com/jinford/lex-ingest/internal/platform/logger"
	"github.com/jinford/lex-ingest/pkg/config"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config      *config.Config
	Container   *container.Container
	Coordinator *application.Coordinator
	Logger      *slog.Logger
}

// NewAppContext は設定ファイルを読み込み、DBに接続して AppContext を作成する
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	appLogger := logger.New(logger.DefaultConfig())

	cont, err := container.New(ctx, appLogger, cfg)
	if err != nil {
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	return &AppContext{
		Config:      cfg,
		Container:   cont,
		Coordinator: cont.Coordinator,
		Logger:      appLogger,
	}, nil
}

// IngestOptions はCLIフラグと設定値からドキュメント取り込みオプションを組み立てる
func (ac *AppContext) IngestOptions(namespace string) domain.IngestOptions {
	if namespace == "" {
		namespace = ac.Config.Ingest.Namespace
	}
	return domain.IngestOptions{
		ChunkSize: ac.Config.Chunking.ChunkSize,
		Overlap:   ac.Config.Chunking.Overlap,
		Model:     ac.Config.OpenAI.EmbeddingModel,
		Namespace: namespace,
	}
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container != nil {
		ac.Container.Close()
	}
}
