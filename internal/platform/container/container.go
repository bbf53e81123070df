// Package container はアプリケーションの依存関係を組み立てます
package container

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jinford/lex-ingest/internal/module/ingest/adapter/embedder"
	"github.com/jinford/lex-ingest/internal/module/ingest/adapter/pg"
	"github.com/jinford/lex-ingest/internal/module/ingest/adapter/quality"
	"github.com/jinford/lex-ingest/internal/module/ingest/application"
	"github.com/jinford/lex-ingest/internal/module/ingest/domain"
	"github.com/jinford/lex-ingest/pkg/config"
	"github.com/jinford/lex-ingest/pkg/db"
)

// Container は取り込みパイプラインの依存関係を保持します
type Container struct {
	Logger      *slog.Logger
	Database    *db.DB
	Store       *pg.ChunkRepository
	Throttle    *embedder.Throttle
	Batcher     *embedder.Batcher
	Gate        *quality.Gate
	Coordinator *application.Coordinator
}

type containerOptions struct {
	capability domain.EmbeddingCapability
}

// Option は Container 構築時のオプション
type Option func(*containerOptions)

// WithEmbeddingCapability はEmbedding実装を差し替える(テスト用)
func WithEmbeddingCapability(capability domain.EmbeddingCapability) Option {
	return func(opts *containerOptions) {
		opts.capability = capability
	}
}

// New は設定からコンテナを構築します
// DB接続・スキーマ初期化・Embeddingクライアント生成をまとめて行います
func New(ctx context.Context, logger *slog.Logger, cfg *config.Config, options ...Option) (*Container, error) {
	var opts containerOptions
	for _, opt := range options {
		opt(&opts)
	}

	database, err := db.New(ctx, db.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := pg.NewChunkRepository(database.Pool)
	if err := store.EnsureSchema(ctx, cfg.OpenAI.EmbeddingDimension); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	capability := opts.capability
	if capability == nil {
		openaiEmbedder, err := embedder.NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.EmbeddingDimension)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to create embedding client: %w", err)
		}
		capability = openaiEmbedder
	}

	throttle := embedder.NewThrottle(cfg.Throttle.RequestsPerMinute, cfg.Throttle.MaxInFlight)
	batcher := embedder.NewBatcher(capability, throttle, embedder.BatcherConfig{
		MaxBatchChars: cfg.Throttle.MaxBatchChars,
		MaxBatchItems: cfg.Throttle.MaxBatchItems,
	}, logger)
	gate := quality.NewGate(quality.DefaultConfig())

	return &Container{
		Logger:      logger,
		Database:    database,
		Store:       store,
		Throttle:    throttle,
		Batcher:     batcher,
		Gate:        gate,
		Coordinator: application.NewCoordinator(store, batcher, gate, logger),
	}, nil
}

// Close はコンテナが保持するリソースを解放します
func (c *Container) Close() {
	if c.Database != nil {
		c.Database.Close()
	}
}
