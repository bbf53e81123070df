// Package config は環境変数と.envファイルからの設定読み込みを提供します
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定
	Database DatabaseConfig

	// OpenAI設定（Embeddings用）
	OpenAI OpenAIConfig

	// チャンク分割設定
	Chunking ChunkingConfig

	// Embedding API呼び出しの制御
	Throttle ThrottleConfig

	// Ingest はパイプライン実行設定
	Ingest IngestConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey             string
	EmbeddingModel     string
	EmbeddingDimension int
}

// ChunkingConfig はチャンク分割パラメータ
type ChunkingConfig struct {
	ChunkSize int
	Overlap   int
}

// ThrottleConfig はEmbedding APIのグローバルスロットル設定
// プロセス全体で共有され、ドキュメント並列度とは独立に効きます
type ThrottleConfig struct {
	RequestsPerMinute int
	MaxInFlight       int
	MaxBatchChars     int
	MaxBatchItems     int
}

// IngestConfig はパイプライン実行設定
type IngestConfig struct {
	Namespace   string
	Concurrency int
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "lexingest"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "lexingest"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
		},
		Chunking: ChunkingConfig{
			ChunkSize: getEnvAsInt("CHUNK_SIZE", 1200),
			Overlap:   getEnvAsInt("CHUNK_OVERLAP", 150),
		},
		Throttle: ThrottleConfig{
			RequestsPerMinute: getEnvAsInt("EMBEDDING_REQUESTS_PER_MINUTE", 300),
			MaxInFlight:       getEnvAsInt("EMBEDDING_MAX_IN_FLIGHT", 8),
			MaxBatchChars:     getEnvAsInt("EMBEDDING_MAX_BATCH_CHARS", 20000),
			MaxBatchItems:     getEnvAsInt("EMBEDDING_MAX_BATCH_ITEMS", 100),
		},
		Ingest: IngestConfig{
			Namespace:   getEnv("INGEST_NAMESPACE", "default"),
			Concurrency: getEnvAsInt("INGEST_CONCURRENCY", 4),
		},
	}

	return cfg, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
