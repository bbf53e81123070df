package embedder

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jinford/lex-ingest/internal/module/ingest/domain"
)

// ErrAPIKeyNotSet はAPIキーが未設定の場合のエラー
var ErrAPIKeyNotSet = errors.New("OPENAI_API_KEY is not set")

// OpenAIEmbedder はOpenAI Embeddings APIを使用したEmbeddingCapability実装
type OpenAIEmbedder struct {
	client    openai.Client
	dimension int
}

// NewOpenAIEmbedder は新しいOpenAIEmbedderを作成します
func NewOpenAIEmbedder(apiKey string, dimension int) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))

	return &OpenAIEmbedder{
		client:    client,
		dimension: dimension,
	}, nil
}

// EmbedBatch はテキスト列のEmbeddingを一括生成します
// domain.EmbeddingCapabilityインターフェースを実装
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts provided", domain.ErrFatal)
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}

	// dimensionパラメータ(text-embedding-3系で有効)
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, classifyError(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: embedding count mismatch: got %d, want %d",
			domain.ErrTransient, len(resp.Data), len(texts))
	}

	// float64からfloat32へ変換
	embeddings := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vector := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			vector[j] = float32(v)
		}
		embeddings[i] = vector
	}

	return embeddings, nil
}

// Dimension はEmbeddingベクトルの次元数を返します
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// classifyError はAPIエラーをリトライ可否で分類します
// 429はレート制限、5xxは一時エラー、その他の4xx(不正なモデル名等)は即時失敗
func classifyError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 429:
			return fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
		case apierr.StatusCode >= 500:
			return fmt.Errorf("%w: %v", domain.ErrTransient, err)
		default:
			return fmt.Errorf("%w: %v", domain.ErrFatal, err)
		}
	}
	// ステータスコードが得られないエラーはネットワーク起因とみなす
	return fmt.Errorf("%w: %v", domain.ErrTransient, err)
}

// インターフェース実装の確認
var _ domain.EmbeddingCapability = (*OpenAIEmbedder)(nil)
