package domain

import (
	"context"
)

// SourceAdapter は外部ソースからドキュメントを取得するインターフェース
// 抽出失敗は *ExtractionError として返されます
type SourceAdapter interface {
	// Fetch は識別子からSourceDocumentを構築します
	Fetch(ctx context.Context, identifier string) (*SourceDocument, error)
}

// EmbeddingCapability はテキスト列をベクトル列に変換する外部能力のインターフェース
// 失敗は ErrRateLimited / ErrTransient / ErrFatal のいずれかを内包します
type EmbeddingCapability interface {
	// EmbedBatch はテキスト列のEmbeddingを一括生成します
	// 返却ベクトル数は入力テキスト数と一致します
	EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// ChunkStore はチャンクの永続化インターフェース
// (namespace, doc_id, chunk_index) をキーとするupsertをサポートし、
// 複数行にまたがるトランザクション保証は要求されません(at-least-once)
type ChunkStore interface {
	// Upsert はチャンクを識別子キーで挿入または更新します
	Upsert(ctx context.Context, chunk *Chunk) error

	// ListExistingHashes は永続化済みチャンクの chunk_index -> content_hash を返します
	ListExistingHashes(ctx context.Context, namespace, docID string) (map[int]string, error)

	// DeleteChunksNotIn は keptIndices に含まれないchunk_index行を削除し、削除件数を返します
	// ドキュメント縮小時の後始末に使用されます
	DeleteChunksNotIn(ctx context.Context, namespace, docID string, keptIndices []int) (int, error)
}
