// Package pg はチャンクのPostgreSQL永続化アダプターです
package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/lex-ingest/internal/module/ingest/domain"
)

// ChunkRepository は chunks テーブルを管理します
// (namespace, doc_id, chunk_index) が一意キーで、再取り込みはupsertになります
type ChunkRepository struct {
	pool *pgxpool.Pool
}

// NewChunkRepository は新しいChunkRepositoryを作成します
func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{pool: pool}
}

// Ensure ChunkRepository implements domain.ChunkStore
var _ domain.ChunkStore = (*ChunkRepository)(nil)

// DefaultEmbeddingDimension は text-embedding-3-small の次元数
const DefaultEmbeddingDimension = 1536

const schemaDDL = `
CREATE TABLE IF NOT EXISTS chunks (
	namespace      TEXT NOT NULL,
	doc_id         TEXT NOT NULL,
	chunk_index    INTEGER NOT NULL,
	content        TEXT NOT NULL,
	content_hash   TEXT NOT NULL,
	char_start     INTEGER NOT NULL,
	char_end       INTEGER NOT NULL,
	heading_chain  TEXT[] NOT NULL DEFAULT '{}',
	token_estimate INTEGER NOT NULL DEFAULT 0,
	needs_review   BOOLEAN NOT NULL DEFAULT FALSE,
	embedding      vector(%d),
	model          TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, doc_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks (namespace, doc_id);
CREATE INDEX IF NOT EXISTS idx_chunks_needs_review ON chunks (namespace) WHERE needs_review;
`

// EnsureSchema はchunksテーブルを作成します
// dimension はembeddingカラムのベクトル次元数で、設定のOPENAI_EMBEDDING_DIMENSIONと一致させます
func (r *ChunkRepository) EnsureSchema(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		dimension = DefaultEmbeddingDimension
	}
	if _, err := r.pool.Exec(ctx, fmt.Sprintf(schemaDDL, dimension)); err != nil {
		return fmt.Errorf("failed to ensure chunks schema: %w", err)
	}
	return nil
}

const upsertSQL = `
INSERT INTO chunks (
	namespace, doc_id, chunk_index,
	content, content_hash, char_start, char_end,
	heading_chain, token_estimate, needs_review,
	embedding, model
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (namespace, doc_id, chunk_index) DO UPDATE SET
	content        = EXCLUDED.content,
	content_hash   = EXCLUDED.content_hash,
	char_start     = EXCLUDED.char_start,
	char_end       = EXCLUDED.char_end,
	heading_chain  = EXCLUDED.heading_chain,
	token_estimate = EXCLUDED.token_estimate,
	needs_review   = EXCLUDED.needs_review,
	embedding      = COALESCE(EXCLUDED.embedding, chunks.embedding),
	model          = CASE WHEN EXCLUDED.model <> '' THEN EXCLUDED.model ELSE chunks.model END,
	updated_at     = now()
`

// Upsert はチャンクを挿入または更新します
// Embedding未設定(再利用チャンク)の場合は既存行のベクトルを保持します
func (r *ChunkRepository) Upsert(ctx context.Context, chunk *domain.Chunk) error {
	var embedding any
	if len(chunk.Embedding) > 0 {
		embedding = pgvector.NewVector(chunk.Embedding)
	}

	headingChain := chunk.HeadingChain
	if headingChain == nil {
		headingChain = []string{}
	}

	_, err := r.pool.Exec(ctx, upsertSQL,
		chunk.Namespace,
		chunk.DocID,
		chunk.ChunkIndex,
		chunk.Content,
		chunk.ContentHash,
		chunk.CharStart,
		chunk.CharEnd,
		headingChain,
		chunk.TokenEstimate,
		chunk.NeedsReview,
		embedding,
		chunk.Model,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk %s/%s[%d]: %w", chunk.Namespace, chunk.DocID, chunk.ChunkIndex, err)
	}
	return nil
}

// ListExistingHashes は永続化済みチャンクの chunk_index -> content_hash を返します
func (r *ChunkRepository) ListExistingHashes(ctx context.Context, namespace, docID string) (map[int]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT chunk_index, content_hash FROM chunks WHERE namespace = $1 AND doc_id = $2`,
		namespace, docID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[int]string)
	for rows.Next() {
		var index int
		var hash string
		if err := rows.Scan(&index, &hash); err != nil {
			return nil, fmt.Errorf("failed to scan hash row: %w", err)
		}
		hashes[index] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hash rows: %w", err)
	}
	return hashes, nil
}

// DeleteChunksNotIn は keptIndices に含まれないchunk_index行を削除し、削除件数を返します
// ドキュメントが前回より縮んだ場合の余剰行の掃除に使います
func (r *ChunkRepository) DeleteChunksNotIn(ctx context.Context, namespace, docID string, keptIndices []int) (int, error) {
	kept := make([]int32, len(keptIndices))
	for i, idx := range keptIndices {
		kept[i] = int32(idx)
	}

	tag, err := r.pool.Exec(ctx,
		`DELETE FROM chunks WHERE namespace = $1 AND doc_id = $2 AND NOT (chunk_index = ANY($3))`,
		namespace, docID, kept,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale chunks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListChunks はドキュメントの永続化済みチャンクをインデックス昇順で返します
func (r *ChunkRepository) ListChunks(ctx context.Context, namespace, docID string) ([]*domain.Chunk, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT chunk_index, content, content_hash, char_start, char_end,
		       heading_chain, token_estimate, needs_review, embedding, model
		FROM chunks
		WHERE namespace = $1 AND doc_id = $2
		ORDER BY chunk_index`,
		namespace, docID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*domain.Chunk
	for rows.Next() {
		ch := &domain.Chunk{Namespace: namespace, DocID: docID}
		var embedding *pgvector.Vector
		if err := rows.Scan(
			&ch.ChunkIndex,
			&ch.Content,
			&ch.ContentHash,
			&ch.CharStart,
			&ch.CharEnd,
			&ch.HeadingChain,
			&ch.TokenEstimate,
			&ch.NeedsReview,
			&embedding,
			&ch.Model,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		if embedding != nil {
			ch.Embedding = embedding.Slice()
		}
		chunks = append(chunks, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunk rows: %w", err)
	}
	return chunks, nil
}
