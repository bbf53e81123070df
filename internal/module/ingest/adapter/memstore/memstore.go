// Package memstore はテストとドライラン用のインメモリChunkStore実装です
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/jinford/lex-ingest/internal/module/ingest/domain"
)

// Store は (namespace, doc_id, chunk_index) をキーとするインメモリストアです
// 行単位の last-writer-wins で並行upsertに安全です
type Store struct {
	mu   sync.RWMutex
	docs map[docKey]map[int]*domain.Chunk
}

type docKey struct {
	namespace string
	docID     string
}

// New は新しいStoreを作成します
func New() *Store {
	return &Store{
		docs: make(map[docKey]map[int]*domain.Chunk),
	}
}

// Upsert はチャンクを識別子キーで挿入または更新します
func (s *Store) Upsert(ctx context.Context, chunk *domain.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := docKey{namespace: chunk.Namespace, docID: chunk.DocID}
	rows, ok := s.docs[key]
	if !ok {
		rows = make(map[int]*domain.Chunk)
		s.docs[key] = rows
	}

	// 呼び出し側の後続変更から隔離するためコピーを保持する
	clone := *chunk
	clone.HeadingChain = append([]string(nil), chunk.HeadingChain...)
	clone.Embedding = append([]float32(nil), chunk.Embedding...)

	// Embedding省略時(再利用チャンク)は既存のベクトルとモデルを引き継ぐ
	if prev, ok := rows[chunk.ChunkIndex]; ok && len(clone.Embedding) == 0 {
		clone.Embedding = prev.Embedding
		if clone.Model == "" {
			clone.Model = prev.Model
		}
	}

	rows[chunk.ChunkIndex] = &clone
	return nil
}

// ListExistingHashes は永続化済みチャンクの chunk_index -> content_hash を返します
func (s *Store) ListExistingHashes(ctx context.Context, namespace, docID string) (map[int]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hashes := make(map[int]string)
	for idx, ch := range s.docs[docKey{namespace: namespace, docID: docID}] {
		hashes[idx] = ch.ContentHash
	}
	return hashes, nil
}

// DeleteChunksNotIn は keptIndices に含まれないchunk_index行を削除します
func (s *Store) DeleteChunksNotIn(ctx context.Context, namespace, docID string, keptIndices []int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	kept := make(map[int]bool, len(keptIndices))
	for _, i := range keptIndices {
		kept[i] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	rows := s.docs[docKey{namespace: namespace, docID: docID}]
	for idx := range rows {
		if !kept[idx] {
			delete(rows, idx)
			deleted++
		}
	}
	return deleted, nil
}

// Chunks は保存済みチャンクをchunk_index昇順で返します(テスト用ヘルパー)
func (s *Store) Chunks(namespace, docID string) []*domain.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.docs[docKey{namespace: namespace, docID: docID}]
	chunks := make([]*domain.Chunk, 0, len(rows))
	for _, ch := range rows {
		chunks = append(chunks, ch)
	}
	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].ChunkIndex < chunks[j].ChunkIndex
	})
	return chunks
}

// インターフェース実装の確認
var _ domain.ChunkStore = (*Store)(nil)
