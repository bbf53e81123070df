package domain

import (
	"time"
)

// === SourceDocument集約 ===

// SourceDocument は取り込み対象の論理ドキュメントを表します
// (doc_id, namespace) の組が論理ドキュメントを一意に識別し、
// 同一IDでの再取り込みは重複ではなく更新として扱われます
type SourceDocument struct {
	DocID     string
	Namespace string
	RawText   string
	Hints     []StructuralHint
	Language  string

	// Confidence は抽出元(OCRエンジン等)が報告する信頼度 [0,1]
	// 供給されない場合は nil
	Confidence *float64

	Metadata SourceMetadata
}

// StructuralHint は本文中の構造マーカー(条文見出し、段落境界など)を表します
// Offset は正規化後テキスト内の開始位置、Level は階層の深さ(0が最上位)
type StructuralHint struct {
	Label  string
	Offset int
	Level  int
}

// SourceMetadata はアダプター固有のメタデータを保持します
// 認識されるキー: title, citation, published_at, original_path
type SourceMetadata map[string]any

// GetString は文字列キーを型安全に取得します
func (m SourceMetadata) GetString(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Title はドキュメントのタイトルを返します(未設定なら空文字列)
func (m SourceMetadata) Title() string {
	s, _ := m.GetString("title")
	return s
}

// Citation は引用識別子(官報番号など)を返します
func (m SourceMetadata) Citation() string {
	s, _ := m.GetString("citation")
	return s
}

// === Chunk ===

// Chunk はドキュメントを分割した取り込み単位を表します
// (doc_id, namespace, chunk_index) が識別子であり、
// chunk_index は1回の取り込み実行内で0始まりで採番されます
type Chunk struct {
	DocID      string
	Namespace  string
	ChunkIndex int

	Content     string
	ContentHash string
	CharStart   int
	CharEnd     int

	// HeadingChain は開始位置で有効な構造ラベルの列(上位→下位)
	HeadingChain []string

	TokenEstimate int

	NeedsReview bool
	Embedding   []float32
	Model       string
}

// Length はチャンク本文の文字数(rune数ではなくbyte数)を返します
func (c *Chunk) Length() int {
	return len(c.Content)
}

// === IngestResult ===

// IngestStatus は1ドキュメントの取り込み結果ステータス
type IngestStatus string

const (
	// StatusCompleted は全チャンクの取り込みが完了した状態
	StatusCompleted IngestStatus = "completed"
	// StatusPartial は一部バッチの失敗を含みつつ完了した状態
	StatusPartial IngestStatus = "partial"
	// StatusFailed は取り込み全体が失敗した状態(chunk_count=0)
	StatusFailed IngestStatus = "failed"
)

// IngestResult は1回の取り込み実行の結果を表します
// 想定内の失敗は例外ではなくこの構造体で報告されます
type IngestResult struct {
	DocID     string
	Namespace string
	Status    IngestStatus

	ChunkCount  int
	Inserted    int
	Updated     int
	Skipped     int
	NeedsReview bool

	// FailedChunks はEmbedding生成に失敗したチャンクのインデックス列
	FailedChunks []int

	Error    string
	Duration time.Duration
}

// Succeeded は取り込みが(部分成功を含め)完了したかを返します
func (r *IngestResult) Succeeded() bool {
	return r.Status == StatusCompleted || r.Status == StatusPartial
}

// === 取り込みオプション ===

// IngestOptions は1ドキュメントの取り込みパラメータ
type IngestOptions struct {
	ChunkSize int
	Overlap   int
	Model     string
	Namespace string
}

// === 状態機械 ===

// State は取り込みパイプラインの進行状態を表します
type State string

const (
	StateReceived    State = "received"
	StateNormalizing State = "normalizing"
	StateChunking    State = "chunking"
	StateDeduping    State = "deduping"
	StateEmbedding   State = "embedding"
	StatePersisting  State = "persisting"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)
