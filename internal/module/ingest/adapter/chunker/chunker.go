// Package chunker は正規化済みテキストをオーバーラップ付きの固定長チャンクに分割します
package chunker

import (
	"fmt"
	"sort"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jinford/lex-ingest/internal/module/ingest/domain"
)

const (
	// DefaultChunkSize はデフォルトのチャンクサイズ(文字数)
	DefaultChunkSize = 1200
	// DefaultOverlap はデフォルトのオーバーラップ量(文字数)
	DefaultOverlap = 150
	// defaultMinWindowDivisor は境界スナップで許容する最小ウィンドウの分母
	// (ChunkSize/4 未満に縮むスナップは退化チャンクを生むため行わない)
	defaultMinWindowDivisor = 4
)

// Config はチャンク分割の設定
type Config struct {
	// ChunkSize は目標チャンクサイズ(文字数)
	ChunkSize int
	// Overlap は隣接チャンク間のオーバーラップ量(文字数)
	Overlap int
	// MinWindowDivisor は境界スナップ時の最小ウィンドウ = ChunkSize/MinWindowDivisor
	// 0 の場合はデフォルト(4)が使われます
	MinWindowDivisor int
}

// DefaultConfig はデフォルトのチャンク設定を返します
func DefaultConfig() Config {
	return Config{
		ChunkSize:        DefaultChunkSize,
		Overlap:          DefaultOverlap,
		MinWindowDivisor: defaultMinWindowDivisor,
	}
}

// Chunker はテキストを文字ウィンドウ単位で分割します
// 構造ヒントがある場合はウィンドウ終端を直近の境界へスナップします
type Chunker struct {
	cfg     Config
	encoder *tiktoken.Tiktoken
}

// New は新しいChunkerを作成します
// ChunkSize <= 0 または Overlap が [0, ChunkSize) に収まらない場合は
// domain.ErrInvalidConfig を返します(処理開始前に検出)
func New(cfg Config) (*Chunker, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunkSize=%d", domain.ErrInvalidConfig, cfg.ChunkSize)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("%w: overlap=%d chunkSize=%d", domain.ErrInvalidConfig, cfg.Overlap, cfg.ChunkSize)
	}
	if cfg.MinWindowDivisor <= 0 {
		cfg.MinWindowDivisor = defaultMinWindowDivisor
	}

	// cl100k_baseエンコーダを使用(text-embedding-3系と互換)
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoder: %w", err)
	}

	return &Chunker{cfg: cfg, encoder: encoder}, nil
}

// Split はテキストをチャンク列に分割します
// 空入力は空列を返します(エラーではない)
// 返却チャンクにはハッシュとEmbeddingは付与されません
func (c *Chunker) Split(text string, hints []domain.StructuralHint) []*domain.Chunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	boundaries := boundaryOffsets(hints, n)
	minWindow := c.cfg.ChunkSize / c.cfg.MinWindowDivisor
	// スナップ後の終端がオーバーラップ分を下回ると次ウィンドウが前進しなくなる
	if minWindow <= c.cfg.Overlap {
		minWindow = c.cfg.Overlap + 1
	}

	var chunks []*domain.Chunk
	start := 0
	for start < n {
		// 最終チャンクがオーバーラップ量より短い場合は
		// ほぼ重複のスライバーを出さず前チャンクへ併合する
		if len(chunks) > 0 && n-start < c.cfg.Overlap {
			last := chunks[len(chunks)-1]
			last.CharEnd = n
			last.Content = string(runes[last.CharStart:n])
			last.TokenEstimate = c.countTokens(last.Content)
			break
		}

		end := start + c.cfg.ChunkSize
		if end >= n {
			end = n
		} else if b, ok := snapToBoundary(boundaries, start+minWindow, end); ok {
			// 文の途中で切らず、ウィンドウ内の直近境界で終える
			end = b
		}

		content := string(runes[start:end])
		chunks = append(chunks, &domain.Chunk{
			ChunkIndex:    len(chunks),
			Content:       content,
			CharStart:     start,
			CharEnd:       end,
			HeadingChain:  headingChainAt(hints, start),
			TokenEstimate: c.countTokens(content),
		})

		if end >= n {
			break
		}
		next := end - c.cfg.Overlap
		if next <= start {
			// 設定が極端な場合でも前進を保証する
			next = start + 1
		}
		start = next
	}

	return chunks
}

// countTokens はテキストのトークン数を概算します
func (c *Chunker) countTokens(text string) int {
	return len(c.encoder.Encode(text, nil, nil))
}

// boundaryOffsets はヒントから有効な境界オフセット列を昇順で返します
func boundaryOffsets(hints []domain.StructuralHint, textLen int) []int {
	if len(hints) == 0 {
		return nil
	}
	offsets := make([]int, 0, len(hints))
	for _, h := range hints {
		if h.Offset > 0 && h.Offset < textLen {
			offsets = append(offsets, h.Offset)
		}
	}
	sort.Ints(offsets)
	return offsets
}

// snapToBoundary は [lo, hi] に収まる最大の境界を返します
// hi に最も近い境界を選ぶことでウィンドウをできるだけ目標サイズに保ちます
func snapToBoundary(boundaries []int, lo, hi int) (int, bool) {
	// hiより大きい最初の境界位置を探し、その一つ前を候補とする
	i := sort.SearchInts(boundaries, hi+1)
	if i == 0 {
		return 0, false
	}
	b := boundaries[i-1]
	if b < lo {
		return 0, false
	}
	return b, true
}

// headingChainAt は位置posで有効な構造ラベルの連鎖(上位→下位)を返します
// 同レベルのヒントは後勝ちで、より深いレベルはスコープ開始時にリセットされます
func headingChainAt(hints []domain.StructuralHint, pos int) []string {
	type entry struct {
		level int
		label string
	}
	var chain []entry
	for _, h := range hints {
		if h.Offset > pos {
			break
		}
		if h.Label == "" {
			// ラベルなしヒントは境界専用(段落区切りなど)
			continue
		}
		// 同レベル以深を閉じてから積む
		for len(chain) > 0 && chain[len(chain)-1].level >= h.Level {
			chain = chain[:len(chain)-1]
		}
		chain = append(chain, entry{level: h.Level, label: h.Label})
	}
	if len(chain) == 0 {
		return nil
	}
	labels := make([]string, len(chain))
	for i, e := range chain {
		labels[i] = e.label
	}
	return labels
}
