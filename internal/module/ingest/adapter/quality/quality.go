// Package quality は抽出テキストの品質を評価し、要確認フラグを付与します
package quality

import (
	"unicode"

	"github.com/jinford/lex-ingest/internal/module/ingest/domain"
)

const (
	// DefaultMaxSymbolRatio は記号/制御文字比率のデフォルト上限(OCR文字化けシグナル)
	DefaultMaxSymbolRatio = 0.35
	// DefaultMinConfidence はソース信頼度のデフォルト下限
	DefaultMinConfidence = 0.6
	// DefaultMinLengthRatio は最終チャンク以外で許容する最小チャンク長の比率
	// (目標サイズの10%未満は抽出の途切れを示唆する)
	DefaultMinLengthRatio = 0.1
)

// Config は品質評価のしきい値設定
type Config struct {
	MaxSymbolRatio float64
	MinConfidence  float64
	MinLengthRatio float64
}

// DefaultConfig はデフォルトの品質設定を返します
func DefaultConfig() Config {
	return Config{
		MaxSymbolRatio: DefaultMaxSymbolRatio,
		MinConfidence:  DefaultMinConfidence,
		MinLengthRatio: DefaultMinLengthRatio,
	}
}

// Assessment は品質評価の結果
type Assessment struct {
	// NeedsReview はドキュメント全体として人手確認が必要か
	NeedsReview bool
	// PerChunkFlags は chunk_index -> 要確認フラグ
	PerChunkFlags map[int]bool
}

// Gate はチャンク列とソース信頼度から要確認判定を行います
// いずれかのヒューリスティックに該当すれば保守的にフラグを立てます
// (正常文書の誤検知は許容し、文字化けテキストを検索コーパスへ
// 無言で流すことを避ける方針)
type Gate struct {
	cfg Config
}

// NewGate は新しいGateを作成します
func NewGate(cfg Config) *Gate {
	if cfg.MaxSymbolRatio <= 0 {
		cfg.MaxSymbolRatio = DefaultMaxSymbolRatio
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	if cfg.MinLengthRatio <= 0 {
		cfg.MinLengthRatio = DefaultMinLengthRatio
	}
	return &Gate{cfg: cfg}
}

// Assess はチャンク列を評価します
// sourceConfidence はOCRエンジン等が報告する信頼度で、nilの場合は信頼度判定をスキップします
// chunkSize は切り詰め検知の基準となる目標チャンクサイズです
func (g *Gate) Assess(chunks []*domain.Chunk, sourceConfidence *float64, chunkSize int) Assessment {
	result := Assessment{
		PerChunkFlags: make(map[int]bool, len(chunks)),
	}

	lowConfidence := sourceConfidence != nil && *sourceConfidence < g.cfg.MinConfidence

	for i, ch := range chunks {
		flagged := false

		// (a) 記号/制御文字の比率が高い(文字化けシグナル)
		if symbolRatio(ch.Content) > g.cfg.MaxSymbolRatio {
			flagged = true
		}

		// (b) ソース信頼度が下限未満
		if lowConfidence {
			flagged = true
		}

		// (c) 最終チャンク以外が異常に短い(抽出の途切れを示唆)
		isLast := i == len(chunks)-1
		if !isLast && float64(len([]rune(ch.Content))) < g.cfg.MinLengthRatio*float64(chunkSize) {
			flagged = true
		}

		result.PerChunkFlags[ch.ChunkIndex] = flagged
		if flagged {
			result.NeedsReview = true
		}
	}

	// チャンク単位の異常がなくても信頼度不足ならドキュメントを要確認とする
	if lowConfidence {
		result.NeedsReview = true
	}

	return result
}

// symbolRatio は英数字・空白以外の文字が占める比率を返します
func symbolRatio(content string) float64 {
	if content == "" {
		return 0
	}
	total := 0
	symbols := 0
	for _, r := range content {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			continue
		}
		symbols++
	}
	return float64(symbols) / float64(total)
}
