package source

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/jinford/lex-ingest/internal/module/ingest/domain"
)

// 法令テキストの構造マーカー
// 階層: DIO(部) > GLAVA(章) > Članak(条)
var (
	dioRe    = regexp.MustCompile(`(?m)^DIO\s+[A-ZČĆĐŠŽ]+.*$`)
	glavaRe  = regexp.MustCompile(`(?m)^GLAVA\s+[IVXLCDM]+\.?.*$`)
	clanakRe = regexp.MustCompile(`(?m)^Članak\s+\d+[a-z]?\.`)

	// Narodne novine(官報)の引用番号 例: "NN 93/14, 127/17"
	citationRe = regexp.MustCompile(`NN\s+\d+/\d+(?:\.?,\s*\d+/\d+)*`)
)

// ScanHints は正規化済みテキストから構造ヒントを抽出します
// 返却オフセットはrune単位で、Offset昇順にソートされています
func ScanHints(text string) []domain.StructuralHint {
	type match struct {
		byteOff int
		label   string
		level   int
	}

	var matches []match
	collect := func(re *regexp.Regexp, level int) {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			matches = append(matches, match{
				byteOff: loc[0],
				label:   strings.TrimSpace(text[loc[0]:loc[1]]),
				level:   level,
			})
		}
	}
	collect(dioRe, 0)
	collect(glavaRe, 1)
	collect(clanakRe, 2)

	if len(matches) == 0 {
		return nil
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].byteOff < matches[j].byteOff
	})

	// byteオフセットをruneオフセットへ一回の走査で変換する
	hints := make([]domain.StructuralHint, 0, len(matches))
	runeOff := 0
	prevByte := 0
	for _, m := range matches {
		runeOff += utf8.RuneCountInString(text[prevByte:m.byteOff])
		prevByte = m.byteOff
		hints = append(hints, domain.StructuralHint{
			Label:  m.label,
			Offset: runeOff,
			Level:  m.level,
		})
	}
	return hints
}

// ScanCitation はテキストから最初の官報引用番号を抽出します
// 見つからない場合は空文字列を返します
func ScanCitation(text string) string {
	return citationRe.FindString(text)
}
