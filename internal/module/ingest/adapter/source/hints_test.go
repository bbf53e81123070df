package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanHints(t *testing.T) {
	text := `ZAKON O RADU

DIO PRVI
GLAVA I. OPĆE ODREDBE

Članak 1.
Ovim se zakonom uređuju radni odnosi.

GLAVA II. UGOVOR O RADU

Članak 2.
Ugovor o radu sklapa se u pisanom obliku.`

	hints := ScanHints(text)
	require.Len(t, hints, 5)

	assert.Equal(t, "DIO PRVI", hints[0].Label)
	assert.Equal(t, 0, hints[0].Level)
	assert.Equal(t, "GLAVA I. OPĆE ODREDBE", hints[1].Label)
	assert.Equal(t, 1, hints[1].Level)
	assert.Equal(t, "Članak 1.", hints[2].Label)
	assert.Equal(t, 2, hints[2].Level)
	assert.Equal(t, "GLAVA II. UGOVOR O RADU", hints[3].Label)
	assert.Equal(t, "Članak 2.", hints[4].Label)

	// オフセットは昇順
	for i := 1; i < len(hints); i++ {
		assert.Greater(t, hints[i].Offset, hints[i-1].Offset)
	}
}

func TestScanHintsRuneOffsets(t *testing.T) {
	// 見出し前にマルチバイト文字を含むテキスト
	text := "ŠĆĐŽČ šćđžč\nČlanak 1.\nTekst."

	hints := ScanHints(text)
	require.Len(t, hints, 1)

	// byteオフセットではなくruneオフセット(改行含め12rune目)
	assert.Equal(t, 12, hints[0].Offset)

	runes := []rune(text)
	assert.Equal(t, "Članak 1.", string(runes[hints[0].Offset:hints[0].Offset+9]))
}

func TestScanHintsNoMarkers(t *testing.T) {
	assert.Nil(t, ScanHints("Običan tekst bez strukture."))
}

func TestScanHintsMidLineNotMatched(t *testing.T) {
	// 行頭以外の出現は見出しではない
	text := "Vidi Članak 5. ovoga zakona.\nKako je propisano u GLAVA III."
	assert.Nil(t, ScanHints(text))
}

func TestScanCitation(t *testing.T) {
	assert.Equal(t, "NN 93/14, 127/17", ScanCitation("Zakon o radu (NN 93/14, 127/17)"))
	assert.Equal(t, "NN 35/05", ScanCitation("NN 35/05"))
	assert.Empty(t, ScanCitation("bez citata"))
}
