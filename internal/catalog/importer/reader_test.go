package importer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teilehub/teilehub/internal/shared"
)

func csvFile(rows ...string) []byte {
	return []byte(Header + "\n" + strings.Join(rows, "\n") + "\n")
}

func TestValidateUpload(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		size     int64
		max      int64
		wantErr  bool
	}{
		{"ok", "parts.csv", 100, 1000, false},
		{"uppercase extension", "PARTS.CSV", 100, 1000, false},
		{"wrong extension", "parts.xlsx", 100, 1000, true},
		{"no extension", "parts", 100, 1000, true},
		{"empty file", "parts.csv", 0, 1000, true},
		{"too large", "parts.csv", 1001, 1000, true},
		{"no ceiling", "parts.csv", 1 << 30, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUpload(tt.filename, tt.size, tt.max)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, CodeInvalidInput, shared.CodeOf(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestParseValidRows(t *testing.T) {
	data := csvFile(
		"A-100;19.99;2;Bremsscheibe;BOSCH 0986478;0;3;5",
		"A-101;5,50;1;Keilriemen;CONTI CT1028;0,00;1;2",
	)
	rows, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Empty(t, rows[0].Reasons)
	assert.Equal(t, "A-100", rows[0].Record.InterneArtikelnummer)
	assert.Equal(t, 19.99, rows[0].Record.Preis)
	assert.Equal(t, 2, rows[0].Record.Zustand)
	assert.Equal(t, "Bremsscheibe", rows[0].Record.Tiltle)

	// Comma decimal separators are accepted.
	require.Empty(t, rows[1].Reasons)
	assert.Equal(t, 5.5, rows[1].Record.Preis)
	assert.Equal(t, 0.0, rows[1].Record.Pfand)
}

func TestParseRejectsWrongHeader(t *testing.T) {
	// The corrected spelling is a different contract and must be refused.
	data := []byte("interne_artikelnummer;preis;zustand;title;teilemarke_teilenummer;pfand;versandklasse;lieferzeit\nA-100;1;1;x;y;0;1;1\n")
	_, err := Parse(data)
	require.Error(t, err)
	assert.Equal(t, CodeInvalidInput, shared.CodeOf(err))
}

func TestParseRejectsEmptyFile(t *testing.T) {
	_, err := Parse([]byte("   \n"))
	require.Error(t, err)
	assert.Equal(t, CodeInvalidInput, shared.CodeOf(err))
}

func TestParseStripsBOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, csvFile("A-100;1.00;1;x;y;0;1;1")...)
	rows, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Empty(t, rows[0].Reasons)
}

func TestParseDecodesLatin1(t *testing.T) {
	// "Kotflügel" with an ISO-8859-1 encoded ü (0xFC).
	row := []byte("A-100;1.00;1;Kotfl")
	row = append(row, 0xFC)
	row = append(row, []byte("gel;BMW 41358;0;1;1")...)
	data := append([]byte(Header+"\n"), row...)

	rows, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Empty(t, rows[0].Reasons)
	assert.Equal(t, "Kotflügel", rows[0].Record.Tiltle)
}

func TestParseSkipsBlankLines(t *testing.T) {
	data := []byte(Header + "\nA-100;1.00;1;x;y;0;1;1\n\n\nA-101;2.00;1;x;y;0;1;1\n")
	rows, err := Parse(data)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestParseMarksInvalidRows(t *testing.T) {
	data := csvFile(
		"A-100;abc;1;x;y;0;1;1",   // bad price
		"A-101;1.00;9;x;y;0;1;1",  // zustand out of range
		"A-102;1.00;1;x;y;0;1",    // missing column
		"A-103;-5;1;x;y;0;1;1",    // negative price
		";1.00;1;x;y;0;1;1",       // empty key
		"A-105;1.00;1;x;y;0;1;400", // lieferzeit out of range
		"A-106;1.00;1;x;y;0;1;1",  // valid
	)
	rows, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, rows, 7)

	for i := 0; i < 6; i++ {
		assert.NotEmptyf(t, rows[i].Reasons, "row %d should carry reasons", i)
	}
	assert.Empty(t, rows[6].Reasons)

	// Line numbers are file positions including the header line.
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, 8, rows[6].Line)
}
