package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/driftetl/internal/domain"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []domain.Section
	}{
		{
			name: "empty document",
			text: "",
			want: []domain.Section{},
		},
		{
			name: "span ends at next marker",
			text: "--- METADATA\na: 1\n--- FREE TEXT\nhello\n",
			want: []domain.Section{
				{Tag: domain.SectionMetadata, Content: "a: 1"},
				{Tag: domain.SectionFreeText, Content: "hello"},
			},
		},
		{
			name: "markers are case insensitive",
			text: "--- metadata (page 1)\na: 1",
			want: []domain.Section{{Tag: domain.SectionMetadata, Content: "a: 1"}},
		},
		{
			name: "only the first occurrence is captured",
			text: "--- FREE TEXT\nfirst\n--- FREE TEXT\nsecond",
			want: []domain.Section{{Tag: domain.SectionFreeText, Content: "first"}},
		},
		{
			name: "unknown separators still close a span",
			text: "--- SQL-LIKE SNIPPET\nSELECT 1;\n--- SOMETHING ELSE\nignored",
			want: []domain.Section{{Tag: domain.SectionSQLSnippet, Content: "SELECT 1;"}},
		},
		{
			name: "variant block runs to its end marker",
			text: "=== VARIANT v2 START ===\n---\na: 1\n---\n=== VARIANT v2 END ===\ntrailing",
			want: []domain.Section{{Tag: domain.SectionVariantV2, Content: "---\na: 1\n---"}},
		},
		{
			name: "windows line endings",
			text: "--- RAW PARAGRAPH\r\nline one\r\nline two\r\n",
			want: []domain.Section{{Tag: domain.SectionRawParagraph, Content: "line one\nline two"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Split(tt.text))
		})
	}
}

func TestSplitFollowsCatalogOrder(t *testing.T) {
	sections := Split("--- OCR-LIKE PAGE FOOTER\npage 1\n--- METADATA\na: b")
	require.Len(t, sections, 2)
	assert.Equal(t, domain.SectionMetadata, sections[0].Tag)
	assert.Equal(t, domain.SectionOCRFooter, sections[1].Tag)
}

func TestIsDate(t *testing.T) {
	for _, value := range []string{"2024-03-01", "03/01/2024", "01-03-2024", "March 5, 2024", "2024/03/01"} {
		assert.Truef(t, IsDate(value), "expected %q to be a date", value)
	}
	for _, value := range []string{"", "2024-3-1", "released 2024-03-01", "42"} {
		assert.Falsef(t, IsDate(value), "expected %q not to be a date", value)
	}
}
