package extract

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/driftetl/internal/domain"
)

const sampleDocument = `Scraped catalogue dump
--- METADATA
source: https://shop.example.com/items
scraped_at: 2024-03-01T10:00:00Z
# internal note
category: tools

--- RAW PARAGRAPH
The "Deluxe Widget" costs $19.99 or 25.50 USD, released 2024-03-01.
Call (555) 123-4567 today. Promo code: SAVE20

--- INLINE JSON
{"id": 1, "name": "Widget", "price": 19.99}
[{"id": 2, "name": "Gadget"}, {"id": 3, "name": "Doohickey"}]

--- MALFORMED JSON
{name: John, age: 30,}

--- HTML SNIPPET
<table>
<tr><th>sku</th><th>qty</th></tr>
<tr><td>A-1</td><td>4</td></tr>
<tr><td>B-2</td></tr>
</table>

--- CSV-LIKE SECTION
id,name,price
1,Widget,19.99
2,Gadget
3,Doohickey,5.00

--- KEY-VALUE KVP BLOCK
color: red
color: blue
sale;clearance

--- JSON-LD
<script type="application/ld+json">{"@type": "Product", "name": "Widget"}</script>
<script type="application/ld+json">{"@type": broken</script>

--- FREE TEXT
var config = {mode: 'fast', retries: 3};
Reach us at 555.987.6543.

--- OCR-LIKE PAGE FOOTER
Page 3 of 10
Document Title: Quarterly Report
L0cation: Warehouse 9
Total: 42 items

--- SQL-LIKE SNIPPET
SELECT * FROM items;

--- REPEATED FIELDS
tag: a
tag: b
tag: c

--- AMBIGUOUS TYPES
in_stock: true
discount: N/A
count: 42
ratio: 0.75
code: 007A

=== VARIANT v2 START ===
{"id": 9, "name": "Widget", "color": "red"}
---
id: 10
name: Gadget
---
id,name,color
11,Doohickey,blue
=== VARIANT v2 END ===
`

var fixedNow = time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestParser() *Parser {
	return NewParser(DefaultConfig(), nil).WithClock(func() time.Time { return fixedNow })
}

func recordsOfType(records []domain.Record, dataType string) []domain.Record {
	var out []domain.Record
	for _, record := range records {
		if record.DataType == dataType {
			out = append(out, record)
		}
	}
	return out
}

func field(t *testing.T, record domain.Record, key string) any {
	t.Helper()
	value, ok := record.Get(key)
	require.Truef(t, ok, "record %s has no field %q", record.DataType, key)
	return value
}

func TestParseSampleDocument(t *testing.T) {
	result := newTestParser().ParseDocument(sampleDocument, "catalogue.txt")

	require.Len(t, result.Sections, 14)
	assert.Empty(t, result.Degraded)
	assert.Len(t, result.Records, 22)
	assert.GreaterOrEqual(t, len(result.Records), len(result.Sections))

	for _, record := range result.Records {
		assert.NotEmpty(t, record.DataType)
		assert.Equal(t, "catalogue.txt", record.Provenance.SourceFile)
		assert.Equal(t, "catalogue.txt", field(t, record, "source_file"))
		assert.Equal(t, "2024-03-02T12:00:00Z", field(t, record, "processed_at"))
		assert.Equal(t, "https://shop.example.com/items", field(t, record, "source_url"))
		assert.Equal(t, "2024-03-01T10:00:00Z", field(t, record, "scraped_at"))
	}
}

func TestParseMetadataSkipsComments(t *testing.T) {
	records := newTestParser().Parse(sampleDocument, "catalogue.txt")
	metadata := recordsOfType(records, "metadata")
	require.Len(t, metadata, 1)

	assert.Equal(t, "tools", field(t, metadata[0], "category"))
	assert.False(t, metadata[0].Fields.Has("# internal note"))
	assert.Equal(t, domain.SectionMetadata, metadata[0].Provenance.Section)
}

func TestParseInlineJSONFlattensArrays(t *testing.T) {
	records := newTestParser().Parse(sampleDocument, "catalogue.txt")
	objects := recordsOfType(records, "json_object")
	require.Len(t, objects, 4)

	var fromArray int
	for _, record := range objects {
		if flag, ok := record.Get("from_array"); ok && flag == true {
			fromArray++
		}
	}
	assert.Equal(t, 2, fromArray)
	assert.Equal(t, int64(1), field(t, objects[0], "id"))
	assert.Equal(t, 19.99, field(t, objects[0], "price"))
	assert.Equal(t, "Gadget", field(t, objects[1], "name"))
	assert.Equal(t, "John", field(t, objects[3], "name"))
}

func TestParseMalformedJSONUsesMinimalRepair(t *testing.T) {
	records := newTestParser().Parse("--- MALFORMED JSON\n{name: John, age: 30,}\n", "x.txt")
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, "json_object", record.DataType)
	assert.Equal(t, StrategyMinimal, record.Provenance.Strategy)
	assert.False(t, record.Provenance.WasMalformed)
	assert.Equal(t, "John", field(t, record, "name"))
	assert.Equal(t, int64(30), field(t, record, "age"))
}

func TestParseCSVDropsMismatchedRows(t *testing.T) {
	records := newTestParser().Parse(sampleDocument, "catalogue.txt")
	rows := recordsOfType(records, "csv_row")
	require.Len(t, rows, 2)

	assert.Equal(t, "1", field(t, rows[0], "id"))
	assert.Equal(t, "3", field(t, rows[1], "id"))
	assert.Equal(t, "5.00", field(t, rows[1], "price"))
}

func TestParseHTMLTableRows(t *testing.T) {
	records := newTestParser().Parse(sampleDocument, "catalogue.txt")
	rows := recordsOfType(records, "html_table_row")
	require.Len(t, rows, 1)

	assert.Equal(t, "A-1", field(t, rows[0], "sku"))
	assert.Equal(t, "4", field(t, rows[0], "qty"))
}

func TestScanHTMLTablesWithoutTree(t *testing.T) {
	content := `<tr><th>a</th><th>b</th></tr><tr><td><b>1</b></td><td>2</td></tr><tr><td>3</td></tr>`
	rows := scanHTMLTables(content)
	require.Len(t, rows, 1)
	assert.Equal(t, "1", field(t, rows[0], "a"))
	assert.Equal(t, "2", field(t, rows[0], "b"))
}

func TestParseKeyValueAccumulatesRepeatedKeys(t *testing.T) {
	records := newTestParser().Parse(sampleDocument, "catalogue.txt")
	pairs := recordsOfType(records, "key_value_pairs")
	require.Len(t, pairs, 1)

	assert.Equal(t, domain.Repeated{"red", "blue"}, field(t, pairs[0], "color"))
	assert.Equal(t, "sale", field(t, pairs[0], "tag_0"))
	assert.Equal(t, "clearance", field(t, pairs[0], "tag_1"))

	repeated := recordsOfType(records, "repeated_fields")
	require.Len(t, repeated, 1)
	assert.Equal(t, domain.Repeated{"a", "b", "c"}, field(t, repeated[0], "tag"))
}

func TestParseJSONLDKeepsMalformedPayloads(t *testing.T) {
	records := newTestParser().Parse(sampleDocument, "catalogue.txt")

	ld := recordsOfType(records, "json_ld")
	require.Len(t, ld, 1)
	assert.Equal(t, "Product", field(t, ld[0], "@type"))

	broken := recordsOfType(records, "malformed_json_ld")
	require.Len(t, broken, 1)
	assert.Equal(t, `{"@type": broken`, field(t, broken[0], "raw_content"))
	assert.NotEmpty(t, field(t, broken[0], "error"))
}

func TestParseAmbiguousTypes(t *testing.T) {
	records := newTestParser().Parse(sampleDocument, "catalogue.txt")
	ambiguous := recordsOfType(records, "ambiguous_types")
	require.Len(t, ambiguous, 1)
	record := ambiguous[0]

	assert.Equal(t, true, field(t, record, "in_stock"))
	assert.Equal(t, "true", field(t, record, "in_stock_original"))
	assert.Nil(t, field(t, record, "discount"))
	assert.Equal(t, "N/A", field(t, record, "discount_original"))
	assert.Equal(t, int64(42), field(t, record, "count"))
	assert.Equal(t, 0.75, field(t, record, "ratio"))
	assert.Equal(t, "007A", field(t, record, "code"))
	assert.False(t, record.Fields.Has("code_original"))
}

func TestParseFreeTextExtractsEmbeddedData(t *testing.T) {
	records := newTestParser().Parse(sampleDocument, "catalogue.txt")

	js := recordsOfType(records, "javascript_object")
	require.Len(t, js, 1)
	assert.Equal(t, "fast", field(t, js[0], "mode"))
	assert.Equal(t, int64(3), field(t, js[0], "retries"))

	contacts := recordsOfType(records, "contact_info")
	require.Len(t, contacts, 1)
	assert.Equal(t, []any{"555.987.6543"}, field(t, contacts[0], "phone_numbers"))

	raw := recordsOfType(records, "raw_text_analysis")
	require.Len(t, raw, 1)
	assert.Equal(t, []any{"Deluxe Widget"}, field(t, raw[0], "quoted_strings"))
	assert.Equal(t, []any{"SAVE20"}, field(t, raw[0], "promo_codes"))
	assert.Contains(t, field(t, raw[0], "extracted_dates"), "2024-03-01")
	assert.Equal(t, int64(2), field(t, raw[0], "line_count"))
}

func TestParseOCRFooterFlagsMisreadLocation(t *testing.T) {
	records := newTestParser().Parse(sampleDocument, "catalogue.txt")
	footer := recordsOfType(records, "ocr_footer")
	require.Len(t, footer, 1)

	assert.Equal(t, "Page 3 of 10", field(t, footer[0], "page_info"))
	assert.Equal(t, "Quarterly Report", field(t, footer[0], "document_title"))
	assert.Equal(t, "Warehouse 9", field(t, footer[0], "location"))
	assert.Equal(t, true, field(t, footer[0], "ocr_errors_detected"))
	assert.Equal(t, "Total: 42 items", field(t, footer[0], "total_info"))
}

func TestParseUnknownTagIsGeneric(t *testing.T) {
	records := newTestParser().Parse(sampleDocument, "catalogue.txt")
	generic := recordsOfType(records, "generic_sql_snippet")
	require.Len(t, generic, 1)
	assert.Equal(t, "SELECT * FROM items;", field(t, generic[0], "content"))
	assert.Equal(t, int64(4), field(t, generic[0], "word_count"))
}

func TestParseVariantBlock(t *testing.T) {
	records := newTestParser().Parse(sampleDocument, "catalogue.txt")

	variants := recordsOfType(records, "schema_variant")
	require.Len(t, variants, 1)
	assert.Equal(t, "v2", field(t, variants[0], "version"))
	assert.Equal(t, int64(9), field(t, variants[0], "id"))

	frontmatter := recordsOfType(records, "yaml_frontmatter")
	require.Len(t, frontmatter, 1)
	assert.Equal(t, int64(10), field(t, frontmatter[0], "id"))
	assert.Equal(t, "Gadget", field(t, frontmatter[0], "name"))

	rows := recordsOfType(records, "variant_csv_row")
	require.Len(t, rows, 1)
	assert.Equal(t, "blue", field(t, rows[0], "color"))
}

func TestParseDegradesEmptySections(t *testing.T) {
	doc := "--- CSV-LIKE SECTION\nonly,header\n--- OCR-LIKE PAGE FOOTER\nnothing useful here\n"
	result := newTestParser().ParseDocument(doc, "broken.txt")

	require.Len(t, result.Sections, 2)
	require.Len(t, result.Records, 2)
	require.Len(t, result.Degraded, 2)

	for idx, record := range result.Records {
		assert.Equal(t, string(result.Sections[idx].Tag), record.DataType)
		assert.Contains(t, field(t, record, "parse_error"), "no records extracted")
		assert.ErrorIs(t, result.Degraded[idx].Err, domain.ErrParseDegraded)
	}
	assert.Equal(t, "only,header", field(t, result.Records[0], "raw_content"))
}

func TestFallbackRecordTruncatesContent(t *testing.T) {
	long := make([]rune, 800)
	for idx := range long {
		long[idx] = 'é'
	}
	record := fallbackRecord(domain.Section{Tag: domain.SectionFreeText, Content: string(long)}, domain.ErrParseDegraded)
	raw := field(t, record, "raw_content").(string)
	assert.Len(t, []rune(raw), 500)
}

func TestParseWithoutMarkersYieldsNothing(t *testing.T) {
	records := newTestParser().Parse("just some text\nwith no sections", "plain.txt")
	assert.Empty(t, records)
}

func TestParseTruncatesOversizedDocuments(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDocumentBytes = 32
	parser := NewParser(cfg, nil)

	result := parser.ParseDocument("--- SQL-LIKE SNIPPET\nSELECT 1;\n--- FREE TEXT\nlate section", "big.txt")
	require.Len(t, result.Sections, 1)
	assert.Equal(t, domain.SectionSQLSnippet, result.Sections[0].Tag)
}

func TestParseAllKeepsInputOrder(t *testing.T) {
	parser := newTestParser()
	docs := []Document{
		{Text: "--- SQL-LIKE SNIPPET\nSELECT 1;", FileName: "a.txt"},
		{Text: sampleDocument, FileName: "b.txt"},
		{Text: "no markers", FileName: "c.txt"},
	}

	results, err := parser.ParseAll(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a.txt", results[0].FileName)
	assert.Len(t, results[0].Records, 1)
	assert.Len(t, results[1].Records, 22)
	assert.Empty(t, results[2].Records)
}

func TestParseAllHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestParser().ParseAll(ctx, []Document{{Text: sampleDocument, FileName: "a.txt"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseNamesBlankJSONKeys(t *testing.T) {
	records := newTestParser().Parse("--- INLINE JSON\n{\"\": 1, \"a\": 2}\n{\"\": 4, \"column_1\": 5}\n", "x.txt")
	require.Len(t, records, 2)

	assert.Equal(t, []string{"column_1", "a"}, records[0].Fields.Keys()[:2])
	assert.Equal(t, int64(1), field(t, records[0], "column_1"))

	assert.Equal(t, []string{"column_1_2", "column_1"}, records[1].Fields.Keys()[:2])
	assert.Equal(t, int64(4), field(t, records[1], "column_1_2"))
	assert.Equal(t, int64(5), field(t, records[1], "column_1"))
}

func TestParseCSVHeaderSuffixSkipsTakenNames(t *testing.T) {
	records := newTestParser().Parse("--- CSV-LIKE SECTION\na,a,a_2\n1,2,3\n", "x.txt")
	rows := recordsOfType(records, "csv_row")
	require.Len(t, rows, 1)

	assert.Equal(t, []string{"a", "a_3", "a_2"}, rows[0].Fields.Keys()[:3])
	assert.Equal(t, "1", field(t, rows[0], "a"))
	assert.Equal(t, "2", field(t, rows[0], "a_3"))
	assert.Equal(t, "3", field(t, rows[0], "a_2"))
}

func TestHeaderNames(t *testing.T) {
	assert.Equal(t, []string{"a", "a_3", "a_2"}, headerNames([]string{"a", "a", "a_2"}))
	assert.Equal(t, []string{"column_1_2", "column_1"}, headerNames([]string{" ", "column_1"}))
	assert.Equal(t, []string{"x", "x_2", "x_3"}, headerNames([]string{"x", "x", "x"}))
}

func TestParseMalformedJSONTagsArrayElements(t *testing.T) {
	records := newTestParser().Parse("--- MALFORMED JSON\n[{name: Ann,}, {name: Bob}]\n{name: Cy, tags: [1, 2]}\n", "x.txt")
	require.Len(t, records, 3)

	for _, record := range records[:2] {
		assert.Equal(t, true, field(t, record, "from_array"))
	}
	assert.Equal(t, "Ann", field(t, records[0], "name"))
	assert.Equal(t, "Bob", field(t, records[1], "name"))

	assert.Equal(t, "Cy", field(t, records[2], "name"))
	assert.False(t, records[2].Fields.Has("from_array"))
}
