package domain

import "strings"

// SectionTag identifies the kind of content a delimited region holds.
type SectionTag string

const (
	SectionMetadata       SectionTag = "metadata"
	SectionRawParagraph   SectionTag = "raw_paragraph"
	SectionInlineJSON     SectionTag = "inline_json"
	SectionMalformedJSON  SectionTag = "malformed_json"
	SectionHTMLSnippet    SectionTag = "html_snippet"
	SectionCSV            SectionTag = "csv_section"
	SectionKeyValue       SectionTag = "key_value"
	SectionJSONLD         SectionTag = "json_ld"
	SectionInlineCSV      SectionTag = "inline_csv"
	SectionFreeText       SectionTag = "free_text"
	SectionOCRFooter      SectionTag = "ocr_footer"
	SectionSQLSnippet     SectionTag = "sql_snippet"
	SectionRepeatedFields SectionTag = "repeated_fields"
	SectionAmbiguousTypes SectionTag = "ambiguous_types"
	SectionVariantV2      SectionTag = "variant_v2"
)

// SectionMarker describes how a tag is recognised in raw text. Start is
// matched case-insensitively at the beginning of a line. End is only set for
// blocks with an explicit terminator.
type SectionMarker struct {
	Tag   SectionTag
	Start string
	End   string
}

// SectionCatalog is the closed, ordered set of recognised sections.
var SectionCatalog = []SectionMarker{
	{Tag: SectionMetadata, Start: "--- METADATA"},
	{Tag: SectionRawParagraph, Start: "--- RAW PARAGRAPH"},
	{Tag: SectionInlineJSON, Start: "--- INLINE JSON"},
	{Tag: SectionMalformedJSON, Start: "--- MALFORMED JSON"},
	{Tag: SectionHTMLSnippet, Start: "--- HTML SNIPPET"},
	{Tag: SectionCSV, Start: "--- CSV-LIKE SECTION"},
	{Tag: SectionKeyValue, Start: "--- KEY-VALUE KVP BLOCK"},
	{Tag: SectionJSONLD, Start: "--- JSON-LD"},
	{Tag: SectionInlineCSV, Start: "--- INLINE CSV TABLE"},
	{Tag: SectionFreeText, Start: "--- FREE TEXT"},
	{Tag: SectionOCRFooter, Start: "--- OCR-LIKE PAGE FOOTER"},
	{Tag: SectionSQLSnippet, Start: "--- SQL-LIKE SNIPPET"},
	{Tag: SectionRepeatedFields, Start: "--- REPEATED FIELDS"},
	{Tag: SectionAmbiguousTypes, Start: "--- AMBIGUOUS TYPES"},
	{Tag: SectionVariantV2, Start: "=== VARIANT v2 START ===", End: "=== VARIANT v2 END ==="},
}

// Known reports whether the tag belongs to the catalog.
func (t SectionTag) Known() bool {
	for _, marker := range SectionCatalog {
		if marker.Tag == t {
			return true
		}
	}
	return false
}

// MarkerFor returns the catalog entry for a tag.
func MarkerFor(tag SectionTag) (SectionMarker, bool) {
	for _, marker := range SectionCatalog {
		if marker.Tag == tag {
			return marker, true
		}
	}
	return SectionMarker{}, false
}

// IsBoundaryLine reports whether a line opens or closes any section.
func IsBoundaryLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "---") || strings.HasPrefix(trimmed, "===")
}

// Section is a tagged span of raw text.
type Section struct {
	Tag     SectionTag
	Content string
}
