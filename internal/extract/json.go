package extract

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/rpattn/driftetl/internal/domain"
)

const dataTypeJSONObject = "json_object"

var (
	ldScriptPattern    = regexp.MustCompile(`(?is)<script[^>]*type\s*=\s*["']application/ld\+json["'][^>]*>(.*?)</script>`)
	frontmatterPattern = regexp.MustCompile(`(?s)---[ \t]*\n(.*?)\n---`)
)

func objectRecord(dataType string, fields domain.Fields, strategy string, malformed bool) domain.Record {
	record := domain.Record{DataType: dataType, Fields: fields}
	record.Fields.Delete(domain.DataTypeKey)
	record.Provenance.Strategy = strategy
	record.Provenance.WasMalformed = malformed
	return record
}

// parseInlineJSON decodes every bracket-delimited candidate directly and falls
// back to the repair cascade. Top level arrays flatten into one record per
// object element. Records follow document order.
func (p *Parser) parseInlineJSON(content string) ([]domain.Record, error) {
	objects := balancedSpans(content, '{', '}')

	type candidate struct {
		span
		items []json.RawMessage
	}
	var candidates []candidate
	var arrays []span
	for _, s := range balancedSpans(content, '[', ']') {
		if within(s, objects) {
			continue
		}
		items, err := decodeArray(content[s.start:s.end])
		if err != nil {
			continue
		}
		arrays = append(arrays, s)
		candidates = append(candidates, candidate{span: s, items: items})
	}
	for _, s := range objects {
		if !within(s, arrays) {
			candidates = append(candidates, candidate{span: s})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].start < candidates[j].start })

	var records []domain.Record
	for _, c := range candidates {
		if c.items != nil {
			for _, item := range c.items {
				fields, err := decodeObject(string(item))
				if err != nil {
					continue
				}
				record := objectRecord(dataTypeJSONObject, fields, StrategyDirect, false)
				record.Set("from_array", true)
				records = append(records, record)
			}
			continue
		}
		text := content[c.start:c.end]
		if fields, err := decodeObject(text); err == nil {
			records = append(records, objectRecord(dataTypeJSONObject, fields, StrategyDirect, false))
			continue
		}
		records = append(records, p.repairedRecord(text))
	}
	return records, nil
}

// parseMalformedJSON always routes candidates through the repair cascade.
// Objects listed inside a top level array are tagged from_array, as in
// inline sections; a malformed array is never decoded as a whole.
func (p *Parser) parseMalformedJSON(content string) ([]domain.Record, error) {
	objects := balancedSpans(content, '{', '}')
	var arrays []span
	for _, s := range balancedSpans(content, '[', ']') {
		if !within(s, objects) {
			arrays = append(arrays, s)
		}
	}

	records := make([]domain.Record, 0, len(objects))
	for _, s := range objects {
		record := p.repairedRecord(content[s.start:s.end])
		if within(s, arrays) {
			record.Set("from_array", true)
		}
		records = append(records, record)
	}
	return records, nil
}

func (p *Parser) repairedRecord(candidate string) domain.Record {
	repaired := p.repairer.Repair(candidate)
	if repaired.Strategy != StrategyMinimal {
		p.logger.Debug("json candidate repaired",
			zap.String("strategy", repaired.Strategy),
			zap.Int("candidate_bytes", len(candidate)),
		)
	}
	return objectRecord(dataTypeJSONObject, repaired.Fields, repaired.Strategy, repaired.WasMalformed)
}

// parseJSONLD decodes ld+json script payloads. A payload that does not decode
// becomes a malformed_json_ld record carrying the raw text and the error.
func parseJSONLD(content string) ([]domain.Record, error) {
	return ldScriptRecords(content, "json_ld", true), nil
}

func ldScriptRecords(content, dataType string, keepFailures bool) []domain.Record {
	var records []domain.Record
	for _, match := range ldScriptPattern.FindAllStringSubmatch(content, -1) {
		payload := strings.TrimSpace(match[1])
		fields, err := decodeObject(payload)
		if err != nil {
			if keepFailures {
				record := domain.NewRecord("malformed_json_ld")
				record.Set("raw_content", payload)
				record.Set("error", err.Error())
				records = append(records, record)
			}
			continue
		}
		records = append(records, objectRecord(dataType, fields, StrategyDirect, false))
	}
	return records
}

// parseVariant extracts the same change expressed as JSON objects, fenced
// frontmatter blocks and CSV lines.
func parseVariant(content string) ([]domain.Record, error) {
	var records []domain.Record
	var consumed []span

	for _, s := range balancedSpans(content, '{', '}') {
		consumed = append(consumed, s)
		fields, err := decodeObject(content[s.start:s.end])
		if err != nil {
			continue
		}
		record := objectRecord("schema_variant", fields, StrategyDirect, false)
		record.Set("version", "v2")
		records = append(records, record)
	}

	for _, loc := range frontmatterPattern.FindAllStringSubmatchIndex(content, -1) {
		consumed = append(consumed, span{start: loc[0], end: loc[1]})
		fields, err := decodeYAMLBlock(content[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		records = append(records, objectRecord("yaml_frontmatter", fields, "", false))
	}

	rows, err := tableRecords(csvLines(maskSpans(content, consumed), true), "variant_csv_row")
	if err != nil {
		return records, nil
	}
	return append(records, rows...), nil
}
