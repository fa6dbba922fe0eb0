package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rpattn/driftetl/internal/domain"
)

// fallbackContentChars is how much raw text a degraded record keeps.
const fallbackContentChars = 500

var (
	pricePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\$?\d+\.?\d*\s*USD`),
		regexp.MustCompile(`\$\d+\.?\d*`),
		regexp.MustCompile(`\d+[.,]\d+`),
		regexp.MustCompile(`(?i)price[:\s]+\$?\d+\.?\d*`),
	}

	datePatternSources = []string{
		`\d{4}-\d{2}-\d{2}`,
		`\d{2}/\d{2}/\d{4}`,
		`\d{2}-\d{2}-\d{4}`,
		`[A-Za-z]+\s+\d{1,2},\s+\d{4}`,
		`\d{4}/\d{2}/\d{2}`,
	}
	datePatterns         = compileAll(datePatternSources, "", "")
	anchoredDatePatterns = compileAll(datePatternSources, `^(?:`, `)$`)

	quotedStringPattern = regexp.MustCompile(`"([^"\n]*)"`)
	phonePattern        = regexp.MustCompile(`\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)
	promoPattern        = regexp.MustCompile(`(?i)promo code:\s*([A-Z0-9]+)`)
	jsObjectPattern     = regexp.MustCompile(`var\s+\w+\s*=\s*(\{[^}]+\})`)
)

func compileAll(sources []string, prefix, suffix string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(sources))
	for idx, source := range sources {
		out[idx] = regexp.MustCompile(prefix + source + suffix)
	}
	return out
}

// IsDate reports whether the whole value matches one of the date shapes
// recognised in free text.
func IsDate(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	for _, pattern := range anchoredDatePatterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}

func findAll(patterns []*regexp.Regexp, content string) []any {
	var out []any
	for _, pattern := range patterns {
		for _, match := range pattern.FindAllString(content, -1) {
			out = append(out, match)
		}
	}
	return out
}

func submatches(pattern *regexp.Regexp, content string, group int) []any {
	var out []any
	for _, match := range pattern.FindAllStringSubmatch(content, -1) {
		out = append(out, match[group])
	}
	return out
}

func matches(pattern *regexp.Regexp, content string) []any {
	var out []any
	for _, match := range pattern.FindAllString(content, -1) {
		out = append(out, match)
	}
	return out
}

func setIfAny(record *domain.Record, key string, values []any) {
	if len(values) > 0 {
		record.Set(key, values)
	}
}

func setTextStats(record *domain.Record, content string) {
	record.Set("word_count", int64(len(strings.Fields(content))))
	record.Set("char_count", int64(utf8.RuneCountInString(content)))
	record.Set("line_count", int64(strings.Count(content, "\n")+1))
}

// parseRawText summarises a prose paragraph.
func parseRawText(content string) ([]domain.Record, error) {
	record := domain.NewRecord("raw_text_analysis")
	setIfAny(&record, "extracted_prices", findAll(pricePatterns, content))
	setIfAny(&record, "extracted_dates", findAll(datePatterns, content))
	setIfAny(&record, "quoted_strings", submatches(quotedStringPattern, content, 1))
	setIfAny(&record, "phone_numbers", matches(phonePattern, content))
	setIfAny(&record, "promo_codes", submatches(promoPattern, content, 1))
	setTextStats(&record, content)
	return []domain.Record{record}, nil
}

// parseFreeText summarises free text and pulls out embedded script objects,
// phone numbers and promo codes as their own records.
func (p *Parser) parseFreeText(content string) ([]domain.Record, error) {
	summary := domain.NewRecord("free_text_analysis")
	setIfAny(&summary, "extracted_prices", findAll(pricePatterns, content))
	setIfAny(&summary, "extracted_dates", findAll(datePatterns, content))
	setTextStats(&summary, content)
	records := []domain.Record{summary}

	for _, match := range jsObjectPattern.FindAllStringSubmatch(content, -1) {
		literal := match[1]
		repaired := p.repairer.Repair(literal)
		if repaired.Strategy == StrategyLastResort || repaired.Strategy == StrategyManual {
			record := domain.NewRecord("malformed_js_object")
			record.Set("raw_content", literal)
			records = append(records, record)
			continue
		}
		record := domain.Record{DataType: "javascript_object", Fields: repaired.Fields}
		record.Provenance.Strategy = repaired.Strategy
		record.Provenance.WasMalformed = repaired.WasMalformed
		records = append(records, record)
	}

	if phones := matches(phonePattern, content); len(phones) > 0 {
		record := domain.NewRecord("contact_info")
		record.Set("phone_numbers", phones)
		records = append(records, record)
	}
	if promos := submatches(promoPattern, content, 1); len(promos) > 0 {
		record := domain.NewRecord("promotional_info")
		record.Set("promo_codes", promos)
		records = append(records, record)
	}
	return records, nil
}

// parseGeneric handles tags without a dedicated parser.
func parseGeneric(tag domain.SectionTag, content string) ([]domain.Record, error) {
	record := domain.NewRecord("generic_" + string(tag))
	record.Set("content", strings.TrimSpace(content))
	record.Set("word_count", int64(len(strings.Fields(content))))
	record.Set("char_count", int64(utf8.RuneCountInString(content)))
	return []domain.Record{record}, nil
}

// truncate returns at most n characters of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
