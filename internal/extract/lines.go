package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rpattn/driftetl/internal/domain"
)

func isCommentLine(trimmed string) bool {
	return strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "---")
}

// splitPair splits a line on its first colon.
func splitPair(line string) (string, string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || isCommentLine(trimmed) {
		return "", "", false
	}
	key, value, found := strings.Cut(trimmed, ":")
	if !found {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(value), true
}

// accumulate stores value under key, turning a repeated key into a list of
// every value seen for it.
func accumulate(record *domain.Record, key, value string) {
	existing, ok := record.Fields.Get(key)
	if !ok {
		record.Set(key, value)
		return
	}
	if list, isList := existing.(domain.Repeated); isList {
		record.Set(key, append(list, value))
		return
	}
	record.Set(key, domain.Repeated{existing, value})
}

// parseColonLines builds one record of key/value lines. Colon-less lines
// carrying semicolons become positional tags when withTags is set.
func parseColonLines(content, dataType string, withTags bool) ([]domain.Record, error) {
	record := domain.NewRecord(dataType)
	tagIndex := 0
	for _, line := range strings.Split(content, "\n") {
		if key, value, ok := splitPair(line); ok {
			accumulate(&record, key, value)
			continue
		}
		trimmed := strings.TrimSpace(line)
		if !withTags || trimmed == "" || isCommentLine(trimmed) || !strings.Contains(trimmed, ";") {
			continue
		}
		for _, part := range strings.Split(trimmed, ";") {
			record.Set(fmt.Sprintf("tag_%d", tagIndex), strings.TrimSpace(part))
			tagIndex++
		}
	}
	if record.Fields.Len() == 0 {
		return nil, nil
	}
	return []domain.Record{record}, nil
}

// parseAmbiguousTypes coerces each value and keeps the original text of any
// value it changed.
func parseAmbiguousTypes(content string) ([]domain.Record, error) {
	record := domain.NewRecord("ambiguous_types")
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := splitPair(line)
		if !ok {
			continue
		}
		value = strings.Trim(value, `"`)
		coerced, changed := coerceAmbiguous(value)
		record.Set(key, coerced)
		if changed {
			record.Set(key+"_original", value)
		}
	}
	if record.Fields.Len() == 0 {
		return nil, nil
	}
	return []domain.Record{record}, nil
}

// coerceAmbiguous applies boolean, null sentinel, integer then float
// coercion, falling back to the string itself.
func coerceAmbiguous(value string) (any, bool) {
	lower := strings.ToLower(value)
	switch {
	case lower == "true" || lower == "false":
		return lower == "true", true
	case value == "N/A":
		return nil, true
	case isDigits(value):
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed, true
		}
	}
	if strings.Contains(value, ".") {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed, true
		}
	}
	return value, false
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for idx := 0; idx < len(value); idx++ {
		if value[idx] < '0' || value[idx] > '9' {
			return false
		}
	}
	return true
}

// parseOCRFooter classifies footer lines by keyword. The common OCR
// misreading "l0cation" is accepted and flagged.
func parseOCRFooter(content string) ([]domain.Record, error) {
	record := domain.NewRecord("ocr_footer")
	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		switch {
		case line == "":
			continue
		case strings.Contains(lower, "page"):
			record.Set("page_info", line)
		case strings.Contains(lower, "document title"):
			record.Set("document_title", afterColon(line))
		case strings.Contains(lower, "l0cation"):
			record.Set("location", afterColon(line))
			record.Set("ocr_errors_detected", true)
		case strings.Contains(lower, "location"):
			record.Set("location", afterColon(line))
		case strings.Contains(lower, "total"):
			record.Set("total_info", line)
		}
	}
	if record.Fields.Len() == 0 {
		return nil, nil
	}
	return []domain.Record{record}, nil
}

func afterColon(line string) string {
	if _, value, found := strings.Cut(line, ":"); found {
		return strings.TrimSpace(value)
	}
	return line
}
