package extract

import (
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/rpattn/driftetl/internal/domain"
)

// csvLines keeps the comma-bearing lines that are not comments.
func csvLines(content string, skipFences bool) []string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.Contains(trimmed, ",") || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if skipFences && strings.HasPrefix(trimmed, "---") {
			continue
		}
		lines = append(lines, trimmed)
	}
	return lines
}

func splitCSVLine(line string) ([]string, error) {
	reader := csv.NewReader(strings.NewReader(line))
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	fields, err := reader.Read()
	if err != nil {
		return nil, err
	}
	for idx := range fields {
		fields[idx] = strings.TrimSpace(fields[idx])
	}
	return fields, nil
}

// tableRecords treats the first line as the header and emits one record per
// following line with the same number of cells. Other lines are skipped.
func tableRecords(lines []string, dataType string) ([]domain.Record, error) {
	if len(lines) < 2 {
		return nil, nil
	}
	header, err := splitCSVLine(lines[0])
	if err != nil {
		return nil, fmt.Errorf("%w: csv header: %v", domain.ErrParseDegraded, err)
	}
	header = headerNames(header)

	records := make([]domain.Record, 0, len(lines)-1)
	for _, line := range lines[1:] {
		cells, err := splitCSVLine(line)
		if err != nil || len(cells) != len(header) {
			continue
		}
		records = append(records, rowRecord(dataType, header, cells))
	}
	return records, nil
}

func rowRecord(dataType string, header, cells []string) domain.Record {
	record := domain.NewRecord(dataType)
	for idx, cell := range cells {
		record.Set(header[idx], cell)
	}
	return record
}

// headerNames fills blank header cells and disambiguates duplicates. A
// generated suffix never reuses a name another cell already claimed, so
// "a,a,a_2" becomes a, a_3, a_2.
func headerNames(raw []string) []string {
	headers := make([]string, len(raw))
	literal := make(map[string]bool, len(raw))
	for _, value := range raw {
		literal[strings.TrimSpace(value)] = true
	}
	used := make(map[string]bool, len(raw))
	for idx, value := range raw {
		name := strings.TrimSpace(value)
		taken := func(candidate string) bool { return used[candidate] || literal[candidate] }
		switch {
		case name == "":
			name = uniqueName(fmt.Sprintf("column_%d", idx+1), taken)
		case used[name]:
			name = uniqueName(name, taken)
		}
		used[name] = true
		headers[idx] = name
	}
	return headers
}

func parseCSVSection(content string) ([]domain.Record, error) {
	return tableRecords(csvLines(content, true), "csv_row")
}
