// Package export serialises processed records and stores the artifacts.
package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/driftetl/internal/domain"
)

// Format names an output serialisation.
type Format string

const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatXLSX    Format = "xlsx"
	FormatParquet Format = "parquet"
)

// ErrUnsupportedFormat is returned for unknown target formats.
var ErrUnsupportedFormat = errors.New("unsupported target format")

// ParseFormat resolves a format name, defaulting to JSON when empty.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	case FormatParquet:
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
	}
}

// Extension returns the file extension for the format.
func (f Format) Extension() string {
	return "." + string(f)
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "application/json"
	}
}

// Write serialises records in the requested format. fields is the inferred
// schema and only drives Parquet column types.
func Write(w io.Writer, format Format, records []domain.Record, fields []domain.FieldSchema) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, records)
	case FormatCSV:
		return writeCSV(w, records)
	case FormatXLSX:
		return writeXLSX(w, records)
	case FormatParquet:
		return writeParquet(w, records, fields)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func writeJSON(w io.Writer, records []domain.Record) error {
	if records == nil {
		records = []domain.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func writeCSV(w io.Writer, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	headers, rows := table(records)

	buffered := bufio.NewWriterSize(w, 1<<16)
	csvWriter := csv.NewWriter(buffered)
	if err := csvWriter.Write(headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	line := make([]string, len(headers))
	for _, row := range rows {
		for idx, header := range headers {
			value, ok := row.Get(header)
			if !ok {
				line[idx] = ""
				continue
			}
			line[idx] = formatValue(value)
		}
		if err := csvWriter.Write(line); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return buffered.Flush()
}

func writeXLSX(w io.Writer, records []domain.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "records"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}
	stream, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("open sheet stream: %w", err)
	}

	headers, rows := table(records)
	if len(headers) > 0 {
		if err := stream.SetRow("A1", stringCells(headers)); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	for rowIdx, row := range rows {
		cells := make([]any, len(headers))
		for idx, header := range headers {
			value, ok := row.Get(header)
			if !ok || value == nil {
				continue
			}
			cells[idx] = cellValue(value)
		}
		cell, err := excelize.CoordinatesToCellName(1, rowIdx+2)
		if err != nil {
			return err
		}
		if err := stream.SetRow(cell, cells); err != nil {
			return fmt.Errorf("write row %d: %w", rowIdx+1, err)
		}
	}
	if err := stream.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func stringCells(values []string) []any {
	cells := make([]any, len(values))
	for idx, value := range values {
		cells[idx] = value
	}
	return cells
}

func cellValue(value any) any {
	switch value.(type) {
	case string, bool, int64, float64:
		return value
	default:
		return formatValue(value)
	}
}

// table flattens every record and returns the union of columns in first-seen
// order alongside the flattened rows.
func table(records []domain.Record) ([]string, []domain.Fields) {
	seen := make(map[string]struct{})
	headers := make([]string, 0)
	rows := make([]domain.Fields, 0, len(records))
	for _, record := range records {
		row := Flatten(record.Ordered())
		row.Range(func(key string, _ any) bool {
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				headers = append(headers, key)
			}
			return true
		})
		rows = append(rows, row)
	}
	return headers, rows
}

type flattenItem struct {
	name  string
	value any
}

// Flatten lifts nested objects into parent_child columns, children in key
// order. Lists are kept as JSON text so they fit a single cell.
func Flatten(fields domain.Fields) domain.Fields {
	out := domain.NewFields(fields.Len())
	fields.Range(func(key string, value any) bool {
		stack := []flattenItem{{name: key, value: value}}
		for len(stack) > 0 {
			item := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			nested, ok := item.value.(map[string]any)
			if !ok {
				out.Set(item.name, flatValue(item.value))
				continue
			}
			keys := make([]string, 0, len(nested))
			for childKey := range nested {
				keys = append(keys, childKey)
			}
			sort.Strings(keys)
			for idx := len(keys) - 1; idx >= 0; idx-- {
				stack = append(stack, flattenItem{
					name:  item.name + "_" + keys[idx],
					value: nested[keys[idx]],
				})
			}
		}
		return true
	})
	return out
}

func flatValue(value any) any {
	switch typed := value.(type) {
	case []any:
		return listJSON(typed)
	case domain.Repeated:
		return listJSON(typed)
	default:
		return value
	}
}

func listJSON(items []any) string {
	if len(items) == 0 {
		return "[]"
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return fmt.Sprint(items)
	}
	return string(encoded)
}

func formatValue(value any) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	case json.Number:
		return v.String()
	case float32, float64, int, int32, int64, uint, uint32, uint64:
		return fmt.Sprintf("%v", v)
	case []byte:
		return string(v)
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	default:
		return fmt.Sprintf("%v", v)
	}
}
