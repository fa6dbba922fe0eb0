package export

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	writerfile "github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/rpattn/driftetl/internal/domain"
)

type parquetColumn struct {
	name     string
	physical string
}

func writeParquet(w io.Writer, records []domain.Record, fields []domain.FieldSchema) error {
	headers, rows := table(records)
	if len(headers) == 0 {
		return nil
	}
	columns := parquetColumns(headers, fields)

	pfw := writerfile.NewWriterFile(w)
	pw, err := writer.NewJSONWriter(buildParquetSchema(columns), pfw, 4)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for idx, row := range rows {
		encoded, err := json.Marshal(projectParquetRow(row, columns))
		if err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("encode row %d: %w", idx, err)
		}
		if err := pw.Write(string(encoded)); err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("write row %d: %w", idx, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finish parquet file: %w", err)
	}
	return pfw.Close()
}

// parquetColumns types top-level columns from the inferred schema; flattened
// nested columns and everything else are stored as UTF8 text.
func parquetColumns(headers []string, fields []domain.FieldSchema) []parquetColumn {
	types := make(map[string]domain.FieldType, len(fields))
	for _, field := range fields {
		types[field.Name] = field.Type
	}
	columns := make([]parquetColumn, 0, len(headers))
	for _, header := range headers {
		columns = append(columns, parquetColumn{name: header, physical: parquetPhysicalType(types[header])})
	}
	return columns
}

func buildParquetSchema(columns []parquetColumn) string {
	fields := make([]map[string]string, 0, len(columns))
	for _, column := range columns {
		tag := fmt.Sprintf("name=%s, type=%s, repetitiontype=OPTIONAL", column.name, column.physical)
		if column.physical == "BYTE_ARRAY" {
			tag += ", convertedtype=UTF8"
		}
		fields = append(fields, map[string]string{"Tag": tag})
	}
	out := map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func parquetPhysicalType(fieldType domain.FieldType) string {
	switch fieldType {
	case domain.FieldTypeBoolean:
		return "BOOLEAN"
	case domain.FieldTypeInteger:
		return "INT64"
	case domain.FieldTypeFloat:
		return "DOUBLE"
	default:
		return "BYTE_ARRAY"
	}
}

// projectParquetRow coerces each value to its column type. Values that do
// not fit are written as null.
func projectParquetRow(row domain.Fields, columns []parquetColumn) map[string]any {
	out := make(map[string]any, len(columns))
	for _, column := range columns {
		value, ok := row.Get(column.name)
		if !ok || value == nil {
			out[column.name] = nil
			continue
		}
		out[column.name] = coerceParquetValue(value, column.physical)
	}
	return out
}

func coerceParquetValue(value any, physical string) any {
	switch physical {
	case "INT64":
		switch typed := value.(type) {
		case int64:
			return typed
		case float64:
			if typed == math.Trunc(typed) && !math.IsInf(typed, 0) {
				return int64(typed)
			}
		case string:
			if parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64); err == nil {
				return parsed
			}
		}
		return nil
	case "DOUBLE":
		switch typed := value.(type) {
		case int64:
			return float64(typed)
		case float64:
			if !math.IsInf(typed, 0) && !math.IsNaN(typed) {
				return typed
			}
		case string:
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64); err == nil && !math.IsInf(parsed, 0) && !math.IsNaN(parsed) {
				return parsed
			}
		}
		return nil
	case "BOOLEAN":
		if typed, ok := value.(bool); ok {
			return typed
		}
		return nil
	default:
		return formatValue(value)
	}
}
