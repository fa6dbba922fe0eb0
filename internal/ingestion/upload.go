package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rpattn/driftetl/internal/domain"
	"github.com/rpattn/driftetl/internal/inference"
	"github.com/rpattn/driftetl/internal/transformations"

	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFile is returned when an uploaded file cannot be decoded.
	ErrUnsupportedFile = errors.New("unsupported file format")

	// ErrUploadTooLarge is returned when an upload exceeds the configured limit.
	ErrUploadTooLarge = errors.New("upload exceeds size limit")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

	timeLayouts = []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006/01/02",
		"01/02/2006",
	}
)

const (
	tableRowType    = "table_row"
	objectRowType   = "record"
	maxUploadRecord = 1 << 20
)

// UploadRequest describes an uploaded file.
type UploadRequest struct {
	FileName       string
	SourceID       string
	TargetFormat   string
	Rules          domain.Rules
	HeaderRowIndex *int
	Data           io.Reader
}

// UploadResult adds decoding details to the job result.
type UploadResult struct {
	ProcessResult
	Decoder          string   `json:"decoder"`
	SectionsFound    int      `json:"sections_found,omitempty"`
	DegradedSections []string `json:"degraded_sections,omitempty"`
}

type decoded struct {
	decoder  string
	records  []domain.Record
	sections int
	degraded []degradedSection
}

type degradedSection struct {
	section domain.SectionTag
	err     error
}

type tableData struct {
	headers []string
	rows    [][]string
}

// Upload decodes a file by its extension and runs the records through
// Process. Unknown extensions with UTF-8 content go through the extraction
// cascade.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	if req.Data == nil {
		return UploadResult{}, fmt.Errorf("%w: data reader is required", domain.ErrInvalidSourceBatch)
	}
	if strings.TrimSpace(req.SourceID) == "" {
		return UploadResult{}, fmt.Errorf("%w: source id is required", domain.ErrInvalidSourceBatch)
	}

	payload, err := io.ReadAll(io.LimitReader(req.Data, s.maxUploadBytes+1))
	if err != nil {
		return UploadResult{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(payload)) > s.maxUploadBytes {
		return UploadResult{}, fmt.Errorf("%w: %d bytes", ErrUploadTooLarge, s.maxUploadBytes)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return UploadResult{}, fmt.Errorf("%w: file is empty", domain.ErrInvalidSourceBatch)
	}

	out, err := s.decode(req.FileName, payload, req.HeaderRowIndex)
	if err != nil {
		return UploadResult{}, err
	}

	result := UploadResult{Decoder: out.decoder, SectionsFound: out.sections}
	for _, degraded := range out.degraded {
		result.DegradedSections = append(result.DegradedSections, string(degraded.section))
	}

	processed, err := s.Process(ctx, ProcessRequest{
		Records:      out.records,
		SourceID:     req.SourceID,
		TargetFormat: req.TargetFormat,
		Rules:        req.Rules,
		FileName:     req.FileName,
	})
	result.ProcessResult = processed

	var jobID *uuid.UUID
	if processed.Job.ID != uuid.Nil {
		id := processed.Job.ID
		jobID = &id
	}
	for _, degraded := range out.degraded {
		s.logIngestionError(ctx, domain.IngestionLogEntry{
			JobID:        jobID,
			SourceID:     strings.TrimSpace(req.SourceID),
			FileName:     req.FileName,
			Section:      degraded.section,
			ErrorMessage: degraded.err.Error(),
		})
	}
	return result, err
}

func (s *Service) decode(fileName string, payload []byte, headerRowIndex *int) (decoded, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".json":
		records, err := decodeJSON(payload)
		return decoded{decoder: "json", records: records}, err
	case ".yaml", ".yml":
		records, err := decodeYAML(payload)
		return decoded{decoder: "yaml", records: records}, err
	case ".csv":
		table, err := parseCSV(payload, headerRowIndex)
		if err != nil {
			return decoded{}, err
		}
		return decoded{decoder: "csv", records: tableRecords(table)}, nil
	case ".xlsx":
		table, err := parseExcel(payload, headerRowIndex)
		if err != nil {
			return decoded{}, err
		}
		return decoded{decoder: "xlsx", records: tableRecords(table)}, nil
	}

	if !utf8.Valid(payload) {
		return decoded{}, fmt.Errorf("%w: %q is not text", ErrUnsupportedFile, ext)
	}
	parsed := s.parser.ParseDocument(string(payload), fileName)
	out := decoded{
		decoder:  "extract",
		records:  parsed.Records,
		sections: len(parsed.Sections),
	}
	for _, degradation := range parsed.Degraded {
		out.degraded = append(out.degraded, degradedSection{section: degradation.Section, err: degradation.Err})
	}
	return out, nil
}

func decodeJSON(payload []byte) ([]domain.Record, error) {
	payload = bytes.TrimPrefix(payload, byteOrderMark)
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()

	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", domain.ErrInvalidSourceBatch, err)
	}
	return objectRecords(raw)
}

func decodeYAML(payload []byte) ([]domain.Record, error) {
	var raw any
	if err := yaml.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: invalid yaml: %v", domain.ErrInvalidSourceBatch, err)
	}
	return objectRecords(raw)
}

// objectRecords accepts a single object or a list of objects.
func objectRecords(raw any) ([]domain.Record, error) {
	switch typed := domain.NormalizeValue(raw).(type) {
	case map[string]any:
		return []domain.Record{domain.NewRecordFromMap(typed, objectRowType)}, nil
	case []any:
		if len(typed) > maxUploadRecord {
			return nil, fmt.Errorf("%w: %d records exceeds limit", domain.ErrInvalidSourceBatch, len(typed))
		}
		records := make([]domain.Record, 0, len(typed))
		for idx, item := range typed {
			row, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: item %d is not an object", domain.ErrInvalidSourceBatch, idx)
			}
			records = append(records, domain.NewRecordFromMap(row, objectRowType))
		}
		return records, nil
	default:
		return nil, fmt.Errorf("%w: expected an object or a list of objects", domain.ErrInvalidSourceBatch)
	}
}

func parseCSV(payload []byte, headerRowIndex *int) (tableData, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, fmt.Errorf("%w: failed to read csv: %v", domain.ErrInvalidSourceBatch, err)
	}
	return normalizeTable(records, headerRowIndex)
}

func parseExcel(payload []byte, headerRowIndex *int) (tableData, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, fmt.Errorf("%w: failed to open xlsx: %v", domain.ErrInvalidSourceBatch, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, fmt.Errorf("%w: excel file has no sheets", domain.ErrInvalidSourceBatch)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return normalizeTable(rows, headerRowIndex)
}

// normalizeTable picks the header row (the first non-blank row unless an
// index is given) and fits every following non-blank row to the header width.
func normalizeTable(records [][]string, headerRowIndex *int) (tableData, error) {
	if len(records) == 0 {
		return tableData{}, fmt.Errorf("%w: no rows found in file", domain.ErrInvalidSourceBatch)
	}

	start := 0
	if headerRowIndex != nil {
		start = *headerRowIndex
		switch {
		case start < 0 || start >= len(records):
			return tableData{}, fmt.Errorf("%w: header row index %d out of range", domain.ErrInvalidSourceBatch, start)
		case blankRow(records[start]):
			return tableData{}, fmt.Errorf("%w: selected header row %d is empty", domain.ErrInvalidSourceBatch, start+1)
		}
	}

	table := tableData{}
	for _, row := range records[start:] {
		if blankRow(row) {
			continue
		}
		if table.headers == nil {
			table.headers = sanitizeHeaders(row)
			continue
		}
		table.rows = append(table.rows, fitRow(row, len(table.headers)))
	}
	if table.headers == nil {
		return tableData{}, fmt.Errorf("%w: header row could not be detected", domain.ErrInvalidSourceBatch)
	}
	return table, nil
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// sanitizeHeaders turns header cells into record keys with the same rules
// as record cleaning. Dots separate words; blanks become column_<n> and
// repeats get the first numeric suffix no other header already uses.
func sanitizeHeaders(raw []string) []string {
	cleaned := make([]string, len(raw))
	literal := make(map[string]bool, len(raw))
	for idx, cell := range raw {
		name := strings.Trim(transformations.CleanKey(strings.ReplaceAll(cell, ".", " ")), "_")
		if name == "" {
			name = "column_" + strconv.Itoa(idx+1)
		}
		cleaned[idx] = name
		literal[name] = true
	}

	headers := make([]string, len(raw))
	used := make(map[string]bool, len(raw))
	for idx, name := range cleaned {
		if used[name] {
			base := name
			for n := 2; used[name] || literal[name]; n++ {
				name = base + "_" + strconv.Itoa(n)
			}
		}
		used[name] = true
		headers[idx] = name
	}
	return headers
}

// fitRow pads short rows with blanks and cuts long ones.
func fitRow(row []string, width int) []string {
	if len(row) >= width {
		return row[:width]
	}
	fitted := make([]string, width)
	copy(fitted, row)
	return fitted
}

// tableRecords types every column by profiling its cells, then builds one
// record per row in header order. Blank cells become null.
func tableRecords(table tableData) []domain.Record {
	types := make([]domain.FieldType, len(table.headers))
	for idx := range table.headers {
		types[idx] = profileColumn(idx, table.rows)
	}

	records := make([]domain.Record, 0, len(table.rows))
	for _, row := range table.rows {
		record := domain.NewRecord(tableRowType)
		for idx, header := range table.headers {
			raw := strings.TrimSpace(row[idx])
			if header == domain.DataTypeKey {
				if raw != "" {
					record.DataType = raw
				}
				continue
			}
			if raw == "" {
				record.Set(header, nil)
				continue
			}
			record.Set(header, coerceValue(types[idx], raw))
		}
		records = append(records, record)
	}
	return records
}

// columnProbes are tried narrowest first; integers come before booleans so
// 0/1 columns stay numeric.
var columnProbes = []struct {
	fieldType domain.FieldType
	matches   func(string) bool
}{
	{domain.FieldTypeInteger, looksLikeInt},
	{domain.FieldTypeFloat, looksLikeFloat},
	{domain.FieldTypeBoolean, looksLikeBool},
	{domain.FieldTypeDate, looksLikeTimestamp},
}

// profileColumn returns the first probe every non-blank cell satisfies.
func profileColumn(col int, rows [][]string) domain.FieldType {
	remaining := make([]bool, len(columnProbes))
	for idx := range remaining {
		remaining[idx] = true
	}

	seen := false
	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		value := strings.TrimSpace(row[col])
		if value == "" {
			continue
		}
		seen = true
		for idx, probe := range columnProbes {
			if remaining[idx] && !probe.matches(value) {
				remaining[idx] = false
			}
		}
	}

	if !seen {
		return domain.FieldTypeNull
	}
	for idx, probe := range columnProbes {
		if remaining[idx] {
			return probe.fieldType
		}
	}
	return domain.FieldTypeString
}

func looksLikeBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "false", "yes", "no":
		return true
	}
	return false
}

func looksLikeInt(value string) bool {
	_, err := strconv.ParseInt(value, 10, 64)
	return err == nil
}

func looksLikeFloat(value string) bool {
	return inference.IsFloatLiteral(value)
}

func looksLikeTimestamp(value string) bool {
	_, err := parseTimestamp(value)
	return err == nil
}

// coerceValue converts a cell to its column type. Dates stay as text so
// inference sees the original layout.
func coerceValue(fieldType domain.FieldType, raw string) any {
	switch fieldType {
	case domain.FieldTypeInteger:
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i
		}
	case domain.FieldTypeFloat:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case domain.FieldTypeBoolean:
		switch strings.ToLower(raw) {
		case "true", "yes":
			return true
		case "false", "no":
			return false
		}
	}
	return raw
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}
