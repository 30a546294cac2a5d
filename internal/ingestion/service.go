package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/arudel/reconcile/internal/catalog"
	"github.com/arudel/reconcile/internal/domain"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// idColumn marks a row as an update of an existing entity.
const idColumn = "id"

// Service bulk-imports global catalog entities from tabular uploads. Rows
// carrying an id column update the referenced entity through the catalog
// service, so each update runs the usual change detection against project
// overrides. Rows without an id create new entities.
type Service struct {
	catalog  *catalog.Service
	registry *domain.EntityTypeRegistry
}

// NewService creates a new catalog import service.
func NewService(catalogService *catalog.Service, registry *domain.EntityTypeRegistry) *Service {
	return &Service{
		catalog:  catalogService,
		registry: registry,
	}
}

// Request describes the import input.
type Request struct {
	EntityType string
	FileName   string
	Data       io.Reader
}

// RowError reports a single failed row without aborting the import.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Summary returns import level metrics.
type Summary struct {
	TotalRows      int        `json:"totalRows"`
	Created        int        `json:"created"`
	Updated        int        `json:"updated"`
	InvalidRows    int        `json:"invalidRows"`
	SkippedColumns []string   `json:"skippedColumns,omitempty"`
	Errors         []RowError `json:"errors,omitempty"`
}

type tableData struct {
	headers []string
	rows    [][]string
}

// Import reads the uploaded file and upserts one catalog entity per row.
func (s *Service) Import(ctx context.Context, req Request) (Summary, error) {
	summary := Summary{}

	descriptor, err := s.registry.Get(req.EntityType)
	if err != nil {
		return summary, err
	}
	if req.Data == nil {
		return summary, errors.New("data reader is required")
	}

	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return summary, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return summary, errors.New("file is empty")
	}

	table, err := parseTable(req.FileName, payload)
	if err != nil {
		return summary, err
	}
	if len(table.headers) == 0 {
		return summary, errors.New("no header row detected")
	}

	declared := make(map[string]bool, len(descriptor.DeclaredFields))
	for _, field := range descriptor.DeclaredFields {
		declared[field] = true
	}

	idCol := -1
	fieldCols := make(map[int]string)
	for idx, header := range table.headers {
		switch {
		case header == idColumn:
			idCol = idx
		case declared[header]:
			fieldCols[idx] = header
		default:
			summary.SkippedColumns = append(summary.SkippedColumns, header)
		}
	}
	if len(fieldCols) == 0 {
		return summary, fmt.Errorf("no column matches a declared field of entity type %q", req.EntityType)
	}

	summary.TotalRows = len(table.rows)

	for rowIdx, row := range table.rows {
		rowNumber := rowIdx + 2 // account for the header row, 1-based

		fields := domain.FieldMap{}
		for colIdx, field := range fieldCols {
			if colIdx >= len(row) {
				continue
			}
			raw := strings.TrimSpace(row[colIdx])
			if raw == "" {
				continue
			}
			fields[field] = coerceCell(raw)
		}

		if idCol >= 0 && idCol < len(row) && strings.TrimSpace(row[idCol]) != "" {
			id, parseErr := uuid.Parse(strings.TrimSpace(row[idCol]))
			if parseErr != nil {
				summary.InvalidRows++
				summary.Errors = append(summary.Errors, RowError{Row: rowNumber, Message: fmt.Sprintf("invalid id: %v", parseErr)})
				continue
			}
			if _, err := s.catalog.UpdateEntity(ctx, req.EntityType, id, fields); err != nil {
				// A failed change detection still means the row was written.
				var reconcileErr *catalog.ReconciliationFailedError
				if errors.As(err, &reconcileErr) {
					summary.Updated++
					summary.Errors = append(summary.Errors, RowError{Row: rowNumber, Message: err.Error()})
					continue
				}
				summary.InvalidRows++
				summary.Errors = append(summary.Errors, RowError{Row: rowNumber, Message: err.Error()})
				continue
			}
			summary.Updated++
			continue
		}

		if _, err := s.catalog.CreateEntity(ctx, req.EntityType, fields); err != nil {
			summary.InvalidRows++
			summary.Errors = append(summary.Errors, RowError{Row: rowNumber, Message: err.Error()})
			continue
		}
		summary.Created++
	}

	return summary, nil
}

// coerceCell maps a raw cell onto the JSON value space: numbers and booleans
// when the text parses as one, strings otherwise.
func coerceCell(raw string) any {
	if value, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return value
	}
	if value, err := strconv.ParseFloat(raw, 64); err == nil {
		return value
	}
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}
	return raw
}

func parseTable(fileName string, payload []byte) (tableData, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload)
	case ".xlsx":
		return parseExcel(payload)
	default:
		return tableData{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte) (tableData, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read csv: %w", err)
	}
	return normalizeTable(records)
}

func parseExcel(payload []byte) (tableData, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return normalizeTable(rows)
}

// normalizeTable takes the first non-empty row as header, sanitizes the
// header names and pads data rows to header width.
func normalizeTable(records [][]string) (tableData, error) {
	if len(records) == 0 {
		return tableData{}, errors.New("no rows found in file")
	}

	var headerRow []string
	var dataRows [][]string
	for _, row := range records {
		if len(cleanRow(row)) == 0 {
			continue
		}
		if headerRow == nil {
			headerRow = row
			continue
		}
		dataRows = append(dataRows, row)
	}
	if headerRow == nil {
		return tableData{}, errors.New("header row could not be detected")
	}

	headers := sanitizeHeaders(headerRow)
	for i := range dataRows {
		dataRows[i] = padRow(dataRows[i], len(headers))
	}

	return tableData{
		headers: headers,
		rows:    dataRows,
	}, nil
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.Trim(name, "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}
