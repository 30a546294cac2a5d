package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/arudel/reconcile/internal/domain"
	"github.com/arudel/reconcile/internal/repository"
)

// Format selects the report file format.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a wire-level format string; empty defaults to xlsx.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(FormatXLSX):
		return FormatXLSX, nil
	case string(FormatCSV):
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

var reportHeader = []string{
	"Notification ID", "Status", "Entity Type", "Global Entity ID",
	"Field", "Old Value", "New Value", "Created At", "Resolved At",
}

// Service writes notification reports for operators reviewing a project's
// reconciliation activity. One row per field change.
type Service struct {
	notifications repository.NotificationRepository

	exportDir string
	now       func() time.Time
}

// Option customizes the export service.
type Option func(*Service)

// WithExportDirectory sets the target directory for file exports.
func WithExportDirectory(dir string) Option {
	return func(s *Service) {
		if strings.TrimSpace(dir) != "" {
			s.exportDir = filepath.Clean(dir)
		}
	}
}

// WithClock overrides the time source used for file naming.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a notification report writer.
func NewService(notifications repository.NotificationRepository, opts ...Option) *Service {
	service := &Service{
		notifications: notifications,
		exportDir:     "exports",
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// WriteReport streams a project's notification report to w and returns the
// number of data rows written.
func (s *Service) WriteReport(ctx context.Context, projectID uuid.UUID, format Format, w io.Writer) (int, error) {
	notifications, err := s.notifications.ListByProject(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("failed to load notifications: %w", err)
	}

	rows := buildRows(notifications)
	switch format {
	case FormatCSV:
		if err := writeCSV(w, rows); err != nil {
			return 0, err
		}
	case FormatXLSX:
		if err := writeXLSX(w, rows); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("unsupported export format %q", format)
	}
	return len(rows), nil
}

// ExportToFile writes a project's notification report into the export
// directory and returns the file path and row count.
func (s *Service) ExportToFile(ctx context.Context, projectID uuid.UUID, format Format) (string, int, error) {
	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create export directory: %w", err)
	}

	name := fmt.Sprintf("notifications_%s_%s.%s", projectID, s.now().UTC().Format("20060102T150405Z"), format)
	path := filepath.Join(s.exportDir, name)

	file, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create export file: %w", err)
	}
	defer file.Close()

	rows, err := s.WriteReport(ctx, projectID, format, file)
	if err != nil {
		os.Remove(path)
		return "", 0, err
	}
	return path, rows, nil
}

func buildRows(notifications []domain.DiffNotification) [][]string {
	rows := [][]string{}
	for _, notification := range notifications {
		resolvedAt := ""
		if notification.ResolvedAt != nil {
			resolvedAt = notification.ResolvedAt.UTC().Format(time.RFC3339)
		}
		for _, change := range notification.Changes {
			rows = append(rows, []string{
				notification.ID.String(),
				string(notification.Status),
				notification.EntityType,
				notification.GlobalEntityID.String(),
				change.Field,
				formatValue(change.OldValue),
				formatValue(change.NewValue),
				notification.CreatedAt.UTC().Format(time.RFC3339),
				resolvedAt,
			})
		}
	}
	return rows
}

func formatValue(value any) string {
	if value == nil {
		return "null"
	}
	if text, ok := value.(string); ok {
		return text
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(encoded)
}

func writeCSV(w io.Writer, rows [][]string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(reportHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeXLSX(w io.Writer, rows [][]string) error {
	file := excelize.NewFile()
	defer file.Close()

	const sheet = "Notifications"
	if err := file.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]any, len(reportHeader))
	for i, column := range reportHeader {
		header[i] = column
	}
	if err := file.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header row: %w", err)
	}

	for i, row := range rows {
		cells := make([]any, len(row))
		for j, value := range row {
			cells[j] = value
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to compute cell name: %w", err)
		}
		if err := file.SetSheetRow(sheet, cell, &cells); err != nil {
			return fmt.Errorf("failed to write data row: %w", err)
		}
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
