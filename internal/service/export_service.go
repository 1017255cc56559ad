package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-gradebook/internal/gradebook"
	"github.com/noah-isme/sma-gradebook/internal/models"
	appErrors "github.com/noah-isme/sma-gradebook/pkg/errors"
	"github.com/noah-isme/sma-gradebook/pkg/export"
	"github.com/noah-isme/sma-gradebook/pkg/storage"
)

// ExportFormat enumerates rendered export types.
type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatXLSX ExportFormat = "xlsx"
	ExportFormatPDF  ExportFormat = "pdf"
)

// ContentType returns the MIME type served for the format.
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatCSV:
		return "text/csv; charset=utf-8"
	case ExportFormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ExportFormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

type gradebookSnapshotter interface {
	Snapshot(ctx context.Context, id string) (*models.GradebookState, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(title string, sets []export.Dataset) ([]byte, error)
}

type xlsxRenderer interface {
	Render(sets []export.Dataset) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       ExportFormat
	ExpiresAt    time.Time
}

// ExportService renders read-only views of a gradebook and stores them behind signed links.
type ExportService struct {
	gradebooks gradebookSnapshotter
	storage    fileStorage
	signer     *storage.SignedURLSigner
	csv        csvRenderer
	pdf        pdfRenderer
	xlsx       xlsxRenderer
	metrics    *MetricsService
	logger     *zap.Logger
	cfg        ExportConfig
	now        func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(gradebooks gradebookSnapshotter, store fileStorage, signer *storage.SignedURLSigner, metrics *MetricsService, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ExportService{
		gradebooks: gradebooks,
		storage:    store,
		signer:     signer,
		csv:        export.NewCSVExporter(),
		pdf:        export.NewPDFExporter(),
		xlsx:       export.NewXLSXExporter(),
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Generate renders the gradebook in format and returns a signed download link.
func (s *ExportService) Generate(ctx context.Context, gradebookID string, format ExportFormat) (*ExportResult, error) {
	result, err := s.generate(ctx, gradebookID, format)
	s.metrics.RecordExport(string(format), err)
	return result, err
}

func (s *ExportService) generate(ctx context.Context, gradebookID string, format ExportFormat) (*ExportResult, error) {
	st, err := s.gradebooks.Snapshot(ctx, gradebookID)
	if err != nil {
		return nil, err
	}
	if st.Settings.Mode == models.GradingModeQualitative {
		return nil, appErrors.ErrQualitativeExport
	}

	var payload []byte
	switch format {
	case ExportFormatCSV:
		payload, err = s.csv.Render(FlatDataset(st))
	case ExportFormatXLSX:
		payload, err = s.xlsx.Render(GradebookDatasets(st))
	case ExportFormatPDF:
		payload, err = s.pdf.Render(exportTitle(st), GradebookDatasets(st))
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported format %s", format))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	relPath, err := s.storage.Save(s.buildFilename(st, format), payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}
	token, expiresAt, err := s.signer.Generate(uuid.NewString(), relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export")
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	s.logger.Info("gradebook exported", zap.String("gradebook_id", st.ID), zap.String("format", string(format)), zap.Int("bytes", len(payload)))
	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/exports/%s", prefix, token),
		Format:       format,
		ExpiresAt:    expiresAt,
	}, nil
}

// Open validates a download token and opens the stored file.
func (s *ExportService) Open(token string) (*os.File, ExportFormat, error) {
	download, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "export link invalid or expired")
	}
	f, err := s.storage.Open(download.Path)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "export not found")
	}
	format := ExportFormat(strings.TrimPrefix(filepath.Ext(download.Path), "."))
	return f, format, nil
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	removed, err := s.storage.CleanupOlderThan(ttl)
	if len(removed) > 0 {
		s.logger.Info("expired exports removed", zap.Int("count", len(removed)))
	}
	return removed, err
}

func (s *ExportService) buildFilename(st *models.GradebookState, format ExportFormat) string {
	timestamp := s.now().UTC().Format("20060102_150405")
	name := st.Title
	if name == "" {
		name = st.ID
	}
	return fmt.Sprintf("%s_%s.%s", sanitizeFilename(name), timestamp, format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "gradebook"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func exportTitle(st *models.GradebookState) string {
	if st.Title != "" {
		return st.Title
	}
	return "Registro de calificaciones"
}

// GradebookDatasets builds one table per term with effective scores and the term average,
// followed by a summary table with term and final averages.
func GradebookDatasets(st *models.GradebookState) []export.Dataset {
	summary := gradebook.Summarize(st)
	byStudent := make(map[string]models.StudentAverages, len(summary.Students))
	for _, row := range summary.Students {
		byStudent[row.StudentID] = row
	}
	decimals := st.Settings.Decimals

	sets := make([]export.Dataset, 0, len(st.Terms)+1)
	for _, term := range st.Terms {
		cols := gradebook.TermColumns(st, term.ID)
		headers := make([]string, 0, len(cols)+2)
		headers = append(headers, "Estudiante")
		for _, col := range cols {
			headers = append(headers, col.Title)
		}
		headers = append(headers, "Promedio")

		rows := make([][]string, 0, len(st.Students))
		for _, student := range st.Students {
			row := make([]string, 0, len(headers))
			row = append(row, student.Name)
			for _, col := range cols {
				if v, ok := gradebook.Effective(st, student.ID, col); ok {
					row = append(row, formatScore(v, decimals))
				} else {
					row = append(row, "")
				}
			}
			row = append(row, formatScore(byStudent[student.ID].TermAverages[term.ID], decimals))
			rows = append(rows, row)
		}
		sets = append(sets, export.Dataset{Name: termLabel(term), Headers: headers, Rows: rows})
	}

	headers := []string{"Estudiante"}
	for _, term := range st.Terms {
		headers = append(headers, termLabel(term))
	}
	headers = append(headers, "Final")
	rows := make([][]string, 0, len(st.Students))
	for _, student := range st.Students {
		avg := byStudent[student.ID]
		row := []string{student.Name}
		for _, term := range st.Terms {
			row = append(row, formatScore(avg.TermAverages[term.ID], decimals))
		}
		row = append(row, formatScore(avg.Final, decimals))
		rows = append(rows, row)
	}
	return append(sets, export.Dataset{Name: "Resumen", Headers: headers, Rows: rows})
}

// FlatDataset builds a single table with every column of every term, the term averages and
// the final average.
func FlatDataset(st *models.GradebookState) export.Dataset {
	summary := gradebook.Summarize(st)
	byStudent := make(map[string]models.StudentAverages, len(summary.Students))
	for _, row := range summary.Students {
		byStudent[row.StudentID] = row
	}
	decimals := st.Settings.Decimals

	headers := []string{"Estudiante"}
	var cols []models.Column
	for _, term := range st.Terms {
		for _, col := range gradebook.TermColumns(st, term.ID) {
			headers = append(headers, fmt.Sprintf("%s:%s", term.ID, col.Title))
			cols = append(cols, col)
		}
	}
	for _, term := range st.Terms {
		headers = append(headers, fmt.Sprintf("Promedio %s", term.ID))
	}
	headers = append(headers, "Final")

	rows := make([][]string, 0, len(st.Students))
	for _, student := range st.Students {
		row := []string{student.Name}
		for _, col := range cols {
			if v, ok := gradebook.Effective(st, student.ID, col); ok {
				row = append(row, formatScore(v, decimals))
			} else {
				row = append(row, "")
			}
		}
		avg := byStudent[student.ID]
		for _, term := range st.Terms {
			row = append(row, formatScore(avg.TermAverages[term.ID], decimals))
		}
		row = append(row, formatScore(avg.Final, decimals))
		rows = append(rows, row)
	}
	return export.Dataset{Name: exportTitle(st), Headers: headers, Rows: rows}
}

func termLabel(term models.Term) string {
	if term.Name != "" {
		return term.Name
	}
	return string(term.ID)
}

func formatScore(v float64, decimals int) string {
	return strconv.FormatFloat(v, 'f', decimals, 64)
}
