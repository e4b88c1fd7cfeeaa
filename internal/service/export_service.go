package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/coop-approval-api/internal/models"
	appErrors "github.com/noah-isme/coop-approval-api/pkg/errors"
	"github.com/noah-isme/coop-approval-api/pkg/export"
)

// ExportFormat selects the rendering for a history export.
type ExportFormat string

// Supported export formats.
const (
	FormatCSV ExportFormat = "csv"
	FormatPDF ExportFormat = "pdf"
)

// historySource provides the audit trail to export.
type historySource interface {
	History(ctx context.Context, enrollmentID string, page, pageSize int) ([]models.TransitionRecord, int, error)
}

// ExportResult carries rendered bytes and HTTP metadata.
type ExportResult struct {
	Content     []byte
	ContentType string
	Filename    string
}

// ExportService renders an enrollment's transition history as a
// downloadable document for program-office record keeping.
type ExportService struct {
	source historySource
	csv    *export.CSVExporter
	pdf    *export.PDFExporter
	logger *zap.Logger
}

// NewExportService constructs the export service.
func NewExportService(source historySource, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		source: source,
		csv:    export.NewCSVExporter(),
		pdf:    export.NewPDFExporter(),
		logger: logger,
	}
}

var historyHeaders = []string{"Occurred At", "From", "To", "Action By", "Actor ID", "Reason"}

// ExportHistory renders the full audit trail for one enrollment.
func (s *ExportService) ExportHistory(ctx context.Context, enrollmentID string, format ExportFormat) (*ExportResult, error) {
	records, _, err := s.source.History(ctx, enrollmentID, 1, 100)
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{Headers: historyHeaders, Rows: make([]map[string]string, 0, len(records))}
	for _, record := range records {
		reason := ""
		if record.Reason != nil {
			reason = *record.Reason
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Occurred At": record.OccurredAt.UTC().Format(time.RFC3339),
			"From":        string(record.FromStatus),
			"To":          string(record.ToStatus),
			"Action By":   string(record.ActorRole),
			"Actor ID":    record.ActorID,
			"Reason":      reason,
		})
	}

	switch format {
	case FormatCSV:
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return &ExportResult{
			Content:     content,
			ContentType: "text/csv",
			Filename:    fmt.Sprintf("approval-history-%s.csv", enrollmentID),
		}, nil
	case FormatPDF:
		content, err := s.pdf.Render(dataset, fmt.Sprintf("Approval History %s", enrollmentID))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		return &ExportResult{
			Content:     content,
			ContentType: "application/pdf",
			Filename:    fmt.Sprintf("approval-history-%s.pdf", enrollmentID),
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}
