package service

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/college-timetable-api/internal/dto"
	"github.com/noah-isme/college-timetable-api/internal/models"
	appErrors "github.com/noah-isme/college-timetable-api/pkg/errors"
	"github.com/noah-isme/college-timetable-api/pkg/export"
)

var timetableExportHeaders = []string{"Day", "Start", "End", "Subject", "Teacher", "Room", "Status"}

type timetableLister interface {
	ListForGroup(ctx context.Context, query dto.TimetableQuery, claims *models.JWTClaims) ([]models.TimetableEntry, bool, error)
}

// ExportFile is a rendered timetable ready for download.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// TimetableExportService renders a class group's timetable as CSV, PDF or XLSX.
type TimetableExportService struct {
	timetables timetableLister
	renderers  map[string]export.Renderer
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewTimetableExportService constructs the export service with every supported renderer.
func NewTimetableExportService(timetables timetableLister, validate *validator.Validate, logger *zap.Logger) *TimetableExportService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimetableExportService{timetables: timetables, renderers: export.Renderers(), validator: validate, logger: logger}
}

// Export renders the group view the requester is allowed to see.
func (s *TimetableExportService) Export(ctx context.Context, query dto.ExportTimetableQuery, claims *models.JWTClaims) (*ExportFile, error) {
	if query.Format == "" {
		query.Format = "csv"
	}
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export query")
	}
	renderer, ok := s.renderers[query.Format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}

	entries, _, err := s.timetables.ListForGroup(ctx, dto.TimetableQuery{DepartmentID: query.DepartmentID, Semester: query.Semester}, claims)
	if err != nil {
		return nil, err
	}

	title := fmt.Sprintf("Timetable %s semester %d", query.DepartmentID, query.Semester)
	body, err := renderer.Render(timetableDataset(entries), title)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render timetable")
	}
	s.logger.Debug("timetable exported",
		zap.String("department_id", query.DepartmentID),
		zap.Int("semester", query.Semester),
		zap.String("format", query.Format),
		zap.Int("entries", len(entries)),
	)
	return &ExportFile{
		Filename:    fmt.Sprintf("timetable-%s-sem%d.%s", query.DepartmentID, query.Semester, renderer.Extension()),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

func timetableDataset(entries []models.TimetableEntry) export.Dataset {
	rows := make([]map[string]string, 0, len(entries))
	for _, entry := range entries {
		status := "Draft"
		if entry.IsPublished {
			status = "Published"
		}
		rows = append(rows, map[string]string{
			"Day":     string(entry.Day),
			"Start":   entry.StartTime,
			"End":     entry.EndTime,
			"Subject": entry.SubjectID,
			"Teacher": entry.TeacherID,
			"Room":    entry.RoomNumber,
			"Status":  status,
		})
	}
	return export.Dataset{Headers: timetableExportHeaders, Rows: rows}
}
