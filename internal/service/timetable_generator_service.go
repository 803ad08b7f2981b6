package service

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/college-timetable-api/internal/dto"
	"github.com/noah-isme/college-timetable-api/internal/models"
	appErrors "github.com/noah-isme/college-timetable-api/pkg/errors"
	"github.com/noah-isme/college-timetable-api/pkg/lock"
)

type subjectLister interface {
	ListByDepartmentAndSemester(ctx context.Context, departmentID string, semester int) ([]models.Subject, error)
}

// TimetableGeneratorService replaces a class group's timetable with a
// round-robin allocation of its subjects over the slot catalog.
type TimetableGeneratorService struct {
	store       TimetableStore
	subjects    subjectLister
	departments departmentChecker
	catalog     models.SlotCatalog
	locker      lock.Locker
	cache       *CacheService
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewTimetableGeneratorService wires generator dependencies.
func NewTimetableGeneratorService(
	store TimetableStore,
	subjects subjectLister,
	departments departmentChecker,
	catalog models.SlotCatalog,
	locker lock.Locker,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *TimetableGeneratorService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if catalog.CellCount() == 0 {
		catalog = models.DefaultSlotCatalog()
	}
	if locker == nil {
		locker = lock.NewLocalLocker(0)
	}
	return &TimetableGeneratorService{
		store:       store,
		subjects:    subjects,
		departments: departments,
		catalog:     catalog,
		locker:      locker,
		cache:       cache,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
	}
}

// Generate discards the group's current timetable and allocates its subjects
// day by day, slot by slot. Cell i takes subject i mod n; subjects without
// faculty leave their cells empty. The new timetable starts as a draft.
func (s *TimetableGeneratorService) Generate(ctx context.Context, req dto.GenerateTimetableRequest) (*dto.GenerateTimetableResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generate payload")
	}
	if s.departments != nil {
		exists, err := s.departments.Exists(ctx, req.DepartmentID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify department")
		}
		if !exists {
			return nil, appErrors.Clone(appErrors.ErrValidation, "department not found")
		}
	}

	subjects, err := s.subjects.ListByDepartmentAndSemester(ctx, req.DepartmentID, req.Semester)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subjects")
	}

	var candidates []models.TimetableEntry
	if len(subjects) > 0 {
		candidates = s.allocate(subjects)
	}
	group := models.ClassGroup{DepartmentID: req.DepartmentID, Semester: req.Semester}

	// The group is cleared even when there is nothing to allocate.
	var inserted, skipped []models.TimetableEntry
	err = withGroupLock(ctx, s.locker, s.metrics, group, func(ctx context.Context) error {
		var err error
		inserted, skipped, err = s.store.BulkReplace(ctx, group.DepartmentID, group.Semester, candidates)
		return err
	})
	if err != nil {
		var typed *appErrors.Error
		if errors.As(err, &typed) {
			return nil, typed
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store generated timetable")
	}
	s.cache.InvalidateGroup(ctx, group)
	if len(subjects) == 0 {
		s.logger.Info("timetable group cleared, no subjects to schedule",
			zap.String("department_id", group.DepartmentID),
			zap.Int("semester", group.Semester),
		)
		return nil, appErrors.Clone(appErrors.ErrNothingToSchedule, "no subjects found for this department and semester")
	}
	s.metrics.RecordGeneration(len(inserted), len(skipped))

	models.SortEntries(inserted)
	resp := &dto.GenerateTimetableResponse{
		DepartmentID: group.DepartmentID,
		Semester:     group.Semester,
		Generated:    len(inserted),
		Entries:      inserted,
		Skipped:      s.describeSkipped(ctx, skipped),
	}
	if resp.Entries == nil {
		resp.Entries = []models.TimetableEntry{}
	}

	fields := []zap.Field{
		zap.String("department_id", group.DepartmentID),
		zap.Int("semester", group.Semester),
		zap.Int("subjects", len(subjects)),
		zap.Int("generated", len(inserted)),
		zap.Int("skipped", len(skipped)),
	}
	if len(skipped) > 0 {
		s.logger.Warn("timetable generated with cross-group clashes", fields...)
	} else {
		s.logger.Info("timetable generated", fields...)
	}
	return resp, nil
}

// allocate walks generation days in order and, within each day, the slots in order.
func (s *TimetableGeneratorService) allocate(subjects []models.Subject) []models.TimetableEntry {
	days := s.catalog.GenerationDays()
	slots := s.catalog.Slots()
	entries := make([]models.TimetableEntry, 0, len(days)*len(slots))

	cell := 0
	for _, day := range days {
		for slotIdx, slot := range slots {
			subject := subjects[cell%len(subjects)]
			cell++
			if !subject.HasFaculty() {
				continue
			}
			entries = append(entries, models.TimetableEntry{
				Day:        day,
				StartTime:  slot.Start,
				EndTime:    slot.End,
				SubjectID:  subject.ID,
				TeacherID:  *subject.FacultyID,
				RoomNumber: s.catalog.Room(slotIdx),
			})
		}
	}
	return entries
}

// describeSkipped reports skipped cells with the invariant they broke when it
// can still be determined.
func (s *TimetableGeneratorService) describeSkipped(ctx context.Context, skipped []models.TimetableEntry) []dto.SkippedTimetableEntry {
	out := make([]dto.SkippedTimetableEntry, 0, len(skipped))
	byDay := make(map[models.Weekday][]models.TimetableEntry)
	for _, entry := range skipped {
		occupants, ok := byDay[entry.Day]
		if !ok {
			occupants, _ = s.store.Query(ctx, models.TimetableFilter{Day: entry.Day})
			byDay[entry.Day] = occupants
		}
		reason, _ := models.DetectConflict(occupants, entry)
		out = append(out, dto.SkippedTimetableEntry{
			Day:        entry.Day,
			StartTime:  entry.StartTime,
			SubjectID:  entry.SubjectID,
			TeacherID:  entry.TeacherID,
			RoomNumber: entry.RoomNumber,
			Reason:     reason,
		})
	}
	return out
}
