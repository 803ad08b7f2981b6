package service

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/college-timetable-api/internal/dto"
	"github.com/noah-isme/college-timetable-api/internal/models"
	appErrors "github.com/noah-isme/college-timetable-api/pkg/errors"
	"github.com/noah-isme/college-timetable-api/pkg/lock"
)

// TimetableStore persists timetable entries and class group publication records.
type TimetableStore interface {
	Insert(ctx context.Context, entry *models.TimetableEntry) error
	BulkReplace(ctx context.Context, departmentID string, semester int, entries []models.TimetableEntry) (inserted, skipped []models.TimetableEntry, err error)
	Query(ctx context.Context, filter models.TimetableFilter) ([]models.TimetableEntry, error)
	FindByID(ctx context.Context, id string) (*models.TimetableEntry, error)
	SetPublished(ctx context.Context, departmentID string, semester int, published bool) (int64, error)
	PublicationStatus(ctx context.Context, departmentID string, semester int) (*models.PublicationStatus, error)
	Delete(ctx context.Context, id string) error
}

type departmentChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

type timetableUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type studentProfileReader interface {
	FindByUserID(ctx context.Context, userID string) (*models.StudentProfile, error)
}

// TimetableService implements manual entry, publication and the timetable views.
type TimetableService struct {
	store       TimetableStore
	departments departmentChecker
	users       timetableUserReader
	students    studentProfileReader
	catalog     models.SlotCatalog
	locker      lock.Locker
	cache       *CacheService
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// TimetableServiceDeps bundles the collaborators of TimetableService.
type TimetableServiceDeps struct {
	Store       TimetableStore
	Departments departmentChecker
	Users       timetableUserReader
	Students    studentProfileReader
	Catalog     models.SlotCatalog
	Locker      lock.Locker
	Cache       *CacheService
	Metrics     *MetricsService
	Validator   *validator.Validate
	Logger      *zap.Logger
}

// NewTimetableService constructs the service, defaulting optional collaborators.
func NewTimetableService(deps TimetableServiceDeps) *TimetableService {
	if deps.Validator == nil {
		deps.Validator = NewValidator()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocalLocker(5 * time.Second)
	}
	if deps.Catalog.CellCount() == 0 {
		deps.Catalog = models.DefaultSlotCatalog()
	}
	return &TimetableService{
		store:       deps.Store,
		departments: deps.Departments,
		users:       deps.Users,
		students:    deps.Students,
		catalog:     deps.Catalog,
		locker:      deps.Locker,
		cache:       deps.Cache,
		metrics:     deps.Metrics,
		validator:   deps.Validator,
		logger:      deps.Logger,
	}
}

// AddEntry validates and stores a manual session. The entry inherits the
// group's publication state.
func (s *TimetableService) AddEntry(ctx context.Context, req dto.CreateTimetableEntryRequest) (*models.TimetableEntry, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid timetable entry payload")
	}
	day, _ := models.ParseWeekday(req.Day)
	if req.EndTime <= req.StartTime {
		return nil, appErrors.Clone(appErrors.ErrValidation, "endTime must be after startTime")
	}
	room := models.NormalizeRoom(req.RoomNumber)
	if room == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "roomNumber is required")
	}
	if err := s.ensureDepartment(ctx, req.DepartmentID); err != nil {
		return nil, err
	}
	if err := s.ensureTeacher(ctx, req.TeacherID); err != nil {
		return nil, err
	}

	entry := &models.TimetableEntry{
		DepartmentID: req.DepartmentID,
		Semester:     req.Semester,
		Day:          day,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		SubjectID:    req.SubjectID,
		TeacherID:    req.TeacherID,
		RoomNumber:   room,
	}
	group := entry.ClassGroup()

	err := withGroupLock(ctx, s.locker, s.metrics, group, func(ctx context.Context) error {
		return s.store.Insert(ctx, entry)
	})
	if err != nil {
		return nil, s.translateStoreError(err, "failed to create timetable entry")
	}
	s.cache.InvalidateGroup(ctx, group)
	s.logger.Info("timetable entry created",
		zap.String("id", entry.ID),
		zap.String("department_id", entry.DepartmentID),
		zap.Int("semester", entry.Semester),
		zap.String("day", string(entry.Day)),
		zap.String("start_time", entry.StartTime),
		zap.Bool("is_published", entry.IsPublished),
	)
	return entry, nil
}

// Delete removes a single entry.
func (s *TimetableService) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "id is required")
	}
	entry, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "timetable entry not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable entry")
	}
	group := entry.ClassGroup()
	err = withGroupLock(ctx, s.locker, s.metrics, group, func(ctx context.Context) error {
		return s.store.Delete(ctx, id)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "timetable entry not found")
		}
		return s.translateStoreError(err, "failed to delete timetable entry")
	}
	s.cache.InvalidateGroup(ctx, group)
	s.logger.Info("timetable entry deleted", zap.String("id", id), zap.String("department_id", group.DepartmentID), zap.Int("semester", group.Semester))
	return nil
}

// SetPublished flips the visibility of a whole class group and returns the
// number of entries whose flag changed.
func (s *TimetableService) SetPublished(ctx context.Context, req dto.PublishTimetableRequest) (*dto.PublishTimetableResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid publish payload")
	}
	published := *req.Published
	group := models.ClassGroup{DepartmentID: req.DepartmentID, Semester: req.Semester}

	var changed int64
	err := withGroupLock(ctx, s.locker, s.metrics, group, func(ctx context.Context) error {
		var err error
		changed, err = s.store.SetPublished(ctx, group.DepartmentID, group.Semester, published)
		return err
	})
	if err != nil {
		return nil, s.translateStoreError(err, "failed to update publication")
	}
	if changed > 0 {
		s.cache.InvalidateGroup(ctx, group)
		s.metrics.RecordPublish(published)
	}
	s.logger.Info("timetable publication updated",
		zap.String("department_id", group.DepartmentID),
		zap.Int("semester", group.Semester),
		zap.Bool("published", published),
		zap.Int64("updated", changed),
	)
	return &dto.PublishTimetableResponse{DepartmentID: group.DepartmentID, Semester: group.Semester, Published: published, Updated: changed}, nil
}

// PublicationStatus returns the explicit draft/published record of a group.
func (s *TimetableService) PublicationStatus(ctx context.Context, query dto.PublicationQuery) (*dto.PublicationStatusResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid publication query")
	}
	status, err := s.store.PublicationStatus(ctx, query.DepartmentID, query.Semester)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load publication")
	}
	return &dto.PublicationStatusResponse{PublicationStatus: *status, State: status.State()}, nil
}

// ListForGroup returns a class group's timetable. Students only see published entries.
func (s *TimetableService) ListForGroup(ctx context.Context, query dto.TimetableQuery, claims *models.JWTClaims) ([]models.TimetableEntry, bool, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid timetable query")
	}
	filter := models.TimetableFilter{DepartmentID: query.DepartmentID, Semester: query.Semester}
	if query.Day != "" {
		filter.Day, _ = models.ParseWeekday(query.Day)
	}
	if claims == nil || claims.Role == models.RoleStudent {
		published := true
		filter.Published = &published
	}
	return s.cachedQuery(ctx, s.cache.GroupViewKey(ctx, filter), filter)
}

// MyTimetable returns the published timetable of the requesting student's class group.
func (s *TimetableService) MyTimetable(ctx context.Context, claims *models.JWTClaims) ([]models.TimetableEntry, bool, error) {
	if claims == nil {
		return nil, false, appErrors.ErrUnauthorized
	}
	if claims.Role != models.RoleStudent {
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "only students have a class timetable")
	}
	profile, err := s.students.FindByUserID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "student profile not found")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student profile")
	}
	published := true
	filter := models.TimetableFilter{DepartmentID: profile.DepartmentID, Semester: profile.Semester, Published: &published}
	return s.cachedQuery(ctx, s.cache.GroupViewKey(ctx, filter), filter)
}

// MySchedule returns every entry taught by the requester, drafts included.
func (s *TimetableService) MySchedule(ctx context.Context, claims *models.JWTClaims) ([]models.TimetableEntry, bool, error) {
	if claims == nil {
		return nil, false, appErrors.ErrUnauthorized
	}
	if !claims.Role.CanTeach() {
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "only staff have a teaching schedule")
	}
	filter := models.TimetableFilter{TeacherID: claims.UserID}
	return s.cachedQuery(ctx, s.cache.TeacherViewKey(ctx, claims.UserID), filter)
}

// Slots exposes the configured weekly grid.
func (s *TimetableService) Slots() models.SlotCatalogView {
	return s.catalog.View()
}

// cachedQuery reads through the view cache. key must be computed before the
// store read so a concurrent invalidation retires it.
func (s *TimetableService) cachedQuery(ctx context.Context, key string, filter models.TimetableFilter) ([]models.TimetableEntry, bool, error) {
	if key != "" {
		var cached []models.TimetableEntry
		if s.cache.Get(ctx, key, &cached) && matchesPublication(cached, filter.Published) {
			return cached, true, nil
		}
	}
	entries, err := s.store.Query(ctx, filter)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable")
	}
	if key != "" {
		s.cache.Set(ctx, key, entries)
	}
	return entries, false, nil
}

func matchesPublication(entries []models.TimetableEntry, published *bool) bool {
	if published == nil {
		return true
	}
	for _, entry := range entries {
		if entry.IsPublished != *published {
			return false
		}
	}
	return true
}

func (s *TimetableService) ensureDepartment(ctx context.Context, id string) error {
	if s.departments == nil {
		return nil
	}
	exists, err := s.departments.Exists(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify department")
	}
	if !exists {
		return appErrors.Clone(appErrors.ErrValidation, "department not found")
	}
	return nil
}

func (s *TimetableService) ensureTeacher(ctx context.Context, id string) error {
	if s.users == nil {
		return nil
	}
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "teacher not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify teacher")
	}
	if !user.Role.CanTeach() || !user.Active {
		return appErrors.Clone(appErrors.ErrValidation, "teacher must be an active staff member")
	}
	return nil
}

func (s *TimetableService) translateStoreError(err error, message string) error {
	var conflict *models.TimetableConflictError
	if errors.As(err, &conflict) {
		s.metrics.RecordConflict(conflict.Kind)
		return conflictError(conflict)
	}
	var typed *appErrors.Error
	if errors.As(err, &typed) {
		return typed
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func conflictError(conflict *models.TimetableConflictError) *appErrors.Error {
	var base *appErrors.Error
	switch conflict.Kind {
	case models.ConflictTeacherDoubleBooked:
		base = appErrors.ErrTeacherDoubleBooked
	case models.ConflictRoomDoubleBooked:
		base = appErrors.ErrRoomDoubleBooked
	default:
		base = appErrors.ErrClassGroupDoubleBooked
	}
	appErr := appErrors.Wrap(conflict, base.Code, base.Status, base.Message)
	appErr.Details = conflict
	return appErr
}

// withGroupLock runs fn while holding the class group's mutation lock.
func withGroupLock(ctx context.Context, locker lock.Locker, metrics *MetricsService, group models.ClassGroup, fn func(ctx context.Context) error) error {
	start := time.Now()
	release, err := locker.Acquire(ctx, groupLockKey(group))
	if err != nil {
		metrics.ObserveLockWait(time.Since(start), errors.Is(err, lock.ErrNotAcquired))
		if errors.Is(err, lock.ErrNotAcquired) {
			return appErrors.Wrap(err, appErrors.ErrLockTimeout.Code, appErrors.ErrLockTimeout.Status, appErrors.ErrLockTimeout.Message)
		}
		return err
	}
	metrics.ObserveLockWait(time.Since(start), false)
	defer func() {
		_ = release(context.WithoutCancel(ctx))
	}()
	return fn(ctx)
}

func groupLockKey(group models.ClassGroup) string {
	return "group:" + group.DepartmentID + ":" + strconv.Itoa(group.Semester)
}
