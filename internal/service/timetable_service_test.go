package service

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/college-timetable-api/internal/dto"
	"github.com/noah-isme/college-timetable-api/internal/models"
	"github.com/noah-isme/college-timetable-api/internal/repository"
	appErrors "github.com/noah-isme/college-timetable-api/pkg/errors"
	"github.com/noah-isme/college-timetable-api/pkg/lock"
)

type departmentStub struct {
	known map[string]bool
	err   error
}

func (s departmentStub) Exists(ctx context.Context, id string) (bool, error) {
	return s.known[id], s.err
}

type userStub struct {
	users map[string]*models.User
}

func (s userStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := s.users[id]; ok {
		return user, nil
	}
	return nil, sql.ErrNoRows
}

type studentStub struct {
	profiles map[string]*models.StudentProfile
}

func (s studentStub) FindByUserID(ctx context.Context, userID string) (*models.StudentProfile, error) {
	if profile, ok := s.profiles[userID]; ok {
		return profile, nil
	}
	return nil, sql.ErrNoRows
}

type failingLocker struct{}

func (failingLocker) Acquire(ctx context.Context, key string) (lock.Release, error) {
	return nil, lock.ErrNotAcquired
}

type memoryCacheRepo struct {
	mu       sync.Mutex
	values   map[string][]models.TimetableEntry
	versions map[string]int64
	deleted  []string
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{values: make(map[string][]models.TimetableEntry), versions: make(map[string]int64)}
}

func (r *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if version, ok := dest.(*int64); ok {
		value, found := r.versions[key]
		if !found {
			return appErrors.ErrCacheMiss
		}
		*version = value
		return nil
	}
	value, ok := r.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	*(dest.(*[]models.TimetableEntry)) = value
	return nil
}

func (r *memoryCacheRepo) Incr(ctx context.Context, key string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions[key]++
	return r.versions[key], nil
}

func (r *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value.([]models.TimetableEntry)
	return nil
}

func (r *memoryCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range r.values {
		if strings.HasPrefix(key, prefix) {
			delete(r.values, key)
		}
	}
	return nil
}

type timetableFixture struct {
	store   *repository.TimetableMemoryRepository
	service *TimetableService
}

func newTimetableFixture(t *testing.T, cache *CacheService) timetableFixture {
	t.Helper()
	store := repository.NewTimetableMemoryRepository()
	return timetableFixture{store: store, service: newTimetableServiceOver(store, cache)}
}

func newTimetableServiceOver(store TimetableStore, cache *CacheService) *TimetableService {
	return NewTimetableService(TimetableServiceDeps{
		Store:       store,
		Departments: departmentStub{known: map[string]bool{"cse": true, "ece": true}},
		Users: userStub{users: map[string]*models.User{
			"teacher-t": {ID: "teacher-t", Role: models.RoleStaff, Active: true},
			"teacher-u": {ID: "teacher-u", Role: models.RoleStaff, Active: true},
			"admin-a":   {ID: "admin-a", Role: models.RoleAdmin, Active: true},
			"student-s": {ID: "student-s", Role: models.RoleStudent, Active: true},
		}},
		Students: studentStub{profiles: map[string]*models.StudentProfile{
			"student-s": {UserID: "student-s", DepartmentID: "cse", Semester: 3},
		}},
		Locker:  lock.NewLocalLocker(time.Second),
		Cache:   cache,
		Metrics: NewMetricsService(),
		Logger:  zap.NewNop(),
	})
}

func entryRequest(dept string, semester int, day, start, end, subject, teacher, room string) dto.CreateTimetableEntryRequest {
	return dto.CreateTimetableEntryRequest{
		DepartmentID: dept,
		Semester:     semester,
		Day:          day,
		StartTime:    start,
		EndTime:      end,
		SubjectID:    subject,
		TeacherID:    teacher,
		RoomNumber:   room,
	}
}

func publish(t *testing.T, svc *TimetableService, dept string, semester int, published bool) int64 {
	t.Helper()
	resp, err := svc.SetPublished(context.Background(), dto.PublishTimetableRequest{DepartmentID: dept, Semester: semester, Published: &published})
	require.NoError(t, err)
	return resp.Updated
}

func TestAddEntryRejectsTeacherDoubleBooking(t *testing.T) {
	fx := newTimetableFixture(t, nil)
	ctx := context.Background()

	first, err := fx.service.AddEntry(ctx, entryRequest("cse", 3, "Monday", "09:00", "10:00", "subject-x", "teacher-t", "Room 101"))
	require.NoError(t, err)
	assert.False(t, first.IsPublished)

	_, err = fx.service.AddEntry(ctx, entryRequest("cse", 5, "Monday", "09:00", "10:00", "subject-y", "teacher-t", "Room 202"))
	require.Error(t, err)

	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrTeacherDoubleBooked.Code, appErr.Code)
	assert.Equal(t, http.StatusConflict, appErr.Status)

	var conflict *models.TimetableConflictError
	require.True(t, errors.As(err, &conflict))
	require.NotNil(t, conflict.Existing)
	assert.Equal(t, first.ID, conflict.Existing.ID)
}

func TestAddEntryConflictKinds(t *testing.T) {
	fx := newTimetableFixture(t, nil)
	ctx := context.Background()
	_, err := fx.service.AddEntry(ctx, entryRequest("cse", 3, "Tuesday", "10:00", "11:00", "subject-x", "teacher-t", "Room 101"))
	require.NoError(t, err)

	_, err = fx.service.AddEntry(ctx, entryRequest("ece", 1, "tuesday", "10:00", "11:00", "subject-z", "teacher-u", "Room 101"))
	assert.Equal(t, appErrors.ErrRoomDoubleBooked.Code, appErrors.FromError(err).Code)

	_, err = fx.service.AddEntry(ctx, entryRequest("cse", 3, "Tuesday", "10:00", "11:00", "subject-z", "teacher-u", "Room 999"))
	assert.Equal(t, appErrors.ErrClassGroupDoubleBooked.Code, appErrors.FromError(err).Code)

	_, err = fx.service.AddEntry(ctx, entryRequest("cse", 3, "Tuesday", "11:00", "12:00", "subject-z", "teacher-t", "Room 101"))
	assert.NoError(t, err)
}

func TestAddEntryValidation(t *testing.T) {
	fx := newTimetableFixture(t, nil)
	ctx := context.Background()

	cases := map[string]dto.CreateTimetableEntryRequest{
		"sunday":          entryRequest("cse", 3, "Sunday", "09:00", "10:00", "s", "teacher-t", "Room 1"),
		"bad clock":       entryRequest("cse", 3, "Monday", "9:00", "10:00", "s", "teacher-t", "Room 1"),
		"end before":      entryRequest("cse", 3, "Monday", "10:00", "09:00", "s", "teacher-t", "Room 1"),
		"zero semester":   entryRequest("cse", 0, "Monday", "09:00", "10:00", "s", "teacher-t", "Room 1"),
		"unknown dept":    entryRequest("mech", 3, "Monday", "09:00", "10:00", "s", "teacher-t", "Room 1"),
		"student teacher": entryRequest("cse", 3, "Monday", "09:00", "10:00", "s", "student-s", "Room 1"),
		"unknown teacher": entryRequest("cse", 3, "Monday", "09:00", "10:00", "s", "ghost", "Room 1"),
		"blank room":      entryRequest("cse", 3, "Monday", "09:00", "10:00", "s", "teacher-t", "   "),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := fx.service.AddEntry(ctx, req)
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
		})
	}

	entries, err := fx.store.Query(ctx, models.TimetableFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAddEntryInheritsPublishedState(t *testing.T) {
	fx := newTimetableFixture(t, nil)
	ctx := context.Background()

	_, err := fx.service.AddEntry(ctx, entryRequest("cse", 3, "Monday", "09:00", "10:00", "subject-x", "teacher-t", "Room 101"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, publish(t, fx.service, "cse", 3, true))

	added, err := fx.service.AddEntry(ctx, entryRequest("cse", 3, "Monday", "10:00", "11:00", "subject-y", "teacher-u", "Room 102"))
	require.NoError(t, err)
	assert.True(t, added.IsPublished)

	other, err := fx.service.AddEntry(ctx, entryRequest("cse", 5, "Monday", "10:00", "11:00", "subject-y", "teacher-t", "Room 103"))
	require.NoError(t, err)
	assert.False(t, other.IsPublished)
}

func TestSetPublishedReturnsChangedCount(t *testing.T) {
	fx := newTimetableFixture(t, nil)
	ctx := context.Background()

	assert.Zero(t, publish(t, fx.service, "cse", 3, true))
	status, err := fx.service.PublicationStatus(ctx, dto.PublicationQuery{DepartmentID: "cse", Semester: 3})
	require.NoError(t, err)
	assert.Equal(t, "DRAFT", status.State)

	for i, start := range []string{"09:00", "10:00", "11:00"} {
		end := []string{"10:00", "11:00", "12:00"}[i]
		_, err := fx.service.AddEntry(ctx, entryRequest("cse", 3, "Wednesday", start, end, "subject", "teacher-t", "Room 101"))
		require.NoError(t, err)
	}

	assert.EqualValues(t, 3, publish(t, fx.service, "cse", 3, true))
	assert.Zero(t, publish(t, fx.service, "cse", 3, true))

	status, err = fx.service.PublicationStatus(ctx, dto.PublicationQuery{DepartmentID: "cse", Semester: 3})
	require.NoError(t, err)
	assert.Equal(t, "PUBLISHED", status.State)

	assert.EqualValues(t, 3, publish(t, fx.service, "cse", 3, false))
	assert.Zero(t, publish(t, fx.service, "cse", 3, false))

	_, err = fx.service.SetPublished(ctx, dto.PublishTimetableRequest{DepartmentID: "cse", Semester: 3})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestGroupViewVisibility(t *testing.T) {
	fx := newTimetableFixture(t, nil)
	ctx := context.Background()

	_, err := fx.service.AddEntry(ctx, entryRequest("cse", 3, "Friday", "09:00", "10:00", "subject-x", "teacher-t", "Room 101"))
	require.NoError(t, err)
	_, err = fx.service.AddEntry(ctx, entryRequest("cse", 3, "Monday", "13:00", "14:00", "subject-y", "teacher-u", "Room 102"))
	require.NoError(t, err)

	student := &models.JWTClaims{UserID: "student-s", Role: models.RoleStudent}
	staff := &models.JWTClaims{UserID: "teacher-t", Role: models.RoleStaff}
	query := dto.TimetableQuery{DepartmentID: "cse", Semester: 3}

	visible, _, err := fx.service.ListForGroup(ctx, query, student)
	require.NoError(t, err)
	assert.Empty(t, visible)

	mine, _, err := fx.service.MyTimetable(ctx, student)
	require.NoError(t, err)
	assert.Empty(t, mine)

	drafts, _, err := fx.service.ListForGroup(ctx, query, staff)
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, models.Monday, drafts[0].Day)
	assert.Equal(t, models.Friday, drafts[1].Day)

	publish(t, fx.service, "cse", 3, true)

	visible, _, err = fx.service.ListForGroup(ctx, query, student)
	require.NoError(t, err)
	assert.Len(t, visible, 2)

	mine, _, err = fx.service.MyTimetable(ctx, student)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	friday, _, err := fx.service.ListForGroup(ctx, dto.TimetableQuery{DepartmentID: "cse", Semester: 3, Day: "friday"}, student)
	require.NoError(t, err)
	require.Len(t, friday, 1)
	assert.Equal(t, "subject-x", friday[0].SubjectID)

	_, _, err = fx.service.MyTimetable(ctx, staff)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, _, err = fx.service.MyTimetable(ctx, &models.JWTClaims{UserID: "no-profile", Role: models.RoleStudent})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestMyScheduleIncludesDraftsAcrossGroups(t *testing.T) {
	fx := newTimetableFixture(t, nil)
	ctx := context.Background()

	_, err := fx.service.AddEntry(ctx, entryRequest("cse", 3, "Thursday", "09:00", "10:00", "subject-x", "teacher-t", "Room 101"))
	require.NoError(t, err)
	_, err = fx.service.AddEntry(ctx, entryRequest("ece", 1, "Tuesday", "14:00", "15:00", "subject-y", "teacher-t", "Room 202"))
	require.NoError(t, err)
	_, err = fx.service.AddEntry(ctx, entryRequest("ece", 1, "Tuesday", "09:00", "10:00", "subject-z", "teacher-u", "Room 203"))
	require.NoError(t, err)
	publish(t, fx.service, "ece", 1, true)

	schedule, _, err := fx.service.MySchedule(ctx, &models.JWTClaims{UserID: "teacher-t", Role: models.RoleStaff})
	require.NoError(t, err)
	require.Len(t, schedule, 2)
	assert.Equal(t, models.Tuesday, schedule[0].Day)
	assert.True(t, schedule[0].IsPublished)
	assert.Equal(t, models.Thursday, schedule[1].Day)
	assert.False(t, schedule[1].IsPublished)

	_, _, err = fx.service.MySchedule(ctx, &models.JWTClaims{UserID: "student-s", Role: models.RoleStudent})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestDeleteEntry(t *testing.T) {
	fx := newTimetableFixture(t, nil)
	ctx := context.Background()

	entry, err := fx.service.AddEntry(ctx, entryRequest("cse", 3, "Monday", "09:00", "10:00", "subject-x", "teacher-t", "Room 101"))
	require.NoError(t, err)
	publish(t, fx.service, "cse", 3, true)

	require.NoError(t, fx.service.Delete(ctx, entry.ID))
	status, err := fx.service.PublicationStatus(ctx, dto.PublicationQuery{DepartmentID: "cse", Semester: 3})
	require.NoError(t, err)
	assert.False(t, status.IsPublished)

	err = fx.service.Delete(ctx, entry.ID)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	again, err := fx.service.AddEntry(ctx, entryRequest("cse", 3, "Monday", "09:00", "10:00", "subject-x", "teacher-t", "Room 101"))
	require.NoError(t, err)
	assert.False(t, again.IsPublished)
}

func TestConcurrentConflictingInsertsExactlyOneWins(t *testing.T) {
	fx := newTimetableFixture(t, nil)
	ctx := context.Background()

	requests := []dto.CreateTimetableEntryRequest{
		entryRequest("cse", 3, "Monday", "09:00", "10:00", "subject-x", "teacher-t", "Room 101"),
		entryRequest("ece", 5, "Monday", "09:00", "10:00", "subject-y", "teacher-t", "Room 202"),
	}

	for round := 0; round < 20; round++ {
		fx = newTimetableFixture(t, nil)
		var wg sync.WaitGroup
		results := make([]error, len(requests))
		start := make(chan struct{})
		for i := range requests {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, results[i] = fx.service.AddEntry(ctx, requests[i])
			}(i)
		}
		close(start)
		wg.Wait()

		successes := 0
		for _, err := range results {
			if err == nil {
				successes++
				continue
			}
			assert.Equal(t, appErrors.ErrTeacherDoubleBooked.Code, appErrors.FromError(err).Code)
		}
		assert.Equal(t, 1, successes)

		stored, err := fx.store.Query(ctx, models.TimetableFilter{TeacherID: "teacher-t"})
		require.NoError(t, err)
		assert.Len(t, stored, 1)
	}
}

func TestMutationsFailWithLockTimeout(t *testing.T) {
	store := repository.NewTimetableMemoryRepository()
	svc := NewTimetableService(TimetableServiceDeps{Store: store, Locker: failingLocker{}})

	_, err := svc.AddEntry(context.Background(), entryRequest("cse", 3, "Monday", "09:00", "10:00", "s", "teacher-t", "Room 1"))
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrLockTimeout.Code, appErr.Code)
	assert.Equal(t, http.StatusServiceUnavailable, appErr.Status)

	entries, err := store.Query(context.Background(), models.TimetableFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGroupViewsAreCachedAndInvalidated(t *testing.T) {
	cacheRepo := newMemoryCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	fx := newTimetableFixture(t, cache)
	ctx := context.Background()
	staff := &models.JWTClaims{UserID: "teacher-t", Role: models.RoleStaff}
	query := dto.TimetableQuery{DepartmentID: "cse", Semester: 3}

	_, err := fx.service.AddEntry(ctx, entryRequest("cse", 3, "Monday", "09:00", "10:00", "subject-x", "teacher-t", "Room 101"))
	require.NoError(t, err)

	first, hit, err := fx.service.ListForGroup(ctx, query, staff)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Len(t, first, 1)

	_, hit, err = fx.service.ListForGroup(ctx, query, staff)
	require.NoError(t, err)
	assert.True(t, hit)

	_, err = fx.service.AddEntry(ctx, entryRequest("cse", 3, "Monday", "10:00", "11:00", "subject-y", "teacher-u", "Room 102"))
	require.NoError(t, err)
	assert.Contains(t, cacheRepo.deleted, "timetable:group:cse:3:*")

	second, hit, err := fx.service.ListForGroup(ctx, query, staff)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Len(t, second, 2)
}

// blockingQueryStore parks published-only reads after they hit the store.
type blockingQueryStore struct {
	*repository.TimetableMemoryRepository
	reached chan struct{}
	release chan struct{}
}

func (s *blockingQueryStore) Query(ctx context.Context, filter models.TimetableFilter) ([]models.TimetableEntry, error) {
	entries, err := s.TimetableMemoryRepository.Query(ctx, filter)
	if filter.Published != nil {
		select {
		case s.reached <- struct{}{}:
			<-s.release
		default:
		}
	}
	return entries, err
}

func TestStudentViewNotRefilledWithStaleSnapshot(t *testing.T) {
	store := &blockingQueryStore{
		TimetableMemoryRepository: repository.NewTimetableMemoryRepository(),
		reached:                   make(chan struct{}),
		release:                   make(chan struct{}),
	}
	svc := newTimetableServiceOver(store, NewCacheService(newMemoryCacheRepo(), nil, time.Minute, zap.NewNop(), true))
	ctx := context.Background()
	student := &models.JWTClaims{UserID: "student-s", Role: models.RoleStudent}
	query := dto.TimetableQuery{DepartmentID: "cse", Semester: 3}

	_, err := svc.AddEntry(ctx, entryRequest("cse", 3, "Monday", "09:00", "10:00", "subject-x", "teacher-t", "Room 101"))
	require.NoError(t, err)
	publish(t, svc, "cse", 3, true)

	done := make(chan []models.TimetableEntry)
	go func() {
		entries, _, _ := svc.ListForGroup(ctx, query, student)
		done <- entries
	}()
	<-store.reached

	publish(t, svc, "cse", 3, false)
	close(store.release)
	assert.Len(t, <-done, 1)

	entries, hit, err := svc.ListForGroup(ctx, query, student)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Empty(t, entries)
}

func TestCachedStudentViewWithDraftIsIgnored(t *testing.T) {
	cache := NewCacheService(newMemoryCacheRepo(), nil, time.Minute, zap.NewNop(), true)
	fx := newTimetableFixture(t, cache)
	ctx := context.Background()
	published := true
	filter := models.TimetableFilter{DepartmentID: "cse", Semester: 3, Published: &published}

	cache.Set(ctx, cache.GroupViewKey(ctx, filter), []models.TimetableEntry{{ID: "draft", IsPublished: false}})

	entries, hit, err := fx.service.ListForGroup(ctx, dto.TimetableQuery{DepartmentID: "cse", Semester: 3}, &models.JWTClaims{UserID: "student-s", Role: models.RoleStudent})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Empty(t, entries)
}

func TestSlotsExposeCatalog(t *testing.T) {
	fx := newTimetableFixture(t, nil)
	view := fx.service.Slots()
	assert.Len(t, view.Days, 6)
	assert.Len(t, view.GenerationDays, 5)
	assert.Len(t, view.Slots, 6)
}
