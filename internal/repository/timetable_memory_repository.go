package repository

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/noah-isme/college-timetable-api/internal/models"
)

// TimetableMemoryRepository keeps timetable entries in process memory. It is
// used by local development and tests and enforces the same uniqueness rules
// as the database backends.
type TimetableMemoryRepository struct {
	mu           sync.RWMutex
	entries      map[string]models.TimetableEntry
	publications map[models.ClassGroup]models.PublicationStatus
	now          func() time.Time
}

// NewTimetableMemoryRepository creates an empty in-memory store.
func NewTimetableMemoryRepository() *TimetableMemoryRepository {
	return &TimetableMemoryRepository{
		entries:      make(map[string]models.TimetableEntry),
		publications: make(map[models.ClassGroup]models.PublicationStatus),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Insert stores one entry after checking it against every existing entry.
func (r *TimetableMemoryRepository) Insert(_ context.Context, entry *models.TimetableEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prepareEntry(entry, r.now())
	entry.IsPublished = r.publications[entry.ClassGroup()].IsPublished

	if kind, occupant := models.DetectConflict(r.snapshotLocked(), *entry); kind != models.ConflictNone {
		existing := *occupant
		return models.NewTimetableConflictError(kind, &existing)
	}
	r.ensurePublicationLocked(entry.ClassGroup())
	r.entries[entry.ID] = *entry
	return nil
}

// BulkReplace swaps a class group's entries, skipping candidates that collide
// with other groups or with earlier candidates of the same batch.
func (r *TimetableMemoryRepository) BulkReplace(_ context.Context, departmentID string, semester int, entries []models.TimetableEntry) (inserted, skipped []models.TimetableEntry, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	group := models.ClassGroup{DepartmentID: departmentID, Semester: semester}
	for id, entry := range r.entries {
		if entry.ClassGroup() == group {
			delete(r.entries, id)
		}
	}
	now := r.now()
	r.publications[group] = models.PublicationStatus{DepartmentID: departmentID, Semester: semester, UpdatedAt: now}

	for i := range entries {
		entry := entries[i]
		entry.DepartmentID = departmentID
		entry.Semester = semester
		entry.IsPublished = false
		prepareEntry(&entry, now)

		if kind, _ := models.DetectConflict(r.snapshotLocked(), entry); kind != models.ConflictNone {
			skipped = append(skipped, entry)
			continue
		}
		r.entries[entry.ID] = entry
		inserted = append(inserted, entry)
	}
	return inserted, skipped, nil
}

// Query lists entries matching the filter in calendar order.
func (r *TimetableMemoryRepository) Query(_ context.Context, filter models.TimetableFilter) ([]models.TimetableEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := []models.TimetableEntry{}
	for _, entry := range r.entries {
		if matchesFilter(entry, filter) {
			entries = append(entries, entry)
		}
	}
	models.SortEntries(entries)
	return entries, nil
}

// FindByID loads an entry by id.
func (r *TimetableMemoryRepository) FindByID(_ context.Context, id string) (*models.TimetableEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &entry, nil
}

// SetPublished flips the group's flag and returns how many entries changed.
func (r *TimetableMemoryRepository) SetPublished(_ context.Context, departmentID string, semester int, published bool) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	group := models.ClassGroup{DepartmentID: departmentID, Semester: semester}
	var total, changed int64
	now := r.now()
	for id, entry := range r.entries {
		if entry.ClassGroup() != group {
			continue
		}
		total++
		if entry.IsPublished != published {
			entry.IsPublished = published
			entry.UpdatedAt = now
			r.entries[id] = entry
			changed++
		}
	}
	if total == 0 {
		return 0, nil
	}
	r.publications[group] = models.PublicationStatus{DepartmentID: departmentID, Semester: semester, IsPublished: published, UpdatedAt: now}
	return changed, nil
}

// PublicationStatus returns the group's record, defaulting to draft.
func (r *TimetableMemoryRepository) PublicationStatus(_ context.Context, departmentID string, semester int) (*models.PublicationStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status, ok := r.publications[models.ClassGroup{DepartmentID: departmentID, Semester: semester}]
	if !ok {
		status = models.PublicationStatus{DepartmentID: departmentID, Semester: semester}
	}
	return &status, nil
}

// Delete removes one entry. An emptied group falls back to draft.
func (r *TimetableMemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return sql.ErrNoRows
	}
	delete(r.entries, id)

	group := entry.ClassGroup()
	for _, other := range r.entries {
		if other.ClassGroup() == group {
			return nil
		}
	}
	if status, ok := r.publications[group]; ok {
		status.IsPublished = false
		status.UpdatedAt = r.now()
		r.publications[group] = status
	}
	return nil
}

func (r *TimetableMemoryRepository) snapshotLocked() []models.TimetableEntry {
	out := make([]models.TimetableEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	return out
}

func (r *TimetableMemoryRepository) ensurePublicationLocked(group models.ClassGroup) {
	if _, ok := r.publications[group]; ok {
		return
	}
	r.publications[group] = models.PublicationStatus{DepartmentID: group.DepartmentID, Semester: group.Semester, UpdatedAt: r.now()}
}

func matchesFilter(entry models.TimetableEntry, filter models.TimetableFilter) bool {
	if filter.DepartmentID != "" && entry.DepartmentID != filter.DepartmentID {
		return false
	}
	if filter.Semester > 0 && entry.Semester != filter.Semester {
		return false
	}
	if filter.TeacherID != "" && entry.TeacherID != filter.TeacherID {
		return false
	}
	if filter.Day != "" && entry.Day != filter.Day {
		return false
	}
	if filter.Published != nil && entry.IsPublished != *filter.Published {
		return false
	}
	return true
}
