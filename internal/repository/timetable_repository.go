package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/college-timetable-api/internal/models"
)

const timetableColumns = "id, department_id, semester, day, day_index, start_time, end_time, subject_id, teacher_id, room_number, is_published, created_at, updated_at"

const insertTimetableEntry = `INSERT INTO timetable_entries (` + timetableColumns + `) VALUES (:id, :department_id, :semester, :day, :day_index, :start_time, :end_time, :subject_id, :teacher_id, :room_number, :is_published, :created_at, :updated_at)`

const (
	constraintTeacherSlot = "uq_timetable_teacher_slot"
	constraintRoomSlot    = "uq_timetable_room_slot"
	constraintGroupSlot   = "uq_timetable_group_slot"
)

// TimetableRepository persists timetable entries in PostgreSQL. The three
// scheduling invariants are unique constraints on timetable_entries; every
// group mutation locks the group's timetable_publications row first.
type TimetableRepository struct {
	db *sqlx.DB
}

// NewTimetableRepository creates a new timetable repository.
func NewTimetableRepository(db *sqlx.DB) *TimetableRepository {
	return &TimetableRepository{db: db}
}

// Insert stores one entry, stamping IsPublished from the group's publication record.
func (r *TimetableRepository) Insert(ctx context.Context, entry *models.TimetableEntry) (err error) {
	prepareEntry(entry, time.Now().UTC())

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert timetable entry: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	published, err := lockPublication(ctx, tx, entry.DepartmentID, entry.Semester)
	if err != nil {
		return err
	}
	entry.IsPublished = published

	if _, err = sqlx.NamedExecContext(ctx, tx, insertTimetableEntry, entry); err != nil {
		if kind := conflictKindFromError(err); kind != models.ConflictNone {
			_ = tx.Rollback()
			occupant, _ := r.findOccupant(ctx, kind, *entry)
			err = models.NewTimetableConflictError(kind, occupant)
			return err
		}
		return fmt.Errorf("insert timetable entry: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit insert timetable entry: %w", err)
	}
	return nil
}

// BulkReplace swaps a class group's entries in one transaction. Entries that
// collide with another group's teacher or room are skipped.
func (r *TimetableRepository) BulkReplace(ctx context.Context, departmentID string, semester int, entries []models.TimetableEntry) (inserted, skipped []models.TimetableEntry, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin replace timetable: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = lockPublication(ctx, tx, departmentID, semester); err != nil {
		return nil, nil, err
	}
	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `UPDATE timetable_publications SET is_published = FALSE, updated_at = $3 WHERE department_id = $1 AND semester = $2`, departmentID, semester, now); err != nil {
		return nil, nil, fmt.Errorf("reset timetable publication: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM timetable_entries WHERE department_id = $1 AND semester = $2`, departmentID, semester); err != nil {
		return nil, nil, fmt.Errorf("clear timetable group: %w", err)
	}

	for i := range entries {
		entry := entries[i]
		entry.DepartmentID = departmentID
		entry.Semester = semester
		entry.IsPublished = false
		prepareEntry(&entry, now)

		res, execErr := sqlx.NamedExecContext(ctx, tx, insertTimetableEntry+` ON CONFLICT DO NOTHING`, &entry)
		if execErr != nil {
			err = fmt.Errorf("bulk insert timetable entry: %w", execErr)
			return nil, nil, err
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			skipped = append(skipped, entry)
			continue
		}
		inserted = append(inserted, entry)
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit replace timetable: %w", err)
	}
	return inserted, skipped, nil
}

// Query lists entries matching the filter in calendar order.
func (r *TimetableRepository) Query(ctx context.Context, filter models.TimetableFilter) ([]models.TimetableEntry, error) {
	var conditions []string
	var args []interface{}

	if filter.DepartmentID != "" {
		conditions = append(conditions, fmt.Sprintf("department_id = $%d", len(args)+1))
		args = append(args, filter.DepartmentID)
	}
	if filter.Semester > 0 {
		conditions = append(conditions, fmt.Sprintf("semester = $%d", len(args)+1))
		args = append(args, filter.Semester)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.Day != "" {
		conditions = append(conditions, fmt.Sprintf("day = $%d", len(args)+1))
		args = append(args, string(filter.Day))
	}
	if filter.Published != nil {
		conditions = append(conditions, fmt.Sprintf("is_published = $%d", len(args)+1))
		args = append(args, *filter.Published)
	}

	query := "SELECT " + timetableColumns + " FROM timetable_entries"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY day_index ASC, start_time ASC"

	entries := []models.TimetableEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("query timetable entries: %w", err)
	}
	return entries, nil
}

// FindByID loads an entry by id.
func (r *TimetableRepository) FindByID(ctx context.Context, id string) (*models.TimetableEntry, error) {
	var entry models.TimetableEntry
	if err := r.db.GetContext(ctx, &entry, "SELECT "+timetableColumns+" FROM timetable_entries WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &entry, nil
}

// SetPublished flips the group's publication flag and returns how many entries changed.
// A group without entries is left untouched.
func (r *TimetableRepository) SetPublished(ctx context.Context, departmentID string, semester int, published bool) (changed int64, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin publish timetable: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// An empty group has nothing to publish and gets no publication record.
	var total int
	if err = tx.GetContext(ctx, &total, `SELECT COUNT(*) FROM timetable_entries WHERE department_id = $1 AND semester = $2`, departmentID, semester); err != nil {
		return 0, fmt.Errorf("count timetable group: %w", err)
	}
	if total == 0 {
		if err = tx.Commit(); err != nil {
			return 0, fmt.Errorf("commit publish timetable: %w", err)
		}
		return 0, nil
	}
	if _, err = lockPublication(ctx, tx, departmentID, semester); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `UPDATE timetable_publications SET is_published = $3, updated_at = $4 WHERE department_id = $1 AND semester = $2`, departmentID, semester, published, now); err != nil {
		return 0, fmt.Errorf("update timetable publication: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE timetable_entries SET is_published = $3, updated_at = $4 WHERE department_id = $1 AND semester = $2 AND is_published <> $3`, departmentID, semester, published, now)
	if err != nil {
		return 0, fmt.Errorf("publish timetable entries: %w", err)
	}
	changed, _ = res.RowsAffected()

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit publish timetable: %w", err)
	}
	return changed, nil
}

// PublicationStatus returns the group's record, defaulting to draft when none exists.
func (r *TimetableRepository) PublicationStatus(ctx context.Context, departmentID string, semester int) (*models.PublicationStatus, error) {
	status := models.PublicationStatus{DepartmentID: departmentID, Semester: semester}
	err := r.db.GetContext(ctx, &status, `SELECT department_id, semester, is_published, updated_at FROM timetable_publications WHERE department_id = $1 AND semester = $2`, departmentID, semester)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load timetable publication: %w", err)
	}
	return &status, nil
}

// Delete removes one entry. An emptied group falls back to draft.
func (r *TimetableRepository) Delete(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete timetable entry: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var group models.ClassGroup
	row := tx.QueryRowxContext(ctx, `DELETE FROM timetable_entries WHERE id = $1 RETURNING department_id, semester`, id)
	if err = row.Scan(&group.DepartmentID, &group.Semester); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("delete timetable entry: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE timetable_publications SET is_published = FALSE, updated_at = $3
WHERE department_id = $1 AND semester = $2
AND NOT EXISTS (SELECT 1 FROM timetable_entries WHERE department_id = $1 AND semester = $2)`, group.DepartmentID, group.Semester, time.Now().UTC()); err != nil {
		return fmt.Errorf("reset emptied timetable publication: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete timetable entry: %w", err)
	}
	return nil
}

func (r *TimetableRepository) findOccupant(ctx context.Context, kind models.ConflictKind, entry models.TimetableEntry) (*models.TimetableEntry, error) {
	var query string
	var args []interface{}
	switch kind {
	case models.ConflictTeacherDoubleBooked:
		query = "teacher_id = $1 AND day = $2 AND start_time = $3"
		args = []interface{}{entry.TeacherID, string(entry.Day), entry.StartTime}
	case models.ConflictRoomDoubleBooked:
		query = "room_number = $1 AND day = $2 AND start_time = $3"
		args = []interface{}{entry.RoomNumber, string(entry.Day), entry.StartTime}
	default:
		query = "department_id = $1 AND semester = $2 AND day = $3 AND start_time = $4"
		args = []interface{}{entry.DepartmentID, entry.Semester, string(entry.Day), entry.StartTime}
	}
	var occupant models.TimetableEntry
	if err := r.db.GetContext(ctx, &occupant, "SELECT "+timetableColumns+" FROM timetable_entries WHERE "+query, args...); err != nil {
		return nil, err
	}
	return &occupant, nil
}

func lockPublication(ctx context.Context, tx *sqlx.Tx, departmentID string, semester int) (bool, error) {
	if _, err := tx.ExecContext(ctx, `INSERT INTO timetable_publications (department_id, semester, is_published, updated_at) VALUES ($1, $2, FALSE, $3) ON CONFLICT (department_id, semester) DO NOTHING`, departmentID, semester, time.Now().UTC()); err != nil {
		return false, fmt.Errorf("ensure timetable publication: %w", err)
	}
	var published bool
	if err := tx.GetContext(ctx, &published, `SELECT is_published FROM timetable_publications WHERE department_id = $1 AND semester = $2 FOR UPDATE`, departmentID, semester); err != nil {
		return false, fmt.Errorf("lock timetable publication: %w", err)
	}
	return published, nil
}

func conflictKindFromError(err error) models.ConflictKind {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return models.ConflictNone
	}
	switch pqErr.Constraint {
	case constraintTeacherSlot:
		return models.ConflictTeacherDoubleBooked
	case constraintRoomSlot:
		return models.ConflictRoomDoubleBooked
	case constraintGroupSlot:
		return models.ConflictClassGroupDoubleBooked
	default:
		return models.ConflictNone
	}
}

func prepareEntry(entry *models.TimetableEntry, now time.Time) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.DayIndex = entry.Day.Index()
	entry.RoomNumber = models.NormalizeRoom(entry.RoomNumber)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
}
