package models

import (
	"sort"
	"time"
)

// TimetableEntry is one scheduled class session for a department/semester class group.
type TimetableEntry struct {
	ID           string    `db:"id" json:"id" bson:"_id"`
	DepartmentID string    `db:"department_id" json:"department_id" bson:"department_id"`
	Semester     int       `db:"semester" json:"semester" bson:"semester"`
	Day          Weekday   `db:"day" json:"day" bson:"day"`
	DayIndex     int       `db:"day_index" json:"-" bson:"day_index"`
	StartTime    string    `db:"start_time" json:"start_time" bson:"start_time"`
	EndTime      string    `db:"end_time" json:"end_time" bson:"end_time"`
	SubjectID    string    `db:"subject_id" json:"subject_id" bson:"subject_id"`
	TeacherID    string    `db:"teacher_id" json:"teacher_id" bson:"teacher_id"`
	RoomNumber   string    `db:"room_number" json:"room_number" bson:"room_number"`
	IsPublished  bool      `db:"is_published" json:"is_published" bson:"is_published"`
	CreatedAt    time.Time `db:"created_at" json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at" bson:"updated_at"`
}

// ClassGroup identifies the cohort an entry belongs to.
func (e TimetableEntry) ClassGroup() ClassGroup {
	return ClassGroup{DepartmentID: e.DepartmentID, Semester: e.Semester}
}

// ClassGroup is the (department, semester) pair sharing one curriculum.
type ClassGroup struct {
	DepartmentID string `json:"department_id"`
	Semester     int    `json:"semester"`
}

// TimetableFilter describes query params for listing timetable entries.
// Zero values are ignored.
type TimetableFilter struct {
	DepartmentID string
	Semester     int
	TeacherID    string
	Day          Weekday
	Published    *bool
}

// PublicationStatus is the explicit draft/published record of a class group.
type PublicationStatus struct {
	DepartmentID string    `db:"department_id" json:"department_id" bson:"department_id"`
	Semester     int       `db:"semester" json:"semester" bson:"semester"`
	IsPublished  bool      `db:"is_published" json:"is_published" bson:"is_published"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at" bson:"updated_at"`
}

// State renders the publication flag as a lifecycle label.
func (p PublicationStatus) State() string {
	if p.IsPublished {
		return "PUBLISHED"
	}
	return "DRAFT"
}

// ConflictKind names the uniqueness invariant a candidate entry violates.
type ConflictKind string

const (
	ConflictNone                   ConflictKind = ""
	ConflictTeacherDoubleBooked    ConflictKind = "TEACHER_DOUBLE_BOOKED"
	ConflictRoomDoubleBooked       ConflictKind = "ROOM_DOUBLE_BOOKED"
	ConflictClassGroupDoubleBooked ConflictKind = "CLASS_GROUP_DOUBLE_BOOKED"
)

// Message returns the user facing explanation for the conflict.
func (k ConflictKind) Message() string {
	switch k {
	case ConflictTeacherDoubleBooked:
		return "teacher already has a class at this time"
	case ConflictRoomDoubleBooked:
		return "room is occupied at this time"
	case ConflictClassGroupDoubleBooked:
		return "this class group already has a session then"
	default:
		return ""
	}
}

// TimetableConflictError is returned when an entry collides with an existing one.
type TimetableConflictError struct {
	Kind     ConflictKind    `json:"kind"`
	Message  string          `json:"message"`
	Existing *TimetableEntry `json:"existing,omitempty"`
}

// NewTimetableConflictError builds a conflict error for the given kind.
func NewTimetableConflictError(kind ConflictKind, existing *TimetableEntry) *TimetableConflictError {
	return &TimetableConflictError{Kind: kind, Message: kind.Message(), Existing: existing}
}

// Error implements the error interface for conflict errors.
func (e *TimetableConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

// SortEntries orders entries by calendar day then start time.
func SortEntries(entries []TimetableEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		di, dj := entries[i].Day.Index(), entries[j].Day.Index()
		if di != dj {
			return di < dj
		}
		return entries[i].StartTime < entries[j].StartTime
	})
}
