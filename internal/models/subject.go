package models

import "time"

// Subject is a course unit taught to a class group, optionally with assigned faculty.
type Subject struct {
	ID           string    `db:"id" json:"id"`
	Code         string    `db:"code" json:"code"`
	Name         string    `db:"name" json:"name"`
	DepartmentID string    `db:"department_id" json:"department_id"`
	Semester     int       `db:"semester" json:"semester"`
	FacultyID    *string   `db:"faculty_id" json:"faculty_id,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// HasFaculty reports whether a teacher is assigned to the subject.
func (s Subject) HasFaculty() bool {
	return s.FacultyID != nil && *s.FacultyID != ""
}
