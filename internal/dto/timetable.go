package dto

import "github.com/noah-isme/college-timetable-api/internal/models"

// CreateTimetableEntryRequest adds one manual session to a class group.
type CreateTimetableEntryRequest struct {
	DepartmentID string `json:"departmentId" validate:"required"`
	Semester     int    `json:"semester" validate:"required,gt=0"`
	Day          string `json:"day" validate:"required,weekday"`
	StartTime    string `json:"startTime" validate:"required,clock"`
	EndTime      string `json:"endTime" validate:"required,clock"`
	SubjectID    string `json:"subjectId" validate:"required"`
	TeacherID    string `json:"teacherId" validate:"required"`
	RoomNumber   string `json:"roomNumber" validate:"required,max=64"`
}

// GenerateTimetableRequest asks for a fresh draft timetable for a class group.
type GenerateTimetableRequest struct {
	DepartmentID string `json:"departmentId" validate:"required"`
	Semester     int    `json:"semester" validate:"required,gt=0"`
}

// PublishTimetableRequest toggles a class group's visibility to students.
type PublishTimetableRequest struct {
	DepartmentID string `json:"departmentId" validate:"required"`
	Semester     int    `json:"semester" validate:"required,gt=0"`
	Published    *bool  `json:"published" validate:"required"`
}

// TimetableQuery selects a class group view.
type TimetableQuery struct {
	DepartmentID string `form:"departmentId" validate:"required"`
	Semester     int    `form:"semester" validate:"required,gt=0"`
	Day          string `form:"day" validate:"omitempty,weekday"`
}

// ExportTimetableQuery selects a class group and output format.
type ExportTimetableQuery struct {
	DepartmentID string `form:"departmentId" validate:"required"`
	Semester     int    `form:"semester" validate:"required,gt=0"`
	Format       string `form:"format" validate:"omitempty,oneof=csv pdf xlsx"`
}

// PublicationQuery identifies the class group whose publication record is read.
type PublicationQuery struct {
	DepartmentID string `form:"departmentId" validate:"required"`
	Semester     int    `form:"semester" validate:"required,gt=0"`
}

// SkippedTimetableEntry reports a generated session that clashed with another group.
type SkippedTimetableEntry struct {
	Day        models.Weekday      `json:"day"`
	StartTime  string              `json:"startTime"`
	SubjectID  string              `json:"subjectId"`
	TeacherID  string              `json:"teacherId"`
	RoomNumber string              `json:"roomNumber"`
	Reason     models.ConflictKind `json:"reason,omitempty"`
}

// GenerateTimetableResponse summarises a generation run.
type GenerateTimetableResponse struct {
	DepartmentID string                  `json:"departmentId"`
	Semester     int                     `json:"semester"`
	Generated    int                     `json:"generated"`
	Entries      []models.TimetableEntry `json:"entries"`
	Skipped      []SkippedTimetableEntry `json:"skipped"`
}

// PublishTimetableResponse reports how many entries changed state.
type PublishTimetableResponse struct {
	DepartmentID string `json:"departmentId"`
	Semester     int    `json:"semester"`
	Published    bool   `json:"published"`
	Updated      int64  `json:"updated"`
}

// PublicationStatusResponse exposes a class group's lifecycle state.
type PublicationStatusResponse struct {
	models.PublicationStatus
	State string `json:"state"`
}
