package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleStaff   UserRole = "STAFF"
	RoleStudent UserRole = "STUDENT"
)

// CanTeach reports whether the role may be assigned as a session teacher.
func (r UserRole) CanTeach() bool {
	return r == RoleStaff || r == RoleAdmin
}

// User is the shared identity record for administrators, staff and students.
type User struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	FullName  string    `db:"full_name" json:"full_name"`
	Role      UserRole  `db:"role" json:"role"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StudentProfile carries the student specific enrolment fields.
type StudentProfile struct {
	UserID       string `db:"user_id" json:"user_id"`
	DepartmentID string `db:"department_id" json:"department_id"`
	Semester     int    `db:"semester" json:"semester"`
	RollNumber   string `db:"roll_number" json:"roll_number"`
}
