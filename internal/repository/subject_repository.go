package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/college-timetable-api/internal/models"
)

// SubjectRepository handles read access to the subject catalogue.
type SubjectRepository struct {
	db *sqlx.DB
}

// NewSubjectRepository creates a new repository instance.
func NewSubjectRepository(db *sqlx.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// ListByDepartmentAndSemester returns a class group's subjects in creation order.
func (r *SubjectRepository) ListByDepartmentAndSemester(ctx context.Context, departmentID string, semester int) ([]models.Subject, error) {
	const query = `SELECT id, code, name, department_id, semester, faculty_id, created_at FROM subjects WHERE department_id = $1 AND semester = $2 ORDER BY created_at ASC, id ASC`
	subjects := []models.Subject{}
	if err := r.db.SelectContext(ctx, &subjects, query, departmentID, semester); err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	return subjects, nil
}
