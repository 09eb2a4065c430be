package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/natsumeaurlia/exam-forge-integrations/internal/models"
)

// LMSRepository persists normalized roster/course/assignment records pulled
// from external LMS providers. Upserts key on (team_id, external_id) so
// repeated syncs converge instead of duplicating.
type LMSRepository struct {
	db *sqlx.DB
}

// NewLMSRepository constructs the repository.
func NewLMSRepository(db *sqlx.DB) *LMSRepository {
	return &LMSRepository{db: db}
}

// UpsertCourse inserts or refreshes one course.
func (r *LMSRepository) UpsertCourse(ctx context.Context, course *models.LMSCourse) error {
	const query = `INSERT INTO lms_courses (id, external_id, team_id, name, section, state, metadata, updated_at)
VALUES (:id, :external_id, :team_id, :name, :section, :state, :metadata, :updated_at)
ON CONFLICT (team_id, external_id)
DO UPDATE SET name = EXCLUDED.name, section = EXCLUDED.section, state = EXCLUDED.state,
              metadata = EXCLUDED.metadata, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("upsert lms course: %w", err)
	}
	return nil
}

// UpsertUser inserts or refreshes one roster member.
func (r *LMSRepository) UpsertUser(ctx context.Context, user *models.LMSUser) error {
	const query = `INSERT INTO lms_users (id, external_id, team_id, course_id, name, email, role, metadata, updated_at)
VALUES (:id, :external_id, :team_id, :course_id, :name, :email, :role, :metadata, :updated_at)
ON CONFLICT (team_id, course_id, external_id)
DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, role = EXCLUDED.role,
              metadata = EXCLUDED.metadata, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("upsert lms user: %w", err)
	}
	return nil
}

// UpsertAssignment inserts or refreshes one coursework item.
func (r *LMSRepository) UpsertAssignment(ctx context.Context, assignment *models.LMSAssignment) error {
	const query = `INSERT INTO lms_assignments (id, external_id, team_id, course_id, title, max_points, due_at, published, metadata, updated_at)
VALUES (:id, :external_id, :team_id, :course_id, :title, :max_points, :due_at, :published, :metadata, :updated_at)
ON CONFLICT (team_id, course_id, external_id)
DO UPDATE SET title = EXCLUDED.title, max_points = EXCLUDED.max_points, due_at = EXCLUDED.due_at,
              published = EXCLUDED.published, metadata = EXCLUDED.metadata, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("upsert lms assignment: %w", err)
	}
	return nil
}
