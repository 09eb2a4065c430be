package models

import "time"

// LMSCourse is the normalized course shape persisted from an external LMS.
type LMSCourse struct {
	ID         string    `db:"id" json:"id"`
	ExternalID string    `db:"external_id" json:"external_id"`
	TeamID     string    `db:"team_id" json:"team_id"`
	Name       string    `db:"name" json:"name"`
	Section    *string   `db:"section" json:"section,omitempty"`
	State      string    `db:"state" json:"state"`
	Metadata   JSONMap   `db:"metadata" json:"metadata,omitempty"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// LMSRole distinguishes roster membership kinds.
type LMSRole string

const (
	LMSRoleStudent LMSRole = "student"
	LMSRoleTeacher LMSRole = "teacher"
)

// LMSUser is a normalized roster member.
type LMSUser struct {
	ID         string    `db:"id" json:"id"`
	ExternalID string    `db:"external_id" json:"external_id"`
	TeamID     string    `db:"team_id" json:"team_id"`
	CourseID   string    `db:"course_id" json:"course_id"`
	Name       string    `db:"name" json:"name"`
	Email      *string   `db:"email" json:"email,omitempty"`
	Role       LMSRole   `db:"role" json:"role"`
	Metadata   JSONMap   `db:"metadata" json:"metadata,omitempty"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// LMSAssignment is a normalized coursework item.
type LMSAssignment struct {
	ID         string     `db:"id" json:"id"`
	ExternalID string     `db:"external_id" json:"external_id"`
	TeamID     string     `db:"team_id" json:"team_id"`
	CourseID   string     `db:"course_id" json:"course_id"`
	Title      string     `db:"title" json:"title"`
	MaxPoints  *float64   `db:"max_points" json:"max_points,omitempty"`
	DueAt      *time.Time `db:"due_at" json:"due_at,omitempty"`
	Published  bool       `db:"published" json:"published"`
	Metadata   JSONMap    `db:"metadata" json:"metadata,omitempty"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// GradeData carries one score push to an external submission record.
type GradeData struct {
	CourseID     string  `json:"course_id"`
	AssignmentID string  `json:"assignment_id"`
	UserID       string  `json:"user_id"`
	Grade        float64 `json:"grade"`
	MaxScore     float64 `json:"max_score"`
}
