package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/natsumeaurlia/exam-forge-integrations/internal/models"
)

func TestLMSRepositoryUpsertCourse(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewLMSRepository(db)
	mock.ExpectExec("INSERT INTO lms_courses").
		WillReturnResult(sqlmock.NewResult(1, 1))

	section := "A"
	require.NoError(t, repo.UpsertCourse(context.Background(), &models.LMSCourse{
		ID:         "c-1",
		ExternalID: "ext-c-1",
		TeamID:     "team-1",
		Name:       "Algebra",
		Section:    &section,
		State:      "ACTIVE",
		Metadata:   models.JSONMap{"courseState": "ACTIVE"},
		UpdatedAt:  time.Now().UTC(),
	}))
}

func TestLMSRepositoryUpsertUser(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewLMSRepository(db)
	mock.ExpectExec("INSERT INTO lms_users").
		WillReturnResult(sqlmock.NewResult(1, 1))

	email := "u1@school.test"
	require.NoError(t, repo.UpsertUser(context.Background(), &models.LMSUser{
		ID:         "u-1",
		ExternalID: "ext-u-1",
		TeamID:     "team-1",
		CourseID:   "ext-c-1",
		Name:       "Student One",
		Email:      &email,
		Role:       models.LMSRoleStudent,
		UpdatedAt:  time.Now().UTC(),
	}))
}

func TestLMSRepositoryUpsertAssignment(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewLMSRepository(db)
	mock.ExpectExec("INSERT INTO lms_assignments").
		WillReturnResult(sqlmock.NewResult(1, 1))

	points := 100.0
	require.NoError(t, repo.UpsertAssignment(context.Background(), &models.LMSAssignment{
		ID:         "a-1",
		ExternalID: "ext-a-1",
		TeamID:     "team-1",
		CourseID:   "ext-c-1",
		Title:      "Midterm quiz",
		MaxPoints:  &points,
		Published:  true,
		UpdatedAt:  time.Now().UTC(),
	}))
}
