package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edulearn-api/internal/models"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var enrollmentRows = []string{
	"id", "student_id", "course_id", "status", "overall_progress", "total_watch_time",
	"last_accessed_lecture", "last_accessed_at", "rating_score", "rating_review", "rated_at",
	"certificate_path", "enrolled_at", "completed_at",
}

func activeEnrollmentRow(progress int, watchTime int64) *sqlmock.Rows {
	return sqlmock.NewRows(enrollmentRows).
		AddRow("enroll-1", "student-1", "course-1", "active", progress, watchTime,
			nil, nil, nil, nil, nil,
			nil, time.Now().Add(-24*time.Hour), nil)
}

func TestEnrollmentRepositoryCreateAndFind(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	enrollment := &models.Enrollment{
		StudentID: "student-1",
		CourseID:  "course-1",
		Status:    models.EnrollmentStatusActive,
	}
	require.NoError(t, repo.Create(context.Background(), enrollment))
	require.NotEmpty(t, enrollment.ID)

	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE student_id = $1 AND course_id = $2")).
		WithArgs("student-1", "course-1").
		WillReturnRows(activeEnrollmentRow(0, 0))

	found, err := repo.FindByStudentAndCourse(context.Background(), "student-1", "course-1")
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusActive, found.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryRecordCompletionUpdatesProgress(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs("enroll-1").
		WillReturnRows(activeEnrollmentRow(50, 600))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lecture_completions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM lecture_completions")).
		WithArgs("enroll-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM lectures")).
		WithArgs("course-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	enrollment, completedNow, err := repo.RecordCompletion(context.Background(), "enroll-1", &models.LectureCompletion{
		LectureID:            "lec-3",
		WatchTime:            300,
		CompletionPercentage: 100,
	})
	require.NoError(t, err)
	require.False(t, completedNow)
	require.Equal(t, 75, enrollment.OverallProgress)
	require.Equal(t, int64(900), enrollment.TotalWatchTime)
	require.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	require.Nil(t, enrollment.CompletedAt)
	require.NotNil(t, enrollment.LastAccessedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryRecordCompletionZeroLecturesKeepsProgress(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs("enroll-1").
		WillReturnRows(activeEnrollmentRow(50, 600))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lecture_completions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM lecture_completions")).
		WithArgs("enroll-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM lectures")).
		WithArgs("course-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	enrollment, completedNow, err := repo.RecordCompletion(context.Background(), "enroll-1", &models.LectureCompletion{
		LectureID:            "lec-1",
		WatchTime:            300,
		CompletionPercentage: 100,
	})
	require.NoError(t, err)
	require.False(t, completedNow)
	// A course with no lectures cannot move progress; watch time still adds up.
	require.Equal(t, 50, enrollment.OverallProgress)
	require.Equal(t, int64(900), enrollment.TotalWatchTime)
	require.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	require.Nil(t, enrollment.CompletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryRecordCompletionMarksCompletedOnce(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs("enroll-1").
		WillReturnRows(activeEnrollmentRow(75, 900))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lecture_completions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM lecture_completions")).
		WithArgs("enroll-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM lectures")).
		WithArgs("course-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	enrollment, completedNow, err := repo.RecordCompletion(context.Background(), "enroll-1", &models.LectureCompletion{
		LectureID:            "lec-4",
		WatchTime:            200,
		CompletionPercentage: 100,
	})
	require.NoError(t, err)
	require.True(t, completedNow)
	require.Equal(t, 100, enrollment.OverallProgress)
	require.Equal(t, models.EnrollmentStatusCompleted, enrollment.Status)
	require.NotNil(t, enrollment.CompletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryRecordCompletionRepeatKeepsCompletedAt(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)

	completedAt := time.Now().Add(-time.Hour)
	completedRow := sqlmock.NewRows(enrollmentRows).
		AddRow("enroll-1", "student-1", "course-1", "completed", 100, 1100,
			"lec-4", time.Now().Add(-time.Hour), nil, nil, nil,
			nil, time.Now().Add(-48*time.Hour), completedAt)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs("enroll-1").
		WillReturnRows(completedRow)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lecture_completions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM lecture_completions")).
		WithArgs("enroll-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM lectures")).
		WithArgs("course-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	enrollment, completedNow, err := repo.RecordCompletion(context.Background(), "enroll-1", &models.LectureCompletion{
		LectureID:            "lec-4",
		WatchTime:            200,
		CompletionPercentage: 100,
	})
	require.NoError(t, err)
	require.False(t, completedNow)
	// Total watch time is additive on every call even for repeats.
	require.Equal(t, int64(1300), enrollment.TotalWatchTime)
	require.Equal(t, completedAt.Unix(), enrollment.CompletedAt.Unix())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryRateIsWriteOnce(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND rating_score IS NULL")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	review := "great course"
	applied, err := repo.Rate(context.Background(), "enroll-1", 5, &review)
	require.NoError(t, err)
	require.True(t, applied)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND rating_score IS NULL")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err = repo.Rate(context.Background(), "enroll-1", 4, nil)
	require.NoError(t, err)
	require.False(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryUpdateStatusMissingRow(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2")).
		WithArgs("missing", "dropped").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "missing", models.EnrollmentStatusDropped)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
