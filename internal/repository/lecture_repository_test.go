package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edulearn-api/internal/models"
)

func newLectureRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var lectureRows = []string{
	"id", "course_id", "title", "lecture_order", "content_type", "text_content",
	"processing_status", "processing_progress", "processing_job_id", "processing_error", "processed_at", "voice_settings",
	"audio_url", "video_url", "thumbnail_url", "is_published", "published_at", "created_at", "updated_at",
}

func TestLectureRepositoryCreateAndFind(t *testing.T) {
	db, mock, cleanup := newLectureRepoMock(t)
	defer cleanup()

	repo := NewLectureRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lectures")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	lecture := &models.Lecture{
		CourseID:         "course-1",
		Title:            "Introduction",
		Order:            1,
		ContentType:      models.ContentTypeAIGenerated,
		TextContent:      strPtr("Welcome to the course."),
		ProcessingStatus: models.ProcessingStatusPending,
	}
	require.NoError(t, repo.Create(context.Background(), lecture))
	require.NotEmpty(t, lecture.ID)

	rows := sqlmock.NewRows(lectureRows).
		AddRow(lecture.ID, "course-1", "Introduction", 1, "ai-generated", "Welcome to the course.",
			"pending", 0, nil, nil, nil, nil,
			nil, nil, nil, false, nil, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, course_id, title")).
		WithArgs(lecture.ID).
		WillReturnRows(rows)

	found, err := repo.FindByID(context.Background(), lecture.ID)
	require.NoError(t, err)
	require.Equal(t, models.ProcessingStatusPending, found.ProcessingStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLectureRepositoryOrderExists(t *testing.T) {
	db, mock, cleanup := newLectureRepoMock(t)
	defer cleanup()

	repo := NewLectureRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM lectures WHERE course_id = $1 AND lecture_order = $2")).
		WithArgs("course-1", 3).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	taken, err := repo.OrderExists(context.Background(), "course-1", 3, "")
	require.NoError(t, err)
	require.True(t, taken)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM lectures WHERE course_id = $1 AND lecture_order = $2 AND id <> $3")).
		WithArgs("course-1", 3, "lec-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	taken, err = repo.OrderExists(context.Background(), "course-1", 3, "lec-1")
	require.NoError(t, err)
	require.False(t, taken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLectureRepositoryUpdateProcessingCompareAndSet(t *testing.T) {
	db, mock, cleanup := newLectureRepoMock(t)
	defer cleanup()

	repo := NewLectureRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE lectures SET processing_status = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	processing := models.ProcessingStatusProcessing
	pending := models.ProcessingStatusPending
	jobID := "job-42"
	applied, err := repo.UpdateProcessing(context.Background(), "lec-1", UpdateProcessingParams{
		Status:       &processing,
		JobID:        &jobID,
		ExpectStatus: &pending,
	})
	require.NoError(t, err)
	require.True(t, applied)

	// Second transition attempt loses the race: no row matches.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE lectures SET processing_status = $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err = repo.UpdateProcessing(context.Background(), "lec-1", UpdateProcessingParams{
		Status:       &processing,
		ExpectStatus: &pending,
	})
	require.NoError(t, err)
	require.False(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLectureRepositoryUpdateProcessingEmptyParamsStillChecksStatus(t *testing.T) {
	db, mock, cleanup := newLectureRepoMock(t)
	defer cleanup()

	repo := NewLectureRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE lectures SET updated_at = $1 WHERE id = $2 AND processing_status = $3")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	processing := models.ProcessingStatusProcessing
	applied, err := repo.UpdateProcessing(context.Background(), "lec-1", UpdateProcessingParams{
		ExpectStatus: &processing,
	})
	require.NoError(t, err)
	require.False(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLectureRepositoryUpdateProcessingClearsMediaOnReprocess(t *testing.T) {
	db, mock, cleanup := newLectureRepoMock(t)
	defer cleanup()

	repo := NewLectureRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("audio_url = NULL, video_url = NULL, thumbnail_url = NULL, processed_at = NULL")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	pending := models.ProcessingStatusPending
	failed := models.ProcessingStatusFailed
	progress := 0
	applied, err := repo.UpdateProcessing(context.Background(), "lec-1", UpdateProcessingParams{
		Status:       &pending,
		Progress:     &progress,
		ClearJobID:   true,
		ClearError:   true,
		ClearMedia:   true,
		ExpectStatus: &failed,
	})
	require.NoError(t, err)
	require.True(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLectureRepositoryListStuckProcessing(t *testing.T) {
	db, mock, cleanup := newLectureRepoMock(t)
	defer cleanup()

	repo := NewLectureRepository(db)
	cutoff := time.Now().Add(-30 * time.Minute)
	rows := sqlmock.NewRows(lectureRows).
		AddRow("lec-1", "course-1", "Stalled", 1, "ai-generated", "text",
			"processing", 40, "job-1", nil, nil, nil,
			nil, nil, nil, false, nil, time.Now().Add(-time.Hour), time.Now().Add(-time.Hour))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE processing_status = $1 AND updated_at < $2")).
		WithArgs("processing", cutoff).
		WillReturnRows(rows)

	stuck, err := repo.ListStuckProcessing(context.Background(), cutoff, 10)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	require.Equal(t, "lec-1", stuck[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLectureRepositoryProcessingLog(t *testing.T) {
	db, mock, cleanup := newLectureRepoMock(t)
	defer cleanup()

	repo := NewLectureRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lecture_processing_log")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	entry := &models.ProcessingLogEntry{
		LectureID:  "lec-1",
		FromStatus: models.ProcessingStatusPending,
		ToStatus:   models.ProcessingStatusProcessing,
		Message:    "dispatched to generation service",
	}
	require.NoError(t, repo.AppendProcessingLog(context.Background(), entry))
	require.NotEmpty(t, entry.ID)

	rows := sqlmock.NewRows([]string{"id", "lecture_id", "from_status", "to_status", "message", "created_at"}).
		AddRow(entry.ID, "lec-1", "pending", "processing", entry.Message, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM lecture_processing_log WHERE lecture_id = $1")).
		WithArgs("lec-1").
		WillReturnRows(rows)

	entries, err := repo.ListProcessingLog(context.Background(), "lec-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, models.ProcessingStatusProcessing, entries[0].ToStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func strPtr(s string) *string { return &s }
