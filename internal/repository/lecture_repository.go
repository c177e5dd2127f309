package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/edulearn-api/internal/models"
)

// LectureRepository handles persistence of lectures and their processing state.
type LectureRepository struct {
	db *sqlx.DB
}

// NewLectureRepository constructs the repository.
func NewLectureRepository(db *sqlx.DB) *LectureRepository {
	return &LectureRepository{db: db}
}

const lectureColumns = `id, course_id, title, lecture_order, content_type, text_content,
        processing_status, processing_progress, processing_job_id, processing_error, processed_at, voice_settings,
        audio_url, video_url, thumbnail_url, is_published, published_at, created_at, updated_at`

// Create persists a new lecture record.
func (r *LectureRepository) Create(ctx context.Context, lecture *models.Lecture) error {
	if lecture.ID == "" {
		lecture.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if lecture.CreatedAt.IsZero() {
		lecture.CreatedAt = now
	}
	lecture.UpdatedAt = now
	const query = `INSERT INTO lectures (id, course_id, title, lecture_order, content_type, text_content,
        processing_status, processing_progress, processing_job_id, processing_error, processed_at, voice_settings,
        audio_url, video_url, thumbnail_url, is_published, published_at, created_at, updated_at)
        VALUES (:id, :course_id, :title, :lecture_order, :content_type, :text_content,
        :processing_status, :processing_progress, :processing_job_id, :processing_error, :processed_at, :voice_settings,
        :audio_url, :video_url, :thumbnail_url, :is_published, :published_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, lecture); err != nil {
		return fmt.Errorf("create lecture: %w", err)
	}
	return nil
}

// FindByID returns a lecture by its ID.
func (r *LectureRepository) FindByID(ctx context.Context, id string) (*models.Lecture, error) {
	query := fmt.Sprintf("SELECT %s FROM lectures WHERE id = $1", lectureColumns)
	var lecture models.Lecture
	if err := r.db.GetContext(ctx, &lecture, query, id); err != nil {
		return nil, err
	}
	return &lecture, nil
}

// ListByCourse returns all lectures of a course in display order.
func (r *LectureRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Lecture, error) {
	query := fmt.Sprintf("SELECT %s FROM lectures WHERE course_id = $1 ORDER BY lecture_order ASC", lectureColumns)
	var lectures []models.Lecture
	if err := r.db.SelectContext(ctx, &lectures, query, courseID); err != nil {
		return nil, fmt.Errorf("list lectures: %w", err)
	}
	return lectures, nil
}

// OrderExists checks if a display order is already taken within a course.
func (r *LectureRepository) OrderExists(ctx context.Context, courseID string, order int, excludeID string) (bool, error) {
	query := "SELECT 1 FROM lectures WHERE course_id = $1 AND lecture_order = $2"
	args := []interface{}{courseID, order}
	if excludeID != "" {
		query += fmt.Sprintf(" AND id <> $%d", len(args)+1)
		args = append(args, excludeID)
	}
	query += " LIMIT 1"
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check lecture order: %w", err)
	}
	return true, nil
}

// Update updates the editable content fields of a lecture.
func (r *LectureRepository) Update(ctx context.Context, lecture *models.Lecture) error {
	lecture.UpdatedAt = time.Now().UTC()
	const query = `UPDATE lectures SET title = :title, lecture_order = :lecture_order, content_type = :content_type,
        text_content = :text_content, voice_settings = :voice_settings, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, lecture); err != nil {
		return fmt.Errorf("update lecture: %w", err)
	}
	return nil
}

// UpdateProcessingParams defines the mutable processing fields.
type UpdateProcessingParams struct {
	Status       *models.ProcessingStatus
	Progress     *int
	JobID        *string
	ErrorMessage *string
	ProcessedAt  *time.Time
	AudioURL     *string
	VideoURL     *string
	ThumbnailURL *string
	ClearJobID   bool
	ClearError   bool
	ClearMedia   bool

	// ExpectStatus makes the update a compare-and-set: it is applied only
	// while the row still holds the given status.
	ExpectStatus *models.ProcessingStatus
}

// UpdateProcessing persists processing changes for a lecture. It reports
// whether the update was applied, which is false when ExpectStatus no longer
// matches the stored row.
func (r *LectureRepository) UpdateProcessing(ctx context.Context, id string, params UpdateProcessingParams) (bool, error) {
	set := make([]string, 0, 8)
	args := make([]interface{}, 0, 10)
	argPos := 1

	appendSet := func(column string, value interface{}) {
		set = append(set, fmt.Sprintf("%s = $%d", column, argPos))
		args = append(args, value)
		argPos++
	}

	if params.Status != nil {
		appendSet("processing_status", *params.Status)
	}
	if params.Progress != nil {
		appendSet("processing_progress", *params.Progress)
	}
	if params.JobID != nil {
		appendSet("processing_job_id", *params.JobID)
	} else if params.ClearJobID {
		set = append(set, "processing_job_id = NULL")
	}
	if params.ErrorMessage != nil {
		appendSet("processing_error", *params.ErrorMessage)
	} else if params.ClearError {
		set = append(set, "processing_error = NULL")
	}
	if params.ProcessedAt != nil {
		appendSet("processed_at", *params.ProcessedAt)
	}
	if params.ClearMedia {
		set = append(set, "audio_url = NULL", "video_url = NULL", "thumbnail_url = NULL", "processed_at = NULL")
	} else {
		if params.AudioURL != nil {
			appendSet("audio_url", *params.AudioURL)
		}
		if params.VideoURL != nil {
			appendSet("video_url", *params.VideoURL)
		}
		if params.ThumbnailURL != nil {
			appendSet("thumbnail_url", *params.ThumbnailURL)
		}
	}

	// updated_at always moves, so even a params struct with no field changes
	// still runs the statement and evaluates ExpectStatus.
	appendSet("updated_at", time.Now().UTC())

	query := fmt.Sprintf("UPDATE lectures SET %s WHERE id = $%d", strings.Join(set, ", "), argPos)
	args = append(args, id)
	argPos++

	if params.ExpectStatus != nil {
		query += fmt.Sprintf(" AND processing_status = $%d", argPos)
		args = append(args, *params.ExpectStatus)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update lecture processing: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update lecture processing rows: %w", err)
	}
	return affected > 0, nil
}

// SetPublished flips the published flag and timestamp.
func (r *LectureRepository) SetPublished(ctx context.Context, id string, published bool, publishedAt *time.Time) error {
	const query = `UPDATE lectures SET is_published = $2, published_at = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, published, publishedAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("publish lecture: %w", err)
	}
	return nil
}

// Delete removes a lecture row.
func (r *LectureRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM lectures WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete lecture: %w", err)
	}
	return nil
}

// CountPublishedByCourse returns the number of published lectures in a course.
func (r *LectureRepository) CountPublishedByCourse(ctx context.Context, courseID string) (int, error) {
	const query = `SELECT COUNT(*) FROM lectures WHERE course_id = $1 AND is_published = TRUE`
	var total int
	if err := r.db.GetContext(ctx, &total, query, courseID); err != nil {
		return 0, fmt.Errorf("count published lectures: %w", err)
	}
	return total, nil
}

// ListInProcessing returns lectures currently waiting on the generation service.
func (r *LectureRepository) ListInProcessing(ctx context.Context, limit int) ([]models.Lecture, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM lectures WHERE processing_status = $1 AND processing_job_id IS NOT NULL ORDER BY updated_at ASC LIMIT %d`, lectureColumns, limit)
	var lectures []models.Lecture
	if err := r.db.SelectContext(ctx, &lectures, query, models.ProcessingStatusProcessing); err != nil {
		return nil, fmt.Errorf("list processing lectures: %w", err)
	}
	return lectures, nil
}

// ListStuckProcessing returns lectures stuck in processing since before the cutoff.
func (r *LectureRepository) ListStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.Lecture, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM lectures WHERE processing_status = $1 AND updated_at < $2 ORDER BY updated_at ASC LIMIT %d`, lectureColumns, limit)
	var lectures []models.Lecture
	if err := r.db.SelectContext(ctx, &lectures, query, models.ProcessingStatusProcessing, cutoff); err != nil {
		return nil, fmt.Errorf("list stuck lectures: %w", err)
	}
	return lectures, nil
}

// AppendProcessingLog records a status transition in the append-only log.
func (r *LectureRepository) AppendProcessingLog(ctx context.Context, entry *models.ProcessingLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO lecture_processing_log (id, lecture_id, from_status, to_status, message, created_at)
        VALUES (:id, :lecture_id, :from_status, :to_status, :message, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append processing log: %w", err)
	}
	return nil
}

// ListProcessingLog returns the transition history of a lecture, oldest first.
func (r *LectureRepository) ListProcessingLog(ctx context.Context, lectureID string) ([]models.ProcessingLogEntry, error) {
	const query = `SELECT id, lecture_id, from_status, to_status, message, created_at FROM lecture_processing_log WHERE lecture_id = $1 ORDER BY created_at ASC`
	var entries []models.ProcessingLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, lectureID); err != nil {
		return nil, fmt.Errorf("list processing log: %w", err)
	}
	return entries, nil
}
