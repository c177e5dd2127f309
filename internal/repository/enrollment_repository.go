package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/edulearn-api/internal/models"
)

// EnrollmentRepository handles persistence of enrollments, lecture
// completions and course ratings.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, student_id, course_id, status, overall_progress, total_watch_time,
        last_accessed_lecture, last_accessed_at, rating_score, rating_review, rated_at,
        certificate_path, enrolled_at, completed_at`

// Create persists a new enrollment.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	const query = `INSERT INTO enrollments (id, student_id, course_id, status, overall_progress, total_watch_time,
        last_accessed_lecture, last_accessed_at, rating_score, rating_review, rated_at,
        certificate_path, enrolled_at, completed_at)
        VALUES (:id, :student_id, :course_id, :status, :overall_progress, :total_watch_time,
        :last_accessed_lecture, :last_accessed_at, :rating_score, :rating_review, :rated_at,
        :certificate_path, :enrolled_at, :completed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM enrollments WHERE id = $1", enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByStudentAndCourse returns the enrollment of a student in a course.
func (r *EnrollmentRepository) FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM enrollments WHERE student_id = $1 AND course_id = $2", enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, courseID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ExistsForStudentAndCourse checks whether the student is already enrolled.
func (r *EnrollmentRepository) ExistsForStudentAndCourse(ctx context.Context, studentID, courseID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, studentID, courseID); err != nil {
		return false, fmt.Errorf("check enrollment exists: %w", err)
	}
	return exists, nil
}

// List returns enrollments matching the filter together with a total count.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}
	argPos := 1

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", argPos))
		args = append(args, filter.StudentID)
		argPos++
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", argPos))
		args = append(args, filter.CourseID)
		argPos++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", argPos))
		args = append(args, filter.Status)
		argPos++
	}

	where := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM enrollments e WHERE %s", where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}

	sortBy := "e.enrolled_at"
	switch filter.SortBy {
	case "enrolled_at", "overall_progress", "total_watch_time", "completed_at":
		sortBy = "e." + filter.SortBy
	}
	sortOrder := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		sortOrder = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	query := fmt.Sprintf(`SELECT e.*, u.full_name AS student_name, c.title AS course_title
        FROM enrollments e
        JOIN users u ON u.id = e.student_id
        JOIN courses c ON c.id = e.course_id
        WHERE %s ORDER BY %s %s LIMIT $%d OFFSET $%d`, where, sortBy, sortOrder, argPos, argPos+1)
	args = append(args, pageSize, (page-1)*pageSize)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}
	return enrollments, total, nil
}

// RecordCompletion applies a lecture completion inside a single transaction:
// it upserts the per-lecture row keeping the maximum watch time and
// percentage seen so far, adds the reported watch time to the enrollment
// total, recomputes overall progress and, the first time progress reaches
// 100, marks the enrollment completed. It returns the refreshed enrollment
// and whether this call triggered the completed transition.
func (r *EnrollmentRepository) RecordCompletion(ctx context.Context, enrollmentID string, completion *models.LectureCompletion) (*models.Enrollment, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin record completion: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf("SELECT %s FROM enrollments WHERE id = $1 FOR UPDATE", enrollmentColumns)
	var enrollment models.Enrollment
	if err := tx.GetContext(ctx, &enrollment, query, enrollmentID); err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	if completion.CompletedAt.IsZero() {
		completion.CompletedAt = now
	}

	// The original completed_at is kept on repeat completions.
	const upsert = `INSERT INTO lecture_completions (enrollment_id, lecture_id, completed_at, watch_time, completion_percentage)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (enrollment_id, lecture_id) DO UPDATE SET
            watch_time = GREATEST(lecture_completions.watch_time, EXCLUDED.watch_time),
            completion_percentage = GREATEST(lecture_completions.completion_percentage, EXCLUDED.completion_percentage)`
	if _, err := tx.ExecContext(ctx, upsert,
		enrollmentID, completion.LectureID, completion.CompletedAt, completion.WatchTime, completion.CompletionPercentage); err != nil {
		return nil, false, fmt.Errorf("upsert lecture completion: %w", err)
	}

	var completedCount int
	if err := tx.GetContext(ctx, &completedCount,
		`SELECT COUNT(*) FROM lecture_completions WHERE enrollment_id = $1`, enrollmentID); err != nil {
		return nil, false, fmt.Errorf("count lecture completions: %w", err)
	}

	var totalLectures int
	if err := tx.GetContext(ctx, &totalLectures,
		`SELECT COUNT(*) FROM lectures WHERE course_id = $1`, enrollment.CourseID); err != nil {
		return nil, false, fmt.Errorf("count course lectures: %w", err)
	}

	progress := enrollment.OverallProgress
	if totalLectures > 0 {
		progress = int(math.Round(100 * float64(completedCount) / float64(totalLectures)))
	}

	enrollment.OverallProgress = progress
	enrollment.TotalWatchTime += completion.WatchTime
	enrollment.LastAccessedLecture = &completion.LectureID
	enrollment.LastAccessedAt = &now

	completedNow := false
	if progress >= 100 && enrollment.Status == models.EnrollmentStatusActive {
		completedNow = true
		enrollment.Status = models.EnrollmentStatusCompleted
		enrollment.CompletedAt = &now
	}

	const update = `UPDATE enrollments SET status = $2, overall_progress = $3, total_watch_time = $4,
        last_accessed_lecture = $5, last_accessed_at = $6, completed_at = $7 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, update,
		enrollment.ID, enrollment.Status, enrollment.OverallProgress, enrollment.TotalWatchTime,
		enrollment.LastAccessedLecture, enrollment.LastAccessedAt, enrollment.CompletedAt); err != nil {
		return nil, false, fmt.Errorf("update enrollment progress: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit record completion: %w", err)
	}
	return &enrollment, completedNow, nil
}

// ListCompletions returns the per-lecture completion rows of an enrollment.
func (r *EnrollmentRepository) ListCompletions(ctx context.Context, enrollmentID string) ([]models.LectureCompletion, error) {
	const query = `SELECT enrollment_id, lecture_id, completed_at, watch_time, completion_percentage
        FROM lecture_completions WHERE enrollment_id = $1 ORDER BY completed_at ASC`
	var completions []models.LectureCompletion
	if err := r.db.SelectContext(ctx, &completions, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list lecture completions: %w", err)
	}
	return completions, nil
}

// Rate stores a one-time course rating on the enrollment. It reports false
// when the enrollment was already rated.
func (r *EnrollmentRepository) Rate(ctx context.Context, enrollmentID string, score int, review *string) (bool, error) {
	const query = `UPDATE enrollments SET rating_score = $2, rating_review = $3, rated_at = $4
        WHERE id = $1 AND rating_score IS NULL`
	result, err := r.db.ExecContext(ctx, query, enrollmentID, score, review, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("rate enrollment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rate enrollment rows: %w", err)
	}
	return affected > 0, nil
}

// UpdateStatus sets a new enrollment status.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	const query = `UPDATE enrollments SET status = $2 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update enrollment status rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetCertificatePath stores the generated certificate location.
func (r *EnrollmentRepository) SetCertificatePath(ctx context.Context, id, path string) error {
	const query = `UPDATE enrollments SET certificate_path = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, path); err != nil {
		return fmt.Errorf("set certificate path: %w", err)
	}
	return nil
}
