package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/edulearn-api/internal/models"
)

// CourseRepository handles persistence of courses.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// Create persists a new course record.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if course.CreatedAt.IsZero() {
		course.CreatedAt = now
	}
	course.UpdatedAt = now
	if course.Level == "" {
		course.Level = models.CourseLevelBeginner
	}
	const query = `INSERT INTO courses (id, instructor_id, title, description, category, level, is_published, published_at, rating_average, rating_count, created_at, updated_at)
        VALUES (:id, :instructor_id, :title, :description, :category, :level, :is_published, :published_at, :rating_average, :rating_count, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// FindByID returns a course by its ID.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, instructor_id, title, description, category, level, is_published, published_at, rating_average, rating_count, created_at, updated_at FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// FindDetailByID returns a course with instructor and lecture info.
func (r *CourseRepository) FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error) {
	const query = `SELECT c.id, c.instructor_id, c.title, c.description, c.category, c.level, c.is_published, c.published_at, c.rating_average, c.rating_count, c.created_at, c.updated_at,
        u.full_name AS instructor_name,
        (SELECT COUNT(*) FROM lectures l WHERE l.course_id = c.id) AS lecture_count
        FROM courses c
        LEFT JOIN users u ON u.id = c.instructor_id
        WHERE c.id = $1`
	var detail models.CourseDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns courses filtered by the provided criteria.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	base := `FROM courses c LEFT JOIN users u ON u.id = c.instructor_id`
	var conditions []string
	var args []interface{}

	if filter.InstructorID != "" {
		conditions = append(conditions, fmt.Sprintf("c.instructor_id = $%d", len(args)+1))
		args = append(args, filter.InstructorID)
	}
	if filter.Category != "" {
		conditions = append(conditions, fmt.Sprintf("c.category = $%d", len(args)+1))
		args = append(args, filter.Category)
	}
	if filter.Level != "" {
		conditions = append(conditions, fmt.Sprintf("c.level = $%d", len(args)+1))
		args = append(args, filter.Level)
	}
	if filter.Published != nil {
		conditions = append(conditions, fmt.Sprintf("c.is_published = $%d", len(args)+1))
		args = append(args, *filter.Published)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(c.title) LIKE $%d OR LOWER(c.description) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":     "c.created_at",
		"title":          "c.title",
		"rating_average": "c.rating_average",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "c.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT c.id, c.instructor_id, c.title, c.description, c.category, c.level, c.is_published, c.published_at, c.rating_average, c.rating_count, c.created_at, c.updated_at,
        u.full_name AS instructor_name,
        (SELECT COUNT(*) FROM lectures l WHERE l.course_id = c.id) AS lecture_count
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var courses []models.CourseDetail
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// Update updates mutable fields of a course.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET title = :title, description = :description, category = :category, level = :level, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	return nil
}

// SetPublished flips the published flag and timestamp.
func (r *CourseRepository) SetPublished(ctx context.Context, id string, published bool, publishedAt *time.Time) error {
	const query = `UPDATE courses SET is_published = $2, published_at = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, published, publishedAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("publish course: %w", err)
	}
	return nil
}

// Delete removes a course row.
func (r *CourseRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM courses WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	return nil
}

// RefreshRating recomputes the aggregate rating from all rated enrollments.
// The scan is O(n) over enrollments for the course; fine at this data scale.
func (r *CourseRepository) RefreshRating(ctx context.Context, courseID string) (float64, int, error) {
	const query = `UPDATE courses SET
        rating_average = COALESCE(sub.avg_score, 0),
        rating_count = sub.rated_count,
        updated_at = $2
        FROM (
            SELECT ROUND(AVG(rating_score)::numeric, 1) AS avg_score, COUNT(rating_score) AS rated_count
            FROM enrollments WHERE course_id = $1 AND rating_score IS NOT NULL
        ) AS sub
        WHERE courses.id = $1
        RETURNING courses.rating_average, courses.rating_count`
	var result struct {
		RatingAverage float64 `db:"rating_average"`
		RatingCount   int     `db:"rating_count"`
	}
	if err := r.db.GetContext(ctx, &result, query, courseID, time.Now().UTC()); err != nil {
		return 0, 0, fmt.Errorf("refresh course rating: %w", err)
	}
	return result.RatingAverage, result.RatingCount, nil
}
