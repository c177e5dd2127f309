package models

import "time"

// CourseLevel describes the intended audience of a course.
type CourseLevel string

// Supported course levels.
const (
	CourseLevelBeginner     CourseLevel = "beginner"
	CourseLevelIntermediate CourseLevel = "intermediate"
	CourseLevelAdvanced     CourseLevel = "advanced"
)

// Course represents an instructor-owned course with its aggregate rating.
type Course struct {
	ID            string      `db:"id" json:"id"`
	InstructorID  string      `db:"instructor_id" json:"instructor_id"`
	Title         string      `db:"title" json:"title"`
	Description   string      `db:"description" json:"description"`
	Category      string      `db:"category" json:"category"`
	Level         CourseLevel `db:"level" json:"level"`
	IsPublished   bool        `db:"is_published" json:"is_published"`
	PublishedAt   *time.Time  `db:"published_at" json:"published_at,omitempty"`
	RatingAverage float64     `db:"rating_average" json:"rating_average"`
	RatingCount   int         `db:"rating_count" json:"rating_count"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`
}

// CourseDetail enriches Course with instructor and content info.
type CourseDetail struct {
	Course
	InstructorName string `db:"instructor_name" json:"instructor_name"`
	LectureCount   int    `db:"lecture_count" json:"lecture_count"`
}

// CourseFilter provides filters for listing courses.
type CourseFilter struct {
	InstructorID string
	Category     string
	Level        CourseLevel
	Published    *bool
	Search       string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
