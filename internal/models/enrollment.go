package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. There is no transition back to active from
// dropped or suspended.
const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusDropped   EnrollmentStatus = "dropped"
	EnrollmentStatusSuspended EnrollmentStatus = "suspended"
)

// Enrollment captures a student's registration to a course and the rolled-up
// progress state maintained by the aggregator.
type Enrollment struct {
	ID        string           `db:"id" json:"id"`
	StudentID string           `db:"student_id" json:"student_id"`
	CourseID  string           `db:"course_id" json:"course_id"`
	Status    EnrollmentStatus `db:"status" json:"status"`

	OverallProgress     int        `db:"overall_progress" json:"overall_progress"`
	TotalWatchTime      int64      `db:"total_watch_time" json:"total_watch_time"`
	LastAccessedLecture *string    `db:"last_accessed_lecture" json:"last_accessed_lecture,omitempty"`
	LastAccessedAt      *time.Time `db:"last_accessed_at" json:"last_accessed_at,omitempty"`

	RatingScore  *int       `db:"rating_score" json:"rating_score,omitempty"`
	RatingReview *string    `db:"rating_review" json:"rating_review,omitempty"`
	RatedAt      *time.Time `db:"rated_at" json:"rated_at,omitempty"`

	CertificatePath *string `db:"certificate_path" json:"-"`

	EnrolledAt  time.Time  `db:"enrolled_at" json:"enrolled_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// LectureCompletion is a per-lecture completion record within an enrollment.
type LectureCompletion struct {
	EnrollmentID         string    `db:"enrollment_id" json:"enrollment_id"`
	LectureID            string    `db:"lecture_id" json:"lecture_id"`
	CompletedAt          time.Time `db:"completed_at" json:"completed_at"`
	WatchTime            int64     `db:"watch_time" json:"watch_time"`
	CompletionPercentage int       `db:"completion_percentage" json:"completion_percentage"`
}

// EnrollmentDetail enriches Enrollment with student and course info.
type EnrollmentDetail struct {
	Enrollment
	StudentName string `db:"student_name" json:"student_name"`
	CourseTitle string `db:"course_title" json:"course_title"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	CourseID  string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
