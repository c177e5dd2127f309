package dto

import "github.com/noah-isme/edulearn-api/internal/models"

// EnrollRequest captures POST /enrollments payload.
type EnrollRequest struct {
	CourseID string `json:"course_id" binding:"required"`
}

// CompletionRequest captures POST /enrollments/:id/completions payload.
type CompletionRequest struct {
	LectureID            string `json:"lecture_id" binding:"required"`
	WatchTime            int64  `json:"watch_time" binding:"min=0"`
	CompletionPercentage int    `json:"completion_percentage" binding:"min=0,max=100"`
}

// RateCourseRequest captures POST /enrollments/:id/rating payload.
type RateCourseRequest struct {
	Score  int     `json:"score" binding:"required,min=1,max=5"`
	Review *string `json:"review,omitempty" binding:"omitempty,max=2000"`
}

// UpdateEnrollmentStatusRequest changes the lifecycle status of an
// enrollment. Reactivation is not supported, so active is not accepted.
type UpdateEnrollmentStatusRequest struct {
	Status models.EnrollmentStatus `json:"status" binding:"required,oneof=dropped suspended"`
}

// ProgressResponse aggregates an enrollment with its per-lecture completions.
type ProgressResponse struct {
	Enrollment  models.Enrollment          `json:"enrollment"`
	Completions []models.LectureCompletion `json:"completions"`
}
