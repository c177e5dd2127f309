package dto

import "github.com/noah-isme/edulearn-api/internal/models"

// CreateCourseRequest captures POST /courses payload.
type CreateCourseRequest struct {
	Title       string             `json:"title" binding:"required,min=3,max=200"`
	Description string             `json:"description" binding:"required"`
	Category    string             `json:"category" binding:"required"`
	Level       models.CourseLevel `json:"level" binding:"required,oneof=beginner intermediate advanced"`
}

// UpdateCourseRequest captures PUT /courses/:id payload. Nil fields are left
// unchanged.
type UpdateCourseRequest struct {
	Title       *string             `json:"title,omitempty" binding:"omitempty,min=3,max=200"`
	Description *string             `json:"description,omitempty"`
	Category    *string             `json:"category,omitempty"`
	Level       *models.CourseLevel `json:"level,omitempty" binding:"omitempty,oneof=beginner intermediate advanced"`
}

// CourseRatingResponse exposes the aggregate rating of a course.
type CourseRatingResponse struct {
	CourseID string  `json:"course_id"`
	Average  float64 `json:"average"`
	Count    int     `json:"count"`
}
