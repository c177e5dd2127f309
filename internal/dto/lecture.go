package dto

import "github.com/noah-isme/edulearn-api/internal/models"

// CreateLectureRequest captures POST /courses/:id/lectures payload.
type CreateLectureRequest struct {
	Title         string                    `json:"title" binding:"required,min=3,max=200"`
	Order         int                       `json:"order" binding:"required,min=1"`
	ContentType   models.LectureContentType `json:"content_type" binding:"required,oneof=text video audio ai-generated"`
	TextContent   *string                   `json:"text_content,omitempty"`
	VideoURL      *string                   `json:"video_url,omitempty" binding:"omitempty,url"`
	AudioURL      *string                   `json:"audio_url,omitempty" binding:"omitempty,url"`
	VoiceSettings *models.VoiceSettings     `json:"voice_settings,omitempty"`
}

// UpdateLectureRequest captures PUT /lectures/:id payload. Nil fields are
// left unchanged.
type UpdateLectureRequest struct {
	Title         *string               `json:"title,omitempty" binding:"omitempty,min=3,max=200"`
	Order         *int                  `json:"order,omitempty" binding:"omitempty,min=1"`
	TextContent   *string               `json:"text_content,omitempty"`
	VoiceSettings *models.VoiceSettings `json:"voice_settings,omitempty"`
}

// ProcessingCallbackRequest is the payload the generation service PUTs back
// while working on a lecture.
type ProcessingCallbackRequest struct {
	Status       models.ProcessingStatus `json:"status" binding:"required,oneof=processing completed failed"`
	Progress     *int                    `json:"progress,omitempty" binding:"omitempty,min=0,max=100"`
	AudioURL     *string                 `json:"audio_url,omitempty"`
	VideoURL     *string                 `json:"video_url,omitempty"`
	ThumbnailURL *string                 `json:"thumbnail_url,omitempty"`
	Error        *string                 `json:"error,omitempty"`
}

// ProcessingStatusResponse exposes the current processing state of a lecture.
type ProcessingStatusResponse struct {
	LectureID    string                      `json:"lecture_id"`
	Status       models.ProcessingStatus     `json:"status"`
	Progress     int                         `json:"progress"`
	JobID        *string                     `json:"job_id,omitempty"`
	Error        *string                     `json:"error,omitempty"`
	AudioURL     *string                     `json:"audio_url,omitempty"`
	VideoURL     *string                     `json:"video_url,omitempty"`
	ThumbnailURL *string                     `json:"thumbnail_url,omitempty"`
	History      []models.ProcessingLogEntry `json:"history,omitempty"`
}
