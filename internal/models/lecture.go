package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// LectureContentType enumerates the supported lecture content kinds.
type LectureContentType string

const (
	ContentTypeText        LectureContentType = "text"
	ContentTypeVideo       LectureContentType = "video"
	ContentTypeAudio       LectureContentType = "audio"
	ContentTypeAIGenerated LectureContentType = "ai-generated"
)

// ProcessingStatus captures the AI generation lifecycle of a lecture.
type ProcessingStatus string

const (
	ProcessingStatusPending    ProcessingStatus = "pending"
	ProcessingStatusProcessing ProcessingStatus = "processing"
	ProcessingStatusCompleted  ProcessingStatus = "completed"
	ProcessingStatusFailed     ProcessingStatus = "failed"
)

// VoiceSettings stores text-to-speech generation preferences as JSONB.
type VoiceSettings struct {
	Voice    string  `json:"voice"`
	Speed    float64 `json:"speed"`
	Language string  `json:"language"`
}

// Value marshals voice settings to JSON for persistence.
func (v VoiceSettings) Value() (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal voice settings: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the settings struct.
func (v *VoiceSettings) Scan(value interface{}) error {
	if value == nil {
		*v = VoiceSettings{}
		return nil
	}
	var data []byte
	switch raw := value.(type) {
	case []byte:
		data = raw
	case string:
		data = []byte(raw)
	default:
		return fmt.Errorf("unsupported voice settings type %T", value)
	}
	if len(data) == 0 {
		*v = VoiceSettings{}
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal voice settings: %w", err)
	}
	return nil
}

// Lecture represents a single ordered unit of course content.
type Lecture struct {
	ID          string             `db:"id" json:"id"`
	CourseID    string             `db:"course_id" json:"course_id"`
	Title       string             `db:"title" json:"title"`
	Order       int                `db:"lecture_order" json:"order"`
	ContentType LectureContentType `db:"content_type" json:"content_type"`
	TextContent *string            `db:"text_content" json:"text_content,omitempty"`

	ProcessingStatus   ProcessingStatus `db:"processing_status" json:"processing_status"`
	ProcessingProgress int              `db:"processing_progress" json:"processing_progress"`
	ProcessingJobID    *string          `db:"processing_job_id" json:"processing_job_id,omitempty"`
	ProcessingError    *string          `db:"processing_error" json:"processing_error,omitempty"`
	ProcessedAt        *time.Time       `db:"processed_at" json:"processed_at,omitempty"`
	VoiceSettings      VoiceSettings    `db:"voice_settings" json:"voice_settings"`

	AudioURL     *string `db:"audio_url" json:"audio_url,omitempty"`
	VideoURL     *string `db:"video_url" json:"video_url,omitempty"`
	ThumbnailURL *string `db:"thumbnail_url" json:"thumbnail_url,omitempty"`

	IsPublished bool       `db:"is_published" json:"is_published"`
	PublishedAt *time.Time `db:"published_at" json:"published_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// DefaultVoiceSettings returns the generation defaults used when a lecture
// does not specify its own.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{Voice: "en-US-standard", Speed: 1.0, Language: "en"}
}

// RequiresProcessing reports whether the lecture needs AI generation before publishing.
func (l *Lecture) RequiresProcessing() bool {
	return l.ContentType == ContentTypeAIGenerated
}

// ProcessingLogEntry is an append-only audit record of a status transition.
type ProcessingLogEntry struct {
	ID         string           `db:"id" json:"id"`
	LectureID  string           `db:"lecture_id" json:"lecture_id"`
	FromStatus ProcessingStatus `db:"from_status" json:"from_status"`
	ToStatus   ProcessingStatus `db:"to_status" json:"to_status"`
	Message    string           `db:"message" json:"message"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
}
