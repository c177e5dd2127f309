package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/edulearn-api/internal/dto"
	"github.com/noah-isme/edulearn-api/internal/models"
	"github.com/noah-isme/edulearn-api/internal/repository"
	appErrors "github.com/noah-isme/edulearn-api/pkg/errors"
	"github.com/noah-isme/edulearn-api/pkg/jobs"
	"github.com/noah-isme/edulearn-api/pkg/mlclient"
)

// JobTypeLectureProcessing is the queue job type for generation hand-off.
const JobTypeLectureProcessing = "lecture-processing"

type lectureStore interface {
	Create(ctx context.Context, lecture *models.Lecture) error
	FindByID(ctx context.Context, id string) (*models.Lecture, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Lecture, error)
	OrderExists(ctx context.Context, courseID string, order int, excludeID string) (bool, error)
	Update(ctx context.Context, lecture *models.Lecture) error
	UpdateProcessing(ctx context.Context, id string, params repository.UpdateProcessingParams) (bool, error)
	SetPublished(ctx context.Context, id string, published bool, publishedAt *time.Time) error
	Delete(ctx context.Context, id string) error
	ListInProcessing(ctx context.Context, limit int) ([]models.Lecture, error)
	ListStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.Lecture, error)
	AppendProcessingLog(ctx context.Context, entry *models.ProcessingLogEntry) error
	ListProcessingLog(ctx context.Context, lectureID string) ([]models.ProcessingLogEntry, error)
}

type lectureCourseStore interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type generationClient interface {
	StartJob(ctx context.Context, req mlclient.StartJobRequest) (*mlclient.StartJobResponse, error)
	JobStatus(ctx context.Context, jobID string) (*mlclient.JobStatusResponse, error)
}

type lectureJobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type transitionRecorder interface {
	RecordProcessingTransition(from, to models.ProcessingStatus)
}

// LectureServiceConfig governs generation recovery behaviour.
type LectureServiceConfig struct {
	ProcessingTimeout time.Duration
}

// LectureService manages lectures and drives the generation state machine.
type LectureService struct {
	repo    lectureStore
	courses lectureCourseStore
	ml      generationClient
	queue   lectureJobDispatcher
	metrics transitionRecorder
	policy  *Policy
	logger  *zap.Logger
	cfg     LectureServiceConfig
}

// NewLectureService constructs the lecture service.
func NewLectureService(repo lectureStore, courses lectureCourseStore, ml generationClient, queue lectureJobDispatcher, metrics transitionRecorder, policy *Policy, logger *zap.Logger, cfg LectureServiceConfig) *LectureService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = NewPolicy()
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = 30 * time.Minute
	}
	return &LectureService{
		repo:    repo,
		courses: courses,
		ml:      ml,
		queue:   queue,
		metrics: metrics,
		policy:  policy,
		logger:  logger,
		cfg:     cfg,
	}
}

// Create adds a lecture to a course. Lectures with generated content enter
// the pipeline in pending and are handed off asynchronously, so the response
// never waits on the generation service.
func (s *LectureService) Create(ctx context.Context, claims *models.JWTClaims, courseID string, req dto.CreateLectureRequest) (*models.Lecture, error) {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanManageCourse(claims, course); err != nil {
		return nil, err
	}

	taken, err := s.repo.OrderExists(ctx, courseID, req.Order, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check lecture order")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "lecture order is already used in this course")
	}

	lecture := &models.Lecture{
		CourseID:      courseID,
		Title:         req.Title,
		Order:         req.Order,
		ContentType:   req.ContentType,
		TextContent:   req.TextContent,
		AudioURL:      req.AudioURL,
		VideoURL:      req.VideoURL,
		VoiceSettings: models.DefaultVoiceSettings(),
	}
	if req.VoiceSettings != nil {
		lecture.VoiceSettings = *req.VoiceSettings
	}

	if lecture.RequiresProcessing() {
		if req.TextContent == nil || *req.TextContent == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "generated lectures require text content")
		}
		lecture.ProcessingStatus = models.ProcessingStatusPending
		lecture.ProcessingProgress = 0
	} else {
		lecture.ProcessingStatus = models.ProcessingStatusCompleted
		lecture.ProcessingProgress = 100
	}

	if err := s.repo.Create(ctx, lecture); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create lecture")
	}

	if lecture.RequiresProcessing() {
		s.dispatch(ctx, lecture)
	}
	return lecture, nil
}

// Get returns a lecture by ID.
func (s *LectureService) Get(ctx context.Context, id string) (*models.Lecture, error) {
	return s.loadLecture(ctx, id)
}

// ListByCourse returns a course's lectures in display order.
func (s *LectureService) ListByCourse(ctx context.Context, courseID string) ([]models.Lecture, error) {
	if _, err := s.loadCourse(ctx, courseID); err != nil {
		return nil, err
	}
	lectures, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lectures")
	}
	return lectures, nil
}

// Update applies partial changes. Content edits on a generated lecture send
// it back to pending and trigger a fresh hand-off.
func (s *LectureService) Update(ctx context.Context, claims *models.JWTClaims, id string, req dto.UpdateLectureRequest) (*models.Lecture, error) {
	lecture, err := s.loadLecture(ctx, id)
	if err != nil {
		return nil, err
	}
	course, err := s.loadCourse(ctx, lecture.CourseID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanManageCourse(claims, course); err != nil {
		return nil, err
	}

	if req.Order != nil && *req.Order != lecture.Order {
		taken, err := s.repo.OrderExists(ctx, lecture.CourseID, *req.Order, lecture.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check lecture order")
		}
		if taken {
			return nil, appErrors.Clone(appErrors.ErrConflict, "lecture order is already used in this course")
		}
		lecture.Order = *req.Order
	}
	if req.Title != nil {
		lecture.Title = *req.Title
	}

	retrigger := false
	if req.TextContent != nil {
		lecture.TextContent = req.TextContent
		retrigger = lecture.RequiresProcessing()
	}
	if req.VoiceSettings != nil {
		lecture.VoiceSettings = *req.VoiceSettings
		retrigger = retrigger || lecture.RequiresProcessing()
	}
	if retrigger && (lecture.TextContent == nil || *lecture.TextContent == "") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "generated lectures require text content")
	}

	if err := s.repo.Update(ctx, lecture); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update lecture")
	}

	if retrigger {
		if err := s.resetToPending(ctx, lecture, "content changed, regeneration queued"); err != nil {
			return nil, err
		}
		s.dispatch(ctx, lecture)
	}
	return lecture, nil
}

// Publish makes a lecture visible to students. Generated lectures publish
// only once generation has completed.
func (s *LectureService) Publish(ctx context.Context, claims *models.JWTClaims, id string) (*models.Lecture, error) {
	lecture, err := s.loadLecture(ctx, id)
	if err != nil {
		return nil, err
	}
	course, err := s.loadCourse(ctx, lecture.CourseID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanManageCourse(claims, course); err != nil {
		return nil, err
	}

	if lecture.RequiresProcessing() && lecture.ProcessingStatus != models.ProcessingStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "generation must reach completed before publishing")
	}

	now := time.Now().UTC()
	if err := s.repo.SetPublished(ctx, id, true, &now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to publish lecture")
	}
	lecture.IsPublished = true
	lecture.PublishedAt = &now
	return lecture, nil
}

// Unpublish hides a lecture from students.
func (s *LectureService) Unpublish(ctx context.Context, claims *models.JWTClaims, id string) (*models.Lecture, error) {
	lecture, err := s.loadLecture(ctx, id)
	if err != nil {
		return nil, err
	}
	course, err := s.loadCourse(ctx, lecture.CourseID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanManageCourse(claims, course); err != nil {
		return nil, err
	}
	if err := s.repo.SetPublished(ctx, id, false, nil); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to unpublish lecture")
	}
	lecture.IsPublished = false
	lecture.PublishedAt = nil
	return lecture, nil
}

// Delete removes a lecture.
func (s *LectureService) Delete(ctx context.Context, claims *models.JWTClaims, id string) error {
	lecture, err := s.loadLecture(ctx, id)
	if err != nil {
		return err
	}
	course, err := s.loadCourse(ctx, lecture.CourseID)
	if err != nil {
		return err
	}
	if err := s.policy.CanManageCourse(claims, course); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete lecture")
	}
	return nil
}

// Reprocess re-queues a failed generation. The stored text is reused, media
// references and the previous error are cleared.
func (s *LectureService) Reprocess(ctx context.Context, claims *models.JWTClaims, id string) (*models.Lecture, error) {
	lecture, err := s.loadLecture(ctx, id)
	if err != nil {
		return nil, err
	}
	course, err := s.loadCourse(ctx, lecture.CourseID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanManageCourse(claims, course); err != nil {
		return nil, err
	}

	if lecture.ProcessingStatus != models.ProcessingStatusFailed {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only failed lectures can be reprocessed")
	}

	pending := models.ProcessingStatusPending
	failed := models.ProcessingStatusFailed
	progress := 0
	applied, err := s.repo.UpdateProcessing(ctx, id, repository.UpdateProcessingParams{
		Status:       &pending,
		Progress:     &progress,
		ClearJobID:   true,
		ClearError:   true,
		ClearMedia:   true,
		ExpectStatus: &failed,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset lecture")
	}
	if !applied {
		return nil, appErrors.Clone(appErrors.ErrConflict, "lecture state changed, reload and retry")
	}

	s.recordTransition(ctx, lecture.ID, failed, pending, "reprocess requested")
	lecture.ProcessingStatus = pending
	lecture.ProcessingProgress = 0
	lecture.ProcessingJobID = nil
	lecture.ProcessingError = nil
	lecture.AudioURL = nil
	lecture.VideoURL = nil
	lecture.ThumbnailURL = nil
	lecture.ProcessedAt = nil

	s.dispatch(ctx, lecture)
	return lecture, nil
}

// ProcessingStatus returns the current pipeline state with its transition
// history.
func (s *LectureService) ProcessingStatus(ctx context.Context, id string) (*dto.ProcessingStatusResponse, error) {
	lecture, err := s.loadLecture(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := s.repo.ListProcessingLog(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load processing history")
	}
	return &dto.ProcessingStatusResponse{
		LectureID:    lecture.ID,
		Status:       lecture.ProcessingStatus,
		Progress:     lecture.ProcessingProgress,
		JobID:        lecture.ProcessingJobID,
		Error:        lecture.ProcessingError,
		AudioURL:     lecture.AudioURL,
		VideoURL:     lecture.VideoURL,
		ThumbnailURL: lecture.ThumbnailURL,
		History:      history,
	}, nil
}

// HandleCallback ingests a status report pushed by the generation service.
func (s *LectureService) HandleCallback(ctx context.Context, id string, req dto.ProcessingCallbackRequest) error {
	lecture, err := s.loadLecture(ctx, id)
	if err != nil {
		return err
	}

	switch req.Status {
	case models.ProcessingStatusProcessing:
		if lecture.ProcessingStatus != models.ProcessingStatusProcessing {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "lecture is not processing")
		}
		if req.Progress == nil {
			return nil
		}
		processing := models.ProcessingStatusProcessing
		if _, err := s.repo.UpdateProcessing(ctx, id, repository.UpdateProcessingParams{
			Progress:     req.Progress,
			ExpectStatus: &processing,
		}); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update progress")
		}
		return nil
	case models.ProcessingStatusCompleted:
		return s.completeProcessing(ctx, lecture, req.AudioURL, req.VideoURL, req.ThumbnailURL)
	case models.ProcessingStatusFailed:
		msg := "generation failed"
		if req.Error != nil && *req.Error != "" {
			msg = *req.Error
		}
		return s.failProcessing(ctx, lecture, msg)
	default:
		return appErrors.Clone(appErrors.ErrValidation, "unsupported status")
	}
}

// ProcessQueued is the queue handler for generation hand-off. A hand-off
// failure marks the lecture failed and is not retried, so the handler always
// reports success to the queue.
func (s *LectureService) ProcessQueued(ctx context.Context, job jobs.Job) error {
	lecture, err := s.repo.FindByID(ctx, job.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		s.logger.Error("failed to load queued lecture", zap.String("lecture_id", job.ID), zap.Error(err))
		return nil
	}
	if lecture.ProcessingStatus != models.ProcessingStatusPending {
		return nil
	}

	text := ""
	if lecture.TextContent != nil {
		text = *lecture.TextContent
	}
	resp, err := s.ml.StartJob(ctx, mlclient.StartJobRequest{
		LectureID:     lecture.ID,
		TextContent:   text,
		VoiceSettings: lecture.VoiceSettings,
	})
	if err != nil {
		s.logger.Warn("generation hand-off failed", zap.String("lecture_id", lecture.ID), zap.Error(err))
		if ferr := s.failProcessing(ctx, lecture, appErrors.FromError(err).Message); ferr != nil {
			s.logger.Error("failed to mark lecture failed", zap.String("lecture_id", lecture.ID), zap.Error(ferr))
		}
		return nil
	}

	processing := models.ProcessingStatusProcessing
	pending := models.ProcessingStatusPending
	applied, err := s.repo.UpdateProcessing(ctx, lecture.ID, repository.UpdateProcessingParams{
		Status:       &processing,
		JobID:        &resp.JobID,
		ExpectStatus: &pending,
	})
	if err != nil {
		s.logger.Error("failed to mark lecture processing", zap.String("lecture_id", lecture.ID), zap.Error(err))
		return nil
	}
	if applied {
		s.recordTransition(ctx, lecture.ID, pending, processing, "accepted by generation service as job "+resp.JobID)
	}
	return nil
}

// SweepStuck fails lectures that stayed in processing past the timeout.
func (s *LectureService) SweepStuck(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.ProcessingTimeout)
	stuck, err := s.repo.ListStuckProcessing(ctx, cutoff, 50)
	if err != nil {
		s.logger.Error("stuck lecture sweep failed", zap.Error(err))
		return
	}
	for i := range stuck {
		lecture := stuck[i]
		if err := s.failProcessing(ctx, &lecture, "generation timed out"); err != nil {
			s.logger.Warn("failed to time out lecture", zap.String("lecture_id", lecture.ID), zap.Error(err))
		} else {
			s.logger.Info("lecture generation timed out", zap.String("lecture_id", lecture.ID))
		}
	}
}

// PollInFlight reconciles processing lectures against the generation service
// so a lost callback is recovered before the timeout fires.
func (s *LectureService) PollInFlight(ctx context.Context) {
	inflight, err := s.repo.ListInProcessing(ctx, 50)
	if err != nil {
		s.logger.Error("in-flight poll failed", zap.Error(err))
		return
	}
	for i := range inflight {
		lecture := inflight[i]
		if lecture.ProcessingJobID == nil {
			continue
		}
		status, err := s.ml.JobStatus(ctx, *lecture.ProcessingJobID)
		if err != nil {
			s.logger.Warn("job status poll failed", zap.String("lecture_id", lecture.ID), zap.Error(err))
			continue
		}
		switch models.ProcessingStatus(status.Status) {
		case models.ProcessingStatusCompleted:
			if err := s.completeProcessing(ctx, &lecture, strOrNil(status.AudioURL), strOrNil(status.VideoURL), strOrNil(status.ThumbnailURL)); err != nil {
				s.logger.Warn("failed to complete polled lecture", zap.String("lecture_id", lecture.ID), zap.Error(err))
			}
		case models.ProcessingStatusFailed:
			msg := status.Error
			if msg == "" {
				msg = "generation failed"
			}
			if err := s.failProcessing(ctx, &lecture, msg); err != nil {
				s.logger.Warn("failed to fail polled lecture", zap.String("lecture_id", lecture.ID), zap.Error(err))
			}
		default:
			processing := models.ProcessingStatusProcessing
			if _, err := s.repo.UpdateProcessing(ctx, lecture.ID, repository.UpdateProcessingParams{
				Progress:     &status.Progress,
				ExpectStatus: &processing,
			}); err != nil {
				s.logger.Warn("failed to update polled progress", zap.String("lecture_id", lecture.ID), zap.Error(err))
			}
		}
	}
}

func (s *LectureService) completeProcessing(ctx context.Context, lecture *models.Lecture, audioURL, videoURL, thumbnailURL *string) error {
	if lecture.ProcessingStatus != models.ProcessingStatusProcessing {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "lecture is not processing")
	}
	completed := models.ProcessingStatusCompleted
	processing := models.ProcessingStatusProcessing
	progress := 100
	now := time.Now().UTC()
	applied, err := s.repo.UpdateProcessing(ctx, lecture.ID, repository.UpdateProcessingParams{
		Status:       &completed,
		Progress:     &progress,
		ProcessedAt:  &now,
		AudioURL:     audioURL,
		VideoURL:     videoURL,
		ThumbnailURL: thumbnailURL,
		ClearError:   true,
		ExpectStatus: &processing,
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete lecture")
	}
	if !applied {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "lecture is not processing")
	}
	s.recordTransition(ctx, lecture.ID, processing, completed, "generation completed")
	return nil
}

func (s *LectureService) failProcessing(ctx context.Context, lecture *models.Lecture, message string) error {
	from := lecture.ProcessingStatus
	failed := models.ProcessingStatusFailed
	applied, err := s.repo.UpdateProcessing(ctx, lecture.ID, repository.UpdateProcessingParams{
		Status:       &failed,
		ErrorMessage: &message,
		ExpectStatus: &from,
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark lecture failed")
	}
	if !applied {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "lecture state changed")
	}
	s.recordTransition(ctx, lecture.ID, from, failed, message)
	return nil
}

func (s *LectureService) resetToPending(ctx context.Context, lecture *models.Lecture, reason string) error {
	from := lecture.ProcessingStatus
	pending := models.ProcessingStatusPending
	progress := 0
	if _, err := s.repo.UpdateProcessing(ctx, lecture.ID, repository.UpdateProcessingParams{
		Status:     &pending,
		Progress:   &progress,
		ClearJobID: true,
		ClearError: true,
		ClearMedia: true,
	}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset lecture")
	}
	if from != pending {
		s.recordTransition(ctx, lecture.ID, from, pending, reason)
	}
	lecture.ProcessingStatus = pending
	lecture.ProcessingProgress = 0
	lecture.ProcessingJobID = nil
	lecture.ProcessingError = nil
	lecture.AudioURL = nil
	lecture.VideoURL = nil
	lecture.ThumbnailURL = nil
	lecture.ProcessedAt = nil
	return nil
}

// dispatch enqueues the hand-off job. An enqueue failure marks the lecture
// failed but never fails the request that triggered it.
func (s *LectureService) dispatch(ctx context.Context, lecture *models.Lecture) {
	if err := s.queue.Enqueue(jobs.Job{ID: lecture.ID, Type: JobTypeLectureProcessing}); err != nil {
		s.logger.Warn("failed to enqueue generation job", zap.String("lecture_id", lecture.ID), zap.Error(err))
		if ferr := s.failProcessing(ctx, lecture, "could not queue generation job"); ferr != nil {
			s.logger.Error("failed to mark lecture failed", zap.String("lecture_id", lecture.ID), zap.Error(ferr))
		} else {
			lecture.ProcessingStatus = models.ProcessingStatusFailed
		}
	}
}

func (s *LectureService) recordTransition(ctx context.Context, lectureID string, from, to models.ProcessingStatus, message string) {
	if err := s.repo.AppendProcessingLog(ctx, &models.ProcessingLogEntry{
		LectureID:  lectureID,
		FromStatus: from,
		ToStatus:   to,
		Message:    message,
	}); err != nil {
		s.logger.Warn("failed to append processing log", zap.String("lecture_id", lectureID), zap.Error(err))
	}
	if s.metrics != nil {
		s.metrics.RecordProcessingTransition(from, to)
	}
}

func (s *LectureService) loadLecture(ctx context.Context, id string) (*models.Lecture, error) {
	lecture, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lecture not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lecture")
	}
	return lecture, nil
}

func (s *LectureService) loadCourse(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

func strOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
