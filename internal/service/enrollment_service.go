package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/edulearn-api/internal/dto"
	"github.com/noah-isme/edulearn-api/internal/models"
	appErrors "github.com/noah-isme/edulearn-api/pkg/errors"
	"github.com/noah-isme/edulearn-api/pkg/export"
)

type enrollmentStore interface {
	Create(ctx context.Context, enrollment *models.Enrollment) error
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	ExistsForStudentAndCourse(ctx context.Context, studentID, courseID string) (bool, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	RecordCompletion(ctx context.Context, enrollmentID string, completion *models.LectureCompletion) (*models.Enrollment, bool, error)
	ListCompletions(ctx context.Context, enrollmentID string) ([]models.LectureCompletion, error)
	Rate(ctx context.Context, enrollmentID string, score int, review *string) (bool, error)
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error
	SetCertificatePath(ctx context.Context, id, path string) error
}

type progressCourseStore interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error)
	RefreshRating(ctx context.Context, courseID string) (float64, int, error)
}

type progressLectureStore interface {
	FindByID(ctx context.Context, id string) (*models.Lecture, error)
}

type progressUserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type certificateStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
}

type certificateSigner interface {
	Generate(recordID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (recordID, relPath string, expiresAt time.Time, err error)
}

type completionRecorder interface {
	RecordEnrollmentCompleted()
}

// CertificateDownload aggregates resolved certificate download data.
type CertificateDownload struct {
	File      *os.File
	Filename  string
	ExpiresAt time.Time
}

// EnrollmentService manages enrollments, progress aggregation, ratings and
// completion certificates.
type EnrollmentService struct {
	repo     enrollmentStore
	courses  progressCourseStore
	lectures progressLectureStore
	users    progressUserStore
	cache    catalogCache
	renderer *export.CertificateRenderer
	storage  certificateStorage
	signer   certificateSigner
	metrics  completionRecorder
	policy   *Policy
	logger   *zap.Logger
}

// NewEnrollmentService constructs the enrollment service.
func NewEnrollmentService(repo enrollmentStore, courses progressCourseStore, lectures progressLectureStore, users progressUserStore, cache catalogCache, renderer *export.CertificateRenderer, storage certificateStorage, signer certificateSigner, metrics completionRecorder, policy *Policy, logger *zap.Logger) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = NewPolicy()
	}
	return &EnrollmentService{
		repo:     repo,
		courses:  courses,
		lectures: lectures,
		users:    users,
		cache:    cache,
		renderer: renderer,
		storage:  storage,
		signer:   signer,
		metrics:  metrics,
		policy:   policy,
		logger:   logger,
	}
}

// Enroll registers the calling student on a published course.
func (s *EnrollmentService) Enroll(ctx context.Context, claims *models.JWTClaims, courseID string) (*models.Enrollment, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.IsPublished {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "course is not published")
	}

	exists, err := s.repo.ExistsForStudentAndCourse(ctx, claims.UserID, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "already enrolled in this course")
	}

	enrollment := &models.Enrollment{
		StudentID: claims.UserID,
		CourseID:  courseID,
		Status:    models.EnrollmentStatusActive,
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	return enrollment, nil
}

// Get returns enrollment progress with per-lecture completions.
func (s *EnrollmentService) Get(ctx context.Context, claims *models.JWTClaims, id string) (*dto.ProgressResponse, error) {
	enrollment, course, err := s.loadEnrollmentWithCourse(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanViewEnrollment(claims, enrollment, course); err != nil {
		return nil, err
	}
	completions, err := s.repo.ListCompletions(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load completions")
	}
	return &dto.ProgressResponse{Enrollment: *enrollment, Completions: completions}, nil
}

// List returns enrollments visible to the caller. Students only ever see
// their own.
func (s *EnrollmentService) List(ctx context.Context, claims *models.JWTClaims, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	if claims.Role == models.RoleStudent {
		filter.StudentID = claims.UserID
	}
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, total, nil
}

// RecordCompletion marks a lecture watched. Repeat calls keep the maximum
// watch time and percentage per lecture while total watch time keeps adding
// up. The first time progress reaches 100 the enrollment completes and a
// certificate is generated.
func (s *EnrollmentService) RecordCompletion(ctx context.Context, claims *models.JWTClaims, enrollmentID string, req dto.CompletionRequest) (*models.Enrollment, error) {
	enrollment, err := s.loadEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanProgressEnrollment(claims, enrollment); err != nil {
		return nil, err
	}
	if enrollment.Status == models.EnrollmentStatusDropped || enrollment.Status == models.EnrollmentStatusSuspended {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment is not active")
	}

	lecture, err := s.lectures.FindByID(ctx, req.LectureID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lecture not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lecture")
	}
	if lecture.CourseID != enrollment.CourseID {
		return nil, appErrors.Clone(appErrors.ErrInvalidReference, "lecture does not belong to the enrolled course")
	}
	if lecture.RequiresProcessing() && lecture.ProcessingStatus != models.ProcessingStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "lecture content is still being generated")
	}

	updated, completedNow, err := s.repo.RecordCompletion(ctx, enrollmentID, &models.LectureCompletion{
		EnrollmentID:         enrollmentID,
		LectureID:            req.LectureID,
		WatchTime:            req.WatchTime,
		CompletionPercentage: req.CompletionPercentage,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record completion")
	}

	if completedNow {
		if s.metrics != nil {
			s.metrics.RecordEnrollmentCompleted()
		}
		s.issueCertificate(ctx, updated)
	}
	return updated, nil
}

// RateCourse stores a one-time rating and refreshes the course aggregate.
func (s *EnrollmentService) RateCourse(ctx context.Context, claims *models.JWTClaims, enrollmentID string, req dto.RateCourseRequest) (*dto.CourseRatingResponse, error) {
	enrollment, err := s.loadEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanProgressEnrollment(claims, enrollment); err != nil {
		return nil, err
	}

	applied, err := s.repo.Rate(ctx, enrollmentID, req.Score, req.Review)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store rating")
	}
	if !applied {
		return nil, appErrors.Clone(appErrors.ErrAlreadyRated, "this enrollment has already rated the course")
	}

	average, count, err := s.courses.RefreshRating(ctx, enrollment.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to refresh course rating")
	}

	if s.cache != nil {
		if err := s.cache.DeleteByPattern(ctx, "catalog:*"); err != nil {
			s.logger.Warn("catalog cache invalidation failed", zap.Error(err))
		}
	}
	return &dto.CourseRatingResponse{CourseID: enrollment.CourseID, Average: average, Count: count}, nil
}

// UpdateStatus drops or suspends an active enrollment. There is no path back
// to active.
func (s *EnrollmentService) UpdateStatus(ctx context.Context, claims *models.JWTClaims, enrollmentID string, status models.EnrollmentStatus) (*models.Enrollment, error) {
	enrollment, err := s.loadEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}

	switch claims.Role {
	case models.RoleAdmin:
	case models.RoleStudent:
		if enrollment.StudentID != claims.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "enrollment belongs to another student")
		}
		if status != models.EnrollmentStatusDropped {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "students can only drop their own enrollment")
		}
	default:
		return nil, appErrors.ErrForbidden
	}

	if enrollment.Status != models.EnrollmentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only active enrollments can change status")
	}

	if err := s.repo.UpdateStatus(ctx, enrollmentID, status); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment status")
	}
	enrollment.Status = status
	return enrollment, nil
}

// CertificateLink returns a signed, expiring download link for the
// completion certificate.
func (s *EnrollmentService) CertificateLink(ctx context.Context, claims *models.JWTClaims, enrollmentID string) (string, time.Time, error) {
	enrollment, course, err := s.loadEnrollmentWithCourse(ctx, enrollmentID)
	if err != nil {
		return "", time.Time{}, err
	}
	if err := s.policy.CanViewEnrollment(claims, enrollment, course); err != nil {
		return "", time.Time{}, err
	}
	if enrollment.Status != models.EnrollmentStatusCompleted || enrollment.CertificatePath == nil {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrPreconditionFailed, "certificate is not available yet")
	}
	token, expiresAt, err := s.signer.Generate(enrollment.ID, *enrollment.CertificatePath)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign certificate link")
	}
	return token, expiresAt, nil
}

// ResolveCertificate validates a signed token and opens the stored PDF.
func (s *EnrollmentService) ResolveCertificate(ctx context.Context, token string) (*CertificateDownload, error) {
	enrollmentID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	enrollment, err := s.loadEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment.CertificatePath == nil || *enrollment.CertificatePath != relPath {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open certificate file")
	}
	return &CertificateDownload{
		File:      file,
		Filename:  fmt.Sprintf("certificate-%s.pdf", enrollment.ID),
		ExpiresAt: expiresAt,
	}, nil
}

// issueCertificate renders and stores the completion certificate. Failures
// are logged, never surfaced: the completion itself already committed.
func (s *EnrollmentService) issueCertificate(ctx context.Context, enrollment *models.Enrollment) {
	if s.renderer == nil || s.storage == nil {
		return
	}
	student, err := s.users.FindByID(ctx, enrollment.StudentID)
	if err != nil {
		s.logger.Warn("certificate skipped, student lookup failed", zap.String("enrollment_id", enrollment.ID), zap.Error(err))
		return
	}
	course, err := s.courses.FindDetailByID(ctx, enrollment.CourseID)
	if err != nil {
		s.logger.Warn("certificate skipped, course lookup failed", zap.String("enrollment_id", enrollment.ID), zap.Error(err))
		return
	}

	completedAt := time.Now().UTC()
	if enrollment.CompletedAt != nil {
		completedAt = *enrollment.CompletedAt
	}
	data, err := s.renderer.Render(export.Certificate{
		StudentName:  student.FullName,
		CourseTitle:  course.Title,
		Instructor:   course.InstructorName,
		CompletedAt:  completedAt,
		SerialNumber: enrollment.ID,
	})
	if err != nil {
		s.logger.Warn("certificate render failed", zap.String("enrollment_id", enrollment.ID), zap.Error(err))
		return
	}

	filename := fmt.Sprintf("%s.pdf", enrollment.ID)
	relPath, err := s.storage.Save(filename, data)
	if err != nil {
		s.logger.Warn("certificate store failed", zap.String("enrollment_id", enrollment.ID), zap.Error(err))
		return
	}
	if err := s.repo.SetCertificatePath(ctx, enrollment.ID, relPath); err != nil {
		s.logger.Warn("certificate path update failed", zap.String("enrollment_id", enrollment.ID), zap.Error(err))
		return
	}
	enrollment.CertificatePath = &relPath
	s.logger.Info("completion certificate issued", zap.String("enrollment_id", enrollment.ID))
}

func (s *EnrollmentService) loadEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

func (s *EnrollmentService) loadEnrollmentWithCourse(ctx context.Context, id string) (*models.Enrollment, *models.Course, error) {
	enrollment, err := s.loadEnrollment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	course, err := s.courses.FindByID(ctx, enrollment.CourseID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return enrollment, course, nil
}
