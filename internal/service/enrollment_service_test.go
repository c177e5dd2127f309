package service

import (
	"context"
	"database/sql"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/edulearn-api/internal/dto"
	"github.com/noah-isme/edulearn-api/internal/models"
	appErrors "github.com/noah-isme/edulearn-api/pkg/errors"
	"github.com/noah-isme/edulearn-api/pkg/export"
	"github.com/noah-isme/edulearn-api/pkg/storage"
)

type enrollmentStoreStub struct {
	enrollments   map[string]*models.Enrollment
	completions   map[string]*models.LectureCompletion
	totalLectures int
}

func newEnrollmentStoreStub(totalLectures int) *enrollmentStoreStub {
	return &enrollmentStoreStub{
		enrollments:   map[string]*models.Enrollment{},
		completions:   map[string]*models.LectureCompletion{},
		totalLectures: totalLectures,
	}
}

func (s *enrollmentStoreStub) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	enrollment.EnrolledAt = time.Now().UTC()
	s.enrollments[enrollment.ID] = enrollment
	return nil
}

func (s *enrollmentStoreStub) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, ok := s.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *enrollment
	return &copied, nil
}

func (s *enrollmentStoreStub) ExistsForStudentAndCourse(ctx context.Context, studentID, courseID string) (bool, error) {
	for _, enrollment := range s.enrollments {
		if enrollment.StudentID == studentID && enrollment.CourseID == courseID {
			return true, nil
		}
	}
	return false, nil
}

func (s *enrollmentStoreStub) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var out []models.EnrollmentDetail
	for _, enrollment := range s.enrollments {
		if filter.StudentID != "" && enrollment.StudentID != filter.StudentID {
			continue
		}
		out = append(out, models.EnrollmentDetail{Enrollment: *enrollment})
	}
	return out, len(out), nil
}

func (s *enrollmentStoreStub) RecordCompletion(ctx context.Context, enrollmentID string, completion *models.LectureCompletion) (*models.Enrollment, bool, error) {
	enrollment, ok := s.enrollments[enrollmentID]
	if !ok {
		return nil, false, sql.ErrNoRows
	}

	now := time.Now().UTC()
	key := enrollmentID + "|" + completion.LectureID
	if existing, ok := s.completions[key]; ok {
		if completion.WatchTime > existing.WatchTime {
			existing.WatchTime = completion.WatchTime
		}
		if completion.CompletionPercentage > existing.CompletionPercentage {
			existing.CompletionPercentage = completion.CompletionPercentage
		}
	} else {
		stored := *completion
		stored.CompletedAt = now
		s.completions[key] = &stored
	}

	completed := 0
	for k := range s.completions {
		if strings.HasPrefix(k, enrollmentID+"|") {
			completed++
		}
	}
	if s.totalLectures > 0 {
		enrollment.OverallProgress = int(math.Round(100 * float64(completed) / float64(s.totalLectures)))
	}
	enrollment.TotalWatchTime += completion.WatchTime
	enrollment.LastAccessedLecture = &completion.LectureID
	enrollment.LastAccessedAt = &now

	completedNow := false
	if enrollment.OverallProgress >= 100 && enrollment.Status == models.EnrollmentStatusActive {
		completedNow = true
		enrollment.Status = models.EnrollmentStatusCompleted
		enrollment.CompletedAt = &now
	}
	copied := *enrollment
	return &copied, completedNow, nil
}

func (s *enrollmentStoreStub) ListCompletions(ctx context.Context, enrollmentID string) ([]models.LectureCompletion, error) {
	var out []models.LectureCompletion
	for k, completion := range s.completions {
		if strings.HasPrefix(k, enrollmentID+"|") {
			out = append(out, *completion)
		}
	}
	return out, nil
}

func (s *enrollmentStoreStub) Rate(ctx context.Context, enrollmentID string, score int, review *string) (bool, error) {
	enrollment, ok := s.enrollments[enrollmentID]
	if !ok {
		return false, sql.ErrNoRows
	}
	if enrollment.RatingScore != nil {
		return false, nil
	}
	now := time.Now().UTC()
	enrollment.RatingScore = &score
	enrollment.RatingReview = review
	enrollment.RatedAt = &now
	return true, nil
}

func (s *enrollmentStoreStub) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	enrollment, ok := s.enrollments[id]
	if !ok {
		return sql.ErrNoRows
	}
	enrollment.Status = status
	return nil
}

func (s *enrollmentStoreStub) SetCertificatePath(ctx context.Context, id, path string) error {
	enrollment, ok := s.enrollments[id]
	if !ok {
		return sql.ErrNoRows
	}
	enrollment.CertificatePath = &path
	return nil
}

type progressCourseStub struct {
	courses map[string]*models.Course
	scores  map[string][]int
}

func newProgressCourseStub() *progressCourseStub {
	return &progressCourseStub{courses: map[string]*models.Course{}, scores: map[string][]int{}}
}

func (s *progressCourseStub) FindByID(ctx context.Context, id string) (*models.Course, error) {
	course, ok := s.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *course
	return &copied, nil
}

func (s *progressCourseStub) FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error) {
	course, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.CourseDetail{Course: *course, InstructorName: "Dr. Instructor"}, nil
}

func (s *progressCourseStub) RefreshRating(ctx context.Context, courseID string) (float64, int, error) {
	scores := s.scores[courseID]
	if len(scores) == 0 {
		return 0, 0, nil
	}
	sum := 0
	for _, score := range scores {
		sum += score
	}
	average := math.Round(float64(sum)/float64(len(scores))*10) / 10
	course := s.courses[courseID]
	course.RatingAverage = average
	course.RatingCount = len(scores)
	return average, len(scores), nil
}

type lectureCatalogStub struct {
	lectures map[string]*models.Lecture
}

func (s *lectureCatalogStub) FindByID(ctx context.Context, id string) (*models.Lecture, error) {
	lecture, ok := s.lectures[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *lecture
	return &copied, nil
}

type userStoreStub struct {
	users map[string]*models.User
}

func (s *userStoreStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *user
	return &copied, nil
}

type cacheStub struct {
	invalidated []string
}

func (c *cacheStub) Get(ctx context.Context, key string, dest interface{}) error {
	return appErrors.ErrCacheMiss
}

func (c *cacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return nil
}

func (c *cacheStub) DeleteByPattern(ctx context.Context, pattern string) error {
	c.invalidated = append(c.invalidated, pattern)
	return nil
}

type completionMetricsStub struct {
	completed int
}

func (m *completionMetricsStub) RecordEnrollmentCompleted() { m.completed++ }

func studentClaims(userID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: userID, Role: models.RoleStudent}
}

type enrollmentFixture struct {
	svc     *EnrollmentService
	repo    *enrollmentStoreStub
	courses *progressCourseStub
	cache   *cacheStub
	metrics *completionMetricsStub
	store   *storage.LocalStorage
}

func newEnrollmentFixture(t *testing.T, totalLectures int) *enrollmentFixture {
	t.Helper()
	repo := newEnrollmentStoreStub(totalLectures)
	courses := newProgressCourseStub()
	courses.courses["course-1"] = &models.Course{ID: "course-1", InstructorID: "instr-1", Title: "Go Basics", IsPublished: true}

	lectures := &lectureCatalogStub{lectures: map[string]*models.Lecture{}}
	for i, id := range []string{"lec-1", "lec-2", "lec-3", "lec-4"} {
		lectures.lectures[id] = &models.Lecture{
			ID: id, CourseID: "course-1", Order: i + 1,
			ContentType:      models.ContentTypeAIGenerated,
			ProcessingStatus: models.ProcessingStatusCompleted,
		}
	}
	lectures.lectures["lec-generating"] = &models.Lecture{
		ID: "lec-generating", CourseID: "course-1", Order: 9,
		ContentType:      models.ContentTypeAIGenerated,
		ProcessingStatus: models.ProcessingStatusProcessing,
	}
	lectures.lectures["lec-foreign"] = &models.Lecture{
		ID: "lec-foreign", CourseID: "course-2", Order: 1,
		ContentType:      models.ContentTypeVideo,
		ProcessingStatus: models.ProcessingStatusCompleted,
	}

	users := &userStoreStub{users: map[string]*models.User{
		"student-1": {ID: "student-1", FullName: "Ada Lovelace", Role: models.RoleStudent},
	}}

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	cache := &cacheStub{}
	metrics := &completionMetricsStub{}

	svc := NewEnrollmentService(repo, courses, lectures, users, cache, export.NewCertificateRenderer(), store, signer, metrics, NewPolicy(), zap.NewNop())
	return &enrollmentFixture{svc: svc, repo: repo, courses: courses, cache: cache, metrics: metrics, store: store}
}

func (f *enrollmentFixture) enroll(t *testing.T) *models.Enrollment {
	t.Helper()
	enrollment, err := f.svc.Enroll(context.Background(), studentClaims("student-1"), "course-1")
	require.NoError(t, err)
	return enrollment
}

func (f *enrollmentFixture) complete(t *testing.T, enrollmentID, lectureID string, watchTime int64, pct int) *models.Enrollment {
	t.Helper()
	updated, err := f.svc.RecordCompletion(context.Background(), studentClaims("student-1"), enrollmentID, dto.CompletionRequest{
		LectureID:            lectureID,
		WatchTime:            watchTime,
		CompletionPercentage: pct,
	})
	require.NoError(t, err)
	return updated
}

func TestEnrollmentServiceEnroll(t *testing.T) {
	f := newEnrollmentFixture(t, 4)

	enrollment := f.enroll(t)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.Equal(t, 0, enrollment.OverallProgress)

	_, err := f.svc.Enroll(context.Background(), studentClaims("student-1"), "course-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	f.courses.courses["course-1"].IsPublished = false
	_, err = f.svc.Enroll(context.Background(), studentClaims("student-2"), "course-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceProgressJourney(t *testing.T) {
	f := newEnrollmentFixture(t, 4)
	enrollment := f.enroll(t)

	updated := f.complete(t, enrollment.ID, "lec-1", 300, 100)
	assert.Equal(t, 25, updated.OverallProgress)

	f.complete(t, enrollment.ID, "lec-2", 250, 100)
	updated = f.complete(t, enrollment.ID, "lec-3", 200, 100)
	assert.Equal(t, 75, updated.OverallProgress)
	assert.Equal(t, models.EnrollmentStatusActive, updated.Status)
	assert.Equal(t, int64(750), updated.TotalWatchTime)

	updated = f.complete(t, enrollment.ID, "lec-4", 150, 100)
	assert.Equal(t, 100, updated.OverallProgress)
	assert.Equal(t, models.EnrollmentStatusCompleted, updated.Status)
	require.NotNil(t, updated.CompletedAt)
	assert.Equal(t, 1, f.metrics.completed)

	// Certificate was rendered and persisted.
	require.NotNil(t, updated.CertificatePath)
	file, err := f.store.Open(*updated.CertificatePath)
	require.NoError(t, err)
	defer file.Close()
	header := make([]byte, 4)
	_, err = io.ReadFull(file, header)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(header))
}

func TestEnrollmentServiceRepeatCompletionKeepsMaxAndAddsWatchTime(t *testing.T) {
	f := newEnrollmentFixture(t, 4)
	enrollment := f.enroll(t)

	f.complete(t, enrollment.ID, "lec-1", 300, 80)
	updated := f.complete(t, enrollment.ID, "lec-1", 100, 100)

	// Progress counts the lecture once, watch time adds up on every call.
	assert.Equal(t, 25, updated.OverallProgress)
	assert.Equal(t, int64(400), updated.TotalWatchTime)

	completions, err := f.repo.ListCompletions(context.Background(), enrollment.ID)
	require.NoError(t, err)
	require.Len(t, completions, 1)
	assert.Equal(t, int64(300), completions[0].WatchTime)
	assert.Equal(t, 100, completions[0].CompletionPercentage)
}

func TestEnrollmentServiceCompletedAtIsStable(t *testing.T) {
	f := newEnrollmentFixture(t, 1)
	enrollment := f.enroll(t)

	first := f.complete(t, enrollment.ID, "lec-1", 100, 100)
	require.NotNil(t, first.CompletedAt)
	completedAt := *first.CompletedAt

	again := f.complete(t, enrollment.ID, "lec-1", 100, 100)
	require.NotNil(t, again.CompletedAt)
	assert.Equal(t, completedAt, *again.CompletedAt)
	assert.Equal(t, models.EnrollmentStatusCompleted, again.Status)
	assert.Equal(t, 1, f.metrics.completed)
}

func TestEnrollmentServiceRejectsForeignLecture(t *testing.T) {
	f := newEnrollmentFixture(t, 4)
	enrollment := f.enroll(t)

	_, err := f.svc.RecordCompletion(context.Background(), studentClaims("student-1"), enrollment.ID, dto.CompletionRequest{
		LectureID: "lec-foreign", WatchTime: 100, CompletionPercentage: 100,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidReference.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceRejectsGeneratingLecture(t *testing.T) {
	f := newEnrollmentFixture(t, 4)
	enrollment := f.enroll(t)

	_, err := f.svc.RecordCompletion(context.Background(), studentClaims("student-1"), enrollment.ID, dto.CompletionRequest{
		LectureID: "lec-generating", WatchTime: 100, CompletionPercentage: 100,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceBlocksProgressWhenNotActive(t *testing.T) {
	f := newEnrollmentFixture(t, 4)
	enrollment := f.enroll(t)

	_, err := f.svc.UpdateStatus(context.Background(), studentClaims("student-1"), enrollment.ID, models.EnrollmentStatusDropped)
	require.NoError(t, err)

	_, err = f.svc.RecordCompletion(context.Background(), studentClaims("student-1"), enrollment.ID, dto.CompletionRequest{
		LectureID: "lec-1", WatchTime: 100, CompletionPercentage: 100,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)

	// There is no path back to active once dropped.
	_, err = f.svc.UpdateStatus(context.Background(), studentClaims("student-1"), enrollment.ID, models.EnrollmentStatusDropped)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceRateCourseIsWriteOnce(t *testing.T) {
	f := newEnrollmentFixture(t, 4)
	enrollment := f.enroll(t)
	f.courses.scores["course-1"] = []int{5}

	rating, err := f.svc.RateCourse(context.Background(), studentClaims("student-1"), enrollment.ID, dto.RateCourseRequest{Score: 5})
	require.NoError(t, err)
	assert.Equal(t, 5.0, rating.Average)
	assert.Equal(t, 1, rating.Count)
	assert.Contains(t, f.cache.invalidated, "catalog:*")

	_, err = f.svc.RateCourse(context.Background(), studentClaims("student-1"), enrollment.ID, dto.RateCourseRequest{Score: 1})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyRated.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceCertificateRoundTrip(t *testing.T) {
	f := newEnrollmentFixture(t, 1)
	enrollment := f.enroll(t)
	f.complete(t, enrollment.ID, "lec-1", 100, 100)

	token, expiresAt, err := f.svc.CertificateLink(context.Background(), studentClaims("student-1"), enrollment.ID)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	download, err := f.svc.ResolveCertificate(context.Background(), token)
	require.NoError(t, err)
	defer download.File.Close()
	assert.Contains(t, download.Filename, enrollment.ID)

	_, err = f.svc.ResolveCertificate(context.Background(), token+"tampered")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceCertificateRequiresCompletion(t *testing.T) {
	f := newEnrollmentFixture(t, 4)
	enrollment := f.enroll(t)

	_, _, err := f.svc.CertificateLink(context.Background(), studentClaims("student-1"), enrollment.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceViewPolicy(t *testing.T) {
	f := newEnrollmentFixture(t, 4)
	enrollment := f.enroll(t)

	_, err := f.svc.Get(context.Background(), studentClaims("someone-else"), enrollment.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	progress, err := f.svc.Get(context.Background(), &models.JWTClaims{UserID: "instr-1", Role: models.RoleInstructor}, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, enrollment.ID, progress.Enrollment.ID)
}
