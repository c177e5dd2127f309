package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/edulearn-api/internal/dto"
	"github.com/noah-isme/edulearn-api/internal/models"
	appErrors "github.com/noah-isme/edulearn-api/pkg/errors"
)

type courseStore interface {
	Create(ctx context.Context, course *models.Course) error
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error)
	Update(ctx context.Context, course *models.Course) error
	SetPublished(ctx context.Context, id string, published bool, publishedAt *time.Time) error
	Delete(ctx context.Context, id string) error
}

type courseLectureCounter interface {
	CountPublishedByCourse(ctx context.Context, courseID string) (int, error)
}

type catalogCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CatalogCacheConfig governs course catalog caching.
type CatalogCacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// CourseService manages the course catalog.
type CourseService struct {
	repo     courseStore
	lectures courseLectureCounter
	cache    catalogCache
	policy   *Policy
	logger   *zap.Logger
	cacheCfg CatalogCacheConfig
}

// NewCourseService constructs the course service.
func NewCourseService(repo courseStore, lectures courseLectureCounter, cache catalogCache, policy *Policy, logger *zap.Logger, cacheCfg CatalogCacheConfig) *CourseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = NewPolicy()
	}
	return &CourseService{repo: repo, lectures: lectures, cache: cache, policy: policy, logger: logger, cacheCfg: cacheCfg}
}

// Create registers a new unpublished course owned by the caller.
func (s *CourseService) Create(ctx context.Context, claims *models.JWTClaims, req dto.CreateCourseRequest) (*models.Course, error) {
	course := &models.Course{
		InstructorID: claims.UserID,
		Title:        req.Title,
		Description:  req.Description,
		Category:     req.Category,
		Level:        req.Level,
		IsPublished:  false,
	}
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	s.invalidateCatalog(ctx)
	return course, nil
}

// Get returns course detail, served from cache when enabled.
func (s *CourseService) Get(ctx context.Context, id string) (*models.CourseDetail, error) {
	key := courseCacheKey(id)
	if s.cacheEnabled() {
		var cached models.CourseDetail
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("course cache read failed", zap.String("course_id", id), zap.Error(err))
		}
	}

	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	if s.cacheEnabled() {
		if err := s.cache.Set(ctx, key, detail, s.cacheCfg.TTL); err != nil {
			s.logger.Warn("course cache write failed", zap.String("course_id", id), zap.Error(err))
		}
	}
	return detail, nil
}

// List returns courses matching the filter with a total count.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	return courses, total, nil
}

// Update applies partial changes to a course owned by the caller.
func (s *CourseService) Update(ctx context.Context, claims *models.JWTClaims, id string, req dto.UpdateCourseRequest) (*models.Course, error) {
	course, err := s.loadCourse(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanManageCourse(claims, course); err != nil {
		return nil, err
	}

	if req.Title != nil {
		course.Title = *req.Title
	}
	if req.Description != nil {
		course.Description = *req.Description
	}
	if req.Category != nil {
		course.Category = *req.Category
	}
	if req.Level != nil {
		course.Level = *req.Level
	}

	if err := s.repo.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	s.invalidateCatalog(ctx)
	return course, nil
}

// Publish makes a course visible in the catalog. A course needs at least one
// published lecture before it can go live.
func (s *CourseService) Publish(ctx context.Context, claims *models.JWTClaims, id string) (*models.Course, error) {
	course, err := s.loadCourse(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanManageCourse(claims, course); err != nil {
		return nil, err
	}
	if course.IsPublished {
		return course, nil
	}

	count, err := s.lectures.CountPublishedByCourse(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count lectures")
	}
	if count == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "course has no published lectures")
	}

	now := time.Now().UTC()
	if err := s.repo.SetPublished(ctx, id, true, &now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to publish course")
	}
	course.IsPublished = true
	course.PublishedAt = &now
	s.invalidateCatalog(ctx)
	return course, nil
}

// Delete removes a course.
func (s *CourseService) Delete(ctx context.Context, claims *models.JWTClaims, id string) error {
	course, err := s.loadCourse(ctx, id)
	if err != nil {
		return err
	}
	if err := s.policy.CanManageCourse(claims, course); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	s.invalidateCatalog(ctx)
	return nil
}

func (s *CourseService) loadCourse(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

func (s *CourseService) cacheEnabled() bool {
	return s.cache != nil && s.cacheCfg.Enabled
}

func (s *CourseService) invalidateCatalog(ctx context.Context) {
	if !s.cacheEnabled() {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "catalog:*"); err != nil {
		s.logger.Warn("catalog cache invalidation failed", zap.Error(err))
	}
}

func courseCacheKey(id string) string {
	return fmt.Sprintf("catalog:course:%s", id)
}
