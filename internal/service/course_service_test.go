package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/edulearn-api/internal/dto"
	"github.com/noah-isme/edulearn-api/internal/models"
	appErrors "github.com/noah-isme/edulearn-api/pkg/errors"
)

type catalogStoreStub struct {
	courses map[string]*models.Course
}

func (s *catalogStoreStub) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	course.CreatedAt = time.Now().UTC()
	s.courses[course.ID] = course
	return nil
}

func (s *catalogStoreStub) FindByID(ctx context.Context, id string) (*models.Course, error) {
	course, ok := s.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *course
	return &copied, nil
}

func (s *catalogStoreStub) FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error) {
	course, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.CourseDetail{Course: *course, InstructorName: "Grace Hopper"}, nil
}

func (s *catalogStoreStub) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	var out []models.CourseDetail
	for _, course := range s.courses {
		if filter.Published != nil && course.IsPublished != *filter.Published {
			continue
		}
		out = append(out, models.CourseDetail{Course: *course})
	}
	return out, len(out), nil
}

func (s *catalogStoreStub) Update(ctx context.Context, course *models.Course) error {
	if _, ok := s.courses[course.ID]; !ok {
		return sql.ErrNoRows
	}
	s.courses[course.ID] = course
	return nil
}

func (s *catalogStoreStub) SetPublished(ctx context.Context, id string, published bool, publishedAt *time.Time) error {
	course, ok := s.courses[id]
	if !ok {
		return sql.ErrNoRows
	}
	course.IsPublished = published
	course.PublishedAt = publishedAt
	return nil
}

func (s *catalogStoreStub) Delete(ctx context.Context, id string) error {
	delete(s.courses, id)
	return nil
}

type lectureCounterStub struct {
	published map[string]int
}

func (s *lectureCounterStub) CountPublishedByCourse(ctx context.Context, courseID string) (int, error) {
	return s.published[courseID], nil
}

type catalogCacheStub struct {
	entries     map[string][]byte
	hits        int
	invalidated []string
}

func (c *catalogCacheStub) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	c.hits++
	return json.Unmarshal(raw, dest)
}

func (c *catalogCacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	return nil
}

func (c *catalogCacheStub) DeleteByPattern(ctx context.Context, pattern string) error {
	c.invalidated = append(c.invalidated, pattern)
	c.entries = map[string][]byte{}
	return nil
}

func newCourseServiceForTest(cacheEnabled bool) (*CourseService, *catalogStoreStub, *lectureCounterStub, *catalogCacheStub) {
	store := &catalogStoreStub{courses: map[string]*models.Course{}}
	counter := &lectureCounterStub{published: map[string]int{}}
	cache := &catalogCacheStub{entries: map[string][]byte{}}
	svc := NewCourseService(store, counter, cache, NewPolicy(), zap.NewNop(), CatalogCacheConfig{
		Enabled: cacheEnabled,
		TTL:     time.Minute,
	})
	return svc, store, counter, cache
}

func TestCourseCreateIsOwnedAndUnpublished(t *testing.T) {
	svc, _, _, _ := newCourseServiceForTest(false)

	course, err := svc.Create(context.Background(), instructorClaims("instr-1"), dto.CreateCourseRequest{
		Title:       "Distributed Systems",
		Description: "Consensus and replication",
		Category:    "computer-science",
		Level:       models.CourseLevelAdvanced,
	})
	require.NoError(t, err)
	assert.Equal(t, "instr-1", course.InstructorID)
	assert.False(t, course.IsPublished)
}

func TestCoursePublishRequiresPublishedLecture(t *testing.T) {
	svc, store, counter, _ := newCourseServiceForTest(false)
	store.courses["course-1"] = &models.Course{ID: "course-1", InstructorID: "instr-1"}

	_, err := svc.Publish(context.Background(), instructorClaims("instr-1"), "course-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)

	counter.published["course-1"] = 1
	course, err := svc.Publish(context.Background(), instructorClaims("instr-1"), "course-1")
	require.NoError(t, err)
	assert.True(t, course.IsPublished)
	require.NotNil(t, course.PublishedAt)
}

func TestCoursePublishIsIdempotent(t *testing.T) {
	svc, store, _, _ := newCourseServiceForTest(false)
	now := time.Now().UTC()
	store.courses["course-1"] = &models.Course{ID: "course-1", InstructorID: "instr-1", IsPublished: true, PublishedAt: &now}

	course, err := svc.Publish(context.Background(), instructorClaims("instr-1"), "course-1")
	require.NoError(t, err)
	assert.True(t, course.IsPublished)
}

func TestCourseGetServesFromCache(t *testing.T) {
	svc, store, _, cache := newCourseServiceForTest(true)
	store.courses["course-1"] = &models.Course{ID: "course-1", InstructorID: "instr-1", Title: "Algorithms"}

	first, err := svc.Get(context.Background(), "course-1")
	require.NoError(t, err)
	assert.Equal(t, 0, cache.hits)

	store.courses["course-1"].Title = "changed behind the cache"

	second, err := svc.Get(context.Background(), "course-1")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, first.Title, second.Title)
}

func TestCourseUpdateInvalidatesCatalog(t *testing.T) {
	svc, store, _, cache := newCourseServiceForTest(true)
	store.courses["course-1"] = &models.Course{ID: "course-1", InstructorID: "instr-1", Title: "Algorithms"}

	newTitle := "Advanced Algorithms"
	_, err := svc.Update(context.Background(), instructorClaims("instr-1"), "course-1", dto.UpdateCourseRequest{Title: &newTitle})
	require.NoError(t, err)
	assert.Contains(t, cache.invalidated, "catalog:*")
}

func TestCourseManageRequiresOwnership(t *testing.T) {
	svc, store, _, _ := newCourseServiceForTest(false)
	store.courses["course-1"] = &models.Course{ID: "course-1", InstructorID: "instr-1"}

	title := "Hijacked"
	_, err := svc.Update(context.Background(), instructorClaims("instr-2"), "course-1", dto.UpdateCourseRequest{Title: &title})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	err = svc.Delete(context.Background(), instructorClaims("instr-2"), "course-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
