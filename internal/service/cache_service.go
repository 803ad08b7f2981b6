package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/college-timetable-api/internal/models"
	appErrors "github.com/noah-isme/college-timetable-api/pkg/errors"
)

const (
	cacheKeyPrefix    = "timetable"
	teacherVersionKey = cacheKeyPrefix + ":version:teacher"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
	Incr(ctx context.Context, key string) (int64, error)
}

// CacheService caches timetable views and records cache metrics. A disabled
// or nil service behaves as a permanent miss.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get attempts to retrieve a cached entry. It returns true when the cache was hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) bool {
	if !s.Enabled() {
		return false
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil && !errors.Is(err, appErrors.ErrCacheMiss) {
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	}
	return err == nil
}

// Set stores the value in cache. Failures are logged and otherwise ignored.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}) {
	if !s.Enabled() {
		return
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, s.defaultTTL)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// InvalidateGroup moves the group and teacher views to a new version and drops
// the old keys. Views are keyed by version, so a reader that loaded the store
// before this call can only refill a key no later reader looks up.
func (s *CacheService) InvalidateGroup(ctx context.Context, group models.ClassGroup) {
	if !s.Enabled() {
		return
	}
	for _, key := range []string{groupVersionKey(group), teacherVersionKey} {
		if _, err := s.repo.Incr(ctx, key); err != nil {
			s.logger.Warn("cache version bump failed", zap.String("key", key), zap.Error(err))
		}
	}
	for _, pattern := range []string{
		fmt.Sprintf("%s:group:%s:%d:*", cacheKeyPrefix, group.DepartmentID, group.Semester),
		cacheKeyPrefix + ":teacher:*",
	} {
		if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
			s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		}
	}
}

// GroupViewKey returns the key of a group view at the group's current version.
// It returns "" when caching is off or the version cannot be read.
func (s *CacheService) GroupViewKey(ctx context.Context, filter models.TimetableFilter) string {
	group := models.ClassGroup{DepartmentID: filter.DepartmentID, Semester: filter.Semester}
	version, ok := s.version(ctx, groupVersionKey(group))
	if !ok {
		return ""
	}
	visibility := "all"
	if filter.Published != nil && *filter.Published {
		visibility = "published"
	}
	day := string(filter.Day)
	if day == "" {
		day = "week"
	}
	return fmt.Sprintf("%s:group:%s:%d:v%d:%s:%s", cacheKeyPrefix, filter.DepartmentID, filter.Semester, version, visibility, day)
}

// TeacherViewKey returns the key of a teaching schedule at the current version.
func (s *CacheService) TeacherViewKey(ctx context.Context, teacherID string) string {
	version, ok := s.version(ctx, teacherVersionKey)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:teacher:v%d:%s", cacheKeyPrefix, version, teacherID)
}

func (s *CacheService) version(ctx context.Context, key string) (int64, bool) {
	if !s.Enabled() {
		return 0, false
	}
	var version int64
	if err := s.repo.Get(ctx, key, &version); err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return 0, true
		}
		s.logger.Warn("cache version read failed", zap.String("key", key), zap.Error(err))
		return 0, false
	}
	return version, true
}

func groupVersionKey(group models.ClassGroup) string {
	return fmt.Sprintf("%s:version:group:%s:%d", cacheKeyPrefix, group.DepartmentID, group.Semester)
}
