package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

const (
	responseMetaKey = "response_meta"
	cacheHitKey     = "cache_hit"
	resultCountKey  = "count"
	elapsedKey      = "processing_time_ms"
)

// WithResponseMeta seeds the per-request meta map and start time. ExtractMeta
// stamps the elapsed time because handlers render before control returns here.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(responseMetaKey, map[string]interface{}{})
		c.Set(elapsedKey, time.Now())
		c.Next()
	}
}

// SetCacheHit records whether the view was served from cache.
func SetCacheHit(c *gin.Context, hit bool) {
	ensureMeta(c)[cacheHitKey] = hit
}

// SetResultCount records how many timetable entries the view returned.
func SetResultCount(c *gin.Context, n int) {
	ensureMeta(c)[resultCountKey] = n
}

// ExtractMeta returns the meta map stored on the context, or nil when none was recorded.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	value, exists := c.Get(responseMetaKey)
	if !exists {
		return nil
	}
	meta, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}
	if started, ok := c.Get(elapsedKey); ok {
		if at, ok := started.(time.Time); ok {
			meta[elapsedKey] = time.Since(at).Milliseconds()
		}
	}
	return meta
}

func ensureMeta(c *gin.Context) map[string]interface{} {
	if value, exists := c.Get(responseMetaKey); exists {
		if meta, ok := value.(map[string]interface{}); ok {
			return meta
		}
	}
	meta := make(map[string]interface{})
	c.Set(responseMetaKey, meta)
	return meta
}
