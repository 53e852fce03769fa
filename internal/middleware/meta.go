package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

const (
	responseMetaKey  = "response_meta"
	requestStartKey  = "request_start"
	cacheHitKey      = "cache_hit"
	processingTimeMS = "processing_time_ms"
)

// ResponseMeta gives every request a metadata map that handlers fill and the
// response envelope renders.
func ResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(requestStartKey, time.Now())
		c.Set(responseMetaKey, map[string]interface{}{})
		c.Next()
	}
}

// SetCacheHit marks whether the payload was served from the availability cache.
func SetCacheHit(c *gin.Context, hit bool) {
	metaOf(c)[cacheHitKey] = hit
}

// Meta returns the metadata collected so far with the elapsed processing time,
// or nil outside ResponseMeta.
func Meta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	v, ok := c.Get(responseMetaKey)
	if !ok {
		return nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	if start, ok := c.Get(requestStartKey); ok {
		if t, ok := start.(time.Time); ok {
			m[processingTimeMS] = time.Since(t).Milliseconds()
		}
	}
	return m
}

func metaOf(c *gin.Context) map[string]interface{} {
	if v, ok := c.Get(responseMetaKey); ok {
		if m, ok := v.(map[string]interface{}); ok {
			return m
		}
	}
	m := map[string]interface{}{}
	c.Set(responseMetaKey, m)
	return m
}
