package api

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/steemit/enginemind/internal/cache"
)

// cachedWriter captures the response body so it can be stored after the
// handler runs.
type cachedWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *cachedWriter) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

// cached wraps a handler with a Redis response cache keyed on path and
// query string. With the cache disabled the handler runs directly.
func (r *Router) cached(ttl time.Duration, handler gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.cache == nil {
			handler(c)
			return
		}

		key := cache.HashKey(c.Request.URL.Path, c.Request.URL.RawQuery)
		if stored, err := r.cache.Get(key); err == nil {
			c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(stored))
			return
		}

		writer := &cachedWriter{ResponseWriter: c.Writer}
		c.Writer = writer
		handler(c)
		c.Writer = writer.ResponseWriter

		if c.Writer.Status() == http.StatusOK && writer.body.Len() > 0 {
			if err := r.cache.Set(key, writer.body.String(), ttl); err != nil {
				r.logger.Warn("Failed to store response in cache",
					zap.String("path", c.Request.URL.Path), zap.Error(err))
			}
		}
	}
}
