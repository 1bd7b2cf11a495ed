package simulator

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aspect-build/teeguest/internal/logx"
)

// RequestLog returns a Gin middleware that logs each RPC at debug level.
// Bodies are never logged since they carry key material.
func RequestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logx.Debugf("simulator.rpc method=%s path=%s status=%d latency=%s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
