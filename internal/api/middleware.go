package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/S-Corkum/prd-engine/internal/models"
	"github.com/S-Corkum/prd-engine/internal/observability"
)

// errorBody is the wire shape of every error response
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// RequestLogger logs one line per request with latency and status
func RequestLogger(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("http request", map[string]interface{}{
			"method":     c.Request.Method,
			"path":       path,
			"status":     c.Writer.Status(),
			"latency_ms": float64(time.Since(start).Nanoseconds()) / 1e6,
			"client_ip":  c.ClientIP(),
		})
	}
}

// Metrics records per-route counters and latency
func Metrics(metrics *observability.MetricsClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		labels := map[string]string{
			"method": c.Request.Method,
			"route":  c.FullPath(),
		}
		metrics.RecordCounter("api_requests", 1, labels)
		metrics.RecordTimer("api_request_duration", time.Since(start), labels)
	}
}

// ErrorHandler renders the first collected error in the closed taxonomy
// shape. Handlers attach errors with c.Error and abort.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		kind := models.KindOf(err)
		c.JSON(kind.HTTPStatus(), errorBody{Error: errorDetail{
			Code:      string(kind),
			Message:   err.Error(),
			Timestamp: time.Now().UTC(),
		}})
	}
}

// Timeout bounds handler execution with a request-scoped deadline
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// abortWithError registers err for the ErrorHandler and stops the chain
func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
