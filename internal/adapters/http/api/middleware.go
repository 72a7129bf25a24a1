package api

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/okian/arena/pkg/metrics"
)

// MetricsMiddleware records Prometheus metrics for every request, labelled
// by the matched route pattern.
func MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()
		if err != nil {
			// Let the error handler set the final status before recording.
			if herr := c.App().Config().ErrorHandler(c, err); herr != nil {
				return herr
			}
		}

		endpoint := c.Route().Path
		method := c.Method()
		statusCode := c.Response().StatusCode()
		durationMs := float64(time.Since(start).Milliseconds())
		statusCodeStr := strconv.Itoa(statusCode)

		metrics.RecordHTTPRequest(endpoint, method, statusCodeStr)
		metrics.RecordHTTPRequestDuration(endpoint, method, statusCodeStr, durationMs)

		if statusCode >= fiber.StatusBadRequest {
			metrics.RecordErrorByEndpoint(endpoint, method, getErrorType(statusCode))
		}
		return nil
	}
}

// getErrorType returns a standardized error type based on HTTP status code.
func getErrorType(statusCode int) string {
	switch {
	case statusCode >= fiber.StatusInternalServerError:
		return "server_error"
	case statusCode == fiber.StatusTooManyRequests:
		return "rate_limit"
	case statusCode == fiber.StatusNotFound:
		return "not_found"
	case statusCode == fiber.StatusConflict:
		return "conflict"
	case statusCode >= fiber.StatusBadRequest:
		return "client_error"
	default:
		return "unknown"
	}
}
