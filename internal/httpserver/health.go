package httpserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Health check statuses.
const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// CheckResult is the outcome of a single dependency health check.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Checker performs a single dependency health check.
type Checker func() CheckResult

// healthResponse is the aggregated health payload.
type healthResponse struct {
	Status  string                 `json:"status"`
	Service string                 `json:"service"`
	Version string                 `json:"version"`
	Checks  map[string]CheckResult `json:"checks,omitempty"`
}

// RegisterHealthRoutes mounts GET and HEAD /health. Named checks run on
// every GET; a single unhealthy check degrades the response to 503.
func RegisterHealthRoutes(router *gin.Engine, serviceName, version string, checks map[string]Checker) {
	router.GET("/health", func(c *gin.Context) {
		response := healthResponse{
			Status:  statusHealthy,
			Service: serviceName,
			Version: version,
		}

		if len(checks) > 0 {
			response.Checks = make(map[string]CheckResult, len(checks))
			for name, check := range checks {
				result := check()
				response.Checks[name] = result
				switch result.Status {
				case statusUnhealthy:
					response.Status = statusUnhealthy
				case statusDegraded:
					if response.Status == statusHealthy {
						response.Status = statusDegraded
					}
				}
			}
		}

		code := http.StatusOK
		if response.Status == statusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, response)
	})

	router.HEAD("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
}

// PingChecker wraps a ping function into a health check. Critical
// dependencies report unhealthy on failure, non-critical report degraded.
func PingChecker(name string, critical bool, ping func() error) Checker {
	return func() CheckResult {
		start := time.Now()
		err := ping()
		latency := time.Since(start).String()

		if err != nil {
			status := statusDegraded
			if critical {
				status = statusUnhealthy
			}
			return CheckResult{
				Status:  status,
				Message: name + " connection failed",
				Latency: latency,
			}
		}
		return CheckResult{
			Status:  statusHealthy,
			Message: name + " connection OK",
			Latency: latency,
		}
	}
}
