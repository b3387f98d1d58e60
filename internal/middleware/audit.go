package middleware

import (
	"net/http"
	"strings"
	"time"

	"labstock/internal/common"
	"labstock/internal/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// AuditMiddleware records who changed what: every mutating request is
// written to the audit log with its subject, outcome and latency.
type AuditMiddleware struct {
	log *zap.SugaredLogger
}

// NewAuditMiddleware creates a new audit middleware instance
func NewAuditMiddleware() *AuditMiddleware {
	return &AuditMiddleware{log: logger.Named("audit")}
}

// AuditRequest audits mutating HTTP requests
func (m *AuditMiddleware) AuditRequest() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m.shouldSkipLogging(c.Request().Method, c.Path()) {
				return next(c)
			}

			start := time.Now()
			err := next(c)

			userID, ok := common.GetUserIDFromContext(c.Request().Context())
			if !ok {
				userID = "anonymous"
			}
			fields := []interface{}{
				"method", c.Request().Method,
				"path", c.Path(),
				"catalog", c.Param("catalog"),
				"user", userID,
				"status", c.Response().Status,
				"ip", c.RealIP(),
				"latency", time.Since(start),
			}
			if id := c.Param("id"); id != "" {
				fields = append(fields, "item", id)
			}
			if err != nil {
				m.log.Warnw("Request failed", append(fields, "error", err)...)
			} else {
				m.log.Infow("Request completed", fields...)
			}
			return err
		}
	}
}

// shouldSkipLogging skips reads and health probes
func (m *AuditMiddleware) shouldSkipLogging(method, path string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return strings.HasPrefix(path, "/health")
}
