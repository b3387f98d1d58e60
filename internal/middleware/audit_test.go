package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestAuditRequest_PassesThrough(t *testing.T) {
	e := echo.New()
	audit := NewAuditMiddleware()
	failure := errors.New("boom")

	e.POST("/v1/catalogs/:catalog/items", func(c echo.Context) error {
		return c.NoContent(http.StatusCreated)
	}, audit.AuditRequest())
	e.DELETE("/v1/catalogs/:catalog/items/:id", func(c echo.Context) error {
		return failure
	}, audit.AuditRequest())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/catalogs/materials/items", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/catalogs/materials/items/abc", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAuditRequest_SkipsReads(t *testing.T) {
	audit := NewAuditMiddleware()
	assert.True(t, audit.shouldSkipLogging(http.MethodGet, "/v1/catalogs/:catalog/items"))
	assert.True(t, audit.shouldSkipLogging(http.MethodPost, "/health"))
	assert.False(t, audit.shouldSkipLogging(http.MethodPut, "/v1/catalogs/:catalog/items/:id"))
}

func TestVersionRoute(t *testing.T) {
	e := echo.New()
	v1 := VersionRoute(e, CurrentAPIVersion)
	v1.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v1", rec.Header().Get("X-API-Version"))
}

func TestRequestLogger_KeepsStatus(t *testing.T) {
	e := echo.New()
	e.Use(RequestLogger())
	e.GET("/ok", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	e.GET("/teapot", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusTeapot, "short and stout")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
