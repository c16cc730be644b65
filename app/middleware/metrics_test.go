package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordsRouteTemplate(t *testing.T) {
	app := fiber.New()
	app.Use(Metrics())
	app.Get("/widgets/:uuid", func(c fiber.Ctx) error {
		return c.SendString("ok")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/widgets/3f2a", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	// The route template, not the concrete path, is the label value
	count := testutil.ToFloat64(requestsTotal.WithLabelValues("GET", "/widgets/:uuid", "200"))
	assert.GreaterOrEqual(t, count, float64(1))
	assert.Zero(t, testutil.ToFloat64(requestsInFlight))
}

func TestMetricsRecordsErrorStatus(t *testing.T) {
	app := fiber.New()
	app.Use(Metrics())
	app.Get("/boom", func(c fiber.Ctx) error {
		return c.SendStatus(fiber.StatusServiceUnavailable)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	count := testutil.ToFloat64(requestsTotal.WithLabelValues("GET", "/boom", "503"))
	assert.GreaterOrEqual(t, count, float64(1))
}
