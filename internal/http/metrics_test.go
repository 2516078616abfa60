package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestHTTPMetrics_Middleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := newHTTPMetrics(mp.Meter(httpInstrumentationName), nil)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/health", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/api/run", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "Already running")
	})

	for _, r := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/health", nil),
		httptest.NewRequest(http.MethodPost, "/api/run", nil),
		httptest.NewRequest(http.MethodGet, "/nope", nil),
	} {
		e.ServeHTTP(httptest.NewRecorder(), r)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &rm))

	var requests *metricdata.Sum[int64]
	var sawDuration bool
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch md.Name {
			case "crewd.http.requests_total":
				sum, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				requests = &sum
			case "crewd.http.request_duration_seconds":
				sawDuration = true
			}
		}
	}
	require.NotNil(t, requests)
	assert.True(t, sawDuration)

	byRoute := map[string]int64{}
	statuses := map[string]int64{}
	for _, dp := range requests.DataPoints {
		route, _ := dp.Attributes.Value(attribute.Key("route"))
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		byRoute[route.AsString()] += dp.Value
		statuses[route.AsString()] = status.AsInt64()
	}
	assert.Equal(t, int64(1), byRoute["/health"])
	assert.Equal(t, int64(1), byRoute["/api/run"])
	assert.Equal(t, int64(409), statuses["/api/run"])
}
