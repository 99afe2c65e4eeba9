package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestHTTPMetrics_Middleware(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := newHTTPMetrics(mp.Meter(instrumentationName), zap.NewNop())

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/v1/artifacts/:name", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "gone")
	})
	e.GET("/boom", func(c echo.Context) error {
		return errors.New("boom")
	})

	for _, target := range []string{"/health", "/api/v1/artifacts/a.xlsx", "/api/v1/artifacts/b.xlsx", "/boom"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := map[string]int64{}
	var sawDuration, sawSize bool
	for _, sm := range rm.ScopeMetrics {
		for _, mt := range sm.Metrics {
			switch mt.Name {
			case "recd.http.requests_total":
				sum, ok := mt.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					ep, _ := dp.Attributes.Value(attribute.Key("endpoint"))
					st, _ := dp.Attributes.Value(attribute.Key("status"))
					counts[ep.AsString()+" "+st.AsString()] += dp.Value
				}
			case "recd.http.request_duration_seconds":
				sawDuration = true
			case "recd.http.response_size_bytes":
				sawSize = true
			}
		}
	}

	assert.Equal(t, map[string]int64{
		"/health 200":                 1,
		"/api/v1/artifacts/:name 404": 2,
		"/boom 500":                   1,
	}, counts)
	assert.True(t, sawDuration)
	assert.True(t, sawSize)
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/", normalizePath(""))
	assert.Equal(t, "/api/v1/artifacts/:name", normalizePath("/api/v1/artifacts/:name"))
}
