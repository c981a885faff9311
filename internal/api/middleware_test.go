package api

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkinbot/checkinbot/internal/config"
	"github.com/checkinbot/checkinbot/internal/logging"
	"github.com/checkinbot/checkinbot/internal/metrics"
)

func routeCounts(t *testing.T, m *metrics.Metrics, name string) map[string]float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	counts := map[string]float64{}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.Metric {
			counts[labelValue(metric, "endpoint")+" "+labelValue(metric, "status")] += metric.GetCounter().GetValue()
		}
	}
	return counts
}

func labelValue(metric *dto.Metric, key string) string {
	for _, label := range metric.Label {
		if label.GetName() == key {
			return label.GetValue()
		}
	}
	return ""
}

func TestRequestMiddleware_LabelsStatusRoutes(t *testing.T) {
	server, _ := setupTestServer(t)

	get(t, server, "/api/v1/cycles?limit=5")
	get(t, server, "/api/v1/cycles?limit=7")
	get(t, server, "/api/v1/cycles/latest")
	get(t, server, "/wp-login.php")
	get(t, server, "/.env")

	counts := routeCounts(t, server.metrics, "checkinbot_test_http_requests_total")
	assert.Equal(t, float64(2), counts["/api/v1/cycles 200"])
	assert.Equal(t, float64(1), counts["/api/v1/cycles/latest 404"])
	assert.Equal(t, float64(2), counts["unmatched 404"])
	for label := range counts {
		assert.NotContains(t, label, "wp-login")
	}
}

func TestRequestMiddleware_LogsHistoryFailureOnce(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.WithOutput(&buf), logging.WithLevel(logging.LevelDebug))
	m := metrics.NewMetrics("mwtest")
	server := NewServer(config.APIConfig{}, brokenHistory{}, m, logger)

	w := get(t, server, "/api/v1/cycles")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	out := buf.String()
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("status request failed")))
	assert.Contains(t, out, `"route":"/api/v1/cycles"`)
	assert.Contains(t, out, "database is locked")
	assert.NotContains(t, out, "request completed")

	assert.Equal(t, float64(1), routeCounts(t, m, "mwtest_http_requests_total")["/api/v1/cycles 500"])
}
