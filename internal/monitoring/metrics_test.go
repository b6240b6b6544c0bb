package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordOperation(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordOperation("evaluate_scripts", StatusOK, time.Millisecond)
	m.RecordOperation("evaluate_scripts", StatusFailed, time.Millisecond)
	m.RecordOperation("evaluate_bytecode", StatusRejected, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("evaluate_scripts", StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("evaluate_scripts", StatusFailed)))

	snap := m.GetSnapshot()
	assert.Equal(t, int64(3), snap.TotalOperations)
	assert.Equal(t, int64(2), snap.FailedOps)
}

func TestRecordExceptionAndPages(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordException("runtime_exception")
	m.RecordException("runtime_exception")
	m.IncBytecodeRejected()
	m.SetPagesActive(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Exceptions.WithLabelValues("runtime_exception")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BytecodeRejected))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PagesActive))
	assert.Equal(t, int64(3), m.GetSnapshot().ActivePages)
}

func TestSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordOperation("op", StatusOK, time.Second)
		m.RecordException("kind")
		m.RecordHTTPRequest("GET", "/", "200", time.Second, 0, 0)
		m.SetPagesActive(1)
		m.IncBytecodeRejected()
		m.IncWSConnections()
		m.DecWSConnections()
		NewTimer(m, "op").Stop(StatusOK)
	})
	assert.Equal(t, Snapshot{}, m.GetSnapshot())
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics(prometheus.NewRegistry())

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/pages/:id", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	for _, path := range []string{"/pages/1", "/pages/2", "/nowhere"} {
		w := httptest.NewRecorder()
		req, err := http.NewRequest(http.MethodGet, path, nil)
		require.NoError(t, err)
		router.ServeHTTP(w, req)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/pages/:id", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "unmatched", "404")))

	snap := m.GetSnapshot()
	assert.Equal(t, int64(3), snap.TotalRequests)
	assert.Equal(t, int64(3), snap.TotalErrors)
}
