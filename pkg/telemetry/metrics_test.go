package telemetry

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-io/gatehouse/pkg/domain"
)

func TestMetricsRecordHooks(t *testing.T) {
	m := NewMetrics()
	req := &domain.Request{ID: "r1", Method: "GET", Path: "/x"}

	m.RequestRejected(req, domain.RejectPathTraversal)
	m.StageEntered(req, "app", "authorize")
	m.StageEntered(req, "app", "authorize")
	m.Outcome(req, "app", domain.Allow(), 5*time.Millisecond)
	m.Outcome(req, "app", domain.Denied("nope"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues(string(domain.RejectPathTraversal))))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.stageEntries.WithLabelValues("app", "authorize")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("app", string(domain.OutcomeAllow))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("app", string(domain.OutcomeDenied))))
}

func TestMetricsHandlerServesScrape(t *testing.T) {
	m := NewMetrics()
	m.Outcome(&domain.Request{}, "app", domain.Allow(), time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "gatehouse_requests_total")
	assert.Contains(t, body, "gatehouse_request_duration_seconds")
}
