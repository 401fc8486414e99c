package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemsTotal(t *testing.T) {
	ItemsTotal.Reset()
	ItemsTotal.WithLabelValues(Mode(true), "skipped", "no_match").Inc()
	ItemsTotal.WithLabelValues(Mode(true), "skipped", "no_match").Inc()
	ItemsTotal.WithLabelValues(Mode(false), "applied", "").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(ItemsTotal.WithLabelValues("preview", "skipped", "no_match")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ItemsTotal.WithLabelValues("apply", "applied", "")))
}

func TestHandlerExposesTriageMetrics(t *testing.T) {
	AuditFailures.Inc()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "triage_audit_failures_total"))
}
