package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCountsAndServes(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.AppointmentsBooked.Inc()
	c.StatusTransitions.WithLabelValues("scheduled", "cancelled").Inc()
	c.WaitlistOffers.WithLabelValues("offered").Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.AppointmentsBooked))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.WaitlistOffers.WithLabelValues("offered")))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "clinic_appointments_booked_total 1"))
}

func TestCollectorsDoNotClash(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollector(prometheus.NewRegistry())
		NewCollector(prometheus.NewRegistry())
	})
}
