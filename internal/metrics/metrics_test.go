package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Posting("transfer", nil)
	m.Posting("transfer", errors.New("boom"))
	m.Posting("transfer", nil)
	m.FeeGap("airtime")
	m.Correction()
	m.LimitRejected("daily")
	m.EventDropped()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.postings.WithLabelValues("transfer", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.postings.WithLabelValues("transfer", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.feeGaps.WithLabelValues("airtime")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.corrections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.limitRejections.WithLabelValues("daily")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsDropped))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Posting("transfer", nil)
	m.FeeGap("x")
	m.Correction()
	m.LimitRejected("weekly")
	m.EventDropped()
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.Correction()

	app := fiber.New()
	app.Get("/metrics", m.Handler())

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "reconciliation_corrections_total 1"))
}
