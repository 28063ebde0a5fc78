package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMetrics_ObserveAttempt(t *testing.T) {
	m := NewMetrics()
	m.ObserveAttempt("claude", OutcomeComplete, 42*time.Second, 1800)
	m.ObserveAttempt("claude", OutcomeComplete, 30*time.Second, 900)
	m.ObserveAttempt("claude", "generation_timeout", 120*time.Second, 0)
	m.IncRetry("gemini")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.outcomes.WithLabelValues("claude", OutcomeComplete)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("claude", "generation_timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("gemini")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.length), "failed attempts have no length sample")
	assert.Equal(t, 2, testutil.CollectAndCount(m.detection))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAttempt("openai", OutcomeComplete, time.Second, 10)
		m.IncRetry("openai")
	})
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.ObserveAttempt("openai", OutcomeComplete, time.Second, 300)
	assert.Equal(t, 0, testutil.CollectAndCount(b.outcomes))
}

func TestMetrics_Serve(t *testing.T) {
	m := NewMetrics()
	m.ObserveAttempt("gemini", "driver_fault", 3*time.Second, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, err := m.Serve(ctx, "127.0.0.1:0", zaptest.NewLogger(t))
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `tgbench_attempts_total{kind="driver_fault",provider="gemini"} 1`))

	_, err = m.Serve(ctx, "256.0.0.1:bad", zaptest.NewLogger(t))
	assert.Error(t, err)
}
