package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllMetrics(t *testing.T) {
	r := New()

	// Touch a representative of each family so Gather returns them
	r.CycleDuration.Observe(0.2)
	r.CyclesTotal.WithLabelValues("ok").Inc()
	r.Decisions.WithLabelValues("BUY").Inc()
	r.Fills.WithLabelValues("buy").Inc()
	r.Equity.Set(10000)

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestObserveDecisionCountsReason(t *testing.T) {
	r := New()

	r.ObserveDecision("SKIP", "rr_too_low")
	r.ObserveDecision("BUY", "")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Decisions.WithLabelValues("SKIP")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Decisions.WithLabelValues("BUY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Rejects.WithLabelValues("rr_too_low")))
}

func TestBoolGauges(t *testing.T) {
	r := New()

	r.SetRiskOn(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.RiskOnActive))
	r.SetRiskOn(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.RiskOnActive))

	r.SetHalted(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.HaltedToday))
}
