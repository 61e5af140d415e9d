package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveAttempt(t *testing.T) {
	beforeCompleted := testutil.ToFloat64(IterationsTotal.WithLabelValues("completed"))
	beforeCost := testutil.ToFloat64(CostUSDTotal)
	beforeInput := testutil.ToFloat64(TokensTotal.WithLabelValues("input"))

	ObserveAttempt("completed", 42.0, 0.35, 1200, 300)

	assert.InDelta(t, beforeCompleted+1, testutil.ToFloat64(IterationsTotal.WithLabelValues("completed")), 1e-9)
	assert.InDelta(t, beforeCost+0.35, testutil.ToFloat64(CostUSDTotal), 1e-9)
	assert.InDelta(t, beforeInput+1200, testutil.ToFloat64(TokensTotal.WithLabelValues("input")), 1e-9)
}

func TestObserveAttemptSkipsZeroCost(t *testing.T) {
	before := testutil.ToFloat64(CostUSDTotal)
	ObserveAttempt("failed", 5.0, 0, 0, 0)
	assert.InDelta(t, before, testutil.ToFloat64(CostUSDTotal), 1e-9)
}
