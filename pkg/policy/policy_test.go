package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentloop/pkg/config"
	"agentloop/pkg/session"
)

func record(iteration int, success, complete bool, cost float64) *session.IterationRecord {
	rec := &session.IterationRecord{
		Iteration:       iteration,
		Success:         success,
		BacklogComplete: complete,
		Status:          session.StatusCompleted,
	}
	if !success {
		rec.Status = session.StatusFailed
	}
	if cost > 0 {
		rec.Usage = &session.Usage{TotalCostUSD: cost}
	}
	return rec
}

func cfgWith(mutate func(*config.Config)) *config.Config {
	cfg := config.Defaults()
	mutate(&cfg)
	return &cfg
}

func TestDecisionOrdering(t *testing.T) {
	tests := []struct {
		name      string
		rec       *session.IterationRecord
		cfg       *config.Config
		total     int
		prior     float64
		retries   int
		wantKind  Kind
	}{
		{
			name:     "iteration cost dominates completion sentinel",
			rec:      record(1, true, true, 2.0),
			cfg:      cfgWith(func(c *config.Config) { c.MaxCostPerIteration = 1.0 }),
			total:    10,
			wantKind: StopCostLimitIteration,
		},
		{
			name:     "session cost dominates completion sentinel",
			rec:      record(2, true, true, 0.70),
			cfg:      cfgWith(func(c *config.Config) { c.MaxCostPerSession = 1.0 }),
			total:    10,
			prior:    0.40,
			wantKind: StopCostLimitSession,
		},
		{
			name:     "completion trusted over iteration cap",
			rec:      record(10, true, true, 0.1),
			cfg:      cfgWith(func(*config.Config) {}),
			total:    10,
			wantKind: StopBacklogComplete,
		},
		{
			name:     "iteration cap",
			rec:      record(10, true, false, 0.1),
			cfg:      cfgWith(func(*config.Config) {}),
			total:    10,
			wantKind: StopIterationLimit,
		},
		{
			name:     "failure retries while budget remains",
			rec:      record(3, false, false, 0),
			cfg:      cfgWith(func(c *config.Config) { c.MaxRetries = 2 }),
			total:    10,
			retries:  1,
			wantKind: Retry,
		},
		{
			name:     "failure exhausts retries",
			rec:      record(3, false, false, 0),
			cfg:      cfgWith(func(c *config.Config) { c.MaxRetries = 2 }),
			total:    10,
			retries:  2,
			wantKind: StopRetriesExhausted,
		},
		{
			name:     "success continues",
			rec:      record(3, true, false, 0.2),
			cfg:      cfgWith(func(*config.Config) {}),
			total:    10,
			wantKind: Continue,
		},
		{
			name:     "zero ceilings disable cost checks",
			rec:      record(1, true, false, 99.0),
			cfg:      cfgWith(func(*config.Config) {}),
			total:    10,
			wantKind: Continue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.rec, tt.cfg, tt.total, tt.prior, tt.retries)
			assert.Equal(t, tt.wantKind, d.Kind)
		})
	}
}

func TestRetryAdvancesCountNotIteration(t *testing.T) {
	cfg := cfgWith(func(c *config.Config) { c.MaxRetries = 2 })
	d := Decide(record(4, false, false, 0), cfg, 10, 0, 0)
	require.Equal(t, Retry, d.Kind)
	assert.Equal(t, 4, d.NextIteration, "retry reuses the iteration number")
	assert.Equal(t, 1, d.NextRetryCount)
	assert.False(t, d.Terminal())
}

func TestContinueResetsRetryCount(t *testing.T) {
	cfg := cfgWith(func(*config.Config) {})
	d := Decide(record(4, true, false, 0), cfg, 10, 0, 2)
	require.Equal(t, Continue, d.Kind)
	assert.Equal(t, 5, d.NextIteration)
	assert.Equal(t, 0, d.NextRetryCount)
}

func TestRetryBoundSequence(t *testing.T) {
	// maxRetries=2: three consecutive failures yield Retry, Retry, StopRetriesExhausted.
	cfg := cfgWith(func(c *config.Config) { c.MaxRetries = 2 })

	retryCount := 0
	var kinds []Kind
	for attempt := 0; attempt < 3; attempt++ {
		d := Decide(record(1, false, false, 0), cfg, 10, 0, retryCount)
		kinds = append(kinds, d.Kind)
		if d.Kind == Retry {
			retryCount = d.NextRetryCount
		}
	}
	assert.Equal(t, []Kind{Retry, Retry, StopRetriesExhausted}, kinds)
}

func TestSessionCostScenario(t *testing.T) {
	// maxCostPerSession=1.00: 0.40 then 0.70 exceeds despite both succeeding.
	cfg := cfgWith(func(c *config.Config) {
		c.MaxRetries = 2
		c.MaxCostPerSession = 1.00
	})

	d1 := Decide(record(1, true, false, 0.40), cfg, 10, 0, 0)
	require.Equal(t, Continue, d1.Kind)

	d2 := Decide(record(2, true, false, 0.70), cfg, 10, 0.40, 0)
	require.Equal(t, StopCostLimitSession, d2.Kind)
	assert.Contains(t, d2.Reason, "$1.1000")
	assert.Contains(t, d2.Reason, "$1.0000")
	assert.True(t, d2.Terminal())
}

func TestCostLimitReasonsReportBothSides(t *testing.T) {
	cfg := cfgWith(func(c *config.Config) { c.MaxCostPerIteration = 0.50 })
	d := Decide(record(1, true, false, 0.75), cfg, 10, 0, 0)
	require.Equal(t, StopCostLimitIteration, d.Kind)
	assert.Contains(t, d.Reason, "$0.7500")
	assert.Contains(t, d.Reason, "$0.5000")
}
