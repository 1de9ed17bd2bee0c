package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRttFirstSampleIsBaseline(t *testing.T) {
	var r RttEstimator
	assert.False(t, r.ShouldReport(), "nothing to report without samples")

	r.Update(20 * time.Millisecond)
	assert.EqualValues(t, 20_000, r.EstimateUs())
	// the first sample seeds the reported baseline, it is not a change
	assert.False(t, r.ShouldReport())
}

func TestRttReportThreshold(t *testing.T) {
	var r RttEstimator
	r.Update(20 * time.Millisecond)

	// 25% of 20ms is 5ms, the floor of 10ms dominates; +8ms stays quiet
	r.Update(36 * time.Millisecond) // estimate 28ms
	assert.False(t, r.ShouldReport())

	r.Update(36 * time.Millisecond) // estimate 32ms, +12ms over baseline
	assert.True(t, r.ShouldReport())
	assert.EqualValues(t, 32_000, r.LastReportedUs())

	// after reporting, the delta is consumed
	assert.False(t, r.ShouldReport())
}

func TestRttPercentThresholdDominatesWhenLarger(t *testing.T) {
	var r RttEstimator
	r.Update(100 * time.Millisecond)

	// 25% of 100ms = 25ms > 10ms floor; a 20ms move must stay quiet
	r.Update(140 * time.Millisecond) // estimate 120ms
	assert.False(t, r.ShouldReport())

	r.Update(160 * time.Millisecond) // estimate 140ms, +40ms
	assert.True(t, r.ShouldReport())
}

func TestRttClampsNonPositiveSamples(t *testing.T) {
	var r RttEstimator
	r.Update(-5 * time.Millisecond)
	assert.EqualValues(t, 1, r.EstimateUs())
}

func TestRttEwmaConverges(t *testing.T) {
	var r RttEstimator
	r.Update(20 * time.Millisecond)
	for i := 0; i < 10; i++ {
		r.Update(40 * time.Millisecond)
	}
	assert.InDelta(t, 40_000, r.EstimateUs(), 1_000)
}
