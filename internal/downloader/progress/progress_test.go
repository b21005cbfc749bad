package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerReportsEveryBatch(t *testing.T) {
	var reports []Snapshot

	tr := NewTracker(25, 0, func(s Snapshot) { reports = append(reports, s) })

	tr.Add(10, 10)
	tr.Add(10, 7)
	tr.Add(5, 1)

	require.Len(t, reports, 3)
	assert.InDelta(t, 40.0, reports[0].Percent, 1e-9)
	assert.InDelta(t, 80.0, reports[1].Percent, 1e-9)
	assert.Equal(t, 100.0, reports[2].Percent)
	assert.Equal(t, 18, reports[2].Stored)
	assert.Equal(t, 25, reports[2].Processed)
}

func TestTrackerThrottlesButAlwaysReportsCompletion(t *testing.T) {
	var reports []float64

	tr := NewTracker(4, 50, func(s Snapshot) { reports = append(reports, s.Percent) })

	for i := 0; i < 4; i++ {
		tr.Add(1, 1)
	}

	assert.Equal(t, []float64{25, 75, 100}, reports)
}

func TestTrackerProgressIsMonotonic(t *testing.T) {
	tr := NewTracker(7, 0, nil)

	last := -1.0

	for i := 0; i < 7; i++ {
		snap := tr.Add(1, i%2)
		assert.GreaterOrEqual(t, snap.Percent, last)
		last = snap.Percent
	}

	assert.Equal(t, 100.0, tr.Snapshot().Percent)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 100.0, Percent(0, 0))
	assert.Equal(t, 50.0, Percent(1, 2))
	assert.Equal(t, 100.0, Percent(3, 2))
	assert.Equal(t, 0.0, Percent(-1, 2))
}
