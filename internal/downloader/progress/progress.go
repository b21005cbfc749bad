package progress

import "sync"

// Snapshot is the state of a download pass after some tiles were processed.
type Snapshot struct {
	Processed int
	Stored    int
	Total     int
	Percent   float64
}

// Tracker counts processed tiles and reports progress through a callback. Percent is
// processed/total, so it never decreases and reaches 100 once every tile was attempted,
// whether or not the attempt stored a tile.
type Tracker struct {
	mu           sync.Mutex
	total        int
	processed    int
	stored       int
	lastReported float64
	reported     bool
	minStep      float64
	onProgress   func(Snapshot)
}

// NewTracker reports whenever progress has grown by at least minStep percentage points
// since the last report, and always at 100. A minStep of 0 reports on every call to Add.
func NewTracker(total int, minStep float64, cb func(Snapshot)) *Tracker {
	return &Tracker{total: total, minStep: minStep, onProgress: cb}
}

// Add records processed attempts of which stored succeeded.
func (t *Tracker) Add(processed, stored int) Snapshot {
	t.mu.Lock()

	t.processed += processed
	t.stored += stored

	snap := t.snapshotLocked()

	report := t.onProgress != nil && (!t.reported ||
		snap.Percent-t.lastReported >= t.minStep ||
		(snap.Percent == 100 && t.lastReported < 100))
	if report {
		t.lastReported = snap.Percent
		t.reported = true
	}

	t.mu.Unlock()

	if report {
		t.onProgress(snap)
	}

	return snap
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{
		Processed: t.processed,
		Stored:    t.stored,
		Total:     t.total,
		Percent:   Percent(t.processed, t.total),
	}
}

// Percent returns done/total as a percentage clamped to [0, 100]. An empty total counts
// as done.
func Percent(done, total int) float64 {
	if total <= 0 {
		return 100
	}

	p := float64(done) / float64(total) * 100

	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
