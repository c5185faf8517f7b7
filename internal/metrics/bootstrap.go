// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import "time"

// IPVersion discriminates the two DHT bootstrap families tracked
// separately in the payload.
type IPVersion int

const (
	IPv4 IPVersion = iota
	IPv6
)

// bootstrapBucketsMs are the histogram bucket upper bounds, in
// milliseconds; the final implicit bucket catches everything above the
// last boundary.
var bootstrapBucketsMs = []int64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// BootstrapSummary is the collect()-time snapshot of one IP version's
// bootstrap attempts: a histogram over successful attempt durations, the
// min/max of those durations, and the count of attempts still in
// flight.
type BootstrapSummary struct {
	Histogram  []int64 `json:"histogram"`
	MinMs      int64   `json:"min_ms"`
	MaxMs      int64   `json:"max_ms"`
	Unfinished int     `json:"unfinished"`
}

type bootstrapEntry struct {
	ipv   IPVersion
	start time.Time
}

// bootstrapFamily tracks in-flight starts (active) and successful
// finish durations (finished) for one IP version. active survives a
// sequence-number rotation (an in-flight attempt may still finish and
// count toward a later record); finished is cleared by that rotation.
type bootstrapFamily struct {
	active   map[uint64]time.Time
	finished []time.Duration
}

func newBootstrapFamily() bootstrapFamily {
	return bootstrapFamily{active: make(map[uint64]time.Time)}
}

func (f *bootstrapFamily) summary() BootstrapSummary {
	counts := make([]int64, len(bootstrapBucketsMs)+1)
	var min, max int64
	for i, d := range f.finished {
		ms := d.Milliseconds()
		if i == 0 || ms < min {
			min = ms
		}
		if ms > max {
			max = ms
		}
		counts[bucketIndex(ms)]++
	}
	return BootstrapSummary{
		Histogram:  counts,
		MinMs:      min,
		MaxMs:      max,
		Unfinished: len(f.active),
	}
}

func bucketIndex(ms int64) int {
	for i, b := range bootstrapBucketsMs {
		if ms <= b {
			return i
		}
	}
	return len(bootstrapBucketsMs)
}

func (f *bootstrapFamily) clear() {
	f.active = make(map[uint64]time.Time)
	f.finished = nil
}

// clearFinished resets only the finished-attempt tallies, leaving
// in-flight starts untouched (called on sequence-number rotation).
func (f *bootstrapFamily) clearFinished() {
	f.finished = nil
}
