// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package backoff implements a persisted exponential-backoff state
// machine: Success (no file) or Failure{at, prev_failure_count}, doubling
// the retry delay on each consecutive failure from Initial up to Max,
// resetting on the next success.
package backoff

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/equalitie/ouinet-telemetry/internal/scalarstore"
)

const (
	FileName = "backoff.json"

	// maxSafeExponent bounds 2^n so it cannot overflow a duration; at 47
	// the exponential already exceeds Max by many orders of magnitude
	// for any reasonable Initial, so clamping earlier changes nothing
	// observable.
	maxSafeExponent = 47
)

// state is the on-disk representation. Success is the absence of the
// file; a Failure always carries prev, the number of consecutive
// failures that preceded this one (0 means this is the first failure
// since the last success). failing is derived from file presence on
// load, never serialized itself.
type state struct {
	At   time.Time `json:"at"`
	Prev uint32    `json:"prev_failure_count"`

	failing bool
}

// Backoff is safe for concurrent use. The persisted state is only ever
// touched by the runner goroutine, but Stop/Resume may be called from
// any goroutine.
type Backoff struct {
	mu      sync.Mutex
	path    string
	initial time.Duration
	max     time.Duration

	st      state
	stopped bool
}

// Config holds the tunable bounds; zero values fall back to the spec
// defaults (1s initial, 24h max).
type Config struct {
	Initial time.Duration
	Max     time.Duration
}

// New loads persisted backoff state from dir (or starts in Success) using
// the given config.
func New(dir string, cfg Config) (*Backoff, error) {
	if cfg.Initial <= 0 {
		cfg.Initial = time.Second
	}
	if cfg.Max <= 0 {
		cfg.Max = 24 * time.Hour
	}

	b := &Backoff{
		path:    filepath.Join(dir, FileName),
		initial: cfg.Initial,
		max:     cfg.Max,
	}

	found, err := scalarstore.Read(b.path, &b.st)
	if err != nil {
		return nil, err
	}
	b.st.failing = found
	return b, nil
}

// DurationToRetry returns clamp(Initial * 2^prevFailureCount, <= Max).
func (b *Backoff) DurationToRetry(prevFailureCount uint32) time.Duration {
	return durationToRetry(b.initial, b.max, prevFailureCount)
}

func durationToRetry(initial, max time.Duration, prevFailureCount uint32) time.Duration {
	exp := prevFailureCount
	if exp > maxSafeExponent {
		exp = maxSafeExponent
	}
	multiplier := math.Pow(2, float64(exp))
	d := time.Duration(float64(initial) * multiplier)
	if d <= 0 || d > max {
		return max
	}
	return d
}

// Stop makes Sleep block forever until Resume is called, without
// touching persisted state.
func (b *Backoff) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
}

// Resume undoes Stop.
func (b *Backoff) Resume() {
	b.mu.Lock()
	b.stopped = false
	b.mu.Unlock()
}

// Sleep blocks for the current retry delay, or forever if stopped, or
// returns immediately in the Success state. It honors ctx cancellation.
func (b *Backoff) Sleep(ctx context.Context) error {
	b.mu.Lock()
	stopped := b.stopped
	failing := b.st.failing
	at := b.st.At
	prev := b.st.Prev
	initial, max := b.initial, b.max
	b.mu.Unlock()

	if stopped {
		<-ctx.Done()
		return ctx.Err()
	}
	if !failing {
		return nil
	}

	sinceFailure := time.Since(at)
	if sinceFailure < 0 {
		// Clock moved backward; do not let that shorten the wait below
		// zero or produce a negative timer.
		sinceFailure = 0
	}

	wait := durationToRetry(initial, max, prev) - sinceFailure
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Succeeded transitions to Success and deletes the persisted file.
func (b *Backoff) Succeeded() error {
	b.mu.Lock()
	b.st = state{}
	path := b.path
	b.mu.Unlock()

	return scalarstore.Delete(path)
}

// Failed transitions to Failure, incrementing prev_failure_count (0 if
// coming from Success), and persists the new state.
func (b *Backoff) Failed() error {
	b.mu.Lock()
	prev := uint32(0)
	if b.st.failing {
		prev = b.st.Prev + 1
	}
	b.st = state{At: time.Now(), Prev: prev, failing: true}
	st := b.st
	path := b.path
	b.mu.Unlock()

	return scalarstore.Write(path, st)
}

// IsFailing reports whether the backoff is currently in the Failure
// state.
func (b *Backoff) IsFailing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.failing
}

// PrevFailureCount returns the persisted failure count (0 in Success).
func (b *Backoff) PrevFailureCount() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.Prev
}
