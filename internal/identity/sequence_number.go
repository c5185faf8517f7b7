// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package identity

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/equalitie/ouinet-telemetry/internal/clock"
	"github.com/equalitie/ouinet-telemetry/internal/scalarstore"
)

const SequenceNumberFileName = "record_number.json"

// SequenceNumber is the intra-device counter, incremented hourly and once
// on process startup, reset to zero whenever the owning DeviceID rotates.
type SequenceNumber struct {
	mu       sync.Mutex
	path     string
	value    uint32
	current  clock.Interval
}

// LoadSequenceNumber loads the persisted value (incrementing it once for
// the new process, per spec) or starts fresh at 0. The current hour
// interval is always computed against now, regardless of what was
// persisted, since the persisted value carries no timestamp.
func LoadSequenceNumber(dir string, now time.Time) (*SequenceNumber, error) {
	s := &SequenceNumber{path: filepath.Join(dir, SequenceNumberFileName)}

	var loaded uint32
	ok, err := scalarstore.Read(s.path, &loaded)
	if err != nil {
		return nil, err
	}

	iv, err := clock.HourInterval(now)
	if err != nil {
		return nil, err
	}
	s.current = iv

	if ok {
		s.value = loaded + 1
	} else {
		s.value = 0
	}
	if err := scalarstore.Write(s.path, s.value); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the current sequence number.
func (s *SequenceNumber) Get() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// IncrementAfter returns the time remaining until the end of the hour
// interval currently tracked.
func (s *SequenceNumber) IncrementAfter(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clock.TimeUntilEnd(now, s.current.Start, s.current.End)
}

// Increment advances the sequence number by one and refreshes the hour
// interval to contain now.
func (s *SequenceNumber) Increment(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	iv, err := clock.HourInterval(now)
	if err != nil {
		return err
	}
	s.value++
	s.current = iv
	return scalarstore.Write(s.path, s.value)
}

// Reset sets the sequence number to 0 (called when the device id
// rotates) and refreshes the hour interval to contain now.
func (s *SequenceNumber) Reset(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	iv, err := clock.HourInterval(now)
	if err != nil {
		return err
	}
	s.value = 0
	s.current = iv
	return scalarstore.Write(s.path, s.value)
}
