// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package identity

import (
	"sync"
	"time"
)

// Store composes DeviceID and SequenceNumber into the current RecordID,
// and publishes every transition to subscribers.
type Store struct {
	mu      sync.Mutex
	device  *DeviceID
	seq     *SequenceNumber
	subs    []chan RecordID
}

// LoadStore loads (or creates) the device id and sequence number rooted
// at dir.
func LoadStore(dir string, now time.Time) (*Store, error) {
	dev, err := LoadDeviceID(dir)
	if err != nil {
		return nil, err
	}
	seq, err := LoadSequenceNumber(dir, now)
	if err != nil {
		return nil, err
	}
	return &Store{device: dev, seq: seq}, nil
}

// Current returns the current RecordID.
func (s *Store) Current() RecordID {
	return RecordID{Device: s.device.Get(), Sequence: s.seq.Get()}
}

// Device exposes the underlying DeviceID (for RotateAfter scheduling).
func (s *Store) Device() *DeviceID { return s.device }

// Sequence exposes the underlying SequenceNumber (for IncrementAfter
// scheduling).
func (s *Store) Sequence() *SequenceNumber { return s.seq }

// Subscribe returns a channel delivering every RecordID this store
// transitions to, via Increment or Rotate. The channel is buffered (1)
// and non-blocking on send: a slow subscriber observes only the most
// recent value, never a backlog.
func (s *Store) Subscribe() <-chan RecordID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan RecordID, 1)
	s.subs = append(s.subs, ch)
	return ch
}

func (s *Store) publish(id RecordID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- id:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- id
		}
	}
}

// Increment advances the sequence number only, publishing the new
// RecordID to subscribers.
func (s *Store) Increment(now time.Time) error {
	if err := s.seq.Increment(now); err != nil {
		return err
	}
	s.publish(s.Current())
	return nil
}

// Rotate generates a fresh device id and resets the sequence number to
// zero in the same transition, publishing the new RecordID.
func (s *Store) Rotate(now time.Time) error {
	if err := s.device.Rotate(now); err != nil {
		return err
	}
	if err := s.seq.Reset(now); err != nil {
		return err
	}
	s.publish(s.Current())
	return nil
}
