// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package identity implements the (DeviceId, SequenceNumber) record
// identity: a device identifier rotated on calendar-week boundaries, and
// an intra-week sequence number rotated hourly and on process restart.
package identity

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/equalitie/ouinet-telemetry/internal/clock"
	"github.com/equalitie/ouinet-telemetry/internal/scalarstore"
)

const DeviceIDFileName = "device_id.json"

// deviceIDRecord is the on-disk shape: a JSON pair [uuid-string,
// RFC3339 timestamp].
type deviceIDRecord struct {
	ID      uuid.UUID
	Created time.Time
}

func (r deviceIDRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{r.ID.String(), r.Created.Format(time.RFC3339)})
}

func (r *deviceIDRecord) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	id, err := uuid.Parse(pair[0])
	if err != nil {
		return err
	}
	created, err := time.Parse(time.RFC3339, pair[1])
	if err != nil {
		return err
	}
	r.ID = id
	r.Created = created
	return nil
}

// DeviceID holds the current device identifier and its creation-week
// interval, persisted to device_id.json.
type DeviceID struct {
	mu       sync.Mutex
	path     string
	rec      deviceIDRecord
	creation clock.Interval
}

// LoadDeviceID loads the device id from dir, or creates a fresh one and
// persists it immediately.
func LoadDeviceID(dir string) (*DeviceID, error) {
	d := &DeviceID{path: filepath.Join(dir, DeviceIDFileName)}

	ok, err := scalarstore.Read(d.path, &d.rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := d.generate(time.Now()); err != nil {
			return nil, err
		}
		return d, nil
	}

	iv, err := clock.WeekInterval(d.rec.Created)
	if err != nil {
		return nil, err
	}
	d.creation = iv
	return d, nil
}

func (d *DeviceID) generate(now time.Time) error {
	iv, err := clock.WeekInterval(now)
	if err != nil {
		return err
	}
	d.rec = deviceIDRecord{ID: uuid.New(), Created: now}
	d.creation = iv
	return scalarstore.Write(d.path, d.rec)
}

// Get returns the current device id.
func (d *DeviceID) Get() uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rec.ID
}

// RotateAfter returns the time remaining until the end of the calendar
// week containing the creation timestamp, or 0 if that week has already
// passed (a rotation is due immediately).
func (d *DeviceID) RotateAfter(now time.Time) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return clock.TimeUntilEnd(now, d.creation.Start, d.creation.End)
}

// Rotate generates a fresh device id, persists it, and refreshes the
// creation-week interval.
func (d *DeviceID) Rotate(now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generate(now)
}
