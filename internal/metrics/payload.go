// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics is the in-memory metrics aggregator: bootstrap
// attempts, per-type request tallies, bridge byte counters, and a
// free-form auxiliary map, plus the JSON payload schema a Record's
// plaintext is built from.
package metrics

import (
	"fmt"
	"time"
)

// Payload is the JSON schema of one record's plaintext.
type Payload struct {
	OS         string               `json:"os"`
	Interval   string               `json:"interval"`
	BridgeI2C  uint64               `json:"bridge_i2c"`
	BridgeC2I  uint64               `json:"bridge_c2i"`
	Bootstraps BootstrapsPayload    `json:"bootstraps"`
	Requests   map[string]RequestStats `json:"requests"`
	Aux        map[string]string    `json:"aux"`
}

// BootstrapsPayload holds the per-IP-version bootstrap summaries.
type BootstrapsPayload struct {
	V4 BootstrapSummary `json:"v4"`
	V6 BootstrapSummary `json:"v6"`
}

// IntervalString formats t as the spec's zero-padded "YYYY:WW:D:HH"
// interval string: WW is the ISO week, D is 1 (Monday) through 7
// (Sunday), HH is the hour 0-23.
func IntervalString(t time.Time) string {
	year, week := t.ISOWeek()
	day := int(t.Weekday())
	if day == 0 {
		day = 7 // time.Weekday: Sunday=0; spec wants ISO day-of-week 1..7.
	}
	return fmt.Sprintf("%04d:%02d:%d:%02d", year, week, day, t.Hour())
}
