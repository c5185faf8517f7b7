// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"testing"
	"time"
)

type countingSignaler struct{ n int }

func (s *countingSignaler) Signal() { s.n++ }

func TestCollector_FreshIsNotDirty(t *testing.T) {
	c := New("linux", nil)
	if c.HasNewData() {
		t.Error("fresh collector should not have new data")
	}
	if _, ok := c.Collect(time.Now()); ok {
		t.Error("fresh collector Collect should return false")
	}
}

func TestCollector_MutationMarksDirtyAndSignals(t *testing.T) {
	sig := &countingSignaler{}
	c := New("linux", sig)

	c.AddBridgeI2C(100)
	if !c.HasNewData() {
		t.Fatal("expected dirty after mutation")
	}
	if sig.n != 1 {
		t.Errorf("signal count = %d, want 1", sig.n)
	}
}

func TestCollector_CollectClearsDirtyAndAggregates(t *testing.T) {
	c := New("linux", nil)
	c.AddBridgeI2C(10)
	c.AddBridgeC2I(20)
	c.SetAux("version", "1.2.3")

	id := c.AddRequest("cache-hit")
	c.IncrementTransferSize("cache-hit", 512)
	c.RemoveRequest(id, ReasonSuccess)

	p, ok := c.Collect(time.Now())
	if !ok {
		t.Fatal("expected Collect to return data")
	}
	if p.BridgeI2C != 10 || p.BridgeC2I != 20 {
		t.Errorf("bridge counters = %d/%d, want 10/20", p.BridgeI2C, p.BridgeC2I)
	}
	if p.Aux["version"] != "1.2.3" {
		t.Errorf("aux[version] = %q, want 1.2.3", p.Aux["version"])
	}
	stats, ok := p.Requests["cache-hit"]
	if !ok || stats.SuccessCount != 1 || stats.Transferred != 512 {
		t.Errorf("cache-hit stats = %+v, want success=1 transferred=512", stats)
	}

	if _, ok := c.Collect(time.Now()); ok {
		t.Error("second consecutive Collect without mutation should return false")
	}
}

func TestCollector_SetAuxNoopWhenUnchanged(t *testing.T) {
	sig := &countingSignaler{}
	c := New("linux", sig)

	c.SetAux("k", "v")
	_, _ = c.Collect(time.Now())

	sig.n = 0
	c.SetAux("k", "v")
	if sig.n != 0 {
		t.Error("setting aux to the same value should not signal")
	}
	if c.HasNewData() {
		t.Error("setting aux to the same value should not mark dirty")
	}
}

func TestCollector_OnDeviceIDChanged_DiscardsEverything(t *testing.T) {
	c := New("linux", nil)
	id := c.StartBootstrap(IPv4)
	c.AddBridgeI2C(10)
	c.SetAux("k", "v")

	c.OnDeviceIDChanged()

	if c.HasNewData() {
		t.Error("OnDeviceIDChanged should leave collector not dirty")
	}
	if _, ok := c.Collect(time.Now()); ok {
		t.Error("Collect immediately after OnDeviceIDChanged should return false")
	}

	// The in-flight bootstrap start was discarded: finishing it now is a
	// silent no-op, not an error, and does not resurrect dirty state.
	c.FinishBootstrap(IPv4, id, true)
	if c.HasNewData() {
		t.Error("finishing a pre-rotation bootstrap must not mark dirty")
	}
}

func TestCollector_OnRecordSequenceNumberChanged_KeepsInFlight(t *testing.T) {
	c := New("linux", nil)
	id := c.StartBootstrap(IPv4)
	reqID := c.AddRequest("cache-hit")

	c.OnRecordSequenceNumberChanged()
	if c.HasNewData() {
		t.Fatal("lifecycle hook should leave collector not dirty")
	}

	// In-flight entries survive the rotation and can still finish.
	c.FinishBootstrap(IPv4, id, true)
	c.RemoveRequest(reqID, ReasonSuccess)

	p, ok := c.Collect(time.Now())
	if !ok {
		t.Fatal("expected data after finishing surviving in-flight entries")
	}
	if p.Bootstraps.V4.Unfinished != 0 {
		t.Errorf("unfinished = %d, want 0", p.Bootstraps.V4.Unfinished)
	}
	if p.Requests["cache-hit"].SuccessCount != 1 {
		t.Error("expected the surviving request to be tallied")
	}
}

func TestCollector_FinishUnknownBootstrapIsSilentNoop(t *testing.T) {
	c := New("linux", nil)
	c.FinishBootstrap(IPv4, 999, true)
	if c.HasNewData() {
		t.Error("finishing an unknown bootstrap id should not mark dirty")
	}
}

func TestCollector_RemoveUnknownRequestIsSilentNoop(t *testing.T) {
	c := New("linux", nil)
	c.RemoveRequest(999, ReasonSuccess)
	if c.HasNewData() {
		t.Error("removing an unknown request id should not mark dirty")
	}
}

func TestCollector_CancelledRequestNotTalliedAsSuccessOrFailure(t *testing.T) {
	c := New("linux", nil)
	id := c.AddRequest("cache-miss")
	c.RemoveRequest(id, ReasonCancelled)

	p, _ := c.Collect(time.Now())
	stats := p.Requests["cache-miss"]
	if stats.SuccessCount != 0 || stats.FailureCount != 0 {
		t.Errorf("cancelled request tallied as %+v, want zero counts", stats)
	}
}

func TestIntervalString_Format(t *testing.T) {
	// 2026-01-05 is a Monday.
	mon := time.Date(2026, 1, 5, 14, 0, 0, 0, time.UTC)
	if got, want := IntervalString(mon), "2026:02:1:14"; got != want {
		t.Errorf("IntervalString(Monday) = %q, want %q", got, want)
	}

	// 2026-01-11 is a Sunday, ISO day-of-week 7.
	sun := time.Date(2026, 1, 11, 3, 0, 0, 0, time.UTC)
	if got, want := IntervalString(sun), "2026:02:7:03"; got != want {
		t.Errorf("IntervalString(Sunday) = %q, want %q", got, want)
	}
}
