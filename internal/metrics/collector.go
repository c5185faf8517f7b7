// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/equalitie/ouinet-telemetry/internal/logging"
)

// ChangeSignaler is the minimal interface the Collector needs from the
// debounced change signal (satisfied by *debounce.Debouncer).
type ChangeSignaler interface {
	Signal()
}

type noopSignaler struct{}

func (noopSignaler) Signal() {}

// Collector is a mutex-guarded, thread-safe aggregator over the four
// metric families. Every mutation is O(1), marks the collector dirty,
// and signals the change channel; no mutation performs I/O.
type Collector struct {
	mu       sync.Mutex
	signal   ChangeSignaler
	os       string
	dirty    bool
	nextID   atomic.Uint64
	bootstrapV4 bootstrapFamily
	bootstrapV6 bootstrapFamily
	requests    requestFamily
	bridgeI2C   uint64
	bridgeC2I   uint64
	aux         map[string]string
}

// New creates a Collector tagging payloads with os (e.g. runtime.GOOS),
// signaling signal on every mutation. A nil signal is replaced with a
// no-op, for tests that don't care about the debounce wiring.
func New(os string, signal ChangeSignaler) *Collector {
	if signal == nil {
		signal = noopSignaler{}
	}
	return &Collector{
		os:          os,
		signal:      signal,
		bootstrapV4: newBootstrapFamily(),
		bootstrapV6: newBootstrapFamily(),
		requests:    newRequestFamily(),
		aux:         make(map[string]string),
	}
}

func (c *Collector) markDirty() {
	c.dirty = true
	c.signal.Signal()
}

func (c *Collector) family(ipv IPVersion) *bootstrapFamily {
	if ipv == IPv6 {
		return &c.bootstrapV6
	}
	return &c.bootstrapV4
}

// StartBootstrap records a new in-flight DHT bootstrap attempt and
// returns its id, to be passed to FinishBootstrap.
func (c *Collector) StartBootstrap(ipv IPVersion) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID.Add(1)
	c.family(ipv).active[id] = time.Now()
	c.markDirty()
	return id
}

// FinishBootstrap completes a bootstrap attempt. If id is unknown (its
// start-entry was cleared by an identity rotation), the call is silently
// ignored: the attempt was attributed to a prior identity.
func (c *Collector) FinishBootstrap(ipv IPVersion, id uint64, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := c.family(ipv)
	start, ok := f.active[id]
	if !ok {
		logging.WithComponent("metrics").Debug("finish for unknown bootstrap id, ignoring", "id", id)
		return
	}
	delete(f.active, id)
	if success {
		f.finished = append(f.finished, time.Since(start))
	}
	c.markDirty()
}

// AddRequest records a new in-flight request of the given type and
// returns its id.
func (c *Collector) AddRequest(reqType string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID.Add(1)
	c.requests.active[id] = requestEntry{reqType: reqType}
	c.markDirty()
	return id
}

// RemoveRequest completes an in-flight request with the given reason. An
// unknown id (cleared by an identity rotation) is silently ignored.
func (c *Collector) RemoveRequest(id uint64, reason RemoveReason) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.requests.active[id]
	if !ok {
		logging.WithComponent("metrics").Debug("remove for unknown request id, ignoring", "id", id)
		return
	}
	delete(c.requests.active, id)

	switch reason {
	case ReasonSuccess:
		c.requests.tally(entry.reqType).SuccessCount++
	case ReasonFailure:
		c.requests.tally(entry.reqType).FailureCount++
	case ReasonCancelled:
		// Neither success nor failure; transferred bytes already
		// recorded against the type remain.
	}
	c.markDirty()
}

// IncrementTransferSize adds n bytes transferred to reqType's tally.
func (c *Collector) IncrementTransferSize(reqType string, n uint64) {
	if n == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests.tally(reqType).Transferred += n
	c.markDirty()
}

// AddBridgeI2C adds n bytes to the inbound-to-client-cache counter.
func (c *Collector) AddBridgeI2C(n uint64) {
	if n == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bridgeI2C += n
	c.markDirty()
}

// AddBridgeC2I adds n bytes to the client-cache-to-inbound counter.
func (c *Collector) AddBridgeC2I(n uint64) {
	if n == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bridgeC2I += n
	c.markDirty()
}

// SetAux sets an auxiliary key/value pair. A no-op (does not mark dirty)
// if the value is unchanged.
func (c *Collector) SetAux(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aux[key] == value {
		return
	}
	c.aux[key] = value
	c.markDirty()
}

// HasNewData reports whether a mutation has occurred since the last
// Collect or lifecycle hook.
func (c *Collector) HasNewData() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Collect returns the current payload and true if the collector was
// dirty, or (zero, false) if nothing changed since the last Collect or
// lifecycle hook. It does not clear active tables or finished tallies;
// those are only cleared by OnDeviceIDChanged/OnRecordSequenceNumberChanged.
func (c *Collector) Collect(now time.Time) (Payload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return Payload{}, false
	}
	c.dirty = false

	aux := make(map[string]string, len(c.aux))
	for k, v := range c.aux {
		aux[k] = v
	}

	return Payload{
		OS:        c.os,
		Interval:  IntervalString(now),
		BridgeI2C: c.bridgeI2C,
		BridgeC2I: c.bridgeC2I,
		Bootstraps: BootstrapsPayload{
			V4: c.bootstrapV4.summary(),
			V6: c.bootstrapV6.summary(),
		},
		Requests: c.requests.snapshot(),
		Aux:      aux,
	}, true
}

// Peek returns the current payload without clearing the dirty flag, for
// read-only observers (e.g. a status display) that must not interfere
// with the runner's own Collect/dirty-tracking protocol.
func (c *Collector) Peek(now time.Time) Payload {
	c.mu.Lock()
	defer c.mu.Unlock()

	aux := make(map[string]string, len(c.aux))
	for k, v := range c.aux {
		aux[k] = v
	}

	return Payload{
		OS:        c.os,
		Interval:  IntervalString(now),
		BridgeI2C: c.bridgeI2C,
		BridgeC2I: c.bridgeC2I,
		Bootstraps: BootstrapsPayload{
			V4: c.bootstrapV4.summary(),
			V6: c.bootstrapV6.summary(),
		},
		Requests: c.requests.snapshot(),
		Aux:      aux,
	}
}

// OnDeviceIDChanged fully clears all families (including in-flight
// entries) and marks the collector not dirty: a device-id rotation means
// pre-rotation data must never be attributed to the new identity.
func (c *Collector) OnDeviceIDChanged() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bootstrapV4.clear()
	c.bootstrapV6.clear()
	c.requests.clear()
	c.bridgeI2C = 0
	c.bridgeC2I = 0
	c.aux = make(map[string]string)
	c.dirty = false
}

// OnRecordSequenceNumberChanged resets the finished-attempt tallies and
// the bridge byte counters (what the current payload would report); the
// aux map, in-flight bootstraps and active requests remain, the latter
// so they can still be finished and counted in a later record.
func (c *Collector) OnRecordSequenceNumberChanged() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bootstrapV4.clearFinished()
	c.bootstrapV6.clearFinished()
	c.requests.clearFinished()
	c.bridgeI2C = 0
	c.bridgeC2I = 0
	c.dirty = false
}
