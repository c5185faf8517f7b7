// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package telemetry

import (
	"runtime"
	"sync/atomic"

	"github.com/equalitie/ouinet-telemetry/internal/metrics"
)

// BootstrapHandle represents one in-progress DHT bootstrap attempt.
// Exactly one of Succeeded or Failed should be called; if the handle is
// garbage collected without either having run, a finalizer records it
// as a failure, matching the spec's "implicit Failure on drop"
// contract as closely as Go's lack of deterministic destructors allows.
// Prefer calling Succeeded/Failed explicitly — do not rely on the
// finalizer for anything but catching mistakes.
type BootstrapHandle struct {
	collector *metrics.Collector
	ipv       metrics.IPVersion
	id        uint64
	done      atomic.Bool
}

func newBootstrapHandle(collector *metrics.Collector, ipv metrics.IPVersion) *BootstrapHandle {
	h := &BootstrapHandle{
		collector: collector,
		ipv:       ipv,
		id:        collector.StartBootstrap(ipv),
	}
	runtime.SetFinalizer(h, (*BootstrapHandle).finalize)
	return h
}

// Succeeded marks the bootstrap attempt as having completed
// successfully.
func (h *BootstrapHandle) Succeeded() {
	h.finish(true)
}

// Failed marks the bootstrap attempt as having failed.
func (h *BootstrapHandle) Failed() {
	h.finish(false)
}

func (h *BootstrapHandle) finish(success bool) {
	if !h.done.CompareAndSwap(false, true) {
		return
	}
	runtime.SetFinalizer(h, nil)
	h.collector.FinishBootstrap(h.ipv, h.id, success)
}

func (h *BootstrapHandle) finalize() {
	h.finish(false)
}

// RequestHandle represents one in-progress request. Exactly one of
// Succeeded, Failed, or Cancel should be called; a handle dropped
// without any of them is treated as Cancelled by its finalizer.
type RequestHandle struct {
	collector *metrics.Collector
	reqType   string
	id        uint64
	done      atomic.Bool
}

func newRequestHandle(collector *metrics.Collector, reqType string) *RequestHandle {
	h := &RequestHandle{
		collector: collector,
		reqType:   reqType,
		id:        collector.AddRequest(reqType),
	}
	runtime.SetFinalizer(h, (*RequestHandle).finalize)
	return h
}

// IncrementTransferSize adds n bytes transferred to this request's
// tally. Safe to call any number of times before the handle finishes.
func (h *RequestHandle) IncrementTransferSize(n uint64) {
	h.collector.IncrementTransferSize(h.reqType, n)
}

// Succeeded marks the request as having completed successfully.
func (h *RequestHandle) Succeeded() {
	h.finish(metrics.ReasonSuccess)
}

// Failed marks the request as having failed.
func (h *RequestHandle) Failed() {
	h.finish(metrics.ReasonFailure)
}

// Cancel marks the request as cancelled: neither a success nor a
// failure.
func (h *RequestHandle) Cancel() {
	h.finish(metrics.ReasonCancelled)
}

func (h *RequestHandle) finish(reason metrics.RemoveReason) {
	if !h.done.CompareAndSwap(false, true) {
		return
	}
	runtime.SetFinalizer(h, nil)
	h.collector.RemoveRequest(h.id, reason)
}

func (h *RequestHandle) finalize() {
	h.finish(metrics.ReasonCancelled)
}
