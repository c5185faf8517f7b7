// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package telemetry is the external-facing bridge to Ouinet's
// privacy-preserving telemetry core: a single cooperative event loop
// collecting aggregate usage metrics, encrypting them to an operator
// key on a rolling schedule, and handing them off to a pluggable
// uploader. The per-event entry points (handles, bridge counters,
// SetAux) are synchronous and non-blocking; record I/O happens inside
// the runner goroutine, while NewClient loads identity and backoff state
// from disk and NewClient/Close wait for a previous runner to exit.
package telemetry

import (
	"context"
	"net/http"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/equalitie/ouinet-telemetry/internal/backoff"
	"github.com/equalitie/ouinet-telemetry/internal/config"
	"github.com/equalitie/ouinet-telemetry/internal/debounce"
	"github.com/equalitie/ouinet-telemetry/internal/errors"
	"github.com/equalitie/ouinet-telemetry/internal/identity"
	"github.com/equalitie/ouinet-telemetry/internal/logging"
	"github.com/equalitie/ouinet-telemetry/internal/metrics"
	"github.com/equalitie/ouinet-telemetry/internal/recordstore"
	"github.com/equalitie/ouinet-telemetry/internal/runner"
	"github.com/equalitie/ouinet-telemetry/internal/supervisor"
)

// Uploader is re-exported so hosts implementing one don't need to
// import the runner package directly.
type Uploader = runner.Uploader

// Client is the single live telemetry instance for a process. Use
// NewClient to construct one; only one Client may be running at a time
// per process, enforced globally.
type Client struct {
	collector  *metrics.Collector
	identity   *identity.Store
	uploaderCh chan runner.Uploader
	changes    *debounce.Debouncer
	registry   *metrics.Registry
	supervisor *supervisor.Supervisor
	metricsSrv *http.Server

	cancel context.CancelFunc
	done   chan struct{}
}

var (
	globalMu sync.Mutex
	global   *Client
)

// shutdownGrace bounds how long NewClient waits for a previous instance
// to exit gracefully before giving up on it.
const shutdownGrace = 5 * time.Second

// NewClient constructs the telemetry client described by cfg. If a
// Client from a previous call is still running in this process, it is
// stopped first; NewClient waits up to shutdownGrace (5s) for its runner
// to exit before proceeding regardless. cfg's shutdown_grace is parsed
// but does not change this wait.
func NewClient(cfg config.Config) (*Client, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if global != nil {
		global.stopAndWait()
		global = nil
	}

	c, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	global = c
	return c, nil
}

func newClient(cfg config.Config) (*Client, error) {
	now := time.Now()

	durations, err := cfg.ParseDurations()
	if err != nil {
		return nil, err
	}
	recipient, err := cfg.RecipientKey()
	if err != nil {
		return nil, err
	}

	idStore, err := identity.LoadStore(cfg.RootDir, now)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "load identity store")
	}

	b, err := backoff.New(cfg.RootDir, backoff.Config{
		Initial: durations.BackoffInitial,
		Max:     durations.BackoffMax,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "load backoff state")
	}

	changes := debounce.New(durations.WriteDebounce)
	collector := metrics.New(runtime.GOOS, changes)
	store := recordstore.New(recordsDir(cfg.RootDir), durations.DeleteRecordsAfter)

	sup := supervisor.New(cfg.RootDir, supervisor.DefaultConfig())

	var registry *metrics.Registry
	var metricsSrv *http.Server
	if cfg.MetricsListenAddr != "" {
		reg := prometheus.NewRegistry()
		registry = metrics.NewRegistry(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsListenAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.WithComponent("telemetry").WithError(err).Warn("meta-metrics server exited")
			}
		}()
	}

	uploaderCh := make(chan runner.Uploader, 8)

	r := runner.New(runner.Config{
		Store:      store,
		Collector:  collector,
		Changes:    changes,
		Identity:   idStore,
		Backoff:    b,
		Recipient:  recipient,
		UploaderCh: uploaderCh,
		Registry:   registry,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c := &Client{
		collector:  collector,
		identity:   idStore,
		uploaderCh: uploaderCh,
		changes:    changes,
		registry:   registry,
		supervisor: sup,
		metricsSrv: metricsSrv,
		cancel:     cancel,
		done:       done,
	}

	go func() {
		defer close(done)
		if err := r.Run(ctx); err != nil {
			logging.WithComponent("telemetry").WithError(err).Error("runner exited with fatal error")
			if rerr := sup.RecordFatal(err); rerr != nil {
				logging.WithComponent("telemetry").WithError(rerr).Warn("failed to persist fatal-exit record")
			}
		}
	}()

	return c, nil
}

// stopAndWait cancels the runner and waits up to shutdownGrace for it to
// exit; beyond that it gives up without further blocking (the
// goroutine is abandoned, not leaked-and-ignored: it still runs to
// completion on its own).
func (c *Client) stopAndWait() {
	c.cancel()
	select {
	case <-c.done:
	case <-time.After(shutdownGrace):
		logging.WithComponent("telemetry").Warn("previous runner did not exit within the shutdown grace period")
	}
	c.changes.Stop()
	if c.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.metricsSrv.Shutdown(shutdownCtx)
	}
}

// Close stops this Client's runner, waiting up to the shutdown grace
// period for a graceful exit.
func (c *Client) Close() {
	globalMu.Lock()
	defer globalMu.Unlock()
	c.stopAndWait()
	if global == c {
		global = nil
	}
}

// InstallUploader installs or replaces the active uploader. A nil
// uploader disables uploads and purges all stored records.
func (c *Client) InstallUploader(u Uploader) {
	c.uploaderCh <- u
}

// StartBootstrap begins tracking a DHT bootstrap attempt for the given
// IP version.
func (c *Client) StartBootstrap(ipv metrics.IPVersion) *BootstrapHandle {
	return newBootstrapHandle(c.collector, ipv)
}

// StartRequest begins tracking a request of the given type.
func (c *Client) StartRequest(reqType string) *RequestHandle {
	return newRequestHandle(c.collector, reqType)
}

// AddBridgeI2C records n bytes carried from the inbound side to the
// client cache.
func (c *Client) AddBridgeI2C(n uint64) {
	c.collector.AddBridgeI2C(n)
}

// AddBridgeC2I records n bytes carried from the client cache to the
// inbound side.
func (c *Client) AddBridgeC2I(n uint64) {
	c.collector.AddBridgeC2I(n)
}

// SetAux sets an auxiliary key/value pair included verbatim in the next
// record.
func (c *Client) SetAux(key, value string) {
	c.collector.SetAux(key, value)
}

// Snapshot returns the current in-memory payload without disturbing the
// runner's dirty-tracking, plus the device and record identifiers it
// would currently be filed under. It is meant for read-only status
// displays, not for anything that drives uploads or persistence.
func (c *Client) Snapshot() (metrics.Payload, string, string) {
	p := c.collector.Peek(time.Now())
	return p, c.DeviceID(), c.RecordID()
}

// DeviceID returns the current device identifier as a string.
func (c *Client) DeviceID() string {
	return c.identity.Current().Device.String()
}

// RecordID returns the current record identifier ("<device>_<seq>") as
// a string.
func (c *Client) RecordID() string {
	return c.identity.Current().String()
}

func recordsDir(root string) string {
	return filepath.Join(root, "records")
}
