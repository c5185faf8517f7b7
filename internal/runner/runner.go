// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package runner implements the telemetry core's single event loop: one
// goroutine, non-deterministically selecting over backoff-driven upload
// attempts, debounced metric changes, uploader install/uninstall, and
// the identity rotation/increment deadlines. All file and network I/O
// happens here; every other package's mutation entry points are
// synchronous, lock-and-return.
package runner

import (
	"context"
	"encoding/json"
	"time"

	"github.com/equalitie/ouinet-telemetry/internal/backoff"
	"github.com/equalitie/ouinet-telemetry/internal/debounce"
	"github.com/equalitie/ouinet-telemetry/internal/errors"
	"github.com/equalitie/ouinet-telemetry/internal/identity"
	"github.com/equalitie/ouinet-telemetry/internal/logging"
	"github.com/equalitie/ouinet-telemetry/internal/metrics"
	"github.com/equalitie/ouinet-telemetry/internal/recordstore"
	"github.com/equalitie/ouinet-telemetry/internal/telemetrycrypto"
)

// Uploader delivers one stored record to the collection endpoint,
// reporting success. Implementations must not block indefinitely; ctx
// is cancelled on runner shutdown.
type Uploader interface {
	Process(ctx context.Context, record recordstore.StoredRecord) bool
}

// Runner owns the single event loop. Construct with New and run with
// Run; a Runner is not reusable once Run returns.
type Runner struct {
	store      *recordstore.Store
	collector  *metrics.Collector
	changes    *debounce.Debouncer
	identity   *identity.Store
	backoff    *backoff.Backoff
	recipient  telemetrycrypto.RecipientKey
	uploaderCh <-chan Uploader
	registry   *metrics.Registry

	log *logging.Logger
}

// Config bundles the constructor's dependencies.
type Config struct {
	Store      *recordstore.Store
	Collector  *metrics.Collector
	Changes    *debounce.Debouncer
	Identity   *identity.Store
	Backoff    *backoff.Backoff
	Recipient  telemetrycrypto.RecipientKey
	UploaderCh <-chan Uploader
	Registry   *metrics.Registry // optional; nil disables meta-metrics updates
}

// New constructs a Runner. The uploader starts absent: the caller sends
// the first Uploader over cfg.UploaderCh once the host is ready. Sending
// nil keeps uploads disabled and also purges every stored record.
func New(cfg Config) *Runner {
	return &Runner{
		store:      cfg.Store,
		collector:  cfg.Collector,
		changes:    cfg.Changes,
		identity:   cfg.Identity,
		backoff:    cfg.Backoff,
		recipient:  cfg.Recipient,
		uploaderCh: cfg.UploaderCh,
		registry:   cfg.Registry,
		log:        logging.WithComponent("runner"),
	}
}

// Run executes the event loop until ctx is cancelled, either the uploader
// channel or the change-signal channel is closed (a graceful Exit),
// or an unrecoverable I/O error occurs (a fatal runner error). Start
// with no uploader installed: backoff.Stop() is called immediately so
// ProcessOneRecord never fires until the host installs one.
func (r *Runner) Run(ctx context.Context) error {
	r.backoff.Stop()

	var uploader Uploader
	var candidate *recordstore.StoredRecord

	now := time.Now()
	incrementTimer := time.NewTimer(r.identity.Sequence().IncrementAfter(now))
	rotateTimer := time.NewTimer(r.identity.Device().RotateAfter(now))
	defer incrementTimer.Stop()
	defer rotateTimer.Stop()

	backoffReady, cancelWait := r.waitBackoff(ctx)
	defer cancelWait()

	changesOut := r.changes.Out()

	for {
		select {
		case <-ctx.Done():
			return r.exit(uploader)

		case <-backoffReady:
			cancelWait()
			if uploader != nil {
				next, err := r.processOneRecord(ctx, uploader, candidate)
				if err != nil {
					return err
				}
				candidate = next
			}
			backoffReady, cancelWait = r.waitBackoff(ctx)

		case _, ok := <-changesOut:
			if !ok {
				return r.exit(uploader)
			}
			if uploader != nil {
				if err := r.handleMetricsModified(); err != nil {
					return err
				}
				cancelWait()
				backoffReady, cancelWait = r.waitBackoff(ctx)
			}

		case u, ok := <-r.uploaderCh:
			if !ok {
				return r.exit(uploader)
			}
			if u == nil {
				uploader = nil
				candidate = nil
				r.backoff.Stop()
				if err := r.store.DeleteStoredRecords(); err != nil {
					return errors.Wrap(err, errors.KindInternal, "purge records on uploader removal")
				}
			} else {
				uploader = u
				r.backoff.Resume()
			}
			cancelWait()
			backoffReady, cancelWait = r.waitBackoff(ctx)

		case t := <-incrementTimer.C:
			if err := r.handleIncrementSequence(uploader != nil, t); err != nil {
				return err
			}
			incrementTimer.Reset(r.identity.Sequence().IncrementAfter(time.Now()))
			if uploader != nil {
				cancelWait()
				backoffReady, cancelWait = r.waitBackoff(ctx)
			}

		case t := <-rotateTimer.C:
			if err := r.handleRotateDevice(uploader != nil, t); err != nil {
				return err
			}
			rotateTimer.Reset(r.identity.Device().RotateAfter(time.Now()))
			if uploader != nil {
				cancelWait()
				backoffReady, cancelWait = r.waitBackoff(ctx)
			}
		}
	}
}

// waitBackoff starts a goroutine sleeping out the current backoff delay
// (or forever, if stopped) and returns a channel that closes when it
// elapses, plus a cancel function to abandon the wait early.
func (r *Runner) waitBackoff(parent context.Context) (<-chan struct{}, func()) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.backoff.Sleep(ctx)
	}()
	return done, cancel
}

// processOneRecord handles the "backoff elapsed and uploader present"
// event: find the oldest non-current record, hand it to the uploader,
// and update backoff/candidate accordingly.
func (r *Runner) processOneRecord(ctx context.Context, uploader Uploader, candidate *recordstore.StoredRecord) (*recordstore.StoredRecord, error) {
	if candidate == nil {
		found, err := r.oldestNonCurrent()
		if err != nil {
			return nil, err
		}
		if found == nil {
			r.backoff.Stop()
			return nil, nil
		}
		candidate = found
	}

	if uploader.Process(ctx, *candidate) {
		if err := r.backoff.Succeeded(); err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "persist backoff success")
		}
		if err := r.store.Discard(candidate.ID); err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "discard uploaded record")
		}
		if r.registry != nil {
			r.registry.LastUploadSuccess.Set(1)
			r.registry.RecordsDeleted.Inc()
			r.registry.BackoffSeconds.Set(0)
		}
		return nil, nil
	}

	if err := r.backoff.Failed(); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "persist backoff failure")
	}
	if r.registry != nil {
		r.registry.LastUploadSuccess.Set(0)
		r.registry.BackoffSeconds.Set(r.backoff.DurationToRetry(r.backoff.PrevFailureCount()).Seconds())
	}
	return candidate, nil
}

// oldestNonCurrent loads all stored records, skips the current one (it
// may still be rewritten; its file is left in place), and returns the
// oldest of the rest, or nil if there is nothing to upload.
func (r *Runner) oldestNonCurrent() (*recordstore.StoredRecord, error) {
	current := r.identity.Current()

	records, err := r.store.LoadStoredRecords(time.Now())
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "load stored records")
	}

	var oldest *recordstore.StoredRecord
	pending := 0
	for i := range records {
		rec := records[i]
		if rec.ID == current {
			continue
		}
		pending++
		if oldest == nil || rec.Created.Before(oldest.Created) {
			oldest = &rec
		}
	}
	if r.registry != nil {
		r.registry.PendingRecords.Set(float64(pending))
	}
	return oldest, nil
}

// handleMetricsModified persists the collector's current payload under
// the current record id, if it has new data, then resumes backoff
// unconditionally: the condition that previously stopped it (no
// non-current record existed) may no longer hold.
func (r *Runner) handleMetricsModified() error {
	if err := r.writeCurrentRecordIfDirty(); err != nil {
		return err
	}
	r.backoff.Resume()
	return nil
}

// handleIncrementSequence stores one record under the pre-increment
// record id if the uploader is present and the collector is dirty, then
// advances the sequence number and runs the matching collector
// lifecycle hook. The just-retired record id is now eligible for
// upload, so backoff resumes whenever an uploader is present, even if
// nothing was written.
func (r *Runner) handleIncrementSequence(uploaderPresent bool, now time.Time) error {
	if uploaderPresent {
		if err := r.writeCurrentRecordIfDirty(); err != nil {
			return err
		}
	}
	if err := r.identity.Increment(now); err != nil {
		return errors.Wrap(err, errors.KindInternal, "increment sequence number")
	}
	r.collector.OnRecordSequenceNumberChanged()
	if uploaderPresent {
		r.backoff.Resume()
	}
	return nil
}

// handleRotateDevice is IncrementSequence's analogue for the weekly
// device-id rotation.
func (r *Runner) handleRotateDevice(uploaderPresent bool, now time.Time) error {
	if uploaderPresent {
		if err := r.writeCurrentRecordIfDirty(); err != nil {
			return err
		}
	}
	if err := r.identity.Rotate(now); err != nil {
		return errors.Wrap(err, errors.KindInternal, "rotate device id")
	}
	r.collector.OnDeviceIDChanged()
	if uploaderPresent {
		r.backoff.Resume()
	}
	return nil
}

// exit handles the Exit event: writes one final record if the uploader
// is present and the collector is dirty, then returns nil (a graceful
// shutdown, not a fatal error).
func (r *Runner) exit(uploader Uploader) error {
	if uploader != nil {
		if err := r.writeCurrentRecordIfDirty(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) writeCurrentRecordIfDirty() error {
	payload, ok := r.collector.Collect(time.Now())
	if !ok {
		return nil
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "marshal payload")
	}

	ciphertext, err := telemetrycrypto.Seal(r.recipient, plaintext)
	if err != nil {
		return errors.Wrap(err, errors.KindEncryption, "seal record")
	}

	id := r.identity.Current()
	if err := r.store.StoreRecord(id, ciphertext, time.Now()); err != nil {
		return errors.Wrap(err, errors.KindInternal, "store record")
	}
	if r.registry != nil {
		r.registry.RecordsStored.Inc()
	}
	return nil
}
