// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package runner

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/equalitie/ouinet-telemetry/internal/backoff"
	"github.com/equalitie/ouinet-telemetry/internal/debounce"
	"github.com/equalitie/ouinet-telemetry/internal/identity"
	"github.com/equalitie/ouinet-telemetry/internal/metrics"
	"github.com/equalitie/ouinet-telemetry/internal/recordstore"
	"github.com/equalitie/ouinet-telemetry/internal/telemetrycrypto"
)

// fakeUploader always returns a fixed verdict and records every record
// it was asked to process. priv holds the matching private key; Process
// itself never decrypts anything.
type fakeUploader struct {
	mu        sync.Mutex
	succeed   bool
	processed []recordstore.StoredRecord
	priv      [telemetrycrypto.KeySize]byte
}

func (f *fakeUploader) Process(_ context.Context, rec recordstore.StoredRecord) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, rec)
	return f.succeed
}

func (f *fakeUploader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.processed)
}

func newTestRunner(t *testing.T) (*Runner, *metrics.Collector, *identity.Store, chan Uploader, telemetrycrypto.RecipientKey, [telemetrycrypto.KeySize]byte) {
	t.Helper()
	dir := t.TempDir()
	now := time.Now()

	pub, priv, err := telemetrycrypto.GenerateRecipientKeypair()
	if err != nil {
		t.Fatal(err)
	}

	idStore, err := identity.LoadStore(dir, now)
	if err != nil {
		t.Fatal(err)
	}
	b, err := backoff.New(dir, backoff.Config{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	changes := debounce.New(20 * time.Millisecond)
	collector := metrics.New("linux", changes)
	store := recordstore.New(dir, time.Hour)
	uploaderCh := make(chan Uploader, 1)

	r := New(Config{
		Store:      store,
		Collector:  collector,
		Changes:    changes,
		Identity:   idStore,
		Backoff:    b,
		Recipient:  pub,
		UploaderCh: uploaderCh,
	})
	t.Cleanup(changes.Stop)
	return r, collector, idStore, uploaderCh, pub, priv
}

func TestRunner_NoUploader_NeverWritesRecords(t *testing.T) {
	r, collector, _, uploaderCh, _, _ := newTestRunner(t)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	collector.SetAux("k", "v")

	<-ctx.Done()
	_ = <-done
	close(uploaderCh)

	records, err := r.store.LoadStoredRecords(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records on disk, want 0 (no uploader was ever installed)", len(records))
	}
}

// TestRunner_UploaderPresent_UploadsAndDiscards walks Scenario A directly
// against the runner's event-handling methods (bypassing Run's timers and
// debounce, which only add latency, not coverage): modify, process-one-
// record (nothing non-current yet — a no-op), IncrementSequence to retire
// the first record, modify again, then process-one-record actually
// uploads and discards the retired one.
func TestRunner_UploaderPresent_UploadsAndDiscards(t *testing.T) {
	r, collector, _, _, _, priv := newTestRunner(t)
	up := &fakeUploader{succeed: true, priv: priv}
	ctx := context.Background()

	collector.SetAux("key", "value")
	if err := r.handleMetricsModified(); err != nil {
		t.Fatal(err)
	}

	if _, err := r.processOneRecord(ctx, up, nil); err != nil {
		t.Fatal(err)
	}
	if up.count() != 0 {
		t.Fatalf("got %d uploads, want 0 (only the current record exists)", up.count())
	}

	if err := r.handleIncrementSequence(true, time.Now()); err != nil {
		t.Fatal(err)
	}
	collector.SetAux("key", "value2")
	if err := r.handleMetricsModified(); err != nil {
		t.Fatal(err)
	}

	if _, err := r.processOneRecord(ctx, up, nil); err != nil {
		t.Fatal(err)
	}
	if up.count() != 1 {
		t.Fatalf("got %d uploads, want 1 (the retired pre-increment record)", up.count())
	}

	records, err := r.store.LoadStoredRecords(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records on disk, want 1 (only the current one survives)", len(records))
	}
}

// TestRunner_UploaderRemoval_PurgesRecords follows Scenario D: with
// records on disk, removing the uploader wipes the store.
func TestRunner_UploaderRemoval_PurgesRecords(t *testing.T) {
	r, collector, _, uploaderCh, _, priv := newTestRunner(t)
	up := &fakeUploader{succeed: false, priv: priv}
	ctx := context.Background()

	collector.SetAux("key", "value")
	if err := r.handleMetricsModified(); err != nil {
		t.Fatal(err)
	}
	if err := r.handleIncrementSequence(true, time.Now()); err != nil {
		t.Fatal(err)
	}
	collector.SetAux("key", "value2")
	if err := r.handleMetricsModified(); err != nil {
		t.Fatal(err)
	}

	if _, err := r.processOneRecord(ctx, up, nil); err != nil {
		t.Fatal(err)
	}
	if up.count() != 1 {
		t.Fatalf("got %d uploads, want 1", up.count())
	}

	records, err := r.store.LoadStoredRecords(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) == 0 {
		t.Fatal("expected a record on disk before the uploader is removed")
	}

	ctx2, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx2) }()

	uploaderCh <- nil // None: disables and purges

	deadline := time.After(2 * time.Second)
	for {
		records, err := r.store.LoadStoredRecords(time.Now())
		if err != nil {
			t.Fatal(err)
		}
		if len(records) == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("records were never purged")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestRunner_ExitWritesFinalRecordWhenDirty(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	pub, priv, err := telemetrycrypto.GenerateRecipientKeypair()
	if err != nil {
		t.Fatal(err)
	}
	idStore, err := identity.LoadStore(dir, now)
	if err != nil {
		t.Fatal(err)
	}
	b, err := backoff.New(dir, backoff.Config{})
	if err != nil {
		t.Fatal(err)
	}
	// The collector is not wired to the debouncer, so no MetricsModified
	// event fires and only the exit path can write the dirty record.
	changes := debounce.New(time.Hour)
	collector := metrics.New("linux", nil)
	store := recordstore.New(dir, time.Hour)
	uploaderCh := make(chan Uploader, 1)

	r := New(Config{
		Store:      store,
		Collector:  collector,
		Changes:    changes,
		Identity:   idStore,
		Backoff:    b,
		Recipient:  pub,
		UploaderCh: uploaderCh,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	uploaderCh <- &fakeUploader{succeed: true, priv: priv}
	collector.SetAux("shutdown", "pending")
	time.Sleep(20 * time.Millisecond) // let the uploader-install branch settle

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	changes.Stop()

	records, err := store.LoadStoredRecords(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) == 0 {
		t.Fatal("expected the final dirty record to be written on exit")
	}

	plaintext, err := telemetrycrypto.Open(priv, records[0].Ciphertext)
	if err != nil {
		t.Fatal(err)
	}
	var p metrics.Payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		t.Fatal(err)
	}
	if p.Aux["shutdown"] != "pending" {
		t.Errorf("aux = %+v, want shutdown=pending", p.Aux)
	}
}
