// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package identity

import (
	"testing"
	"time"
)

func TestDeviceID_LoadCreatesFresh(t *testing.T) {
	dir := t.TempDir()
	d, err := LoadDeviceID(dir)
	if err != nil {
		t.Fatal(err)
	}
	if d.Get().String() == "" {
		t.Fatal("expected a generated device id")
	}
}

func TestDeviceID_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	d1, err := LoadDeviceID(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := d1.Get()

	d2, err := LoadDeviceID(dir)
	if err != nil {
		t.Fatal(err)
	}
	if d2.Get() != want {
		t.Errorf("reloaded id %v, want %v", d2.Get(), want)
	}
}

func TestDeviceID_Rotate(t *testing.T) {
	dir := t.TempDir()
	d, err := LoadDeviceID(dir)
	if err != nil {
		t.Fatal(err)
	}
	before := d.Get()

	if err := d.Rotate(time.Now()); err != nil {
		t.Fatal(err)
	}
	if d.Get() == before {
		t.Error("expected device id to change after Rotate")
	}
}

func TestDeviceID_RotateAfter(t *testing.T) {
	dir := t.TempDir()
	d, err := LoadDeviceID(dir)
	if err != nil {
		t.Fatal(err)
	}

	// Within the creation week, rotate-after should be positive and at
	// most 7 days.
	ra := d.RotateAfter(time.Now())
	if ra <= 0 || ra > 7*24*time.Hour {
		t.Errorf("RotateAfter = %v, want in (0, 7d]", ra)
	}

	// Far enough in the future, rotation is due immediately.
	ra = d.RotateAfter(time.Now().Add(30 * 24 * time.Hour))
	if ra != 0 {
		t.Errorf("RotateAfter for far future = %v, want 0", ra)
	}
}

func TestSequenceNumber_FreshStartsAtZero(t *testing.T) {
	dir := t.TempDir()
	s, err := LoadSequenceNumber(dir, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if s.Get() != 0 {
		t.Errorf("fresh sequence = %d, want 0", s.Get())
	}
}

func TestSequenceNumber_RestartIncrements(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	s1, err := LoadSequenceNumber(dir, now)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.Increment(now); err != nil {
		t.Fatal(err)
	}
	if s1.Get() != 1 {
		t.Fatalf("expected 1 after increment, got %d", s1.Get())
	}

	// A fresh process load increments the loaded value once more.
	s2, err := LoadSequenceNumber(dir, now)
	if err != nil {
		t.Fatal(err)
	}
	if s2.Get() != 2 {
		t.Errorf("expected 2 after reload, got %d", s2.Get())
	}
}

func TestSequenceNumber_Reset(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	s, err := LoadSequenceNumber(dir, now)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Increment(now)
	_ = s.Increment(now)
	if err := s.Reset(now); err != nil {
		t.Fatal(err)
	}
	if s.Get() != 0 {
		t.Errorf("expected 0 after reset, got %d", s.Get())
	}
}

func TestRecordID_String(t *testing.T) {
	dir := t.TempDir()
	store, err := LoadStore(dir, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	id := store.Current()
	want := id.Device.String() + "_0"
	if id.String() != want {
		t.Errorf("String() = %q, want %q", id.String(), want)
	}
}

func TestStore_IncrementPublishes(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	store, err := LoadStore(dir, now)
	if err != nil {
		t.Fatal(err)
	}
	sub := store.Subscribe()

	before := store.Current()
	if err := store.Increment(now); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-sub:
		if got.Sequence != before.Sequence+1 {
			t.Errorf("published sequence %d, want %d", got.Sequence, before.Sequence+1)
		}
		if got.Device != before.Device {
			t.Error("device id should not change on Increment")
		}
	case <-time.After(time.Second):
		t.Fatal("expected a publish after Increment")
	}
}

func TestStore_RotateResetsSequenceAndPublishes(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	store, err := LoadStore(dir, now)
	if err != nil {
		t.Fatal(err)
	}
	_ = store.Increment(now)
	before := store.Current()
	sub := store.Subscribe()

	if err := store.Rotate(now); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-sub:
		if got.Device == before.Device {
			t.Error("expected device id to change on Rotate")
		}
		if got.Sequence != 0 {
			t.Errorf("expected sequence reset to 0, got %d", got.Sequence)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a publish after Rotate")
	}
}
