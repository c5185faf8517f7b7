// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the telemetry core's HCL configuration file:
// where its state lives on disk, the recipient key it encrypts records
// to, and the tunable timing knobs the rest of the packages default on
// their own.
package config

import (
	"encoding/hex"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/equalitie/ouinet-telemetry/internal/errors"
	"github.com/equalitie/ouinet-telemetry/internal/telemetrycrypto"
)

// Config is the root HCL schema, decoded by hclsimple.Decode. Durations
// are HCL strings ("5s", "24h"), kept as strings by Load and Parse and
// converted by ParseDurations.
type Config struct {
	RootDir           string `hcl:"root_dir,optional"`
	RecipientKeyPath  string `hcl:"recipient_key_path,optional"`
	WriteDebounce     string `hcl:"write_debounce,optional"`
	BackoffInitial    string `hcl:"backoff_initial,optional"`
	BackoffMax        string `hcl:"backoff_max,optional"`
	RotateDeviceAfter string `hcl:"rotate_device_after,optional"`
	IncrementSeqEvery string `hcl:"increment_seq_every,optional"`
	DeleteRecordsAfter string `hcl:"delete_records_after,optional"`
	ShutdownGrace     string `hcl:"shutdown_grace,optional"`
	MetricsListenAddr string `hcl:"metrics_listen_addr,optional"`
}

// Durations holds Config's string fields parsed into time.Duration, the
// shape the rest of the packages actually consume.
type Durations struct {
	WriteDebounce      time.Duration
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	RotateDeviceAfter  time.Duration // parsed only; identity always rotates on calendar-week boundaries
	IncrementSeqEvery  time.Duration // parsed only; identity always increments on calendar-hour boundaries
	DeleteRecordsAfter time.Duration
	ShutdownGrace      time.Duration
}

// Default returns the spec's built-in defaults, used for any field left
// unset in the HCL file.
func Default() Config {
	return Config{
		RootDir:            "/var/lib/ouinet-telemetry",
		WriteDebounce:      "5s",
		BackoffInitial:     "1s",
		BackoffMax:         "24h",
		DeleteRecordsAfter: "168h", // 7 days
		ShutdownGrace:      "5s",
		MetricsListenAddr:  "127.0.0.1:9477",
	}
}

// Load decodes the HCL file at path, filling unset fields from Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return Config{}, errors.Wrap(err, errors.KindValidation, "decode config file")
	}
	return cfg, nil
}

// Parse decodes HCL source already in memory, for tests and embedded
// defaults; filename is used only for diagnostic messages.
func Parse(filename string, data []byte) (Config, error) {
	cfg := Default()
	if err := hclsimple.Decode(filename, data, nil, &cfg); err != nil {
		return Config{}, errors.Wrap(err, errors.KindValidation, "decode config")
	}
	return cfg, nil
}

// ParseDurations converts c's string fields to time.Duration, rejecting
// the file outright if any non-empty field fails to parse: a malformed
// timing knob should fail fast at startup, not silently fall back.
func (c Config) ParseDurations() (Durations, error) {
	var d Durations
	var err error

	if d.WriteDebounce, err = parseDuration(c.WriteDebounce); err != nil {
		return d, errors.Wrapf(err, errors.KindValidation, "write_debounce")
	}
	if d.BackoffInitial, err = parseDuration(c.BackoffInitial); err != nil {
		return d, errors.Wrapf(err, errors.KindValidation, "backoff_initial")
	}
	if d.BackoffMax, err = parseDuration(c.BackoffMax); err != nil {
		return d, errors.Wrapf(err, errors.KindValidation, "backoff_max")
	}
	if d.RotateDeviceAfter, err = parseDuration(c.RotateDeviceAfter); err != nil {
		return d, errors.Wrapf(err, errors.KindValidation, "rotate_device_after")
	}
	if d.IncrementSeqEvery, err = parseDuration(c.IncrementSeqEvery); err != nil {
		return d, errors.Wrapf(err, errors.KindValidation, "increment_seq_every")
	}
	if d.DeleteRecordsAfter, err = parseDuration(c.DeleteRecordsAfter); err != nil {
		return d, errors.Wrapf(err, errors.KindValidation, "delete_records_after")
	}
	if d.ShutdownGrace, err = parseDuration(c.ShutdownGrace); err != nil {
		return d, errors.Wrapf(err, errors.KindValidation, "shutdown_grace")
	}
	return d, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// RecipientKey reads and parses the 32-byte hex-encoded recipient
// public key from c.RecipientKeyPath.
func (c Config) RecipientKey() (telemetrycrypto.RecipientKey, error) {
	if c.RecipientKeyPath == "" {
		return telemetrycrypto.RecipientKey{}, errors.New(errors.KindValidation, "recipient_key_path is required")
	}
	raw, err := os.ReadFile(c.RecipientKeyPath)
	if err != nil {
		return telemetrycrypto.RecipientKey{}, errors.Wrap(err, errors.KindInternal, "read recipient key file")
	}
	decoded, err := hex.DecodeString(trimTrailingNewline(raw))
	if err != nil {
		return telemetrycrypto.RecipientKey{}, errors.Wrap(err, errors.KindValidation, "decode recipient key hex")
	}
	return telemetrycrypto.ParseRecipientKey(decoded)
}

func trimTrailingNewline(b []byte) string {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return string(b)
}
