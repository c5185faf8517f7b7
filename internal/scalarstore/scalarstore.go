// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package scalarstore persists a single small JSON value at a path.
// Reads of a missing file return (zero, false, nil); reads of a
// corrupt file delete it and return (zero, false, nil) as well, since
// corrupt persisted state is always recoverable by deletion (never
// surfaced as an error the caller must handle specially).
package scalarstore

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/equalitie/ouinet-telemetry/internal/logging"
)

// Write serializes value as JSON and replaces the file at path, writing
// through a temp file in the same directory so a crash mid-write never
// leaves a half-written file behind.
func Write(path string, value any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Read unmarshals the JSON value at path into out. It returns
// (false, nil) if the file does not exist. If the content fails to
// parse, the file is deleted and (false, nil) is returned. Any other
// I/O error is surfaced.
func Read(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	if err := json.Unmarshal(data, out); err != nil {
		logging.WithComponent("scalarstore").WithError(err).Warn("quarantining corrupt file", "path", path)
		_ = os.Remove(path)
		return false, nil
	}

	return true, nil
}

// Delete removes the file at path, treating a missing file as success.
func Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
