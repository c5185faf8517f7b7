// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package recordstore manages the directory of encrypted telemetry
// records on disk: one file per (device id, sequence number), named so
// enumeration alone reveals their identity without decrypting anything.
package recordstore

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/equalitie/ouinet-telemetry/internal/errors"
	"github.com/equalitie/ouinet-telemetry/internal/identity"
	"github.com/equalitie/ouinet-telemetry/internal/logging"
)

// Version is the record file format version embedded in every filename.
// Bumping it immediately invalidates every record written by an older
// build: load_stored_records deletes anything carrying a different
// version rather than attempting to interpret it.
const Version = 0

const extension = ".record"

// DefaultTTL is how long a stored record is kept before it is deleted
// unread, on the assumption the collection endpoint is unreachable for
// good.
const DefaultTTL = 7 * 24 * time.Hour

// StoredRecord is one record file surviving load_stored_records'
// enumeration pass: parseable name, matching version, parseable and
// unexpired timestamp.
type StoredRecord struct {
	ID         identity.RecordID
	Path       string
	Created    time.Time
	Ciphertext []byte
}

// Store manages a directory of record files plus, conceptually, the
// identity and backoff state rooted alongside it (those are owned and
// persisted by their own packages; Store only touches the record files
// themselves).
type Store struct {
	dir string
	ttl time.Duration
}

// New returns a Store rooted at dir, aging out records older than ttl.
// A zero ttl uses DefaultTTL.
func New(dir string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{dir: dir, ttl: ttl}
}

func filename(id identity.RecordID) string {
	return fmt.Sprintf("v%d_%s_%d%s", Version, id.Device.String(), id.Sequence, extension)
}

// StoreRecord writes ciphertext under id's filename, overwriting any
// previous file for the same RecordID. The file is a timestamp line
// (RFC3339Nano) followed by a newline and the raw ciphertext bytes; the
// timestamp, not the file's mtime, is authoritative for aging.
func (s *Store) StoreRecord(id identity.RecordID, ciphertext []byte, now time.Time) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return errors.Wrap(err, errors.KindInternal, "create records directory")
	}

	var buf bytes.Buffer
	buf.WriteString(now.UTC().Format(time.RFC3339Nano))
	buf.WriteByte('\n')
	buf.Write(ciphertext)

	path := filepath.Join(s.dir, filename(id))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return errors.Wrap(err, errors.KindInternal, "write record temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, errors.KindInternal, "rename record into place")
	}
	return nil
}

// LoadStoredRecords enumerates the records directory, deleting and
// skipping any entry whose name fails to parse, whose version does not
// match Version, whose timestamp line fails to parse, or whose age
// exceeds the store's TTL. The rest are returned, order unspecified.
func (s *Store) LoadStoredRecords(now time.Time) ([]StoredRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.KindInternal, "read records directory")
	}

	log := logging.WithComponent("recordstore")
	var out []StoredRecord
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != extension {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())

		id, version, ok := parseFilename(entry.Name())
		if !ok || version != Version {
			log.Warn("deleting unparseable or wrong-version record", "path", path)
			_ = os.Remove(path)
			continue
		}

		created, ciphertext, err := readRecordFile(path)
		if err != nil {
			log.WithError(err).Warn("deleting record with unparseable timestamp", "path", path)
			_ = os.Remove(path)
			continue
		}

		if now.Sub(created) > s.ttl {
			log.Warn("deleting expired record", "path", path, "age", now.Sub(created))
			_ = os.Remove(path)
			continue
		}

		out = append(out, StoredRecord{ID: id, Path: path, Created: created, Ciphertext: ciphertext})
	}
	return out, nil
}

// DeleteStoredRecords wipes the records directory, used when the host
// disables upload (a Purge event).
func (s *Store) DeleteStoredRecords() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, errors.KindInternal, "read records directory")
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != extension {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, errors.KindInternal, "delete record file")
		}
	}
	return nil
}

// Discard removes the single record file for id, treating a missing
// file as success.
func (s *Store) Discard(id identity.RecordID) error {
	path := filepath.Join(s.dir, filename(id))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.KindInternal, "discard record file")
	}
	return nil
}

func parseFilename(name string) (identity.RecordID, int, bool) {
	base := strings.TrimSuffix(name, extension)
	parts := strings.SplitN(base, "_", 3)
	if len(parts) != 3 {
		return identity.RecordID{}, 0, false
	}

	versionPart, devicePart, seqPart := parts[0], parts[1], parts[2]
	if len(versionPart) < 2 || versionPart[0] != 'v' {
		return identity.RecordID{}, 0, false
	}
	version, err := strconv.Atoi(versionPart[1:])
	if err != nil {
		return identity.RecordID{}, 0, false
	}

	device, err := uuid.Parse(devicePart)
	if err != nil {
		return identity.RecordID{}, 0, false
	}

	seq, err := strconv.ParseUint(seqPart, 10, 32)
	if err != nil {
		return identity.RecordID{}, 0, false
	}

	return identity.RecordID{Device: device, Sequence: uint32(seq)}, version, true
}

func readRecordFile(path string) (time.Time, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	line, err := r.ReadString('\n')
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("read timestamp line: %w", err)
	}
	created, err := time.Parse(time.RFC3339Nano, strings.TrimSuffix(line, "\n"))
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("parse timestamp: %w", err)
	}

	rest, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, nil, err
	}
	ciphertext := rest[len(line):]
	return created, ciphertext, nil
}
