// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package identity

import (
	"fmt"

	"github.com/google/uuid"
)

// RecordID is the ordered (DeviceID, SequenceNumber) tuple identifying a
// single record.
type RecordID struct {
	Device   uuid.UUID
	Sequence uint32
}

// String renders the RecordID as "<uuid>_<n>".
func (r RecordID) String() string {
	return fmt.Sprintf("%s_%d", r.Device.String(), r.Sequence)
}
