package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/josiah-nelson/sfplib/internal/eeprom"
)

// Record is the stored description of one profile: the parsed identity
// fields plus the capture history. The raw bytes live next to it in the
// profiles directory; the record never substitutes for them.
type Record struct {
	ContentHash string           `json:"content_hash"`
	Size        int              `json:"size"`
	Metadata    *eeprom.Metadata `json:"metadata"`
	Sources     []Source         `json:"sources"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Source records one capture event for a profile. The same physical module
// read twice yields one profile with two sources.
type Source struct {
	ID        string    `json:"id"`
	Method    string    `json:"method"` // "module_read", "import", "api"
	DeviceMAC string    `json:"device_mac,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSource stamps a capture event with a fresh ID and the current time.
func NewSource(method, deviceMAC, filename string) Source {
	return Source{
		ID:        uuid.NewString(),
		Method:    method,
		DeviceMAC: deviceMAC,
		Filename:  filename,
		Timestamp: time.Now().UTC(),
	}
}
