// Package transport abstracts the BLE stack behind the small surface the
// protocol session needs: connect, write a characteristic, subscribe to
// notifications, enumerate services. The production implementation sits on
// tinygo.org/x/bluetooth; tests substitute an in-memory fake.
package transport

import (
	"context"
	"fmt"
)

// NotificationHandler receives raw notify-characteristic payloads in the
// order the BLE stack delivers them.
type NotificationHandler func(p []byte)

// Characteristic describes one GATT characteristic found during discovery.
type Characteristic struct {
	UUID       string   `json:"uuid"`
	Properties []string `json:"properties,omitempty"`
}

// Service describes one GATT service and its characteristics.
type Service struct {
	UUID            string           `json:"uuid"`
	Characteristics []Characteristic `json:"characteristics"`
}

// Transport is the link to one physical programmer device. Implementations
// own exactly one connection; the session layer serializes use.
type Transport interface {
	// Connect establishes the link and validates that the expected
	// service and characteristics are present.
	Connect(ctx context.Context, address string) error

	// WriteCharacteristic writes one payload to the command characteristic.
	// The payload must already fit the negotiated MTU.
	WriteCharacteristic(ctx context.Context, p []byte) error

	// Subscribe registers the notification handler. Must be called once
	// after Connect and before any command is written.
	Subscribe(h NotificationHandler) error

	// Services enumerates all GATT services on the connected device.
	Services(ctx context.Context) ([]Service, error)

	// Disconnect tears the link down. Safe to call when not connected.
	Disconnect() error
}

// Config carries the per-firmware GATT identifiers and scan settings. It is
// passed in explicitly so simulated devices need no process-wide state.
type Config struct {
	ServiceUUID    string   `yaml:"service_uuid"`
	WriteCharUUID  string   `yaml:"write_char_uuid"`
	NotifyCharUUID string   `yaml:"notify_char_uuid"`
	NamePatterns   []string `yaml:"name_patterns"`
}

// ConnectionError reports a transport-level failure: the device is
// unreachable or the link dropped.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// UnknownDeviceError reports a device whose GATT layout does not match the
// configured firmware profile. Proceeding against an unknown layout risks
// writing into the wrong characteristic, so this is fatal at connect time.
type UnknownDeviceError struct {
	Address string
	Missing string
}

func (e *UnknownDeviceError) Error() string {
	return fmt.Sprintf("device %s does not expose expected %s", e.Address, e.Missing)
}
