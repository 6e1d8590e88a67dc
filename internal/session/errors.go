package session

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the session's distinct failure modes. Each maps to a
// distinct user-visible message; none of them is ever a generic "unknown
// error".
var (
	// ErrSessionBusy rejects a second operation while one is in flight.
	// The rejection is immediate; queuing is a caller concern.
	ErrSessionBusy = errors.New("session busy: an operation is already in progress")

	// ErrNotConnected means no live device link exists.
	ErrNotConnected = errors.New("session not connected")

	// ErrCancelled means the caller aborted the operation. The session is
	// back in Idle; the physical operation may have partially completed.
	ErrCancelled = errors.New("operation cancelled")

	// ErrReadTimeout means the device stopped streaming before the full
	// image arrived. The partial buffer is discarded, never returned.
	ErrReadTimeout = errors.New("eeprom read timed out")

	// ErrWriteTimeout means the device never acknowledged the write.
	// The module contents are in an unknown state.
	ErrWriteTimeout = errors.New("eeprom write timed out")

	// ErrEraseTimeout means the device never acknowledged the erase.
	ErrEraseTimeout = errors.New("eeprom erase timed out")

	// ErrCommandTimeout means a short text command went unanswered.
	ErrCommandTimeout = errors.New("command timed out")
)

// ProtocolError reports unexpected response content from the device. It is
// never retried: retrying against a confused device state machine risks
// bricking the module, so the raw payload is surfaced for diagnosis instead.
type ProtocolError struct {
	Command string
	Payload []byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected device response to %q: %q", e.Command, e.Payload)
}

// IncompatibleDeviceError reports a firmware revision this client does not
// speak. Proceeding against an unknown revision must not happen silently.
type IncompatibleDeviceError struct {
	Version   string
	Supported []string
}

func (e *IncompatibleDeviceError) Error() string {
	return fmt.Sprintf("incompatible device firmware %q (supported: %s)",
		e.Version, strings.Join(e.Supported, ", "))
}
