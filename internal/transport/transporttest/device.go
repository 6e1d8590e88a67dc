// Package transporttest provides an in-memory simulated programmer device
// implementing transport.Transport. It speaks the same command surface as
// the real firmware (version, stats, sif/start, sif/write, sif/erase,
// sif/stop) so session logic can be exercised without hardware.
package transporttest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/josiah-nelson/sfplib/internal/transport"
)

// ErrWriteFailed is the transport-level error injected by FailNextWrites.
var ErrWriteFailed = errors.New("simulated characteristic write failure")

// Device is a scriptable simulated SFP Wizard. All methods are safe for
// concurrent use. Responses are delivered synchronously into the
// subscriber, which keeps tests deterministic.
type Device struct {
	mu sync.Mutex

	// Firmware identity and module state.
	Version       string
	ModulePresent bool
	EEPROM        []byte
	MTU           int

	// Fault injection.
	failWrites  int  // fail this many upcoming writes
	silentStart bool // swallow sif/start instead of streaming
	silentAck   bool // accept data but never acknowledge
	ackPayload  string

	// Protocol state.
	connected bool
	handler   transport.NotificationHandler
	armed     bool // sif/start seen
	collect   []byte
	writing   bool

	// Observability for assertions.
	commands []string
	writes   int
}

// NewDevice returns a simulator with a 256-byte module inserted and
// firmware v1.0.10.
func NewDevice() *Device {
	ee := make([]byte, 256)
	for i := range ee {
		ee[i] = byte(i)
	}
	return &Device{
		Version:       "1.0.10",
		ModulePresent: true,
		EEPROM:        ee,
		MTU:           20,
		ackPayload:    "ok\n",
	}
}

// FailNextWrites makes the next n characteristic writes fail with a
// transport-level error, exercising the session's retry path.
func (d *Device) FailNextWrites(n int) {
	d.mu.Lock()
	d.failWrites = n
	d.mu.Unlock()
}

// SilenceAfterStart makes the device stop responding once sif/start is
// received, simulating a hung module read.
func (d *Device) SilenceAfterStart() {
	d.mu.Lock()
	d.silentStart = true
	d.mu.Unlock()
}

// SilenceAcks makes the device accept write data but never acknowledge it.
func (d *Device) SilenceAcks() {
	d.mu.Lock()
	d.silentAck = true
	d.mu.Unlock()
}

// Restore clears all injected faults.
func (d *Device) Restore() {
	d.mu.Lock()
	d.failWrites = 0
	d.silentStart = false
	d.silentAck = false
	d.ackPayload = "ok\n"
	d.mu.Unlock()
}

// RespondToWritesWith overrides the acknowledgment payload, e.g. to
// simulate a firmware-side failure message.
func (d *Device) RespondToWritesWith(ack string) {
	d.mu.Lock()
	d.ackPayload = ack
	d.mu.Unlock()
}

// Commands returns every command line received, in order.
func (d *Device) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.commands))
	copy(out, d.commands)
	return out
}

// WriteCount returns the total number of characteristic writes observed,
// commands and data chunks alike.
func (d *Device) WriteCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

// CommandCount returns how many times cmd was received.
func (d *Device) CommandCount(cmd string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.commands {
		if c == cmd {
			n++
		}
	}
	return n
}

// Stored returns a copy of the simulated module EEPROM contents.
func (d *Device) Stored() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.EEPROM))
	copy(out, d.EEPROM)
	return out
}

// SetStored replaces the simulated module EEPROM contents.
func (d *Device) SetStored(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.EEPROM = make([]byte, len(data))
	copy(d.EEPROM, data)
}

// --- transport.Transport ---

func (d *Device) Connect(ctx context.Context, address string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = true
	return nil
}

func (d *Device) Subscribe(h transport.NotificationHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
	return nil
}

func (d *Device) Services(ctx context.Context) ([]transport.Service, error) {
	return []transport.Service{
		{
			UUID: "8e60f02e-f699-4865-b83f-f40501752184",
			Characteristics: []transport.Characteristic{
				{UUID: "9280f26c-a56f-43ea-b769-d5d732e1ac67", Properties: []string{"write"}},
				{UUID: "dc272a22-43f2-416b-8fa5-63a071542fac", Properties: []string{"notify"}},
			},
		},
	}, nil
}

func (d *Device) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	d.armed = false
	d.writing = false
	d.collect = nil
	return nil
}

// WriteCharacteristic receives one host write and reacts as the firmware
// would, pushing any response synchronously into the subscriber.
func (d *Device) WriteCharacteristic(ctx context.Context, p []byte) error {
	d.mu.Lock()

	d.writes++
	if d.failWrites > 0 {
		d.failWrites--
		d.mu.Unlock()
		return ErrWriteFailed
	}

	if cmd, ok := asCommand(p); ok {
		d.commands = append(d.commands, cmd)
		notify := d.handleCommandLocked(cmd)
		d.mu.Unlock()
		for _, n := range notify {
			d.push(n)
		}
		return nil
	}

	// Raw binary data: only meaningful mid write session.
	var notify [][]byte
	if d.writing {
		d.collect = append(d.collect, p...)
		if len(d.collect) >= len(d.EEPROM) {
			copy(d.EEPROM, d.collect[:len(d.EEPROM)])
			d.writing = false
			d.collect = nil
			if !d.silentAck {
				notify = append(notify, []byte(d.ackPayload))
			}
		}
	}
	d.mu.Unlock()
	for _, n := range notify {
		d.push(n)
	}
	return nil
}

// handleCommandLocked returns the notifications to emit for one command.
func (d *Device) handleCommandLocked(cmd string) [][]byte {
	switch cmd {
	case "GET /api/1.0/version":
		return [][]byte{[]byte(d.Version + "\n")}

	case "GET /stats":
		stats, _ := json.Marshal(map[string]any{
			"battery": 87,
			"module":  d.ModulePresent,
			"uptime":  4211,
		})
		return [][]byte{append(stats, '\n')}

	case "POST /sif/start":
		d.armed = true
		if d.silentStart || !d.ModulePresent {
			return nil
		}
		// Read context: stream the EEPROM in MTU-sized notifications.
		var out [][]byte
		for off := 0; off < len(d.EEPROM); off += d.MTU {
			end := off + d.MTU
			if end > len(d.EEPROM) {
				end = len(d.EEPROM)
			}
			chunk := make([]byte, end-off)
			copy(chunk, d.EEPROM[off:end])
			out = append(out, chunk)
		}
		return out

	case "POST /sif/write":
		d.writing = true
		d.collect = nil
		return nil

	case "POST /sif/erase":
		for i := range d.EEPROM {
			d.EEPROM[i] = 0xff
		}
		if d.silentAck {
			return nil
		}
		return [][]byte{[]byte(d.ackPayload)}

	case "POST /sif/stop":
		d.armed = false
		d.writing = false
		d.collect = nil
		return nil
	}
	return nil
}

func (d *Device) push(p []byte) {
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()
	if h != nil {
		h(p)
	}
}

// asCommand decides whether a write is a text command line or raw data.
// The firmware does the same: command lines start with a known HTTP verb.
func asCommand(p []byte) (string, bool) {
	s := string(p)
	for _, verb := range []string{"GET ", "POST ", "PUT ", "DELETE "} {
		if strings.HasPrefix(s, verb) {
			return s, true
		}
	}
	return "", false
}
