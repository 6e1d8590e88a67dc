// Package frame converts between logical protocol messages and the chunked
// wire representation used over the GATT write and notify characteristics.
//
// Outbound commands are plain request lines (e.g. "POST /sif/start") written
// as-is; binary payloads are split into MTU-sized chunks with no inter-chunk
// framing. Inbound notifications are accumulated until either a sentinel
// terminator is seen or a fixed byte count has arrived - the device uses both
// strategies depending on the command.
package frame

import "fmt"

// DefaultMTU is the largest payload a single characteristic write can carry
// on this device. Firmware v1.0.x rejects longer writes.
const DefaultMTU = 20

// FramingError reports malformed or unexpected notification data. It is
// raised instead of silently dropping bytes, because silent loss would
// corrupt an EEPROM capture.
type FramingError struct {
	Reason   string
	Fragment []byte
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing error: %s (%d byte fragment)", e.Reason, len(e.Fragment))
}

// Chunks splits a payload into successive chunks of at most mtu bytes.
// Chunk boundaries are a transport artifact, not part of the message.
func Chunks(payload []byte, mtu int) [][]byte {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	if len(payload) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(payload)+mtu-1)/mtu)
	for off := 0; off < len(payload); off += mtu {
		end := off + mtu
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[off:end])
	}
	return chunks
}

// EncodeCommand renders a command verb as the literal request line the
// firmware expects (e.g. "GET /api/1.0/version" or "POST /sif/start").
func EncodeCommand(method, path string) []byte {
	return []byte(method + " " + path)
}

type terminationMode int

const (
	modeLength terminationMode = iota
	modeTerminator
)

// Reassembler accumulates notification fragments into one logical response.
// A Reassembler is single-use: once complete, further fragments are a
// protocol violation.
type Reassembler struct {
	mode     terminationMode
	expected int
	sentinel byte
	buf      []byte
	complete bool
}

// ExpectLength returns a Reassembler that completes when exactly n bytes
// have been accumulated. Used for binary responses with a known size, such
// as the 256-byte EEPROM stream.
func ExpectLength(n int) *Reassembler {
	return &Reassembler{mode: modeLength, expected: n, buf: make([]byte, 0, n)}
}

// ExpectTerminator returns a Reassembler that completes when the sentinel
// byte is observed. Used for text responses, which the firmware terminates
// with a newline.
func ExpectTerminator(sentinel byte) *Reassembler {
	return &Reassembler{mode: modeTerminator, sentinel: sentinel}
}

// Feed appends one notification fragment. It returns true once the logical
// response is complete; while the response is still partial it returns
// false. Fragments arriving after completion, and fragments that would
// overrun a fixed-length response, raise a *FramingError.
func (r *Reassembler) Feed(fragment []byte) (bool, error) {
	if r.complete {
		return false, &FramingError{Reason: "fragment after complete response", Fragment: fragment}
	}
	if len(fragment) == 0 {
		return false, &FramingError{Reason: "empty notification", Fragment: fragment}
	}

	switch r.mode {
	case modeLength:
		if len(r.buf)+len(fragment) > r.expected {
			return false, &FramingError{
				Reason:   fmt.Sprintf("response overrun: %d+%d > %d expected", len(r.buf), len(fragment), r.expected),
				Fragment: fragment,
			}
		}
		r.buf = append(r.buf, fragment...)
		if len(r.buf) == r.expected {
			r.complete = true
		}
	case modeTerminator:
		for i, b := range fragment {
			if b == r.sentinel {
				if i != len(fragment)-1 {
					return false, &FramingError{Reason: "data after terminator", Fragment: fragment}
				}
				r.buf = append(r.buf, fragment[:i]...)
				r.complete = true
				return true, nil
			}
		}
		r.buf = append(r.buf, fragment...)
	}
	return r.complete, nil
}

// Complete reports whether a full response has been assembled.
func (r *Reassembler) Complete() bool { return r.complete }

// Len returns the number of payload bytes accumulated so far.
func (r *Reassembler) Len() int { return len(r.buf) }

// Bytes returns the assembled response payload. The result is only
// meaningful once Complete reports true; a partial buffer must never be
// treated as a finished response.
func (r *Reassembler) Bytes() []byte {
	out := make([]byte, len(r.buf))
	copy(out, r.buf)
	return out
}
