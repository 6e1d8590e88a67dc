// Package eeprom models captured SFP module EEPROM images and the SFF-8472
// identity fields derived from them.
package eeprom

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// BaseSize is the baseline EEPROM image length for SFP/SFP+ modules: the
// 256-byte A0h page. Multi-page modules use a larger configured size.
const BaseSize = 256

// Source records where an image came from.
type Source string

const (
	SourceDevice Source = "device_read"
	SourceStore  Source = "store"
	SourceFile   Source = "file"
)

// ImageLengthError reports an image that is not exactly the expected size.
// Raised before any device interaction: a partial image must never reach a
// write session.
type ImageLengthError struct {
	Got  int
	Want int
}

func (e *ImageLengthError) Error() string {
	return fmt.Sprintf("eeprom image must be exactly %d bytes, got %d", e.Want, e.Got)
}

// Image is an immutable EEPROM byte sequence with its content checksum.
// Any edit produces a new Image with a new checksum.
type Image struct {
	data     []byte
	checksum string
	source   Source
}

// NewImage validates length and wraps the raw bytes. The input slice is
// copied; callers cannot mutate the image afterwards.
func NewImage(data []byte, size int, src Source) (*Image, error) {
	if size <= 0 {
		size = BaseSize
	}
	if len(data) != size {
		return nil, &ImageLengthError{Got: len(data), Want: size}
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	sum := sha256.Sum256(buf)
	return &Image{
		data:     buf,
		checksum: "sha256:" + hex.EncodeToString(sum[:]),
		source:   src,
	}, nil
}

// Bytes returns a copy of the raw image bytes.
func (img *Image) Bytes() []byte {
	out := make([]byte, len(img.data))
	copy(out, img.data)
	return out
}

// At returns the byte at offset i.
func (img *Image) At(i int) byte { return img.data[i] }

// Len returns the image length in bytes.
func (img *Image) Len() int { return len(img.data) }

// Checksum returns the content checksum over the raw bytes, in the form
// "sha256:<hex>". Identical bytes always produce identical checksums, which
// is what the store uses for duplicate detection.
func (img *Image) Checksum() string { return img.checksum }

// Source reports where the image was produced.
func (img *Image) Source() Source { return img.source }

// Equal reports byte equality with another image.
func (img *Image) Equal(other *Image) bool {
	if other == nil || len(img.data) != len(other.data) {
		return false
	}
	return img.checksum == other.checksum
}

// FirstMismatch returns the offset of the first differing byte between two
// equal-length images, scanning from offset 0, or -1 if they match.
func FirstMismatch(a, b *Image) int {
	n := a.Len()
	if b.Len() < n {
		n = b.Len()
	}
	for i := 0; i < n; i++ {
		if a.data[i] != b.data[i] {
			return i
		}
	}
	if a.Len() != b.Len() {
		return n
	}
	return -1
}
