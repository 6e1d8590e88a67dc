// Package verify implements write-then-verify: after an image is
// transmitted, the module is read back and compared byte for byte against
// the intended contents. A mismatch is a result, not an error; the
// transport and protocol layers report errors, this layer reports truth
// about what landed on the module.
package verify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/josiah-nelson/sfplib/internal/eeprom"
)

// Programmer is the slice of the session surface verification needs.
type Programmer interface {
	WriteEEPROM(ctx context.Context, img *eeprom.Image) error
	ReadEEPROM(ctx context.Context) (*eeprom.Image, error)
}

// Result reports the outcome of a verification pass.
type Result struct {
	// TargetChecksum is the checksum of the image that was written.
	TargetChecksum string `json:"target_checksum"`
	// ReadbackChecksum is the checksum of the image read back afterwards.
	ReadbackChecksum string `json:"readback_checksum"`
	// Match is true when the readback is byte-identical to the target.
	Match bool `json:"match"`
	// MismatchOffset is the first differing byte offset, or -1 on a match.
	MismatchOffset int `json:"mismatch_offset"`
}

// Compare builds a Result from a target image and its readback.
func Compare(target, readback *eeprom.Image) *Result {
	r := &Result{
		TargetChecksum:   target.Checksum(),
		ReadbackChecksum: readback.Checksum(),
		MismatchOffset:   -1,
	}
	if off := eeprom.FirstMismatch(target, readback); off >= 0 {
		r.MismatchOffset = off
		return r
	}
	r.Match = true
	return r
}

// WriteAndVerify writes img to the module, reads the module back and
// compares. Transmission and readback errors abort with a nil Result; a
// completed comparison always returns a Result, matching or not.
func WriteAndVerify(ctx context.Context, p Programmer, img *eeprom.Image, log zerolog.Logger) (*Result, error) {
	if err := p.WriteEEPROM(ctx, img); err != nil {
		return nil, err
	}

	readback, err := p.ReadEEPROM(ctx)
	if err != nil {
		return nil, err
	}

	r := Compare(img, readback)
	if r.Match {
		log.Info().Str("checksum", r.TargetChecksum).Msg("write verified")
	} else {
		log.Error().
			Str("target", r.TargetChecksum).
			Str("readback", r.ReadbackChecksum).
			Int("offset", r.MismatchOffset).
			Msg("verification mismatch")
	}
	return r, nil
}
