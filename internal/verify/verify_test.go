package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/josiah-nelson/sfplib/internal/eeprom"
)

// fakeProgrammer stores what was written and serves it back, optionally
// corrupting one byte to simulate a failed cell.
type fakeProgrammer struct {
	stored        []byte
	corruptAt     int
	writeErr      error
	readErr       error
	writesApplied int
}

func newFakeProgrammer() *fakeProgrammer {
	return &fakeProgrammer{corruptAt: -1}
}

func (f *fakeProgrammer) WriteEEPROM(ctx context.Context, img *eeprom.Image) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.stored = img.Bytes()
	f.writesApplied++
	return nil
}

func (f *fakeProgrammer) ReadEEPROM(ctx context.Context) (*eeprom.Image, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make([]byte, len(f.stored))
	copy(out, f.stored)
	if f.corruptAt >= 0 {
		out[f.corruptAt] ^= 0xff
	}
	return eeprom.NewImage(out, len(out), eeprom.SourceDevice)
}

func testImage(t *testing.T) *eeprom.Image {
	t.Helper()
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i * 3)
	}
	img, err := eeprom.NewImage(data, 256, eeprom.SourceFile)
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func TestWriteAndVerifyMatch(t *testing.T) {
	p := newFakeProgrammer()
	img := testImage(t)

	r, err := WriteAndVerify(context.Background(), p, img, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if !r.Match {
		t.Errorf("match=false for a faithful readback: %+v", r)
	}
	if r.MismatchOffset != -1 {
		t.Errorf("mismatch offset %d on a match, want -1", r.MismatchOffset)
	}
	if r.TargetChecksum != r.ReadbackChecksum {
		t.Errorf("checksums differ on a match: %s vs %s", r.TargetChecksum, r.ReadbackChecksum)
	}
}

func TestWriteAndVerifyMismatchReportsFirstOffset(t *testing.T) {
	for _, offset := range []int{0, 63, 255} {
		p := newFakeProgrammer()
		p.corruptAt = offset
		img := testImage(t)

		r, err := WriteAndVerify(context.Background(), p, img, zerolog.Nop())
		if err != nil {
			t.Fatalf("offset %d: mismatch must be a result, got error %v", offset, err)
		}
		if r.Match {
			t.Fatalf("offset %d: match=true for corrupted readback", offset)
		}
		if r.MismatchOffset != offset {
			t.Errorf("mismatch offset %d, want %d", r.MismatchOffset, offset)
		}
		if r.TargetChecksum == r.ReadbackChecksum {
			t.Error("checksums equal for differing images")
		}
	}
}

func TestWriteAndVerifyPropagatesTransmissionError(t *testing.T) {
	p := newFakeProgrammer()
	p.writeErr = errors.New("link dropped")

	r, err := WriteAndVerify(context.Background(), p, testImage(t), zerolog.Nop())
	if err == nil {
		t.Fatal("expected write error")
	}
	if r != nil {
		t.Errorf("result %+v alongside error, want nil", r)
	}
}

func TestWriteAndVerifyPropagatesReadbackError(t *testing.T) {
	p := newFakeProgrammer()
	p.readErr = errors.New("device went quiet")

	if _, err := WriteAndVerify(context.Background(), p, testImage(t), zerolog.Nop()); err == nil {
		t.Fatal("expected readback error")
	}
	if p.writesApplied != 1 {
		t.Errorf("writes applied %d, want 1", p.writesApplied)
	}
}

func TestCompare(t *testing.T) {
	a := testImage(t)
	raw := a.Bytes()
	raw[10] = ^raw[10]
	b, err := eeprom.NewImage(raw, 256, eeprom.SourceDevice)
	if err != nil {
		t.Fatal(err)
	}

	r := Compare(a, b)
	if r.Match || r.MismatchOffset != 10 {
		t.Errorf("compare result %+v, want mismatch at 10", r)
	}
}
