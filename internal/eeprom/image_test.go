package eeprom

import (
	"errors"
	"testing"
)

func TestNewImageRejectsWrongLength(t *testing.T) {
	_, err := NewImage(make([]byte, 128), BaseSize, SourceFile)
	var lenErr *ImageLengthError
	if !errors.As(err, &lenErr) {
		t.Fatalf("got %v, want *ImageLengthError", err)
	}
	if lenErr.Got != 128 || lenErr.Want != BaseSize {
		t.Errorf("error fields %+v", lenErr)
	}
}

func TestImageIsImmutable(t *testing.T) {
	data := make([]byte, BaseSize)
	img, err := NewImage(data, BaseSize, SourceFile)
	if err != nil {
		t.Fatal(err)
	}

	// Mutating the input after construction must not touch the image.
	data[0] = 0xaa
	if img.At(0) != 0 {
		t.Error("image aliased its input slice")
	}

	// Mutating the output must not either.
	out := img.Bytes()
	out[1] = 0xbb
	if img.At(1) != 0 {
		t.Error("Bytes returned an aliased slice")
	}
}

func TestImageChecksumStable(t *testing.T) {
	data := make([]byte, BaseSize)
	for i := range data {
		data[i] = byte(i)
	}
	a, _ := NewImage(data, BaseSize, SourceDevice)
	b, _ := NewImage(data, BaseSize, SourceFile)

	if a.Checksum() != b.Checksum() {
		t.Error("same bytes, different checksums")
	}
	if a.Checksum()[:7] != "sha256:" {
		t.Errorf("checksum %q lacks algorithm prefix", a.Checksum())
	}
	if !a.Equal(b) {
		t.Error("identical images not equal")
	}
}

func TestFirstMismatch(t *testing.T) {
	base := make([]byte, BaseSize)
	a, _ := NewImage(base, BaseSize, SourceFile)

	tests := []struct {
		name   string
		mutate int
		want   int
	}{
		{"identical", -1, -1},
		{"first byte", 0, 0},
		{"middle", 100, 100},
		{"last byte", 255, 255},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, BaseSize)
			if tt.mutate >= 0 {
				data[tt.mutate] = 0x5a
			}
			b, _ := NewImage(data, BaseSize, SourceFile)
			if got := FirstMismatch(a, b); got != tt.want {
				t.Errorf("FirstMismatch = %d, want %d", got, tt.want)
			}
		})
	}
}
