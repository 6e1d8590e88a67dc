package frame

import (
	"bytes"
	"errors"
	"testing"
)

func TestChunks(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		mtu     int
		want    int // chunk count
		last    int // last chunk length
	}{
		{"empty", nil, 20, 0, 0},
		{"exact multiple", make([]byte, 40), 20, 2, 20},
		{"remainder", make([]byte, 45), 20, 3, 5},
		{"single short", []byte("POST /sif/start"), 20, 1, 15},
		{"full image", make([]byte, 256), 20, 13, 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Chunks(tt.payload, tt.mtu)
			if len(chunks) != tt.want {
				t.Fatalf("got %d chunks, want %d", len(chunks), tt.want)
			}
			if tt.want == 0 {
				return
			}
			if got := len(chunks[len(chunks)-1]); got != tt.last {
				t.Errorf("last chunk %d bytes, want %d", got, tt.last)
			}
			var total int
			for _, c := range chunks {
				if len(c) > tt.mtu {
					t.Errorf("chunk exceeds mtu: %d > %d", len(c), tt.mtu)
				}
				total += len(c)
			}
			if total != len(tt.payload) {
				t.Errorf("chunks cover %d bytes, payload is %d", total, len(tt.payload))
			}
		})
	}
}

func TestEncodeCommand(t *testing.T) {
	got := EncodeCommand("POST", "/sif/start")
	if !bytes.Equal(got, []byte("POST /sif/start")) {
		t.Errorf("got %q", got)
	}
}

func TestReassembleFixedLength(t *testing.T) {
	r := ExpectLength(6)

	for i, frag := range [][]byte{[]byte("AB"), []byte("CD")} {
		done, err := r.Feed(frag)
		if err != nil {
			t.Fatalf("fragment %d: %v", i, err)
		}
		if done {
			t.Fatalf("complete after fragment %d, want partial", i)
		}
	}

	done, err := r.Feed([]byte("EF"))
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("expected complete response")
	}
	if got := r.Bytes(); !bytes.Equal(got, []byte("ABCDEF")) {
		t.Errorf("got %q, want ABCDEF", got)
	}
}

func TestReassembleShortOfExpected(t *testing.T) {
	r := ExpectLength(256)
	for i := 0; i < 12; i++ {
		done, err := r.Feed(make([]byte, 20))
		if err != nil {
			t.Fatal(err)
		}
		if done {
			t.Fatal("complete before expected byte count reached")
		}
	}
	if r.Complete() {
		t.Error("240/256 bytes must not be a complete response")
	}
	if r.Len() != 240 {
		t.Errorf("Len() = %d, want 240", r.Len())
	}
}

func TestReassembleOverrun(t *testing.T) {
	r := ExpectLength(4)
	if _, err := r.Feed([]byte("ABC")); err != nil {
		t.Fatal(err)
	}

	_, err := r.Feed([]byte("DE"))
	var fe *FramingError
	if !errors.As(err, &fe) {
		t.Fatalf("got %v, want *FramingError", err)
	}
}

func TestReassembleAfterComplete(t *testing.T) {
	r := ExpectLength(2)
	if _, err := r.Feed([]byte("ok")); err != nil {
		t.Fatal(err)
	}

	_, err := r.Feed([]byte("x"))
	var fe *FramingError
	if !errors.As(err, &fe) {
		t.Fatalf("duplicate fragment: got %v, want *FramingError", err)
	}
}

func TestReassembleTerminator(t *testing.T) {
	r := ExpectTerminator('\n')

	done, err := r.Feed([]byte("v1.0"))
	if err != nil || done {
		t.Fatalf("partial: done=%v err=%v", done, err)
	}
	done, err = r.Feed([]byte(".10\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("expected completion at sentinel")
	}
	if got := r.Bytes(); !bytes.Equal(got, []byte("v1.0.10")) {
		t.Errorf("got %q", got)
	}
}

func TestReassembleDataAfterTerminator(t *testing.T) {
	r := ExpectTerminator('\n')
	_, err := r.Feed([]byte("ok\ntrailing"))
	var fe *FramingError
	if !errors.As(err, &fe) {
		t.Fatalf("got %v, want *FramingError", err)
	}
}

func TestReassembleEmptyNotification(t *testing.T) {
	r := ExpectLength(4)
	if _, err := r.Feed(nil); err == nil {
		t.Fatal("empty notification must be a framing error")
	}
}
