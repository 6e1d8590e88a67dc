package util

import (
	"strings"
	"testing"
)

func TestIsTextData(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"plain text", []byte("hello world\n"), true},
		{"tabs and crlf", []byte("a\tb\r\n"), true},
		{"binary", []byte{0x00, 0x01, 0xff}, false},
		{"high bytes", []byte("ok\x80"), false},
		{"empty", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTextData(tt.data); got != tt.want {
				t.Errorf("IsTextData(%q) = %v, want %v", tt.data, got, tt.want)
			}
		})
	}
}

func TestHexDump(t *testing.T) {
	out := HexDump([]byte("ABCDEFGHIJKLMNOPQR"))
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("%d lines for 18 bytes, want 2:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "0000  41 42 43 44 45 46 47 48  49 4a 4b 4c 4d 4e 4f 50") {
		t.Errorf("first row %q", lines[0])
	}
	if !strings.Contains(lines[0], "|ABCDEFGHIJKLMNOP|") {
		t.Errorf("ascii gutter missing: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "0010  51 52") {
		t.Errorf("second row %q", lines[1])
	}
}
