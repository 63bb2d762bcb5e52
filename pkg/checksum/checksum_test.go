package checksum

import (
	"encoding/binary"
	"testing"
)

// rfc1071Header is the IPv4 header from the classic worked example; its
// correct checksum is 0xb861.
var rfc1071Header = []byte{
	0x45, 0x00, 0x00, 0x73, 0x00, 0x00, 0x40, 0x00,
	0x40, 0x11, 0x00, 0x00, 0xc0, 0xa8, 0x00, 0x01,
	0xc0, 0xa8, 0x00, 0xc7,
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want uint16
	}{
		{"empty", nil, 0xffff},
		{"zeros", []byte{0, 0, 0, 0}, 0xffff},
		{"ipv4 header", rfc1071Header, 0xb861},
		{"odd length", []byte{0x01, 0x02, 0x03}, ^uint16(0x0102 + 0x0300)},
		{"end-around carry", []byte{0xff, 0xff, 0x00, 0x01}, ^uint16(0x0001)},
	}
	for _, tt := range tests {
		if got := Compute(tt.in); got != tt.want {
			t.Errorf("%s: Compute() = 0x%04x, want 0x%04x", tt.name, got, tt.want)
		}
	}
}

func TestRoundTripIsZero(t *testing.T) {
	headers := [][]byte{
		append([]byte(nil), rfc1071Header...),
		{0x45, 0x00, 0x00, 0x54, 0xbe, 0xef, 0x00, 0x00, 0x01, 0x01, 0x00, 0x00,
			0x0a, 0x00, 0x00, 0x01, 0xff, 0xff, 0xff, 0xff},
		{0x45, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00, 0x00,
			0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
	}
	for i, h := range headers {
		Update(h, 10)
		if got := Compute(h); got != 0 {
			t.Errorf("header %d: Compute over checksummed header = 0x%04x, want 0", i, got)
		}
	}
}

func TestValidate(t *testing.T) {
	h := append([]byte(nil), rfc1071Header...)
	binary.BigEndian.PutUint16(h[10:12], 0xb861)

	if !Validate(h, 10, 0xb861) {
		t.Error("Validate rejected correct checksum")
	}
	if Validate(h, 10, 0xb862) {
		t.Error("Validate accepted wrong checksum")
	}
	if binary.BigEndian.Uint16(h[10:12]) != 0xb861 {
		t.Error("Validate modified the checksum field")
	}

	// A stale value in the field must not influence the result.
	binary.BigEndian.PutUint16(h[10:12], 0x1234)
	if !Validate(h, 10, 0xb861) {
		t.Error("Validate did not ignore the checksum field contents")
	}

	if Validate(h, 19, 0) {
		t.Error("Validate accepted out-of-range offset")
	}
}

func TestUpdate(t *testing.T) {
	h := append([]byte(nil), rfc1071Header...)
	binary.BigEndian.PutUint16(h[10:12], 0xdead)
	if got := Update(h, 10); got != 0xb861 {
		t.Fatalf("Update() = 0x%04x, want 0xb861", got)
	}
	if got := binary.BigEndian.Uint16(h[10:12]); got != 0xb861 {
		t.Errorf("stored checksum = 0x%04x, want 0xb861", got)
	}
}
