package link

import (
	"net"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStatic(t *testing.T) {
	mac, _ := net.ParseMAC("02:00:00:00:00:01")
	s, err := NewStatic([]PortSpec{
		{Name: "r-0", Address: net.ParseIP("192.168.0.1"), MAC: mac},
		{Name: "r-1", Address: net.ParseIP("192.168.1.1"), MAC: mac},
	})
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d", s.Len())
	}

	a, err := s.Address(1)
	if err != nil || a != 0xc0a80101 {
		t.Errorf("Address(1) = %#x, %v", a, err)
	}
	if _, err := s.Address(2); err == nil {
		t.Error("Address(2) should fail")
	}
	if _, err := s.HardwareAddr(-1); err == nil {
		t.Error("HardwareAddr(-1) should fail")
	}

	// The table keeps its own copy of the MAC.
	mac[5] = 0xff
	got, _ := s.HardwareAddr(0)
	if got.String() != "02:00:00:00:00:01" {
		t.Errorf("HardwareAddr(0) = %s", got)
	}

	want := []PortInfo{
		{Port: 0, Name: "r-0", Address: "192.168.0.1", MAC: "02:00:00:00:00:01"},
		{Port: 1, Name: "r-1", Address: "192.168.1.1", MAC: "02:00:00:00:00:01"},
	}
	if diff := cmp.Diff(want, s.Describe()); diff != "" {
		t.Errorf("Describe (-want +got):\n%s", diff)
	}
}

func TestStaticRequiresAddresses(t *testing.T) {
	mac, _ := net.ParseMAC("02:00:00:00:00:01")
	if _, err := NewStatic([]PortSpec{{Name: "a", MAC: mac}}); err == nil || !strings.Contains(err.Error(), "IPv4") {
		t.Errorf("missing address: err = %v", err)
	}
	if _, err := NewStatic([]PortSpec{{Name: "a", Address: net.ParseIP("10.0.0.1")}}); err == nil || !strings.Contains(err.Error(), "MAC") {
		t.Errorf("missing MAC: err = %v", err)
	}
}

func TestHtons(t *testing.T) {
	// htons is an involution and must put the high byte first in memory.
	if htons(htons(0x0800)) != 0x0800 {
		t.Error("htons is not its own inverse")
	}
}

func TestOpenUnknownInterface(t *testing.T) {
	if _, err := Open([]PortSpec{{Name: "ipfwd-nonexistent0"}}); err == nil {
		t.Error("Open should fail for a missing interface")
	}
}
