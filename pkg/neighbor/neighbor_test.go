package neighbor

import (
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustMAC(s string) net.HardwareAddr {
	m, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

func TestResolve(t *testing.T) {
	tbl := New([]Entry{
		{IP: 0x0a000001, HardwareAddr: mustMAC("de:ad:be:ef:00:01")},
		{IP: 0x0a000002, HardwareAddr: mustMAC("de:ad:be:ef:00:02")},
	})

	mac, ok := tbl.Resolve(0x0a000002)
	if !ok {
		t.Fatal("Resolve(10.0.0.2): miss")
	}
	if mac.String() != "de:ad:be:ef:00:02" {
		t.Errorf("Resolve(10.0.0.2) = %s", mac)
	}
	if _, ok := tbl.Resolve(0x0a000003); ok {
		t.Error("Resolve(10.0.0.3) should miss")
	}
	if tbl.Len() != 2 {
		t.Errorf("Len() = %d, want 2", tbl.Len())
	}
}

func TestNilTable(t *testing.T) {
	var tbl *Table
	if _, ok := tbl.Resolve(1); ok {
		t.Error("nil table resolved an address")
	}
	if tbl.Entries() != nil {
		t.Error("nil table returned entries")
	}
}

func TestLastEntryWins(t *testing.T) {
	tbl := New([]Entry{
		{IP: 7, HardwareAddr: mustMAC("00:00:00:00:00:01")},
		{IP: 7, HardwareAddr: mustMAC("00:00:00:00:00:02")},
	})
	mac, _ := tbl.Resolve(7)
	if mac.String() != "00:00:00:00:00:02" {
		t.Errorf("Resolve(7) = %s, want last entry", mac)
	}
}

func TestTableIsolatedFromInput(t *testing.T) {
	in := mustMAC("02:00:00:00:00:01")
	tbl := New([]Entry{{IP: 1, HardwareAddr: in}})
	in[5] = 0xff
	mac, _ := tbl.Resolve(1)
	if mac[5] != 0x01 {
		t.Error("table shares memory with the input entry")
	}
}

func TestEntriesSorted(t *testing.T) {
	tbl := New([]Entry{
		{IP: 3, HardwareAddr: mustMAC("00:00:00:00:00:03")},
		{IP: 1, HardwareAddr: mustMAC("00:00:00:00:00:01")},
		{IP: 2, HardwareAddr: mustMAC("00:00:00:00:00:02")},
	})
	var got []uint32
	for _, e := range tbl.Entries() {
		got = append(got, e.IP)
	}
	if diff := cmp.Diff([]uint32{1, 2, 3}, got); diff != "" {
		t.Errorf("Entries() order (-want +got):\n%s", diff)
	}
}
