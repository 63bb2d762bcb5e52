// Package neighbor holds the static IPv4 to link-address table used to
// resolve next hops. There is no discovery protocol: a miss stays a miss.
package neighbor

import (
	"net"
	"sort"
)

// Entry maps a next-hop IPv4 address (host byte order) to its MAC.
type Entry struct {
	IP           uint32
	HardwareAddr net.HardwareAddr
}

// Table is a read-only neighbor table.
type Table struct {
	byIP map[uint32]net.HardwareAddr
}

// New builds a Table. If entries repeat an IP, the last one is kept.
func New(entries []Entry) *Table {
	t := &Table{byIP: make(map[uint32]net.HardwareAddr, len(entries))}
	for _, e := range entries {
		mac := make(net.HardwareAddr, len(e.HardwareAddr))
		copy(mac, e.HardwareAddr)
		t.byIP[e.IP] = mac
	}
	return t
}

// Resolve returns the link address for ip. The returned slice must not be
// modified.
func (t *Table) Resolve(ip uint32) (net.HardwareAddr, bool) {
	if t == nil {
		return nil, false
	}
	mac, ok := t.byIP[ip]
	return mac, ok
}

// Len returns the number of entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byIP)
}

// Entries returns a copy of the table sorted by IP.
func (t *Table) Entries() []Entry {
	if t.Len() == 0 {
		return nil
	}
	out := make([]Entry, 0, len(t.byIP))
	for ip, mac := range t.byIP {
		cp := make(net.HardwareAddr, len(mac))
		copy(cp, mac)
		out = append(out, Entry{IP: ip, HardwareAddr: cp})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}
