package link

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Static is a fixed set of port addresses with no sockets behind it. It is
// used to run the pipeline offline (replaying captures, table checks).
type Static struct {
	names []string
	addrs []uint32
	macs  []net.HardwareAddr
}

// NewStatic builds a Static from specs; every spec needs an Address and
// a MAC.
func NewStatic(specs []PortSpec) (*Static, error) {
	s := &Static{}
	for _, spec := range specs {
		ip4 := spec.Address.To4()
		if ip4 == nil {
			return nil, fmt.Errorf("interface %s: IPv4 address required", spec.Name)
		}
		if len(spec.MAC) != 6 {
			return nil, fmt.Errorf("interface %s: MAC address required", spec.Name)
		}
		mac := make(net.HardwareAddr, 6)
		copy(mac, spec.MAC)
		s.names = append(s.names, spec.Name)
		s.addrs = append(s.addrs, binary.BigEndian.Uint32(ip4))
		s.macs = append(s.macs, mac)
	}
	return s, nil
}

// Len returns the number of ports.
func (s *Static) Len() int { return len(s.addrs) }

// Address implements forwarding.Ports.
func (s *Static) Address(i int) (uint32, error) {
	if i < 0 || i >= len(s.addrs) {
		return 0, fmt.Errorf("no port %d", i)
	}
	return s.addrs[i], nil
}

// HardwareAddr implements forwarding.Ports.
func (s *Static) HardwareAddr(i int) (net.HardwareAddr, error) {
	if i < 0 || i >= len(s.macs) {
		return nil, fmt.Errorf("no port %d", i)
	}
	return s.macs[i], nil
}

// Describe lists the ports.
func (s *Static) Describe() []PortInfo {
	out := make([]PortInfo, len(s.addrs))
	for i := range s.addrs {
		out[i] = PortInfo{Port: i, Name: s.names[i], Address: uint32ToIP(s.addrs[i]).String(), MAC: s.macs[i].String()}
	}
	return out
}
