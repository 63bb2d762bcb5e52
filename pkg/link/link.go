// Package link provides raw Ethernet I/O on the router's ports using
// AF_PACKET sockets, and the address information the forwarding pipeline
// needs about each port.
package link

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// MaxFrame is the receive buffer size the daemon allocates.
const MaxFrame = 65536

// pollTimeoutMs bounds how long Receive blocks before re-checking ctx.
const pollTimeoutMs = 1000

// PortSpec names an interface and optionally pins its address and MAC.
type PortSpec struct {
	Name    string
	Address net.IP           // nil = first IPv4 address from the kernel
	MAC     net.HardwareAddr // nil = kernel hardware address
}

// PortInfo describes an open port.
type PortInfo struct {
	Port    int    `json:"port"`
	Name    string `json:"name"`
	Address string `json:"address"`
	MAC     string `json:"mac"`
}

type port struct {
	name    string
	ifindex int
	addr    uint32
	mac     net.HardwareAddr
	fd      int
}

// Set is the collection of open ports. Port i is the i-th PortSpec given
// to Open; this is the interface number used by the routing table.
type Set struct {
	ports []*port
	pfds  []unix.PollFd
	next  int // round-robin start for Receive

	closeOnce sync.Once
}

// Open resolves each interface through netlink and opens a raw socket
// bound to it.
func Open(specs []PortSpec) (*Set, error) {
	h, err := netlink.NewHandle()
	if err != nil {
		return nil, fmt.Errorf("netlink handle: %w", err)
	}
	defer h.Close()

	s := &Set{}
	for _, spec := range specs {
		p, err := openPort(h, spec)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.ports = append(s.ports, p)
		s.pfds = append(s.pfds, unix.PollFd{Fd: int32(p.fd), Events: unix.POLLIN})
		slog.Info("link: port open", "port", len(s.ports)-1, "interface", p.name,
			"address", uint32ToIP(p.addr), "mac", p.mac)
	}
	return s, nil
}

func openPort(h *netlink.Handle, spec PortSpec) (*port, error) {
	l, err := h.LinkByName(spec.Name)
	if err != nil {
		return nil, fmt.Errorf("interface %s not found: %w", spec.Name, err)
	}
	attrs := l.Attrs()
	p := &port{name: spec.Name, ifindex: attrs.Index, fd: -1}

	p.mac = spec.MAC
	if p.mac == nil {
		p.mac = attrs.HardwareAddr
	}
	if len(p.mac) != 6 {
		return nil, fmt.Errorf("interface %s: no Ethernet address", spec.Name)
	}

	if spec.Address != nil {
		p.addr = binary.BigEndian.Uint32(spec.Address.To4())
	} else {
		addrs, err := h.AddrList(l, netlink.FAMILY_V4)
		if err != nil {
			return nil, fmt.Errorf("interface %s: list addresses: %w", spec.Name, err)
		}
		if len(addrs) == 0 {
			return nil, fmt.Errorf("interface %s: no IPv4 address", spec.Name)
		}
		p.addr = binary.BigEndian.Uint32(addrs[0].IP.To4())
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("raw socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  p.ifindex,
	}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
	}
	p.fd = fd
	return p, nil
}

// Close closes every socket.
func (s *Set) Close() error {
	s.closeOnce.Do(func() {
		for _, p := range s.ports {
			if p.fd >= 0 {
				unix.Close(p.fd)
			}
		}
	})
	return nil
}

// Len returns the number of ports.
func (s *Set) Len() int { return len(s.ports) }

// Receive blocks until a frame arrives on any port and copies it into buf.
// It returns when ctx is done (with ctx.Err()).
func (s *Set) Receive(ctx context.Context, buf []byte) (n, portIdx int, err error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, -1, err
		}
		ready, err := unix.Poll(s.pfds, pollTimeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return 0, -1, fmt.Errorf("poll: %w", err)
		}
		if ready == 0 {
			continue
		}

		for k := 0; k < len(s.pfds); k++ {
			i := (s.next + k) % len(s.pfds)
			if s.pfds[i].Revents&unix.POLLIN == 0 {
				continue
			}
			n, from, err := unix.Recvfrom(s.ports[i].fd, buf, unix.MSG_DONTWAIT)
			if err != nil {
				if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
					continue
				}
				return 0, -1, fmt.Errorf("recv %s: %w", s.ports[i].name, err)
			}
			// Our own transmissions are looped back to ETH_P_ALL sockets.
			if ll, ok := from.(*unix.SockaddrLinklayer); ok && ll.Pkttype == unix.PACKET_OUTGOING {
				continue
			}
			s.next = i + 1
			return n, i, nil
		}
	}
}

// Transmit sends frame out port i.
func (s *Set) Transmit(i int, frame []byte) error {
	p, err := s.port(i)
	if err != nil {
		return err
	}
	addr := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  p.ifindex,
		Halen:    6,
	}
	if len(frame) >= 6 {
		copy(addr.Addr[:6], frame[:6])
	}
	if err := unix.Sendto(p.fd, frame, 0, addr); err != nil {
		return fmt.Errorf("send %s: %w", p.name, err)
	}
	return nil
}

// Address implements forwarding.Ports.
func (s *Set) Address(i int) (uint32, error) {
	p, err := s.port(i)
	if err != nil {
		return 0, err
	}
	return p.addr, nil
}

// HardwareAddr implements forwarding.Ports.
func (s *Set) HardwareAddr(i int) (net.HardwareAddr, error) {
	p, err := s.port(i)
	if err != nil {
		return nil, err
	}
	return p.mac, nil
}

// Describe lists the open ports.
func (s *Set) Describe() []PortInfo {
	out := make([]PortInfo, len(s.ports))
	for i, p := range s.ports {
		out[i] = PortInfo{Port: i, Name: p.name, Address: uint32ToIP(p.addr).String(), MAC: p.mac.String()}
	}
	return out
}

func (s *Set) port(i int) (*port, error) {
	if i < 0 || i >= len(s.ports) {
		return nil, fmt.Errorf("no port %d", i)
	}
	return s.ports[i], nil
}

func htons(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.NativeEndian.Uint16(b[:])
}

func uint32ToIP(v uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, v)
	return ip
}
