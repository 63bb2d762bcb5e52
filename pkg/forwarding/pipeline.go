// Package forwarding implements the per-frame IPv4 forwarding decision:
// classification, local echo reply, header checksum validation, route
// lookup, TTL handling, next-hop resolution and link header rewrite.
//
// A Pipeline is driven by a single worker. The routing and neighbor tables
// it consults are immutable snapshots that may be replaced concurrently
// with SetTables; a frame always sees exactly one snapshot.
package forwarding

import (
	"encoding/binary"
	"net"
	"sync/atomic"

	"github.com/psaab/ipfwd/pkg/checksum"
	"github.com/psaab/ipfwd/pkg/fib"
	"github.com/psaab/ipfwd/pkg/neighbor"
)

// Ports exposes the addresses of the router's own interfaces.
type Ports interface {
	// Address returns the IPv4 address (host byte order) of port.
	Address(port int) (uint32, error)
	// HardwareAddr returns the MAC address of port.
	HardwareAddr(port int) (net.HardwareAddr, error)
}

// Tables is one immutable snapshot of the forwarding state.
type Tables struct {
	FIB       *fib.Trie
	Neighbors *neighbor.Table
}

// NewTables builds a snapshot from loaded route and neighbor lists.
func NewTables(routes []fib.Route, neighbors []neighbor.Entry) *Tables {
	return &Tables{
		FIB:       fib.Build(routes),
		Neighbors: neighbor.New(neighbors),
	}
}

// Pipeline processes frames one at a time.
type Pipeline struct {
	ports    Ports
	tables   atomic.Pointer[Tables]
	counters Counters
}

// New creates a Pipeline over ports using tables.
func New(ports Ports, tables *Tables) *Pipeline {
	p := &Pipeline{ports: ports}
	p.tables.Store(tables)
	return p
}

// SetTables atomically replaces the forwarding snapshot.
func (p *Pipeline) SetTables(t *Tables) {
	p.tables.Store(t)
}

// Tables returns the current snapshot.
func (p *Pipeline) Tables() *Tables {
	return p.tables.Load()
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return p.counters.snapshot()
}

// Process decides the fate of frame, received on port in. The frame is
// rewritten in place; on Transmitted or Replied the caller sends
// frame (same length) on Outcome.Port. Drops are reported in the Outcome
// and never leave the frame partially forwarded.
func (p *Pipeline) Process(frame []byte, in int) Outcome {
	o := p.process(frame, in)
	p.counters.record(o, len(frame))
	return o
}

func (p *Pipeline) process(frame []byte, in int) Outcome {
	if len(frame) < ethHdrLen {
		return drop(Malformed)
	}
	if etherType(frame) != etherTypeIP4 {
		return drop(UnsupportedProtocol)
	}
	hdr, ok := ipHeader(frame)
	if !ok {
		return drop(Malformed)
	}

	local, err := p.ports.Address(in)
	if err != nil {
		return drop(PortError)
	}
	if dstIP(hdr) == local {
		return echoReply(frame, hdr, in)
	}

	claimed := binary.BigEndian.Uint16(hdr[ipCsum : ipCsum+2])
	if !checksum.Validate(hdr, ipCsum, claimed) {
		return drop(BadChecksum)
	}

	t := p.tables.Load()
	if t == nil {
		return drop(NoRoute)
	}
	rt, ok := t.FIB.Lookup(dstIP(hdr))
	if !ok {
		return drop(NoRoute)
	}

	if hdr[ipTTL] < 1 {
		return drop(TTLExceeded)
	}
	hdr[ipTTL]--
	checksum.Update(hdr, ipCsum)

	mac, ok := t.Neighbors.Resolve(rt.NextHop)
	if !ok {
		o := drop(NeighborMiss)
		o.Route = rt
		return o
	}
	src, err := p.ports.HardwareAddr(rt.Interface)
	if err != nil || len(src) != 6 {
		o := drop(PortError)
		o.Route = rt
		return o
	}

	copy(frame[ethDst:ethDst+6], mac)
	copy(frame[ethSrc:ethSrc+6], src)
	return Outcome{Action: Transmitted, Port: rt.Interface, Route: rt}
}

// echoReply turns a frame addressed to the router into an ICMP echo reply
// sent back out the port it arrived on. Whatever ICMP type was received,
// the reply carries type 0 code 0.
func echoReply(frame, hdr []byte, in int) Outcome {
	ihl := len(hdr)
	total := int(binary.BigEndian.Uint16(hdr[ipTotalLen : ipTotalLen+2]))
	if total < ihl+icmpMinLen || ethHdrLen+total > len(frame) {
		return drop(Malformed)
	}

	swapMACs(frame)
	swapIPs(hdr)
	if hdr[ipTTL] > 0 {
		hdr[ipTTL]--
	}
	checksum.Update(hdr, ipCsum)

	icmp := frame[ethHdrLen+ihl : ethHdrLen+total]
	icmp[icmpType] = icmpEchoReply
	icmp[icmpCode] = 0
	checksum.Update(icmp, icmpCsum)

	return Outcome{Action: Replied, Port: in}
}
