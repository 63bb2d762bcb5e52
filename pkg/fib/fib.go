// Package fib implements the forwarding information base: a binary trie
// over IPv4 destination prefixes supporting longest-prefix-match lookup.
//
// A Trie is built once from a route list and never modified afterwards, so
// any number of goroutines may call Lookup concurrently. Reloading routes
// means building a new Trie and swapping the pointer.
package fib

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/bits"
	"net/netip"
)

// Route is a static routing table entry. Only the bits of Prefix covered by
// Mask are significant; Mask must be contiguous leading ones.
type Route struct {
	Prefix    uint32
	Mask      uint32
	NextHop   uint32
	Interface int // egress port index
}

// PrefixLen returns the number of leading one bits in Mask.
func (r Route) PrefixLen() int {
	return bits.LeadingZeros32(^r.Mask)
}

// Destination returns the route's destination as a netip.Prefix.
func (r Route) Destination() netip.Prefix {
	return netip.PrefixFrom(AddrFrom(r.Prefix), r.PrefixLen()).Masked()
}

// Gateway returns the next hop as a netip.Addr.
func (r Route) Gateway() netip.Addr {
	return AddrFrom(r.NextHop)
}

func (r Route) String() string {
	return fmt.Sprintf("%s via %s port %d", r.Destination(), r.Gateway(), r.Interface)
}

// AddrFrom converts a host-order IPv4 address to netip.Addr.
func AddrFrom(a uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], a)
	return netip.AddrFrom4(b)
}

// AddrTo converts an IPv4 netip.Addr to host order. ok is false for
// anything that is not IPv4 (IPv4-mapped IPv6 is unmapped first).
func AddrTo(a netip.Addr) (v uint32, ok bool) {
	a = a.Unmap()
	if !a.Is4() {
		return 0, false
	}
	b := a.As4()
	return binary.BigEndian.Uint32(b[:]), true
}

// noNode marks an absent child slot.
const noNode = -1

// node is one trie level. Children are indexes into Trie.nodes, addressed
// by the next prefix bit.
type node struct {
	child [2]int32
	route int32 // index into Trie.routes, or noNode
}

// Trie is an immutable binary trie keyed by prefix bits, most significant
// bit first. nodes[0] is the root (zero bits consumed).
type Trie struct {
	nodes    []node
	routes   []Route
	replaced int
}

func newNode() node {
	return node{child: [2]int32{noNode, noNode}, route: noNode}
}

// Build constructs a Trie from routes in order. When two routes share the
// same prefix and mask the later one wins; the number of such replacements
// is reported by Replaced.
func Build(routes []Route) *Trie {
	t := &Trie{
		nodes:  make([]node, 1, 1+len(routes)*4),
		routes: make([]Route, 0, len(routes)),
	}
	t.nodes[0] = newNode()

	for _, r := range routes {
		t.insert(r)
	}
	if t.replaced > 0 {
		slog.Debug("fib: duplicate routes replaced", "count", t.replaced)
	}
	return t
}

func (t *Trie) insert(r Route) {
	plen := r.PrefixLen()
	r.Prefix &= r.Mask

	n := int32(0)
	for depth := 0; depth < plen; depth++ {
		bit := (r.Prefix >> (31 - depth)) & 1
		next := t.nodes[n].child[bit]
		if next == noNode {
			t.nodes = append(t.nodes, newNode())
			next = int32(len(t.nodes) - 1)
			t.nodes[n].child[bit] = next
		}
		n = next
	}

	if idx := t.nodes[n].route; idx != noNode {
		t.routes[idx] = r
		t.replaced++
		return
	}
	t.routes = append(t.routes, r)
	t.nodes[n].route = int32(len(t.routes) - 1)
}

// Lookup returns the longest-prefix-match route for addr (host byte
// order). ok is false when no stored prefix covers addr.
func (t *Trie) Lookup(addr uint32) (r Route, ok bool) {
	if t == nil || len(t.nodes) == 0 {
		return Route{}, false
	}
	best := int32(noNode)
	n := int32(0)
	for depth := 0; ; depth++ {
		if idx := t.nodes[n].route; idx != noNode {
			best = idx
		}
		if depth == 32 {
			break
		}
		next := t.nodes[n].child[(addr>>(31-depth))&1]
		if next == noNode {
			break
		}
		n = next
	}
	if best == noNode {
		return Route{}, false
	}
	return t.routes[best], true
}

// LookupAddr is Lookup for a netip.Addr. Non-IPv4 addresses never match.
func (t *Trie) LookupAddr(a netip.Addr) (Route, bool) {
	v, ok := AddrTo(a)
	if !ok {
		return Route{}, false
	}
	return t.Lookup(v)
}

// Len returns the number of distinct prefixes stored.
func (t *Trie) Len() int {
	if t == nil {
		return 0
	}
	return len(t.routes)
}

// Replaced returns how many routes were overwritten by a later route with
// the same prefix and mask during Build.
func (t *Trie) Replaced() int {
	if t == nil {
		return 0
	}
	return t.replaced
}

// Routes returns the stored routes in trie pre-order (shorter prefixes
// before the more specific ones they cover, 0-branch before 1-branch).
func (t *Trie) Routes() []Route {
	if t.Len() == 0 {
		return nil
	}
	out := make([]Route, 0, len(t.routes))
	stack := []int32{0}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nd := t.nodes[n]
		if nd.route != noNode {
			out = append(out, t.routes[nd.route])
		}
		if nd.child[1] != noNode {
			stack = append(stack, nd.child[1])
		}
		if nd.child[0] != noNode {
			stack = append(stack, nd.child[0])
		}
	}
	return out
}
