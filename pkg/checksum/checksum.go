// Package checksum implements the Internet checksum (RFC 1071) used by the
// IPv4 and ICMP headers the forwarding pipeline rewrites.
package checksum

import "encoding/binary"

// sum returns the folded one's-complement sum of b. The two bytes at skip
// (if skip >= 0) are treated as zero.
func sum(b []byte, skip int) uint32 {
	var s uint32
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		if i == skip {
			continue
		}
		s += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if n%2 != 0 && n-1 != skip {
		s += uint32(b[n-1]) << 8
	}
	for s > 0xffff {
		s = (s >> 16) + (s & 0xffff)
	}
	return s
}

// Compute returns the Internet checksum of b: the one's complement of the
// one's-complement sum of its big-endian 16-bit words. An odd trailing byte
// is padded with a zero low byte.
func Compute(b []byte) uint16 {
	return ^uint16(sum(b, -1))
}

// Validate reports whether claimed is the checksum of hdr with the 16-bit
// checksum field at offset off taken as zero. hdr is not modified.
func Validate(hdr []byte, off int, claimed uint16) bool {
	if off < 0 || off+2 > len(hdr) || off%2 != 0 {
		return false
	}
	return ^uint16(sum(hdr, off)) == claimed
}

// Update zeroes the checksum field at offset off, recomputes the checksum
// over all of b and stores it in network byte order. It returns the value
// written.
func Update(b []byte, off int) uint16 {
	b[off] = 0
	b[off+1] = 0
	c := Compute(b)
	binary.BigEndian.PutUint16(b[off:off+2], c)
	return c
}
