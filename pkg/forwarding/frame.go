package forwarding

import "encoding/binary"

// Ethernet, IPv4 and ICMP header layout (IEEE 802.3, RFC 791, RFC 792).
const (
	ethDst       = 0
	ethSrc       = 6
	ethType      = 12
	ethHdrLen    = 14
	etherTypeIP4 = 0x0800

	ipVerIHL   = 0
	ipTotalLen = 2
	ipTTL      = 8
	ipProto    = 9
	ipCsum     = 10
	ipSrc      = 12
	ipDst      = 16
	ipMinLen   = 20

	icmpType      = 0
	icmpCode      = 1
	icmpCsum      = 2
	icmpMinLen    = 4
	icmpEchoReply = 0
)

// ipHeader returns the IPv4 header slice of frame, honouring IHL. ok is
// false when the frame cannot hold it.
func ipHeader(frame []byte) (hdr []byte, ok bool) {
	if len(frame) < ethHdrLen+ipMinLen {
		return nil, false
	}
	ihl := int(frame[ethHdrLen+ipVerIHL]&0x0f) * 4
	if ihl < ipMinLen || len(frame) < ethHdrLen+ihl {
		return nil, false
	}
	return frame[ethHdrLen : ethHdrLen+ihl], true
}

func etherType(frame []byte) uint16 {
	return binary.BigEndian.Uint16(frame[ethType : ethType+2])
}

func srcIP(hdr []byte) uint32 { return binary.BigEndian.Uint32(hdr[ipSrc : ipSrc+4]) }
func dstIP(hdr []byte) uint32 { return binary.BigEndian.Uint32(hdr[ipDst : ipDst+4]) }

func swapMACs(frame []byte) {
	var tmp [6]byte
	copy(tmp[:], frame[ethSrc:ethSrc+6])
	copy(frame[ethSrc:ethSrc+6], frame[ethDst:ethDst+6])
	copy(frame[ethDst:ethDst+6], tmp[:])
}

func swapIPs(hdr []byte) {
	var tmp [4]byte
	copy(tmp[:], hdr[ipSrc:ipSrc+4])
	copy(hdr[ipSrc:ipSrc+4], hdr[ipDst:ipDst+4])
	copy(hdr[ipDst:ipDst+4], tmp[:])
}

// Addresses returns the IPv4 source and destination of frame, if it holds
// an IPv4 header.
func Addresses(frame []byte) (src, dst uint32, ok bool) {
	if len(frame) < ethHdrLen || etherType(frame) != etherTypeIP4 {
		return 0, 0, false
	}
	hdr, ok := ipHeader(frame)
	if !ok {
		return 0, 0, false
	}
	return srcIP(hdr), dstIP(hdr), true
}
