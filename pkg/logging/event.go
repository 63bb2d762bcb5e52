package logging

import (
	"fmt"
	"net/netip"
	"time"
)

// DropEvent records one frame the forwarding pipeline discarded.
type DropEvent struct {
	Time   time.Time  `json:"time"`
	Port   int        `json:"port"`
	Reason string     `json:"reason"`
	Src    netip.Addr `json:"src"` // zero if the frame had no IPv4 header
	Dst    netip.Addr `json:"dst"`
	Length int        `json:"length"`
}

func (e DropEvent) String() string {
	return fmt.Sprintf("DROP reason=%s port=%d src=%s dst=%s length=%d",
		e.Reason, e.Port, addrOrDash(e.Src), addrOrDash(e.Dst), e.Length)
}

func addrOrDash(a netip.Addr) string {
	if !a.IsValid() {
		return "-"
	}
	return a.String()
}
