package forwarding

import (
	"fmt"

	"github.com/psaab/ipfwd/pkg/fib"
)

// Action is the terminal state of one pipeline run.
type Action uint8

const (
	Dropped Action = iota
	Transmitted
	Replied
)

func (a Action) String() string {
	switch a {
	case Dropped:
		return "dropped"
	case Transmitted:
		return "transmitted"
	case Replied:
		return "replied"
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// DropReason says why a frame was discarded.
type DropReason uint8

const (
	NotDropped DropReason = iota
	UnsupportedProtocol
	Malformed
	BadChecksum
	NoRoute
	TTLExceeded
	NeighborMiss
	PortError

	numDropReasons
)

var dropReasonNames = [numDropReasons]string{
	NotDropped:          "none",
	UnsupportedProtocol: "unsupported-protocol",
	Malformed:           "malformed",
	BadChecksum:         "bad-checksum",
	NoRoute:             "no-route",
	TTLExceeded:         "ttl-exceeded",
	NeighborMiss:        "neighbor-miss",
	PortError:           "port-error",
}

func (r DropReason) String() string {
	if r < numDropReasons {
		return dropReasonNames[r]
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// DropReasons lists every real drop reason, in declaration order.
func DropReasons() []DropReason {
	out := make([]DropReason, 0, numDropReasons-1)
	for r := UnsupportedProtocol; r < numDropReasons; r++ {
		out = append(out, r)
	}
	return out
}

// ParseDropReason is the inverse of DropReason.String.
func ParseDropReason(s string) (DropReason, bool) {
	for i, name := range dropReasonNames {
		if name == s {
			return DropReason(i), true
		}
	}
	return NotDropped, false
}

// Outcome is the result of Pipeline.Process. For Transmitted and Replied,
// Port is the port the (rewritten) frame must be sent on. Route is set
// once a route has been selected.
type Outcome struct {
	Action Action
	Reason DropReason
	Port   int
	Route  fib.Route
}

func (o Outcome) String() string {
	switch o.Action {
	case Dropped:
		return "dropped: " + o.Reason.String()
	case Transmitted:
		return fmt.Sprintf("transmitted on port %d (%s)", o.Port, o.Route)
	case Replied:
		return fmt.Sprintf("replied on port %d", o.Port)
	}
	return o.Action.String()
}

func drop(r DropReason) Outcome {
	return Outcome{Action: Dropped, Reason: r, Port: -1}
}
