package forwarding

import "sync/atomic"

// Counters tracks pipeline totals. All fields are updated atomically so
// the metrics collector can read them while the worker runs.
type Counters struct {
	frames      atomic.Uint64
	bytes       atomic.Uint64
	transmitted atomic.Uint64
	replied     atomic.Uint64
	dropped     [numDropReasons]atomic.Uint64
}

// Stats is a point-in-time copy of Counters.
type Stats struct {
	Frames      uint64                `json:"frames"`
	Bytes       uint64                `json:"bytes"`
	Transmitted uint64                `json:"transmitted"`
	Replied     uint64                `json:"replied"`
	Dropped     map[DropReason]uint64 `json:"-"`
}

// DroppedTotal sums drops over all reasons.
func (s Stats) DroppedTotal() uint64 {
	var n uint64
	for _, v := range s.Dropped {
		n += v
	}
	return n
}

func (c *Counters) record(o Outcome, n int) {
	c.frames.Add(1)
	c.bytes.Add(uint64(n))
	switch o.Action {
	case Transmitted:
		c.transmitted.Add(1)
	case Replied:
		c.replied.Add(1)
	case Dropped:
		if o.Reason < numDropReasons {
			c.dropped[o.Reason].Add(1)
		}
	}
}

func (c *Counters) snapshot() Stats {
	s := Stats{
		Frames:      c.frames.Load(),
		Bytes:       c.bytes.Load(),
		Transmitted: c.transmitted.Load(),
		Replied:     c.replied.Load(),
		Dropped:     make(map[DropReason]uint64, numDropReasons-1),
	}
	for _, r := range DropReasons() {
		s.Dropped[r] = c.dropped[r].Load()
	}
	return s
}
