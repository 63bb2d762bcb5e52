package logging

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DropAggregator counts dropped frames per source and destination address
// and periodically logs the top talkers.
type DropAggregator struct {
	mu   sync.Mutex
	srcs map[string]*aggEntry
	dsts map[string]*aggEntry

	flushInterval time.Duration
	topN          int
	logger        *slog.Logger
}

type aggEntry struct {
	Drops uint64
	Bytes uint64
}

// AggregateEntry is a single top-N entry returned by Flush.
type AggregateEntry struct {
	IP    string
	Drops uint64
	Bytes uint64
}

// NewDropAggregator creates a new aggregator.
// flushInterval controls how often top-N stats are emitted (default 5min).
// topN controls how many entries per category (default 10).
func NewDropAggregator(flushInterval time.Duration, topN int) *DropAggregator {
	if flushInterval <= 0 {
		flushInterval = 5 * time.Minute
	}
	if topN <= 0 {
		topN = 10
	}
	return &DropAggregator{
		srcs:          make(map[string]*aggEntry),
		dsts:          make(map[string]*aggEntry),
		flushInterval: flushInterval,
		topN:          topN,
		logger:        slog.Default(),
	}
}

// SetLogger sets where aggregate reports go.
func (da *DropAggregator) SetLogger(l *slog.Logger) {
	da.mu.Lock()
	da.logger = l
	da.mu.Unlock()
}

// Add records a drop. Events without an IPv4 header are not attributed.
func (da *DropAggregator) Add(ev DropEvent) {
	if !ev.Src.IsValid() {
		return
	}
	src, dst := ev.Src.String(), ev.Dst.String()

	da.mu.Lock()
	defer da.mu.Unlock()

	if e, ok := da.srcs[src]; ok {
		e.Drops++
		e.Bytes += uint64(ev.Length)
	} else {
		da.srcs[src] = &aggEntry{Drops: 1, Bytes: uint64(ev.Length)}
	}

	if e, ok := da.dsts[dst]; ok {
		e.Drops++
		e.Bytes += uint64(ev.Length)
	} else {
		da.dsts[dst] = &aggEntry{Drops: 1, Bytes: uint64(ev.Length)}
	}
}

// Flush returns top-N sources and destinations by drop count, then resets counters.
func (da *DropAggregator) Flush() (topSrc, topDst []AggregateEntry) {
	da.mu.Lock()
	srcs := da.srcs
	dsts := da.dsts
	da.srcs = make(map[string]*aggEntry)
	da.dsts = make(map[string]*aggEntry)
	da.mu.Unlock()

	topSrc = topEntries(srcs, da.topN)
	topDst = topEntries(dsts, da.topN)
	return
}

// Run starts the periodic flush loop. Blocks until ctx is cancelled.
func (da *DropAggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(da.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			da.flushAndLog()
		}
	}
}

func (da *DropAggregator) flushAndLog() {
	topSrc, topDst := da.Flush()

	da.mu.Lock()
	logger := da.logger
	da.mu.Unlock()

	for _, e := range topSrc {
		logger.Info("drop aggregate", "top-source", e.IP, "drops", e.Drops, "bytes", e.Bytes)
	}
	for _, e := range topDst {
		logger.Info("drop aggregate", "top-destination", e.IP, "drops", e.Drops, "bytes", e.Bytes)
	}
}

func topEntries(m map[string]*aggEntry, n int) []AggregateEntry {
	if len(m) == 0 {
		return nil
	}
	entries := make([]AggregateEntry, 0, len(m))
	for ip, e := range m {
		entries = append(entries, AggregateEntry{IP: ip, Drops: e.Drops, Bytes: e.Bytes})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Drops != entries[j].Drops {
			return entries[i].Drops > entries[j].Drops
		}
		return entries[i].IP < entries[j].IP
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
