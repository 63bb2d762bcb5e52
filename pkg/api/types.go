// Package api implements the HTTP REST API and Prometheus metrics endpoint.
package api

import "github.com/psaab/ipfwd/pkg/forwarding"

// Response is the standard JSON response envelope.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusResponse holds daemon status information.
type StatusResponse struct {
	Uptime        string `json:"uptime"`
	Routes        int    `json:"routes"`
	Neighbors     int    `json:"neighbors"`
	Ports         int    `json:"ports"`
	Frames        uint64 `json:"frames"`
	DroppedEvents uint64 `json:"drop_events"`
}

// Statistics holds pipeline counters with drops broken out by reason.
type Statistics struct {
	Frames      uint64            `json:"frames"`
	Bytes       uint64            `json:"bytes"`
	Transmitted uint64            `json:"transmitted"`
	Replied     uint64            `json:"replied"`
	Dropped     uint64            `json:"dropped"`
	DropReasons map[string]uint64 `json:"drop_reasons"`
}

func statisticsFrom(s forwarding.Stats) Statistics {
	out := Statistics{
		Frames:      s.Frames,
		Bytes:       s.Bytes,
		Transmitted: s.Transmitted,
		Replied:     s.Replied,
		Dropped:     s.DroppedTotal(),
		DropReasons: make(map[string]uint64, len(s.Dropped)),
	}
	for r, n := range s.Dropped {
		out.DropReasons[r.String()] = n
	}
	return out
}

// RouteInfo is one routing table entry.
type RouteInfo struct {
	Destination string `json:"destination"`
	NextHop     string `json:"next_hop"`
	Interface   int    `json:"interface"`
}

// NeighborInfo is one neighbor table entry.
type NeighborInfo struct {
	IP  string `json:"ip"`
	MAC string `json:"mac"`
}

// LookupResponse is the result of a route lookup.
type LookupResponse struct {
	Address  string     `json:"address"`
	Found    bool       `json:"found"`
	Route    *RouteInfo `json:"route,omitempty"`
	Resolved string     `json:"next_hop_mac,omitempty"` // empty on neighbor miss
}
