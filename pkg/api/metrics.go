package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/psaab/ipfwd/pkg/forwarding"
)

// ipfwdCollector implements prometheus.Collector, reading pipeline
// counters and table sizes on each scrape.
type ipfwdCollector struct {
	srv *Server

	framesTotal *prometheus.Desc
	bytesTotal  *prometheus.Desc
	dropsTotal  *prometheus.Desc

	routes         *prometheus.Desc
	routesReplaced *prometheus.Desc
	neighbors      *prometheus.Desc

	dropEventsTotal *prometheus.Desc
}

func newCollector(srv *Server) *ipfwdCollector {
	return &ipfwdCollector{
		srv: srv,

		framesTotal: prometheus.NewDesc(
			"ipfwd_frames_total",
			"Total frames processed, by outcome.",
			[]string{"action"}, nil,
		),
		bytesTotal: prometheus.NewDesc(
			"ipfwd_bytes_total",
			"Total bytes received by the forwarding pipeline.",
			nil, nil,
		),
		dropsTotal: prometheus.NewDesc(
			"ipfwd_drops_total",
			"Total frames dropped, by reason.",
			[]string{"reason"}, nil,
		),
		routes: prometheus.NewDesc(
			"ipfwd_routes",
			"Routes installed in the forwarding table.",
			nil, nil,
		),
		routesReplaced: prometheus.NewDesc(
			"ipfwd_routes_replaced",
			"Route entries overridden by a later duplicate prefix at load time.",
			nil, nil,
		),
		neighbors: prometheus.NewDesc(
			"ipfwd_neighbors",
			"Entries in the static neighbor table.",
			nil, nil,
		),
		dropEventsTotal: prometheus.NewDesc(
			"ipfwd_drop_events_total",
			"Drop events recorded in the event buffer.",
			nil, nil,
		),
	}
}

func (c *ipfwdCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.framesTotal
	ch <- c.bytesTotal
	ch <- c.dropsTotal
	ch <- c.routes
	ch <- c.routesReplaced
	ch <- c.neighbors
	ch <- c.dropEventsTotal
}

func (c *ipfwdCollector) Collect(ch chan<- prometheus.Metric) {
	if c.srv.dp != nil {
		c.collectStats(ch, c.srv.dp.Stats())
		if t := c.srv.dp.Tables(); t != nil {
			ch <- prometheus.MustNewConstMetric(c.routes, prometheus.GaugeValue, float64(t.FIB.Len()))
			ch <- prometheus.MustNewConstMetric(c.routesReplaced, prometheus.GaugeValue, float64(t.FIB.Replaced()))
			ch <- prometheus.MustNewConstMetric(c.neighbors, prometheus.GaugeValue, float64(t.Neighbors.Len()))
		}
	}
	if c.srv.eventBuf != nil {
		ch <- prometheus.MustNewConstMetric(c.dropEventsTotal, prometheus.CounterValue,
			float64(c.srv.eventBuf.Total()))
	}
}

func (c *ipfwdCollector) collectStats(ch chan<- prometheus.Metric, s forwarding.Stats) {
	ch <- prometheus.MustNewConstMetric(c.framesTotal, prometheus.CounterValue,
		float64(s.Transmitted), forwarding.Transmitted.String())
	ch <- prometheus.MustNewConstMetric(c.framesTotal, prometheus.CounterValue,
		float64(s.Replied), forwarding.Replied.String())
	ch <- prometheus.MustNewConstMetric(c.framesTotal, prometheus.CounterValue,
		float64(s.DroppedTotal()), forwarding.Dropped.String())
	ch <- prometheus.MustNewConstMetric(c.bytesTotal, prometheus.CounterValue, float64(s.Bytes))

	for _, r := range forwarding.DropReasons() {
		ch <- prometheus.MustNewConstMetric(c.dropsTotal, prometheus.CounterValue,
			float64(s.Dropped[r]), r.String())
	}
}
