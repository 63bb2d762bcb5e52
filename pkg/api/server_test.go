package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/psaab/ipfwd/pkg/fib"
	"github.com/psaab/ipfwd/pkg/forwarding"
	"github.com/psaab/ipfwd/pkg/link"
	"github.com/psaab/ipfwd/pkg/logging"
	"github.com/psaab/ipfwd/pkg/neighbor"
)

func ip(s string) uint32 {
	v, _ := fib.AddrTo(netip.MustParseAddr(s))
	return v
}

func mustMAC(s string) net.HardwareAddr {
	m, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

type testEnv struct {
	srv      *Server
	pipeline *forwarding.Pipeline
	events   *logging.EventBuffer
	reloads  int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newAuthTestEnv(t, nil)
}

func newAuthTestEnv(t *testing.T, auth *AuthConfig) *testEnv {
	t.Helper()
	ports, err := link.NewStatic([]link.PortSpec{
		{Name: "eth0", Address: net.ParseIP("192.168.0.1"), MAC: mustMAC("02:00:00:00:00:00")},
		{Name: "eth1", Address: net.ParseIP("192.168.1.1"), MAC: mustMAC("02:00:00:00:01:00")},
	})
	if err != nil {
		t.Fatal(err)
	}
	tables := forwarding.NewTables(
		[]fib.Route{
			{Prefix: ip("10.0.0.0"), Mask: 0xff000000, NextHop: ip("192.168.1.2"), Interface: 1},
			{Prefix: ip("10.9.0.0"), Mask: 0xffff0000, NextHop: ip("192.168.1.9"), Interface: 1},
		},
		[]neighbor.Entry{{IP: ip("192.168.1.2"), HardwareAddr: mustMAC("bb:bb:bb:bb:bb:01")}},
	)
	env := &testEnv{
		pipeline: forwarding.New(ports, tables),
		events:   logging.NewEventBuffer(16),
	}
	env.srv = NewServer(Config{
		Addr:     "127.0.0.1:0",
		Auth:     auth,
		DP:       env.pipeline,
		Ports:    ports,
		EventBuf: env.events,
		ReloadFn: func() error {
			env.reloads++
			if env.reloads > 1 {
				return errors.New("routes.txt: line 3: bad mask")
			}
			return nil
		},
	})
	return env
}

func (e *testEnv) get(t *testing.T, path string, data any) int {
	t.Helper()
	return e.do(t, "GET", path, data)
}

func (e *testEnv) do(t *testing.T, method, path string, data any) int {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)

	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: decode response: %v; body: %s", method, path, err, w.Body.String())
	}
	if resp.Success != (w.Code == http.StatusOK) {
		t.Errorf("%s %s: success=%v with status %d", method, path, resp.Success, w.Code)
	}
	if data != nil && resp.Success {
		if err := json.Unmarshal(resp.Data, data); err != nil {
			t.Fatalf("%s %s: decode data: %v", method, path, err)
		}
	}
	return w.Code
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	var got map[string]string
	if code := env.get(t, "/health", &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got["status"] != "ok" {
		t.Errorf("health = %v", got)
	}
}

func TestRoutesAndNeighbors(t *testing.T) {
	env := newTestEnv(t)

	var routes []RouteInfo
	env.get(t, "/api/v1/routes", &routes)
	want := []RouteInfo{
		{Destination: "10.0.0.0/8", NextHop: "192.168.1.2", Interface: 1},
		{Destination: "10.9.0.0/16", NextHop: "192.168.1.9", Interface: 1},
	}
	if diff := cmp.Diff(want, routes); diff != "" {
		t.Errorf("routes mismatch (-want +got):\n%s", diff)
	}

	var neigh []NeighborInfo
	env.get(t, "/api/v1/neighbors", &neigh)
	if diff := cmp.Diff([]NeighborInfo{{IP: "192.168.1.2", MAC: "bb:bb:bb:bb:bb:01"}}, neigh); diff != "" {
		t.Errorf("neighbors mismatch (-want +got):\n%s", diff)
	}

	var ifaces []link.PortInfo
	env.get(t, "/api/v1/interfaces", &ifaces)
	if len(ifaces) != 2 || ifaces[1].Name != "eth1" || ifaces[1].Address != "192.168.1.1" {
		t.Errorf("interfaces = %+v", ifaces)
	}
}

func TestLookup(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		addr string
		code int
		want LookupResponse
	}{
		{
			addr: "10.1.2.3",
			code: http.StatusOK,
			want: LookupResponse{
				Address:  "10.1.2.3",
				Found:    true,
				Route:    &RouteInfo{Destination: "10.0.0.0/8", NextHop: "192.168.1.2", Interface: 1},
				Resolved: "bb:bb:bb:bb:bb:01",
			},
		},
		{
			// route exists but next hop has no neighbor entry
			addr: "10.9.0.1",
			code: http.StatusOK,
			want: LookupResponse{
				Address: "10.9.0.1",
				Found:   true,
				Route:   &RouteInfo{Destination: "10.9.0.0/16", NextHop: "192.168.1.9", Interface: 1},
			},
		},
		{
			addr: "172.16.0.1",
			code: http.StatusOK,
			want: LookupResponse{Address: "172.16.0.1"},
		},
		{addr: "2001:db8::1", code: http.StatusBadRequest},
		{addr: "bogus", code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			var got LookupResponse
			code := env.get(t, "/api/v1/routes/lookup/"+tt.addr, &got)
			if code != tt.code {
				t.Fatalf("status = %d, want %d", code, tt.code)
			}
			if code != http.StatusOK {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("lookup mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStatistics(t *testing.T) {
	env := newTestEnv(t)
	env.pipeline.Process(make([]byte, 10), 0)
	env.pipeline.Process(make([]byte, 10), 0)

	var st Statistics
	env.get(t, "/api/v1/statistics", &st)
	if st.Frames != 2 || st.Bytes != 20 || st.Dropped != 2 {
		t.Errorf("statistics = %+v", st)
	}
	if st.DropReasons["malformed"] != 2 {
		t.Errorf("drop_reasons[malformed] = %d, want 2", st.DropReasons["malformed"])
	}
	if n, ok := st.DropReasons["no-route"]; !ok || n != 0 {
		t.Errorf("drop_reasons[no-route] = %d (present=%v), want explicit 0", n, ok)
	}

	var status StatusResponse
	env.get(t, "/api/v1/status", &status)
	if status.Routes != 2 || status.Neighbors != 1 || status.Ports != 2 || status.Frames != 2 {
		t.Errorf("status = %+v", status)
	}
}

func TestEvents(t *testing.T) {
	env := newTestEnv(t)
	for i, reason := range []string{"no-route", "bad-checksum", "no-route"} {
		env.events.Add(logging.DropEvent{
			Time:   time.Unix(1700000000+int64(i), 0),
			Port:   i,
			Reason: reason,
			Src:    netip.MustParseAddr("192.168.0.10"),
			Dst:    netip.MustParseAddr("172.16.0.1"),
			Length: 98,
		})
	}

	tests := []struct {
		query string
		code  int
		want  int
	}{
		{"", http.StatusOK, 3},
		{"?reason=no-route", http.StatusOK, 2},
		{"?reason=NO-ROUTE&port=2", http.StatusOK, 1},
		{"?addr=172.16.", http.StatusOK, 3},
		{"?addr=10.0.0.1", http.StatusOK, 0},
		{"?limit=1", http.StatusOK, 1},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?port=x", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var got []logging.DropEvent
			code := env.get(t, "/api/v1/events"+tt.query, &got)
			if code != tt.code {
				t.Fatalf("status = %d, want %d", code, tt.code)
			}
			if len(got) != tt.want {
				t.Errorf("got %d events, want %d", len(got), tt.want)
			}
		})
	}
}

func TestReload(t *testing.T) {
	env := newTestEnv(t)
	if code := env.do(t, "POST", "/api/v1/reload", nil); code != http.StatusOK {
		t.Errorf("first reload status = %d", code)
	}
	if code := env.do(t, "POST", "/api/v1/reload", nil); code != http.StatusInternalServerError {
		t.Errorf("failing reload status = %d", code)
	}

	s := NewServer(Config{})
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/reload", nil))
	if w.Code != http.StatusNotImplemented {
		t.Errorf("reload without handler status = %d", w.Code)
	}
}

func TestNoDataplane(t *testing.T) {
	s := NewServer(Config{})
	for _, path := range []string{"/api/v1/routes", "/api/v1/statistics", "/api/v1/events"} {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, w.Code)
		}
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.pipeline.Process(make([]byte, 10), 0)
	env.events.Add(logging.DropEvent{Reason: "malformed"})

	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`ipfwd_drops_total{reason="malformed"} 1`,
		`ipfwd_drops_total{reason="no-route"} 0`,
		`ipfwd_frames_total{action="dropped"} 1`,
		`ipfwd_frames_total{action="transmitted"} 0`,
		`ipfwd_bytes_total 10`,
		`ipfwd_routes 2`,
		`ipfwd_neighbors 1`,
		`ipfwd_routes_replaced 0`,
		`ipfwd_drop_events_total 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestEventStream(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()
	client := ts.Client()
	defer client.CloseIdleConnections()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/v1/events/stream?reason=no-route", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	// Headers are flushed before subscribing; retry until the subscriber sees one.
	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			env.events.Add(logging.DropEvent{Reason: "bad-checksum", Port: 0})
			env.events.Add(logging.DropEvent{Reason: "no-route", Port: 1, Length: 60})
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before any event")
			}
			if !strings.HasPrefix(line, "data: ") {
				if strings.HasPrefix(line, "event: ") && line != "event: drop" {
					t.Errorf("event line = %q", line)
				}
				continue
			}
			var ev logging.DropEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			if ev.Reason != "no-route" || ev.Port != 1 || ev.Length != 60 {
				t.Errorf("event = %+v", ev)
			}
			cancel()
			resp.Body.Close()
			for range lines {
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestServeShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	env := newTestEnv(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.srv.Serve(ctx, ln) }()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	client.CloseIdleConnections()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
