package logging

import (
	"bytes"
	"context"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func ev(reason, src, dst string, port int) DropEvent {
	e := DropEvent{Time: time.Unix(1700000000, 0), Reason: reason, Port: port, Length: 100}
	if src != "" {
		e.Src = netip.MustParseAddr(src)
		e.Dst = netip.MustParseAddr(dst)
	}
	return e
}

func TestEventBufferWrap(t *testing.T) {
	eb := NewEventBuffer(3)
	for i, r := range []string{"a", "b", "c", "d"} {
		eb.Add(ev(r, "", "", i))
	}
	got := eb.LatestFiltered(10, AnyEvent)
	if len(got) != 3 {
		t.Fatalf("LatestFiltered(10) returned %d events, want 3", len(got))
	}
	if got[0].Reason != "d" || got[2].Reason != "b" {
		t.Errorf("order = %s,%s,%s; want d,c,b", got[0].Reason, got[1].Reason, got[2].Reason)
	}
	if eb.Total() != 4 {
		t.Errorf("Total() = %d, want 4", eb.Total())
	}
	if eb.LatestFiltered(0, AnyEvent) != nil {
		t.Error("LatestFiltered(0) should be nil")
	}
}

func TestEventBufferFilter(t *testing.T) {
	eb := NewEventBuffer(10)
	eb.Add(ev("no-route", "10.0.0.1", "172.16.0.1", 0))
	eb.Add(ev("bad-checksum", "10.0.0.2", "172.16.0.2", 1))
	eb.Add(ev("no-route", "10.0.0.3", "172.16.0.3", 1))
	eb.Add(ev("unsupported-protocol", "", "", 0))

	tests := []struct {
		name string
		f    EventFilter
		want int
	}{
		{"any", AnyEvent, 4},
		{"reason", EventFilter{Reason: "NO-ROUTE", Port: -1}, 2},
		{"port", EventFilter{Port: 1}, 2},
		{"reason+port", EventFilter{Reason: "no-route", Port: 1}, 1},
		{"addr", EventFilter{Addr: "172.16.0.2", Port: -1}, 1},
		{"addr no ip", EventFilter{Addr: "10.0.0", Port: -1}, 3},
	}
	for _, tt := range tests {
		if got := eb.LatestFiltered(100, tt.f); len(got) != tt.want {
			t.Errorf("%s: %d events, want %d", tt.name, len(got), tt.want)
		}
	}
}

func TestEventBufferSubscribe(t *testing.T) {
	eb := NewEventBuffer(4)
	sub := eb.Subscribe(1)
	eb.Add(ev("no-route", "", "", 0))
	eb.Add(ev("ttl-exceeded", "", "", 0)) // subscriber full: dropped, not blocked

	select {
	case got := <-sub.C:
		if got.Reason != "no-route" {
			t.Errorf("subscriber got %s", got.Reason)
		}
	default:
		t.Fatal("subscriber received nothing")
	}

	sub.Close()
	eb.Add(ev("neighbor-miss", "", "", 0))
	select {
	case got := <-sub.C:
		t.Errorf("closed subscription received %v", got)
	default:
	}
}

func TestDropEventString(t *testing.T) {
	got := ev("no-route", "10.0.0.1", "172.16.0.1", 2).String()
	want := "DROP reason=no-route port=2 src=10.0.0.1 dst=172.16.0.1 length=100"
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if s := ev("malformed", "", "", 0).String(); !strings.Contains(s, "src=- dst=-") {
		t.Errorf("String() without addresses = %q", s)
	}
}

func TestDropAggregator(t *testing.T) {
	agg := NewDropAggregator(time.Hour, 2)
	agg.Add(ev("no-route", "10.0.0.1", "172.16.0.1", 0))
	agg.Add(ev("no-route", "10.0.0.1", "172.16.0.2", 0))
	agg.Add(ev("no-route", "10.0.0.2", "172.16.0.2", 0))
	agg.Add(ev("no-route", "10.0.0.3", "172.16.0.3", 0))
	agg.Add(ev("malformed", "", "", 0))

	topSrc, topDst := agg.Flush()
	if len(topSrc) != 2 || topSrc[0].IP != "10.0.0.1" || topSrc[0].Drops != 2 || topSrc[0].Bytes != 200 {
		t.Errorf("topSrc = %+v", topSrc)
	}
	if len(topDst) != 2 || topDst[0].IP != "172.16.0.2" {
		t.Errorf("topDst = %+v", topDst)
	}

	topSrc, topDst = agg.Flush()
	if topSrc != nil || topDst != nil {
		t.Error("Flush should reset counters")
	}
}

type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func TestDropAggregatorRun(t *testing.T) {
	agg := NewDropAggregator(20*time.Millisecond, 10)
	var out lockedBuffer
	agg.SetLogger(slog.New(slog.NewTextHandler(&out, nil)))
	agg.Add(ev("no-route", "10.0.0.1", "172.16.0.1", 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		agg.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "top-source=10.0.0.1") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if !strings.Contains(out.String(), "top-destination=172.16.0.1") {
		t.Errorf("aggregate not logged, output: %q", out.String())
	}
}

func TestDropAggregatorDefaults(t *testing.T) {
	agg := NewDropAggregator(0, 0)
	if agg.flushInterval != 5*time.Minute {
		t.Errorf("expected default 5min interval, got %v", agg.flushInterval)
	}
	if agg.topN != 10 {
		t.Errorf("expected default topN=10, got %d", agg.topN)
	}
}

func TestDropLogWriter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "drops.log")
	lw, err := NewDropLogWriter(DropLogConfig{Path: path, MaxSize: 150, MaxFiles: 2})
	if err != nil {
		t.Fatalf("NewDropLogWriter: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := lw.Write(ev("no-route", "10.0.0.1", "172.16.0.1", i)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := lw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := lw.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := lw.Write(ev("no-route", "", "", 0)); err == nil {
		t.Error("Write after Close should fail")
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("expected rotated file: %v", err)
	}
	if _, err := os.Stat(path + ".3"); err == nil {
		t.Error("more rotated files kept than MaxFiles")
	}
	data, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "DROP reason=no-route") {
		t.Errorf("rotated file content = %q", data)
	}
}

func TestPcapRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drops.pcap")
	pw, err := NewPcapWriter(path)
	if err != nil {
		t.Fatalf("NewPcapWriter: %v", err)
	}
	frames := [][]byte{
		bytes.Repeat([]byte{0xaa}, 60),
		bytes.Repeat([]byte{0xbb}, 98),
	}
	for _, f := range frames {
		if err := pw.WriteFrame(time.Now(), f); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	if err := pw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := pw.WriteFrame(time.Now(), frames[0]); err == nil {
		t.Error("WriteFrame after Close should fail")
	}

	got, err := ReadPcap(path)
	if err != nil {
		t.Fatalf("ReadPcap: %v", err)
	}
	if len(got) != 2 || !bytes.Equal(got[1], frames[1]) {
		t.Errorf("ReadPcap returned %d frames", len(got))
	}
}
