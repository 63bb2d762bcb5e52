package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
)

// snapLen is the pcap snapshot length; frames are never truncated.
const snapLen = 65535

// PcapWriter records raw Ethernet frames to a pcap file.
type PcapWriter struct {
	mu sync.Mutex
	f  *os.File
	w  *pcapgo.Writer
}

// NewPcapWriter creates (truncating) path and writes the pcap header.
func NewPcapWriter(path string) (*PcapWriter, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("create pcap %s: %w", path, err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &PcapWriter{f: f, w: w}, nil
}

// WriteFrame appends frame with timestamp ts.
func (p *PcapWriter) WriteFrame(ts time.Time, frame []byte) error {
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		Length:        len(frame),
		CaptureLength: len(frame),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.f == nil {
		return fmt.Errorf("pcap writer closed")
	}
	return p.w.WritePacket(ci, frame)
}

// Close closes the file.
func (p *PcapWriter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.f == nil {
		return nil
	}
	err := p.f.Close()
	p.f = nil
	return err
}

// ReadPcap returns every frame in an Ethernet pcap file.
func ReadPcap(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read pcap header: %w", err)
	}
	if r.LinkType() != layers.LinkTypeEthernet {
		return nil, fmt.Errorf("pcap link type %s, want Ethernet", r.LinkType())
	}
	var frames [][]byte
	for {
		data, _, err := r.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read pcap: %w", err)
		}
		frames = append(frames, data)
	}
	return frames, nil
}
