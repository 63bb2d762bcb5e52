package logging

import (
	"fmt"
	"net"
	"os"
	"time"
)

// Syslog severity levels (RFC 3164).
const (
	SyslogError   = 3
	SyslogWarning = 4
	SyslogNotice  = 5
	SyslogInfo    = 6
	SyslogDebug   = 7
)

// Syslog facility: local0 (16).
const syslogFacility = 16

// SyslogClient sends UDP syslog messages (RFC 3164).
type SyslogClient struct {
	conn        net.Conn
	hostname    string
	MinSeverity int // 0 = no filter
}

// DialSyslog creates a UDP syslog client for addr ("host:port"; port
// defaults to 514).
func DialSyslog(addr string) (*SyslogClient, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "514")
	}
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial syslog %s: %w", addr, err)
	}
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "ipfwd"
	}
	return &SyslogClient{conn: conn, hostname: hostname}, nil
}

// Send sends msg if severity passes the client's filter.
func (s *SyslogClient) Send(severity int, msg string) error {
	if !s.ShouldSend(severity) {
		return nil
	}
	priority := syslogFacility*8 + severity
	ts := time.Now().Format(time.Stamp)
	line := fmt.Sprintf("<%d>%s %s ipfwd: %s", priority, ts, s.hostname, msg)
	_, err := s.conn.Write([]byte(line))
	return err
}

// SendDrop reports a drop event at notice severity.
func (s *SyslogClient) SendDrop(ev DropEvent) error {
	return s.Send(SyslogNotice, ev.String())
}

// ShouldSend reports whether severity passes the filter.
// Lower number = higher priority.
func (s *SyslogClient) ShouldSend(severity int) bool {
	return s.MinSeverity == 0 || severity <= s.MinSeverity
}

// ParseSeverity converts a severity name to its numeric value.
// Returns 0 (no filter) for unrecognized names.
func ParseSeverity(name string) int {
	switch name {
	case "error":
		return SyslogError
	case "warning":
		return SyslogWarning
	case "notice":
		return SyslogNotice
	case "info":
		return SyslogInfo
	case "debug":
		return SyslogDebug
	default:
		return 0
	}
}

// Close closes the underlying connection.
func (s *SyslogClient) Close() error {
	return s.conn.Close()
}
