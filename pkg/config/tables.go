package config

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"go4.org/netipx"

	"github.com/psaab/ipfwd/pkg/fib"
	"github.com/psaab/ipfwd/pkg/neighbor"
)

// LoadRoutesFile reads a static routing table from path.
func LoadRoutesFile(path string) ([]fib.Route, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open routes: %w", err)
	}
	defer f.Close()
	routes, err := LoadRoutes(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return routes, nil
}

// LoadRoutes parses a routing table, one route per line:
//
//	<prefix> <mask> <next-hop> <interface>
//
// e.g. "10.1.0.0 255.255.0.0 192.168.1.2 1". Blank lines and lines
// starting with '#' are ignored. The mask must be contiguous. Prefix bits
// outside the mask are cleared.
func LoadRoutes(r io.Reader) ([]fib.Route, error) {
	var routes []fib.Route
	err := eachLine(r, func(lineNo int, fields []string) error {
		if len(fields) != 4 {
			return fmt.Errorf("line %d: want 4 fields (prefix mask next-hop interface), got %d", lineNo, len(fields))
		}
		prefix, err := parseIPv4(fields[0])
		if err != nil {
			return fmt.Errorf("line %d: prefix: %w", lineNo, err)
		}
		maskIP, err := parseIPv4(fields[1])
		if err != nil {
			return fmt.Errorf("line %d: mask: %w", lineNo, err)
		}
		pfx, ok := netipx.FromStdIPNet(&net.IPNet{IP: prefix, Mask: net.IPMask(maskIP)})
		if !ok {
			return fmt.Errorf("line %d: mask %s is not contiguous", lineNo, fields[1])
		}
		nh, err := parseIPv4(fields[2])
		if err != nil {
			return fmt.Errorf("line %d: next-hop: %w", lineNo, err)
		}
		port, err := strconv.Atoi(fields[3])
		if err != nil || port < 0 {
			return fmt.Errorf("line %d: invalid interface %q", lineNo, fields[3])
		}

		pfx = pfx.Masked()
		a4 := pfx.Addr().As4()
		routes = append(routes, fib.Route{
			Prefix:    binary.BigEndian.Uint32(a4[:]),
			Mask:      binary.BigEndian.Uint32(maskIP),
			NextHop:   binary.BigEndian.Uint32(nh),
			Interface: port,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return routes, nil
}

// LoadNeighborsFile reads a static neighbor table from path.
func LoadNeighborsFile(path string) ([]neighbor.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open neighbors: %w", err)
	}
	defer f.Close()
	entries, err := LoadNeighbors(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// LoadNeighbors parses a neighbor table, one "<ip> <mac>" pair per line.
// An IP may appear only once.
func LoadNeighbors(r io.Reader) ([]neighbor.Entry, error) {
	var entries []neighbor.Entry
	seen := make(map[uint32]int)
	err := eachLine(r, func(lineNo int, fields []string) error {
		if len(fields) != 2 {
			return fmt.Errorf("line %d: want 2 fields (ip mac), got %d", lineNo, len(fields))
		}
		ip, err := parseIPv4(fields[0])
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		mac, err := net.ParseMAC(fields[1])
		if err != nil || len(mac) != 6 {
			return fmt.Errorf("line %d: invalid MAC %q", lineNo, fields[1])
		}
		key := binary.BigEndian.Uint32(ip)
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("line %d: duplicate neighbor %s (first on line %d)", lineNo, fields[0], prev)
		}
		seen[key] = lineNo
		entries = append(entries, neighbor.Entry{IP: key, HardwareAddr: mac})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// CheckRoutes verifies every route egresses through one of nPorts ports.
func CheckRoutes(routes []fib.Route, nPorts int) error {
	for _, r := range routes {
		if r.Interface >= nPorts {
			return fmt.Errorf("route %s: interface %d not configured (%d interfaces)", r.Destination(), r.Interface, nPorts)
		}
	}
	return nil
}

func eachLine(r io.Reader, fn func(lineNo int, fields []string) error) error {
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := fn(lineNo, strings.Fields(line)); err != nil {
			return err
		}
	}
	return sc.Err()
}

func parseIPv4(s string) (net.IP, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("invalid address %q", s)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("not an IPv4 address: %s", s)
	}
	return ip4, nil
}
