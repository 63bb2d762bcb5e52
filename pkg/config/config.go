// Package config loads the ipfwd daemon configuration and the static
// routing and neighbor tables it forwards with.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Defaults.
const (
	DefaultConfigFile  = "/etc/ipfwd/ipfwd.yaml"
	DefaultNeighbors   = "arp_table.txt"
	DefaultAPIAddr     = "127.0.0.1:8080"
	DefaultGRPCAddr    = "127.0.0.1:50051"
	DefaultEventBuffer = 1000
)

// Config is the daemon configuration.
type Config struct {
	Interfaces   []InterfaceConfig `mapstructure:"interfaces"`
	Routes       string            `mapstructure:"routes"`
	Neighbors    string            `mapstructure:"neighbors"`
	APIAddr      string            `mapstructure:"api-addr"`       // empty disables HTTP
	APIKeys      []string          `mapstructure:"api-keys"`       // bearer / X-API-Key tokens
	APIUsers     map[string]string `mapstructure:"api-users"`      // basic auth user -> password
	APIOpenReads bool              `mapstructure:"api-open-reads"` // GETs need no credentials
	GRPCAddr     string            `mapstructure:"grpc-addr"`      // empty disables gRPC
	TraceFile    string            `mapstructure:"trace-file"`     // pcap of dropped frames
	DropLog      string            `mapstructure:"drop-log"`       // text log of drop events
	Syslog       SyslogConfig      `mapstructure:"syslog"`
	EventBuffer  int               `mapstructure:"event-buffer"`
	LogLevel     string            `mapstructure:"log-level"`
}

// SyslogConfig forwards daemon logs and drop events to a remote server.
type SyslogConfig struct {
	Host     string `mapstructure:"host"` // host[:port]; empty disables
	Severity string `mapstructure:"severity"`
	Drops    bool   `mapstructure:"drops"` // also send every drop event
}

// InterfaceConfig names one forwarding port. The port index used by the
// routing table is the position in Config.Interfaces. Address and MAC
// override what the kernel reports; both are required for offline use.
type InterfaceConfig struct {
	Name    string `mapstructure:"name"`
	Address string `mapstructure:"address"`
	MAC     string `mapstructure:"mac"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("neighbors", DefaultNeighbors)
	v.SetDefault("api-addr", DefaultAPIAddr)
	v.SetDefault("grpc-addr", DefaultGRPCAddr)
	v.SetDefault("event-buffer", DefaultEventBuffer)
	v.SetDefault("log-level", "info")
}

// Prepare registers defaults and IPFWD_* environment binding on v and,
// if file is non-empty, selects that config file. Flags bound to v
// before or after Prepare take precedence over both.
func Prepare(v *viper.Viper, file string) {
	SetDefaults(v)
	v.SetEnvPrefix("ipfwd")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
	}
}

// Load reads the config file (if one is set and exists) and decodes the
// result. A missing default file is not an error.
func Load(v *viper.Viper, required bool) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case required:
			return nil, fmt.Errorf("read config: %w", err)
		case errors.As(err, &notFound), errors.Is(err, fs.ErrNotExist):
			slog.Debug("no config file, using flags and defaults", "err", err)
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		interfaceFromString,
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// interfaceFromString lets interfaces be listed by bare name.
func interfaceFromString(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(InterfaceConfig{}) {
		return data, nil
	}
	return InterfaceConfig{Name: data.(string)}, nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if len(c.Interfaces) == 0 {
		return fmt.Errorf("no interfaces configured")
	}
	if c.Routes == "" {
		return fmt.Errorf("no routing table configured")
	}
	if c.Neighbors == "" {
		return fmt.Errorf("no neighbor table configured")
	}
	seen := make(map[string]bool)
	for i, ifc := range c.Interfaces {
		if ifc.Name == "" {
			return fmt.Errorf("interface %d: missing name", i)
		}
		if seen[ifc.Name] {
			return fmt.Errorf("interface %s listed twice", ifc.Name)
		}
		seen[ifc.Name] = true
		if _, err := ifc.ParseAddress(); err != nil {
			return fmt.Errorf("interface %s: %w", ifc.Name, err)
		}
		if _, err := ifc.ParseMAC(); err != nil {
			return fmt.Errorf("interface %s: %w", ifc.Name, err)
		}
	}
	switch c.Syslog.Severity {
	case "", "error", "warning", "notice", "info", "debug":
	default:
		return fmt.Errorf("syslog: unknown severity %q", c.Syslog.Severity)
	}
	if c.EventBuffer < 1 {
		c.EventBuffer = DefaultEventBuffer
	}
	return nil
}

// APIAuthEnabled reports whether the HTTP API requires credentials.
func (c *Config) APIAuthEnabled() bool {
	return len(c.APIKeys) > 0 || len(c.APIUsers) > 0
}

// InterfaceNames returns the configured interface names in port order.
func (c *Config) InterfaceNames() []string {
	names := make([]string, len(c.Interfaces))
	for i, ifc := range c.Interfaces {
		names[i] = ifc.Name
	}
	return names
}

// SlogLevel maps LogLevel to a slog.Level (default Info).
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// ParseAddress returns the configured IPv4 address, or nil if unset.
func (ic InterfaceConfig) ParseAddress() (net.IP, error) {
	if ic.Address == "" {
		return nil, nil
	}
	return parseIPv4(ic.Address)
}

// ParseMAC returns the configured MAC, or nil if unset.
func (ic InterfaceConfig) ParseMAC() (net.HardwareAddr, error) {
	if ic.MAC == "" {
		return nil, nil
	}
	mac, err := net.ParseMAC(ic.MAC)
	if err != nil || len(mac) != 6 {
		return nil, fmt.Errorf("invalid MAC %q", ic.MAC)
	}
	return mac, nil
}
