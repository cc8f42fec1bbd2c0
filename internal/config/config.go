// Package config defines the node configuration structure.
package config

import (
	"net/netip"
	"time"

	log "github.com/sirupsen/logrus"
)

// Channel is a statically configured local registration.
type Channel struct {
	Interface uint32 `yaml:"interface"`
	Frequency uint32 `yaml:"frequency"`
	Bandwidth uint32 `yaml:"bandwidth"`
}

// Config represents the complete node configuration loaded from YAML.
type Config struct {
	Node struct {
		ID uint32 `yaml:"id"` // non-zero, unique on the control group
	} `yaml:"node"`
	Registry struct {
		ConsoleGroup string `yaml:"console_group,omitempty"` // ip:port of the control group
		AddressRange string `yaml:"address_range,omitempty"` // IPv4 multicast prefix for channel endpoints
		PortBase     uint16 `yaml:"port_base,omitempty"`
		MulticastTTL int    `yaml:"multicast_ttl,omitempty"`
		Interface    string `yaml:"interface,omitempty"` // NIC for multicast, empty for the system default
		PeerTTL      string `yaml:"peer_ttl,omitempty"`  // e.g. "5m"
		Autostart    bool   `yaml:"autostart"`           // start allocation without waiting for a start directive
		StartDelay   string `yaml:"start_delay,omitempty"`
	} `yaml:"registry"`
	Channels []Channel `yaml:"channels,omitempty"`
	Log      struct {
		Level string `yaml:"level,omitempty"` // panic | fatal | error | warn | info | debug | trace
	} `yaml:"log"`

	parsed parsed
}

// parsed holds the typed form of the string settings, filled in by Validate.
type parsed struct {
	consoleGroup netip.AddrPort
	addressRange netip.Prefix
	peerTTL      time.Duration
	startDelay   time.Duration
	level        log.Level
}

// Defaults.
const (
	DefaultConsoleGroup = "239.202.104.1:4701"
	DefaultAddressRange = "239.202.108.0/22"
	DefaultPortBase     = 11264
	DefaultMulticastTTL = 1
	DefaultPeerTTL      = "5m"
	DefaultLogLevel     = "info"
)

// ConsoleGroupAddr returns the validated control group address.
func (c *Config) ConsoleGroupAddr() netip.AddrPort { return c.parsed.consoleGroup }

// AddressPrefix returns the validated channel address pool.
func (c *Config) AddressPrefix() netip.Prefix { return c.parsed.addressRange }

// PeerTTLDuration returns the validated peer table expiry.
func (c *Config) PeerTTLDuration() time.Duration { return c.parsed.peerTTL }

// StartDelayDuration returns the validated autostart delay.
func (c *Config) StartDelayDuration() time.Duration { return c.parsed.startDelay }

// LogLevel returns the validated log level.
func (c *Config) LogLevel() log.Level { return c.parsed.level }
