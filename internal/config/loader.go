// Package config provides configuration loading functionality.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Load reads the configuration at path, fills in defaults and validates it. A missing
// file is reported with an error wrapping fs.ErrNotExist so callers can fall back to Setup.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var config Config
	decoder := yaml.NewDecoder(f)
	decoder.SetStrict(true)
	if err := decoder.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.WithField("caller", "config").Debugf("Loaded configuration from %s", path)
	return &config, nil
}

// Default returns a configuration with every optional setting at its default.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	cfg.Registry.Autostart = true
	return cfg
}

// SetDefaults fills in unset optional settings.
func (c *Config) SetDefaults() {
	if c.Registry.ConsoleGroup == "" {
		c.Registry.ConsoleGroup = DefaultConsoleGroup
	}
	if c.Registry.AddressRange == "" {
		c.Registry.AddressRange = DefaultAddressRange
	}
	if c.Registry.PortBase == 0 {
		c.Registry.PortBase = DefaultPortBase
	}
	if c.Registry.MulticastTTL == 0 {
		c.Registry.MulticastTTL = DefaultMulticastTTL
	}
	if c.Registry.PeerTTL == "" {
		c.Registry.PeerTTL = DefaultPeerTTL
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// Validate checks every setting and records the parsed values.
func (c *Config) Validate() error {
	if c.Node.ID == 0 {
		return errors.New("node.id must be set and non-zero")
	}

	group, err := netip.ParseAddrPort(c.Registry.ConsoleGroup)
	if err != nil {
		return fmt.Errorf("registry.console_group: %w", err)
	}
	if !group.Addr().Is4() || !group.Addr().IsMulticast() || group.Port() == 0 {
		return fmt.Errorf("registry.console_group %s: not an IPv4 multicast address with port", group)
	}

	prefix, err := netip.ParsePrefix(c.Registry.AddressRange)
	if err != nil {
		return fmt.Errorf("registry.address_range: %w", err)
	}
	if !prefix.Addr().Is4() || !prefix.Addr().IsMulticast() {
		return fmt.Errorf("registry.address_range %s: not an IPv4 multicast prefix", prefix)
	}
	if prefix.Bits() > 31 {
		return fmt.Errorf("registry.address_range %s: needs at least one host bit", prefix)
	}
	size := 1 << (32 - prefix.Bits())
	if int(c.Registry.PortBase)+size-1 > 0xffff {
		return fmt.Errorf("registry.port_base %d: too few ports for %d addresses", c.Registry.PortBase, size)
	}

	if c.Registry.MulticastTTL < 1 || c.Registry.MulticastTTL > 255 {
		return fmt.Errorf("registry.multicast_ttl %d: must be between 1 and 255", c.Registry.MulticastTTL)
	}

	peerTTL, err := time.ParseDuration(c.Registry.PeerTTL)
	if err != nil {
		return fmt.Errorf("registry.peer_ttl: %w", err)
	}
	if peerTTL <= 0 {
		return fmt.Errorf("registry.peer_ttl %s: must be positive", peerTTL)
	}

	var startDelay time.Duration
	if c.Registry.StartDelay != "" {
		startDelay, err = time.ParseDuration(c.Registry.StartDelay)
		if err != nil {
			return fmt.Errorf("registry.start_delay: %w", err)
		}
		if startDelay < 0 {
			return fmt.Errorf("registry.start_delay %s: must not be negative", startDelay)
		}
	}

	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	seen := make(map[uint32]bool, len(c.Channels))
	for i, ch := range c.Channels {
		if seen[ch.Interface] {
			return fmt.Errorf("channels[%d]: interface %d listed twice", i, ch.Interface)
		}
		seen[ch.Interface] = true
	}

	c.parsed = parsed{
		consoleGroup: group,
		addressRange: prefix.Masked(),
		peerTTL:      peerTTL,
		startDelay:   startDelay,
		level:        level,
	}
	return nil
}

// WriteDefaultConfig writes a default configuration for node id to the given path.
func WriteDefaultConfig(path string, id uint32) error {
	cfg := Default()
	cfg.Node.ID = id
	return SaveConfig(cfg, path)
}
