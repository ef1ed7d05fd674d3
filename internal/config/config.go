// Package config defines the configuration struct consumed by every
// other component, decoded from yaml-tagged structs.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/inetrg/spoki/internal/ipaddr"
)

// CacheDefaults holds the probe
// scheduler's recent-probe dedup cache timings and per-protocol probe
// counts.
type CacheDefaults struct {
	CleanupInterval time.Duration `yaml:"cleanup-interval"`
	EntryTimeout    time.Duration `yaml:"entry-timeout"`
	ICMPProbes      int           `yaml:"icmp-probes"`
	UDPProbes       int           `yaml:"udp-probes"`
	TCPSynProbes    int           `yaml:"tcp-syn-probes"`
	TCPRstProbes    int           `yaml:"tcp-rst-probes"`
	ReplyTimeout    time.Duration `yaml:"reply-timeout"`
	ResetDelay      time.Duration `yaml:"reset-delay"`
	EphemeralLow    uint16        `yaml:"ephemeral-port-low"`
	EphemeralHigh   uint16        `yaml:"ephemeral-port-high"`
}

// DefaultCacheDefaults returns the stock probing cache constants.
func DefaultCacheDefaults() CacheDefaults {
	return CacheDefaults{
		CleanupInterval: 5 * time.Minute,
		EntryTimeout:    60 * time.Minute,
		ICMPProbes:      5,
		UDPProbes:       5,
		TCPSynProbes:    1,
		TCPRstProbes:    2,
		ReplyTimeout:    20 * time.Second,
		ResetDelay:      5 * time.Second,
		EphemeralLow:    49152,
		EphemeralHigh:   65535,
	}
}

// Collectors names the output directory for rotated CSVs.
type Collectors struct {
	OutDir string `yaml:"out-dir"`
}

// Config is the top-level configuration.
type Config struct {
	Network        string        `yaml:"network"`
	EnableFilters  bool          `yaml:"enable-filters"`
	Collectors     Collectors    `yaml:"collectors"`
	Cache          CacheDefaults `yaml:"cache"`
	NumShards      int           `yaml:"num-shards"`
	BatchSize      int           `yaml:"batch-size"`
	ProbeDaemons   []string      `yaml:"probe-daemons"`
	RawSourcePorts []int         `yaml:"raw-source-ports"`
}

// Default returns a Config with the cache defaults populated and
// conservative values for the remaining fields; callers overlay a
// decoded file on top of this.
func Default() Config {
	return Config{
		Cache:     DefaultCacheDefaults(),
		NumShards: 4,
		BatchSize: 1,
	}
}

// Load decodes a YAML configuration document, starting from Default()
// so unset fields keep their defaults.
func Load(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// Subnet parses the configured network CIDR.
func (c Config) Subnet() (ipaddr.Subnet, error) {
	subnet, err := ipaddr.ParseCIDR(c.Network)
	if err != nil {
		return ipaddr.Subnet{}, fmt.Errorf("config: invalid network %q: %w", c.Network, err)
	}
	return subnet, nil
}

// Validate reports fatal configuration errors: a bad subnet or a
// missing output directory.
func (c Config) Validate() error {
	if _, err := c.Subnet(); err != nil {
		return err
	}
	if c.Collectors.OutDir == "" {
		return fmt.Errorf("config: collectors.out-dir must be set")
	}
	if c.NumShards <= 0 {
		return fmt.Errorf("config: num-shards must be positive")
	}
	return nil
}
