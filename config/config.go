// Package config loads the process configuration: the options a
// kvswarm peer reads at startup, in YAML.
package config

import (
	"fmt"
	"io/ioutil"

	"gopkg.in/yaml.v2"
)

// JoinMode selects how a peer discovers the rest of the ring.
// Only one mode is currently defined; kvswarm's discovery package
// implements it.
type JoinMode string

// Stabilize is the only supported join_mode: the peer periodically
// stabilizes its discovery ring pointers rather than being handed a
// static peer list.
const Stabilize JoinMode = "stabilize"

// Config is the recognized set of startup options.
type Config struct {
	// JoinMode selects the discovery strategy. Must be "stabilize".
	JoinMode JoinMode `yaml:"join_mode"`
	// StabilizePeriodUs is the interval, in microseconds, between
	// discovery ring stabilization passes.
	StabilizePeriodUs uint64 `yaml:"stabilize_period_us"`
	// IpPort is this peer's own listen address, "host:port".
	IpPort string `yaml:"ip_port"`
	// CruLinked, when true, makes updates also write a back-pointer
	// from the previous revision to the new one.
	CruLinked bool `yaml:"cru_linked"`
}

// defaultStabilizePeriodUs means a peer that supplies no
// stabilize_period_us still stabilizes, just slowly.
const defaultStabilizePeriodUs = 500000

// Load reads and validates a YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)

	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	return Parse(data)
}

// Parse validates and returns the config encoded in data.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{StabilizePeriodUs: defaultStabilizePeriodUs}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that join_mode is stabilize plus the invariants
// needed for the peer to be addressable at all.
func (c *Config) Validate() error {
	if c.JoinMode == "" {
		c.JoinMode = Stabilize
	}

	if c.JoinMode != Stabilize {
		return fmt.Errorf("unsupported join_mode %q, only %q is implemented", c.JoinMode, Stabilize)
	}

	if c.IpPort == "" {
		return fmt.Errorf("ip_port is required")
	}

	if c.StabilizePeriodUs == 0 {
		return fmt.Errorf("stabilize_period_us must be positive")
	}

	return nil
}
