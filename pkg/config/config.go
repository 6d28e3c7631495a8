package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danialdehvan/ReachCheck/pkg/classify"
)

// Fallback policies for unmatched paths
const (
	FallbackNotFound = "notfound"
	FallbackHome     = "home"
)

// DefaultPort is the port the phone is told to open
const DefaultPort = 8090

var (
	// ErrInvalidPort is returned for ports outside 1..65535
	ErrInvalidPort = errors.New("invalid port")

	// ErrInvalidRule is returned for rules with an empty prefix or label
	ErrInvalidRule = errors.New("invalid classification rule")
)

// Duration is a time.Duration that reads and writes as "5s" in JSON
type Duration time.Duration

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid duration %s", string(b))
	}
	*d = Duration(n)
	return nil
}

// Config holds the configuration for the ReachCheck server
type Config struct {
	// Listener
	Port     int    `json:"port"`
	Fallback string `json:"fallback"`

	// Classification
	Rules        []classify.Rule `json:"rules"`
	UnknownLabel string          `json:"unknown_label"`

	// Diagnostics
	FirewallRuleName string   `json:"firewall_rule_name"`
	StunServers      []string `json:"stun_servers"`
	GeoIPDir         string   `json:"geoip_dir,omitempty"`
	DNSServers       []string `json:"dns_servers,omitempty"`
	ProbeTimeout     Duration `json:"probe_timeout"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Port:             DefaultPort,
		Fallback:         FallbackNotFound,
		Rules:            classify.DefaultRules(),
		UnknownLabel:     classify.Unknown,
		FirewallRuleName: RuleNameFor(DefaultPort),
		StunServers: []string{
			"stun.l.google.com:19302",
			"stun1.l.google.com:19302",
			"stun2.l.google.com:19302",
		},
		ProbeTimeout: Duration(5 * time.Second),
	}
}

// RuleNameFor returns the firewall rule name used for port
func RuleNameFor(port int) string {
	return fmt.Sprintf("ReachCheck %d", port)
}

// LoadFromFile loads configuration from a JSON file. Fields missing from
// the file keep their default values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return config, nil
}

// LoadOrCreate loads path, writing the defaults there first if it does not exist
func LoadOrCreate(path string) (*Config, bool, error) {
	cfg, err := LoadFromFile(path)
	if err == nil {
		return cfg, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	cfg = DefaultConfig()
	if err := cfg.SaveToFile(path); err != nil {
		return nil, false, fmt.Errorf("failed to write default config: %w", err)
	}
	return cfg, true, nil
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Validate checks the fields the server cannot start without
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	for i, r := range c.Rules {
		if r.Prefix == "" || r.Label == "" {
			return fmt.Errorf("%w: rule %d (%q -> %q)", ErrInvalidRule, i, r.Prefix, r.Label)
		}
	}
	switch c.Fallback {
	case "", FallbackNotFound, FallbackHome:
	default:
		return fmt.Errorf("unknown fallback %q (want %q or %q)", c.Fallback, FallbackNotFound, FallbackHome)
	}
	return nil
}

// Classifier builds the classifier described by the rules
func (c *Config) Classifier() *classify.Classifier {
	rules := c.Rules
	if len(rules) == 0 {
		rules = classify.DefaultRules()
	}
	return classify.New(rules, c.UnknownLabel)
}

// Timeout returns the probe timeout, defaulting to five seconds
func (c *Config) Timeout() time.Duration {
	if c.ProbeTimeout <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ProbeTimeout)
}

// Dir returns the default configuration directory
func Dir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory
		return ".reachcheck"
	}
	return filepath.Join(homeDir, ".reachcheck")
}

// DefaultPath returns the default configuration file path
func DefaultPath() string {
	return filepath.Join(Dir(), "config.json")
}
