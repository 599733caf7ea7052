// Package config provides configuration schema and persistence for toolwire.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/Bigsy/toolwire/internal/jsonx"
)

// SchemaVersion is the current config schema version.
const SchemaVersion = 1

// Default timeouts applied when neither the server nor the defaults block
// sets one.
const (
	DefaultInitTimeout   = 30 * time.Second
	DefaultCallTimeout   = 30 * time.Second
	DefaultShutdownGrace = 5 * time.Second
)

// Duration is a time.Duration written as a Go duration string ("30s").
// Bare numbers are read as seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func parseDuration(v any) (Duration, error) {
	switch v := v.(type) {
	case nil:
		return 0, nil
	case string:
		if v == "" {
			return 0, nil
		}
		if secs, err := cast.ToFloat64E(v); err == nil {
			return Duration(secs * float64(time.Second)), nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		return Duration(d), nil
	default:
		secs, err := cast.ToFloat64E(v)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %v", v)
		}
		return Duration(secs * float64(time.Second)), nil
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	parsed, err := parseDuration(v)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := jsonx.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := parseDuration(v)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return jsonx.Marshal(d.String())
}

// ServerConfig describes one tool provider. Either Command or Script is
// set; a script is run through the launcher for its extension.
type ServerConfig struct {
	Name        string            `yaml:"-" json:"-"` // backfilled from the map key
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Enabled     *bool             `yaml:"enabled,omitempty" json:"enabled,omitempty"` // nil treated as true
	Command     string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args        []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Script      string            `yaml:"script,omitempty" json:"script,omitempty"`
	Cwd         string            `yaml:"cwd,omitempty" json:"cwd,omitempty"`
	Env         map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	EnvFile     string            `yaml:"envFile,omitempty" json:"envFile,omitempty"`

	InitTimeout   Duration `yaml:"initTimeout,omitempty" json:"initTimeout,omitempty"`
	CallTimeout   Duration `yaml:"callTimeout,omitempty" json:"callTimeout,omitempty"`
	ShutdownGrace Duration `yaml:"shutdownGrace,omitempty" json:"shutdownGrace,omitempty"`
}

// Defaults apply to every server that does not override them.
type Defaults struct {
	InitTimeout   Duration `yaml:"initTimeout,omitempty" json:"initTimeout,omitempty"`
	CallTimeout   Duration `yaml:"callTimeout,omitempty" json:"callTimeout,omitempty"`
	ShutdownGrace Duration `yaml:"shutdownGrace,omitempty" json:"shutdownGrace,omitempty"`
}

// Config is the root configuration structure.
type Config struct {
	SchemaVersion int                     `yaml:"schemaVersion" json:"schemaVersion"`
	Servers       map[string]ServerConfig `yaml:"servers" json:"servers"`
	Launchers     map[string]string       `yaml:"launchers,omitempty" json:"launchers,omitempty"`
	Defaults      Defaults                `yaml:"defaults,omitempty" json:"defaults,omitempty"`

	// dir is the directory of the file the config was read from; relative
	// envFile and cwd entries resolve against it.
	dir string
}

// NewConfig creates a new empty configuration with default values.
func NewConfig() *Config {
	return &Config{
		SchemaVersion: SchemaVersion,
		Servers:       make(map[string]ServerConfig),
		Defaults: Defaults{
			InitTimeout:   Duration(DefaultInitTimeout),
			CallTimeout:   Duration(DefaultCallTimeout),
			ShutdownGrace: Duration(DefaultShutdownGrace),
		},
	}
}

// IsEnabled returns whether the server is enabled (nil defaults to true).
func (s ServerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// SetEnabled sets the enabled state.
func (s *ServerConfig) SetEnabled(enabled bool) {
	s.Enabled = &enabled
}

// Target returns the command line or script used to start the server.
func (s ServerConfig) Target() string {
	if s.Command == "" {
		return s.Script
	}
	return strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
}

// Validate checks a single server entry.
func (s ServerConfig) Validate() error {
	switch {
	case s.Command == "" && s.Script == "":
		return fmt.Errorf("server %q: command or script is required", s.Name)
	case s.Command != "" && s.Script != "":
		return fmt.Errorf("server %q: command and script are mutually exclusive", s.Name)
	}
	for _, d := range []Duration{s.InitTimeout, s.CallTimeout, s.ShutdownGrace} {
		if d < 0 {
			return fmt.Errorf("server %q: negative duration %s", s.Name, d)
		}
	}
	return nil
}

// ServerList returns the servers sorted by name for display.
func (c *Config) ServerList() []ServerConfig {
	servers := make([]ServerConfig, 0, len(c.Servers))
	for _, s := range c.Servers {
		servers = append(servers, s)
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })
	return servers
}

// GetServer returns a server by name, or nil if not found.
func (c *Config) GetServer(name string) *ServerConfig {
	if s, ok := c.Servers[name]; ok {
		return &s
	}
	return nil
}

// Timeouts returns the effective init, call and shutdown durations for srv.
func (c *Config) Timeouts(srv ServerConfig) (initTimeout, callTimeout, grace time.Duration) {
	pick := func(vals ...Duration) time.Duration {
		for _, v := range vals {
			if v > 0 {
				return v.Std()
			}
		}
		return 0
	}
	return pick(srv.InitTimeout, c.Defaults.InitTimeout, Duration(DefaultInitTimeout)),
		pick(srv.CallTimeout, c.Defaults.CallTimeout, Duration(DefaultCallTimeout)),
		pick(srv.ShutdownGrace, c.Defaults.ShutdownGrace, Duration(DefaultShutdownGrace))
}
