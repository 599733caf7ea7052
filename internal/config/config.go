package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Bigsy/toolwire/internal/jsonx"
)

const (
	configDir  = ".config/toolwire"
	configFile = "config.yaml"
)

// ConfigDir returns the directory holding toolwire's state files.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, configDir), nil
}

// ConfigPath returns the full path to the config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// ExpandPath expands a leading ~/ to the home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}

// Load reads the configuration from the default path.
// Returns a new empty config if the file doesn't exist.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the configuration from a specific path. Files ending in
// .json are read as JSON, everything else as YAML. Returns a new empty
// config if the file doesn't exist.
func LoadFrom(path string) (*Config, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}

	cfg := NewConfig()
	cfg.dir = filepath.Dir(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if isJSON(path) {
		err = jsonx.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	// Initialize maps if nil (for sparse configs)
	if cfg.Servers == nil {
		cfg.Servers = make(map[string]ServerConfig)
	}

	// Backfill ServerConfig.Name from map keys
	var errs []error
	for name, srv := range cfg.Servers {
		srv.Name = name
		cfg.Servers[name] = srv
		if err := srv.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveTo writes the configuration to a specific path atomically.
// Uses a temp file + rename pattern for atomic writes.
func SaveTo(cfg *Config, path string) error {
	path, err := ExpandPath(path)
	if err != nil {
		return err
	}

	// Ensure config directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var data []byte
	if isJSON(path) {
		data, err = jsonx.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// Write to temp file first
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpFile, path); err != nil {
		_ = os.Remove(tmpFile) // Clean up temp file on failure
		return fmt.Errorf("rename config: %w", err)
	}

	cfg.dir = dir
	return nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// AddServer adds a new server to the config.
// Returns an error if a server with the same name already exists.
func (c *Config) AddServer(srv ServerConfig) error {
	if srv.Name == "" {
		return errors.New("server name is required")
	}
	if _, exists := c.Servers[srv.Name]; exists {
		return fmt.Errorf("server with name %q already exists", srv.Name)
	}
	if err := srv.Validate(); err != nil {
		return err
	}
	c.Servers[srv.Name] = srv
	return nil
}

// DeleteServer removes a server by name.
// Returns an error if no server with that name exists.
func (c *Config) DeleteServer(name string) error {
	if _, exists := c.Servers[name]; !exists {
		return fmt.Errorf("server %q not found", name)
	}
	delete(c.Servers, name)
	return nil
}

// Resolve makes a path from the config file relative to its directory.
func (c *Config) Resolve(path string) string {
	if path == "" {
		return ""
	}
	if expanded, err := ExpandPath(path); err == nil {
		path = expanded
	}
	if filepath.IsAbs(path) || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}

// Environment returns the extra environment for srv: the variables from
// its envFile, overridden by its explicit env map.
func (c *Config) Environment(srv ServerConfig) (map[string]string, error) {
	env := map[string]string{}
	if srv.EnvFile != "" {
		fromFile, err := godotenv.Read(c.Resolve(srv.EnvFile))
		if err != nil {
			return nil, fmt.Errorf("server %q: read env file: %w", srv.Name, err)
		}
		maps.Copy(env, fromFile)
	}
	maps.Copy(env, srv.Env)
	return env, nil
}
