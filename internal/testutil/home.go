// Package testutil provides common test utilities.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SetupTestHome creates an isolated $HOME directory for tests.
// This is critical because:
// - PIDTracker reads/writes ~/.config/toolwire/pids.json
// - Config reads/writes ~/.config/toolwire/config.yaml
// - Orphan cleanup runs at CLI start and could kill real processes
//
// The temp directory is automatically cleaned up when the test ends.
func SetupTestHome(t *testing.T) string {
	t.Helper()

	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpHome, ".config"))
	// TMPDIR for macOS
	t.Setenv("TMPDIR", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "toolwire")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("create test config dir: %v", err)
	}

	return tmpHome
}

// WriteTestConfig writes a YAML configuration file to the isolated $HOME.
func WriteTestConfig(t *testing.T, configYAML string) string {
	t.Helper()
	return writeConfigFile(t, "config.yaml", configYAML)
}

// WriteTestConfigJSON writes a JSON configuration file to the isolated $HOME.
func WriteTestConfigJSON(t *testing.T, configJSON string) string {
	t.Helper()
	return writeConfigFile(t, "config.json", configJSON)
}

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()

	home := os.Getenv("HOME")
	if home == "" {
		t.Fatal("HOME not set - call SetupTestHome first")
	}

	configPath := filepath.Join(home, ".config", "toolwire", name)
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("write test config: %v", err)
	}

	return configPath
}
