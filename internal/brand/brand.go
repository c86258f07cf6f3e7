// Package brand holds the product identity used in logs, paths and the CLI.
package brand

import (
	"os"
	"path/filepath"
)

const (
	Name             = "flowmeta"
	Description      = "Flow correlation and static traffic classification"
	ConfigEnvPrefix  = "FLOWMETA"
	DefaultConfigDir = "/etc/flowmeta"
	DefaultStateDir  = "/var/lib/flowmeta"
	ConfigFileName   = "flowmeta.hcl"
	PolicyFileName   = "policy.yaml"
	ArchiveFileName  = "flows.db"
)

// Version is set at build time via -ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// UserAgent returns a User-Agent string for HTTP requests
func UserAgent() string {
	return Name + "/" + Version
}

// GetConfigDir returns the config directory, checking env vars first.
// Priority: FLOWMETA_CONFIG_DIR > FLOWMETA_PREFIX/config > DefaultConfigDir
func GetConfigDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_CONFIG_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "config")
	}
	return DefaultConfigDir
}

// GetStateDir returns the state directory, checking env vars first.
// Priority: FLOWMETA_STATE_DIR > FLOWMETA_PREFIX/state > DefaultStateDir
func GetStateDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_STATE_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "state")
	}
	return DefaultStateDir
}

// DefaultConfigPath is where the daemon looks for its config when -c is not given.
func DefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), ConfigFileName)
}
