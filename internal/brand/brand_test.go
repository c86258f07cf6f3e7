package brand

import (
	"path/filepath"
	"testing"
)

func TestUserAgent(t *testing.T) {
	if got := UserAgent(); got != Name+"/"+Version {
		t.Errorf("UserAgent() = %q", got)
	}
}

func TestGetDirectories(t *testing.T) {
	t.Setenv(ConfigEnvPrefix+"_PREFIX", "")
	t.Setenv(ConfigEnvPrefix+"_CONFIG_DIR", "")
	t.Setenv(ConfigEnvPrefix+"_STATE_DIR", "")

	if got := GetConfigDir(); got != DefaultConfigDir {
		t.Errorf("GetConfigDir() = %q, want %q", got, DefaultConfigDir)
	}
	if got := GetStateDir(); got != DefaultStateDir {
		t.Errorf("GetStateDir() = %q, want %q", got, DefaultStateDir)
	}

	t.Setenv(ConfigEnvPrefix+"_PREFIX", "/opt/fm")
	if got := GetConfigDir(); got != filepath.Join("/opt/fm", "config") {
		t.Errorf("GetConfigDir() with prefix = %q", got)
	}
	if got := GetStateDir(); got != filepath.Join("/opt/fm", "state") {
		t.Errorf("GetStateDir() with prefix = %q", got)
	}

	t.Setenv(ConfigEnvPrefix+"_CONFIG_DIR", "/tmp/cfg")
	if got := GetConfigDir(); got != "/tmp/cfg" {
		t.Errorf("GetConfigDir() override = %q", got)
	}
	if got := DefaultConfigPath(); got != filepath.Join("/tmp/cfg", ConfigFileName) {
		t.Errorf("DefaultConfigPath() = %q", got)
	}
}
