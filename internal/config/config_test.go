package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"livecall/native/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PollInterval != 2500*time.Millisecond {
		t.Errorf("poll interval = %s", cfg.PollInterval)
	}
	if cfg.ICE().STUNURL != domain.DefaultSTUNURL {
		t.Errorf("stun = %q", cfg.ICE().STUNURL)
	}
	if !cfg.Notifications || cfg.ControlAddr != "127.0.0.1:8765" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	file := filepath.Join(dir, "livecall.yaml")
	yaml := "api_base_url: https://file.example.com\npoll_interval: 5s\nnotifications: false\n"
	if err := os.WriteFile(file, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LIVECALL_API_BASE_URL", "https://env.example.com")
	t.Setenv("LIVECALL_TURN_URL", "turn:turn.example.com:3478")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIBaseURL != "https://env.example.com" {
		t.Errorf("api base = %q", cfg.APIBaseURL)
	}
	if cfg.PollInterval != 5*time.Second || cfg.Notifications {
		t.Errorf("file values lost: %+v", cfg)
	}
	if len(cfg.ICE().Servers()) != 2 {
		t.Errorf("servers = %+v", cfg.ICE().Servers())
	}
}

func TestLoadExplicitFileMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error")
	}
}

func TestRequire(t *testing.T) {
	cfg := &Config{SignalingURL: "wss://sig.example.com"}
	if err := cfg.Require("signaling_url"); err != nil {
		t.Fatal(err)
	}
	err := cfg.Require("signaling_url", "api_token")
	if err == nil || !strings.Contains(err.Error(), "LIVECALL_API_TOKEN") {
		t.Errorf("err = %v", err)
	}
}

// chdir changes the working directory for the duration of the test,
// restoring it on cleanup (equivalent of testing.T.Chdir from Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
