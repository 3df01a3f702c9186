package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/agilira/go-errors"
	"github.com/google/go-cmp/cmp"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Storage != StorageGlobal {
		t.Errorf("Storage: got %s, want %s", cfg.Storage, StorageGlobal)
	}
	if cfg.Network != NetworkEpoll {
		t.Errorf("Network: got %s, want %s", cfg.Network, NetworkEpoll)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port: got %d, want 8080", cfg.Port)
	}
	if cfg.Workers != runtime.NumCPU() {
		t.Errorf("Workers: got %d, want NumCPU", cfg.Workers)
	}
	if cfg.MaxSize != 1024 {
		t.Errorf("MaxSize: got %d, want 1024", cfg.MaxSize)
	}
	if cfg.ManagementPort != 0 {
		t.Errorf("ManagementPort: got %d, want 0 (disabled)", cfg.ManagementPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel: got %s", cfg.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

// The config file is HuJSON: comments and trailing commas are fine.
func TestLoadFileWithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lrucached.json")
	content := `{
		// production-ish settings
		"storage": "map_striped",
		"network": "blocking",
		"port": 11211,
		"maxSize": 4096, // entries, not bytes
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	want := defaults()
	want.Storage = "map_striped"
	want.Network = "blocking"
	want.Port = 11211
	want.MaxSize = 4096
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("loaded config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "absent.json"))
	if diff := cmp.Diff(defaults(), cfg); diff != "" {
		t.Errorf("missing file must keep defaults (-want +got):\n%s", diff)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lrucached.json")
	if err := os.WriteFile(path, []byte(`{"port": 1111, "storage": "map_rwlock"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LRUCACHED_PORT", "2222")
	t.Setenv("LRUCACHED_LOG_LEVEL", "debug")

	cfg := Load(path)
	if cfg.Port != 2222 {
		t.Errorf("env must win over file: port %d", cfg.Port)
	}
	if cfg.Storage != "map_rwlock" {
		t.Errorf("file value lost: storage %s", cfg.Storage)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("env not applied: logLevel %s", cfg.LogLevel)
	}
}

// ── Validation ──────────────────────────────────────────────────────────────

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		code   errors.ErrorCode
	}{
		{"storage", func(c *Config) { c.Storage = "map_lockfree" }, ErrCodeInvalidStorage},
		{"network", func(c *Config) { c.Network = "io_uring" }, ErrCodeInvalidNetwork},
		{"port-low", func(c *Config) { c.Port = 0 }, ErrCodeInvalidPort},
		{"port-high", func(c *Config) { c.Port = 70000 }, ErrCodeInvalidPort},
		{"workers", func(c *Config) { c.Workers = 0 }, ErrCodeInvalidWorkers},
		{"max-size", func(c *Config) { c.MaxSize = 0 }, ErrCodeInvalidMaxSize},
		{"fifo-read-only", func(c *Config) { c.ReadFifo = "/tmp/in" }, ErrCodeFifoPair},
		{"fifo-write-only", func(c *Config) { c.WriteFifo = "/tmp/out" }, ErrCodeFifoPair},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaults()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.HasCode(err, tc.code) {
				t.Errorf("expected code %s, got %v", tc.code, err)
			}
		})
	}
}

func TestValidateFifoPairAccepted(t *testing.T) {
	cfg := defaults()
	cfg.ReadFifo = "/tmp/in"
	cfg.WriteFifo = "/tmp/out"
	if err := cfg.Validate(); err != nil {
		t.Errorf("matched fifo pair must validate: %v", err)
	}
}
