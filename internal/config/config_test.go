package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestValidateDefaultConfig(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration should be valid: %v", err)
	}
}

func TestDefaultCacheTunables(t *testing.T) {
	c := Default().Cache
	if c.SoftLimit != 20000 || c.HardLimit != 25000 {
		t.Fatalf("limits = %d/%d, want 20000/25000", c.SoftLimit, c.HardLimit)
	}
	if c.TrimTargetRatio != 0.9 || c.EmergencyTargetRatio != 0.8 {
		t.Fatalf("ratios = %v/%v, want 0.9/0.8", c.TrimTargetRatio, c.EmergencyTargetRatio)
	}
	if c.Cooldown.Duration() != 3*time.Second || c.TrimInterval.Duration() != 5*time.Second || c.MinChunkAge.Duration() != 2*time.Second {
		t.Fatalf("unexpected durations: %+v", c)
	}
	if c.ProtectionRadius != 3 || c.MaxEvictionsPerRun != 100 {
		t.Fatalf("radius=%d maxEvictions=%d, want 3/100", c.ProtectionRadius, c.MaxEvictionsPerRun)
	}
}

func TestValidateDetectsInvalidConfigurations(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing server id",
			mutate:  func(cfg *Config) { cfg.Server.ID = "" },
			wantErr: "server.id must be set",
		},
		{
			name:    "non power of two chunk size",
			mutate:  func(cfg *Config) { cfg.World.ChunkSize = 24 },
			wantErr: "world.chunkSize must be a positive power of two",
		},
		{
			name:    "too many levels",
			mutate:  func(cfg *Config) { cfg.World.MaxLevels = 11 },
			wantErr: "world.maxLevels must be between 1 and 10",
		},
		{
			name:    "levels below chunk depth",
			mutate:  func(cfg *Config) { cfg.World.MaxLevels = 4 },
			wantErr: "world.maxLevels too small for world.chunkSize",
		},
		{
			name:    "hard limit below soft limit",
			mutate:  func(cfg *Config) { cfg.Cache.HardLimit = 100 },
			wantErr: "cache.hardLimit must be >= softLimit",
		},
		{
			name:    "emergency ratio above trim ratio",
			mutate:  func(cfg *Config) { cfg.Cache.EmergencyTargetRatio = 0.95 },
			wantErr: "cache.emergencyTargetRatio must be in (0,trimTargetRatio]",
		},
		{
			name:    "zero eviction budget",
			mutate:  func(cfg *Config) { cfg.Cache.MaxEvictionsPerRun = 0 },
			wantErr: "cache.maxEvictionsPerRun must be positive",
		},
		{
			name:    "negative cooldown",
			mutate:  func(cfg *Config) { cfg.Cache.Cooldown = Duration(-time.Second) },
			wantErr: "cache durations cannot be negative",
		},
		{
			name:    "zero render distance",
			mutate:  func(cfg *Config) { cfg.Traversal.MaxRenderDistance = 0 },
			wantErr: "traversal.maxRenderDistance must be positive",
		},
		{
			name:    "negative workers",
			mutate:  func(cfg *Config) { cfg.Render.Workers = -1 },
			wantErr: "render workers cannot be negative",
		},
		{
			name: "storage without path",
			mutate: func(cfg *Config) {
				cfg.Storage.Enabled = true
				cfg.Storage.Path = ""
			},
			wantErr: "storage.path must be set when storage is enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected an error, got nil")
			}
			if err.Error() != tt.wantErr {
				t.Fatalf("unexpected error: got %q want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load default config: %v", err)
	}
	if want := Default(); !reflect.DeepEqual(cfg, want) {
		t.Fatalf("default configuration mismatch:\nwant: %#v\n got: %#v", want, cfg)
	}
}

func TestLoadReadsJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.Server.Description = "custom description"
	cfg.Cache.SoftLimit = 500
	cfg.Cache.HardLimit = 800
	cfg.Cache.Cooldown = Duration(1500 * time.Millisecond)

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Fatalf("loaded configuration mismatch:\nwant: %#v\n got: %#v", cfg, got)
	}
}

func TestLoadReadsPartialYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.yaml")
	doc := `
server:
  id: yaml-session
cache:
  soft_limit: 1000
  hard_limit: 1200
  cooldown: 750ms
  trim_interval: 2s
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got.Server.ID != "yaml-session" {
		t.Fatalf("server id = %q", got.Server.ID)
	}
	if got.Cache.SoftLimit != 1000 || got.Cache.HardLimit != 1200 {
		t.Fatalf("limits = %d/%d", got.Cache.SoftLimit, got.Cache.HardLimit)
	}
	if got.Cache.Cooldown.Duration() != 750*time.Millisecond || got.Cache.TrimInterval.Duration() != 2*time.Second {
		t.Fatalf("durations = %v/%v", got.Cache.Cooldown.Duration(), got.Cache.TrimInterval.Duration())
	}
	if got.World.ChunkSize != Default().World.ChunkSize {
		t.Fatalf("unset fields should keep defaults, chunk size = %d", got.World.ChunkSize)
	}
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "voxeltrace.yml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load written default: %v", err)
	}
	if want := Default(); !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\nwant: %#v\n got: %#v", want, got)
	}
}

func TestLoadInvalidConfiguration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.World.ChunkSize = 0

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err = Load(path)
	if err == nil {
		t.Fatalf("expected load to fail")
	}
	if !strings.Contains(err.Error(), "validate config: world.chunkSize must be a positive power of two") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDurationAcceptsNumbersAndStrings(t *testing.T) {
	var out struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
		C Duration `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":"2s","b":1000000,"c":null}`), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.A.Duration() != 2*time.Second || out.B.Duration() != time.Millisecond || out.C != 0 {
		t.Fatalf("unexpected durations %+v", out)
	}
	if err := json.Unmarshal([]byte(`{"a":"soon"}`), &out); err == nil {
		t.Fatalf("expected parse error for invalid duration")
	}
}
