package livra

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantField string
	}{
		{
			name: "valid offline",
			cfg:  Config{LocalPath: "/tmp/livra.db"},
		},
		{
			name: "valid online",
			cfg: Config{
				LocalPath:  "/tmp/livra.db",
				BackendURL: "https://api.example.com",
				APIKey:     "key",
				UserID:     "u1",
			},
		},
		{
			name:      "missing local path",
			cfg:       Config{},
			wantField: "LocalPath",
		},
		{
			name: "backend without api key",
			cfg: Config{
				LocalPath:  "/tmp/livra.db",
				BackendURL: "https://api.example.com",
				UserID:     "u1",
			},
			wantField: "APIKey",
		},
		{
			name: "backend without user",
			cfg: Config{
				LocalPath:  "/tmp/livra.db",
				BackendURL: "https://api.example.com",
				APIKey:     "key",
			},
			wantField: "UserID",
		},
		{
			name: "bad scheme",
			cfg: Config{
				LocalPath:  "/tmp/livra.db",
				BackendURL: "ftp://api.example.com",
				APIKey:     "key",
				UserID:     "u1",
			},
			wantField: "BackendURL",
		},
		{
			name: "negative interval",
			cfg: Config{
				LocalPath:    "/tmp/livra.db",
				SyncInterval: -time.Second,
			},
			wantField: "SyncInterval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() = %v, want *ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("field = %q, want %q", verr.Field, tt.wantField)
			}
		})
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	if cfg.LocalPath == "" {
		t.Error("LocalPath not defaulted")
	}
	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("SyncInterval = %v, want 5m", cfg.SyncInterval)
	}

	custom := Config{LocalPath: "/custom.db", SyncInterval: time.Minute}.WithDefaults()
	if custom.LocalPath != "/custom.db" || custom.SyncInterval != time.Minute {
		t.Errorf("WithDefaults overwrote explicit values: %+v", custom)
	}
}

func TestConfig_IsOffline(t *testing.T) {
	if !(&Config{}).IsOffline() {
		t.Error("empty BackendURL should be offline")
	}
	if (&Config{BackendURL: "https://api.example.com"}).IsOffline() {
		t.Error("set BackendURL should be online")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livra.yaml")
	data := `
local_path: /data/livra.db
backend_url: https://api.example.com
api_key: secret
user_id: u1
sync_interval: 2m
auto_sync: true
realtime: false
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	if cfg.LocalPath != "/data/livra.db" {
		t.Errorf("LocalPath = %q", cfg.LocalPath)
	}
	if cfg.BackendURL != "https://api.example.com" || cfg.APIKey != "secret" || cfg.UserID != "u1" {
		t.Errorf("backend fields wrong: %+v", cfg)
	}
	if cfg.SyncInterval != 2*time.Minute {
		t.Errorf("SyncInterval = %v, want 2m", cfg.SyncInterval)
	}
	if cfg.Realtime {
		t.Error("Realtime = true, want false from file")
	}
}

func TestLoadConfigFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livra.yaml")
	if err := os.WriteFile(path, []byte("local_path: [unclosed"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfigFile(path); err == nil {
		t.Error("malformed YAML accepted")
	}
}
