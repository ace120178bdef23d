package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.Protocol.ConnectTimeout = Duration{45 * time.Second}
	cfg.Protocol.MentionsQuoted = true
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.Protocol.ConnectTimeout.Duration != 45*time.Second {
		t.Errorf("ConnectTimeout = %v", loaded.Protocol.ConnectTimeout)
	}
	if !loaded.Protocol.MentionsQuoted {
		t.Error("MentionsQuoted not persisted")
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "default_profile = \"home\"\n\n[protocol]\ntransfer_timeout = \"90s\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Protocol.TransferTimeout.Duration != 90*time.Second {
		t.Errorf("TransferTimeout = %v, want 90s", cfg.Protocol.TransferTimeout)
	}
	if cfg.Protocol.ConnectTimeout.Duration != 30*time.Second {
		t.Errorf("ConnectTimeout = %v, want default 30s", cfg.Protocol.ConnectTimeout)
	}
	if cfg.Protocol.DeviceName != "chatbridge" || cfg.Chats.RecentCapacity != 5 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[protocol]\nconnect_timeout = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid duration")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}

	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Protocol.ConnectTimeout.Duration != 30*time.Second {
		t.Errorf("LoadOrDefault() did not return defaults: %+v", cfg)
	}
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		file    bool
		want    bool
		wantErr bool
	}{
		{"unset keeps file value", nil, true, true, false},
		{"env enables", map[string]string{EnvQRTerminal: "1"}, false, true, false},
		{"env disables", map[string]string{EnvQRTerminal: "0"}, true, false, false},
		{"empty ignored", map[string]string{EnvQRTerminal: ""}, true, true, false},
		{"garbage", map[string]string{EnvQRTerminal: "maybe"}, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Protocol.UseQRTerminal = tt.file
			lookup := func(k string) (string, bool) {
				v, ok := tt.env[k]
				return v, ok
			}
			err := cfg.ApplyEnv(lookup)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplyEnv() error = %v, wantErr %v", err, tt.wantErr)
			}
			if cfg.Protocol.UseQRTerminal != tt.want {
				t.Errorf("UseQRTerminal = %v, want %v", cfg.Protocol.UseQRTerminal, tt.want)
			}
		})
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
