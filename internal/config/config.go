// Package config reads and writes the global ~/.chatbridge/config.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvQRTerminal overrides protocol.use_qr_terminal when set.
const EnvQRTerminal = "USE_QR_TERMINAL"

// Config represents the global config file.
type Config struct {
	DefaultProfile string            `toml:"default_profile"`
	Log            LogConfig         `toml:"log"`
	Protocol       ProtocolConfig    `toml:"protocol"`
	Chats          ChatsConfig       `toml:"chats"`
	Attachments    AttachmentsConfig `toml:"attachments"`
}

type LogConfig struct {
	// Level is a zap level name: debug, info, warn or error.
	Level string `toml:"level"`
}

type ProtocolConfig struct {
	// MentionsQuoted renders mentions of names with spaces as @[first last].
	MentionsQuoted   bool     `toml:"mentions_quoted"`
	UseQRTerminal    bool     `toml:"use_qr_terminal"`
	DeviceName       string   `toml:"device_name"`
	ConnectTimeout   Duration `toml:"connect_timeout"`
	TransferTimeout  Duration `toml:"transfer_timeout"`
	ProvisionTimeout Duration `toml:"provision_timeout"`
}

type ChatsConfig struct {
	RecentCapacity int `toml:"recent_capacity"`
}

type AttachmentsConfig struct {
	// Dir defaults to the profile tmp directory when empty.
	Dir string `toml:"dir"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Protocol: ProtocolConfig{
			DeviceName:       "chatbridge",
			ConnectTimeout:   Duration{30 * time.Second},
			TransferTimeout:  Duration{3 * time.Minute},
			ProvisionTimeout: Duration{5 * time.Minute},
		},
		Chats: ChatsConfig{RecentCapacity: 5},
	}
}

// Load reads config from the given path on top of the defaults. Returns an
// error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// ApplyEnv applies environment overrides using lookup, usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvQRTerminal); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvQRTerminal, err)
		}
		c.Protocol.UseQRTerminal = b
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
