// Package profile locates the per-profile state directory
// ~/.chatbridge/profiles/<name>/ and the files inside it.
package profile

import (
	"os"
	"path/filepath"
)

// EnvHome overrides the base directory.
const EnvHome = "CHATBRIDGE_HOME"

// BaseDir returns ~/.chatbridge, or $CHATBRIDGE_HOME when set.
func BaseDir() string {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatbridge")
}

// Dir returns the profile directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// SocketPath returns the daemon socket path for a profile.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DeviceDBPath returns the protocol device store.
func DeviceDBPath(name string) string {
	return filepath.Join(Dir(name), "device.db")
}

// CacheDBPath returns the local message cache.
func CacheDBPath(name string) string {
	return filepath.Join(Dir(name), "cache.db")
}

// TmpDir holds downloaded attachments and the QR image.
func TmpDir(name string) string {
	return filepath.Join(Dir(name), "tmp")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "bridged.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name), TmpDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
