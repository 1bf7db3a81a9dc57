package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.chatlink, or $CHATLINK_HOME when set.
func BaseDir() string {
	if dir := os.Getenv("CHATLINK_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatlink")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// EnsureDir creates the session directory with owner-only permissions.
func EnsureDir(name string) error {
	return os.MkdirAll(Dir(name), 0700)
}

// SocketPath returns the UDS socket path for a session.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// CachePath returns the session's SQLite cache path.
func CachePath(name string) string {
	return filepath.Join(Dir(name), "chatlink.db")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(Dir(name), "logs", "chatlinkd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}
