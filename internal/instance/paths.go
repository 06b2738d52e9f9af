package instance

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.focos.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".focos")
}

// Dir returns the instance-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "instances", name)
}

// Layout resolves every path owned by one running instance.
type Layout struct {
	Root string
}

// NewLayout returns the layout for an instance. A non-empty dataDir
// replaces the default ~/.focos/instances/<name> root.
func NewLayout(name, dataDir string) Layout {
	if dataDir != "" {
		return Layout{Root: dataDir}
	}
	return Layout{Root: Dir(name)}
}

// SocketPath returns the UDS path of the operator gRPC socket.
func (l Layout) SocketPath() string {
	return filepath.Join(l.Root, "focosd.sock")
}

// DBPath returns the SQLite database path.
func (l Layout) DBPath() string {
	return filepath.Join(l.Root, "focos.db")
}

// MediaDir returns the root directory of stored attachments.
func (l Layout) MediaDir() string {
	return filepath.Join(l.Root, "media")
}

// LogDir returns the log directory.
func (l Layout) LogDir() string {
	return filepath.Join(l.Root, "logs")
}

// LogPath returns the daemon log file path.
func (l Layout) LogPath() string {
	return filepath.Join(l.LogDir(), "focosd.log")
}

// ConfigPath returns the global config file path, honouring FOCOS_CONFIG.
func ConfigPath() string {
	if p := os.Getenv("FOCOS_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDirs creates the instance directory tree with proper permissions.
func (l Layout) EnsureDirs() error {
	dirs := []string{
		l.Root,
		l.LogDir(),
		l.MediaDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
