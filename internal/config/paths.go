package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	appName        = "cloudstack"
	configFileName = "config.toml"

	// Session store file names, one per durable store kind.
	sessionFileName = "session.json"
	sessionDBName   = "session.db"
)

// dirKind picks which per-user directory appDir resolves.
type dirKind int

const (
	configDirKind dirKind = iota // config.toml
	dataDirKind                  // the session file or database
)

// xdg maps each kind to its XDG variable and the fallback under $HOME.
var xdg = map[dirKind]struct {
	env      string
	fallback []string
}{
	configDirKind: {env: "XDG_CONFIG_HOME", fallback: []string{".config"}},
	dataDirKind:   {env: "XDG_DATA_HOME", fallback: []string{".local", "share"}},
}

// appDir returns the cloudstack directory of the given kind on goos. macOS
// keeps config and session side by side in Application Support. The XDG
// variables are honored on Linux only.
func appDir(goos, home string, kind dirKind) string {
	if goos == "darwin" {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	base := xdg[kind]
	if goos == "linux" {
		if dir := os.Getenv(base.env); dir != "" {
			return filepath.Join(dir, appName)
		}
	}

	return filepath.Join(append(append([]string{home}, base.fallback...), appName)...)
}

func userAppDir(kind dirKind) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return appDir(runtime.GOOS, home, kind)
}

// DefaultConfigDir holds config.toml. Empty when $HOME is unknown.
func DefaultConfigDir() string { return userAppDir(configDirKind) }

// DefaultDataDir holds the saved session. Empty when $HOME is unknown.
func DefaultDataDir() string { return userAppDir(dataDirKind) }

// DefaultConfigPath is used when neither CLOUDSTACK_CONFIG nor --config is
// given.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// DefaultSessionPath returns where the store kind keeps tokens when
// [session] path is unset: session.db for sqlite, session.json for the file
// store, and nothing for memory.
func DefaultSessionPath(store string) string {
	dir := DefaultDataDir()
	if dir == "" || store == "memory" {
		return ""
	}

	if store == "sqlite" {
		return filepath.Join(dir, sessionDBName)
	}

	return filepath.Join(dir, sessionFileName)
}
