// Package paths resolves the configuration, data, and schema directories.
// Each resolves flag first, then config.yaml where applicable, then an
// environment variable, then a default.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// appName names the per-user platform directories.
const appName = "c2store"

// CWD-relative default directory names.
const (
	DefaultDataDirName   = ".c2store-db"
	DefaultSchemaDirName = "schemas"
)

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "C2STORE_CONFIG_DIR"
	EnvDataDir   = "C2STORE_DATA_DIR"
	EnvSchemaDir = "C2STORE_SCHEMA_DIR"
)

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// DefaultConfigDir returns the platform-specific default configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/c2store (fallback ~/.config/c2store)
// macOS:   ~/Library/Application Support/c2store
// Windows: %APPDATA%/c2store
func DefaultConfigDir() (string, error) {
	return platformPath("XDG_CONFIG_HOME", ".config")
}

// DefaultUserDataDir returns the platform-specific per-user data directory.
// ResolveDataDir does not fall back to it; it is offered to callers that
// want a data directory independent of the working directory.
//
// Linux:   $XDG_DATA_HOME/c2store (fallback ~/.local/share/c2store)
// macOS:   ~/Library/Application Support/c2store
// Windows: %APPDATA%/c2store
func DefaultUserDataDir() (string, error) {
	return platformPath("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func platformPath(xdgVar, homeFallback string) (string, error) {
	if runtime.GOOS == "linux" {
		if xdg := os.Getenv(xdgVar); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		home, err := platformDir.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, homeFallback, appName), nil
	}
	// os.UserConfigDir is ~/Library/Application Support on macOS and
	// %APPDATA% on Windows.
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName), nil
}

// ResolveConfigDir returns the configuration directory:
// flag > C2STORE_CONFIG_DIR > DefaultConfigDir().
func ResolveConfigDir(flag string) (string, error) {
	if dir, ok, err := firstAbs(flag, os.Getenv(EnvConfigDir)); ok || err != nil {
		return dir, err
	}
	return DefaultConfigDir()
}

// ResolveDataDir returns the data directory:
// flag > config.yaml data_dir > C2STORE_DATA_DIR > $(CWD)/.c2store-db.
func ResolveDataDir(flag, configValue string) (string, error) {
	return resolveCWDRelative(DefaultDataDirName, flag, configValue, os.Getenv(EnvDataDir))
}

// ResolveSchemaDir returns the schema directory:
// flag > config.yaml schema_dir > C2STORE_SCHEMA_DIR > $(CWD)/schemas.
func ResolveSchemaDir(flag, configValue string) (string, error) {
	return resolveCWDRelative(DefaultSchemaDirName, flag, configValue, os.Getenv(EnvSchemaDir))
}

func resolveCWDRelative(defaultName string, candidates ...string) (string, error) {
	if dir, ok, err := firstAbs(candidates...); ok || err != nil {
		return dir, err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, defaultName), nil
}

// firstAbs returns the first non-empty candidate made absolute.
func firstAbs(candidates ...string) (string, bool, error) {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		abs, err := filepath.Abs(c)
		return abs, true, err
	}
	return "", false, nil
}
