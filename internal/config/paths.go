package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// envHome overrides every directory lookup when set, which keeps tests and
// portable installs self-contained.
const envHome = "GEMX_HOME"

// ConfigDir returns (and creates) the directory holding settings.json.
func ConfigDir() (string, error) {
	if base := os.Getenv(envHome); base != "" {
		return ensureDir(filepath.Join(base, "config"))
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return ensureDir(filepath.Join(xdg, "gemx"))
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return ensureDir(filepath.Join(home, ".config", "gemx"))
}

// StateDir returns (and creates) the directory holding mutable state such as
// the persisted OAuth credential and the MCP server list.
func StateDir() (string, error) {
	if base := os.Getenv(envHome); base != "" {
		return ensureDir(filepath.Join(base, "state"))
	}
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return ensureDir(filepath.Join(xdg, "gemx"))
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return ensureDir(filepath.Join(home, ".local", "state", "gemx"))
}

// CredentialPath returns the well-known location of the OAuth credential file.
func CredentialPath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "oauth_token.json"), nil
}

// ServersPath returns the well-known location of the MCP server list.
func ServersPath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "mcp_servers.json"), nil
}

// ensureDir creates the directory tree when missing.
func ensureDir(path string) (string, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", path, err)
	}
	return path, nil
}
