package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ServerConfig describes one configured MCP server.
type ServerConfig struct {
	// Name uniquely identifies the server.
	Name string `json:"name"`
	// Command is the executable to launch.
	Command string `json:"command"`
	// Args is passed to the executable.
	Args []string `json:"args,omitempty"`
	// Enabled controls whether the server participates in aggregation.
	Enabled bool `json:"enabled"`
}

// ServersFile is the persisted server list.
type ServersFile struct {
	// Servers is the ordered server collection.
	Servers []ServerConfig `json:"servers"`
}

// Enabled returns the servers flagged for use, in file order.
func (f *ServersFile) Enabled() []ServerConfig {
	enabled := make([]ServerConfig, 0, len(f.Servers))
	for _, server := range f.Servers {
		if server.Enabled {
			enabled = append(enabled, server)
		}
	}
	return enabled
}

// Find returns the index of the named server, or -1.
func (f *ServersFile) Find(name string) int {
	for index, server := range f.Servers {
		if server.Name == name {
			return index
		}
	}
	return -1
}

// LoadServers reads the server list; a missing file yields an empty list.
func LoadServers(path string) (*ServersFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ServersFile{}, nil
		}
		return nil, fmt.Errorf("read servers file %s: %w", path, err)
	}
	var file ServersFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse servers file %s: %w", path, err)
	}
	return &file, nil
}

// SaveServers writes the server list atomically via temp file and rename.
func SaveServers(path string, file *ServersFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create servers dir: %w", err)
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal servers file: %w", err)
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("write servers temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("replace servers file: %w", err)
	}
	return nil
}
