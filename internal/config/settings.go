package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Settings holds the user-editable configuration for gemx.
type Settings struct {
	// Model is the default model identifier (e.g., gemini-1.5-flash).
	Model string `json:"model,omitempty"`
	// Provider selects the generation backend. Only "google" is built in.
	Provider string `json:"provider,omitempty"`
	// BaseURL overrides the API endpoint, e.g. for a local emulator.
	BaseURL string `json:"base_url,omitempty"`
	// APIKey authenticates requests when OAuth is not used.
	APIKey string `json:"api_key,omitempty"`
	// OAuth configures the device-authorization flow.
	OAuth OAuthSettings `json:"oauth,omitempty"`
}

// OAuthSettings identifies the OAuth client used for device login.
type OAuthSettings struct {
	// ClientID is the registered OAuth client identifier.
	ClientID string `json:"client_id,omitempty"`
	// ClientSecret is optional; installed-app flows often require it.
	ClientSecret string `json:"client_secret,omitempty"`
	// Scopes lists the requested OAuth scopes.
	Scopes []string `json:"scopes,omitempty"`
}

// defaultScopes is requested when the settings file names none.
var defaultScopes = []string{"https://www.googleapis.com/auth/generative-language"}

// LoadSettings reads settings.json from the config directory. A missing file
// yields default settings rather than an error.
func LoadSettings() (*Settings, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return loadSettingsFromFile(filepath.Join(dir, "settings.json"))
}

// loadSettingsFromFile parses one settings file and applies env overrides.
func loadSettingsFromFile(path string) (*Settings, error) {
	settings := &Settings{}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, settings); err != nil {
			return nil, fmt.Errorf("parse settings %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Absent settings are fine; env vars may still supply everything.
	default:
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}

	applyEnvOverrides(settings)

	if settings.Model == "" {
		settings.Model = "gemini-1.5-flash"
	}
	if settings.Provider == "" {
		settings.Provider = "google"
	}
	if len(settings.OAuth.Scopes) == 0 {
		settings.OAuth.Scopes = append([]string(nil), defaultScopes...)
	}
	return settings, nil
}

// applyEnvOverrides lets environment variables win over file contents.
func applyEnvOverrides(settings *Settings) {
	if value := os.Getenv("GEMX_API_KEY"); value != "" {
		settings.APIKey = value
	}
	if value := os.Getenv("GEMX_BASE_URL"); value != "" {
		settings.BaseURL = value
	}
	if value := os.Getenv("GEMX_OAUTH_CLIENT_ID"); value != "" {
		settings.OAuth.ClientID = value
	}
	if value := os.Getenv("GEMX_OAUTH_CLIENT_SECRET"); value != "" {
		settings.OAuth.ClientSecret = value
	}
	if value := os.Getenv("GEMX_MODEL"); value != "" {
		settings.Model = value
	}
	if value := os.Getenv("GEMX_OAUTH_SCOPES"); value != "" {
		settings.OAuth.Scopes = splitScopes(value)
	}
}

// splitScopes parses a space- or comma-separated scope list.
func splitScopes(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ' ' || r == ','
	})
	scopes := make([]string, 0, len(fields))
	for _, field := range fields {
		if field = strings.TrimSpace(field); field != "" {
			scopes = append(scopes, field)
		}
	}
	return scopes
}

// ResolveModel returns the model for a run. CLI input takes precedence over
// settings.
func ResolveModel(cliModel string, settings *Settings) string {
	if cliModel != "" {
		return cliModel
	}
	if settings != nil && settings.Model != "" {
		return settings.Model
	}
	return "gemini-1.5-flash"
}
