package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Store persists a single credential record at a well-known path.
type Store struct {
	// Path is the credential file location.
	Path string
}

// NewStore constructs a store for the given credential path.
func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Load reads the persisted credential. ErrNoCredential is returned when no
// credential has been saved yet.
func (s *Store) Load() (*Credential, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("read credential %s: %w", s.Path, err)
	}
	var credential Credential
	if err := json.Unmarshal(raw, &credential); err != nil {
		return nil, fmt.Errorf("parse credential %s: %w", s.Path, err)
	}
	if credential.AccessToken == "" {
		return nil, errors.New("stored credential has no access token")
	}
	return &credential, nil
}

// Save writes the credential atomically: the record lands in a temp file that
// is renamed over the target, so readers never observe a partial write.
func (s *Store) Save(credential *Credential) error {
	if credential == nil || credential.AccessToken == "" {
		return errors.New("refusing to persist credential without access token")
	}
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}

	data, err := json.MarshalIndent(credential, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	tempPath := s.Path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("write credential temp file: %w", err)
	}
	if err := os.Rename(tempPath, s.Path); err != nil {
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}
