package client

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// Credentials is the token pair plus the profile returned at login.
type Credentials struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	User         *UserInfo `json:"user,omitempty"`
}

// UserInfo mirrors the authenticated profile the server returns.
type UserInfo struct {
	ID        uint   `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

// TokenStore persists credentials between requests. Implementations must be
// safe for concurrent use.
type TokenStore interface {
	Load() (*Credentials, error)
	Save(creds *Credentials) error
	Clear() error
}

// MemoryTokenStore keeps credentials in process memory.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	creds *Credentials
}

func NewMemoryTokenStore() *MemoryTokenStore { return &MemoryTokenStore{} }

func (s *MemoryTokenStore) Load() (*Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return nil, nil
	}
	copied := *s.creds
	return &copied, nil
}

func (s *MemoryTokenStore) Save(creds *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *creds
	s.creds = &copied
	return nil
}

func (s *MemoryTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	return nil
}

// FileTokenStore persists credentials as JSON, readable only by the owner.
type FileTokenStore struct {
	mu   sync.Mutex
	path string
}

func NewFileTokenStore(path string) *FileTokenStore { return &FileTokenStore{path: path} }

func (s *FileTokenStore) Load() (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

func (s *FileTokenStore) Save(creds *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// DefaultTokenPath places the token file under the user config directory.
func DefaultTokenPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "phd-crm", "credentials.json"), nil
}
