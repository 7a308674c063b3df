package auth

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Fixed sub-paths under a credential root. The host platform stores one
// record per credential mode plus a boolean mode selector.
const (
	oauthSubPath   = "/OAuthClient"
	serviceSubPath = "/ServiceAccount"
	modeSubPath    = "/UseSA"
)

// OAuthCredential is the persisted record for the user-delegated
// authorization-code flow. AccessToken and TokenExpiry are overwritten
// on every grant; RefreshToken only when the provider issues a new one.
type OAuthCredential struct {
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	RefreshToken string    `json:"refresh_token"`
	AccessToken  string    `json:"access_token"`
	TokenExpiry  time.Time `json:"token_expiry"`
}

// ServiceCredential is the persisted record for the server-to-server
// JWT-bearer flow. There is no refresh token; every cycle re-signs a
// fresh assertion.
type ServiceCredential struct {
	ClientEmail string    `json:"client_email"`
	PrivateKey  string    `json:"private_key"`
	AccessToken string    `json:"access_token"`
	TokenExpiry time.Time `json:"token_expiry"`
}

// Store persists credential records under a hierarchical root path.
// Reading a record that does not exist yet lazily creates it with
// default values so operators can fill in the secrets afterwards.
type Store interface {
	OAuthCredential(root string) (OAuthCredential, error)
	PutOAuthCredential(root string, cred OAuthCredential) error
	ServiceCredential(root string) (ServiceCredential, error)
	PutServiceCredential(root string, cred ServiceCredential) error
	UseServiceAccount(root string) (bool, error)
	SetUseServiceAccount(root string, use bool) error
}

// NewID generates a random 128-bit identifier, used for session IDs and
// CSRF state tokens.
func NewID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return hex.EncodeToString([]byte("fallbackid"))
	}
	return hex.EncodeToString(buf)
}

// FileStore keeps all records in a single JSON document on disk,
// written with 0600 permissions. Every operation re-reads the file so
// concurrent processes observe each other's writes; the record has
// last-write-wins semantics.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore constructs a store backed by the JSON file at path. The
// file and its directory are created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) load() (map[string]json.RawMessage, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("read credential store: %w", err)
	}
	records := map[string]json.RawMessage{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &records); err != nil {
			return nil, fmt.Errorf("parse credential store: %w", err)
		}
	}
	return records, nil
}

func (s *FileStore) save(records map[string]json.RawMessage) error {
	payload, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential store: %w", err)
	}
	dir := filepath.Dir(s.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, payload, 0o600); err != nil {
		return fmt.Errorf("write credential store: %w", err)
	}
	return nil
}

// getRecord reads the record at key into out, creating and persisting
// the zero value when the key is absent.
func (s *FileStore) getRecord(key string, out any) error {
	records, err := s.load()
	if err != nil {
		return err
	}
	raw, ok := records[key]
	if !ok {
		blank, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("encode default record: %w", err)
		}
		records[key] = blank
		return s.save(records)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse record %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) putRecord(key string, in any) error {
	records, err := s.load()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", key, err)
	}
	records[key] = raw
	return s.save(records)
}

func (s *FileStore) OAuthCredential(root string) (OAuthCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cred OAuthCredential
	err := s.getRecord(root+oauthSubPath, &cred)
	return cred, err
}

func (s *FileStore) PutOAuthCredential(root string, cred OAuthCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putRecord(root+oauthSubPath, cred)
}

func (s *FileStore) ServiceCredential(root string) (ServiceCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cred ServiceCredential
	err := s.getRecord(root+serviceSubPath, &cred)
	return cred, err
}

func (s *FileStore) PutServiceCredential(root string, cred ServiceCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putRecord(root+serviceSubPath, cred)
}

func (s *FileStore) UseServiceAccount(root string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var use bool
	err := s.getRecord(root+modeSubPath, &use)
	return use, err
}

func (s *FileStore) SetUseServiceAccount(root string, use bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putRecord(root+modeSubPath, use)
}

// MemStore is an in-memory Store for tests.
type MemStore struct {
	mu       sync.Mutex
	oauth    map[string]OAuthCredential
	service  map[string]ServiceCredential
	mode     map[string]bool
	OAuthPut int
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		oauth:   make(map[string]OAuthCredential),
		service: make(map[string]ServiceCredential),
		mode:    make(map[string]bool),
	}
}

func (s *MemStore) OAuthCredential(root string) (OAuthCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.oauth[root], nil
}

func (s *MemStore) PutOAuthCredential(root string, cred OAuthCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oauth[root] = cred
	s.OAuthPut++
	return nil
}

func (s *MemStore) ServiceCredential(root string) (ServiceCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.service[root], nil
}

func (s *MemStore) PutServiceCredential(root string, cred ServiceCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.service[root] = cred
	return nil
}

func (s *MemStore) UseServiceAccount(root string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode[root], nil
}

func (s *MemStore) SetUseServiceAccount(root string, use bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode[root] = use
	return nil
}
