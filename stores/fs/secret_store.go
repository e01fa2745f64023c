package fs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	oi "github.com/panyam/oneid"
)

type secretRecord struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FSSecretStore stores ephemeral secrets as JSON files with an expiry
type FSSecretStore struct {
	StoragePath string
	Now         func() time.Time

	mu sync.Mutex
}

func NewFSSecretStore(storagePath string) *FSSecretStore {
	return &FSSecretStore{StoragePath: storagePath, Now: time.Now}
}

func (s *FSSecretStore) secretPath(key string) string {
	return filepath.Join(s.StoragePath, "secrets", safeName(key)+".json")
}

func (s *FSSecretStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(secretRecord{Value: value, ExpiresAt: s.Now().Add(ttl)})
	if err != nil {
		return err
	}
	return writeAtomicFile(s.secretPath(key), data)
}

func (s *FSSecretStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.secretPath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", oi.ErrSecretNotFound
		}
		return "", err
	}
	var rec secretRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", err
	}
	if !s.Now().Before(rec.ExpiresAt) {
		// Auto-delete expired secret
		_ = os.Remove(path)
		return "", oi.ErrSecretNotFound
	}
	return rec.Value, nil
}

func (s *FSSecretStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.secretPath(key))
	if os.IsNotExist(err) {
		return nil // Already deleted
	}
	return err
}
