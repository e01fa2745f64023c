// Package fs provides file backed stores, one JSON file per record. They
// serialise writes with an in-process lock and suit development and tests.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	oi "github.com/panyam/oneid"
)

// FSCredentialStore stores identities as JSON files keyed by email
type FSCredentialStore struct {
	StoragePath string
	Now         func() time.Time

	mu sync.Mutex
}

func NewFSCredentialStore(storagePath string) *FSCredentialStore {
	return &FSCredentialStore{StoragePath: storagePath, Now: time.Now}
}

func (s *FSCredentialStore) dir() string {
	return filepath.Join(s.StoragePath, "identities")
}

func (s *FSCredentialStore) identityPath(email string) string {
	return filepath.Join(s.dir(), safeName(email)+".json")
}

func (s *FSCredentialStore) read(path string) (*oi.Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, oi.ErrIdentityNotFound
		}
		return nil, err
	}
	var identity oi.Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		return nil, fmt.Errorf("corrupt identity file %s: %w", path, err)
	}
	return &identity, nil
}

func (s *FSCredentialStore) write(identity *oi.Identity) error {
	data, err := json.MarshalIndent(identity, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(s.identityPath(identity.Email), data)
}

// all loads every identity; unreadable files are skipped
func (s *FSCredentialStore) all() ([]*oi.Identity, error) {
	entries, err := os.ReadDir(s.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*oi.Identity
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		identity, err := s.read(filepath.Join(s.dir(), entry.Name()))
		if err != nil {
			continue
		}
		out = append(out, identity)
	}
	return out, nil
}

// matching returns identities satisfying filter, reading a single file when
// the filter names an email
func (s *FSCredentialStore) matching(filter oi.Filter, limit int) ([]*oi.Identity, error) {
	var candidates []*oi.Identity
	if filter.Email != "" {
		identity, err := s.read(s.identityPath(filter.Email))
		if err == oi.ErrIdentityNotFound {
			return nil, nil
		} else if err != nil {
			return nil, err
		}
		candidates = []*oi.Identity{identity}
	} else {
		all, err := s.all()
		if err != nil {
			return nil, err
		}
		candidates = all
	}
	var out []*oi.Identity
	for _, identity := range candidates {
		if filter.Matches(identity) {
			out = append(out, identity)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *FSCredentialStore) findOne(filter oi.Filter) (*oi.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found, err := s.matching(filter, 1)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, oi.ErrIdentityNotFound
	}
	return found[0], nil
}

func (s *FSCredentialStore) FindByID(ctx context.Context, id string) (*oi.Identity, error) {
	return s.findOne(oi.Filter{ID: id})
}

func (s *FSCredentialStore) FindByEmail(ctx context.Context, email string) (*oi.Identity, error) {
	return s.findOne(oi.Filter{Email: oi.NormalizeEmail(email)})
}

func (s *FSCredentialStore) FindByProvider(ctx context.Context, provider, providerUserID string) (*oi.Identity, error) {
	return s.findOne(oi.Filter{Provider: provider, ProviderUserID: providerUserID})
}

func (s *FSCredentialStore) Insert(ctx context.Context, identity *oi.Identity) (*oi.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.identityPath(identity.Email)); err == nil {
		return nil, fmt.Errorf("%s: %w", identity.Email, oi.ErrDuplicateIdentity)
	}
	for _, link := range identity.Links {
		taken, err := s.matching(oi.Filter{Provider: link.Provider, ProviderUserID: link.ProviderUserID}, 1)
		if err != nil {
			return nil, err
		}
		if len(taken) > 0 {
			return nil, fmt.Errorf("%s: %w", oi.LinkKey(link.Provider, link.ProviderUserID), oi.ErrDuplicateIdentity)
		}
	}
	stored := identity.Clone()
	if err := s.write(stored); err != nil {
		return nil, err
	}
	return stored.Clone(), nil
}

func (s *FSCredentialStore) FindOneAndUpdate(ctx context.Context, filter oi.Filter, patch oi.Patch) (*oi.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found, err := s.matching(filter, 1)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, oi.ErrIdentityNotFound
	}
	identity := found[0]
	if patch.Apply(identity, s.Now()) {
		if err := s.write(identity); err != nil {
			return nil, err
		}
	}
	return identity, nil
}

func (s *FSCredentialStore) UpdateMany(ctx context.Context, filter oi.Filter, patch oi.Patch) (oi.UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res oi.UpdateResult
	found, err := s.matching(filter, 0)
	if err != nil {
		return res, err
	}
	now := s.Now()
	for _, identity := range found {
		res.Matched++
		if patch.Apply(identity, now) {
			if err := s.write(identity); err != nil {
				return res, err
			}
			res.Modified++
		}
	}
	return res, nil
}
