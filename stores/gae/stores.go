package gae

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"

	oi "github.com/panyam/oneid"
)

// CredentialStore implements oi.CredentialStore using Google Cloud Datastore
type CredentialStore struct {
	client    *datastore.Client
	namespace string
	Now       func() time.Time
}

// NewCredentialStore creates a new Datastore-backed CredentialStore
func NewCredentialStore(client *datastore.Client, namespace string) *CredentialStore {
	return &CredentialStore{client: client, namespace: namespace, Now: time.Now}
}

func (s *CredentialStore) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *CredentialStore) identityKey(email string) *datastore.Key {
	return s.namespacedKey(KindIdentity, email)
}

func (s *CredentialStore) linkKey(provider, providerUserID string) *datastore.Key {
	return s.namespacedKey(KindProviderLink, oi.LinkKey(provider, providerUserID))
}

type getter interface {
	Get(key *datastore.Key, dst any) error
}

type txGetter struct{ tx *datastore.Transaction }

func (g txGetter) Get(key *datastore.Key, dst any) error { return g.tx.Get(key, dst) }

type clientGetter struct {
	ctx    context.Context
	client *datastore.Client
}

func (g clientGetter) Get(key *datastore.Key, dst any) error { return g.client.Get(g.ctx, key, dst) }

func (s *CredentialStore) getIdentity(g getter, key *datastore.Key) (*IdentityEntity, error) {
	var entity IdentityEntity
	if err := g.Get(key, &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, oi.ErrIdentityNotFound
		}
		return nil, err
	}
	return &entity, nil
}

// resolveKey finds the identity key a filter names
func (s *CredentialStore) resolveKey(ctx context.Context, g getter, f oi.Filter) (*datastore.Key, error) {
	switch {
	case f.Email != "":
		return s.identityKey(f.Email), nil
	case f.Provider != "":
		var link ProviderLinkEntity
		if err := g.Get(s.linkKey(f.Provider, f.ProviderUserID), &link); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return nil, oi.ErrIdentityNotFound
			}
			return nil, err
		}
		return s.identityKey(link.Email), nil
	case f.ID != "":
		q := datastore.NewQuery(KindIdentity).Namespace(s.namespace).FilterField("id", "=", f.ID).KeysOnly().Limit(1)
		keys, err := s.client.GetAll(ctx, q, nil)
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			return nil, oi.ErrIdentityNotFound
		}
		return keys[0], nil
	}
	return nil, errors.New("filter must name an email, provider link or id")
}

func (s *CredentialStore) findOne(ctx context.Context, f oi.Filter) (*oi.Identity, error) {
	g := clientGetter{ctx: ctx, client: s.client}
	key, err := s.resolveKey(ctx, g, f)
	if err != nil {
		return nil, err
	}
	entity, err := s.getIdentity(g, key)
	if err != nil {
		return nil, err
	}
	identity := entity.ToIdentity()
	if !f.Matches(identity) {
		return nil, oi.ErrIdentityNotFound
	}
	return identity, nil
}

func (s *CredentialStore) FindByID(ctx context.Context, id string) (*oi.Identity, error) {
	return s.findOne(ctx, oi.Filter{ID: id})
}

func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*oi.Identity, error) {
	return s.findOne(ctx, oi.Filter{Email: oi.NormalizeEmail(email)})
}

func (s *CredentialStore) FindByProvider(ctx context.Context, provider, providerUserID string) (*oi.Identity, error) {
	return s.findOne(ctx, oi.Filter{Provider: provider, ProviderUserID: providerUserID})
}

// putLink claims a provider link for email inside tx
func (s *CredentialStore) putLink(tx *datastore.Transaction, link oi.IdentityProviderLink, email string, now time.Time) error {
	key := s.linkKey(link.Provider, link.ProviderUserID)
	var existing ProviderLinkEntity
	err := tx.Get(key, &existing)
	if err == nil {
		if existing.Email == email {
			return nil
		}
		return fmt.Errorf("%s: %w", oi.LinkKey(link.Provider, link.ProviderUserID), oi.ErrDuplicateIdentity)
	} else if !errors.Is(err, datastore.ErrNoSuchEntity) {
		return err
	}
	_, err = tx.Put(key, &ProviderLinkEntity{Key: key, Email: email, CreatedAt: now})
	return err
}

func (s *CredentialStore) Insert(ctx context.Context, identity *oi.Identity) (*oi.Identity, error) {
	key := s.identityKey(identity.Email)
	entity := IdentityToEntity(identity, key)
	now := s.Now()
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		if _, err := s.getIdentity(txGetter{tx}, key); err == nil {
			return fmt.Errorf("%s: %w", identity.Email, oi.ErrDuplicateIdentity)
		} else if !errors.Is(err, oi.ErrIdentityNotFound) {
			return err
		}
		for _, link := range identity.Links {
			if err := s.putLink(tx, link, identity.Email, now); err != nil {
				return err
			}
		}
		_, err := tx.Put(key, entity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entity.ToIdentity(), nil
}

// update applies patch to the identity filter names, inside one transaction
func (s *CredentialStore) update(ctx context.Context, filter oi.Filter, patch oi.Patch) (*oi.Identity, bool, error) {
	var out *oi.Identity
	changed := false
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		key, err := s.resolveKey(ctx, txGetter{tx}, filter)
		if err != nil {
			return err
		}
		entity, err := s.getIdentity(txGetter{tx}, key)
		if err != nil {
			return err
		}
		identity := entity.ToIdentity()
		if !filter.Matches(identity) {
			return oi.ErrIdentityNotFound
		}
		now := s.Now()
		changed = patch.Apply(identity, now)
		// verified is kept as a raw flag even when the state does not show it
		verifiedOnly := patch.MarkVerified && !entity.IsVerified
		if patch.AddLink != nil {
			if err := s.putLink(tx, *patch.AddLink, identity.Email, now); err != nil {
				return err
			}
		}
		if changed || verifiedOnly {
			updated := IdentityToEntity(identity, key)
			if patch.MarkVerified {
				updated.IsVerified = true
			}
			updated.UpdatedAt = now
			if _, err := tx.Put(key, updated); err != nil {
				return err
			}
		}
		out = identity
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, changed, nil
}

func (s *CredentialStore) FindOneAndUpdate(ctx context.Context, filter oi.Filter, patch oi.Patch) (*oi.Identity, error) {
	identity, _, err := s.update(ctx, filter, patch)
	return identity, err
}

// UpdateMany supports filters that name a single identity, which is all
// the account flows need since email is unique.
func (s *CredentialStore) UpdateMany(ctx context.Context, filter oi.Filter, patch oi.Patch) (oi.UpdateResult, error) {
	_, changed, err := s.update(ctx, filter, patch)
	if errors.Is(err, oi.ErrIdentityNotFound) {
		return oi.UpdateResult{}, nil
	} else if err != nil {
		return oi.UpdateResult{}, err
	}
	res := oi.UpdateResult{Matched: 1}
	if changed {
		res.Modified = 1
	}
	return res, nil
}
