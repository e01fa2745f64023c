package gae

import (
	"time"

	"cloud.google.com/go/datastore"
	oi "github.com/panyam/oneid"
)

// Kind constants for Datastore entities
const (
	KindIdentity     = "Identity"
	KindProviderLink = "ProviderLink"
)

// LinkEntity is a provider link embedded in an identity
type LinkEntity struct {
	Provider       string `datastore:"provider"`
	ProviderUserID string `datastore:"provider_user_id"`
}

// IdentityEntity is the Datastore entity for identities.
// Key format: email
type IdentityEntity struct {
	Key        *datastore.Key `datastore:"__key__"`
	ID         string         `datastore:"id"`
	Email      string         `datastore:"email"`
	Password   string         `datastore:"password,noindex"`
	FullName   string         `datastore:"full_name,noindex"`
	Avatar     string         `datastore:"avatar,noindex"`
	IsActive   bool           `datastore:"is_active"`
	IsVerified bool           `datastore:"is_verified"`
	IsShadow   bool           `datastore:"is_shadow"`
	Links      []LinkEntity   `datastore:"links,noindex"`
	CreatedAt  time.Time      `datastore:"created_at"`
	UpdatedAt  time.Time      `datastore:"updated_at"`
}

// ProviderLinkEntity points a provider account at the owning identity.
// Key format: provider + ":" + provider_user_id
type ProviderLinkEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	Email     string         `datastore:"email"`
	CreatedAt time.Time      `datastore:"created_at"`
}

func (e *IdentityEntity) ToIdentity() *oi.Identity {
	identity := &oi.Identity{
		ID:           e.ID,
		Email:        e.Email,
		PasswordHash: e.Password,
		FullName:     e.FullName,
		Avatar:       e.Avatar,
		State:        oi.StateFromFlags(e.IsActive, e.IsVerified, e.IsShadow),
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
	for _, l := range e.Links {
		identity.Links = append(identity.Links, oi.IdentityProviderLink{Provider: l.Provider, ProviderUserID: l.ProviderUserID})
	}
	return identity
}

func IdentityToEntity(i *oi.Identity, key *datastore.Key) *IdentityEntity {
	active, verified, shadow := i.State.Flags()
	e := &IdentityEntity{
		Key:        key,
		ID:         i.ID,
		Email:      i.Email,
		Password:   i.PasswordHash,
		FullName:   i.FullName,
		Avatar:     i.Avatar,
		IsActive:   active,
		IsVerified: verified,
		IsShadow:   shadow,
		CreatedAt:  i.CreatedAt,
		UpdatedAt:  i.UpdatedAt,
	}
	for _, l := range i.Links {
		e.Links = append(e.Links, LinkEntity{Provider: l.Provider, ProviderUserID: l.ProviderUserID})
	}
	return e
}
