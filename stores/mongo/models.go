// Package mongo provides a MongoDB CredentialStore.
//
// Conditional updates map directly onto FindOneAndUpdate and UpdateMany, and
// uniqueness of emails and provider links is enforced with unique indexes
// created by EnsureIndexes.
package mongo

import (
	"time"

	oi "github.com/panyam/oneid"
)

// LinkDoc is a provider link embedded in an identity document
type LinkDoc struct {
	Provider string `bson:"provider"`
	UserID   string `bson:"userId"`
}

// IdentityDoc is the stored form of an identity
type IdentityDoc struct {
	ID         string    `bson:"_id"`
	Email      string    `bson:"email"`
	Password   string    `bson:"password,omitempty"`
	FullName   string    `bson:"fullName"`
	Avatar     string    `bson:"avatar,omitempty"`
	IsActive   bool      `bson:"isActive"`
	IsVerified bool      `bson:"isVerified"`
	IsShadow   bool      `bson:"isShadow"`
	Links      []LinkDoc `bson:"idps,omitempty"`
	CreatedAt  time.Time `bson:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

func (d *IdentityDoc) ToIdentity() *oi.Identity {
	identity := &oi.Identity{
		ID:           d.ID,
		Email:        d.Email,
		PasswordHash: d.Password,
		FullName:     d.FullName,
		Avatar:       d.Avatar,
		State:        oi.StateFromFlags(d.IsActive, d.IsVerified, d.IsShadow),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	for _, l := range d.Links {
		identity.Links = append(identity.Links, oi.IdentityProviderLink{Provider: l.Provider, ProviderUserID: l.UserID})
	}
	return identity
}

func IdentityToDoc(i *oi.Identity) *IdentityDoc {
	active, verified, shadow := i.State.Flags()
	d := &IdentityDoc{
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
		d.Links = append(d.Links, LinkDoc{Provider: l.Provider, UserID: l.ProviderUserID})
	}
	return d
}
