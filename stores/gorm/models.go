package gorm

import (
	"time"

	oi "github.com/panyam/oneid"
)

// IdentityModel is the GORM model for identities
type IdentityModel struct {
	ID         string              `gorm:"primaryKey;size:64"`
	Email      string              `gorm:"uniqueIndex;size:255;not null"`
	Password   string              `gorm:"size:255"`
	FullName   string              `gorm:"size:255"`
	Avatar     string              `gorm:"size:1024"`
	IsActive   bool                `gorm:"not null"`
	IsVerified bool                `gorm:"not null"`
	IsShadow   bool                `gorm:"not null"`
	Links      []ProviderLinkModel `gorm:"foreignKey:IdentityID;references:ID"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (IdentityModel) TableName() string {
	return "identities"
}

// ProviderLinkModel is the GORM model for federated identity links
type ProviderLinkModel struct {
	ID             uint      `gorm:"primaryKey"`
	IdentityID     string    `gorm:"size:64;index;not null"`
	Provider       string    `gorm:"size:32;uniqueIndex:idx_provider_user;not null"`
	ProviderUserID string    `gorm:"size:255;uniqueIndex:idx_provider_user;not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

func (ProviderLinkModel) TableName() string {
	return "identity_provider_links"
}

func (m *IdentityModel) ToIdentity() *oi.Identity {
	identity := &oi.Identity{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.Password,
		FullName:     m.FullName,
		Avatar:       m.Avatar,
		State:        oi.StateFromFlags(m.IsActive, m.IsVerified, m.IsShadow),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	for _, l := range m.Links {
		identity.Links = append(identity.Links, oi.IdentityProviderLink{Provider: l.Provider, ProviderUserID: l.ProviderUserID})
	}
	return identity
}

func IdentityToModel(i *oi.Identity) *IdentityModel {
	active, verified, shadow := i.State.Flags()
	m := &IdentityModel{
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
		m.Links = append(m.Links, ProviderLinkModel{IdentityID: i.ID, Provider: l.Provider, ProviderUserID: l.ProviderUserID})
	}
	return m
}
