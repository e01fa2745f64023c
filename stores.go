package oneid

import (
	"context"
	"time"
)

// Filter selects identities. Empty fields are ignored. A non empty States
// restricts the match to identities currently in one of those states, which
// is how callers express conditional updates.
type Filter struct {
	ID             string
	Email          string
	Provider       string
	ProviderUserID string
	States         []AccountState
}

// ByEmail filters on the normalized email.
func ByEmail(email string, states ...AccountState) Filter {
	return Filter{Email: NormalizeEmail(email), States: states}
}

// Matches reports whether identity satisfies the filter.
func (f Filter) Matches(identity *Identity) bool {
	if identity == nil {
		return false
	}
	if f.ID != "" && identity.ID != f.ID {
		return false
	}
	if f.Email != "" && identity.Email != f.Email {
		return false
	}
	if f.Provider != "" && !identity.HasLink(f.Provider, f.ProviderUserID) {
		return false
	}
	if len(f.States) > 0 {
		for _, s := range f.States {
			if s == identity.State {
				return true
			}
		}
		return false
	}
	return true
}

// Patch is a set of changes applied atomically to matching identities.
// Nil fields are left unchanged.
type Patch struct {
	State *AccountState
	// MarkVerified sets only the verified flag, leaving shadow and active as is.
	MarkVerified bool
	PasswordHash *string
	FullName     *string
	Avatar       *string
	// AddLink is appended to the provider links if not already present.
	AddLink *IdentityProviderLink
}

// StatePtr is a helper for building patches.
func StatePtr(s AccountState) *AccountState { return &s }

// StrPtr is a helper for building patches.
func StrPtr(s string) *string { return &s }

// Apply mutates identity in place and reports whether anything changed.
func (p Patch) Apply(identity *Identity, now time.Time) bool {
	changed := false
	if p.State != nil && identity.State != *p.State {
		identity.State = *p.State
		changed = true
	}
	if p.MarkVerified {
		active, verified, shadow := identity.State.Flags()
		if !verified {
			if next := StateFromFlags(active, true, shadow); next != identity.State {
				identity.State = next
				changed = true
			}
		}
	}
	if p.PasswordHash != nil && identity.PasswordHash != *p.PasswordHash {
		identity.PasswordHash = *p.PasswordHash
		changed = true
	}
	if p.FullName != nil && identity.FullName != *p.FullName {
		identity.FullName = *p.FullName
		changed = true
	}
	if p.Avatar != nil && identity.Avatar != *p.Avatar {
		identity.Avatar = *p.Avatar
		changed = true
	}
	if p.AddLink != nil && !identity.HasLink(p.AddLink.Provider, p.AddLink.ProviderUserID) {
		identity.Links = append(identity.Links, *p.AddLink)
		changed = true
	}
	if changed {
		identity.UpdatedAt = now
	}
	return changed
}

// UpdateResult reports the outcome of UpdateMany.
type UpdateResult struct {
	Matched  int64
	Modified int64
}

// CredentialStore persists identities. Lookups return ErrIdentityNotFound
// when nothing matches. Each update applies its filter and patch as a single
// atomic step.
type CredentialStore interface {
	FindByID(ctx context.Context, id string) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	FindByProvider(ctx context.Context, provider, providerUserID string) (*Identity, error)

	// Insert stores a new identity, failing with ErrDuplicateIdentity if the
	// email or a provider link is taken.
	Insert(ctx context.Context, identity *Identity) (*Identity, error)

	// FindOneAndUpdate patches one matching identity and returns it as it is
	// after the update.
	FindOneAndUpdate(ctx context.Context, filter Filter, patch Patch) (*Identity, error)

	UpdateMany(ctx context.Context, filter Filter, patch Patch) (UpdateResult, error)
}

// EphemeralStore holds short lived secrets. Get returns ErrSecretNotFound
// for missing or expired keys. Delete is idempotent.
type EphemeralStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}
