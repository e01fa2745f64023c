// Package storetest holds behaviour tests shared by every CredentialStore
// and EphemeralStore backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	oi "github.com/panyam/oneid"
)

// NewIdentity returns an identity ready for Insert.
func NewIdentity(email string, state oi.AccountState, links ...oi.IdentityProviderLink) *oi.Identity {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &oi.Identity{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: "hash-" + email,
		FullName:     "Test User",
		State:        state,
		Links:        links,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// RunCredentialStoreTests exercises the CredentialStore contract. newStore
// must return an empty store.
func RunCredentialStoreTests(t *testing.T, newStore func(t *testing.T) oi.CredentialStore) {
	ctx := context.Background()

	t.Run("InsertAndFind", func(t *testing.T) {
		store := newStore(t)
		link := oi.IdentityProviderLink{Provider: oi.ProviderGoogle, ProviderUserID: "g-1"}
		in := NewIdentity("find@example.com", oi.StatePending, link)
		if _, err := store.Insert(ctx, in); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}

		byEmail, err := store.FindByEmail(ctx, "find@example.com")
		if err != nil {
			t.Fatalf("FindByEmail failed: %v", err)
		}
		if byEmail.ID != in.ID || byEmail.State != oi.StatePending || byEmail.PasswordHash != in.PasswordHash {
			t.Errorf("FindByEmail returned %+v", byEmail)
		}

		byID, err := store.FindByID(ctx, in.ID)
		if err != nil || byID.Email != in.Email {
			t.Errorf("FindByID = %v, %v", byID, err)
		}

		byLink, err := store.FindByProvider(ctx, oi.ProviderGoogle, "g-1")
		if err != nil || byLink.ID != in.ID {
			t.Errorf("FindByProvider = %v, %v", byLink, err)
		}
		if len(byLink.Links) != 1 || byLink.Links[0] != link {
			t.Errorf("expected links to round trip, got %v", byLink.Links)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.FindByEmail(ctx, "nobody@example.com"); !errors.Is(err, oi.ErrIdentityNotFound) {
			t.Errorf("FindByEmail error = %v", err)
		}
		if _, err := store.FindByID(ctx, "missing"); !errors.Is(err, oi.ErrIdentityNotFound) {
			t.Errorf("FindByID error = %v", err)
		}
		if _, err := store.FindByProvider(ctx, oi.ProviderGoogle, "nope"); !errors.Is(err, oi.ErrIdentityNotFound) {
			t.Errorf("FindByProvider error = %v", err)
		}
		_, err := store.FindOneAndUpdate(ctx, oi.ByEmail("nobody@example.com"), oi.Patch{FullName: oi.StrPtr("x")})
		if !errors.Is(err, oi.ErrIdentityNotFound) {
			t.Errorf("FindOneAndUpdate error = %v", err)
		}
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.Insert(ctx, NewIdentity("dup@example.com", oi.StatePending)); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		_, err := store.Insert(ctx, NewIdentity("dup@example.com", oi.StateActive))
		if !errors.Is(err, oi.ErrDuplicateIdentity) {
			t.Errorf("expected ErrDuplicateIdentity, got %v", err)
		}
	})

	t.Run("DuplicateLink", func(t *testing.T) {
		store := newStore(t)
		link := oi.IdentityProviderLink{Provider: oi.ProviderGoogle, ProviderUserID: "same"}
		if _, err := store.Insert(ctx, NewIdentity("a@example.com", oi.StateActive, link)); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		_, err := store.Insert(ctx, NewIdentity("b@example.com", oi.StateActive, link))
		if !errors.Is(err, oi.ErrDuplicateIdentity) {
			t.Errorf("expected ErrDuplicateIdentity, got %v", err)
		}
	})

	t.Run("ConditionalUpdate", func(t *testing.T) {
		store := newStore(t)
		in := NewIdentity("shadow@example.com", oi.StateShadow)
		in.PasswordHash = ""
		if _, err := store.Insert(ctx, in); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}

		// Not in the required state, so nothing matches
		_, err := store.FindOneAndUpdate(ctx,
			oi.ByEmail(in.Email, oi.StatePending),
			oi.Patch{State: oi.StatePtr(oi.StateActive)})
		if !errors.Is(err, oi.ErrIdentityNotFound) {
			t.Fatalf("expected no match, got %v", err)
		}

		updated, err := store.FindOneAndUpdate(ctx,
			oi.ByEmail(in.Email, oi.StateShadow, oi.StateSuspended),
			oi.Patch{
				State:        oi.StatePtr(oi.StatePending),
				PasswordHash: oi.StrPtr("new-hash"),
				FullName:     oi.StrPtr("Promoted"),
				Avatar:       oi.StrPtr("https://example.com/a.png"),
			})
		if err != nil {
			t.Fatalf("FindOneAndUpdate failed: %v", err)
		}
		if updated.ID != in.ID {
			t.Errorf("expected id to be preserved, got %s want %s", updated.ID, in.ID)
		}
		if updated.State != oi.StatePending || updated.PasswordHash != "new-hash" ||
			updated.FullName != "Promoted" || updated.Avatar != "https://example.com/a.png" {
			t.Errorf("update not returned: %+v", updated)
		}

		reread, err := store.FindByEmail(ctx, in.Email)
		if err != nil || reread.State != oi.StatePending || reread.PasswordHash != "new-hash" {
			t.Errorf("update not persisted: %+v, %v", reread, err)
		}
	})

	t.Run("AddLink", func(t *testing.T) {
		store := newStore(t)
		in := NewIdentity("link@example.com", oi.StatePending)
		if _, err := store.Insert(ctx, in); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		link := oi.IdentityProviderLink{Provider: oi.ProviderGoogle, ProviderUserID: "g-42"}
		updated, err := store.FindOneAndUpdate(ctx, oi.ByEmail(in.Email),
			oi.Patch{State: oi.StatePtr(oi.StateActive), AddLink: &link})
		if err != nil {
			t.Fatalf("FindOneAndUpdate failed: %v", err)
		}
		if updated.State != oi.StateActive || !updated.HasLink(oi.ProviderGoogle, "g-42") {
			t.Errorf("link not applied: %+v", updated)
		}
		found, err := store.FindByProvider(ctx, oi.ProviderGoogle, "g-42")
		if err != nil || found.ID != in.ID {
			t.Errorf("FindByProvider after link = %v, %v", found, err)
		}
	})

	t.Run("UpdateMany", func(t *testing.T) {
		store := newStore(t)
		in := NewIdentity("many@example.com", oi.StatePending)
		if _, err := store.Insert(ctx, in); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		res, err := store.UpdateMany(ctx, oi.ByEmail(in.Email),
			oi.Patch{PasswordHash: oi.StrPtr("reset-hash"), MarkVerified: true})
		if err != nil {
			t.Fatalf("UpdateMany failed: %v", err)
		}
		if res.Matched != 1 {
			t.Errorf("expected 1 match, got %d", res.Matched)
		}
		reread, _ := store.FindByEmail(ctx, in.Email)
		if reread.PasswordHash != "reset-hash" || reread.State != oi.StateActive {
			t.Errorf("UpdateMany not persisted: %+v", reread)
		}

		res, err = store.UpdateMany(ctx, oi.ByEmail("ghost@example.com"), oi.Patch{PasswordHash: oi.StrPtr("x")})
		if err != nil {
			t.Fatalf("UpdateMany failed: %v", err)
		}
		if res.Matched != 0 || res.Modified != 0 {
			t.Errorf("expected no matches, got %+v", res)
		}
	})

	t.Run("MarkVerifiedKeepsShadow", func(t *testing.T) {
		store := newStore(t)
		in := NewIdentity("keep@example.com", oi.StateShadow)
		if _, err := store.Insert(ctx, in); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if _, err := store.UpdateMany(ctx, oi.ByEmail(in.Email), oi.Patch{MarkVerified: true}); err != nil {
			t.Fatalf("UpdateMany failed: %v", err)
		}
		reread, _ := store.FindByEmail(ctx, in.Email)
		if reread.State != oi.StateShadow {
			t.Errorf("expected shadow to stay shadow, got %s", reread.State)
		}
	})
}

// RunEphemeralStoreTests exercises the EphemeralStore contract. advance moves
// the store's clock forward.
func RunEphemeralStoreTests(t *testing.T, newStore func(t *testing.T) (oi.EphemeralStore, func(time.Duration))) {
	ctx := context.Background()

	t.Run("SetGetDelete", func(t *testing.T) {
		store, _ := newStore(t)
		if err := store.Set(ctx, "user@example.com", "123456", time.Hour); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, err := store.Get(ctx, "user@example.com")
		if err != nil || got != "123456" {
			t.Fatalf("Get = %q, %v", got, err)
		}
		if err := store.Delete(ctx, "user@example.com"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := store.Get(ctx, "user@example.com"); !errors.Is(err, oi.ErrSecretNotFound) {
			t.Errorf("expected ErrSecretNotFound after delete, got %v", err)
		}
		if err := store.Delete(ctx, "user@example.com"); err != nil {
			t.Errorf("second Delete should succeed, got %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		store, _ := newStore(t)
		_ = store.Set(ctx, "k", "first", time.Hour)
		_ = store.Set(ctx, "k", "second", time.Hour)
		if got, _ := store.Get(ctx, "k"); got != "second" {
			t.Errorf("expected overwrite, got %q", got)
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		store, advance := newStore(t)
		if err := store.Set(ctx, "k", "v", time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		advance(2 * time.Minute)
		if _, err := store.Get(ctx, "k"); !errors.Is(err, oi.ErrSecretNotFound) {
			t.Errorf("expected expired secret, got %v", err)
		}
	})
}
