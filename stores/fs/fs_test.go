package fs_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	oi "github.com/panyam/oneid"
	"github.com/panyam/oneid/stores/fs"
	"github.com/panyam/oneid/stores/storetest"
)

func TestFSCredentialStore(t *testing.T) {
	storetest.RunCredentialStoreTests(t, func(t *testing.T) oi.CredentialStore {
		return fs.NewFSCredentialStore(t.TempDir())
	})
}

func TestFSSecretStore(t *testing.T) {
	storetest.RunEphemeralStoreTests(t, func(t *testing.T) (oi.EphemeralStore, func(time.Duration)) {
		var mu sync.Mutex
		now := time.Now()
		store := fs.NewFSSecretStore(t.TempDir())
		store.Now = func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}
		return store, func(d time.Duration) {
			mu.Lock()
			now = now.Add(d)
			mu.Unlock()
		}
	})
}

func TestFSCredentialStore_SkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	store := fs.NewFSCredentialStore(dir)
	ctx := context.Background()

	in := storetest.NewIdentity("ok@example.com", oi.StateActive)
	if _, err := store.Insert(ctx, in); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "identities", "broken.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	found, err := store.FindByID(ctx, in.ID)
	if err != nil || found.Email != in.Email {
		t.Errorf("FindByID = %v, %v", found, err)
	}
}

func TestFSCredentialStore_LegacyFlags(t *testing.T) {
	dir := t.TempDir()
	store := fs.NewFSCredentialStore(dir)

	// records written with only the flag fields
	legacy := `{"id":"legacy-1","email":"old@example.com","fullName":"Old","isActive":true,"isVerified":false,"isShadow":true}`
	if err := os.MkdirAll(filepath.Join(dir, "identities"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "identities", "old@example.com.json"), []byte(legacy), 0644); err != nil {
		t.Fatal(err)
	}

	found, err := store.FindByEmail(context.Background(), "OLD@example.com")
	if err != nil {
		t.Fatalf("FindByEmail failed: %v", err)
	}
	if found.State != oi.StateShadow {
		t.Errorf("expected shadow, got %s", found.State)
	}
}

func TestFSCredentialStore_ConcurrentPromotion(t *testing.T) {
	store := fs.NewFSCredentialStore(t.TempDir())
	ctx := context.Background()
	if _, err := store.Insert(ctx, storetest.NewIdentity("race@example.com", oi.StateShadow)); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.FindOneAndUpdate(ctx,
				oi.ByEmail("race@example.com", oi.StateShadow),
				oi.Patch{State: oi.StatePtr(oi.StatePending)})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("expected exactly one promotion, got %d", wins)
	}
}
