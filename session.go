package oneid

import (
	"context"
	"fmt"
	"net/http"

	"github.com/alexedwards/scs/v2"
)

// DefaultSessionKey is the session value holding the logged in identity id.
const DefaultSessionKey = "identityId"

type identityIDKey struct{}

// SessionGuard binds authenticated identities to scs sessions and guards
// handlers that need one. Context arguments must carry session data, either
// from Manager.LoadAndSave or Manager.Load.
type SessionGuard struct {
	Manager       *scs.SessionManager
	Accounts      *Accounts
	Authenticator *Authenticator
	Key           string
}

// NewSessionGuard creates a guard with a 30 day session manager. A nil store
// keeps sessions in memory.
func NewSessionGuard(accounts *Accounts, store scs.Store) *SessionGuard {
	manager := scs.New()
	manager.Lifetime = DefaultSessionLifetime
	manager.Cookie.Name = "oneid_session"
	manager.Cookie.HttpOnly = true
	manager.Cookie.SameSite = http.SameSiteLaxMode
	if store != nil {
		manager.Store = store
	}
	return &SessionGuard{Manager: manager, Accounts: accounts, Authenticator: NewAuthenticator(accounts)}
}

func (g *SessionGuard) key() string {
	if g.Key != "" {
		return g.Key
	}
	return DefaultSessionKey
}

// Login binds identity to the session in ctx, renewing its token.
func (g *SessionGuard) Login(ctx context.Context, identity *Identity) error {
	if err := g.Manager.RenewToken(ctx); err != nil {
		return internalError(fmt.Errorf("renew session: %w", err))
	}
	g.Manager.Put(ctx, g.key(), identity.ID)
	return nil
}

// SignIn authenticates creds and binds the result to the session.
func (g *SessionGuard) SignIn(ctx context.Context, creds Credentials) (*Identity, error) {
	identity, err := g.Authenticator.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}
	if err := g.Login(ctx, identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// Logout destroys the session. It succeeds when there is none.
func (g *SessionGuard) Logout(ctx context.Context) error {
	if err := g.Manager.Destroy(ctx); err != nil {
		return internalError(fmt.Errorf("destroy session: %w", err))
	}
	return nil
}

// CurrentIdentityID returns the identity bound to the session in ctx.
func (g *SessionGuard) CurrentIdentityID(ctx context.Context) (string, error) {
	if id, ok := ctx.Value(identityIDKey{}).(string); ok && id != "" {
		return id, nil
	}
	id := g.Manager.GetString(ctx, g.key())
	if id == "" {
		return "", ErrSessionExpired
	}
	return id, nil
}

// CurrentIdentity loads the profile of the identity bound to the session.
func (g *SessionGuard) CurrentIdentity(ctx context.Context) (*Identity, error) {
	id, err := g.CurrentIdentityID(ctx)
	if err != nil {
		return nil, err
	}
	return g.Accounts.GetIdentity(ctx, id)
}

// Require rejects requests without a session and exposes the identity id to
// downstream handlers via IdentityIDFromContext.
func (g *SessionGuard) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := g.CurrentIdentityID(r.Context())
		if err != nil {
			WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentityID(r.Context(), id)))
	})
}

// WithIdentityID returns a context carrying an authenticated identity id.
func WithIdentityID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, identityIDKey{}, id)
}

// IdentityIDFromContext returns the identity id set by Require, or "".
func IdentityIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(identityIDKey{}).(string)
	return id
}
