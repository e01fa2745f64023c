package oneid

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Middleware guards browser facing pages. Unlike SessionGuard.Require, which
// answers with a JSON error, EnsureIdentity can redirect to a login page.
type Middleware struct {
	Guard            *SessionGuard
	CallbackURLParam string
	// GetRedirURL returns the login page for a request. Empty means reply 401.
	GetRedirURL func(r *http.Request) string
}

// EnsureReasonableDefaults fills in unset fields.
func (a *Middleware) EnsureReasonableDefaults() {
	if a.CallbackURLParam == "" {
		a.CallbackURLParam = "callbackURL"
	}
}

// ExtractIdentity exposes the session identity, if any, via
// IdentityIDFromContext. It never rejects a request.
func (a *Middleware) ExtractIdentity(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, err := a.Guard.CurrentIdentityID(r.Context()); err == nil {
			r = r.WithContext(WithIdentityID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// EnsureIdentity is ExtractIdentity that also sends anonymous requests to
// the login page, remembering the original path.
func (a *Middleware) EnsureIdentity(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.Guard.CurrentIdentityID(r.Context())
		if err == nil {
			next.ServeHTTP(w, r.WithContext(WithIdentityID(r.Context(), id)))
			return
		}
		redirUrl := ""
		if a.GetRedirURL != nil {
			redirUrl = a.GetRedirURL(r)
		}
		if redirUrl == "" {
			slog.Debug("anonymous request rejected", "path", r.URL.Path)
			http.Error(w, "Login Required", http.StatusUnauthorized)
			return
		}
		encodedUrl := strings.Replace(url.QueryEscape(r.URL.Path), "+", "%20", -1)
		http.Redirect(w, r, fmt.Sprintf("%s?%s=%s", redirUrl, a.CallbackURLParam, encodedUrl), http.StatusFound)
	})
}
