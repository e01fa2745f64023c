package oneid

import "context"

// Platform is the client kind a federated token was issued to.
type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformWeb, PlatformIOS, PlatformAndroid:
		return true
	}
	return false
}

// Audiences maps each platform to the client id its tokens are issued for.
type Audiences map[Platform]string

// For returns the audience of p.
func (a Audiences) For(p Platform) (string, bool) {
	if !p.Valid() {
		return "", false
	}
	aud, ok := a[p]
	return aud, ok && aud != ""
}

// FederatedClaims are the verified claims of a provider token.
type FederatedClaims struct {
	Provider       string
	ProviderUserID string
	Email          string
	Name           string
	Picture        string
}

// FederatedVerifier checks a provider id token against an audience.
type FederatedVerifier interface {
	Verify(ctx context.Context, idToken, audience string) (*FederatedClaims, error)
}

// FederatedVerifierFunc adapts a function to FederatedVerifier.
type FederatedVerifierFunc func(ctx context.Context, idToken, audience string) (*FederatedClaims, error)

func (f FederatedVerifierFunc) Verify(ctx context.Context, idToken, audience string) (*FederatedClaims, error) {
	return f(ctx, idToken, audience)
}
