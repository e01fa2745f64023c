package oauth2

import (
	"context"
	"fmt"

	"google.golang.org/api/idtoken"

	oi "github.com/panyam/oneid"
)

// PayloadValidator checks a Google id token for an audience.
// *idtoken.Validator implements it.
type PayloadValidator interface {
	Validate(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error)
}

// GoogleVerifier implements oi.FederatedVerifier for Google id tokens.
type GoogleVerifier struct {
	Validator PayloadValidator
}

// NewGoogleVerifier creates a verifier that fetches Google's signing keys.
func NewGoogleVerifier(ctx context.Context, opts ...idtoken.ClientOption) (*GoogleVerifier, error) {
	v, err := idtoken.NewValidator(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &GoogleVerifier{Validator: v}, nil
}

func (g *GoogleVerifier) Verify(ctx context.Context, idToken, audience string) (*oi.FederatedClaims, error) {
	payload, err := g.Validator.Validate(ctx, idToken, audience)
	if err != nil {
		return nil, err
	}
	if payload.Subject == "" {
		return nil, fmt.Errorf("id token has no subject")
	}
	claim := func(name string) string {
		s, _ := payload.Claims[name].(string)
		return s
	}
	// accounts are linked by email, so the provider must vouch for it
	if claim("email") != "" && !emailVerified(payload.Claims["email_verified"]) {
		return nil, fmt.Errorf("id token email is not verified")
	}
	return &oi.FederatedClaims{
		Provider:       oi.ProviderGoogle,
		ProviderUserID: payload.Subject,
		Email:          claim("email"),
		Name:           claim("name"),
		Picture:        claim("picture"),
	}, nil
}

// emailVerified reads the email_verified claim, which some issuers send as a
// string. A missing claim is accepted.
func emailVerified(v any) bool {
	switch b := v.(type) {
	case nil:
		return true
	case bool:
		return b
	case string:
		return b == "true"
	default:
		return false
	}
}
