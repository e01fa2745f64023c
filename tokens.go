package oneid

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SubjectActivation scopes tokens that activate a newly registered account.
const SubjectActivation = "activation"

// Default lifetimes
const (
	DefaultActivationExpiry = 24 * time.Hour
	DefaultResetCodeTTL     = 3600 * time.Second
	DefaultSessionLifetime  = 30 * 24 * time.Hour
)

// SubjectClaims is the payload of a subject scoped token.
type SubjectClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenSigner signs and verifies HS256 tokens bound to a subject and issuer.
type TokenSigner struct {
	Secret []byte
	Issuer string

	// Expiry is added as the exp claim. Zero issues tokens that never expire.
	Expiry time.Duration

	// Now is used for iat/exp. Defaults to time.Now.
	Now func() time.Time
}

// NewTokenSigner creates a signer with the default activation expiry.
func NewTokenSigner(secret, issuer string) *TokenSigner {
	return &TokenSigner{Secret: []byte(secret), Issuer: issuer, Expiry: DefaultActivationExpiry}
}

func (s *TokenSigner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// SignSubjectToken signs {email} under subject.
func (s *TokenSigner) SignSubjectToken(email, subject string) (string, error) {
	if len(s.Secret) == 0 {
		return "", errors.New("token signer has no secret")
	}
	now := s.now()
	claims := SubjectClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			Issuer:   s.Issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.Expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.Expiry))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifySubjectToken checks signature, issuer, subject and expiry and returns
// the decoded claims. Every failure is ErrInvalidToken.
func (s *TokenSigner) VerifySubjectToken(tokenString, subject string) (*SubjectClaims, error) {
	claims := &SubjectClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) { return s.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.Issuer),
		jwt.WithSubject(subject),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		e := NewAuthError(KindInvalidToken, MsgInvalidToken, "token")
		e.Err = err
		return nil, e
	}
	if claims.Email == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
