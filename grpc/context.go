// Package grpc carries authenticated identities into gRPC services. Clients
// send their session token (or a trusted gateway forwards the identity id)
// as metadata, and the interceptors resolve it into the handler context.
package grpc

import (
	"context"

	"google.golang.org/grpc/metadata"

	oi "github.com/panyam/oneid"
)

// Default metadata keys for authentication context.
const (
	// DefaultMetadataKeySessionToken carries the scs session token
	DefaultMetadataKeySessionToken = "x-session-token"

	// DefaultMetadataKeyIdentityID carries an identity id forwarded by a trusted gateway
	DefaultMetadataKeyIdentityID = "x-identity-id"

	// DefaultMetadataKeySwitchIdentity is for switching to a different identity (testing only)
	DefaultMetadataKeySwitchIdentity = "x-switch-identity"
)

// Config holds the metadata key configuration for auth context.
type Config struct {
	// MetadataKeySessionToken defaults to "x-session-token".
	MetadataKeySessionToken string

	// MetadataKeyIdentityID defaults to "x-identity-id".
	MetadataKeyIdentityID string

	// MetadataKeySwitchIdentity defaults to "x-switch-identity".
	MetadataKeySwitchIdentity string

	// TrustForwardedIdentity accepts MetadataKeyIdentityID as is. Only enable
	// it behind a gateway that strips the key from client requests.
	TrustForwardedIdentity bool

	// EnableSwitchAuth allows the switch header to override the identity.
	// Should only be enabled in development/testing environments.
	EnableSwitchAuth bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeySessionToken:   DefaultMetadataKeySessionToken,
		MetadataKeyIdentityID:     DefaultMetadataKeyIdentityID,
		MetadataKeySwitchIdentity: DefaultMetadataKeySwitchIdentity,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeySessionToken == "" {
		c.MetadataKeySessionToken = DefaultMetadataKeySessionToken
	}
	if c.MetadataKeyIdentityID == "" {
		c.MetadataKeyIdentityID = DefaultMetadataKeyIdentityID
	}
	if c.MetadataKeySwitchIdentity == "" {
		c.MetadataKeySwitchIdentity = DefaultMetadataKeySwitchIdentity
	}
}

func firstValue(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

// IdentityIDFromContext returns the identity id resolved by the interceptors.
// Returns empty string if no identity is authenticated.
func IdentityIDFromContext(ctx context.Context) string {
	return oi.IdentityIDFromContext(ctx)
}

// IsAuthenticated returns true if there is an authenticated identity in the context.
func IsAuthenticated(ctx context.Context) bool {
	return IdentityIDFromContext(ctx) != ""
}

// SessionTokenToOutgoingContext adds a session token to outgoing gRPC metadata.
func SessionTokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeySessionToken, token)
}

// IdentityIDToOutgoingContext forwards an identity id to a service that trusts the caller.
func IdentityIDToOutgoingContext(ctx context.Context, identityID string) context.Context {
	return IdentityIDToOutgoingContextWithKey(ctx, identityID, DefaultMetadataKeyIdentityID)
}

// IdentityIDToOutgoingContextWithKey forwards an identity id under a custom key.
func IdentityIDToOutgoingContextWithKey(ctx context.Context, identityID string, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, key, identityID)
}

// SwitchIdentityToOutgoingContext adds a switch header to outgoing gRPC metadata.
// This is only effective when EnableSwitchAuth is set on the server.
func SwitchIdentityToOutgoingContext(ctx context.Context, identityID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeySwitchIdentity, identityID)
}
