package grpc

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	oi "github.com/panyam/oneid"
)

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// Guard resolves session tokens. Without it only forwarded and switched
	// identities are recognized.
	Guard *oi.SessionGuard

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed but IdentityIDFromContext returns empty.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool
}

// DefaultInterceptorConfig returns a config that requires auth for all methods.
func DefaultInterceptorConfig(guard *oi.SessionGuard) *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		Guard:         guard,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(guard *oi.SessionGuard, publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig(guard)
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig(guard *oi.SessionGuard) *InterceptorConfig {
	config := DefaultInterceptorConfig(guard)
	config.RequireAuth = false
	return config
}

func (c *InterceptorConfig) ensureDefaults() *InterceptorConfig {
	if c == nil {
		c = DefaultInterceptorConfig(nil)
	}
	if c.Config == nil {
		c.Config = DefaultConfig()
	}
	c.Config.EnsureDefaults()
	return c
}

// authenticate resolves the identity and returns a context carrying it.
func (c *InterceptorConfig) authenticate(ctx context.Context, method string) (context.Context, error) {
	identityID := extractIdentityID(ctx, c)
	if identityID != "" {
		ctx = oi.WithIdentityID(ctx, identityID)
	} else if c.RequireAuth && !c.PublicMethods[method] {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	return ctx, nil
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that processes auth metadata.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config = config.ensureDefaults()
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := config.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

// StreamAuthInterceptor returns a gRPC stream interceptor that processes auth metadata.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config = config.ensureDefaults()
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

// extractIdentityID reads the identity from switch, session or forwarded metadata, in that order.
func extractIdentityID(ctx context.Context, config *InterceptorConfig) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}

	if config.EnableSwitchAuth {
		if id := firstValue(md, config.MetadataKeySwitchIdentity); id != "" {
			return id
		}
	}

	if token := firstValue(md, config.MetadataKeySessionToken); token != "" && config.Guard != nil {
		sessCtx, err := config.Guard.Manager.Load(ctx, token)
		if err != nil {
			slog.WarnContext(ctx, "loading session failed", "error", err)
		} else if id, err := config.Guard.CurrentIdentityID(sessCtx); err == nil {
			return id
		}
	}

	if config.TrustForwardedIdentity {
		return firstValue(md, config.MetadataKeyIdentityID)
	}
	return ""
}
