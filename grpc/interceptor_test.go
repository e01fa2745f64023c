package grpc

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	oi "github.com/panyam/oneid"
)

// newTestSession returns a guard and the token of a session bound to identityID
func newTestSession(t *testing.T, identityID string) (*oi.SessionGuard, string) {
	t.Helper()
	guard := oi.NewSessionGuard(nil, nil)
	ctx, err := guard.Manager.Load(context.Background(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	guard.Manager.Put(ctx, oi.DefaultSessionKey, identityID)
	token, _, err := guard.Manager.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	return guard, token
}

func incoming(pairs ...string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(pairs...))
}

func expectUnauthenticated(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error for unauthenticated request")
	}
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected grpc status error, got %v", err)
	}
	if st.Code() != codes.Unauthenticated {
		t.Errorf("expected Unauthenticated code, got %v", st.Code())
	}
}

func TestDefaultInterceptorConfig(t *testing.T) {
	config := DefaultInterceptorConfig(nil)
	if !config.RequireAuth {
		t.Error("expected RequireAuth to be true by default")
	}
	if config.PublicMethods == nil || config.Config == nil {
		t.Error("expected PublicMethods and Config to be initialized")
	}
	if OptionalAuthConfig(nil).RequireAuth {
		t.Error("expected RequireAuth to be false for optional auth")
	}
	config = NewPublicMethodsConfig(nil, "/pkg.Svc/Method1", "/pkg.Svc/Method2")
	if !config.PublicMethods["/pkg.Svc/Method1"] || !config.PublicMethods["/pkg.Svc/Method2"] || config.PublicMethods["/pkg.Svc/Method3"] {
		t.Errorf("unexpected public methods %v", config.PublicMethods)
	}
}

func TestUnaryAuthInterceptor(t *testing.T) {
	guard, token := newTestSession(t, "identity-1")

	switchConfig := DefaultInterceptorConfig(guard)
	switchConfig.EnableSwitchAuth = true
	forwardConfig := DefaultInterceptorConfig(nil)
	forwardConfig.TrustForwardedIdentity = true

	tests := []struct {
		name     string
		config   *InterceptorConfig
		ctx      context.Context
		method   string
		wantID   string
		wantDeny bool
	}{
		{"no metadata", nil, context.Background(), "/pkg.Svc/Method", "", true},
		{"valid session", DefaultInterceptorConfig(guard), incoming(DefaultMetadataKeySessionToken, token), "/pkg.Svc/Method", "identity-1", false},
		{"unknown session", DefaultInterceptorConfig(guard), incoming(DefaultMetadataKeySessionToken, "bogus"), "/pkg.Svc/Method", "", true},
		{"session without guard", DefaultInterceptorConfig(nil), incoming(DefaultMetadataKeySessionToken, token), "/pkg.Svc/Method", "", true},
		{"untrusted forwarded id", DefaultInterceptorConfig(guard), incoming(DefaultMetadataKeyIdentityID, "forged"), "/pkg.Svc/Method", "", true},
		{"trusted forwarded id", forwardConfig, incoming(DefaultMetadataKeyIdentityID, "fwd-1"), "/pkg.Svc/Method", "fwd-1", false},
		{"switch identity", switchConfig, incoming(DefaultMetadataKeySessionToken, token, DefaultMetadataKeySwitchIdentity, "other"), "/pkg.Svc/Method", "other", false},
		{"public method", NewPublicMethodsConfig(guard, "/pkg.Svc/Public"), context.Background(), "/pkg.Svc/Public", "", false},
		{"optional auth", OptionalAuthConfig(guard), context.Background(), "/pkg.Svc/Method", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interceptor := UnaryAuthInterceptor(tt.config)
			info := &grpc.UnaryServerInfo{FullMethod: tt.method}

			handlerCalled := false
			var gotID string
			_, err := interceptor(tt.ctx, nil, info, func(ctx context.Context, req any) (any, error) {
				handlerCalled = true
				gotID = IdentityIDFromContext(ctx)
				return "result", nil
			})

			if tt.wantDeny {
				expectUnauthenticated(t, err)
				if handlerCalled {
					t.Error("handler should not be called")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !handlerCalled {
				t.Fatal("handler should have been called")
			}
			if gotID != tt.wantID {
				t.Errorf("expected identity %q, got %q", tt.wantID, gotID)
			}
		})
	}
}

// mockServerStream implements grpc.ServerStream for testing
type mockServerStream struct {
	ctx context.Context
}

func (m *mockServerStream) Context() context.Context     { return m.ctx }
func (m *mockServerStream) SetHeader(metadata.MD) error  { return nil }
func (m *mockServerStream) SendHeader(metadata.MD) error { return nil }
func (m *mockServerStream) SetTrailer(metadata.MD)       {}
func (m *mockServerStream) SendMsg(any) error            { return nil }
func (m *mockServerStream) RecvMsg(any) error            { return nil }

func TestStreamAuthInterceptor_RequireAuth_NoIdentity(t *testing.T) {
	interceptor := StreamAuthInterceptor(nil)

	stream := &mockServerStream{ctx: context.Background()}
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/StreamMethod"}

	err := interceptor(nil, stream, info, func(srv any, ss grpc.ServerStream) error {
		t.Error("handler should not be called")
		return nil
	})
	expectUnauthenticated(t, err)
}

func TestStreamAuthInterceptor_WithSession(t *testing.T) {
	guard, token := newTestSession(t, "identity-2")
	interceptor := StreamAuthInterceptor(DefaultInterceptorConfig(guard))

	stream := &mockServerStream{ctx: incoming(DefaultMetadataKeySessionToken, token)}
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/StreamMethod"}

	var gotID string
	err := interceptor(nil, stream, info, func(srv any, ss grpc.ServerStream) error {
		gotID = IdentityIDFromContext(ss.Context())
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotID != "identity-2" {
		t.Errorf("expected identity-2 in stream context, got %q", gotID)
	}
}

func TestStreamAuthInterceptor_PublicMethod(t *testing.T) {
	interceptor := StreamAuthInterceptor(NewPublicMethodsConfig(nil, "/pkg.Svc/PublicStream"))

	stream := &mockServerStream{ctx: context.Background()}
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/PublicStream"}

	handlerCalled := false
	err := interceptor(nil, stream, info, func(srv any, ss grpc.ServerStream) error {
		handlerCalled = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error for public stream: %v", err)
	}
	if !handlerCalled {
		t.Error("handler should have been called for public stream")
	}
}
