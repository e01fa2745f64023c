package oneid

import "context"

// Credentials is what a client presents to authenticate. The set is closed:
// LoginInput for local logins and FederatedInput for provider tokens.
type Credentials interface {
	strategyName() string
}

func (LoginInput) strategyName() string     { return StrategyLocal }
func (FederatedInput) strategyName() string { return StrategyFederated }

const (
	StrategyLocal     = "local"
	StrategyFederated = "federated"
)

// Strategy authenticates one kind of credentials.
type Strategy interface {
	Name() string
	Authenticate(ctx context.Context, creds Credentials) (*Identity, error)
}

// LocalStrategy checks email and password.
type LocalStrategy struct {
	Accounts *Accounts
}

func (s *LocalStrategy) Name() string { return StrategyLocal }

func (s *LocalStrategy) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	in, ok := creds.(LoginInput)
	if !ok {
		return nil, validationError("", "local login requires email and password")
	}
	return s.Accounts.ValidateLocal(ctx, in)
}

// FederatedStrategy checks a provider id token.
type FederatedStrategy struct {
	Accounts *Accounts
}

func (s *FederatedStrategy) Name() string { return StrategyFederated }

func (s *FederatedStrategy) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	in, ok := creds.(FederatedInput)
	if !ok {
		return nil, validationError("", "federated login requires an idToken and platform")
	}
	return s.Accounts.FederatedLogin(ctx, in)
}

// Authenticator dispatches credentials to the strategy registered for them.
type Authenticator struct {
	strategies map[string]Strategy
}

// NewAuthenticator returns an authenticator with the local and federated
// strategies bound to accounts.
func NewAuthenticator(accounts *Accounts) *Authenticator {
	return NewAuthenticatorWith(&LocalStrategy{Accounts: accounts}, &FederatedStrategy{Accounts: accounts})
}

// NewAuthenticatorWith returns an authenticator over the given strategies.
func NewAuthenticatorWith(strategies ...Strategy) *Authenticator {
	a := &Authenticator{strategies: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		a.strategies[s.Name()] = s
	}
	return a
}

// Authenticate runs the strategy matching creds.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	if creds == nil {
		return nil, validationError("", "credentials are required")
	}
	s, ok := a.strategies[creds.strategyName()]
	if !ok {
		return nil, validationError("", "unsupported login method")
	}
	return s.Authenticate(ctx, creds)
}
