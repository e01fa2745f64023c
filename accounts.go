package oneid

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultResetCodeLength is the number of digits in a reset code.
const DefaultResetCodeLength = 6

// Acknowledgement is the generic success reply of operations that do not
// return an identity.
type Acknowledgement struct {
	Message string `json:"message"`
}

// Accounts runs the identity lifecycle: registration, activation, password
// reset, federated login and local credential checks.
type Accounts struct {
	Store    CredentialStore
	Secrets  EphemeralStore
	Signer   *TokenSigner
	Notifier Notifier

	// Verifier checks federated id tokens, audiences are picked per platform.
	Verifier  FederatedVerifier
	Audiences Audiences

	ResetCodeLength int
	ResetCodeTTL    time.Duration

	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string

	defaultsOnce sync.Once
}

// EnsureDefaults fills in default values for any unset fields. Fields must
// not be changed after the first operation.
func (a *Accounts) EnsureDefaults() {
	a.defaultsOnce.Do(a.setDefaults)
}

func (a *Accounts) setDefaults() {
	if a.ResetCodeLength <= 0 {
		a.ResetCodeLength = DefaultResetCodeLength
	}
	if a.ResetCodeTTL <= 0 {
		a.ResetCodeTTL = DefaultResetCodeTTL
	}
	if a.Logger == nil {
		a.Logger = slog.Default()
	}
	if a.Now == nil {
		a.Now = time.Now
	}
	if a.NewID == nil {
		a.NewID = uuid.NewString
	}
	if a.Notifier == nil {
		a.Notifier = &ConsoleNotifier{}
	}
}

// fail logs an unexpected cause and folds it into an internal error.
func (a *Accounts) fail(op string, err error) error {
	a.Logger.Error("identity operation failed", "op", op, "error", err)
	return internalError(fmt.Errorf("%s: %w", op, err))
}

// Register creates a local account, or promotes a shadow or suspended
// placeholder with the same email into one.
func (a *Accounts) Register(ctx context.Context, in RegisterInput, verifiedByInvitation bool) (*Identity, error) {
	a.EnsureDefaults()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	email := NormalizeEmail(in.Email)
	fullName := strings.TrimSpace(in.FullName)
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, a.fail("register", err)
	}
	target := StatePending
	if verifiedByInvitation {
		target = StateActive
	}

	existing, err := a.Store.FindByEmail(ctx, email)
	if errors.Is(err, ErrIdentityNotFound) {
		now := a.Now()
		created, err := a.Store.Insert(ctx, &Identity{
			ID:           a.NewID(),
			Email:        email,
			PasswordHash: hash,
			FullName:     fullName,
			Avatar:       in.Avatar,
			State:        target,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err == nil {
			return created.Sanitized(), nil
		}
		if !errors.Is(err, ErrDuplicateIdentity) {
			return nil, a.fail("register", err)
		}
		// Someone inserted the same email meanwhile
		if existing, err = a.Store.FindByEmail(ctx, email); err != nil {
			return nil, a.fail("register", err)
		}
	} else if err != nil {
		return nil, a.fail("register", err)
	}

	if existing.State.Registered() {
		return nil, ErrAccountExists
	}

	promoted, err := a.Store.FindOneAndUpdate(ctx,
		ByEmail(email, SourceStates(EventRegister)...),
		Patch{
			State:        StatePtr(target),
			PasswordHash: StrPtr(hash),
			FullName:     StrPtr(fullName),
			Avatar:       StrPtr(in.Avatar),
		})
	if errors.Is(err, ErrIdentityNotFound) {
		current, rerr := a.Store.FindByEmail(ctx, email)
		if rerr == nil && current.State.Registered() {
			return nil, ErrAccountExists
		}
		return nil, a.fail("register", fmt.Errorf("placeholder for %s vanished during promotion", email))
	} else if err != nil {
		return nil, a.fail("register", err)
	}
	a.Logger.Info("promoted placeholder identity", "id", promoted.ID, "from", existing.State.String())
	return promoted.Sanitized(), nil
}

// SignUp registers a new account and sends its activation token.
func (a *Accounts) SignUp(ctx context.Context, in RegisterInput) (*Acknowledgement, error) {
	identity, err := a.Register(ctx, in, false)
	if err != nil {
		return nil, err
	}
	return a.IssueActivation(ctx, identity)
}

// IssueActivation signs an activation token for identity and hands it to the
// notifier. The token is never returned.
func (a *Accounts) IssueActivation(ctx context.Context, identity *Identity) (*Acknowledgement, error) {
	a.EnsureDefaults()
	token, err := a.Signer.SignSubjectToken(identity.Email, SubjectActivation)
	if err != nil {
		return nil, a.fail("issue_activation", err)
	}
	if err := a.Notifier.SendActivation(ctx, identity.Email, token); err != nil {
		a.Logger.Warn("failed to send activation", "email", identity.Email, "error", err)
	}
	return &Acknowledgement{Message: MsgRegisterSuccess}, nil
}

// checkActivatable returns the precondition error for activating identity.
func checkActivatable(identity *Identity) error {
	if identity == nil || !identity.State.Registered() {
		return ErrRegisterFirst
	}
	if identity.State == StateActive {
		return ErrAlreadyVerified
	}
	return nil
}

func (a *Accounts) findForActivation(ctx context.Context, op, email string) (*Identity, error) {
	identity, err := a.Store.FindByEmail(ctx, email)
	if errors.Is(err, ErrIdentityNotFound) {
		return nil, ErrRegisterFirst
	} else if err != nil {
		return nil, a.fail(op, err)
	}
	if err := checkActivatable(identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// ResendActivation issues a fresh activation token to a pending account.
func (a *Accounts) ResendActivation(ctx context.Context, email string) (*Acknowledgement, error) {
	a.EnsureDefaults()
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	identity, err := a.findForActivation(ctx, "resend_activation", NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	return a.IssueActivation(ctx, identity)
}

// RedeemActivation verifies an activation token and marks its account verified.
func (a *Accounts) RedeemActivation(ctx context.Context, token string) (*Identity, error) {
	a.EnsureDefaults()
	claims, err := a.Signer.VerifySubjectToken(token, SubjectActivation)
	if err != nil {
		return nil, err
	}
	email := NormalizeEmail(claims.Email)
	if _, err := a.findForActivation(ctx, "redeem_activation", email); err != nil {
		return nil, err
	}

	activated, err := a.Store.FindOneAndUpdate(ctx,
		ByEmail(email, SourceStates(EventActivate)...),
		Patch{State: StatePtr(StateActive)})
	if errors.Is(err, ErrIdentityNotFound) {
		// lost the update to a concurrent change, report what that change was
		if _, err := a.findForActivation(ctx, "redeem_activation", email); err != nil {
			return nil, err
		}
		return nil, a.fail("redeem_activation", fmt.Errorf("activation of %s matched nothing", email))
	} else if err != nil {
		return nil, a.fail("redeem_activation", err)
	}
	return activated.Sanitized(), nil
}

// RequestPasswordReset stores a fresh reset code for email and sends it.
func (a *Accounts) RequestPasswordReset(ctx context.Context, email string) (*Acknowledgement, error) {
	a.EnsureDefaults()
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	email = NormalizeEmail(email)
	if _, err := a.Store.FindByEmail(ctx, email); errors.Is(err, ErrIdentityNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, a.fail("request_reset", err)
	}

	code, err := RandomNumericCode(a.ResetCodeLength)
	if err != nil {
		return nil, a.fail("request_reset", err)
	}
	if err := a.Secrets.Set(ctx, email, code, a.ResetCodeTTL); err != nil {
		return nil, a.fail("request_reset", err)
	}
	if err := a.Notifier.SendResetCode(ctx, email, code); err != nil {
		a.Logger.Warn("failed to send reset code", "email", email, "error", err)
	}
	return &Acknowledgement{Message: MsgForgotPassword}, nil
}

// ConfirmPasswordReset consumes a reset code and sets a new password.
func (a *Accounts) ConfirmPasswordReset(ctx context.Context, in ResetInput) (*Acknowledgement, error) {
	a.EnsureDefaults()
	if in.Password != in.ConfirmPassword {
		return nil, ErrPasswordMismatch
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	email := NormalizeEmail(in.Email)

	stored, err := a.Secrets.Get(ctx, email)
	if errors.Is(err, ErrSecretNotFound) {
		return nil, ErrCodeExpired
	} else if err != nil {
		return nil, a.fail("confirm_reset", err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(strings.TrimSpace(in.Code))) != 1 {
		return nil, ErrInvalidCode
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, a.fail("confirm_reset", err)
	}
	res, err := a.Store.UpdateMany(ctx, ByEmail(email), Patch{PasswordHash: StrPtr(hash), MarkVerified: true})
	if err != nil {
		return nil, a.fail("confirm_reset", err)
	}
	if res.Matched == 0 {
		return nil, a.fail("confirm_reset", fmt.Errorf("password update for %s matched nothing", email))
	}

	if err := a.Secrets.Delete(ctx, email); err != nil {
		a.Logger.Warn("failed to delete reset code", "email", email, "error", err)
	}
	return &Acknowledgement{Message: MsgPasswordUpdated}, nil
}

// FederatedLogin verifies a provider token and returns the linked identity,
// linking or creating one by email when the provider account is new.
func (a *Accounts) FederatedLogin(ctx context.Context, in FederatedInput) (*Identity, error) {
	a.EnsureDefaults()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	audience, ok := a.Audiences.For(in.Platform)
	if !ok {
		return nil, validationError("platform", MsgInvalidPlatform)
	}
	if a.Verifier == nil {
		return nil, a.fail("federated_login", errors.New("no federated verifier configured"))
	}
	claims, err := a.Verifier.Verify(ctx, in.IDToken, audience)
	if err != nil {
		a.Logger.Warn("federated token rejected", "platform", string(in.Platform), "error", err)
		e := NewAuthError(KindTokenVerificationFailed, MsgTokenVerificationFailed, "idToken")
		e.Err = err
		return nil, e
	}
	if claims == nil || claims.ProviderUserID == "" {
		return nil, ErrTokenVerificationFailed
	}
	provider := claims.Provider
	if provider == "" {
		provider = ProviderGoogle
	}

	linked, err := a.Store.FindByProvider(ctx, provider, claims.ProviderUserID)
	if err == nil {
		return linked.Sanitized(), nil
	} else if !errors.Is(err, ErrIdentityNotFound) {
		return nil, a.fail("federated_login", err)
	}

	email := NormalizeEmail(claims.Email)
	if email == "" {
		return nil, ErrTokenVerificationFailed
	}
	link := IdentityProviderLink{Provider: provider, ProviderUserID: claims.ProviderUserID}
	patch := Patch{State: StatePtr(StateActive), AddLink: &link}

	for attempt := 0; attempt < 2; attempt++ {
		updated, err := a.Store.FindOneAndUpdate(ctx, ByEmail(email), patch)
		if err == nil {
			a.Logger.Info("linked provider account", "id", updated.ID, "provider", provider)
			return updated.Sanitized(), nil
		} else if !errors.Is(err, ErrIdentityNotFound) {
			return nil, a.fail("federated_login", err)
		}

		now := a.Now()
		created, err := a.Store.Insert(ctx, &Identity{
			ID:        a.NewID(),
			Email:     email,
			FullName:  strings.TrimSpace(claims.Name),
			Avatar:    claims.Picture,
			State:     StateActive,
			Links:     []IdentityProviderLink{link},
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err == nil {
			return created.Sanitized(), nil
		} else if !errors.Is(err, ErrDuplicateIdentity) {
			return nil, a.fail("federated_login", err)
		}
		// a concurrent login created it first, link to that one
		if linked, err := a.Store.FindByProvider(ctx, provider, claims.ProviderUserID); err == nil {
			return linked.Sanitized(), nil
		}
	}
	return nil, a.fail("federated_login", fmt.Errorf("could not link or create identity for %s", email))
}

// ValidateLocal checks email and password and returns the sanitized identity.
func (a *Accounts) ValidateLocal(ctx context.Context, in LoginInput) (*Identity, error) {
	a.EnsureDefaults()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	identity, err := a.Store.FindByEmail(ctx, NormalizeEmail(in.Email))
	if errors.Is(err, ErrIdentityNotFound) {
		return nil, ErrInvalidCredentials
	} else if err != nil {
		return nil, a.fail("validate_local", err)
	}
	if !identity.IsActive() || !VerifyPassword(identity.PasswordHash, in.Password) {
		return nil, ErrInvalidCredentials
	}
	if !identity.IsVerified() {
		return nil, ErrUnverifiedUser
	}
	return identity.Sanitized(), nil
}

// GetIdentity loads the profile of an identity by id.
func (a *Accounts) GetIdentity(ctx context.Context, id string) (*Identity, error) {
	a.EnsureDefaults()
	identity, err := a.Store.FindByID(ctx, id)
	if errors.Is(err, ErrIdentityNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, a.fail("get_identity", err)
	}
	return identity.Profile(), nil
}

// Suspend deactivates a registered account.
func (a *Accounts) Suspend(ctx context.Context, email string) (*Identity, error) {
	a.EnsureDefaults()
	suspended, err := a.Store.FindOneAndUpdate(ctx,
		ByEmail(email, SourceStates(EventSuspend)...),
		Patch{State: StatePtr(StateSuspended)})
	if errors.Is(err, ErrIdentityNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, a.fail("suspend", err)
	}
	return suspended.Sanitized(), nil
}
