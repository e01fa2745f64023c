package oneid_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	oi "github.com/panyam/oneid"
	"github.com/panyam/oneid/stores/fs"
	"github.com/panyam/oneid/stores/storetest"
)

// recordingNotifier keeps the last token and code sent per email
type recordingNotifier struct {
	mu          sync.Mutex
	activations map[string]string
	codes       map[string]string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{activations: map[string]string{}, codes: map[string]string{}}
}

func (n *recordingNotifier) SendActivation(ctx context.Context, email, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.activations[email] = token
	return nil
}

func (n *recordingNotifier) SendResetCode(ctx context.Context, email, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes[email] = code
	return nil
}

func (n *recordingNotifier) activation(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.activations[email]
}

func (n *recordingNotifier) code(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[email]
}

// fakeGoogle accepts tokens of the form "sub|email|name" for the web audience
func fakeGoogle(audience string) oi.FederatedVerifier {
	return oi.FederatedVerifierFunc(func(ctx context.Context, idToken, aud string) (*oi.FederatedClaims, error) {
		if aud != audience {
			return nil, errors.New("audience mismatch")
		}
		parts := strings.Split(idToken, "|")
		if len(parts) != 3 {
			return nil, errors.New("malformed token")
		}
		return &oi.FederatedClaims{Provider: oi.ProviderGoogle, ProviderUserID: parts[0], Email: parts[1], Name: parts[2]}, nil
	})
}

type testEnv struct {
	accounts *oi.Accounts
	store    *fs.FSCredentialStore
	secrets  *fs.FSSecretStore
	notifier *recordingNotifier
	clock    *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupTestAccounts(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	clock := &testClock{now: time.Now()}

	store := fs.NewFSCredentialStore(dir)
	secrets := fs.NewFSSecretStore(dir)
	secrets.Now = clock.Now
	notifier := newRecordingNotifier()

	accounts := &oi.Accounts{
		Store:     store,
		Secrets:   secrets,
		Signer:    oi.NewTokenSigner("test-secret", "issuer"),
		Notifier:  notifier,
		Verifier:  fakeGoogle("web-client"),
		Audiences: oi.Audiences{oi.PlatformWeb: "web-client", oi.PlatformIOS: "ios-client"},
	}
	return &testEnv{accounts: accounts, store: store, secrets: secrets, notifier: notifier, clock: clock}
}

func registerInput(email string) oi.RegisterInput {
	return oi.RegisterInput{Email: email, Password: "password123", FullName: "  Test User  "}
}

func expectKind(t *testing.T, err error, want *oi.AuthError) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %s, got %v", want.Kind, err)
	}
}

func TestRegister_NewEmail(t *testing.T) {
	for _, invited := range []bool{false, true} {
		env := setupTestAccounts(t)
		ctx := context.Background()

		identity, err := env.accounts.Register(ctx, registerInput("New.User@Example.com"), invited)
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if identity.Email != "new.user@example.com" {
			t.Errorf("expected lowercased email, got %s", identity.Email)
		}
		if identity.FullName != "Test User" {
			t.Errorf("expected trimmed name, got %q", identity.FullName)
		}
		if identity.PasswordHash != "" {
			t.Error("password hash must not be returned")
		}
		if identity.IsShadow() || !identity.IsActive() || identity.IsVerified() != invited {
			t.Errorf("invited=%v: unexpected flags on %+v", invited, identity)
		}

		stored, err := env.store.FindByEmail(ctx, "new.user@example.com")
		if err != nil {
			t.Fatalf("FindByEmail failed: %v", err)
		}
		if !oi.VerifyPassword(stored.PasswordHash, "password123") {
			t.Error("stored hash should verify against the original password")
		}
	}
}

func TestRegister_ExistingAccount(t *testing.T) {
	env := setupTestAccounts(t)
	ctx := context.Background()

	for _, state := range []oi.AccountState{oi.StatePending, oi.StateActive} {
		email := state.String() + "@example.com"
		if _, err := env.store.Insert(ctx, storetest.NewIdentity(email, state)); err != nil {
			t.Fatal(err)
		}
		in := oi.RegisterInput{Email: email, Password: "different-pass", FullName: "Someone Else"}
		_, err := env.accounts.Register(ctx, in, true)
		expectKind(t, err, oi.ErrAccountExists)
	}
}

func TestRegister_PromotesPlaceholder(t *testing.T) {
	tests := []struct {
		name  string
		state oi.AccountState
	}{
		{"Shadow", oi.StateShadow},
		{"Suspended", oi.StateSuspended},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestAccounts(t)
			ctx := context.Background()

			placeholder := storetest.NewIdentity("invitee@example.com", tt.state)
			placeholder.PasswordHash = ""
			if _, err := env.store.Insert(ctx, placeholder); err != nil {
				t.Fatal(err)
			}

			identity, err := env.accounts.Register(ctx, registerInput("invitee@example.com"), false)
			if err != nil {
				t.Fatalf("Register failed: %v", err)
			}
			if identity.ID != placeholder.ID {
				t.Errorf("expected id %s to be preserved, got %s", placeholder.ID, identity.ID)
			}
			if identity.State != oi.StatePending {
				t.Errorf("expected pending, got %s", identity.State)
			}
			stored, _ := env.store.FindByEmail(ctx, "invitee@example.com")
			if !oi.VerifyPassword(stored.PasswordHash, "password123") {
				t.Error("password should be set on promotion")
			}
		})
	}
}

func TestRegister_Validation(t *testing.T) {
	env := setupTestAccounts(t)
	tests := []struct {
		name  string
		in    oi.RegisterInput
		field string
	}{
		{"BadEmail", oi.RegisterInput{Email: "not-an-email", Password: "password123", FullName: "A B"}, "email"},
		{"ShortPassword", oi.RegisterInput{Email: "a@example.com", Password: "short", FullName: "A B"}, "password"},
		{"DigitsInName", oi.RegisterInput{Email: "a@example.com", Password: "password123", FullName: "A1"}, "fullName"},
		{"BadAvatar", oi.RegisterInput{Email: "a@example.com", Password: "password123", FullName: "A B", Avatar: "nope"}, "avatar"},
		{"MultibytePasswordOverBcryptLimit", oi.RegisterInput{Email: "a@example.com", Password: strings.Repeat("é", 40), FullName: "A B"}, "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.accounts.Register(context.Background(), tt.in, false)
			ae := oi.AsAuthError(err)
			if ae == nil || ae.Kind != oi.KindValidation || ae.Field != tt.field {
				t.Errorf("expected validation error on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestActivation_RedeemTwice(t *testing.T) {
	env := setupTestAccounts(t)
	ctx := context.Background()

	ack, err := env.accounts.SignUp(ctx, registerInput("activate@example.com"))
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if ack.Message != oi.MsgRegisterSuccess {
		t.Errorf("unexpected ack %q", ack.Message)
	}
	token := env.notifier.activation("activate@example.com")
	if token == "" {
		t.Fatal("expected activation token to be sent")
	}

	identity, err := env.accounts.RedeemActivation(ctx, token)
	if err != nil {
		t.Fatalf("RedeemActivation failed: %v", err)
	}
	if !identity.IsVerified() || identity.PasswordHash != "" {
		t.Errorf("unexpected identity %+v", identity)
	}

	_, err = env.accounts.RedeemActivation(ctx, token)
	expectKind(t, err, oi.ErrAlreadyVerified)
}

func TestActivation_Errors(t *testing.T) {
	env := setupTestAccounts(t)
	ctx := context.Background()

	_, err := env.accounts.RedeemActivation(ctx, "garbage")
	expectKind(t, err, oi.ErrInvalidToken)

	other := oi.NewTokenSigner("other-secret", "issuer")
	forged, _ := other.SignSubjectToken("x@example.com", oi.SubjectActivation)
	_, err = env.accounts.RedeemActivation(ctx, forged)
	expectKind(t, err, oi.ErrInvalidToken)

	missing, _ := env.accounts.Signer.SignSubjectToken("missing@example.com", oi.SubjectActivation)
	_, err = env.accounts.RedeemActivation(ctx, missing)
	expectKind(t, err, oi.ErrRegisterFirst)

	if _, err := env.store.Insert(ctx, storetest.NewIdentity("shadow@example.com", oi.StateShadow)); err != nil {
		t.Fatal(err)
	}
	shadow, _ := env.accounts.Signer.SignSubjectToken("shadow@example.com", oi.SubjectActivation)
	_, err = env.accounts.RedeemActivation(ctx, shadow)
	expectKind(t, err, oi.ErrRegisterFirst)
}

func TestResendActivation(t *testing.T) {
	env := setupTestAccounts(t)
	ctx := context.Background()

	_, err := env.accounts.ResendActivation(ctx, "nobody@example.com")
	expectKind(t, err, oi.ErrRegisterFirst)

	if _, err := env.accounts.Register(ctx, registerInput("resend@example.com"), false); err != nil {
		t.Fatal(err)
	}
	if _, err := env.accounts.ResendActivation(ctx, "Resend@Example.com"); err != nil {
		t.Fatalf("ResendActivation failed: %v", err)
	}
	if env.notifier.activation("resend@example.com") == "" {
		t.Fatal("expected a token to be sent")
	}

	if _, err := env.accounts.RedeemActivation(ctx, env.notifier.activation("resend@example.com")); err != nil {
		t.Fatal(err)
	}
	_, err = env.accounts.ResendActivation(ctx, "resend@example.com")
	expectKind(t, err, oi.ErrAlreadyVerified)
}

func TestPasswordReset_Flow(t *testing.T) {
	env := setupTestAccounts(t)
	ctx := context.Background()

	if _, err := env.accounts.Register(ctx, registerInput("reset@example.com"), true); err != nil {
		t.Fatal(err)
	}

	_, err := env.accounts.RequestPasswordReset(ctx, "missing@example.com")
	expectKind(t, err, oi.ErrNotFound)

	ack, err := env.accounts.RequestPasswordReset(ctx, "reset@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if ack.Message != oi.MsgForgotPassword {
		t.Errorf("unexpected ack %q", ack.Message)
	}
	code := env.notifier.code("reset@example.com")
	if len(code) != 6 || strings.Trim(code, "0123456789") != "" {
		t.Fatalf("expected a 6 digit code, got %q", code)
	}

	// mismatch leaves the password untouched
	_, err = env.accounts.ConfirmPasswordReset(ctx, oi.ResetInput{
		Email: "reset@example.com", Code: code, Password: "newpassword1", ConfirmPassword: "newpassword2",
	})
	expectKind(t, err, oi.ErrPasswordMismatch)
	if _, err := env.accounts.ValidateLocal(ctx, oi.LoginInput{Email: "reset@example.com", Password: "password123"}); err != nil {
		t.Fatalf("old password should still work: %v", err)
	}

	// wrong code does not consume the stored one
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	_, err = env.accounts.ConfirmPasswordReset(ctx, oi.ResetInput{
		Email: "reset@example.com", Code: wrong, Password: "newpassword1", ConfirmPassword: "newpassword1",
	})
	expectKind(t, err, oi.ErrInvalidCode)

	ack, err = env.accounts.ConfirmPasswordReset(ctx, oi.ResetInput{
		Email: "reset@example.com", Code: code, Password: "newpassword1", ConfirmPassword: "newpassword1",
	})
	if err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}
	if ack.Message != oi.MsgPasswordUpdated {
		t.Errorf("unexpected ack %q", ack.Message)
	}

	_, err = env.accounts.ValidateLocal(ctx, oi.LoginInput{Email: "reset@example.com", Password: "password123"})
	expectKind(t, err, oi.ErrInvalidCredentials)
	if _, err := env.accounts.ValidateLocal(ctx, oi.LoginInput{Email: "reset@example.com", Password: "newpassword1"}); err != nil {
		t.Errorf("new password should work: %v", err)
	}

	_, err = env.accounts.ConfirmPasswordReset(ctx, oi.ResetInput{
		Email: "reset@example.com", Code: code, Password: "newpassword1", ConfirmPassword: "newpassword1",
	})
	expectKind(t, err, oi.ErrCodeExpired)
}

func TestPasswordReset_VerifiesPendingAccount(t *testing.T) {
	env := setupTestAccounts(t)
	ctx := context.Background()

	if _, err := env.accounts.Register(ctx, registerInput("pending@example.com"), false); err != nil {
		t.Fatal(err)
	}
	if _, err := env.accounts.RequestPasswordReset(ctx, "pending@example.com"); err != nil {
		t.Fatal(err)
	}
	code := env.notifier.code("pending@example.com")
	if _, err := env.accounts.ConfirmPasswordReset(ctx, oi.ResetInput{
		Email: "pending@example.com", Code: code, Password: "newpassword1", ConfirmPassword: "newpassword1",
	}); err != nil {
		t.Fatal(err)
	}
	identity, err := env.accounts.ValidateLocal(ctx, oi.LoginInput{Email: "pending@example.com", Password: "newpassword1"})
	if err != nil {
		t.Fatalf("expected reset to verify the account: %v", err)
	}
	if identity.State != oi.StateActive {
		t.Errorf("expected active, got %s", identity.State)
	}
}

func TestPasswordReset_CodeExpires(t *testing.T) {
	env := setupTestAccounts(t)
	ctx := context.Background()

	if _, err := env.accounts.Register(ctx, registerInput("ttl@example.com"), true); err != nil {
		t.Fatal(err)
	}
	if _, err := env.accounts.RequestPasswordReset(ctx, "ttl@example.com"); err != nil {
		t.Fatal(err)
	}
	code := env.notifier.code("ttl@example.com")

	env.clock.Advance(oi.DefaultResetCodeTTL + time.Second)
	_, err := env.accounts.ConfirmPasswordReset(ctx, oi.ResetInput{
		Email: "ttl@example.com", Code: code, Password: "newpassword1", ConfirmPassword: "newpassword1",
	})
	expectKind(t, err, oi.ErrCodeExpired)
}

func TestFederatedLogin(t *testing.T) {
	env := setupTestAccounts(t)
	ctx := context.Background()

	local, err := env.accounts.Register(ctx, registerInput("fed@example.com"), false)
	if err != nil {
		t.Fatal(err)
	}

	linked, err := env.accounts.FederatedLogin(ctx, oi.FederatedInput{IDToken: "g-100|Fed@Example.com|Fed User", Platform: oi.PlatformWeb})
	if err != nil {
		t.Fatalf("FederatedLogin failed: %v", err)
	}
	if linked.ID != local.ID {
		t.Errorf("expected link to existing account %s, got %s", local.ID, linked.ID)
	}
	if linked.State != oi.StateActive || !linked.HasLink(oi.ProviderGoogle, "g-100") {
		t.Errorf("unexpected linked identity %+v", linked)
	}

	again, err := env.accounts.FederatedLogin(ctx, oi.FederatedInput{IDToken: "g-100|fed@example.com|Fed User", Platform: oi.PlatformWeb})
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != local.ID || len(again.Links) != 1 {
		t.Errorf("second login should return the same identity unchanged, got %+v", again)
	}

	// linking verified the local account too
	if _, err := env.accounts.ValidateLocal(ctx, oi.LoginInput{Email: "fed@example.com", Password: "password123"}); err != nil {
		t.Errorf("local login after link failed: %v", err)
	}
}

func TestFederatedLogin_CreatesIdentity(t *testing.T) {
	env := setupTestAccounts(t)
	ctx := context.Background()

	created, err := env.accounts.FederatedLogin(ctx, oi.FederatedInput{IDToken: "g-7|brand@example.com|Brand New", Platform: oi.PlatformWeb})
	if err != nil {
		t.Fatalf("FederatedLogin failed: %v", err)
	}
	if created.State != oi.StateActive || created.FullName != "Brand New" {
		t.Errorf("unexpected identity %+v", created)
	}

	stored, _ := env.store.FindByEmail(ctx, "brand@example.com")
	if stored.PasswordHash != "" {
		t.Error("federated identities must not have a password")
	}
	_, err = env.accounts.ValidateLocal(ctx, oi.LoginInput{Email: "brand@example.com", Password: "anything1"})
	expectKind(t, err, oi.ErrInvalidCredentials)
}

func TestFederatedLogin_Errors(t *testing.T) {
	env := setupTestAccounts(t)
	ctx := context.Background()

	_, err := env.accounts.FederatedLogin(ctx, oi.FederatedInput{IDToken: "a|b@example.com|c", Platform: "desktop"})
	if ae := oi.AsAuthError(err); ae == nil || ae.Status != 400 || ae.Field != "platform" {
		t.Errorf("expected bad request on platform, got %v", err)
	}

	// no audience configured for android
	_, err = env.accounts.FederatedLogin(ctx, oi.FederatedInput{IDToken: "a|b@example.com|c", Platform: oi.PlatformAndroid})
	if ae := oi.AsAuthError(err); ae == nil || ae.Status != 400 {
		t.Errorf("expected bad request for unconfigured platform, got %v", err)
	}

	// ios audience does not match the fake verifier
	_, err = env.accounts.FederatedLogin(ctx, oi.FederatedInput{IDToken: "a|b@example.com|c", Platform: oi.PlatformIOS})
	expectKind(t, err, oi.ErrTokenVerificationFailed)

	_, err = env.accounts.FederatedLogin(ctx, oi.FederatedInput{IDToken: "malformed", Platform: oi.PlatformWeb})
	expectKind(t, err, oi.ErrTokenVerificationFailed)
}

func TestValidateLocal(t *testing.T) {
	env := setupTestAccounts(t)
	ctx := context.Background()

	if _, err := env.accounts.Register(ctx, registerInput("verified@example.com"), true); err != nil {
		t.Fatal(err)
	}
	if _, err := env.accounts.Register(ctx, registerInput("unverified@example.com"), false); err != nil {
		t.Fatal(err)
	}
	if _, err := env.accounts.Register(ctx, registerInput("suspended@example.com"), true); err != nil {
		t.Fatal(err)
	}
	if _, err := env.accounts.Suspend(ctx, "suspended@example.com"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		email    string
		password string
		want     *oi.AuthError
	}{
		{"Success", "verified@example.com", "password123", nil},
		{"WrongPassword", "verified@example.com", "wrongpass", oi.ErrInvalidCredentials},
		{"Missing", "ghost@example.com", "password123", oi.ErrInvalidCredentials},
		{"Unverified", "unverified@example.com", "password123", oi.ErrUnverifiedUser},
		{"UnverifiedWrongPassword", "unverified@example.com", "wrongpass", oi.ErrInvalidCredentials},
		{"Suspended", "suspended@example.com", "password123", oi.ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity, err := env.accounts.ValidateLocal(ctx, oi.LoginInput{Email: tt.email, Password: tt.password})
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				if identity.PasswordHash != "" {
					t.Error("password hash must be stripped")
				}
				return
			}
			expectKind(t, err, tt.want)
		})
	}
}

func TestGetIdentity(t *testing.T) {
	env := setupTestAccounts(t)
	ctx := context.Background()

	created, err := env.accounts.FederatedLogin(ctx, oi.FederatedInput{IDToken: "g-9|me@example.com|Me Myself", Platform: oi.PlatformWeb})
	if err != nil {
		t.Fatal(err)
	}
	me, err := env.accounts.GetIdentity(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetIdentity failed: %v", err)
	}
	if len(me.Links) != 0 || me.PasswordHash != "" {
		t.Errorf("profile should not expose links or password: %+v", me)
	}

	_, err = env.accounts.GetIdentity(ctx, "nope")
	expectKind(t, err, oi.ErrNotFound)
}

// failingStore returns an error from every call
type failingStore struct{ oi.CredentialStore }

func (failingStore) FindByEmail(ctx context.Context, email string) (*oi.Identity, error) {
	return nil, errors.New("connection reset")
}

func TestInternalErrorsHideCause(t *testing.T) {
	env := setupTestAccounts(t)
	env.accounts.Store = failingStore{}

	_, err := env.accounts.ValidateLocal(context.Background(), oi.LoginInput{Email: "a@example.com", Password: "password123"})
	ae := oi.AsAuthError(err)
	if ae.Kind != oi.KindInternal || ae.Message != oi.MsgInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
	if strings.Contains(ae.Message, "connection reset") {
		t.Error("cause must not leak into the message")
	}
	if ae.Unwrap() == nil {
		t.Error("cause should be kept for logging")
	}
}

func TestAccounts_ConcurrentFirstUse(t *testing.T) {
	dir := t.TempDir()
	// no defaults filled in before the first calls
	accounts := &oi.Accounts{
		Store:   fs.NewFSCredentialStore(dir),
		Secrets: fs.NewFSSecretStore(dir),
		Signer:  oi.NewTokenSigner("test-secret", "issuer"),
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := accounts.ValidateLocal(ctx, oi.LoginInput{Email: "nobody@example.com", Password: "password123"})
			if !errors.Is(err, oi.ErrInvalidCredentials) {
				errs <- err
			}
		}()
		go func(i int) {
			defer wg.Done()
			in := registerInput(strings.Repeat("x", i+1) + "@example.com")
			if _, err := accounts.Register(ctx, in, false); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
}
