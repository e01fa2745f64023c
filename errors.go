package oneid

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind identifies the class of an AuthError.
type ErrorKind string

const (
	KindValidation              ErrorKind = "validation_failed"
	KindInvalidCredentials      ErrorKind = "invalid_credentials"
	KindUnverifiedUser          ErrorKind = "unverified_user"
	KindAccountExists           ErrorKind = "account_exists"
	KindRegisterFirst           ErrorKind = "register_first"
	KindAlreadyVerified         ErrorKind = "already_verified"
	KindInvalidToken            ErrorKind = "invalid_token"
	KindSessionExpired          ErrorKind = "session_expired"
	KindPasswordMismatch        ErrorKind = "password_mismatch"
	KindCodeExpired             ErrorKind = "code_expired"
	KindInvalidCode             ErrorKind = "invalid_code"
	KindTokenVerificationFailed ErrorKind = "token_verification_failed"
	KindNotFound                ErrorKind = "not_found"
	KindInternal                ErrorKind = "internal_error"
)

// AuthError is returned by every caller-facing operation.
type AuthError struct {
	Kind    ErrorKind `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
	Status  int       `json:"-"`

	// Err is the underlying cause. It is logged, never shown to callers.
	Err error `json:"-"`
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches any AuthError of the same kind.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Kind == e.Kind
}

// NewAuthError creates an AuthError with the default status for kind.
func NewAuthError(kind ErrorKind, message, field string) *AuthError {
	return &AuthError{Kind: kind, Message: message, Field: field, Status: statusFor(kind)}
}

func statusFor(kind ErrorKind) int {
	switch kind {
	case KindValidation, KindPasswordMismatch, KindCodeExpired, KindInvalidCode:
		return http.StatusBadRequest
	case KindInvalidCredentials, KindSessionExpired:
		return http.StatusUnauthorized
	case KindUnverifiedUser:
		return http.StatusPreconditionFailed
	case KindAccountExists, KindAlreadyVerified:
		return http.StatusConflict
	case KindRegisterFirst, KindInvalidToken, KindTokenVerificationFailed:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// User facing messages.
const (
	MsgInvalidCredentials      = "Invalid Credentials!"
	MsgUnverifiedUser          = "Unverified Email!"
	MsgAccountExists           = "Account with given email already exists!"
	MsgRegisterFirst           = "Please signup first to activate your account!"
	MsgAlreadyVerified         = "Already Verified!"
	MsgInvalidToken            = "Invalid jwt token!"
	MsgSessionExpired          = "Session Expired! Please login again!"
	MsgPasswordMismatch        = "Password and confirm password do not match!"
	MsgCodeExpired             = "Given passcode is expired! Please try forgot password again to generate new passcode!"
	MsgInvalidCode             = "Invalid Code!"
	MsgTokenVerificationFailed = "Unable to verify idToken against given platform!"
	MsgNotFound                = "User not found!"
	MsgInternal                = "Something went wrong! Please try again later!"
	MsgInvalidPlatform         = "Platform is required and it must be one of following: ios,android,web."

	MsgRegisterSuccess = "We have sent you an activation email! Please check your email to activate your account!"
	MsgForgotPassword  = "An email has been sent with reset password instructions! Please check your email!"
	MsgPasswordUpdated = "Password Updated Successfully!"
)

// Sentinels for errors.Is. Do not mutate.
var (
	ErrInvalidCredentials      = NewAuthError(KindInvalidCredentials, MsgInvalidCredentials, "")
	ErrUnverifiedUser          = NewAuthError(KindUnverifiedUser, MsgUnverifiedUser, "")
	ErrAccountExists           = NewAuthError(KindAccountExists, MsgAccountExists, "email")
	ErrRegisterFirst           = NewAuthError(KindRegisterFirst, MsgRegisterFirst, "")
	ErrAlreadyVerified         = NewAuthError(KindAlreadyVerified, MsgAlreadyVerified, "")
	ErrInvalidToken            = NewAuthError(KindInvalidToken, MsgInvalidToken, "token")
	ErrSessionExpired          = NewAuthError(KindSessionExpired, MsgSessionExpired, "")
	ErrPasswordMismatch        = NewAuthError(KindPasswordMismatch, MsgPasswordMismatch, "confirmPassword")
	ErrCodeExpired             = NewAuthError(KindCodeExpired, MsgCodeExpired, "code")
	ErrInvalidCode             = NewAuthError(KindInvalidCode, MsgInvalidCode, "code")
	ErrTokenVerificationFailed = NewAuthError(KindTokenVerificationFailed, MsgTokenVerificationFailed, "idToken")
	ErrNotFound                = NewAuthError(KindNotFound, MsgNotFound, "")
	ErrInternal                = NewAuthError(KindInternal, MsgInternal, "")
)

// Store level sentinels. Backends wrap these.
var (
	ErrIdentityNotFound  = errors.New("identity not found")
	ErrDuplicateIdentity = errors.New("identity already exists")
	ErrSecretNotFound    = errors.New("secret not found")
)

func internalError(cause error) *AuthError {
	e := NewAuthError(KindInternal, MsgInternal, "")
	e.Err = cause
	return e
}

func validationError(field, message string) *AuthError {
	return NewAuthError(KindValidation, message, field)
}

// AsAuthError returns err as an AuthError, folding unknown errors into
// an internal error.
func AsAuthError(err error) *AuthError {
	if err == nil {
		return nil
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	return internalError(err)
}
