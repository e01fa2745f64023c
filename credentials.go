package oneid

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	fullNameRegex = regexp.MustCompile(`^[a-zA-Z ]+$`)
)

// Password length bounds accepted at registration and reset.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 64

	// MaxPasswordBytes is the longest input bcrypt will hash.
	MaxPasswordBytes = 72
)

// RegisterInput is the payload of a local registration.
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
	Avatar   string `json:"avatar,omitempty"`
}

// LoginInput is the payload of a local login.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ResetInput is the payload of a password reset confirmation.
type ResetInput struct {
	Email           string `json:"email"`
	Code            string `json:"code"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// FederatedInput is the payload of a federated login.
type FederatedInput struct {
	IDToken  string   `json:"idToken"`
	Platform Platform `json:"platform"`
}

// ValidateEmail checks the email format.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return validationError("email", "email is required")
	}
	if !emailRegex.MatchString(email) {
		return validationError("email", "invalid email format")
	}
	return nil
}

// ValidatePassword checks the password length bounds.
func ValidatePassword(field, password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength || n > MaxPasswordLength {
		return validationError(field, "password must be 8-64 characters")
	}
	if len(password) > MaxPasswordBytes {
		return validationError(field, "password must be at most 72 bytes")
	}
	return nil
}

// Validate checks a registration payload.
func (in *RegisterInput) Validate() error {
	if err := ValidateEmail(in.Email); err != nil {
		return err
	}
	if err := ValidatePassword("password", in.Password); err != nil {
		return err
	}
	name := strings.TrimSpace(in.FullName)
	if name == "" || !fullNameRegex.MatchString(name) {
		return validationError("fullName", "full name may only contain letters and spaces")
	}
	if in.Avatar != "" {
		if u, err := url.ParseRequestURI(in.Avatar); err != nil || u.Host == "" {
			return validationError("avatar", "avatar must be a valid URL")
		}
	}
	return nil
}

// Validate checks a login payload.
func (in *LoginInput) Validate() error {
	if err := ValidateEmail(in.Email); err != nil {
		return err
	}
	if in.Password == "" {
		return validationError("password", "password is required")
	}
	return nil
}

// Validate checks a reset payload. Matching of the two passwords is checked
// separately so that the mismatch has its own error.
func (in *ResetInput) Validate() error {
	if err := ValidateEmail(in.Email); err != nil {
		return err
	}
	if strings.TrimSpace(in.Code) == "" {
		return validationError("code", "code is required")
	}
	return ValidatePassword("password", in.Password)
}

// Validate checks a federated login payload.
func (in *FederatedInput) Validate() error {
	if !in.Platform.Valid() {
		return validationError("platform", MsgInvalidPlatform)
	}
	if strings.TrimSpace(in.IDToken) == "" {
		return validationError("idToken", "idToken is required")
	}
	return nil
}
