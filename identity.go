package oneid

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ProviderGoogle is the provider name recorded on Google identity links.
const ProviderGoogle = "google"

// AccountState is the lifecycle position of an identity.
type AccountState int

const (
	// StateShadow is a placeholder created by another flow. It has no usable
	// password and is merged into a real account on registration.
	StateShadow AccountState = iota
	// StatePending is a registered account waiting for activation.
	StatePending
	// StateActive is a registered and verified account.
	StateActive
	// StateSuspended is an account that has been deactivated.
	StateSuspended
)

var stateNames = map[AccountState]string{
	StateShadow:    "shadow",
	StatePending:   "pending",
	StateActive:    "active",
	StateSuspended: "suspended",
}

func (s AccountState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseAccountState is the inverse of String.
func ParseAccountState(name string) (AccountState, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown account state %q", name)
}

func (s AccountState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *AccountState) UnmarshalText(b []byte) (err error) {
	*s, err = ParseAccountState(string(b))
	return err
}

// Registered reports whether the state belongs to a real (non placeholder,
// non suspended) account.
func (s AccountState) Registered() bool {
	return s == StatePending || s == StateActive
}

// StateEvent is an input to the account state machine.
type StateEvent string

const (
	EventRegister      StateEvent = "register"
	EventActivate      StateEvent = "activate"
	EventFederatedLink StateEvent = "federated_link"
	EventResetPassword StateEvent = "reset_password"
	EventSuspend       StateEvent = "suspend"
)

type transition struct {
	from []AccountState
	to   func(AccountState) AccountState
}

func always(to AccountState) func(AccountState) AccountState {
	return func(AccountState) AccountState { return to }
}

var transitions = map[StateEvent]transition{
	// the target of a registration depends on verifiedByInvitation and is set by the caller
	EventRegister:      {from: []AccountState{StateShadow, StateSuspended}, to: always(StatePending)},
	EventActivate:      {from: []AccountState{StatePending}, to: always(StateActive)},
	EventFederatedLink: {from: []AccountState{StateShadow, StatePending, StateActive, StateSuspended}, to: always(StateActive)},
	EventResetPassword: {
		from: []AccountState{StateShadow, StatePending, StateActive, StateSuspended},
		to: func(s AccountState) AccountState {
			if s == StatePending {
				return StateActive
			}
			return s
		},
	},
	EventSuspend: {from: []AccountState{StatePending, StateActive}, to: always(StateSuspended)},
}

// SourceStates returns the states from which the event is allowed.
func SourceStates(event StateEvent) []AccountState {
	t, ok := transitions[event]
	if !ok {
		return nil
	}
	out := make([]AccountState, len(t.from))
	copy(out, t.from)
	return out
}

// Can reports whether event is allowed from s.
func (s AccountState) Can(event StateEvent) bool {
	t, ok := transitions[event]
	if !ok {
		return false
	}
	for _, from := range t.from {
		if from == s {
			return true
		}
	}
	return false
}

// Apply returns the state after event, or false if the event is not allowed.
func (s AccountState) Apply(event StateEvent) (AccountState, bool) {
	if !s.Can(event) {
		return s, false
	}
	return transitions[event].to(s), true
}

// StateFromFlags derives the account state from the persisted flags.
// A verified shadow is still a shadow.
func StateFromFlags(active, verified, shadow bool) AccountState {
	switch {
	case shadow:
		return StateShadow
	case !active:
		return StateSuspended
	case verified:
		return StateActive
	default:
		return StatePending
	}
}

// Flags returns the persisted (isActive, isVerified, isShadow) form of s.
func (s AccountState) Flags() (active, verified, shadow bool) {
	switch s {
	case StateShadow:
		return false, false, true
	case StatePending:
		return true, false, false
	case StateActive:
		return true, true, false
	default:
		return false, false, false
	}
}

// IdentityProviderLink ties an identity to an account at a federated provider.
type IdentityProviderLink struct {
	Provider       string `json:"provider"`
	ProviderUserID string `json:"providerUserId"`
}

// LinkKey is the flattened lookup key of a provider link.
func LinkKey(provider, providerUserID string) string {
	return provider + ":" + providerUserID
}

// Identity is the user record.
type Identity struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	PasswordHash string                 `json:"password,omitempty"`
	FullName     string                 `json:"fullName"`
	Avatar       string                 `json:"avatar,omitempty"`
	State        AccountState           `json:"-"`
	Links        []IdentityProviderLink `json:"idps,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

func (i *Identity) IsActive() bool   { a, _, _ := i.State.Flags(); return a }
func (i *Identity) IsVerified() bool { _, v, _ := i.State.Flags(); return v }
func (i *Identity) IsShadow() bool   { return i.State == StateShadow }

// HasLink reports whether the identity is linked to the given provider account.
func (i *Identity) HasLink(provider, providerUserID string) bool {
	for _, l := range i.Links {
		if l.Provider == provider && l.ProviderUserID == providerUserID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	if i.Links != nil {
		out.Links = append([]IdentityProviderLink(nil), i.Links...)
	}
	return &out
}

// Sanitized returns a copy with the password hash removed.
func (i *Identity) Sanitized() *Identity {
	out := i.Clone()
	if out != nil {
		out.PasswordHash = ""
	}
	return out
}

// Profile returns a sanitized copy without provider links, as shown to the
// logged in user.
func (i *Identity) Profile() *Identity {
	out := i.Sanitized()
	if out != nil {
		out.Links = nil
	}
	return out
}

type identityJSON struct {
	identityAlias
	State      *AccountState `json:"state,omitempty"`
	IsActive   bool          `json:"isActive"`
	IsVerified bool          `json:"isVerified"`
	IsShadow   bool          `json:"isShadow"`
}

type identityAlias Identity

// MarshalJSON adds the state and its flag form.
func (i Identity) MarshalJSON() ([]byte, error) {
	out := identityJSON{identityAlias: identityAlias(i), State: &i.State}
	out.IsActive, out.IsVerified, out.IsShadow = i.State.Flags()
	return json.Marshal(out)
}

// UnmarshalJSON reads the state, falling back to the flags when absent.
func (i *Identity) UnmarshalJSON(b []byte) error {
	var in identityJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*i = Identity(in.identityAlias)
	if in.State != nil {
		i.State = *in.State
	} else {
		i.State = StateFromFlags(in.IsActive, in.IsVerified, in.IsShadow)
	}
	return nil
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
