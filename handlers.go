package oneid

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// Handlers exposes the account operations over HTTP.
type Handlers struct {
	Accounts *Accounts
	Guard    *SessionGuard
}

// NewHandlers creates handlers over accounts with the given guard.
func NewHandlers(accounts *Accounts, guard *SessionGuard) *Handlers {
	return &Handlers{Accounts: accounts, Guard: guard}
}

// Handler returns a router serving all routes under prefix, wrapped with
// session loading.
func (h *Handlers) Handler(prefix string) http.Handler {
	r := mux.NewRouter()
	h.Routes(r.PathPrefix(strings.TrimSuffix(prefix, "/")).Subrouter())
	return h.Guard.Manager.LoadAndSave(r)
}

// Routes registers the account routes on r. The caller must wrap the router
// with Guard.Manager.LoadAndSave.
func (h *Handlers) Routes(r *mux.Router) {
	r.HandleFunc("/login", h.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/register", h.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/register/verify/link", h.handleResendActivation).Methods(http.MethodGet)
	r.HandleFunc("/register/verify", h.handleRedeemActivation).Methods(http.MethodPost)
	r.HandleFunc("/google", h.handleGoogle).Methods(http.MethodPost)
	r.HandleFunc("/forgot-password", h.handleForgotPassword).Methods(http.MethodPost)
	r.HandleFunc("/reset-password", h.handleResetPassword).Methods(http.MethodPost)
	r.HandleFunc("/logout", h.handleLogout).Methods(http.MethodGet)
	r.Handle("/me", h.Guard.Require(http.HandlerFunc(h.handleMe))).Methods(http.MethodGet)
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in LoginInput
	if !decodeBody(w, r, &in) {
		return
	}
	identity, err := h.Guard.SignIn(r.Context(), in)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, identity.Profile())
}

func (h *Handlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in RegisterInput
	if !decodeBody(w, r, &in) {
		return
	}
	ack, err := h.Accounts.SignUp(r.Context(), in)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ack)
}

func (h *Handlers) handleResendActivation(w http.ResponseWriter, r *http.Request) {
	ack, err := h.Accounts.ResendActivation(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (h *Handlers) handleRedeemActivation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	identity, err := h.Accounts.RedeemActivation(r.Context(), body.Token)
	if err == nil {
		err = h.Guard.Login(r.Context(), identity)
	}
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, identity.Profile())
}

func (h *Handlers) handleGoogle(w http.ResponseWriter, r *http.Request) {
	var in FederatedInput
	if !decodeBody(w, r, &in) {
		return
	}
	h.completeFederated(w, r, in)
}

// CompleteGoogleWeb logs in with an id token obtained by the web code flow.
func (h *Handlers) CompleteGoogleWeb(w http.ResponseWriter, r *http.Request, idToken string) {
	h.completeFederated(w, r, FederatedInput{IDToken: idToken, Platform: PlatformWeb})
}

func (h *Handlers) completeFederated(w http.ResponseWriter, r *http.Request, in FederatedInput) {
	identity, err := h.Guard.SignIn(r.Context(), in)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, identity.Profile())
}

func (h *Handlers) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	ack, err := h.Accounts.RequestPasswordReset(r.Context(), body.Email)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (h *Handlers) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var in ResetInput
	if !decodeBody(w, r, &in) {
		return
	}
	ack, err := h.Accounts.ConfirmPasswordReset(r.Context(), in)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.Guard.Logout(r.Context()); err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handlers) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, err := h.Accounts.GetIdentity(r.Context(), IdentityIDFromContext(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
}

// WriteError writes err as a JSON error body with its status.
func WriteError(w http.ResponseWriter, err error) {
	ae := AsAuthError(err)
	status := ae.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorBody{
		StatusCode: status,
		Error:      http.StatusText(status),
		Code:       string(ae.Kind),
		Message:    ae.Message,
		Field:      ae.Field,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("error encoding response: %v", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, validationError("", "invalid post body"))
		return false
	}
	return true
}
