// Package oneid manages the credential and identity lifecycle of user
// accounts: registration with email activation, local login, password reset
// with one time codes, Google federated login and session binding.
//
// # Account states
//
// Every Identity is in one AccountState. Shadow identities are placeholders
// created by other flows and are merged into a real account when someone
// registers with their email. Pending accounts are registered but not yet
// activated, Active accounts are verified, and Suspended accounts have been
// deactivated. Transitions are driven by StateEvent values and are applied
// with conditional store updates, so two concurrent requests cannot both
// move an identity out of the same state.
//
// # Basic Usage
//
//	accounts := &oneid.Accounts{
//	    Store:    fs.NewFSCredentialStore(storagePath),
//	    Secrets:  fs.NewFSSecretStore(storagePath),
//	    Signer:   oneid.NewTokenSigner(secret, "myapp"),
//	    Notifier: &oneid.ConsoleNotifier{ActivationURL: "https://myapp.com/activate"},
//	}
//	guard := oneid.NewSessionGuard(accounts, nil)
//	mux.Handle("/auth/", oneid.NewHandlers(accounts, guard).Handler("/auth"))
//
// # Store Implementations
//
// CredentialStore is implemented for the file system (stores/fs), SQL via
// gorm (stores/gorm), MongoDB (stores/mongo) and Google Cloud Datastore
// (stores/gae). Reset codes live in an EphemeralStore, either on disk or in
// redis (stores/redis), which also provides an scs session store.
//
// # Security
//
// Passwords are hashed using bcrypt with cost 10. Activation links carry an
// HS256 JWT with the "activation" subject that expires after 24 hours by
// default. Reset codes are 6 random digits held for an hour and compared in
// constant time.
package oneid
