// Package gae provides a Google Cloud Datastore CredentialStore.
//
// Identities are keyed by email. Each provider link also gets its own
// ProviderLink entity keyed by provider and provider user id, so federated
// lookups and uniqueness checks are key reads that run inside the same
// transaction as the identity write.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	store := gae.NewCredentialStore(client, "my-namespace")
package gae
