// Package broker ties the authentication backends together into one login
// service: a merged provider catalog, the HTTP login and callback surface,
// cross-instance replay protection, just-in-time account provisioning, and
// Redis-backed sessions.
//
// # Provider Catalog
//
// Providers come from two layers. A YAML file (FileSource) ships the static
// providers and hot-reloads on change; the providers table (ProviderStore)
// holds the ones managed through the admin API. The layers merge by name
// with the database winning, so an operator can override a file-shipped
// provider without editing the file. Every rebuild validates the merged set
// and swaps it into the SAML and OIDC engines atomically; a bad record
// leaves the previous catalog serving.
//
// # Login Flow
//
// Login starts at GET /auth/sso/login (or the per-provider variant) and
// ends at the protocol callback. The broker drives the callback end to end:
//
//	result, err := b.CompleteLogin(ctx, r, saml.BackendKind, "", "")
//
// which validates the response through the backend, consumes the response
// digest in the replay guard, provisions or refreshes the local account,
// and issues a session. Every step that fails is classified: the completed
// logins counter and the audit trail both record whether the callback was
// invalid, denied, a replay, or an infrastructure error.
//
// # Sessions
//
// Sessions live in Redis under their own TTL with a per-account index, so
// one compromised account can have every session revoked in one call.
// Suspending an account revokes its sessions immediately rather than at
// next login.
//
// # Identity Linking
//
// A signed-in user completing a login through a second provider gets that
// identity linked to their existing account instead of a duplicate account.
// Unattended logins with an unknown identity always provision a fresh
// account; linking only ever happens under a live session.
package broker
