// Package audit records security-relevant authentication events for
// compliance review and incident forensics.
//
// # Overview
//
// Every login attempt, policy denial, replay rejection, logout, session
// revocation, and provider configuration change produces an Event. Events
// carry the acting account, the external identity, the request context
// (IP, user agent, request ID), and free-form metadata.
//
// # Event Types
//
// Authentication: auth.login, auth.login_failed, auth.login_denied,
// auth.logout, auth.replay_blocked
// Sessions: session.revoked
// Configuration: provider.created, provider.updated, provider.deleted
//
// # Usage Example
//
// Record a completed login:
//
//	event := audit.NewEvent(ctx, r, audit.EventLogin, audit.StatusSuccess)
//	event.AccountID = account.ID
//	event.Provider = providerName
//	logger.Log(ctx, event)
//
// Search the trail:
//
//	events, err := store.Search(ctx, audit.SearchFilter{
//		StartTime:  &dayAgo,
//		EventTypes: []audit.EventType{audit.EventLoginFailed},
//		Provider:   "corp-okta",
//		Limit:      50,
//	})
//
// # Retention
//
// The Archiver compresses old events to object storage as NDJSON batches
// and deletes them from the database once the upload succeeds. Export
// supports JSON, CSV, and NDJSON for external analysis.
package audit
