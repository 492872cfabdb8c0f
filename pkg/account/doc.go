// Package account stores the local accounts that single sign-on logins mint
// and refresh.
//
// An account is keyed by a UUID and reached through links: one row per
// (provider, subject) pair asserted by an upstream identity provider. The
// provisioning flow resolves the link first, creates account and link in one
// transaction when the subject is new, and refreshes the profile fields on
// repeat logins:
//
//	acct, err := store.GetByLink(ctx, "corp-okta", permanentID)
//	if errors.Is(err, account.ErrNotFound) {
//		acct = &account.Account{Username: username, Email: email}
//		err = store.CreateWithLink(ctx, acct, "corp-okta", permanentID, time.Now())
//	}
//
// Accounts hold no credentials. The suspended flag is the one piece of local
// authorization state: a suspended account fails login regardless of what
// the identity provider asserts.
package account
