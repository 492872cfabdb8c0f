package account

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no account matches the lookup. Callers use it
// to tell "provision a new account" apart from a storage failure.
var ErrNotFound = errors.New("account not found")

// Account is a local user record minted or refreshed by single sign-on
// logins. Accounts carry no credentials; authentication always happens at the
// upstream identity provider, so the only local state worth keeping is the
// profile and the suspended flag.
type Account struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email,omitempty"`
	FullName    string     `json:"full_name,omitempty"`
	FirstName   string     `json:"first_name,omitempty"`
	LastName    string     `json:"last_name,omitempty"`
	Suspended   bool       `json:"suspended"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// Link ties an account to one identity asserted by an upstream provider.
// Provider and Subject are unique together; the same person arriving through
// two providers gets two links, and without manual merging, two accounts.
type Link struct {
	ID          int64      `json:"id"`
	AccountID   string     `json:"account_id"`
	Provider    string     `json:"provider"`
	Subject     string     `json:"subject"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// ExternalID returns the provider-prefixed identifier for this link, the
// same form the authentication backends mint.
func (l *Link) ExternalID() string {
	return l.Provider + ":" + l.Subject
}

// Profile carries the profile fields refreshed from the identity provider on
// every repeat login. Username is fixed at provisioning time and is not part
// of the refresh.
type Profile struct {
	Email     string
	FullName  string
	FirstName string
	LastName  string
}
