package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openclave/gatehouse/pkg/account"
	"github.com/openclave/gatehouse/pkg/observability"
	"github.com/openclave/gatehouse/pkg/saml"
)

// ProvisionResult describes what the provisioner did with an asserted
// identity: resolved it to an existing account, minted a new one, or linked
// it to the account of an already signed-in user.
type ProvisionResult struct {
	Account *account.Account
	Created bool
	Linked  bool
}

// Provisioner turns normalized identities into local accounts. First login
// through a provider creates the account just in time; repeat logins refresh
// the profile from whatever the IdP asserted this time.
type Provisioner struct {
	accounts *account.Store
	logger   *observability.Logger
}

// NewProvisioner creates a provisioner over the account store.
func NewProvisioner(accounts *account.Store, logger *observability.Logger) *Provisioner {
	return &Provisioner{accounts: accounts, logger: logger}
}

// Provision resolves the identity to a local account. When linkTo names an
// account, an identity with no existing link is attached to that account
// instead of minting a new one; that is the signed-in linking path, where
// the HTTP layer has already verified a live session for linkTo.
//
// Suspended accounts are rejected even though the IdP asserted the user.
// Suspension is the local kill switch for exactly that case.
func (p *Provisioner) Provision(ctx context.Context, identity *saml.NormalizedIdentity, linkTo string) (*ProvisionResult, error) {
	now := time.Now().UTC()
	log := p.logger.WithProvider(identity.IdPName).WithField("external_id", identity.ExternalID())

	acct, err := p.accounts.GetByLink(ctx, identity.IdPName, identity.PermanentID)
	switch {
	case err == nil:
		return p.refresh(ctx, acct, identity, now, log)
	case errors.Is(err, account.ErrNotFound):
		if linkTo != "" {
			return p.link(ctx, linkTo, identity, now, log)
		}
		return p.create(ctx, identity, now, log)
	default:
		return nil, fmt.Errorf("failed to resolve identity: %w", err)
	}
}

func (p *Provisioner) refresh(ctx context.Context, acct *account.Account, identity *saml.NormalizedIdentity, now time.Time, log *observability.Logger) (*ProvisionResult, error) {
	if acct.Suspended {
		log.WithField("account_id", acct.ID).Warn("login rejected for suspended account")
		return nil, &AccountSuspendedError{AccountID: acct.ID}
	}

	profile := account.Profile{
		Email:     identity.Profile.Email,
		FullName:  fullName(identity.Profile),
		FirstName: identity.Profile.FirstName,
		LastName:  identity.Profile.LastName,
	}
	if err := p.accounts.UpdateProfile(ctx, acct.ID, profile, now); err != nil {
		return nil, fmt.Errorf("failed to refresh profile: %w", err)
	}
	if err := p.accounts.RecordLogin(ctx, acct.ID, identity.IdPName, identity.PermanentID, now); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}

	acct.Email = profile.Email
	acct.FullName = profile.FullName
	acct.FirstName = profile.FirstName
	acct.LastName = profile.LastName
	acct.UpdatedAt = now
	acct.LastLoginAt = &now
	return &ProvisionResult{Account: acct}, nil
}

func (p *Provisioner) create(ctx context.Context, identity *saml.NormalizedIdentity, now time.Time, log *observability.Logger) (*ProvisionResult, error) {
	acct := &account.Account{
		Username:  username(identity),
		Email:     identity.Profile.Email,
		FullName:  fullName(identity.Profile),
		FirstName: identity.Profile.FirstName,
		LastName:  identity.Profile.LastName,
	}
	if err := p.accounts.CreateWithLink(ctx, acct, identity.IdPName, identity.PermanentID, now); err != nil {
		return nil, fmt.Errorf("failed to provision account: %w", err)
	}
	if err := p.accounts.RecordLogin(ctx, acct.ID, identity.IdPName, identity.PermanentID, now); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}
	acct.LastLoginAt = &now

	log.WithField("account_id", acct.ID).WithField("username", acct.Username).Info("provisioned account on first login")
	return &ProvisionResult{Account: acct, Created: true}, nil
}

func (p *Provisioner) link(ctx context.Context, accountID string, identity *saml.NormalizedIdentity, now time.Time, log *observability.Logger) (*ProvisionResult, error) {
	acct, err := p.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account for linking: %w", err)
	}
	if acct.Suspended {
		log.WithField("account_id", acct.ID).Warn("login rejected for suspended account")
		return nil, &AccountSuspendedError{AccountID: acct.ID}
	}

	if err := p.accounts.AddLink(ctx, acct.ID, identity.IdPName, identity.PermanentID, now); err != nil {
		return nil, err
	}
	// The profile is deliberately not refreshed here. It belongs to the
	// provider the account was provisioned from, not to every linked one.
	if err := p.accounts.RecordLogin(ctx, acct.ID, identity.IdPName, identity.PermanentID, now); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}
	acct.LastLoginAt = &now

	log.WithField("account_id", acct.ID).Info("linked additional identity to account")
	return &ProvisionResult{Account: acct, Linked: true}, nil
}

// username picks the provisioning-time username. It is fixed at creation, so
// the fallbacks favor something human-readable before giving up and using
// the collision-proof external ID.
func username(identity *saml.NormalizedIdentity) string {
	if identity.Profile.Username != "" {
		return identity.Profile.Username
	}
	if identity.Profile.Email != "" {
		return identity.Profile.Email
	}
	return identity.ExternalID()
}

func fullName(profile saml.Profile) string {
	if profile.FullName != "" {
		return profile.FullName
	}
	return strings.TrimSpace(profile.FirstName + " " + profile.LastName)
}
