package account

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists accounts and their provider links in SQL. The schema is
// expected to exist before the store is used.
type Store struct {
	db *sql.DB
}

// NewStore creates an account store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateWithLink inserts a new account together with its first provider link
// in one transaction, so a crash between the two inserts cannot leave an
// account no login can ever reach. An empty account ID is filled with a fresh
// UUID before the insert.
func (s *Store) CreateWithLink(ctx context.Context, acct *Account, provider, subject string, now time.Time) error {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	acct.CreatedAt = now
	acct.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO accounts (id, username, email, full_name, first_name, last_name, suspended, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = tx.ExecContext(ctx, query,
		acct.ID, acct.Username, acct.Email, acct.FullName, acct.FirstName,
		acct.LastName, acct.Suspended, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	linkQuery := `
		INSERT INTO account_links (account_id, provider, subject, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err = tx.ExecContext(ctx, linkQuery, acct.ID, provider, subject, now)
	if err != nil {
		return fmt.Errorf("failed to create account link: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AddLink attaches an additional provider identity to an existing account.
// This is the signed-in linking path: a user with a live session logs in
// through a second provider and both identities end up on one account.
func (s *Store) AddLink(ctx context.Context, accountID, provider, subject string, now time.Time) error {
	query := `
		INSERT INTO account_links (account_id, provider, subject, created_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.db.ExecContext(ctx, query, accountID, provider, subject, now); err != nil {
		return fmt.Errorf("failed to create account link: %w", err)
	}
	return nil
}

// GetByLink loads the account linked to the given provider subject. Returns
// ErrNotFound when no link exists, which is the signal to provision.
func (s *Store) GetByLink(ctx context.Context, provider, subject string) (*Account, error) {
	query := `
		SELECT a.id, a.username, a.email, a.full_name, a.first_name, a.last_name,
		       a.suspended, a.created_at, a.updated_at, a.last_login_at
		FROM accounts a
		JOIN account_links l ON l.account_id = a.id
		WHERE l.provider = $1 AND l.subject = $2`

	acct := &Account{}
	err := s.db.QueryRowContext(ctx, query, provider, subject).Scan(
		&acct.ID, &acct.Username, &acct.Email, &acct.FullName, &acct.FirstName,
		&acct.LastName, &acct.Suspended, &acct.CreatedAt, &acct.UpdatedAt, &acct.LastLoginAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by link: %w", err)
	}
	return acct, nil
}

// Get loads an account by ID.
func (s *Store) Get(ctx context.Context, id string) (*Account, error) {
	query := `
		SELECT id, username, email, full_name, first_name, last_name,
		       suspended, created_at, updated_at, last_login_at
		FROM accounts
		WHERE id = $1`

	acct := &Account{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&acct.ID, &acct.Username, &acct.Email, &acct.FullName, &acct.FirstName,
		&acct.LastName, &acct.Suspended, &acct.CreatedAt, &acct.UpdatedAt, &acct.LastLoginAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}

// UpdateProfile overwrites the refreshable profile fields with what the
// identity provider asserted on the latest login. The provider is
// authoritative, so empty fields overwrite too.
func (s *Store) UpdateProfile(ctx context.Context, id string, profile Profile, now time.Time) error {
	query := `
		UPDATE accounts
		SET email = $1, full_name = $2, first_name = $3, last_name = $4, updated_at = $5
		WHERE id = $6`

	result, err := s.db.ExecContext(ctx, query,
		profile.Email, profile.FullName, profile.FirstName, profile.LastName, now, id)
	if err != nil {
		return fmt.Errorf("failed to update account profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordLogin stamps a successful login on the account and on the link it
// arrived through.
func (s *Store) RecordLogin(ctx context.Context, accountID, provider, subject string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET last_login_at = $1 WHERE id = $2`, now, accountID)
	if err != nil {
		return fmt.Errorf("failed to record account login: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE account_links SET last_login_at = $1 WHERE provider = $2 AND subject = $3`,
		now, provider, subject)
	if err != nil {
		return fmt.Errorf("failed to record link login: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SetSuspended flips the suspended flag. Suspended accounts are rejected at
// the provisioning step even when the identity provider still asserts them.
func (s *Store) SetSuspended(ctx context.Context, id string, suspended bool, now time.Time) error {
	query := `UPDATE accounts SET suspended = $1, updated_at = $2 WHERE id = $3`

	result, err := s.db.ExecContext(ctx, query, suspended, now, id)
	if err != nil {
		return fmt.Errorf("failed to update account suspension: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
