package broker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/openclave/gatehouse/pkg/oidc"
	"github.com/openclave/gatehouse/pkg/saml"
)

// ProviderStore persists the database layer of the provider catalog in
// PostgreSQL. Protocol configuration is stored as JSON columns so a new
// backend field never needs a migration.
type ProviderStore struct {
	db *sql.DB
}

// NewProviderStore creates the store and ensures its table exists.
func NewProviderStore(db *sql.DB) (*ProviderStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	s := &ProviderStore{db: db}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure providers table: %w", err)
	}
	return s, nil
}

func (s *ProviderStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS providers (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) UNIQUE NOT NULL,
		display_name VARCHAR(255) NOT NULL DEFAULT '',
		backend VARCHAR(32) NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT true,
		saml_config JSONB,
		oidc_config JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`
	_, err := s.db.Exec(query)
	return err
}

const providerColumns = `id, name, display_name, backend, enabled, saml_config, oidc_config, created_at, updated_at`

// Create inserts a new provider record and fills in its assigned ID and
// timestamps. A name collision returns ErrProviderExists.
func (s *ProviderStore) Create(ctx context.Context, rec *ProviderRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	samlConfig, oidcConfig, err := marshalConfigs(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO providers (name, display_name, backend, enabled, saml_config, oidc_config)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err = s.db.QueryRowContext(ctx, query,
		rec.Name, rec.DisplayName, rec.Backend, rec.Enabled, samlConfig, oidcConfig).
		Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrProviderExists
		}
		return fmt.Errorf("failed to create provider: %w", err)
	}
	rec.Source = SourceDB
	return nil
}

// Get loads one provider by name. Returns ErrProviderNotFound when the name
// has no row.
func (s *ProviderStore) Get(ctx context.Context, name string) (*ProviderRecord, error) {
	query := `SELECT ` + providerColumns + ` FROM providers WHERE name = $1`

	rec, err := scanProvider(s.db.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return rec, nil
}

// List returns providers ordered by name. With enabledOnly set, disabled
// providers are filtered out in SQL.
func (s *ProviderStore) List(ctx context.Context, enabledOnly bool) ([]*ProviderRecord, error) {
	query := `SELECT ` + providerColumns + ` FROM providers`
	if enabledOnly {
		query += ` WHERE enabled = true`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var records []*ProviderRecord
	for rows.Next() {
		rec, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Update overwrites the named provider's configuration. The name itself is
// immutable; renaming would orphan every account link minted under it.
func (s *ProviderStore) Update(ctx context.Context, rec *ProviderRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	samlConfig, oidcConfig, err := marshalConfigs(rec)
	if err != nil {
		return err
	}

	query := `
		UPDATE providers
		SET display_name = $1, backend = $2, enabled = $3, saml_config = $4, oidc_config = $5, updated_at = NOW()
		WHERE name = $6`

	result, err := s.db.ExecContext(ctx, query,
		rec.DisplayName, rec.Backend, rec.Enabled, samlConfig, oidcConfig, rec.Name)
	if err != nil {
		return fmt.Errorf("failed to update provider: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrProviderNotFound
	}
	return nil
}

// SetEnabled flips a provider's enabled flag without touching its
// configuration.
func (s *ProviderStore) SetEnabled(ctx context.Context, name string, enabled bool) error {
	query := `UPDATE providers SET enabled = $1, updated_at = NOW() WHERE name = $2`

	result, err := s.db.ExecContext(ctx, query, enabled, name)
	if err != nil {
		return fmt.Errorf("failed to update provider: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrProviderNotFound
	}
	return nil
}

// Delete removes the named provider.
func (s *ProviderStore) Delete(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete provider: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrProviderNotFound
	}
	return nil
}

// Exists reports whether a provider row with the given name exists.
func (s *ProviderStore) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM providers WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check provider existence: %w", err)
	}
	return exists, nil
}

func marshalConfigs(rec *ProviderRecord) ([]byte, []byte, error) {
	var samlConfig, oidcConfig []byte
	var err error
	if rec.SAML != nil {
		samlConfig, err = json.Marshal(rec.SAML)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal saml config: %w", err)
		}
	}
	if rec.OIDC != nil {
		oidcConfig, err = json.Marshal(rec.OIDC)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal oidc config: %w", err)
		}
	}
	return samlConfig, oidcConfig, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProvider(row rowScanner) (*ProviderRecord, error) {
	rec := &ProviderRecord{Source: SourceDB}
	var samlConfig, oidcConfig []byte

	err := row.Scan(&rec.ID, &rec.Name, &rec.DisplayName, &rec.Backend, &rec.Enabled,
		&samlConfig, &oidcConfig, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(samlConfig) > 0 {
		rec.SAML = &saml.IdentityProviderConfig{}
		if err := json.Unmarshal(samlConfig, rec.SAML); err != nil {
			return nil, fmt.Errorf("failed to unmarshal saml config: %w", err)
		}
	}
	if len(oidcConfig) > 0 {
		rec.OIDC = &oidc.ProviderConfig{}
		if err := json.Unmarshal(oidcConfig, rec.OIDC); err != nil {
			return nil, fmt.Errorf("failed to unmarshal oidc config: %w", err)
		}
	}
	return rec, nil
}
