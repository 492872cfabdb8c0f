package broker

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var providerColumnNames = []string{
	"id", "name", "display_name", "backend", "enabled",
	"saml_config", "oidc_config", "created_at", "updated_at",
}

func setupProviderStore(t *testing.T) (*ProviderStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS providers").
		WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewProviderStore(db)
	require.NoError(t, err)
	return store, mock
}

func addProviderRow(rows *sqlmock.Rows, rec *ProviderRecord, createdAt time.Time) {
	var samlConfig, oidcConfig []byte
	if rec.SAML != nil {
		samlConfig, _ = json.Marshal(rec.SAML)
	}
	if rec.OIDC != nil {
		oidcConfig, _ = json.Marshal(rec.OIDC)
	}
	rows.AddRow(rec.ID, rec.Name, rec.DisplayName, rec.Backend, rec.Enabled,
		samlConfig, oidcConfig, createdAt, createdAt)
}

func TestNewProviderStore(t *testing.T) {
	t.Run("creates the table", func(t *testing.T) {
		store, mock := setupProviderStore(t)
		assert.NotNil(t, store)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil database", func(t *testing.T) {
		store, err := NewProviderStore(nil)
		assert.Nil(t, store)
		assert.ErrorContains(t, err, "database connection is required")
	})

	t.Run("table creation failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS providers").
			WillReturnError(sql.ErrConnDone)
		_, err = NewProviderStore(db)
		assert.ErrorContains(t, err, "failed to ensure providers table")
	})
}

func TestProviderStoreCreate(t *testing.T) {
	now := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)

	t.Run("saml provider", func(t *testing.T) {
		store, mock := setupProviderStore(t)
		rec := samlRecord("corp-okta")

		mock.ExpectQuery(`INSERT INTO providers \(name, display_name, backend, enabled, saml_config, oidc_config\)`).
			WithArgs("corp-okta", "Corp Okta", "saml", true, sqlmock.AnyArg(), []byte(nil)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(7), now, now))

		require.NoError(t, store.Create(context.Background(), rec))
		assert.Equal(t, int64(7), rec.ID)
		assert.Equal(t, now, rec.CreatedAt)
		assert.Equal(t, SourceDB, rec.Source)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate name", func(t *testing.T) {
		store, mock := setupProviderStore(t)
		rec := oidcRecord("corp-azure")

		mock.ExpectQuery(`INSERT INTO providers`).
			WillReturnError(&pq.Error{Code: "23505"})

		err := store.Create(context.Background(), rec)
		assert.ErrorIs(t, err, ErrProviderExists)
	})

	t.Run("invalid record never reaches the database", func(t *testing.T) {
		store, mock := setupProviderStore(t)
		err := store.Create(context.Background(), &ProviderRecord{Name: "corp-okta"})
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestProviderStoreGet(t *testing.T) {
	now := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)

	t.Run("found with saml config", func(t *testing.T) {
		store, mock := setupProviderStore(t)
		seed := samlRecord("corp-okta")
		seed.ID = 7

		rows := sqlmock.NewRows(providerColumnNames)
		addProviderRow(rows, seed, now)
		mock.ExpectQuery(`SELECT (.+) FROM providers WHERE name = \$1`).
			WithArgs("corp-okta").
			WillReturnRows(rows)

		rec, err := store.Get(context.Background(), "corp-okta")
		require.NoError(t, err)
		assert.Equal(t, int64(7), rec.ID)
		assert.Equal(t, "saml", rec.Backend)
		assert.Equal(t, SourceDB, rec.Source)
		require.NotNil(t, rec.SAML)
		assert.Equal(t, "http://www.okta.com/abc123", rec.SAML.EntityID)
		assert.Nil(t, rec.OIDC)
	})

	t.Run("found with oidc config", func(t *testing.T) {
		store, mock := setupProviderStore(t)
		seed := oidcRecord("corp-azure")
		seed.ID = 8

		rows := sqlmock.NewRows(providerColumnNames)
		addProviderRow(rows, seed, now)
		mock.ExpectQuery(`SELECT (.+) FROM providers WHERE name = \$1`).
			WithArgs("corp-azure").
			WillReturnRows(rows)

		rec, err := store.Get(context.Background(), "corp-azure")
		require.NoError(t, err)
		require.NotNil(t, rec.OIDC)
		assert.Equal(t, "client-1", rec.OIDC.ClientID)
		assert.Equal(t, "s3cret", rec.OIDC.ClientSecret)
	})

	t.Run("not found", func(t *testing.T) {
		store, mock := setupProviderStore(t)
		mock.ExpectQuery(`SELECT (.+) FROM providers WHERE name = \$1`).
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows(providerColumnNames))

		_, err := store.Get(context.Background(), "ghost")
		assert.ErrorIs(t, err, ErrProviderNotFound)
	})
}

func TestProviderStoreList(t *testing.T) {
	now := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)

	t.Run("all providers ordered by name", func(t *testing.T) {
		store, mock := setupProviderStore(t)

		rows := sqlmock.NewRows(providerColumnNames)
		azure := oidcRecord("corp-azure")
		azure.ID = 1
		okta := samlRecord("corp-okta")
		okta.ID = 2
		okta.Enabled = false
		addProviderRow(rows, azure, now)
		addProviderRow(rows, okta, now)

		mock.ExpectQuery(`SELECT (.+) FROM providers ORDER BY name`).
			WillReturnRows(rows)

		records, err := store.List(context.Background(), false)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "corp-azure", records[0].Name)
		assert.False(t, records[1].Enabled)
	})

	t.Run("enabled only adds the filter", func(t *testing.T) {
		store, mock := setupProviderStore(t)

		mock.ExpectQuery(`SELECT (.+) FROM providers WHERE enabled = true ORDER BY name`).
			WillReturnRows(sqlmock.NewRows(providerColumnNames))

		records, err := store.List(context.Background(), true)
		require.NoError(t, err)
		assert.Empty(t, records)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestProviderStoreUpdate(t *testing.T) {
	t.Run("updates in place", func(t *testing.T) {
		store, mock := setupProviderStore(t)
		rec := samlRecord("corp-okta")
		rec.Enabled = false

		mock.ExpectExec(`UPDATE providers SET display_name = \$1, backend = \$2, enabled = \$3, saml_config = \$4, oidc_config = \$5, updated_at = NOW\(\) WHERE name = \$6`).
			WithArgs("Corp Okta", "saml", false, sqlmock.AnyArg(), []byte(nil), "corp-okta").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.Update(context.Background(), rec))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown name", func(t *testing.T) {
		store, mock := setupProviderStore(t)
		rec := samlRecord("ghost")

		mock.ExpectExec(`UPDATE providers SET`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.Update(context.Background(), rec)
		assert.ErrorIs(t, err, ErrProviderNotFound)
	})
}

func TestProviderStoreSetEnabled(t *testing.T) {
	store, mock := setupProviderStore(t)

	mock.ExpectExec(`UPDATE providers SET enabled = \$1, updated_at = NOW\(\) WHERE name = \$2`).
		WithArgs(false, "corp-okta").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.SetEnabled(context.Background(), "corp-okta", false))

	mock.ExpectExec(`UPDATE providers SET enabled = \$1, updated_at = NOW\(\) WHERE name = \$2`).
		WithArgs(true, "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := store.SetEnabled(context.Background(), "ghost", true)
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestProviderStoreDelete(t *testing.T) {
	store, mock := setupProviderStore(t)

	mock.ExpectExec(`DELETE FROM providers WHERE name = \$1`).
		WithArgs("corp-okta").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Delete(context.Background(), "corp-okta"))

	mock.ExpectExec(`DELETE FROM providers WHERE name = \$1`).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := store.Delete(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestProviderStoreExists(t *testing.T) {
	store, mock := setupProviderStore(t)

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM providers WHERE name = \$1\)`).
		WithArgs("corp-okta").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := store.Exists(context.Background(), "corp-okta")
	require.NoError(t, err)
	assert.True(t, exists)
}
