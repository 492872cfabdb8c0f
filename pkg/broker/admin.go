package broker

import (
	"context"
	"errors"
	"net/http"

	"github.com/openclave/gatehouse/pkg/audit"
)

// ErrCatalogReadOnly is returned by catalog writes when no provider store
// is configured, which means the deployment manages providers through the
// file alone.
var ErrCatalogReadOnly = errors.New("provider catalog is file-managed")

// CreateProvider adds a provider to the database catalog layer and
// activates it. Admin writes always go to the database; file-managed
// providers are edited in the file.
func (b *Broker) CreateProvider(ctx context.Context, r *http.Request, rec *ProviderRecord) error {
	if b.store == nil {
		return ErrCatalogReadOnly
	}
	if err := b.store.Create(ctx, rec); err != nil {
		return err
	}
	b.auditProvider(ctx, r, audit.EventProviderCreated, rec, "identity provider created")
	return b.Reload(ctx, SourceDB)
}

// UpdateProvider overwrites a database-layer provider and activates the new
// configuration.
func (b *Broker) UpdateProvider(ctx context.Context, r *http.Request, rec *ProviderRecord) error {
	if b.store == nil {
		return ErrCatalogReadOnly
	}
	if err := b.store.Update(ctx, rec); err != nil {
		return err
	}
	b.auditProvider(ctx, r, audit.EventProviderUpdated, rec, "identity provider updated")
	return b.Reload(ctx, SourceDB)
}

// SetProviderEnabled flips a database-layer provider's enabled flag.
func (b *Broker) SetProviderEnabled(ctx context.Context, r *http.Request, name string, enabled bool) error {
	if b.store == nil {
		return ErrCatalogReadOnly
	}
	if err := b.store.SetEnabled(ctx, name, enabled); err != nil {
		return err
	}
	message := "identity provider disabled"
	if enabled {
		message = "identity provider enabled"
	}
	b.auditProvider(ctx, r, audit.EventProviderUpdated, &ProviderRecord{Name: name}, message)
	return b.Reload(ctx, SourceDB)
}

// DeleteProvider removes a provider from the database catalog layer. When
// the deleted record was overriding a file provider of the same name, the
// file version comes back on the rebuild.
func (b *Broker) DeleteProvider(ctx context.Context, r *http.Request, name string) error {
	if b.store == nil {
		return ErrCatalogReadOnly
	}
	rec, err := b.store.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := b.store.Delete(ctx, name); err != nil {
		return err
	}
	b.auditProvider(ctx, r, audit.EventProviderDeleted, rec, "identity provider deleted")
	return b.Reload(ctx, SourceDB)
}

func (b *Broker) auditProvider(ctx context.Context, r *http.Request, eventType audit.EventType, rec *ProviderRecord, message string) {
	event := audit.NewEvent(ctx, r, eventType, audit.StatusSuccess)
	event.Provider = rec.Name
	event.Backend = rec.Backend
	event.Message = message
	b.logAudit(ctx, event)
}
