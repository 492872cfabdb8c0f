package broker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/openclave/gatehouse/pkg/oidc"
	"github.com/openclave/gatehouse/pkg/saml"
)

// fileSourceDebounce coalesces the burst of filesystem events an editor or
// config-management tool emits for one logical save.
const fileSourceDebounce = 500 * time.Millisecond

// FileSource loads the static layer of the provider catalog from a YAML
// file and hot-reloads it when the file changes. A reload that fails to
// parse keeps the last good configuration; a config typo must never take
// login down.
type FileSource struct {
	path   string
	logger *logrus.Entry

	mu      sync.RWMutex
	records []*ProviderRecord
}

type providerFile struct {
	Providers []*fileProvider `yaml:"providers"`
}

// fileProvider mirrors ProviderRecord for YAML, with Enabled as a pointer
// so an omitted flag means enabled. A file entry exists to be used.
type fileProvider struct {
	Name        string                       `yaml:"name"`
	DisplayName string                       `yaml:"display_name"`
	Backend     string                       `yaml:"backend"`
	Enabled     *bool                        `yaml:"enabled"`
	SAML        *saml.IdentityProviderConfig `yaml:"saml"`
	OIDC        *oidc.ProviderConfig         `yaml:"oidc"`
}

// NewFileSource loads the provider file at path. A missing file logs a
// warning and starts empty, so deployments that manage providers purely
// through the admin API need no placeholder file. A file that exists but
// does not parse is a startup error.
func NewFileSource(path string, log *logrus.Logger) (*FileSource, error) {
	if log == nil {
		log = logrus.New()
	}
	f := &FileSource{path: path, logger: log.WithField("component", "provider_file")}
	if path == "" {
		return f, nil
	}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload re-reads the provider file immediately. On failure the last good
// records stay in place.
func (f *FileSource) Reload() error {
	if f.path == "" {
		return nil
	}
	return f.load()
}

// Records returns the current file-layer provider records.
func (f *FileSource) Records() []*ProviderRecord {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*ProviderRecord, len(f.records))
	copy(out, f.records)
	return out
}

func (f *FileSource) load() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.logger.WithField("path", f.path).Warn("provider file does not exist, file catalog is empty")
			f.mu.Lock()
			f.records = nil
			f.mu.Unlock()
			return nil
		}
		return fmt.Errorf("failed to read provider file: %w", err)
	}

	var doc providerFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse provider file: %w", err)
	}

	records := make([]*ProviderRecord, 0, len(doc.Providers))
	seen := make(map[string]bool, len(doc.Providers))
	for _, p := range doc.Providers {
		rec := &ProviderRecord{
			Name:        p.Name,
			DisplayName: p.DisplayName,
			Backend:     p.Backend,
			Enabled:     p.Enabled == nil || *p.Enabled,
			Source:      SourceFile,
			SAML:        p.SAML,
			OIDC:        p.OIDC,
		}
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("invalid provider %q: %w", p.Name, err)
		}
		if seen[rec.Name] {
			return fmt.Errorf("duplicate provider %q in provider file", rec.Name)
		}
		seen[rec.Name] = true
		records = append(records, rec)
	}

	f.mu.Lock()
	f.records = records
	f.mu.Unlock()

	f.logger.WithField("providers", len(records)).Info("loaded provider file")
	return nil
}

// Watch re-reads the provider file whenever it changes, calling onReload
// with the load result after each attempt. It blocks until ctx is done.
// With no path configured it returns immediately.
func (f *FileSource) Watch(ctx context.Context, onReload func(error)) error {
	if f.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file. Editors and config tools
	// replace files by rename, which silently drops a watch held on the
	// old inode.
	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	debounce := time.NewTimer(fileSourceDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(f.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			debounce.Reset(fileSourceDebounce)
		case <-debounce.C:
			err := f.load()
			if err != nil {
				f.logger.WithError(err).Error("provider file reload failed, keeping last good configuration")
			}
			if onReload != nil {
				onReload(err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.WithError(err).Error("provider file watcher error")
		}
	}
}
