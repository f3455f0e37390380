package profiles

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// IsCategoryFullyGranted reports whether every module of a category is Granted or
// ReadOnly. An empty category is never fully granted.
func IsCategoryFullyGranted(moduleKeys []string, resolved map[string]PermissionState) bool {
	if len(moduleKeys) == 0 {
		return false
	}
	for _, key := range moduleKeys {
		if !resolved[key].Active() {
			return false
		}
	}
	return true
}

// SetCategory returns a copy of resolved with every listed module set to Granted
// (checked) or Denied. Keys outside the list are copied unchanged.
func SetCategory(moduleKeys []string, resolved map[string]PermissionState, checked bool) map[string]PermissionState {
	next := make(map[string]PermissionState, len(resolved)+len(moduleKeys))
	for key, state := range resolved {
		next[key] = state
	}
	state := Denied
	if checked {
		state = Granted
	}
	for _, key := range moduleKeys {
		next[key] = state
	}
	return next
}

// Category groups modules for authoring
type Category struct {
	Key     string   `yaml:"key" json:"key"`
	Label   string   `yaml:"label" json:"label"`
	Modules []string `yaml:"modules" json:"modules"`
}

// ModuleCatalog describes the module categories and the legacy structural keys
type ModuleCatalog struct {
	Categories     []Category `yaml:"categories" json:"categories"`
	StructuralKeys []string   `yaml:"structural_keys" json:"structural_keys,omitempty"`
}

// DefaultModuleCatalog returns the built-in categories
func DefaultModuleCatalog() *ModuleCatalog {
	return &ModuleCatalog{
		Categories: []Category{
			{Key: "pedagogy", Label: "Pedagogy", Modules: []string{"grades", "attendance", "lesson_plans", "timetable"}},
			{Key: "student_life", Label: "Student life", Modules: []string{"discipline", "health_records", "clubs"}},
			{Key: "administration", Label: "Administration", Modules: []string{"users", "organizational_units", "settings"}},
			{Key: "finance", Label: "Finance", Modules: []string{"billing", "payments", "financial_reports"}},
			{Key: "communication", Label: "Communication", Modules: []string{"messages", "announcements"}},
		},
	}
}

// Category looks up a category by key
func (c *ModuleCatalog) Category(key string) (Category, bool) {
	for _, cat := range c.Categories {
		if cat.Key == key {
			return cat, true
		}
	}
	return Category{}, false
}

// Resolver builds a resolver that also ignores the catalog's structural keys
func (c *ModuleCatalog) Resolver() *Resolver {
	return NewResolver(c.StructuralKeys...)
}

// Validate checks the catalog for missing, empty or duplicated category keys
func (c *ModuleCatalog) Validate() error {
	if len(c.Categories) == 0 {
		return fmt.Errorf("no categories defined")
	}
	seen := make(map[string]struct{}, len(c.Categories))
	for i, cat := range c.Categories {
		if cat.Key == "" {
			return fmt.Errorf("category %d has no key", i)
		}
		if _, ok := seen[cat.Key]; ok {
			return fmt.Errorf("duplicate category key: %s", cat.Key)
		}
		seen[cat.Key] = struct{}{}
	}
	return nil
}

// LoadModuleCatalog reads a YAML module catalog from path
func LoadModuleCatalog(path string) (*ModuleCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module catalog: %w", err)
	}

	var catalog ModuleCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse module catalog: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid module catalog: %w", err)
	}
	return &catalog, nil
}

// CatalogHolder publishes the current module catalog to concurrent readers
type CatalogHolder struct {
	current atomic.Pointer[ModuleCatalog]
}

// NewCatalogHolder creates a holder seeded with catalog
func NewCatalogHolder(catalog *ModuleCatalog) *CatalogHolder {
	h := &CatalogHolder{}
	h.Store(catalog)
	return h
}

// Load returns the current catalog
func (h *CatalogHolder) Load() *ModuleCatalog {
	return h.current.Load()
}

// Store replaces the current catalog
func (h *CatalogHolder) Store(catalog *ModuleCatalog) {
	h.current.Store(catalog)
}

// WatchModuleCatalog reloads path into holder whenever the file is written, until
// ctx is done. Parse failures keep the previous catalog and are passed to onError.
func WatchModuleCatalog(ctx context.Context, path string, holder *CatalogHolder, onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory so editors that replace the file are still seen
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				catalog, err := LoadModuleCatalog(path)
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				holder.Store(catalog)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			}
		}
	}()

	return nil
}
