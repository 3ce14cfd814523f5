package entitlements

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/La-R19/fiverecruit/pkg/observability"
)

// CatalogFile is the on-disk price catalog
type CatalogFile struct {
	PremiumPriceIDs  []string `yaml:"premium_price_ids"`
	StandardPriceIDs []string `yaml:"standard_price_ids"`
}

// Catalog maps payment provider price ids to plans. Unknown price ids map
// to standard: any paying subscription is at least standard.
type Catalog struct {
	mu      sync.RWMutex
	seed    string
	path    string
	premium map[string]bool
	known   map[string]Plan
}

// NewCatalog creates a catalog that knows only the configured premium price
func NewCatalog(premiumPriceID string) *Catalog {
	c := &Catalog{seed: premiumPriceID}
	c.apply(CatalogFile{})
	return c
}

// LoadCatalog creates a catalog seeded with premiumPriceID and, when path
// is set, the price ids listed in that YAML file
func LoadCatalog(premiumPriceID, path string) (*Catalog, error) {
	c := NewCatalog(premiumPriceID)
	if path == "" {
		return c, nil
	}
	c.path = path
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// PlanFor returns the plan of a price id
func (c *Catalog) PlanFor(priceID string) Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.premium[priceID] {
		return PlanPremium
	}
	return PlanStandard
}

// Known reports whether the price id appears in the catalog
func (c *Catalog) Known(priceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.known[priceID]
	return ok
}

// Reload re-reads the catalog file. The previous mapping stays in place when
// the file cannot be parsed.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read price catalog: %w", err)
	}
	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse price catalog: %w", err)
	}
	c.apply(file)
	return nil
}

func (c *Catalog) apply(file CatalogFile) {
	premium := make(map[string]bool)
	known := make(map[string]Plan)
	for _, id := range file.StandardPriceIDs {
		known[id] = PlanStandard
	}
	for _, id := range file.PremiumPriceIDs {
		premium[id] = true
		known[id] = PlanPremium
	}
	if c.seed != "" {
		premium[c.seed] = true
		known[c.seed] = PlanPremium
	}

	c.mu.Lock()
	c.premium = premium
	c.known = known
	c.mu.Unlock()
}

// Watch reloads the catalog whenever its file changes, until ctx is done.
// The parent directory is watched so editors that replace the file by rename
// are picked up.
func (c *Catalog) Watch(ctx context.Context, logger *observability.Logger) error {
	if c.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalog watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		return fmt.Errorf("failed to watch price catalog: %w", err)
	}

	target := filepath.Clean(c.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := c.Reload(); err != nil {
				logger.WithError(err).Warn("price catalog reload failed, keeping previous mapping")
				continue
			}
			logger.WithField("path", c.path).Info("price catalog reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("price catalog watcher error")
		}
	}
}
