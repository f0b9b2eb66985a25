// Package presets holds the versioned catalog of curated starter workflows.
package presets

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/dukex/convoflow/pkg/models"
)

//go:embed catalog/*.yaml
var catalogFS embed.FS

// ErrPresetNotFound is returned when a preset id is not in the catalog.
var ErrPresetNotFound = errors.New("preset not found")

// Catalog is an immutable set of presets keyed by id.
type Catalog struct {
	presets map[string]models.Preset
	ids     []string
}

// Load reads every *.yaml file of fsys under dir into a catalog.
func Load(fsys fs.FS, dir string) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read preset catalog: %w", err)
	}

	c := &Catalog{presets: map[string]models.Preset{}}

	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".yaml" {
			continue
		}

		b, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read preset %s: %w", entry.Name(), err)
		}

		var p models.Preset
		if err := yaml.Unmarshal(b, &p); err != nil {
			return nil, fmt.Errorf("decode preset %s: %w", entry.Name(), err)
		}

		if p.ID == "" {
			return nil, fmt.Errorf("preset %s has no id", entry.Name())
		}

		if _, exists := c.presets[p.ID]; exists {
			return nil, fmt.Errorf("duplicate preset id %q", p.ID)
		}

		c.presets[p.ID] = p
		c.ids = append(c.ids, p.ID)
	}

	sort.Strings(c.ids)

	return c, nil
}

// Default returns the catalog shipped with the binary.
func Default() (*Catalog, error) {
	return Load(catalogFS, "catalog")
}

// List returns every preset sorted by id.
func (c *Catalog) List() []models.Preset {
	out := make([]models.Preset, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.presets[id])
	}

	return out
}

// Get returns the preset with the given id.
func (c *Catalog) Get(id string) (models.Preset, error) {
	p, ok := c.presets[id]
	if !ok {
		return models.Preset{}, fmt.Errorf("%w: %s", ErrPresetNotFound, id)
	}

	return p, nil
}

// Version returns the catalog version of a preset, or 0 when unknown.
func (c *Catalog) Version(id string) int {
	return c.presets[id].Version
}
