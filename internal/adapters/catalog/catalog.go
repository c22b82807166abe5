// Package catalog serves read-only competition definitions loaded from YAML.
package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/okian/tabulator/internal/domain/model"
)

// document is the on-disk layout of a catalog file.
type document struct {
	Competitions []model.Competition `yaml:"competitions"`
}

// Summary is the listing form of a competition.
type Summary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Catalog resolves competitions by id and by segment id.
type Catalog struct {
	byID      map[string]*model.Competition
	bySegment map[string]string
	ids       []string
}

// Load reads and validates the catalog file at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return New(doc.Competitions...)
}

// New builds a catalog from competitions after validating each one.
// Competition ids and segment ids must be unique across the catalog.
func New(comps ...model.Competition) (*Catalog, error) {
	c := &Catalog{
		byID:      make(map[string]*model.Competition, len(comps)),
		bySegment: make(map[string]string),
	}
	for i := range comps {
		comp := comps[i]
		if err := comp.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
		}
		if _, dup := c.byID[comp.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate competition %q", ErrInvalidCatalog, comp.ID)
		}
		for j := range comp.Contestants {
			comp.Contestants[j].Gender = comp.Contestants[j].Gender.Normalize()
		}
		for _, s := range comp.Segments {
			if owner, dup := c.bySegment[s.ID]; dup {
				return nil, fmt.Errorf("%w: segment %q in both %q and %q", ErrInvalidCatalog, s.ID, owner, comp.ID)
			}
			c.bySegment[s.ID] = comp.ID
		}
		c.byID[comp.ID] = &comp
		c.ids = append(c.ids, comp.ID)
	}
	sort.Strings(c.ids)
	return c, nil
}

// Competition returns the competition with the given id. The result is
// shared and must not be modified.
func (c *Catalog) Competition(_ context.Context, id string) (*model.Competition, error) {
	comp, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCompetitionNotFound, id)
	}
	return comp, nil
}

// Competitions lists every competition sorted by id.
func (c *Catalog) Competitions() []Summary {
	out := make([]Summary, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, Summary{ID: id, Name: c.byID[id].Name})
	}
	return out
}

// CompetitionForSegment returns the competition owning segmentID.
func (c *Catalog) CompetitionForSegment(_ context.Context, segmentID string) (*model.Competition, error) {
	id, ok := c.bySegment[segmentID]
	if !ok {
		return nil, fmt.Errorf("%w: segment %q", ErrCompetitionNotFound, segmentID)
	}
	return c.byID[id], nil
}

// Len returns the number of competitions.
func (c *Catalog) Len() int {
	return len(c.ids)
}
