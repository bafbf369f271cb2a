// Package catalog holds the statistic category catalog: the ordered mapping
// from a category identifier to its display label. The order defines both the
// fetch order and the output column order. A Catalog is immutable once built.
package catalog

import (
	_ "embed"
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-yaml"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// ErrInvalidCatalog is returned when a catalog document fails validation.
var ErrInvalidCatalog = errors.New("invalid statistic catalog")

// Category is one statistic served on its own ranking page.
type Category struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
}

// IdentityLabels are the output labels of the three identity columns.
type IdentityLabels struct {
	ProfileURL string `yaml:"profile_url" json:"profile_url"`
	PlayerName string `yaml:"player_name" json:"player_name"`
	TeamName   string `yaml:"team_name" json:"team_name"`
}

type document struct {
	Bootstrap      []string       `yaml:"bootstrap"`
	IdentityLabels IdentityLabels `yaml:"identity_labels"`
	Categories     []Category     `yaml:"categories"`
}

// Catalog is the read-only statistic category table.
type Catalog struct {
	categories []Category
	index      map[string]int
	bootstrap  []string
	identity   IdentityLabels
}

var loadDefault = sync.OnceValues(func() (*Catalog, error) {
	return Parse(embeddedCatalog)
})

// Default returns the catalog compiled into the binary. It panics if the
// embedded document is invalid, which only a broken build can cause.
func Default() *Catalog {
	c, err := loadDefault()
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads a catalog from path, or returns the embedded default when path
// is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return loadDefault()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read catalog %s", path)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse catalog %s", path)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	return build(doc)
}

func build(doc document) (*Catalog, error) {
	if len(doc.Categories) == 0 {
		return nil, errors.Wrap(ErrInvalidCatalog, "no categories")
	}

	c := &Catalog{
		categories: make([]Category, 0, len(doc.Categories)),
		index:      make(map[string]int, len(doc.Categories)),
		identity:   doc.IdentityLabels,
	}
	for _, cat := range doc.Categories {
		cat.ID = strings.TrimSpace(cat.ID)
		if cat.ID == "" {
			return nil, errors.Wrap(ErrInvalidCatalog, "category with empty id")
		}
		if _, dup := c.index[cat.ID]; dup {
			return nil, errors.Wrapf(ErrInvalidCatalog, "duplicate category %q", cat.ID)
		}
		if strings.TrimSpace(cat.Label) == "" {
			cat.Label = cat.ID
		}
		c.index[cat.ID] = len(c.categories)
		c.categories = append(c.categories, cat)
	}

	if len(doc.Bootstrap) == 0 {
		return nil, errors.Wrap(ErrInvalidCatalog, "no bootstrap categories")
	}
	for _, id := range doc.Bootstrap {
		if _, ok := c.index[id]; !ok {
			return nil, errors.Wrapf(ErrInvalidCatalog, "bootstrap category %q is not in the catalog", id)
		}
		c.bootstrap = append(c.bootstrap, id)
	}

	if c.identity.ProfileURL == "" {
		c.identity.ProfileURL = "profile_url"
	}
	if c.identity.PlayerName == "" {
		c.identity.PlayerName = "player_name"
	}
	if c.identity.TeamName == "" {
		c.identity.TeamName = "team_name"
	}

	return c, nil
}

// Len returns the number of categories.
func (c *Catalog) Len() int {
	return len(c.categories)
}

// Categories returns a copy of the categories in declaration order.
func (c *Catalog) Categories() []Category {
	out := make([]Category, len(c.categories))
	copy(out, c.categories)
	return out
}

// IDs returns the category identifiers in declaration order.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.categories))
	for i, cat := range c.categories {
		out[i] = cat.ID
	}
	return out
}

// Bootstrap returns the categories used to seed the player identity list.
func (c *Catalog) Bootstrap() []string {
	out := make([]string, len(c.bootstrap))
	copy(out, c.bootstrap)
	return out
}

// Label returns the display label of a category.
func (c *Catalog) Label(id string) (string, bool) {
	i, ok := c.index[id]
	if !ok {
		return "", false
	}
	return c.categories[i].Label, true
}

// Contains reports whether id is a catalog category.
func (c *Catalog) Contains(id string) bool {
	_, ok := c.index[id]
	return ok
}

// Position returns the declaration index of a category, or -1.
func (c *Catalog) Position(id string) int {
	if i, ok := c.index[id]; ok {
		return i
	}
	return -1
}

// IdentityLabels returns the labels of the profile URL, player and team columns.
func (c *Catalog) IdentityLabels() IdentityLabels {
	return c.identity
}

// Header returns the full output header: identity labels followed by every
// category label in catalog order.
func (c *Catalog) Header() []string {
	out := make([]string, 0, 3+len(c.categories))
	out = append(out, c.identity.ProfileURL, c.identity.PlayerName, c.identity.TeamName)
	for _, cat := range c.categories {
		out = append(out, cat.Label)
	}
	return out
}
