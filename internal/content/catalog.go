package content

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Theme is one depth band of room flavor. A room at depth d draws from the
// deepest theme whose MinDepth does not exceed d.
type Theme struct {
	Name       string   `yaml:"name"`
	MinDepth   int      `yaml:"min_depth"`
	Titles     []string `yaml:"titles"`
	Details    []string `yaml:"details"`
	Challenges []string `yaml:"challenges"`
}

// Catalog holds the theme bands sorted by MinDepth ascending.
type Catalog struct {
	Themes []Theme `yaml:"themes"`
}

// LoadCatalog parses the embedded theme data.
func LoadCatalog() (*Catalog, error) {
	b, err := dataFS.ReadFile("themes.yaml")
	if err != nil {
		return nil, fmt.Errorf("content: read themes: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("content: parse themes: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	sort.SliceStable(c.Themes, func(i, j int) bool {
		return c.Themes[i].MinDepth < c.Themes[j].MinDepth
	})
	return &c, nil
}

// MustLoadCatalog panics on a broken embedded catalog. The data ships inside
// the binary, so a failure here is a build defect, not a runtime condition.
func MustLoadCatalog() *Catalog {
	c, err := LoadCatalog()
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) validate() error {
	if len(c.Themes) == 0 {
		return fmt.Errorf("content: no themes defined")
	}
	zero := false
	for _, t := range c.Themes {
		if t.Name == "" {
			return fmt.Errorf("content: theme with empty name")
		}
		if t.MinDepth < 0 {
			return fmt.Errorf("content: theme %q: negative min_depth", t.Name)
		}
		if t.MinDepth == 0 {
			zero = true
		}
		if len(t.Titles) == 0 || len(t.Details) == 0 || len(t.Challenges) == 0 {
			return fmt.Errorf("content: theme %q: empty pool", t.Name)
		}
	}
	if !zero {
		return fmt.Errorf("content: no theme covers depth 0")
	}
	return nil
}

// ThemeFor returns the deepest band whose MinDepth covers the depth.
func (c *Catalog) ThemeFor(depth int) Theme {
	pick := c.Themes[0]
	for _, t := range c.Themes {
		if t.MinDepth > depth {
			break
		}
		pick = t
	}
	return pick
}
