package eval

import (
	"sort"
	"strings"

	"github.com/cwbudde/bctune/internal/param"
)

// Scenario is one (map, orientation) pair. When Reversed is set the reference
// artifact moves first.
type Scenario struct {
	Map      string `json:"map"`
	Reversed bool   `json:"reversed"`
}

func (s Scenario) String() string {
	if s.Reversed {
		return s.Map + " (reversed)"
	}
	return s.Map
}

// Expand schedules every map in both orientations.
func Expand(maps []string) []Scenario {
	scenarios := make([]Scenario, 0, 2*len(maps))
	for _, m := range maps {
		scenarios = append(scenarios,
			Scenario{Map: m},
			Scenario{Map: m, Reversed: true},
		)
	}
	return scenarios
}

// AllCategory names the catalog entry used when nothing more specific applies.
const AllCategory = "ALL"

// Catalog maps a category token to its maps.
type Catalog map[string][]string

// DefaultCatalog returns the stock map categories.
func DefaultCatalog() Catalog {
	c := Catalog{
		"MAP_SMALL":  {"DefaultSmall", "arrows", "cheesefarm", "dirtfulcat", "evileye", "starvation"},
		"MAP_MEDIUM": {"DefaultMedium", "Meow", "ZeroDay", "pipes", "popthecork", "rift", "sittingducks", "thunderdome"},
		"MAP_LARGE":  {"DefaultLarge", "Nofreecheese", "cheeseguardians", "dirtpassageway", "keepout", "trapped", "wallsofparadis"},
	}
	c[AllCategory] = c.union()
	return c
}

func (c Catalog) union() []string {
	seen := make(map[string]bool)
	var all []string
	for category, maps := range c {
		if category == AllCategory {
			continue
		}
		for _, m := range maps {
			if !seen[m] {
				seen[m] = true
				all = append(all, m)
			}
		}
	}
	sort.Strings(all)
	return all
}

// All returns the full default map set.
func (c Catalog) All() []string {
	if all, ok := c[AllCategory]; ok && len(all) > 0 {
		return all
	}
	return c.union()
}

// Detect returns the maps of every category whose token appears in a
// parameter name of cfg, deduplicated and sorted. It returns nil if no
// parameter encodes a category.
func (c Catalog) Detect(cfg param.Configuration) []string {
	seen := make(map[string]bool)
	var maps []string
	for category, catMaps := range c {
		if category == AllCategory {
			continue
		}
		for _, name := range cfg.Names() {
			if !strings.Contains(name, category) {
				continue
			}
			for _, m := range catMaps {
				if !seen[m] {
					seen[m] = true
					maps = append(maps, m)
				}
			}
			break
		}
	}
	sort.Strings(maps)
	return maps
}

// Policy chooses the maps an evaluation runs on.
type Policy struct {
	// Explicit, when non-empty, is used as is.
	Explicit []string
	Catalog  Catalog
}

// Resolve applies the policy: explicit list, else categories detected from the
// parameter names, else every map in the catalog.
func (p Policy) Resolve(cfg param.Configuration) []string {
	if len(p.Explicit) > 0 {
		return p.Explicit
	}
	catalog := p.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if maps := catalog.Detect(cfg); len(maps) > 0 {
		return maps
	}
	return catalog.All()
}
