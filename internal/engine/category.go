package engine

import (
	"fmt"
	"strings"
)

// Category is a top-level content subtree of a source instance.
type Category string

const (
	CategoryConfig        Category = "config"
	CategoryMods          Category = "mods"
	CategoryResourcepacks Category = "resourcepacks"
	CategoryShaderpacks   Category = "shaderpacks"
)

// Categories lists every category in processing order.
var Categories = []Category{
	CategoryConfig,
	CategoryMods,
	CategoryResourcepacks,
	CategoryShaderpacks,
}

// BundledOnly reports whether files in c are always shipped inside the
// archive instead of being resolved against the registry.
func (c Category) BundledOnly() bool {
	return c == CategoryConfig
}

// AllCategories returns a selection with every category enabled.
func AllCategories() map[Category]bool {
	sel := make(map[Category]bool, len(Categories))
	for _, c := range Categories {
		sel[c] = true
	}
	return sel
}

// ParseCategories builds a selection from names such as "mods,config".
// Unknown names are an error.
func ParseCategories(names []string) (map[Category]bool, error) {
	sel := make(map[Category]bool, len(Categories))
	for _, c := range Categories {
		sel[c] = false
	}
	for _, raw := range names {
		for _, name := range strings.Split(raw, ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			c := Category(name)
			if _, ok := sel[c]; !ok {
				return nil, fmt.Errorf("unknown category %q (valid: config, mods, resourcepacks, shaderpacks)", name)
			}
			sel[c] = true
		}
	}
	return sel, nil
}
