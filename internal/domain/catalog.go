package domain

import "strings"

// Catalog is the ordered set of allowed categories for one run.
// Membership is exact and case-sensitive.
type Catalog struct {
	names []string
	set   map[string]struct{}
}

// NewCatalog builds a catalog from raw cell values. Blank entries are skipped,
// surrounding whitespace is trimmed and duplicates keep their first position.
func NewCatalog(values []string) *Catalog {
	c := &Catalog{set: make(map[string]struct{}, len(values))}
	for _, v := range values {
		name := strings.TrimSpace(v)
		if name == "" {
			continue
		}
		if _, dup := c.set[name]; dup {
			continue
		}
		c.set[name] = struct{}{}
		c.names = append(c.names, name)
	}
	return c
}

// Contains reports whether name is a verbatim member of the catalog.
func (c *Catalog) Contains(name string) bool {
	if c == nil {
		return false
	}
	_, ok := c.set[name]
	return ok
}

// Names returns the categories in catalog order.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Len returns the number of categories.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.names)
}
