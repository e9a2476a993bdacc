// Package catalog loads the role catalog: role definitions and the gRPC method permission table.
package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"gathering-marketplace/backend/internal/role/domain"
)

// Catalog is the parsed role catalog file.
type Catalog struct {
	Roles []domain.Definition `yaml:"roles"`
	// Methods maps full gRPC method names to the permission a caller must hold.
	Methods map[string]string `yaml:"methods"`
}

// Load reads and validates the catalog at path.
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes and validates a catalog document. Role codes are normalized.
func Parse(b []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	for i := range c.Roles {
		c.Roles[i].Code = domain.ParseRoleCode(string(c.Roles[i].Code))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that every role is known, listed once, carries its hierarchy level and has
// well-formed permission patterns, and that every method entry names a permission.
func (c *Catalog) Validate() error {
	seen := make(map[domain.RoleCode]bool, len(c.Roles))
	for _, def := range c.Roles {
		if !def.Code.Known() {
			return fmt.Errorf("catalog: unknown role %q", def.Code)
		}
		if seen[def.Code] {
			return fmt.Errorf("catalog: role %s listed twice", def.Code)
		}
		seen[def.Code] = true
		if def.Level != def.Code.Level() {
			return fmt.Errorf("catalog: role %s level %d, want %d", def.Code, def.Level, def.Code.Level())
		}
		for _, p := range def.Permissions {
			if err := validatePattern(p); err != nil {
				return fmt.Errorf("catalog: role %s: %w", def.Code, err)
			}
		}
	}
	for method, perm := range c.Methods {
		if !strings.HasPrefix(method, "/") || strings.Count(method, "/") != 2 {
			return fmt.Errorf("catalog: method %q must look like /package.Service/Method", method)
		}
		if strings.TrimSpace(perm) == "" || strings.Contains(perm, "*") {
			return fmt.Errorf("catalog: method %s needs a concrete permission", method)
		}
	}
	return nil
}

// validatePattern accepts "*", an exact permission, or a dotted prefix ending in ".*".
func validatePattern(p string) error {
	if p == domain.Wildcard {
		return nil
	}
	if p == "" || strings.HasPrefix(p, ".") {
		return fmt.Errorf("invalid permission pattern %q", p)
	}
	if i := strings.Index(p, "*"); i >= 0 && (i != len(p)-1 || !strings.HasSuffix(p, ".*")) {
		return fmt.Errorf("invalid permission pattern %q", p)
	}
	return nil
}
