// Package product describes the DCC-EX products the installer sets up and
// manages their configuration files.
package product

import (
	_ "embed"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed products.yaml
var defaultCatalog []byte

// ErrUnknownProduct is returned for a key that is not in the catalog.
var ErrUnknownProduct = errors.New("unknown product")

// Product is one installable DCC-EX product.
type Product struct {
	Key                string   `yaml:"-"`
	Name               string   `yaml:"name"`
	Repo               string   `yaml:"repo"`
	RepoURL            string   `yaml:"repo_url"`
	Branch             string   `yaml:"branch"`
	MinimumConfigFiles []string `yaml:"minimum_config_files"`
	OtherConfigFiles   []string `yaml:"other_config_files"`
	SupportedDevices   []string `yaml:"supported_devices"`
}

// ConfigFiles returns every configuration file the product understands.
func (p Product) ConfigFiles() []string {
	files := make([]string, 0, len(p.MinimumConfigFiles)+len(p.OtherConfigFiles))
	files = append(files, p.MinimumConfigFiles...)
	return append(files, p.OtherConfigFiles...)
}

// Dir returns where the product is cloned under repoRoot.
func (p Product) Dir(repoRoot string) string {
	return filepath.Join(repoRoot, path.Base(p.Repo))
}

// Supports reports whether the product can be built for fqbn. Options after
// the board part of the FQBN are ignored.
func (p Product) Supports(fqbn string) bool {
	for _, d := range p.SupportedDevices {
		if fqbn == d || strings.HasPrefix(d, fqbn+":") || strings.HasPrefix(fqbn, d+":") {
			return true
		}
	}
	return false
}

// Catalog is the set of known products.
type Catalog struct {
	products map[string]Product
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("invalid built-in product catalog: %v", err))
	}
	return c
}

// ParseCatalog reads a YAML catalog keyed by product key.
func ParseCatalog(data []byte) (*Catalog, error) {
	var products map[string]Product
	if err := yaml.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	for key, p := range products {
		if p.Name == "" || p.RepoURL == "" || p.Branch == "" {
			return nil, fmt.Errorf("product %s: name, repo_url and branch are required", key)
		}
		if len(p.MinimumConfigFiles) == 0 {
			return nil, fmt.Errorf("product %s: at least one minimum config file is required", key)
		}
		p.Key = key
		products[key] = p
	}
	return &Catalog{products: products}, nil
}

// Get returns the product for key.
func (c *Catalog) Get(key string) (Product, error) {
	p, ok := c.products[key]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrUnknownProduct, key)
	}
	return p, nil
}

// Keys returns the product keys in sorted order.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.products))
	for k := range c.products {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Products returns the products in key order.
func (c *Catalog) Products() []Product {
	out := make([]Product, 0, len(c.products))
	for _, k := range c.Keys() {
		out = append(out, c.products[k])
	}
	return out
}
