// Package seed provides the default category trees used to populate an empty
// store and as the offline fallback when the store cannot be reached.
package seed

import (
	_ "embed"
	"fmt"
	"sort"

	"labstock/internal/tree"

	"github.com/BurntSushi/toml"
)

//go:embed defaults.toml
var defaultsTOML string

// Catalog names shipped in the built-in defaults.
const (
	Materials = "materials"
	Projects  = "projects"
)

// Defaults maps a catalog name to its seed tree definition.
type Defaults map[string]TreeDef

// TreeDef is the TOML form of a seed tree.
type TreeDef struct {
	Label      string        `toml:"label"`
	Categories []CategoryDef `toml:"categories"`
}

type CategoryDef struct {
	ID       string           `toml:"id"`
	Name     string           `toml:"name"`
	Children []SubcategoryDef `toml:"children"`
}

type SubcategoryDef struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

// Builtin returns the defaults compiled into the binary.
func Builtin() Defaults {
	d, err := Parse(defaultsTOML)
	if err != nil {
		panic(fmt.Sprintf("seed: embedded defaults are invalid: %v", err))
	}
	return d
}

// Parse decodes seed definitions and checks that every tree builds.
func Parse(data string) (Defaults, error) {
	d := Defaults{}
	if _, err := toml.Decode(data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode seed definitions: %w", err)
	}
	for name, def := range d {
		if _, err := def.Build(); err != nil {
			return nil, fmt.Errorf("seed tree %q: %w", name, err)
		}
	}
	return d, nil
}

// Load returns the built-in defaults, with any catalogs defined in path
// replacing their built-in counterparts. An empty path returns the built-ins.
func Load(path string) (Defaults, error) {
	d := Builtin()
	if path == "" {
		return d, nil
	}
	override := Defaults{}
	if _, err := toml.DecodeFile(path, &override); err != nil {
		return nil, fmt.Errorf("failed to load seed file: %w", err)
	}
	for name, def := range override {
		if _, err := def.Build(); err != nil {
			return nil, fmt.Errorf("seed tree %q: %w", name, err)
		}
		d[name] = def
	}
	return d, nil
}

// Catalogs lists the catalog names in stable order.
func (d Defaults) Catalogs() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tree builds a fresh tree for the catalog. Each call returns a new value.
func (d Defaults) Tree(catalog string) (*tree.Tree, error) {
	def, ok := d[catalog]
	if !ok {
		return nil, fmt.Errorf("no seed tree for catalog %q", catalog)
	}
	return def.Build()
}

// Build converts the definition to a validated tree.
func (def TreeDef) Build() (*tree.Tree, error) {
	t := tree.New()
	for _, cd := range def.Categories {
		c := &tree.Category{ID: cd.ID, Name: cd.Name, Children: make([]*tree.Subcategory, 0, len(cd.Children))}
		for _, sd := range cd.Children {
			c.Children = append(c.Children, &tree.Subcategory{ID: sd.ID, Name: sd.Name})
		}
		t.Categories = append(t.Categories, c)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}
