// Package tree holds the ordered two-level category tree: top-level
// categories own an ordered list of subcategories, and items are filed under
// subcategories by id. All operations are pure and synchronous; callers own
// persistence.
package tree

import (
	"strings"

	"github.com/google/uuid"
)

// End appends when passed as an insert or move position.
const End = -1

// Names used when a node is created without a usable label.
const (
	PlaceholderCategoryName    = "Untitled category"
	PlaceholderSubcategoryName = "Untitled subcategory"
)

// Subcategory is a second-level node. Its parent is implied by position.
type Subcategory struct {
	ID    string
	Name  string
	Extra map[string]any
}

// Category is a top-level node.
type Category struct {
	ID       string
	Name     string
	Children []*Subcategory
	Extra    map[string]any
}

// Tree is the ordered list of categories plus any unrecognised document fields.
type Tree struct {
	Categories []*Category
	Extra      map[string]any
}

// New builds a tree from already-constructed categories.
func New(categories ...*Category) *Tree {
	t := &Tree{Categories: make([]*Category, 0, len(categories))}
	t.Categories = append(t.Categories, categories...)
	return t
}

// NewCategory returns a category with a fresh id and no children.
func NewCategory(name string) *Category {
	return &Category{
		ID:       newID("cat"),
		Name:     nameOr(name, PlaceholderCategoryName),
		Children: []*Subcategory{},
	}
}

// NewSubcategory returns a subcategory with a fresh id.
func NewSubcategory(name string) *Subcategory {
	return &Subcategory{
		ID:   newID("sub"),
		Name: nameOr(name, PlaceholderSubcategoryName),
	}
}

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func nameOr(name, placeholder string) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return placeholder
}

// FindCategory returns the top-level category with the given id, or nil.
func (t *Tree) FindCategory(id string) *Category {
	_, c := t.categoryIndex(id)
	return c
}

func (t *Tree) categoryIndex(id string) (int, *Category) {
	for i, c := range t.Categories {
		if c.ID == id {
			return i, c
		}
	}
	return -1, nil
}

// FindSubcategory returns the category owning the subcategory and its index
// within that category's children. The owner is nil when the id is unknown.
func (t *Tree) FindSubcategory(id string) (*Category, int) {
	for _, c := range t.Categories {
		for i, s := range c.Children {
			if s.ID == id {
				return c, i
			}
		}
	}
	return nil, -1
}

// Subcategory returns the subcategory node with the given id, or nil.
func (t *Tree) Subcategory(id string) *Subcategory {
	owner, idx := t.FindSubcategory(id)
	if owner == nil {
		return nil
	}
	return owner.Children[idx]
}

// HasSubcategory reports whether any category owns a subcategory with the id.
func (t *Tree) HasSubcategory(id string) bool {
	owner, _ := t.FindSubcategory(id)
	return owner != nil
}

// SubcategoryIDs lists every subcategory id in display order.
func (t *Tree) SubcategoryIDs() []string {
	var ids []string
	for _, c := range t.Categories {
		for _, s := range c.Children {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// Len returns the number of categories and subcategories.
func (t *Tree) Len() (categories, subcategories int) {
	for _, c := range t.Categories {
		subcategories += len(c.Children)
	}
	return len(t.Categories), subcategories
}

// Clone returns a deep copy; edits to the copy never reach the original.
func (t *Tree) Clone() *Tree {
	if t == nil {
		return nil
	}
	out := &Tree{
		Categories: make([]*Category, 0, len(t.Categories)),
		Extra:      cloneMap(t.Extra),
	}
	for _, c := range t.Categories {
		out.Categories = append(out.Categories, c.clone())
	}
	return out
}

func (c *Category) clone() *Category {
	cc := &Category{
		ID:       c.ID,
		Name:     c.Name,
		Children: make([]*Subcategory, 0, len(c.Children)),
		Extra:    cloneMap(c.Extra),
	}
	for _, s := range c.Children {
		cc.Children = append(cc.Children, &Subcategory{ID: s.ID, Name: s.Name, Extra: cloneMap(s.Extra)})
	}
	return cc
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return cloneMap(vv)
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
