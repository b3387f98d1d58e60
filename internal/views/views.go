// Package views turns tree and item data into the shapes the UI renders:
// the navigation sidebar and item lists grouped by subcategory.
package views

import (
	"net/url"
	"sync"

	"labstock/internal/models"
	"labstock/internal/tree"
)

// UncategorizedID labels the group of items whose category matches no
// subcategory in the tree.
const UncategorizedID = "uncategorized"

type NavSection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Href string `json:"href"`
}

type NavCategory struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Sections []NavSection `json:"sections"`
}

// BuildSidebar lists categories and their subcategories in tree order, each
// subcategory linking to its filtered item list.
func BuildSidebar(catalog string, t *tree.Tree) []NavCategory {
	nav := make([]NavCategory, 0, len(t.Categories))
	for _, c := range t.Categories {
		nc := NavCategory{ID: c.ID, Name: c.Name, Sections: make([]NavSection, 0, len(c.Children))}
		for _, s := range c.Children {
			nc.Sections = append(nc.Sections, NavSection{
				ID:   s.ID,
				Name: s.Name,
				Href: "/v1/catalogs/" + url.PathEscape(catalog) + "/items?category=" + url.QueryEscape(s.ID),
			})
		}
		nav = append(nav, nc)
	}
	return nav
}

type ItemGroup struct {
	CategoryID      string        `json:"categoryId,omitempty"`
	CategoryName    string        `json:"categoryName,omitempty"`
	SubcategoryID   string        `json:"subcategoryId"`
	SubcategoryName string        `json:"subcategoryName"`
	Items           []models.Item `json:"items"`
}

// GroupItems files items under their subcategory in tree order. Empty
// subcategories are kept. Items with a missing or unknown category land in a
// trailing uncategorized group, which is omitted when empty.
func GroupItems(t *tree.Tree, items []models.Item) []ItemGroup {
	groups := make([]ItemGroup, 0)
	index := make(map[string]int)
	for _, c := range t.Categories {
		for _, s := range c.Children {
			index[s.ID] = len(groups)
			groups = append(groups, ItemGroup{
				CategoryID:      c.ID,
				CategoryName:    c.Name,
				SubcategoryID:   s.ID,
				SubcategoryName: s.Name,
				Items:           []models.Item{},
			})
		}
	}

	var loose []models.Item
	for _, item := range items {
		if i, ok := index[item.Category]; ok {
			groups[i].Items = append(groups[i].Items, item)
			continue
		}
		loose = append(loose, item)
	}
	if len(loose) > 0 {
		groups = append(groups, ItemGroup{
			SubcategoryID:   UncategorizedID,
			SubcategoryName: "Uncategorized",
			Items:           loose,
		})
	}
	return groups
}

// Preview keeps the sidebar of the most recently rendered tree. It is used
// as the editor's renderer so clients can show the working copy as it would
// appear once saved.
type Preview struct {
	catalog string

	mu  sync.RWMutex
	nav []NavCategory
}

func NewPreview(catalog string) *Preview {
	return &Preview{catalog: catalog}
}

func (p *Preview) RenderTree(t *tree.Tree) {
	nav := BuildSidebar(p.catalog, t)
	p.mu.Lock()
	p.nav = nav
	p.mu.Unlock()
}

// Latest returns the last rendered sidebar, or nil before the first render.
func (p *Preview) Latest() []NavCategory {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nav
}
