package services

import (
	"context"
	"fmt"
	"time"

	"labstock/internal/caching"
	"labstock/internal/repositories"
	"labstock/internal/seed"
)

// Catalog names one category tree and the item collection filed under it.
type Catalog struct {
	Name            string
	TreePath        string
	SeedFlagPath    string
	ItemsCollection string
}

// DefaultCatalogs returns the materials inventory and the project tracker.
func DefaultCatalogs() []Catalog {
	return []Catalog{
		{
			Name:            seed.Materials,
			TreePath:        "materials/data",
			SeedFlagPath:    "metadata/materials_seed",
			ItemsCollection: "lab-items",
		},
		{
			Name:            seed.Projects,
			TreePath:        "projects/data",
			SeedFlagPath:    "metadata/projects_seed",
			ItemsCollection: "project-entries",
		},
	}
}

// FindCatalog looks a catalog up by name.
func FindCatalog(catalogs []Catalog, name string) (Catalog, error) {
	for _, c := range catalogs {
		if c.Name == name {
			return c, nil
		}
	}
	return Catalog{}, fmt.Errorf("unknown catalog %q", name)
}

// CatalogServices bundles the services serving one catalog.
type CatalogServices struct {
	Catalog Catalog
	// Label is the display name from the catalog's defaults.
	Label        string
	Synchronizer TreeSynchronizer
	Items        ItemService
	Editor       *EditorSession
}

// CatalogDeps are the backends shared by every catalog. Blobs and Cache may
// be nil.
type CatalogDeps struct {
	Store   repositories.DocumentStore
	Blobs   BlobStore
	Cache   caching.CacheService
	Timeout time.Duration
}

// OpenCatalog loads the catalog tree, seeding it on first use, and starts an
// idle editor session over it. A failed load still yields a session, over
// the fallback tree, together with the load error.
func OpenCatalog(ctx context.Context, deps CatalogDeps, catalog Catalog, defaults seed.TreeDef, renderer TreeRenderer) (*CatalogServices, error) {
	synchronizer := NewTreeSynchronizer(deps.Store, deps.Cache, catalog, defaults, deps.Timeout)
	t, err := synchronizer.LoadTree(ctx)
	editor := NewEditorSession(synchronizer, t, renderer)
	if err != nil {
		editor.markFallback(err)
	}
	label := defaults.Label
	if label == "" {
		label = catalog.Name
	}
	return &CatalogServices{
		Catalog:      catalog,
		Label:        label,
		Synchronizer: synchronizer,
		Items:        NewItemService(deps.Store, deps.Blobs, deps.Cache, catalog.ItemsCollection, deps.Timeout),
		Editor:       editor,
	}, err
}
