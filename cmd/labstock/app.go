package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"labstock/internal/caching"
	"labstock/internal/config"
	"labstock/internal/logger"
	"labstock/internal/repositories"
	"labstock/internal/seed"
	"labstock/internal/services"
	"labstock/pkg/database"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

// App holds the flags and the backends shared by every command.
type App struct {
	Memory bool
	Pretty bool

	cfg      *config.Config
	pool     *pgxpool.Pool
	store    repositories.DocumentStore
	cache    caching.CacheService
	defaults seed.Defaults
	catalogs []services.Catalog
	closed   bool
}

func NewApp() *App {
	return &App{catalogs: services.DefaultCatalogs()}
}

// Execute runs cmd and releases the backends however it ends. cobra skips
// post-run hooks when a command fails, so cleanup lives here.
func (a *App) Execute(cmd *cobra.Command) error {
	defer a.close()
	return cmd.Execute()
}

// Command builds the root command bound to a.
func (a *App) Command() *cobra.Command {
	app := a
	cmd := &cobra.Command{
		Use:          "labstock",
		Short:        "Lab inventory and project tracker",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Run the HTTP API and background jobs
  labstock serve

  # Print the materials tree
  labstock tree materials --pretty

  # List items filed under one subcategory
  labstock items materials --category optical-consumables
`),
	}

	cmd.PersistentFlags().BoolVar(&app.Memory, "memory", false, "use an in-process document store instead of Postgres (no cache, no image storage)")
	cmd.PersistentFlags().BoolVar(&app.Pretty, "pretty", false, "indent JSON output")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return app.setup(cmd.Context())
	}

	cmd.AddCommand(
		newServeCmd(app),
		newTreeCmd(app),
		newItemsCmd(app),
		newMigrateCategoriesCmd(app),
	)
	return cmd
}

// setup loads configuration and connects the document store and cache.
func (a *App) setup(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg
	logger.Init(cfg.Env)

	a.defaults, err = seed.Load(cfg.SeedFile)
	if err != nil {
		return err
	}

	if a.Memory {
		a.store = repositories.NewMemoryDocumentStore()
		return nil
	}

	pool, err := database.NewPool(ctx, cfg.DatabaseURL, cfg.StoreTimeout)
	if err != nil {
		return err
	}
	store := repositories.NewPostgresDocumentStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to prepare schema: %w", err)
	}
	a.pool = pool
	a.store = store
	a.cache = caching.NewRedisCacheService(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	return nil
}

func (a *App) close() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	logger.Sync()
	a.closed = true
}

// deps returns the backends for catalog services. blobs may be nil.
func (a *App) deps(blobs services.BlobStore) services.CatalogDeps {
	return services.CatalogDeps{
		Store:   a.store,
		Blobs:   blobs,
		Cache:   a.cache,
		Timeout: a.cfg.StoreTimeout,
	}
}

func (a *App) catalog(name string) (services.Catalog, seed.TreeDef, error) {
	c, err := services.FindCatalog(a.catalogs, name)
	if err != nil {
		return services.Catalog{}, seed.TreeDef{}, err
	}
	def, ok := a.defaults[c.Name]
	if !ok {
		return services.Catalog{}, seed.TreeDef{}, fmt.Errorf("no default tree for catalog %q", c.Name)
	}
	return c, def, nil
}

func (a *App) writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if a.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func catalogArg(a *App) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(1)(cmd, args); err != nil {
			return err
		}
		_, err := services.FindCatalog(a.catalogs, args[0])
		return err
	}
}
