package main

import (
	"fmt"

	"labstock/internal/models"
	"labstock/internal/services"

	"github.com/spf13/cobra"
)

func newTreeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "tree <catalog>",
		Short: "Print a catalog's category tree as JSON",
		Long:  "Loads the tree the way the server does, seeding an empty store with the defaults. When the store cannot be read the defaults are printed and a warning goes to stderr.",
		Args:  catalogArg(app),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, def, err := app.catalog(args[0])
			if err != nil {
				return err
			}
			synchronizer := services.NewTreeSynchronizer(app.store, app.cache, catalog, def, app.cfg.StoreTimeout)
			t, err := synchronizer.LoadTree(cmd.Context())
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: showing default tree: %v\n", err)
			}
			return app.writeJSON(cmd.OutOrStdout(), t)
		},
	}
}

func newItemsCmd(app *App) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "items <catalog>",
		Short: "List a catalog's items as JSON",
		Args:  catalogArg(app),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, _, err := app.catalog(args[0])
			if err != nil {
				return err
			}
			items := services.NewItemService(app.store, nil, app.cache, catalog.ItemsCollection, app.cfg.StoreTimeout)
			list, err := items.FetchItems(cmd.Context(), category)
			if err != nil {
				return err
			}
			return app.writeJSON(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().StringVar(&category, "category", models.ItemFilterAll, "subcategory id to filter by")
	return cmd
}

func newMigrateCategoriesCmd(app *App) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate-categories <catalog>",
		Short: "Rewrite items that reference a subcategory by name to reference it by id",
		Args:  catalogArg(app),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, def, err := app.catalog(args[0])
			if err != nil {
				return err
			}
			synchronizer := services.NewTreeSynchronizer(app.store, app.cache, catalog, def, app.cfg.StoreTimeout)
			t, err := synchronizer.LoadTree(cmd.Context())
			if err != nil {
				// Never migrate against the fallback tree.
				return fmt.Errorf("cannot load tree: %w", err)
			}
			items := services.NewItemService(app.store, nil, app.cache, catalog.ItemsCollection, app.cfg.StoreTimeout)

			if dryRun {
				orphans, err := items.OrphanedItems(cmd.Context(), t)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d items reference no subcategory id\n", len(orphans))
				return nil
			}

			n, err := items.MigrateLegacyCategories(cmd.Context(), t)
			if err != nil {
				return fmt.Errorf("migrated %d items before failing: %w", n, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d items\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only count items that would be examined")
	return cmd
}
