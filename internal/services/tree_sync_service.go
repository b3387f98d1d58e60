package services

import (
	"context"
	"sync"
	"time"

	"labstock/internal/caching"
	apperrors "labstock/internal/errors"
	"labstock/internal/logger"
	"labstock/internal/repositories"
	"labstock/internal/seed"
	"labstock/internal/tree"

	"go.uber.org/zap"
)

const seedFlagField = "isSeeded"

// TreeSynchronizer moves one catalog's tree between memory and the store.
type TreeSynchronizer interface {
	// LoadTree always returns a usable tree. A non-nil error means the store
	// could not be read and the tree is the built-in default.
	LoadTree(ctx context.Context) (*tree.Tree, error)
	// SaveTree replaces the stored tree. Saves for one tree never overlap.
	SaveTree(ctx context.Context, t *tree.Tree) error
	Catalog() Catalog
}

type treeSynchronizer struct {
	store    repositories.DocumentStore
	cache    caching.CacheService
	catalog  Catalog
	defaults seed.TreeDef
	timeout  time.Duration

	saveMu sync.Mutex
	log    *zap.SugaredLogger
}

// NewTreeSynchronizer wires a synchronizer. cache may be nil, in which case
// saves are only sequenced within this process.
func NewTreeSynchronizer(store repositories.DocumentStore, cache caching.CacheService, catalog Catalog, defaults seed.TreeDef, timeout time.Duration) TreeSynchronizer {
	return &treeSynchronizer{
		store:    store,
		cache:    cache,
		catalog:  catalog,
		defaults: defaults,
		timeout:  timeout,
		log:      logger.Named("tree-sync").With("catalog", catalog.Name),
	}
}

func (s *treeSynchronizer) Catalog() Catalog {
	return s.catalog
}

func (s *treeSynchronizer) LoadTree(ctx context.Context) (*tree.Tree, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	doc, err := s.store.GetDocument(storeCtx, s.catalog.TreePath)
	if err != nil {
		s.log.Warnw("Failed to read tree, using defaults", "path", s.catalog.TreePath, "error", err)
		return s.fallback(), apperrors.FromStore(err)
	}
	if doc != nil {
		t, err := tree.Deserialize(doc)
		if err != nil {
			s.log.Errorw("Stored tree is malformed, using defaults", "path", s.catalog.TreePath, "error", err)
			return s.fallback(), err
		}
		return t, nil
	}

	t, err := s.seed(ctx)
	if err != nil {
		s.log.Warnw("Failed to seed tree, using defaults", "path", s.catalog.TreePath, "error", err)
		return s.fallback(), apperrors.FromStore(err)
	}
	return t, nil
}

// seed writes the default tree and the seed flag in one atomic unit. If
// another loader seeded first, its tree is returned and nothing is written.
func (s *treeSynchronizer) seed(ctx context.Context) (*tree.Tree, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var result *tree.Tree
	err := s.store.RunAtomic(storeCtx, func(tx repositories.Tx) error {
		flag, err := tx.Get(storeCtx, s.catalog.SeedFlagPath)
		if err != nil {
			return err
		}
		existing, err := tx.Get(storeCtx, s.catalog.TreePath)
		if err != nil {
			return err
		}
		if existing != nil {
			result, err = tree.Deserialize(existing)
			return err
		}
		if seeded, _ := flag[seedFlagField].(bool); seeded {
			s.log.Warnw("Seed flag set but tree document missing, re-seeding", "path", s.catalog.TreePath)
		}

		t, err := s.defaults.Build()
		if err != nil {
			return err
		}
		if err := tx.Set(storeCtx, s.catalog.TreePath, t.Serialize()); err != nil {
			return err
		}
		if err := tx.Set(storeCtx, s.catalog.SeedFlagPath, map[string]any{
			seedFlagField: true,
			"seededAt":    time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
		s.log.Infow("Seeded default tree", "path", s.catalog.TreePath)
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *treeSynchronizer) fallback() *tree.Tree {
	t, err := s.defaults.Build()
	if err != nil {
		s.log.Errorw("Built-in defaults are invalid", "error", err)
		return tree.New()
	}
	return t
}

func (s *treeSynchronizer) SaveTree(ctx context.Context, t *tree.Tree) error {
	if t == nil {
		return apperrors.WithMessage(apperrors.ErrInvalidTree, "tree is nil")
	}
	if err := t.Validate(); err != nil {
		return err
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if s.cache != nil {
		release, acquired, err := s.cache.AcquireLock(ctx, s.catalog.TreePath, 2*s.timeout)
		switch {
		case err != nil:
			s.log.Warnw("Save lock unavailable, saving without it", "error", err)
		case !acquired:
			s.log.Warnw("Another instance is saving this tree", "path", s.catalog.TreePath)
			return apperrors.ErrConcurrentOverwriteRisk
		default:
			defer func() {
				if err := release(context.Background()); err != nil {
					s.log.Warnw("Failed to release save lock", "error", err)
				}
			}()
		}
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.SetDocument(storeCtx, s.catalog.TreePath, t.Serialize()); err != nil {
		s.log.Errorw("Failed to save tree", "path", s.catalog.TreePath, "error", err)
		return apperrors.FromStore(err)
	}
	s.log.Infow("Saved tree", "path", s.catalog.TreePath)
	return nil
}
