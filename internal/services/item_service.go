package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"labstock/internal/caching"
	apperrors "labstock/internal/errors"
	"labstock/internal/logger"
	"labstock/internal/models"
	"labstock/internal/repositories"
	"labstock/internal/tree"
	"labstock/internal/validator"

	"go.uber.org/zap"
)

const (
	itemListCacheTTL = 5 * time.Minute
	// Uploads move whole files, so they get several store timeouts.
	uploadTimeoutFactor = 6
)

type ItemService interface {
	// FetchItems returns every item for an empty or "all" filter, otherwise
	// only items whose category equals the filter. Sorted by name, then id.
	FetchItems(ctx context.Context, filter string) ([]models.Item, error)
	// AddItem uploads the image first, if any; no record is created when the
	// upload fails.
	AddItem(ctx context.Context, input models.ItemInput, image *models.ImageUpload) (*models.Item, error)
	UpdateItem(ctx context.Context, id string, patch models.ItemPatch) error
	DeleteItem(ctx context.Context, id string) error

	// MigrateLegacyCategories rewrites items whose category holds a
	// subcategory display name to that subcategory's id.
	MigrateLegacyCategories(ctx context.Context, t *tree.Tree) (int, error)
	// OrphanedItems lists items whose category matches no subcategory in t.
	OrphanedItems(ctx context.Context, t *tree.Tree) ([]models.Item, error)
}

type itemService struct {
	store      repositories.DocumentStore
	blobs      BlobStore
	cache      caching.CacheService
	collection string
	timeout    time.Duration
	log        *zap.SugaredLogger
}

// NewItemService wires an item service for one collection. blobs and cache
// may be nil.
func NewItemService(store repositories.DocumentStore, blobs BlobStore, cache caching.CacheService, collection string, timeout time.Duration) ItemService {
	return &itemService{
		store:      store,
		blobs:      blobs,
		cache:      cache,
		collection: collection,
		timeout:    timeout,
		log:        logger.Named("items").With("collection", collection),
	}
}

func isAllFilter(filter string) bool {
	filter = strings.TrimSpace(filter)
	return filter == "" || filter == models.ItemFilterAll
}

func (s *itemService) FetchItems(ctx context.Context, filter string) ([]models.Item, error) {
	filter = strings.TrimSpace(filter)
	if isAllFilter(filter) {
		filter = models.ItemFilterAll
	}

	version, cached := s.listVersion(ctx)
	if cached {
		if items, err := s.cache.GetItems(ctx, s.collection, version, filter); items != nil {
			return items, nil
		} else if err != nil {
			s.log.Warnw("Item cache read failed", "filter", filter, "error", err)
		}
	}

	items, err := s.queryItems(ctx, filter)
	if err != nil {
		return nil, err
	}

	// Filled under the version read before the query. A write that landed in
	// between has already bumped it, so this list is never served.
	if cached {
		if err := s.cache.SetItems(ctx, s.collection, version, filter, items, itemListCacheTTL); err != nil {
			s.log.Warnw("Failed to cache item list", "filter", filter, "error", err)
		}
	}
	return items, nil
}

// listVersion reports the cache version to read and fill under, and whether
// the cache is usable at all.
func (s *itemService) listVersion(ctx context.Context) (int64, bool) {
	if s.cache == nil {
		return 0, false
	}
	version, err := s.cache.ItemsVersion(ctx, s.collection)
	if err != nil {
		s.log.Warnw("Item cache version read failed, bypassing cache", "error", err)
		return 0, false
	}
	return version, true
}

func (s *itemService) queryItems(ctx context.Context, filter string) ([]models.Item, error) {
	var f *repositories.Filter
	if !isAllFilter(filter) {
		f = &repositories.Filter{Field: models.ItemFieldCategory, Value: filter}
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	docs, err := s.store.QueryCollection(storeCtx, s.collection, f)
	if err != nil {
		s.log.Errorw("Failed to query items", "filter", filter, "error", err)
		return nil, apperrors.FromStore(err)
	}

	items := make([]models.Item, 0, len(docs))
	for _, d := range docs {
		item := models.ItemFromDocument(d.ID, d.Data)
		if item.CreatedAt.IsZero() {
			item.CreatedAt = d.CreatedAt
		}
		items = append(items, item)
	}
	sortItems(items)
	return items, nil
}

func sortItems(items []models.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := strings.ToLower(items[i].Name), strings.ToLower(items[j].Name)
		if a != b {
			return a < b
		}
		return items[i].ID < items[j].ID
	})
}

func validationError(err error) error {
	details := validator.Describe(err)
	parts := make([]string, 0, len(details))
	for field, rule := range details {
		parts = append(parts, field+" failed "+rule)
	}
	sort.Strings(parts)
	msg := "Validation failed"
	if len(parts) > 0 {
		msg += ": " + strings.Join(parts, ", ")
	}
	appErr := apperrors.WithMessage(apperrors.ErrValidation, msg)
	appErr.Internal = err
	return appErr
}

func (s *itemService) AddItem(ctx context.Context, input models.ItemInput, image *models.ImageUpload) (*models.Item, error) {
	if err := validator.Struct(input); err != nil {
		return nil, validationError(err)
	}

	var imageURL string
	if image != nil {
		if s.blobs == nil {
			return nil, apperrors.WithMessage(apperrors.ErrValidation, "Image uploads are not configured")
		}
		uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeoutFactor*s.timeout)
		url, err := s.blobs.Upload(uploadCtx, image.Filename, image.Reader, image.Size, image.ContentType)
		cancel()
		if err != nil {
			s.log.Errorw("Image upload failed, item not created", "name", input.Name, "error", err)
			return nil, apperrors.Wrap(apperrors.ErrImageUpload, err)
		}
		imageURL = url
	}

	doc := input.Document(imageURL)
	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	created, err := s.store.AddDocument(storeCtx, s.collection, doc)
	if err != nil {
		s.log.Errorw("Failed to add item", "name", input.Name, "error", err)
		if imageURL != "" {
			s.discardImage(imageURL)
		}
		return nil, apperrors.FromStore(err)
	}
	s.invalidate(ctx)

	item := models.ItemFromDocument(created.ID, created.Data)
	item.CreatedAt = created.CreatedAt
	return &item, nil
}

// discardImage removes an uploaded image whose record could not be written.
func (s *itemService) discardImage(imageURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.blobs.Delete(ctx, imageURL); err != nil {
		s.log.Warnw("Failed to remove orphaned image", "url", imageURL, "error", err)
	}
}

func (s *itemService) UpdateItem(ctx context.Context, id string, patch models.ItemPatch) error {
	if strings.TrimSpace(id) == "" {
		return apperrors.WithMessage(apperrors.ErrValidation, "Item id is required")
	}
	if err := validator.Struct(patch); err != nil {
		return validationError(err)
	}
	if patch.IsEmpty() {
		return apperrors.WithMessage(apperrors.ErrValidation, "Nothing to update")
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.UpdateDocument(storeCtx, s.collection, id, patch.Fields()); err != nil {
		return s.writeError("update", id, err)
	}
	s.invalidate(ctx)
	return nil
}

func (s *itemService) DeleteItem(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return apperrors.WithMessage(apperrors.ErrValidation, "Item id is required")
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.DeleteDocument(storeCtx, s.collection, id); err != nil {
		return s.writeError("delete", id, err)
	}
	s.invalidate(ctx)
	return nil
}

func (s *itemService) writeError(op, id string, err error) error {
	if errors.Is(err, repositories.ErrDocumentNotFound) {
		return apperrors.WithMessage(apperrors.ErrNotFound, "Item "+id+" not found")
	}
	s.log.Errorw("Item write failed", "op", op, "id", id, "error", err)
	return apperrors.FromStore(err)
}

func (s *itemService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateItems(ctx, s.collection); err != nil {
		s.log.Warnw("Failed to invalidate item cache", "error", err)
	}
}

func (s *itemService) MigrateLegacyCategories(ctx context.Context, t *tree.Tree) (int, error) {
	byName := make(map[string]string)
	ambiguous := make(map[string]bool)
	for _, c := range t.Categories {
		for _, sub := range c.Children {
			key := strings.ToLower(strings.TrimSpace(sub.Name))
			if _, dup := byName[key]; dup {
				ambiguous[key] = true
				continue
			}
			byName[key] = sub.ID
		}
	}

	items, err := s.queryItems(ctx, models.ItemFilterAll)
	if err != nil {
		return 0, err
	}

	migrated := 0
	for _, item := range items {
		if item.Category == "" || t.HasSubcategory(item.Category) {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(item.Category))
		if ambiguous[key] {
			s.log.Warnw("Category name matches several subcategories, leaving item", "id", item.ID, "category", item.Category)
			continue
		}
		id, ok := byName[key]
		if !ok {
			continue
		}

		storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.store.UpdateDocument(storeCtx, s.collection, item.ID, map[string]any{models.ItemFieldCategory: id})
		cancel()
		if err != nil {
			if migrated > 0 {
				s.invalidate(ctx)
			}
			return migrated, s.writeError("migrate", item.ID, err)
		}
		migrated++
	}

	if migrated > 0 {
		s.invalidate(ctx)
		s.log.Infow("Migrated legacy item categories", "count", migrated)
	}
	return migrated, nil
}

func (s *itemService) OrphanedItems(ctx context.Context, t *tree.Tree) ([]models.Item, error) {
	items, err := s.queryItems(ctx, models.ItemFilterAll)
	if err != nil {
		return nil, err
	}
	orphans := make([]models.Item, 0)
	for _, item := range items {
		if !t.HasSubcategory(item.Category) {
			orphans = append(orphans, item)
		}
	}
	return orphans, nil
}
